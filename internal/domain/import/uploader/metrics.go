package uploader

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the Prometheus collectors of the import pipeline
type Metrics struct {
	Chunks        *prometheus.CounterVec
	RowsImported  *prometheus.CounterVec
	RowsRejected  *prometheus.CounterVec
	ChunkDuration *prometheus.HistogramVec
	Runs          *prometheus.CounterVec
}

// NewMetrics registers the import collectors with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Chunks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tenoris_import",
			Name:      "chunks_total",
			Help:      "Import chunks sent to the backend, by outcome.",
		}, []string{"entity", "outcome"}),
		RowsImported: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tenoris_import",
			Name:      "rows_imported_total",
			Help:      "Rows the backend reported as imported.",
		}, []string{"entity"}),
		RowsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tenoris_import",
			Name:      "rows_rejected_total",
			Help:      "Rows dropped before upload because their transform failed.",
		}, []string{"entity"}),
		ChunkDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tenoris_import",
			Name:      "chunk_duration_seconds",
			Help:      "Time spent sending one chunk, retries included.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"entity"}),
		Runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tenoris_import",
			Name:      "runs_total",
			Help:      "Upload runs, by final state.",
		}, []string{"entity", "state"}),
	}
}
