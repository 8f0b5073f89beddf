// Package uploader sends a batch of encoded rows to the backend in chunks and
// keeps a checkpoint of the rows still to import after every chunk, so a
// failed or interrupted import can be resumed.
package uploader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/FACorreiaa/tenoris360-importer/internal/domain/import/checkpoint"
	"github.com/FACorreiaa/tenoris360-importer/internal/domain/import/client"
	"github.com/FACorreiaa/tenoris360-importer/internal/domain/import/schema"
)

// State is the state of the upload state machine
type State string

const (
	StateIdle      State = "idle"
	StateImporting State = "importing"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateResuming  State = "resuming"
)

var (
	ErrPartialImport   = errors.New("some chunks failed to import")
	ErrAllChunksFailed = errors.New("no chunk was imported")
	ErrInterrupted     = errors.New("import interrupted")
	ErrNoRows          = errors.New("nothing to import")
	ErrBusy            = errors.New("an import is already running")
)

// Importer sends one chunk to the backend and returns the imported count
type Importer interface {
	ImportChunk(ctx context.Context, entity schema.EntityType, rows []json.RawMessage) (int, error)
}

// Config sizes chunks and bounds concurrency
type Config struct {
	ChunkSize            int
	TransactionChunkSize int
	// Concurrency is the number of simultaneous chunk requests for
	// transactions; other entity types are always sent one chunk at a time.
	Concurrency int
}

// DefaultConfig returns 50-row chunks, 100 for transactions, 3 in flight
func DefaultConfig() Config {
	return Config{ChunkSize: 50, TransactionChunkSize: 100, Concurrency: 3}
}

func (c Config) chunkSize(entity schema.EntityType) int {
	if entity == schema.EntityTransaction && c.TransactionChunkSize > 0 {
		return c.TransactionChunkSize
	}
	if c.ChunkSize > 0 {
		return c.ChunkSize
	}
	return 50
}

func (c Config) concurrency(entity schema.EntityType) int {
	if entity == schema.EntityTransaction && c.Concurrency > 1 {
		return c.Concurrency
	}
	return 1
}

// Progress is reported after every settled chunk
type Progress struct {
	Percent       float64 // settled chunks over total chunks
	SettledChunks int
	TotalChunks   int
	Imported      int
}

// ProgressFunc receives progress updates; calls never overlap
type ProgressFunc func(Progress)

// ChunkError is the failure of one chunk
type ChunkError struct {
	Index int // 0-based chunk index
	Rows  int
	Err   error
}

func (e ChunkError) Error() string {
	return fmt.Sprintf("chunk %d (%d rows): %v", e.Index+1, e.Rows, e.Err)
}

func (e ChunkError) Unwrap() error {
	return e.Err
}

// Result summarizes an upload run
type Result struct {
	RunID        string
	Entity       schema.EntityType
	State        State
	TotalRows    int
	Imported     int
	TotalChunks  int
	FailedChunks []ChunkError
	// Remaining is the number of rows left in the checkpoint
	Remaining int
	// Progress is the checkpoint progress when the run ended
	Progress float64
}

// Uploader runs chunked, resumable uploads
type Uploader struct {
	importer Importer
	store    checkpoint.Store
	cfg      Config
	logger   *slog.Logger
	metrics  *Metrics
	tracer   trace.Tracer
	now      func() time.Time

	mu    sync.Mutex
	state State
}

// New creates an uploader persisting checkpoints in store
func New(importer Importer, store checkpoint.Store, cfg Config, logger *slog.Logger) *Uploader {
	return &Uploader{
		importer: importer,
		store:    store,
		cfg:      cfg,
		logger:   logger,
		tracer:   otel.Tracer("tenoris360/import/uploader"),
		now:      time.Now,
		state:    StateIdle,
	}
}

// WithMetrics records chunk and row counters in m
func (u *Uploader) WithMetrics(m *Metrics) *Uploader {
	u.metrics = m
	return u
}

// WithClock replaces the time source used for checkpoint timestamps
func (u *Uploader) WithClock(now func() time.Time) *Uploader {
	u.now = now
	return u
}

// State returns the current state
func (u *Uploader) State() State {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

func (u *Uploader) transition(from []State, to State) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, s := range from {
		if u.state == s {
			u.state = to
			return nil
		}
	}
	if u.state == StateImporting || u.state == StateResuming {
		return ErrBusy
	}
	return fmt.Errorf("cannot move from %s to %s", u.state, to)
}

func (u *Uploader) setState(s State) {
	u.mu.Lock()
	u.state = s
	u.mu.Unlock()
}

// Run uploads rows for entity from the start
func (u *Uploader) Run(ctx context.Context, entity schema.EntityType, rows []json.RawMessage, onProgress ProgressFunc) (*Result, error) {
	if len(rows) == 0 {
		return nil, ErrNoRows
	}
	if err := u.transition([]State{StateIdle, StateCompleted, StateFailed}, StateImporting); err != nil {
		return nil, err
	}
	return u.run(ctx, entity, rows, 0, onProgress)
}

// Resume uploads the remaining rows of cp, using its progress as baseline.
// An empty checkpoint is simply deleted.
func (u *Uploader) Resume(ctx context.Context, cp *checkpoint.Checkpoint, onProgress ProgressFunc) (*Result, error) {
	if err := u.transition([]State{StateIdle, StateCompleted, StateFailed}, StateResuming); err != nil {
		return nil, err
	}

	u.logger.Info("resuming import",
		slog.String("entity", string(cp.EntityType)),
		slog.Int("rows", cp.Remaining()),
		slog.Float64("progress", cp.Progress))

	if cp.Remaining() == 0 {
		if err := u.store.Delete(ctx, cp.EntityType); err != nil {
			u.setState(StateFailed)
			return nil, err
		}
		u.setState(StateCompleted)
		return &Result{Entity: cp.EntityType, State: StateCompleted, Progress: 100}, nil
	}

	u.setState(StateImporting)
	return u.run(ctx, cp.EntityType, cp.Data, cp.Progress, onProgress)
}

func (u *Uploader) run(ctx context.Context, entity schema.EntityType, rows []json.RawMessage, baseline float64, onProgress ProgressFunc) (*Result, error) {
	runID := uuid.NewString()
	chunks := split(rows, u.cfg.chunkSize(entity))

	ctx, span := u.tracer.Start(ctx, "uploader.Run", trace.WithAttributes(
		attribute.String("run_id", runID),
		attribute.String("entity", string(entity)),
		attribute.Int("rows", len(rows)),
		attribute.Int("chunks", len(chunks)),
	))
	defer span.End()

	logger := u.logger.With(slog.String("run_id", runID), slog.String("entity", string(entity)))
	logger.Info("starting import",
		slog.Int("rows", len(rows)),
		slog.Int("chunks", len(chunks)),
		slog.Float64("baseline", baseline))

	if err := u.store.Save(ctx, checkpoint.New(entity, rows, baseline, u.now())); err != nil {
		u.finish(entity, StateFailed)
		return nil, fmt.Errorf("failed to write initial checkpoint: %w", err)
	}

	t := &tracker{
		u:          u,
		entity:     entity,
		chunks:     chunks,
		succeeded:  make([]bool, len(chunks)),
		baseline:   baseline,
		progress:   baseline,
		onProgress: onProgress,
		logger:     logger,
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g := new(errgroup.Group)
	g.SetLimit(u.cfg.concurrency(entity))

	for i, chunk := range chunks {
		if runCtx.Err() != nil {
			break
		}
		g.Go(func() error {
			if runCtx.Err() != nil {
				t.settle(ctx, i, 0, runCtx.Err())
				return nil
			}

			start := time.Now()
			n, err := u.importer.ImportChunk(runCtx, entity, chunk)
			if u.metrics != nil {
				u.metrics.ChunkDuration.WithLabelValues(string(entity)).Observe(time.Since(start).Seconds())
			}

			if err != nil && (errors.Is(err, client.ErrUnauthorized) || runCtx.Err() != nil) {
				if t.interrupt(err) {
					cancel()
				}
			}
			t.settle(ctx, i, n, err)
			return nil
		})
	}
	_ = g.Wait()

	result := t.result(runID, len(rows))

	if t.fatal != nil || ctx.Err() != nil {
		cause := t.fatal
		if cause == nil {
			cause = ctx.Err()
		}
		span.RecordError(cause)
		result.State = StateFailed
		u.finish(entity, StateFailed)
		logger.Warn("import interrupted, checkpoint kept",
			slog.Int("imported", result.Imported),
			slog.Int("remaining", result.Remaining),
			slog.Any("error", cause))
		return result, fmt.Errorf("%w: %w", ErrInterrupted, cause)
	}

	if len(result.FailedChunks) == 0 {
		if err := u.store.Delete(context.WithoutCancel(ctx), entity); err != nil {
			logger.Error("failed to delete checkpoint after import", slog.Any("error", err))
		}
		result.State = StateCompleted
		result.Progress = 100
		result.Remaining = 0
		u.finish(entity, StateCompleted)
		logger.Info("import completed", slog.Int("imported", result.Imported))
		return result, nil
	}

	result.State = StateFailed
	u.finish(entity, StateFailed)
	logger.Warn("import finished with failed chunks",
		slog.Int("imported", result.Imported),
		slog.Int("failed_chunks", len(result.FailedChunks)),
		slog.Int("remaining", result.Remaining))

	sentinel := ErrPartialImport
	if result.Imported == 0 {
		sentinel = ErrAllChunksFailed
	}
	return result, fmt.Errorf("%w: %d of %d chunks failed: %w",
		sentinel, len(result.FailedChunks), len(chunks), result.FailedChunks[0])
}

func (u *Uploader) finish(entity schema.EntityType, s State) {
	u.setState(s)
	if u.metrics != nil {
		u.metrics.Runs.WithLabelValues(string(entity), string(s)).Inc()
	}
}

// tracker serializes the accounting of settled chunks
type tracker struct {
	u          *Uploader
	entity     schema.EntityType
	chunks     [][]json.RawMessage
	baseline   float64
	onProgress ProgressFunc
	logger     *slog.Logger

	mu        sync.Mutex
	succeeded []bool
	failed    []ChunkError
	settled   int
	watermark int // leading run of succeeded chunks
	imported  int
	progress  float64
	fatal     error
}

// interrupt records the first fatal error and reports whether it was the first
func (t *tracker) interrupt(err error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fatal != nil {
		return false
	}
	t.fatal = err
	return true
}

func (t *tracker) settle(ctx context.Context, index, imported int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	chunkLen := len(t.chunks[index])
	t.settled++

	outcome := "success"
	if err != nil {
		outcome = "error"
		t.failed = append(t.failed, ChunkError{Index: index, Rows: chunkLen, Err: err})
		t.logger.Warn("chunk failed",
			slog.Int("chunk", index+1),
			slog.Int("rows", chunkLen),
			slog.Any("error", err))
	} else {
		imported = min(max(imported, 0), chunkLen)
		t.imported += imported
		t.succeeded[index] = true
		for t.watermark < len(t.chunks) && t.succeeded[t.watermark] {
			t.watermark++
		}
		if m := t.u.metrics; m != nil {
			m.RowsImported.WithLabelValues(string(t.entity)).Add(float64(imported))
		}
	}
	if m := t.u.metrics; m != nil {
		m.Chunks.WithLabelValues(string(t.entity), outcome).Inc()
	}

	total := len(t.chunks)
	t.progress = t.baseline + (100-t.baseline)*float64(t.watermark)/float64(total)

	if t.watermark < total {
		remaining := flatten(t.chunks[t.watermark:])
		cp := checkpoint.New(t.entity, remaining, t.progress, t.u.now())
		if err := t.u.store.Save(context.WithoutCancel(ctx), cp); err != nil {
			t.logger.Error("failed to update checkpoint", slog.Any("error", err))
		}
	}

	if t.onProgress != nil {
		t.onProgress(Progress{
			Percent:       float64(t.settled) / float64(total) * 100,
			SettledChunks: t.settled,
			TotalChunks:   total,
			Imported:      t.imported,
		})
	}
}

func (t *tracker) result(runID string, totalRows int) *Result {
	t.mu.Lock()
	defer t.mu.Unlock()

	remaining := 0
	for _, chunk := range t.chunks[t.watermark:] {
		remaining += len(chunk)
	}

	failed := append([]ChunkError(nil), t.failed...)
	sortChunkErrors(failed)

	return &Result{
		RunID:        runID,
		Entity:       t.entity,
		TotalRows:    totalRows,
		Imported:     t.imported,
		TotalChunks:  len(t.chunks),
		FailedChunks: failed,
		Remaining:    remaining,
		Progress:     t.progress,
	}
}
