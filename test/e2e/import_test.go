// Package e2etest provides end-to-end tests for import flows against a fake backend.
package e2etest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/FACorreiaa/tenoris360-importer/internal/domain/import/checkpoint"
	"github.com/FACorreiaa/tenoris360-importer/internal/domain/import/client"
	"github.com/FACorreiaa/tenoris360-importer/internal/domain/import/mapping"
	"github.com/FACorreiaa/tenoris360-importer/internal/domain/import/schema"
	"github.com/FACorreiaa/tenoris360-importer/internal/domain/import/service"
	"github.com/FACorreiaa/tenoris360-importer/internal/domain/import/uploader"
	"github.com/FACorreiaa/tenoris360-importer/pkg/storage"
)

const (
	token   = "test-token"
	villaID = "6f1c2b8e-3d4a-4c5b-9e7f-0a1b2c3d4e5f"
)

// backend is a fake Tenoris360 API that records imported transactions
type backend struct {
	mu       sync.Mutex
	received []map[string]any
	// rejectRow makes the chunk holding this description fail with 422
	rejectRow string
}

func (b *backend) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/properties", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]string{{"id": villaID, "name": "Villa Belvedere"}})
	})

	mux.HandleFunc("POST /api/transactions/import", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Data []map[string]any `json:"data"`
		}
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		b.mu.Lock()
		defer b.mu.Unlock()
		for _, row := range req.Data {
			if b.rejectRow != "" && row["description"] == b.rejectRow {
				w.WriteHeader(http.StatusUnprocessableEntity)
				_, _ = io.WriteString(w, `{"error":"invalid row"}`)
				return
			}
		}
		b.received = append(b.received, req.Data...)
		_ = json.NewEncoder(w).Encode(map[string]int{"importedCount": len(req.Data)})
	})

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+token {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		mux.ServeHTTP(w, r)
	})
}

func (b *backend) descriptions() map[string]int {
	b.mu.Lock()
	defer b.mu.Unlock()
	seen := make(map[string]int, len(b.received))
	for _, row := range b.received {
		seen[fmt.Sprint(row["description"])]++
	}
	return seen
}

// workbook builds a statement with a summary sheet and n transactions
func workbook(t *testing.T, n int) *excelize.File {
	t.Helper()
	f := excelize.NewFile()
	require.NoError(t, f.SetSheetName("Sheet1", "Riepilogo"))
	require.NoError(t, f.SetSheetRow("Riepilogo", "A1", &[]any{"Movimenti", n}))

	_, err := f.NewSheet("Movimenti")
	require.NoError(t, err)
	require.NoError(t, f.SetSheetRow("Movimenti", "A1", &[]any{"Data", "Importo", "Descrizione", "Immobile"}))
	for i := range n {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		require.NoError(t, err)
		amount := float64(100 + i)
		if i%2 == 1 {
			amount = -amount
		}
		row := []any{fmt.Sprintf("%02d/03/2024", i%28+1), amount, fmt.Sprintf("Movimento %d", i), "Villa Belvedere"}
		require.NoError(t, f.SetSheetRow("Movimenti", cell, &row))
	}
	return f
}

func newService(t *testing.T, baseURL string) *service.ImportService {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := client.DefaultConfig(baseURL)
	cfg.RatePerSecond = 0
	cfg.RetryBase = time.Millisecond
	api := client.New(cfg, client.StaticToken(token), logger)

	files, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	store := checkpoint.NewStorageStore(files)

	up := uploader.New(api, store, uploader.DefaultConfig(), logger)
	return service.NewImportService(up, checkpoint.NewManager(store, checkpoint.DefaultTTL, logger), nil, logger).
		WithPropertySource(api)
}

func TestTransactionImport_PartialFailureThenResume(t *testing.T) {
	ctx := context.Background()
	be := &backend{rejectRow: "Movimento 150"}
	srv := httptest.NewServer(be.handler(t))
	t.Cleanup(srv.Close)

	svc := newService(t, srv.URL)
	sess, pending, err := svc.Begin(ctx, schema.EntityTransaction)
	require.NoError(t, err)
	require.Nil(t, pending)
	t.Cleanup(func() { _ = sess.Close() })

	buf, err := workbook(t, 237).WriteToBuffer()
	require.NoError(t, err)
	require.NoError(t, sess.LoadFile(ctx, "estratto.xlsx", buf))

	require.Equal(t, service.StepSelectSheet, sess.Step())
	require.Equal(t, "Movimenti", sess.SuggestedSheet())
	require.NoError(t, sess.SelectSheet(sess.SuggestedSheet()))

	for field := range sess.Mapping() {
		require.NoError(t, sess.SetField(field, mapping.Ignore))
	}
	require.NoError(t, sess.SetField(schema.FieldDate, "Data"))
	require.NoError(t, sess.SetField(schema.FieldAmount, "Importo"))
	require.NoError(t, sess.SetField(schema.FieldDescription, "Descrizione"))
	require.NoError(t, sess.SetField(schema.FieldPropertyID, "Immobile"))

	var (
		mu      sync.Mutex
		percent []float64
	)
	result, err := sess.Import(ctx, func(p uploader.Progress) {
		mu.Lock()
		defer mu.Unlock()
		percent = append(percent, p.Percent)
	})

	require.ErrorIs(t, err, uploader.ErrPartialImport)
	assert.Equal(t, 237, result.TotalRows)
	assert.Equal(t, 3, result.TotalChunks)
	assert.Equal(t, 137, result.Imported)
	assert.Equal(t, 137, result.Remaining)
	require.Len(t, result.FailedChunks, 1)
	assert.Equal(t, 1, result.FailedChunks[0].Index)

	var apiErr *client.APIError
	require.ErrorAs(t, result.FailedChunks[0].Err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Equal(t, "invalid row", apiErr.Message)

	require.Len(t, percent, 3)
	assert.IsNonDecreasing(t, percent)
	assert.InDelta(t, 100, percent[2], 0.01)

	be.mu.Lock()
	first := be.received[0]
	be.rejectRow = ""
	be.mu.Unlock()
	assert.Equal(t, villaID, first["property_id"])
	assert.Contains(t, []string{"income", "expense"}, first["type"])
	assert.True(t, strings.HasPrefix(fmt.Sprint(first["date"]), "2024-03-"))

	_, pending, err = svc.Begin(ctx, schema.EntityTransaction)
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, 137, pending.Remaining())
	assert.InDelta(t, 100.0/3, pending.Progress, 0.01)

	resumed, err := svc.Resume(ctx, schema.EntityTransaction, nil)
	require.NoError(t, err)
	assert.Equal(t, 137, resumed.Imported)
	assert.Equal(t, uploader.StateCompleted, resumed.State)

	seen := be.descriptions()
	assert.Len(t, seen, 237)
	// rows after the failed chunk are delivered again on resume
	assert.Equal(t, 2, seen["Movimento 236"])
	assert.Equal(t, 1, seen["Movimento 0"])

	all, err := svc.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestImport_UnauthorizedKeepsCheckpoint(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer((&backend{}).handler(t))
	t.Cleanup(srv.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	api := client.New(client.DefaultConfig(srv.URL), client.StaticToken("expired"), logger)
	files, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	store := checkpoint.NewStorageStore(files)
	svc := service.NewImportService(uploader.New(api, store, uploader.DefaultConfig(), logger),
		checkpoint.NewManager(store, checkpoint.DefaultTTL, logger), nil, logger)

	sess, _, err := svc.Begin(ctx, schema.EntityProperty)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })

	csv := "Nome;Città\nVilla Belvedere;Firenze\nCasa Rossa;Siena\n"
	require.NoError(t, sess.LoadFile(ctx, "immobili.csv", strings.NewReader(csv)))
	require.NoError(t, sess.SetField("name", "Nome"))

	_, err = sess.Import(ctx, nil)

	require.ErrorIs(t, err, uploader.ErrInterrupted)
	assert.ErrorIs(t, err, client.ErrUnauthorized)
	assert.Equal(t, service.StepMapping, sess.Step())

	cp, err := store.Load(ctx, schema.EntityProperty)
	require.NoError(t, err)
	assert.Equal(t, 2, cp.Remaining())
}
