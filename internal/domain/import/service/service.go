// Package service orchestrates the import wizard: it drives a session from file
// upload through sheet selection and column mapping to a chunked upload, and
// offers resume or discard for imports left unfinished.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/FACorreiaa/tenoris360-importer/internal/domain/import/checkpoint"
	"github.com/FACorreiaa/tenoris360-importer/internal/domain/import/mapping"
	"github.com/FACorreiaa/tenoris360-importer/internal/domain/import/normalizer"
	"github.com/FACorreiaa/tenoris360-importer/internal/domain/import/schema"
	"github.com/FACorreiaa/tenoris360-importer/internal/domain/import/uploader"
	"github.com/FACorreiaa/tenoris360-importer/pkg/money"
	"github.com/FACorreiaa/tenoris360-importer/pkg/notify"
)

var (
	ErrSheetSelectionRequired = errors.New("select a worksheet first")
	ErrValidationFailed       = errors.New("column mapping is not valid")
	ErrNoFile                 = errors.New("no file loaded")
	ErrNoCheckpoint           = errors.New("no import to resume")
)

// Uploader sends encoded rows to the backend with checkpointing
type Uploader interface {
	Run(ctx context.Context, entity schema.EntityType, rows []json.RawMessage, onProgress uploader.ProgressFunc) (*uploader.Result, error)
	Resume(ctx context.Context, cp *checkpoint.Checkpoint, onProgress uploader.ProgressFunc) (*uploader.Result, error)
}

// PropertySource lists the properties used to resolve property names
type PropertySource interface {
	ListProperties(ctx context.Context) ([]normalizer.Property, error)
}

// ImportService orchestrates import sessions and pending checkpoints
type ImportService struct {
	uploader    Uploader
	checkpoints *checkpoint.Manager
	mappings    *mapping.SessionStore
	properties  PropertySource
	notifier    notify.Notifier
	metrics     *uploader.Metrics
	dialect     money.Dialect
	currency    string
	logger      *slog.Logger
	now         func() time.Time
}

// NewImportService creates the service
func NewImportService(up Uploader, checkpoints *checkpoint.Manager, notifier notify.Notifier, logger *slog.Logger) *ImportService {
	if notifier == nil {
		notifier = notify.NewLogNotifier(logger)
	}
	return &ImportService{
		uploader:    up,
		checkpoints: checkpoints,
		mappings:    mapping.NewSessionStore(),
		notifier:    notifier,
		dialect:     money.DialectAuto,
		currency:    money.DefaultCurrency,
		logger:      logger,
		now:         time.Now,
	}
}

// WithPropertySource sets where property names are resolved from
func (s *ImportService) WithPropertySource(p PropertySource) *ImportService {
	s.properties = p
	return s
}

// WithMetrics records rejected rows in m
func (s *ImportService) WithMetrics(m *uploader.Metrics) *ImportService {
	s.metrics = m
	return s
}

// WithDialect forces the number dialect instead of probing each file
func (s *ImportService) WithDialect(d money.Dialect) *ImportService {
	s.dialect = d
	return s
}

// WithCurrency sets the currency used for batch totals
func (s *ImportService) WithCurrency(code string) *ImportService {
	s.currency = code
	return s
}

// WithClock replaces the time source used to default missing dates
func (s *ImportService) WithClock(now func() time.Time) *ImportService {
	s.now = now
	return s
}

// Mappings returns the per-session mapping memory
func (s *ImportService) Mappings() *mapping.SessionStore {
	return s.mappings
}

// Begin opens a session for entity. A pending, non-stale checkpoint for the
// same entity is returned alongside so the caller can offer to resume it.
func (s *ImportService) Begin(ctx context.Context, entity schema.EntityType) (*Session, *checkpoint.Checkpoint, error) {
	if _, err := schema.ParseEntityType(string(entity)); err != nil {
		return nil, nil, err
	}

	pending, err := s.checkpoints.Pending(ctx, entity)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to check pending import: %w", err)
	}
	if pending != nil {
		s.notice(ctx, notify.Notice{
			Level:   notify.LevelInfo,
			Title:   "Unfinished import",
			Message: fmt.Sprintf("%d rows from an import started %s can be resumed or discarded", pending.Remaining(), pending.SavedAt().Format(time.DateTime)),
			Entity:  string(entity),
		})
	}

	return newSession(s, entity), pending, nil
}

// Pending lists every resumable checkpoint
func (s *ImportService) Pending(ctx context.Context) ([]*checkpoint.Checkpoint, error) {
	return s.checkpoints.PendingAll(ctx)
}

// Resume continues the unfinished import of entity
func (s *ImportService) Resume(ctx context.Context, entity schema.EntityType, onProgress uploader.ProgressFunc) (*uploader.Result, error) {
	cp, err := s.checkpoints.Pending(ctx, entity)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, fmt.Errorf("%w for %s", ErrNoCheckpoint, entity)
	}

	result, err := s.uploader.Resume(ctx, cp, onProgress)
	s.reportUpload(ctx, entity, result, err)
	return result, err
}

// Discard drops the unfinished import of entity
func (s *ImportService) Discard(ctx context.Context, entity schema.EntityType) error {
	if err := s.checkpoints.Discard(ctx, entity); err != nil {
		return fmt.Errorf("failed to discard import: %w", err)
	}
	s.notice(ctx, notify.Notice{
		Level:   notify.LevelInfo,
		Title:   "Import discarded",
		Message: "the unfinished import was discarded",
		Entity:  string(entity),
	})
	return nil
}

// reportUpload turns an upload outcome into a notice
func (s *ImportService) reportUpload(ctx context.Context, entity schema.EntityType, result *uploader.Result, err error) {
	n := notify.Notice{Entity: string(entity)}

	switch {
	case err == nil && result != nil:
		n.Level = notify.LevelSuccess
		n.Title = "Import completed"
		n.Message = fmt.Sprintf("%d rows imported", result.Imported)
	case errors.Is(err, uploader.ErrPartialImport):
		n.Level = notify.LevelWarning
		n.Title = "Import partially completed"
		n.Message = fmt.Sprintf("%d of %d rows imported; %d rows can be resumed later",
			result.Imported, result.TotalRows, result.Remaining)
	case result != nil:
		n.Level = notify.LevelError
		n.Title = "Import failed"
		n.Message = fmt.Sprintf("%d of %d rows imported before the failure; the import can be resumed later: %v",
			result.Imported, result.TotalRows, err)
	default:
		n.Level = notify.LevelError
		n.Title = "Import failed"
		n.Message = err.Error()
	}
	s.notice(ctx, n)
}

func (s *ImportService) notice(ctx context.Context, n notify.Notice) {
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.Warn("failed to deliver notice", slog.String("title", n.Title), slog.Any("error", err))
	}
}
