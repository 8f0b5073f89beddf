package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"

	"github.com/FACorreiaa/tenoris360-importer/internal/domain/import/mapping"
	"github.com/FACorreiaa/tenoris360-importer/internal/domain/import/normalizer"
	"github.com/FACorreiaa/tenoris360-importer/internal/domain/import/parser"
	"github.com/FACorreiaa/tenoris360-importer/internal/domain/import/schema"
	"github.com/FACorreiaa/tenoris360-importer/internal/domain/import/uploader"
	"github.com/FACorreiaa/tenoris360-importer/pkg/notify"
)

// Step is the position of a session in the wizard
type Step string

const (
	StepUpload      Step = "upload"
	StepSelectSheet Step = "select_sheet"
	StepMapping     Step = "mapping"
	StepImporting   Step = "importing"
	StepComplete    Step = "complete"
)

// Session is one pass through the wizard for one entity type
type Session struct {
	svc    *ImportService
	entity schema.EntityType
	logger *slog.Logger

	mu          sync.Mutex
	step        Step
	filename    string
	workbook    parser.Workbook
	sheet       string
	headers     []string
	preview     []parser.PreviewRow
	fingerprint string
	mapping     mapping.ColumnMapping
	options     mapping.Options
	properties  *normalizer.PropertyIndex
	prepared    *Prepared
}

func newSession(svc *ImportService, entity schema.EntityType) *Session {
	return &Session{
		svc:     svc,
		entity:  entity,
		logger:  svc.logger.With(slog.String("entity", string(entity))),
		step:    StepUpload,
		mapping: mapping.New(entity),
		options: mapping.DefaultOptions(),
	}
}

func (s *Session) Entity() schema.EntityType { return s.entity }

func (s *Session) Step() Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step
}

// Sheets lists the worksheets of the loaded file
func (s *Session) Sheets() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.workbook == nil {
		return nil
	}
	return s.workbook.Sheets()
}

// SuggestedSheet is the worksheet most likely to hold this entity type
func (s *Session) SuggestedSheet() string {
	return parser.SuggestSheet(s.Sheets(), s.entity)
}

func (s *Session) Sheet() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sheet
}

func (s *Session) Headers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.headers)
}

// Preview returns at most the first five data rows as text
func (s *Session) Preview() []parser.PreviewRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.preview)
}

func (s *Session) Fingerprint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fingerprint
}

func (s *Session) Mapping() mapping.ColumnMapping {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mapping.Clone()
}

func (s *Session) Options() mapping.Options {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.options
}

// VisibleFields lists the fields the user is asked to map
func (s *Session) VisibleFields() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return mapping.VisibleFields(s.entity, s.options.Method)
}

// LoadFile opens a spreadsheet. A workbook with one sheet is selected right
// away; with several, the session waits in the sheet selection step. Any
// failure resets the session.
func (s *Session) LoadFile(ctx context.Context, filename string, r io.Reader) error {
	s.Reset()

	wb, err := parser.Open(filename, r, parser.Options{})
	if err != nil {
		s.svc.notice(ctx, notify.Notice{
			Level:   notify.LevelError,
			Title:   "Unreadable file",
			Message: err.Error(),
			Entity:  string(s.entity),
		})
		return fmt.Errorf("failed to open %s: %w", filename, err)
	}

	s.mu.Lock()
	s.filename = filename
	s.workbook = wb
	sheets := wb.Sheets()
	s.mu.Unlock()

	s.logger.Info("file loaded",
		slog.String("file", filename),
		slog.String("format", string(wb.Format())),
		slog.Int("sheets", len(sheets)))

	switch len(sheets) {
	case 0:
		s.Reset()
		return parser.ErrNoSheets
	case 1:
		return s.SelectSheet(sheets[0])
	}

	s.mu.Lock()
	s.step = StepSelectSheet
	s.mu.Unlock()
	return nil
}

// SelectSheet reads the headers and preview of sheet and prepares the
// mapping: the one remembered for this entity type, or automatic suggestions.
func (s *Session) SelectSheet(sheet string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.workbook == nil {
		return ErrNoFile
	}

	head, err := s.workbook.Read(sheet, parser.PreviewRows)
	if err != nil {
		return fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}

	s.sheet = head.Name
	s.headers = head.Headers
	s.preview = head.Preview()
	s.fingerprint = head.Fingerprint
	s.prepared = nil

	if m, opts, ok := s.svc.mappings.Reapply(s.entity, head.Headers); ok {
		s.mapping = m
		s.options = opts
		s.logger.Debug("reapplied saved mapping", slog.String("sheet", sheet))
	} else {
		s.mapping = mapping.Suggest(s.entity, head.Headers)
		s.options = mapping.DefaultOptions()
	}

	s.step = StepMapping
	return nil
}

func (s *Session) requireMapping() error {
	switch s.step {
	case StepUpload:
		return ErrNoFile
	case StepSelectSheet:
		return ErrSheetSelectionRequired
	}
	return nil
}

// SetField maps field to header; mapping.Ignore clears it
func (s *Session) SetField(field, header string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireMapping(); err != nil {
		return err
	}
	if !schema.For(s.entity).Has(field) {
		return fmt.Errorf("%w: unknown field %q", mapping.ErrInvalidMapping, field)
	}
	if header != mapping.Ignore && !slices.Contains(s.headers, header) {
		return fmt.Errorf("%w: column %q is not in the file", mapping.ErrInvalidMapping, header)
	}

	s.mapping[field] = header
	s.prepared = nil
	return nil
}

// SetMethod selects the transaction formatting method
func (s *Session) SetMethod(method schema.FormattingMethod) error {
	if _, err := schema.ParseFormattingMethod(string(method)); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.options.Method = method
	s.prepared = nil
	return nil
}

// SetLabels sets the income and expense labels of the label method
func (s *Session) SetLabels(income, expense string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.options.IncomeLabel = income
	s.options.ExpenseLabel = expense
	s.prepared = nil
}

// Validate checks the current mapping against the loaded headers
func (s *Session) Validate() (mapping.Validation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireMapping(); err != nil {
		return mapping.Validation{}, err
	}
	return mapping.Validate(s.entity, s.mapping, s.options, s.headers), nil
}

// Import prepares the batch and uploads it. The mapping is remembered for the
// next session of this entity type before the upload starts.
func (s *Session) Import(ctx context.Context, onProgress uploader.ProgressFunc) (*uploader.Result, error) {
	prepared, err := s.Prepare(ctx)
	if err != nil {
		return nil, err
	}

	if len(prepared.Rows) == 0 {
		s.svc.notice(ctx, notify.Notice{
			Level:   notify.LevelWarning,
			Title:   "Nothing to import",
			Message: fmt.Sprintf("all %d rows were rejected", prepared.Total),
			Entity:  string(s.entity),
		})
		return nil, uploader.ErrNoRows
	}

	s.mu.Lock()
	s.svc.mappings.Save(s.entity, s.mapping, s.options, s.fingerprint)
	s.step = StepImporting
	s.mu.Unlock()

	if len(prepared.Rejected) > 0 {
		s.svc.notice(ctx, notify.Notice{
			Level:   notify.LevelWarning,
			Title:   "Rows skipped",
			Message: fmt.Sprintf("%d of %d rows could not be converted and will not be imported", len(prepared.Rejected), prepared.Total),
			Entity:  string(s.entity),
		})
	}

	result, err := s.svc.uploader.Run(ctx, s.entity, prepared.Rows, onProgress)
	s.svc.reportUpload(ctx, s.entity, result, err)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.step = StepMapping
		return result, err
	}
	s.step = StepComplete
	return result, nil
}

// Reset returns the session to the upload step, forgetting the file
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.workbook != nil {
		if err := s.workbook.Close(); err != nil && !errors.Is(err, io.EOF) {
			s.logger.Warn("failed to close workbook", slog.Any("error", err))
		}
	}
	s.step = StepUpload
	s.filename = ""
	s.workbook = nil
	s.sheet = ""
	s.headers = nil
	s.preview = nil
	s.fingerprint = ""
	s.mapping = mapping.New(s.entity)
	s.options = mapping.DefaultOptions()
	s.prepared = nil
}

// Close releases the loaded file
func (s *Session) Close() error {
	s.Reset()
	return nil
}
