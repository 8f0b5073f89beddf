package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/FACorreiaa/tenoris360-importer/internal/domain/import/mapping"
	"github.com/FACorreiaa/tenoris360-importer/internal/domain/import/normalizer"
	"github.com/FACorreiaa/tenoris360-importer/internal/domain/import/parser"
	"github.com/FACorreiaa/tenoris360-importer/internal/domain/import/schema"
	"github.com/FACorreiaa/tenoris360-importer/internal/domain/import/sniffer"
	"github.com/FACorreiaa/tenoris360-importer/internal/domain/import/uploader"
	"github.com/FACorreiaa/tenoris360-importer/pkg/money"
	"github.com/FACorreiaa/tenoris360-importer/pkg/notify"
)

// dialectSampleRows bounds how many rows are inspected to guess the number dialect
const dialectSampleRows = 50

// Prepared is a transformed batch ready for upload
type Prepared struct {
	Entity schema.EntityType
	Total  int
	// Rows are the accepted rows, encoded for the backend
	Rows         []json.RawMessage
	Transactions []schema.Transaction
	Records      []schema.Record
	Rejected     []normalizer.RowError
	Flags        []normalizer.RowFlag
	Warnings     []string
	Dialect      money.Dialect
	Income       *money.Money // transactions only
	Expense      *money.Money // transactions only
}

// WriteReport writes the rejected and flagged rows as CSV
func (p *Prepared) WriteReport(w io.Writer) error {
	return normalizer.WriteReport(w, p.Rejected, p.Flags)
}

// SetProperties replaces the property directory of the session, for example
// with one loaded from a CSV export.
func (s *Session) SetProperties(properties []normalizer.Property) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.properties = normalizer.NewPropertyIndex(properties)
	s.prepared = nil
}

// Prepare reads every row of the selected sheet and transforms it: full
// normalization for transactions, type coercion for the other entity types.
// An invalid mapping fails with ErrValidationFailed.
func (s *Session) Prepare(ctx context.Context) (*Prepared, error) {
	s.mu.Lock()
	if err := s.requireMapping(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if s.prepared != nil {
		p := s.prepared
		s.mu.Unlock()
		return p, nil
	}
	wb, sheetName, headers := s.workbook, s.sheet, s.headers
	m, opts := s.mapping.Clone(), s.options
	s.mu.Unlock()

	v := mapping.Validate(s.entity, m, opts, headers)
	if !v.OK() {
		s.svc.notice(ctx, notify.Notice{
			Level:   notify.LevelError,
			Title:   "Check the column mapping",
			Message: strings.Join(v.Errors, "; "),
			Entity:  string(s.entity),
		})
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, v.Err())
	}
	for _, w := range v.Warnings {
		s.logger.Warn("mapping warning", slog.String("warning", w))
	}

	sheet, err := wb.Read(sheetName, parser.NoLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheetName, err)
	}

	rows := make([]schema.ImportRow, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		rows = append(rows, mapping.Project(m, s.entity, opts.Method, row))
	}

	var p *Prepared
	if s.entity == schema.EntityTransaction {
		p, err = s.prepareTransactions(ctx, sheet, rows, m, opts)
	} else {
		p, err = s.prepareRecords(rows)
	}
	if err != nil {
		return nil, err
	}
	p.Warnings = v.Warnings

	s.logger.Info("batch prepared",
		slog.Int("rows", p.Total),
		slog.Int("accepted", len(p.Rows)),
		slog.Int("rejected", len(p.Rejected)),
		slog.Int("flags", len(p.Flags)))

	s.mu.Lock()
	s.prepared = p
	s.mu.Unlock()
	return p, nil
}

func (s *Session) prepareTransactions(ctx context.Context, sheet *parser.Sheet, rows []schema.ImportRow, m mapping.ColumnMapping, opts mapping.Options) (*Prepared, error) {
	dialect, currency := s.svc.dialect, s.svc.currency
	if !money.IsKnownCurrency(currency) {
		currency = money.DefaultCurrency
	}
	if dialect == money.DialectAuto {
		probed := probeDialect(sheet, m)
		if probed.Decided {
			dialect = money.DialectUS
			if probed.IsEuropeanFormat {
				dialect = money.DialectEuropean
			}
		}
		if probed.CurrencyHint != "" && money.IsKnownCurrency(probed.CurrencyHint) {
			currency = probed.CurrencyHint
		}
		s.logger.Debug("probed number dialect",
			slog.String("dialect", dialect.String()),
			slog.Float64("confidence", probed.Confidence))
	}

	norm := normalizer.NewTransactionNormalizer(normalizer.TransactionOptions{
		Method:       opts.Method,
		IncomeLabel:  opts.IncomeLabel,
		ExpenseLabel: opts.ExpenseLabel,
		Properties:   s.propertyIndex(ctx),
		Dialect:      dialect,
		Now:          s.svc.now,
	})
	batch := norm.NormalizeTransactions(rows)

	encoded, err := uploader.Encode(batch.Accepted)
	if err != nil {
		return nil, err
	}

	income, expense := money.Zero(currency), money.Zero(currency)
	for _, tx := range batch.Accepted {
		amount := money.NewFromFloat(tx.Amount, currency)
		if tx.Type == schema.TransactionIncome {
			income, err = income.Add(amount)
		} else {
			expense, err = expense.Add(amount)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to total transactions: %w", err)
		}
	}

	if flagged := batch.FlaggedRows(); flagged > 0 {
		s.logger.Warn("rows imported with defaulted values", slog.Int("rows", flagged))
	}

	return &Prepared{
		Entity:       s.entity,
		Total:        batch.Total(),
		Rows:         encoded,
		Transactions: batch.Accepted,
		Rejected:     batch.Rejected,
		Flags:        batch.Flags,
		Dialect:      dialect,
		Income:       income,
		Expense:      expense,
	}, nil
}

func (s *Session) prepareRecords(rows []schema.ImportRow) (*Prepared, error) {
	batch := normalizer.TransformRecords(s.entity, rows)

	if len(batch.Rejected) > 0 {
		s.logger.Warn("rows dropped during transform",
			slog.Int("dropped", len(batch.Rejected)),
			slog.Int("total", batch.Total()))
		if s.svc.metrics != nil {
			s.svc.metrics.RowsRejected.WithLabelValues(string(s.entity)).Add(float64(len(batch.Rejected)))
		}
	}

	encoded, err := uploader.Encode(batch.Accepted)
	if err != nil {
		return nil, err
	}

	return &Prepared{
		Entity:   s.entity,
		Total:    batch.Total(),
		Rows:     encoded,
		Records:  batch.Accepted,
		Rejected: batch.Rejected,
		Flags:    batch.Flags,
	}, nil
}

// propertyIndex returns the session property index, fetching the directory
// from the property source on first use. A failed fetch leaves every property
// reference unresolved.
func (s *Session) propertyIndex(ctx context.Context) *normalizer.PropertyIndex {
	s.mu.Lock()
	if s.properties != nil {
		idx := s.properties
		s.mu.Unlock()
		return idx
	}
	s.mu.Unlock()

	if s.svc.properties == nil {
		return normalizer.NewPropertyIndex(nil)
	}

	properties, err := s.svc.properties.ListProperties(ctx)
	if err != nil {
		s.logger.Warn("failed to load properties", slog.Any("error", err))
		s.svc.notice(ctx, notify.Notice{
			Level:   notify.LevelWarning,
			Title:   "Properties unavailable",
			Message: "property names cannot be resolved; transactions will be imported without a property",
			Entity:  string(s.entity),
		})
		return normalizer.NewPropertyIndex(nil)
	}

	idx := normalizer.NewPropertyIndex(properties)
	s.mu.Lock()
	s.properties = idx
	s.mu.Unlock()
	return idx
}

// probeDialect inspects the amount and date columns of the first rows
func probeDialect(sheet *parser.Sheet, m mapping.ColumnMapping) *sniffer.RegionalDialect {
	table := sheet.Table()
	if len(table) > dialectSampleRows {
		table = table[:dialectSampleRows]
	}

	var amountCols []int
	for _, field := range []string{schema.FieldAmount, schema.FieldIncomeColumn, schema.FieldExpenseColumn} {
		if header, ok := m.Source(field); ok {
			if idx := sheet.HeaderIndex(header); idx >= 0 {
				amountCols = append(amountCols, idx)
			}
		}
	}

	dateCol := -1
	if header, ok := m.Source(schema.FieldDate); ok {
		dateCol = sheet.HeaderIndex(header)
	}

	return sniffer.ProbeDialect(table, amountCols, dateCol)
}
