package normalizer

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/tenoris360-importer/internal/domain/import/schema"
	"github.com/FACorreiaa/tenoris360-importer/pkg/money"
)

var errNoAmount = errors.New("no amount")

// TransactionOptions configures a TransactionNormalizer
type TransactionOptions struct {
	Method       schema.FormattingMethod
	IncomeLabel  string
	ExpenseLabel string
	Properties   *PropertyIndex
	Dialect      money.Dialect
	Now          func() time.Time
}

// TransactionNormalizer turns mapped rows into transactions with a resolved
// date, a non-negative amount, a type and a resolved property reference.
type TransactionNormalizer struct {
	opts TransactionOptions
}

// NewTransactionNormalizer creates a normalizer; Now defaults to time.Now
func NewTransactionNormalizer(opts TransactionOptions) *TransactionNormalizer {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Method == "" {
		opts.Method = schema.MethodSign
	}
	return &TransactionNormalizer{opts: opts}
}

// NormalizeTransactions normalizes every row. Every row is accepted; rows that
// fail are replaced by a safe default and flagged.
func (n *TransactionNormalizer) NormalizeTransactions(rows []schema.ImportRow) *BatchResult[schema.Transaction] {
	result := &BatchResult[schema.Transaction]{
		Accepted: make([]schema.Transaction, 0, len(rows)),
	}
	for i, row := range rows {
		tx, flags := n.Normalize(i, row)
		result.Accepted = append(result.Accepted, tx)
		result.Flags = append(result.Flags, flags...)
	}
	return result
}

// Normalize normalizes the row at index. It never fails: an error or panic
// yields SafeDefault(index) with a flag explaining why.
func (n *TransactionNormalizer) Normalize(index int, row schema.ImportRow) (tx schema.Transaction, flags []RowFlag) {
	defer func() {
		if r := recover(); r != nil {
			tx = SafeDefault(index, n.opts.Now())
			flags = []RowFlag{{Index: index, Reason: fmt.Sprintf("normalization error: %v", r)}}
		}
	}()

	tx, flags, err := n.normalize(index, row)
	if err != nil {
		return SafeDefault(index, n.opts.Now()), []RowFlag{{Index: index, Reason: fmt.Sprintf("normalization error: %v", err)}}
	}
	return tx, flags
}

// SafeDefault is the row sent in place of one that could not be normalized
func SafeDefault(index int, now time.Time) schema.Transaction {
	return schema.Transaction{
		Date:        now.Format(schema.DateLayout),
		Amount:      0,
		Type:        schema.TransactionExpense,
		Description: fmt.Sprintf("row %d (normalization error)", index+1),
	}
}

func (n *TransactionNormalizer) normalize(index int, row schema.ImportRow) (schema.Transaction, []RowFlag, error) {
	var flags []RowFlag
	flag := func(field, reason string) {
		flags = append(flags, RowFlag{Index: index, Field: field, Reason: reason})
	}

	date, ok := resolveDate(row[schema.FieldDate], n.opts.Now())
	if !ok {
		flag(schema.FieldDate, fmt.Sprintf("unreadable date %q, using today", schema.FormatValue(row[schema.FieldDate])))
	}

	amount, txType, err := n.amountAndType(row, flag)
	if err != nil {
		return schema.Transaction{}, nil, err
	}

	tx := schema.Transaction{
		Date:        date,
		Amount:      amount.Abs().InexactFloat64(),
		Type:        txType,
		Description: cleanText(schema.FormatValue(row[schema.FieldDescription])),
		Category:    strings.TrimSpace(schema.FormatValue(row[schema.FieldCategory])),
	}

	propertyRef := strings.TrimSpace(schema.FormatValue(row[schema.FieldPropertyID]))
	id, resolved := n.opts.Properties.Resolve(propertyRef)
	if !resolved {
		flag(schema.FieldPropertyID, fmt.Sprintf("no property matches %q", propertyRef))
	}
	tx.PropertyID = id

	if tenant := strings.TrimSpace(schema.FormatValue(row[schema.FieldTenantID])); !isNoneRef(tenant) {
		tx.TenantID = &tenant
	}

	return tx, flags, nil
}

func (n *TransactionNormalizer) amountAndType(row schema.ImportRow, flag func(field, reason string)) (decimal.Decimal, schema.TransactionType, error) {
	switch n.opts.Method {
	case schema.MethodLabel:
		amount, err := n.parseAmount(row[schema.FieldAmount])
		if errors.Is(err, errNoAmount) {
			flag(schema.FieldAmount, "empty amount, using 0")
		} else if err != nil {
			return decimal.Zero, "", err
		}

		label := strings.TrimSpace(schema.FormatValue(row[schema.FieldType]))
		switch {
		case sameLabel(label, n.opts.IncomeLabel):
			return amount, schema.TransactionIncome, nil
		case sameLabel(label, n.opts.ExpenseLabel):
			return amount, schema.TransactionExpense, nil
		}
		flag(schema.FieldType, fmt.Sprintf("label %q matches neither %q nor %q, using expense", label, n.opts.IncomeLabel, n.opts.ExpenseLabel))
		return amount, schema.TransactionExpense, nil

	case schema.MethodSeparateColumns:
		income, incomeErr := n.parseAmount(row[schema.FieldIncomeColumn])
		expense, expenseErr := n.parseAmount(row[schema.FieldExpenseColumn])
		hasIncome := incomeErr == nil && !income.IsZero()
		hasExpense := expenseErr == nil && !expense.IsZero()

		switch {
		case hasIncome && hasExpense:
			flag(schema.FieldExpenseColumn, "both income and expense are filled, using income")
			return income, schema.TransactionIncome, nil
		case hasIncome:
			return income, schema.TransactionIncome, nil
		case hasExpense:
			return expense, schema.TransactionExpense, nil
		}
		flag(schema.FieldAmount, "neither income nor expense holds an amount, using 0")
		return decimal.Zero, schema.TransactionExpense, nil

	default:
		amount, err := n.parseAmount(row[schema.FieldAmount])
		if errors.Is(err, errNoAmount) {
			flag(schema.FieldAmount, "empty amount, using 0")
			return decimal.Zero, schema.TransactionIncome, nil
		}
		if err != nil {
			return decimal.Zero, "", err
		}
		if amount.IsNegative() {
			return amount, schema.TransactionExpense, nil
		}
		return amount, schema.TransactionIncome, nil
	}
}

func (n *TransactionNormalizer) parseAmount(v any) (decimal.Decimal, error) {
	switch val := v.(type) {
	case nil:
		return decimal.Zero, errNoAmount
	case float64:
		return decimal.NewFromFloat(val), nil
	case int:
		return decimal.NewFromInt(int64(val)), nil
	case int64:
		return decimal.NewFromInt(val), nil
	case string:
		if strings.TrimSpace(val) == "" {
			return decimal.Zero, errNoAmount
		}
		return money.ParseAmount(val, n.opts.Dialect)
	}
	return decimal.Zero, fmt.Errorf("%w: unexpected %T", money.ErrInvalidAmount, v)
}

func sameLabel(a, b string) bool {
	return b != "" && strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// cleanText collapses runs of whitespace
func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
