package money

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Dialect tells ParseAmount how to read an ambiguous separator
type Dialect int

const (
	// DialectAuto treats a lone comma as the decimal separator and a lone dot as decimal too
	DialectAuto Dialect = iota
	// DialectUS reads 1,234.56
	DialectUS
	// DialectEuropean reads 1.234,56
	DialectEuropean
)

var ErrInvalidAmount = errors.New("invalid amount")

// ParseDialect maps "auto", "us" and "eu" to a Dialect
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return DialectAuto, nil
	case "us":
		return DialectUS, nil
	case "eu", "european":
		return DialectEuropean, nil
	}
	return DialectAuto, fmt.Errorf("unknown number dialect %q", s)
}

func (d Dialect) String() string {
	switch d {
	case DialectUS:
		return "us"
	case DialectEuropean:
		return "eu"
	}
	return "auto"
}

// currencyTokens are stripped before parsing, longest first so "R$" goes before "$"
var currencyTokens = func() []string {
	codes := []string{EUR, USD, GBP, CHF, "BRL", "JPY", "CAD", "AUD", "SEK", "NOK", "DKK", "PLN", "CZK", "HUF", "RON"}
	seen := map[string]bool{}
	var tokens []string
	for _, code := range codes {
		for _, tok := range []string{code, graphemeOf(code)} {
			if tok != "" && !seen[tok] {
				seen[tok] = true
				tokens = append(tokens, tok)
			}
		}
	}
	sort.SliceStable(tokens, func(i, j int) bool { return len(tokens[i]) > len(tokens[j]) })
	return tokens
}()

func graphemeOf(code string) string {
	if c := money.GetCurrency(code); c != nil {
		return c.Grapheme
	}
	return ""
}

// ParseAmount parses a spreadsheet amount such as "-50,00", "€ 1.234,56",
// "$1,234.56" or "(45.00)" into an exact decimal. A trailing minus and
// parentheses both mean negative.
func ParseAmount(raw string, dialect Dialect) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	for _, tok := range currencyTokens {
		s = strings.ReplaceAll(s, tok, "")
	}
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\u00a0', '\u202f', '\'', '\t':
			return -1
		}
		return r
	}, s)

	if s == "" {
		return decimal.Zero, fmt.Errorf("%w: empty value", ErrInvalidAmount)
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}
	switch {
	case strings.HasPrefix(s, "-"):
		negative = !negative
		s = s[1:]
	case strings.HasSuffix(s, "-"):
		negative = !negative
		s = s[:len(s)-1]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}

	s = normalizeSeparators(s, dialect)

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

// normalizeSeparators rewrites s so that '.' is the only decimal separator
func normalizeSeparators(s string, dialect Dialect) string {
	commas := strings.Count(s, ",")
	dots := strings.Count(s, ".")

	switch {
	case commas > 0 && dots > 0:
		// The separator that comes last is the decimal one
		if strings.LastIndex(s, ",") > strings.LastIndex(s, ".") {
			s = strings.ReplaceAll(s, ".", "")
			return strings.Replace(s, ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")

	case commas > 0:
		digitsAfter := len(s) - strings.LastIndex(s, ",") - 1
		if commas > 1 || (dialect == DialectUS && digitsAfter == 3) {
			return strings.ReplaceAll(s, ",", "")
		}
		return strings.Replace(s, ",", ".", 1)

	case dots > 0:
		digitsAfter := len(s) - strings.LastIndex(s, ".") - 1
		if dots > 1 || (dialect == DialectEuropean && digitsAfter == 3) {
			return strings.ReplaceAll(s, ".", "")
		}
	}

	return s
}
