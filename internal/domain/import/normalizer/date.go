package normalizer

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/FACorreiaa/tenoris360-importer/internal/domain/import/schema"
)

var ErrInvalidDate = errors.New("invalid date")

var isoPrefix = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})`)

// Layouts tried in order; day-first wins over month-first
var dateLayouts = []string{
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
	"2-1-2006",
	"02.01.2006",
	"2.1.2006",
	"02/01/06",
	"2/1/06",
	"2006/01/02",
	"2006/1/2",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"2006-01-02 15:04:05",
	time.RFC3339,
	time.RFC1123,
	"2 January 2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 Jan 2006",
	"01/02/2006",
}

// ParseDate reads a cell value as a calendar date. Strings starting with an
// ISO date keep that date as written.
func ParseDate(v any) (time.Time, error) {
	switch val := v.(type) {
	case nil:
		return time.Time{}, fmt.Errorf("%w: empty value", ErrInvalidDate)
	case time.Time:
		return val, nil
	case *time.Time:
		if val == nil {
			return time.Time{}, fmt.Errorf("%w: empty value", ErrInvalidDate)
		}
		return *val, nil
	}

	s := strings.TrimSpace(schema.FormatValue(v))
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty value", ErrInvalidDate)
	}

	if m := isoPrefix.FindStringSubmatch(s); m != nil {
		if t, err := time.Parse(schema.DateLayout, m[1]); err == nil {
			return t, nil
		}
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
}

// resolveDate returns the YYYY-MM-DD form of a transaction date. An ISO prefix
// is kept verbatim. ok is false when the value could not be read and today's
// date was used instead.
func resolveDate(v any, now time.Time) (string, bool) {
	if s, isString := v.(string); isString {
		if m := isoPrefix.FindStringSubmatch(strings.TrimSpace(s)); m != nil {
			return m[1], true
		}
	}

	t, err := ParseDate(v)
	if err != nil {
		return now.Format(schema.DateLayout), false
	}
	return t.Format(schema.DateLayout), true
}
