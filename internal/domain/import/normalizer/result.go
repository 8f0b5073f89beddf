// Package normalizer turns mapped import rows into the payloads the backend
// accepts: fully normalized transactions, and type-coerced records for
// properties, tenants and contracts.
package normalizer

import (
	"fmt"
	"io"
	"sort"

	"github.com/gocarina/gocsv"
)

// RowError is a row dropped from the batch. Index is 0-based over data rows.
type RowError struct {
	Index  int    `json:"index" csv:"row"`
	Reason string `json:"reason" csv:"reason"`
}

// RowFlag records a value that was defaulted rather than read from the file
type RowFlag struct {
	Index  int    `json:"index" csv:"row"`
	Field  string `json:"field" csv:"field"`
	Reason string `json:"reason" csv:"reason"`
}

// BatchResult summarizes a batch of rows: accepted rows in input order,
// rejected rows and flags.
type BatchResult[T any] struct {
	Accepted []T
	Rejected []RowError
	Flags    []RowFlag
}

// Total is the number of input rows
func (b *BatchResult[T]) Total() int {
	return len(b.Accepted) + len(b.Rejected)
}

// FlaggedRows returns the number of distinct rows with at least one flag
func (b *BatchResult[T]) FlaggedRows() int {
	seen := make(map[int]struct{}, len(b.Flags))
	for _, f := range b.Flags {
		seen[f.Index] = struct{}{}
	}
	return len(seen)
}

// reportLine is one line of a batch report; Row is 1-based as users count rows
type reportLine struct {
	Row    int    `csv:"row"`
	Kind   string `csv:"kind"`
	Field  string `csv:"field"`
	Reason string `csv:"reason"`
}

// WriteReport writes rejected and flagged rows as CSV, ordered by row
func WriteReport(w io.Writer, rejected []RowError, flags []RowFlag) error {
	lines := make([]reportLine, 0, len(rejected)+len(flags))
	for _, r := range rejected {
		lines = append(lines, reportLine{Row: r.Index + 1, Kind: "rejected", Reason: r.Reason})
	}
	for _, f := range flags {
		lines = append(lines, reportLine{Row: f.Index + 1, Kind: "flagged", Field: f.Field, Reason: f.Reason})
	}
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].Row < lines[j].Row })

	if err := gocsv.Marshal(&lines, w); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
