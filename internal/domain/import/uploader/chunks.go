package uploader

import (
	"encoding/json"
	"fmt"
	"slices"
)

// Encode marshals rows into the JSON documents the uploader sends
func Encode[T any](rows []T) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(rows))
	for i, row := range rows {
		data, err := json.Marshal(row)
		if err != nil {
			return nil, fmt.Errorf("failed to encode row %d: %w", i+1, err)
		}
		out = append(out, data)
	}
	return out, nil
}

// split cuts rows into consecutive chunks of at most size rows
func split(rows []json.RawMessage, size int) [][]json.RawMessage {
	if size <= 0 {
		size = len(rows)
	}
	chunks := make([][]json.RawMessage, 0, (len(rows)+size-1)/size)
	for start := 0; start < len(rows); start += size {
		chunks = append(chunks, rows[start:min(start+size, len(rows))])
	}
	return chunks
}

func flatten(chunks [][]json.RawMessage) []json.RawMessage {
	var out []json.RawMessage
	for _, chunk := range chunks {
		out = append(out, chunk...)
	}
	return out
}

func sortChunkErrors(errs []ChunkError) {
	slices.SortFunc(errs, func(a, b ChunkError) int { return a.Index - b.Index })
}
