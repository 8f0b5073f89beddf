package normalizer

import (
	"fmt"
	"io"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/google/uuid"
)

// Property is a property known to the backend, as listed by the property
// directory or a CSV export of it.
type Property struct {
	ID        string `json:"id" csv:"id"`
	Name      string `json:"name" csv:"name"`
	ShortName string `json:"short_name" csv:"short_name"`
	Address   string `json:"address" csv:"address"`
	City      string `json:"city" csv:"city"`
}

// PropertyIndex resolves free-text property references to property IDs
type PropertyIndex struct {
	byKey map[string]string
	size  int
}

// NewPropertyIndex indexes properties by name, short name, name without
// whitespace, address and "address, city". The first property claiming a key wins.
func NewPropertyIndex(properties []Property) *PropertyIndex {
	idx := &PropertyIndex{byKey: make(map[string]string), size: len(properties)}
	for _, p := range properties {
		if p.ID == "" {
			continue
		}
		keys := []string{p.Name, p.ShortName, stripSpaces(p.Name), p.Address}
		if p.Address != "" && p.City != "" {
			keys = append(keys, p.Address+", "+p.City)
		}
		for _, k := range keys {
			k = normalizeKey(k)
			if k == "" {
				continue
			}
			if _, taken := idx.byKey[k]; !taken {
				idx.byKey[k] = p.ID
			}
		}
	}
	return idx
}

// Len returns the number of indexed properties
func (idx *PropertyIndex) Len() int {
	if idx == nil {
		return 0
	}
	return idx.size
}

// Lookup returns the property ID for a name-like reference
func (idx *PropertyIndex) Lookup(ref string) (string, bool) {
	if idx == nil {
		return "", false
	}
	key := normalizeKey(ref)
	if key == "" {
		return "", false
	}
	if id, ok := idx.byKey[key]; ok {
		return id, true
	}
	id, ok := idx.byKey[stripSpaces(key)]
	return id, ok
}

// Resolve turns a property reference cell into an ID. UUIDs pass through
// unchanged, names are looked up. resolved is false when a non-empty
// reference matched nothing.
func (idx *PropertyIndex) Resolve(ref string) (id *string, resolved bool) {
	ref = strings.TrimSpace(ref)
	if isNoneRef(ref) {
		return nil, true
	}
	if _, err := uuid.Parse(ref); err == nil {
		return &ref, true
	}
	if found, ok := idx.Lookup(ref); ok {
		return &found, true
	}
	return nil, false
}

// LoadPropertiesCSV reads a property directory exported as CSV with the
// columns id, name, short_name, address and city.
func LoadPropertiesCSV(r io.Reader) ([]Property, error) {
	var properties []Property
	if err := gocsv.Unmarshal(r, &properties); err != nil {
		return nil, fmt.Errorf("failed to read property directory: %w", err)
	}
	return properties, nil
}

func normalizeKey(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func stripSpaces(s string) string {
	return strings.Join(strings.Fields(s), "")
}

func isNoneRef(s string) bool {
	return s == "" || strings.EqualFold(s, "none")
}
