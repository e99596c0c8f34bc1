// Package mapping turns the operator-maintained CSV of document ids into a lookup
// table and keeps a persisted snapshot of it fresh.
package mapping

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Column names the source header must contain. Order and extra columns do not matter.
const (
	ColumnDocumentID = "document_id"
	ColumnImagePath  = "image_path"
)

var (
	ErrSourceUnreadable = errors.New("mapping source unreadable")
	ErrMissingColumns   = errors.New("mapping source missing required columns")
	ErrSnapshotCorrupt  = errors.New("mapping snapshot corrupt")
)

// Mapping is document_id -> image_path.
type Mapping map[string]string

// Lookup returns the image path recorded for id.
func (m Mapping) Lookup(id string) (string, bool) {
	v, ok := m[id]
	return v, ok
}

// LoadFile opens path and parses it with Load.
func LoadFile(path string) (Mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnreadable, err)
	}
	defer f.Close()
	return Load(f)
}

// Load parses a CSV table with a header row. Rows lacking either required value are
// skipped; a later duplicate id overwrites an earlier one.
func Load(r io.Reader) (Mapping, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty source, no header row", ErrSourceUnreadable)
		}
		return nil, fmt.Errorf("%w: read header: %w", ErrSourceUnreadable, err)
	}

	idIdx, pathIdx := -1, -1
	for i, name := range header {
		if i == 0 {
			name = strings.TrimPrefix(name, "\ufeff")
		}
		switch name {
		case ColumnDocumentID:
			if idIdx < 0 {
				idIdx = i
			}
		case ColumnImagePath:
			if pathIdx < 0 {
				pathIdx = i
			}
		}
	}
	if idIdx < 0 || pathIdx < 0 {
		return nil, fmt.Errorf("%w: need %q and %q", ErrMissingColumns, ColumnDocumentID, ColumnImagePath)
	}

	m := Mapping{}
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				continue
			}
			return nil, fmt.Errorf("%w: %w", ErrSourceUnreadable, err)
		}
		if idIdx >= len(row) || pathIdx >= len(row) {
			continue
		}
		id, p := row[idIdx], row[pathIdx]
		if id == "" || p == "" {
			continue
		}
		m[id] = p
	}
	return m, nil
}
