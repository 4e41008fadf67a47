// Package seed loads tabular files into the sparse triple store.
//
// A table goes in as one dataset: one feature per numeric column, one point
// per row named point_{i}, and one value per cell.
package seed

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

// Table is a numeric table ready to be written.
type Table struct {
	Features []string
	Rows     [][]float64
}

// Dims returns the number of rows and features.
func (t *Table) Dims() (rows, cols int) {
	return len(t.Rows), len(t.Features)
}

// Filter keeps only rows whose Column equals Value.
type Filter struct {
	Column string
	Value  string
}

// LoadOptions shapes the table read from a file.
type LoadOptions struct {
	// Filter is applied before column selection, so the filter column
	// need not be selected.
	Filter *Filter
	// Columns restricts the output to these headers, in this order.
	// Empty keeps every column in file order.
	Columns []string
	// Categorical forces one-hot encoding of these columns even when every
	// value parses as a number.
	Categorical []string
}

// LoadCSV reads a header-first CSV or TSV file. After filtering, rows with
// a missing cell in any column (selected or not) are dropped; see isMissing.
// Non-numeric columns are one-hot encoded as column_value with categories
// sorted.
func LoadCSV(path string, opts LoadOptions) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)

	// Auto-detect TSV
	if strings.ToLower(filepath.Ext(path)) == ".tsv" {
		reader.Comma = '\t'
	}

	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing CSV %s: %w", path, err)
	}
	t, err := FromRecords(records, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// FromRecords builds a table from parsed records; records[0] is the header.
func FromRecords(records [][]string, opts LoadOptions) (*Table, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("no header row")
	}
	headers := make([]string, len(records[0]))
	pos := make(map[string]int, len(headers))
	for j, h := range records[0] {
		h = strings.TrimSpace(h)
		headers[j] = h
		if _, dup := pos[h]; dup {
			return nil, fmt.Errorf("duplicate column %q", h)
		}
		pos[h] = j
	}

	selected := make([]int, 0, len(headers))
	if len(opts.Columns) == 0 {
		for j := range headers {
			selected = append(selected, j)
		}
	} else {
		for _, name := range opts.Columns {
			j, ok := pos[name]
			if !ok {
				return nil, fmt.Errorf("unknown column %q", name)
			}
			selected = append(selected, j)
		}
	}

	filterCol := -1
	if opts.Filter != nil {
		j, ok := pos[opts.Filter.Column]
		if !ok {
			return nil, fmt.Errorf("unknown filter column %q", opts.Filter.Column)
		}
		filterCol = j
	}

	var kept [][]string
	for _, rec := range records[1:] {
		if filterCol >= 0 && cell(rec, filterCol) != opts.Filter.Value {
			continue
		}
		if !complete(rec, len(headers)) {
			continue
		}
		row := make([]string, len(selected))
		for k, j := range selected {
			row[k] = cell(rec, j)
		}
		kept = append(kept, row)
	}

	forced := make(map[string]bool, len(opts.Categorical))
	for _, name := range opts.Categorical {
		forced[name] = true
	}

	t := &Table{Rows: make([][]float64, len(kept))}
	var encoders []func(string) []float64
	for k, j := range selected {
		name := headers[j]
		enc, features := numeric(name)
		if forced[name] || !allNumeric(kept, k) {
			enc, features = oneHot(name, kept, k)
		}
		t.Features = append(t.Features, features...)
		encoders = append(encoders, enc)
	}

	names := make(map[string]bool, len(t.Features))
	for _, f := range t.Features {
		if names[f] {
			return nil, fmt.Errorf("encoded feature %q collides with another column", f)
		}
		names[f] = true
	}

	for i, row := range kept {
		out := make([]float64, 0, len(t.Features))
		for k, enc := range encoders {
			out = append(out, enc(row[k])...)
		}
		t.Rows[i] = out
	}
	return t, nil
}

func cell(rec []string, j int) string {
	if j >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[j])
}

// missingMarkers are the cell spellings read as missing, compared
// case-insensitively.
var missingMarkers = map[string]bool{
	"": true, "na": true, "n/a": true, "#n/a": true, "#n/a n/a": true, "#na": true,
	"<na>": true, "nan": true, "-nan": true, "null": true, "none": true,
	"-1.#ind": true, "-1.#qnan": true, "1.#ind": true, "1.#qnan": true,
}

func isMissing(s string) bool {
	return missingMarkers[strings.ToLower(s)]
}

// complete reports whether rec has a present value in each of the first n columns.
func complete(rec []string, n int) bool {
	for j := 0; j < n; j++ {
		if isMissing(cell(rec, j)) {
			return false
		}
	}
	return true
}

func allNumeric(rows [][]string, k int) bool {
	for _, row := range rows {
		if _, err := strconv.ParseFloat(row[k], 64); err != nil {
			return false
		}
	}
	return true
}

func numeric(name string) (func(string) []float64, []string) {
	return func(s string) []float64 {
		v, _ := strconv.ParseFloat(s, 64)
		return []float64{v}
	}, []string{name}
}

func oneHot(name string, rows [][]string, k int) (func(string) []float64, []string) {
	seen := map[string]bool{}
	var cats []string
	for _, row := range rows {
		if !seen[row[k]] {
			seen[row[k]] = true
			cats = append(cats, row[k])
		}
	}
	slices.Sort(cats)

	index := make(map[string]int, len(cats))
	features := make([]string, len(cats))
	for i, c := range cats {
		index[c] = i
		features[i] = name + "_" + c
	}
	return func(s string) []float64 {
		out := make([]float64, len(cats))
		out[index[s]] = 1
		return out
	}, features
}
