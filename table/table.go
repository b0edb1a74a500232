// Package table converts worksheet values to and from tab separated files.
package table

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

type Table struct {
	Header  []string
	Records [][]string
}

// MakeTable builds a table from worksheet values, the first row being the header. Columns named
// in leading are moved to the front in the order given and must be present. Blank rows are
// dropped.
func MakeTable(values [][]any, leading ...string) (*Table, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("empty sheet")
	}

	// .. build index
	index := map[string]int{}
	row := values[0]
	for i, v := range row {
		k := normalise(cell(v))
		if k == "" {
			continue
		}

		if _, ok := index[k]; ok {
			return nil, fmt.Errorf("duplicate column name '%s'", cell(v))
		}

		index[k] = i
	}

	if len(index) == 0 {
		return nil, fmt.Errorf("missing/invalid header row")
	}

	// ... header
	columns := []int{}
	first := map[string]bool{}
	for _, name := range leading {
		k := normalise(name)
		ix, ok := index[k]
		if !ok {
			return nil, fmt.Errorf("missing '%s' column", name)
		}

		columns = append(columns, ix)
		first[k] = true
	}

	for i, v := range row {
		if k := normalise(cell(v)); k != "" && !first[k] {
			columns = append(columns, i)
		}
	}

	header := []string{}
	for _, ix := range columns {
		header = append(header, cell(row[ix]))
	}

	// ... records
	records := [][]string{}
	for _, row := range values[1:] {
		record := make([]string, len(columns))
		blank := true
		for i, ix := range columns {
			if ix < len(row) {
				record[i] = cell(row[ix])
			}

			if record[i] != "" {
				blank = false
			}
		}

		if !blank {
			records = append(records, record)
		}
	}

	return &Table{
		Header:  header,
		Records: records,
	}, nil
}

func (t *Table) WriteTSV(f io.Writer) error {
	w := csv.NewWriter(f)
	w.Comma = '\t'

	if err := w.Write(t.Header); err != nil {
		return err
	}

	for _, record := range t.Records {
		if err := w.Write(record); err != nil {
			return err
		}
	}

	w.Flush()

	return w.Error()
}

// ReadTSV reads a tab separated file with a header row.
func ReadTSV(f io.Reader) (*Table, error) {
	r := csv.NewReader(f)
	r.Comma = '\t'
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("TSV file is empty")
	}

	return &Table{
		Header:  records[0],
		Records: records[1:],
	}, nil
}

// Values returns the header and records as worksheet rows.
func (t *Table) Values() ([]any, [][]any) {
	header := make([]any, len(t.Header))
	for i, v := range t.Header {
		header[i] = v
	}

	rows := make([][]any, 0, len(t.Records))
	for _, record := range t.Records {
		row := make([]any, len(record))
		for i, v := range record {
			row[i] = v
		}

		rows = append(rows, row)
	}

	return header, rows
}

func cell(v any) string {
	if v == nil {
		return ""
	}

	return strings.TrimSpace(fmt.Sprintf("%v", v))
}

func normalise(v string) string {
	return strings.ToLower(strings.ReplaceAll(v, " ", ""))
}
