// Package runlog appends a summary row per run to a log worksheet and prunes old rows.
package runlog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"google.golang.org/api/sheets/v4"

	"github.com/sheetsync/sheetsync/grid"
	"github.com/sheetsync/sheetsync/logging"
)

const timestampLayout = "2006-01-02 15:04:05"

type Sheets interface {
	Get(ctx context.Context, id, area string) ([][]any, error)
	Append(ctx context.Context, id, area string, rows [][]any) error
	Sheet(ctx context.Context, id, title string) (*sheets.SheetProperties, error)
	DeleteRows(ctx context.Context, id string, sheetID int64, blocks [][2]int) error
}

type Entry struct {
	Timestamp time.Time
	RunID     string
	Command   string
	Target    string
	Outcome   string
	Detail    string
}

type Log struct {
	Sheets      Sheets
	Spreadsheet string
	Range       string
	Retention   int
	Location    *time.Location
}

var defaultIndex = map[string]int{
	"timestamp": 0,
	"runid":     1,
	"command":   2,
	"target":    3,
	"outcome":   4,
	"detail":    5,
}

// Append adds one row per entry. Columns are matched by the header row of the log range if it
// has one, otherwise the default layout is used.
func (l *Log) Append(ctx context.Context, entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}

	// ... build column index
	values, err := l.Sheets.Get(ctx, l.Spreadsheet, l.Range)
	if err != nil {
		return fmt.Errorf("unable to retrieve column headers from log sheet (%w)", err)
	}

	index := defaultIndex
	if len(values) > 0 {
		index = map[string]int{}
		for i, v := range values[0] {
			k := normalise(fmt.Sprintf("%v", v))
			if _, ok := defaultIndex[k]; ok {
				index[k] = i
			}
		}

		logging.Debugf("log sheet column index: %v", index)
	}

	columns := 0
	for _, v := range index {
		columns = max(columns, v+1)
	}

	rows := [][]any{}
	for _, e := range entries {
		row := make([]any, columns)
		for i := range row {
			row[i] = ""
		}

		fields := map[string]string{
			"timestamp": l.in(e.Timestamp).Format(timestampLayout),
			"runid":     e.RunID,
			"command":   e.Command,
			"target":    e.Target,
			"outcome":   e.Outcome,
			"detail":    e.Detail,
		}

		for k, v := range fields {
			if ix, ok := index[k]; ok {
				row[ix] = v
			}
		}

		rows = append(rows, row)
	}

	if err := l.Sheets.Append(ctx, l.Spreadsheet, l.Range, rows); err != nil {
		return fmt.Errorf("error writing log to Google Sheets (%w)", err)
	}

	return nil
}

// Prune deletes log rows with a timestamp older than Retention days before now. Rows without a
// valid timestamp, such as the header, are kept.
func (l *Log) Prune(ctx context.Context, now time.Time) (int, error) {
	if l.Retention <= 0 {
		return 0, nil
	}

	area, err := grid.ParseRange(l.Range)
	if err != nil {
		return 0, err
	}

	sheet, err := l.Sheets.Sheet(ctx, l.Spreadsheet, area.Sheet)
	if err != nil {
		return 0, err
	}

	values, err := l.Sheets.Get(ctx, l.Spreadsheet, l.Range)
	if err != nil {
		return 0, fmt.Errorf("unable to retrieve data from log sheet (%w)", err)
	}

	column := 0
	if len(values) > 0 {
		for i, v := range values[0] {
			if normalise(fmt.Sprintf("%v", v)) == "timestamp" {
				column = i
			}
		}
	}

	before := l.in(now).AddDate(0, 0, -(l.Retention - 1))
	cutoff := time.Date(before.Year(), before.Month(), before.Day(), 0, 0, 0, 0, before.Location())

	logging.Infof("pruning log records from before %v", cutoff.Format("2006-01-02"))

	list := []int{}
	for i, record := range values {
		if column >= len(record) {
			continue
		}

		timestamp, err := time.ParseInLocation(timestampLayout, fmt.Sprintf("%v", record[column]), cutoff.Location())
		if err == nil && timestamp.Before(cutoff) {
			list = append(list, area.Top-1+i)
		}
	}

	if len(list) == 0 {
		return 0, nil
	}

	sort.Ints(list)

	blocks := [][2]int{}
	start := list[0]
	last := list[0]
	for _, row := range list[1:] {
		if row != last+1 {
			blocks = append(blocks, [2]int{start, last + 1})
			start = row
		}

		last = row
	}

	blocks = append(blocks, [2]int{start, last + 1})

	if err := l.Sheets.DeleteRows(ctx, l.Spreadsheet, sheet.SheetId, blocks); err != nil {
		return 0, err
	}

	logging.Infof("pruned %d log records from log sheet", len(list))

	return len(list), nil
}

func (l *Log) in(t time.Time) time.Time {
	if l.Location != nil {
		return t.In(l.Location)
	}

	return t
}

func normalise(v string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(v), " ", ""))
}
