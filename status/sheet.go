package status

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sheetsync/sheetsync/grid"
	"github.com/sheetsync/sheetsync/transfer"
)

// Values is the spreadsheet access needed by SheetStore.
type Values interface {
	transfer.Reader
	transfer.Writer
}

// SheetStore keeps one row per step in a control sheet, with the timestamp of the last change in
// TimestampColumn and the status label in StatusColumn.
type SheetStore struct {
	Values          Values
	Sheet           string
	StatusColumn    string
	TimestampColumn string
	Labels          Labels
	Location        *time.Location
	MaxPerCall      int
	Now             func() time.Time
}

func NewSheetStore(values Values, sheet, statusColumn, timestampColumn string, labels Labels) (*SheetStore, error) {
	if grid.ColumnNumber(statusColumn) == 0 {
		return nil, fmt.Errorf("invalid status column '%v'", statusColumn)
	}

	if timestampColumn != "" && grid.ColumnNumber(timestampColumn) == 0 {
		return nil, fmt.Errorf("invalid timestamp column '%v'", timestampColumn)
	}

	return &SheetStore{
		Values:          values,
		Sheet:           sheet,
		StatusColumn:    strings.ToUpper(statusColumn),
		TimestampColumn: strings.ToUpper(timestampColumn),
		Labels:          labels,
		Location:        time.Local,
		Now:             time.Now,
	}, nil
}

func (s *SheetStore) now() time.Time {
	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}

	if s.Location != nil {
		now = now.In(s.Location)
	}

	return now
}

// Set writes the timestamp and status label of a step in a single update. Columns between the
// timestamp and status columns are left untouched.
func (s *SheetStore) Set(ctx context.Context, key Key, st Status) error {
	status := grid.ColumnNumber(s.StatusColumn)
	timestamp := grid.ColumnNumber(s.TimestampColumn)
	label := s.Labels.Label(st)

	if timestamp == 0 || timestamp >= status {
		return s.Values.Update(ctx, grid.Cell(s.Sheet, status, int(key)), [][]any{{label}})
	}

	row := make([]any, status-timestamp+1)
	row[0] = s.now().Format(TimestampLayout)
	row[len(row)-1] = label

	area := grid.Range{Sheet: s.Sheet, Left: timestamp, Top: int(key), Right: status, Bottom: int(key)}

	return s.Values.Update(ctx, area.String(), [][]any{row})
}

// Statuses reads the status cell of every key. Cells that cannot be read count as Pending.
func (s *SheetStore) Statuses(ctx context.Context, keys []Key) (map[Key]Status, error) {
	column := grid.ColumnNumber(s.StatusColumn)
	areas := make([]string, len(keys))
	for i, key := range keys {
		areas[i] = grid.Cell(s.Sheet, column, int(key))
	}

	values, err := transfer.ReadRanges(ctx, s.Values, areas, transfer.Options{MaxPerCall: s.MaxPerCall})
	if err != nil {
		return nil, err
	}

	statuses := make(map[Key]Status, len(keys))
	for i, key := range keys {
		statuses[key] = s.Labels.Parse(firstCell(values[i]))
	}

	return statuses, nil
}

func (s *SheetStore) Stamp(ctx context.Context, cell string, t time.Time) error {
	if s.Location != nil {
		t = t.In(s.Location)
	}

	return s.Values.Update(ctx, cell, [][]any{{t.Format(TimestampLayout)}})
}

func firstCell(values [][]any) string {
	if len(values) == 0 || len(values[0]) == 0 || values[0][0] == nil {
		return ""
	}

	return fmt.Sprintf("%v", values[0][0])
}
