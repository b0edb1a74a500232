package replica

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"google.golang.org/api/sheets/v4"

	"github.com/sheetsync/sheetsync/grid"
	"github.com/sheetsync/sheetsync/gsheets"
	"github.com/sheetsync/sheetsync/logging"
	"github.com/sheetsync/sheetsync/status"
	"github.com/sheetsync/sheetsync/transfer"
	"github.com/sheetsync/sheetsync/transform"
)

// Sheets is the spreadsheet access needed to replicate a job. It is implemented by
// gsheets.Client.
type Sheets interface {
	Get(ctx context.Context, id, area string) ([][]any, error)
	Update(ctx context.Context, id, area string, rows [][]any, raw bool) error
	Clear(ctx context.Context, id string, ranges ...string) error
	EnsureSheet(ctx context.Context, id, title string, minRows, minCols int) (*sheets.SheetProperties, error)
	LatestRevision(ctx context.Context, fileID string) (*gsheets.Revision, error)
	FormatColumns(ctx context.Context, id string, sheetID int64, startRow, endRow int, formats []gsheets.ColumnFormat) error
}

type Source struct {
	Spreadsheet string `koanf:"spreadsheet"`
	Range       string `koanf:"range"`
	HeaderRows  int    `koanf:"header-rows"`
}

type Destination struct {
	Name        string `koanf:"name"`
	Spreadsheet string `koanf:"spreadsheet"`
	Range       string `koanf:"range"`
	StatusCell  string `koanf:"status-cell"`
}

func (d Destination) String() string {
	if d.Name != "" {
		return d.Name
	}

	return fmt.Sprintf("%v/%v", d.Spreadsheet, d.Range)
}

// Format is a number format applied to the replicated data rows of the listed columns.
type Format struct {
	Columns []string `koanf:"columns"`
	Type    string   `koanf:"type"`
	Pattern string   `koanf:"pattern"`
}

var formatTypes = map[string]bool{
	"TEXT":       true,
	"NUMBER":     true,
	"PERCENT":    true,
	"CURRENCY":   true,
	"DATE":       true,
	"TIME":       true,
	"DATE_TIME":  true,
	"SCIENTIFIC": true,
}

func (f Format) Validate() error {
	if !formatTypes[strings.ToUpper(f.Type)] {
		return fmt.Errorf("invalid number format type '%v'", f.Type)
	}

	if len(f.Columns) == 0 {
		return fmt.Errorf("number format '%v' has no columns", f.Type)
	}

	for _, c := range f.Columns {
		if grid.ColumnNumber(c) == 0 {
			return fmt.Errorf("invalid number format column '%v'", c)
		}
	}

	return nil
}

// Job copies the source range, header included, to the same range of every destination.
type Job struct {
	Name             string           `koanf:"name"`
	Source           Source           `koanf:"source"`
	Destinations     []Destination    `koanf:"destinations"`
	Transforms       []transform.Rule `koanf:"transforms"`
	Formats          []Format         `koanf:"formats"`
	MinColumns       int              `koanf:"min-columns"`
	ChunkRows        int              `koanf:"chunk-rows"`
	Pause            time.Duration    `koanf:"pause"`
	ClearColumnChunk int              `koanf:"clear-column-chunk"`
	PostClear        bool             `koanf:"post-clear"`
	IfChanged        bool             `koanf:"if-changed"`
	StatusLabel      string           `koanf:"status-label"`
	StampPrefix      string           `koanf:"stamp-prefix"`
}

func (j Job) Validate() error {
	if strings.TrimSpace(j.Name) == "" {
		return fmt.Errorf("job is missing a name")
	}

	if _, err := gsheets.SpreadsheetID(j.Source.Spreadsheet); err != nil {
		return fmt.Errorf("job '%v': source (%v)", j.Name, err)
	}

	if r, err := grid.ParseRange(j.Source.Range); err != nil {
		return fmt.Errorf("job '%v': source (%v)", j.Name, err)
	} else if r.Sheet == "" {
		return fmt.Errorf("job '%v': source range '%v' has no worksheet", j.Name, j.Source.Range)
	}

	if len(j.Destinations) == 0 {
		return fmt.Errorf("job '%v': no destinations", j.Name)
	}

	for _, d := range j.Destinations {
		if _, err := gsheets.SpreadsheetID(d.Spreadsheet); err != nil {
			return fmt.Errorf("job '%v': destination %v (%v)", j.Name, d, err)
		}

		if r, err := grid.ParseRange(d.Range); err != nil {
			return fmt.Errorf("job '%v': destination %v (%v)", j.Name, d, err)
		} else if r.Sheet == "" {
			return fmt.Errorf("job '%v': destination range '%v' has no worksheet", j.Name, d.Range)
		}
	}

	for _, rule := range j.Transforms {
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("job '%v': %v", j.Name, err)
		}
	}

	for _, f := range j.Formats {
		if err := f.Validate(); err != nil {
			return fmt.Errorf("job '%v': %v", j.Name, err)
		}
	}

	return nil
}

type Result struct {
	Job          string
	Rows         int
	Destinations int
	Skipped      bool
	Revision     string
}

// Replicator runs replication jobs.
type Replicator struct {
	Sheets   Sheets
	Fanout   Fanout
	Workdir  string
	Location *time.Location
	Now      func() time.Time
}

func (r *Replicator) now() time.Time {
	now := time.Now()
	if r.Now != nil {
		now = r.Now()
	}

	if r.Location != nil {
		now = now.In(r.Location)
	}

	return now
}

// Replicate copies the job's source range to every destination. With force set the IfChanged
// check is skipped.
func (r *Replicator) Replicate(ctx context.Context, job Job, force bool) (*Result, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}

	result := Result{Job: job.Name}
	source, _ := gsheets.SpreadsheetID(job.Source.Spreadsheet)
	area, _ := grid.ParseRange(job.Source.Range)

	var revision *gsheets.Revision
	if job.IfChanged {
		rev, err := r.Sheets.LatestRevision(ctx, source)
		if err != nil {
			return nil, fmt.Errorf("%v: unable to retrieve source revision (%w)", job.Name, err)
		}

		revision = rev
		result.Revision = rev.ID

		if !force {
			if last, err := r.lastRevision(job); err != nil {
				logging.Warnf("%v: %v", job.Name, err)
			} else if last == rev.ID {
				logging.Infof("%v: source unchanged since revision %v - nothing to do", job.Name, rev.ID)
				result.Skipped = true

				return &result, nil
			}
		}
	}

	values, err := r.Sheets.Get(ctx, source, job.Source.Range)
	if err != nil {
		return nil, fmt.Errorf("%v: unable to read source %v (%w)", job.Name, job.Source.Range, err)
	}

	headerRows := job.Source.HeaderRows
	if headerRows < 0 {
		headerRows = 0
	}

	if len(values) <= headerRows {
		logging.Infof("%v: source %v is empty - nothing to replicate", job.Name, job.Source.Range)
		result.Skipped = true

		return &result, nil
	}

	header := values[:headerRows]
	rows := values[headerRows:]

	width := max(area.Width(), job.MinColumns)
	for _, row := range values {
		width = max(width, len(row))
	}

	header = transform.Pad(header, width)
	rows = transform.Pad(rows, width)

	if err := transform.Apply(rows, job.Transforms, area.Left); err != nil {
		return nil, fmt.Errorf("%v: %w", job.Name, err)
	}

	logging.Infof("%v: replicating %v rows x %v columns to %v destinations", job.Name, len(rows), width, len(job.Destinations))

	fanout := r.Fanout
	fanout.Job = job.Name

	err = fanout.Run(ctx, job.Destinations, func(ctx context.Context, d Destination) error {
		return r.write(ctx, job, d, header, rows, width)
	})

	if err != nil {
		return nil, err
	}

	if revision != nil {
		if err := r.saveRevision(job, revision.ID); err != nil {
			logging.Warnf("%v: %v", job.Name, err)
		}
	}

	result.Rows = len(rows)
	result.Destinations = len(job.Destinations)

	return &result, nil
}

func (r *Replicator) write(ctx context.Context, job Job, d Destination, header, rows [][]any, width int) error {
	id, _ := gsheets.SpreadsheetID(d.Spreadsheet)
	area, _ := grid.ParseRange(d.Range)
	area = area.WithWidth(width)

	end := area.Top + len(header) + len(rows) - 1
	properties, err := r.Sheets.EnsureSheet(ctx, id, area.Sheet, end+2, area.Right)
	if err != nil {
		return err
	}

	gridRows := end + 2
	if properties != nil && properties.GridProperties != nil {
		gridRows = max(gridRows, int(properties.GridProperties.RowCount))
	}

	r.mark(ctx, id, d.StatusCell, job.StatusLabel)

	if !job.PostClear {
		if err := r.clear(ctx, id, area.Rows(0, gridRows-area.Top+1), job.ClearColumnChunk); err != nil {
			return err
		}
	}

	if len(header) > 0 {
		if err := r.Sheets.Update(ctx, id, area.Rows(0, len(header)).String(), header, false); err != nil {
			return err
		}
	}

	writer := sheetWriter{sheets: r.Sheets, id: id}
	body := area.Rows(len(header), len(rows))
	opts := transfer.Options{
		ChunkRows: job.ChunkRows,
		Pause:     job.Pause,
	}

	if _, err := transfer.WriteChunked(ctx, writer, body, rows, opts); err != nil {
		return err
	}

	if len(job.Formats) > 0 && properties != nil {
		from := area.Top - 1 + len(header)
		if err := r.Sheets.FormatColumns(ctx, id, properties.SheetId, from, end, columnFormats(job.Formats)); err != nil {
			logging.Warnf("%v: number formats not applied to %v (%v)", job.Name, d, err)
		}
	}

	if job.PostClear && end < gridRows {
		tail := area.Rows(end-area.Top+1, gridRows-end)
		if err := r.clear(ctx, id, tail, job.ClearColumnChunk); err != nil {
			return err
		}
	}

	prefix := job.StampPrefix
	if prefix == "" {
		prefix = "Updated at"
	}

	r.mark(ctx, id, d.StatusCell, fmt.Sprintf("%v %v", prefix, r.now().Format(status.TimestampLayout)))

	return nil
}

func columnFormats(formats []Format) []gsheets.ColumnFormat {
	list := []gsheets.ColumnFormat{}
	for _, f := range formats {
		for _, c := range f.Columns {
			list = append(list, gsheets.ColumnFormat{
				Column:  grid.ColumnNumber(c),
				Type:    strings.ToUpper(f.Type),
				Pattern: f.Pattern,
			})
		}
	}

	return list
}

// clear empties a range, in slices of at most chunk columns if chunk > 0.
func (r *Replicator) clear(ctx context.Context, id string, area grid.Range, chunk int) error {
	if chunk <= 0 || chunk >= area.Width() {
		return r.Sheets.Clear(ctx, id, area.String())
	}

	for left := area.Left; left <= area.Right; left += chunk {
		slice := area
		slice.Left = left
		slice.Right = min(left+chunk-1, area.Right)

		if err := r.Sheets.Clear(ctx, id, slice.String()); err != nil {
			return err
		}
	}

	return nil
}

// mark writes a status cell. Failures are logged and otherwise ignored.
func (r *Replicator) mark(ctx context.Context, id, cell, text string) {
	if cell == "" || text == "" {
		return
	}

	if err := r.Sheets.Update(ctx, id, cell, [][]any{{text}}, true); err != nil {
		logging.Warnf("unable to write '%v' to %v (%v)", text, cell, err)
	}
}

func (r *Replicator) revisionFile(job Job) string {
	return filepath.Join(r.Workdir, fmt.Sprintf("%s.revision", job.Name))
}

func (r *Replicator) lastRevision(job Job) (string, error) {
	b, err := os.ReadFile(r.revisionFile(job))
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	} else if err != nil {
		return "", fmt.Errorf("unable to read last replicated revision (%v)", err)
	}

	return strings.TrimSpace(string(b)), nil
}

func (r *Replicator) saveRevision(job Job, revision string) error {
	file := r.revisionFile(job)
	if err := os.MkdirAll(filepath.Dir(file), 0770); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(file), job.Name)
	if err != nil {
		return err
	}

	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(revision + "\n"); err != nil {
		tmp.Close()
		return err
	}

	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), file)
}

// sheetWriter adapts Sheets to a transfer.Writer for one spreadsheet.
type sheetWriter struct {
	sheets Sheets
	id     string
}

func (v sheetWriter) Update(ctx context.Context, area string, rows [][]any) error {
	return v.sheets.Update(ctx, v.id, area, rows, false)
}
