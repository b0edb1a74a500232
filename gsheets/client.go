// Package gsheets wraps the Google Sheets and Drive APIs behind a rate limited, retrying client.
package gsheets

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/sheetsync/sheetsync/logging"
	"github.com/sheetsync/sheetsync/metrics"
	"github.com/sheetsync/sheetsync/retry"
)

const (
	SHEETS          = "https://www.googleapis.com/auth/spreadsheets"
	SHEETS_READONLY = "https://www.googleapis.com/auth/spreadsheets.readonly"
	DRIVE           = "https://www.googleapis.com/auth/drive.metadata.readonly"
)

var (
	urlRegexp = regexp.MustCompile(`^https://docs.google.com/spreadsheets/d/(.*?)(?:/.*)?$`)
	idRegexp  = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// SpreadsheetID extracts the spreadsheet ID from a Google Sheets URL. A bare ID is returned
// unchanged.
func SpreadsheetID(url string) (string, error) {
	url = strings.TrimSpace(url)

	if match := urlRegexp.FindStringSubmatch(url); len(match) > 1 && match[1] != "" {
		return match[1], nil
	}

	if idRegexp.MatchString(url) {
		return url, nil
	}

	return "", fmt.Errorf("invalid spreadsheet URL - expected something like 'https://docs.google.com/spreadsheets/d/1BxiMVs0XRA5nFMdKvBdBZjgmUUqptlbs74OgvE2upms'")
}

type Config struct {
	CallsPerMinute int
	Burst          int

	// BreakerFailures is the number of consecutive transient failures that opens the circuit
	// breaker. Zero disables the breaker.
	BreakerFailures uint32
	BreakerTimeout  time.Duration

	Policy retry.Policy
}

func DefaultConfig() Config {
	return Config{
		CallsPerMinute:  60,
		Burst:           10,
		BreakerFailures: 0,
		BreakerTimeout:  30 * time.Second,
		Policy:          retry.DefaultPolicy(),
	}
}

type Client struct {
	sheets  *sheets.Service
	drive   *drive.Service
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[any]
	policy  retry.Policy
}

// New creates a client for the Sheets and Drive APIs. The options are passed through to both
// services, typically option.WithHTTPClient with the client returned by Authorize.
func New(ctx context.Context, cfg Config, opts ...option.ClientOption) (*Client, error) {
	google, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create new Sheets client (%v)", err)
	}

	gdrive, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create new Drive client (%v)", err)
	}

	limit := rate.Inf
	if cfg.CallsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.CallsPerMinute))
	}

	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	client := Client{
		sheets:  google,
		drive:   gdrive,
		limiter: rate.NewLimiter(limit, burst),
		policy:  cfg.Policy,
	}

	if cfg.BreakerFailures > 0 {
		client.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
			Name:        "sheets",
			MaxRequests: 1,
			Timeout:     cfg.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.BreakerFailures
			},
			IsSuccessful: func(err error) bool {
				return err == nil || retry.Classify(err) == retry.Permanent
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logging.Warnf("%v circuit breaker %v -> %v", name, from, to)
			},
		})
	}

	return &client, nil
}

// call runs one API operation through the limiter, the breaker and the retry policy.
func call[T any](ctx context.Context, c *Client, op string, fn func(context.Context) (T, error)) (T, error) {
	policy := c.policy
	notify := policy.Notify
	policy.Notify = func(desc string, attempt int, delay time.Duration, err error) {
		metrics.RecordAPIRetry(retry.StatusCode(err))
		if notify != nil {
			notify(desc, attempt, delay, err)
		}
	}

	return retry.DoValue(ctx, policy, op, func(ctx context.Context) (T, error) {
		var zero T

		if err := c.limiter.Wait(ctx); err != nil {
			return zero, err
		}

		v, err := c.execute(ctx, func(ctx context.Context) (any, error) {
			return fn(ctx)
		})

		metrics.RecordAPICall(strings.Fields(op)[0], err == nil)

		if err != nil {
			return zero, err
		}

		t, _ := v.(T)

		return t, nil
	})
}

func (c *Client) execute(ctx context.Context, fn func(context.Context) (any, error)) (any, error) {
	if c.breaker == nil {
		return fn(ctx)
	}

	v, err := c.breaker.Execute(func() (any, error) {
		return fn(ctx)
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, retry.MarkTransient(err)
	}

	return v, err
}

func (c *Client) Spreadsheet(ctx context.Context, id string) (*sheets.Spreadsheet, error) {
	return call(ctx, c, fmt.Sprintf("spreadsheets.get %v", id), func(ctx context.Context) (*sheets.Spreadsheet, error) {
		return c.sheets.Spreadsheets.Get(id).Context(ctx).Do()
	})
}

func (c *Client) Get(ctx context.Context, id, area string) ([][]any, error) {
	return call(ctx, c, fmt.Sprintf("values.get %v", area), func(ctx context.Context) ([][]any, error) {
		response, err := c.sheets.Spreadsheets.Values.Get(id, area).Context(ctx).Do()
		if err != nil {
			return nil, err
		}

		return response.Values, nil
	})
}

// BatchGet reads several ranges in one call. The result is in the same order as ranges.
func (c *Client) BatchGet(ctx context.Context, id string, ranges []string) ([][][]any, error) {
	desc := fmt.Sprintf("values.batchGet %v ranges", len(ranges))

	return call(ctx, c, desc, func(ctx context.Context) ([][][]any, error) {
		response, err := c.sheets.Spreadsheets.Values.BatchGet(id).Ranges(ranges...).Context(ctx).Do()
		if err != nil {
			return nil, err
		}

		values := make([][][]any, len(ranges))
		for i, vr := range response.ValueRanges {
			if i < len(values) && vr != nil {
				values[i] = vr.Values
			}
		}

		return values, nil
	})
}

// Update writes rows to a range. Raw values are stored as-is, otherwise they are parsed as if
// typed into the sheet.
func (c *Client) Update(ctx context.Context, id, area string, rows [][]any, raw bool) error {
	input := "USER_ENTERED"
	if raw {
		input = "RAW"
	}

	vr := sheets.ValueRange{
		Range:  area,
		Values: rows,
	}

	_, err := call(ctx, c, fmt.Sprintf("values.update %v", area), func(ctx context.Context) (*sheets.UpdateValuesResponse, error) {
		return c.sheets.Spreadsheets.Values.Update(id, area, &vr).ValueInputOption(input).Context(ctx).Do()
	})

	return err
}

func (c *Client) Clear(ctx context.Context, id string, ranges ...string) error {
	if len(ranges) == 0 {
		return nil
	}

	rq := sheets.BatchClearValuesRequest{
		Ranges: ranges,
	}

	_, err := call(ctx, c, fmt.Sprintf("values.batchClear %v", strings.Join(ranges, ",")), func(ctx context.Context) (*sheets.BatchClearValuesResponse, error) {
		return c.sheets.Spreadsheets.Values.BatchClear(id, &rq).Context(ctx).Do()
	})

	return err
}

func (c *Client) Append(ctx context.Context, id, area string, rows [][]any) error {
	vr := sheets.ValueRange{
		Values: rows,
	}

	_, err := call(ctx, c, fmt.Sprintf("values.append %v", area), func(ctx context.Context) (*sheets.AppendValuesResponse, error) {
		return c.sheets.Spreadsheets.Values.Append(id, area, &vr).
			ValueInputOption("USER_ENTERED").
			InsertDataOption("INSERT_ROWS").
			Context(ctx).
			Do()
	})

	return err
}

// Resize sets the grid size of a worksheet.
func (c *Client) Resize(ctx context.Context, id string, sheetID int64, rows, cols int) error {
	rq := sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{
			{
				UpdateSheetProperties: &sheets.UpdateSheetPropertiesRequest{
					Properties: &sheets.SheetProperties{
						SheetId: sheetID,
						GridProperties: &sheets.GridProperties{
							RowCount:    int64(rows),
							ColumnCount: int64(cols),
						},
						ForceSendFields: []string{"SheetId"},
					},
					Fields: "gridProperties(rowCount,columnCount)",
				},
			},
		},
	}

	_, err := call(ctx, c, fmt.Sprintf("spreadsheets.batchUpdate resize %v", sheetID), func(ctx context.Context) (*sheets.BatchUpdateSpreadsheetResponse, error) {
		return c.sheets.Spreadsheets.BatchUpdate(id, &rq).Context(ctx).Do()
	})

	return err
}

// ColumnFormat is a number format applied to a single 1-based column.
type ColumnFormat struct {
	Column  int
	Type    string
	Pattern string
}

// FormatColumns applies number formats to the [startRow, endRow) rows of a worksheet as a
// single batch update.
func (c *Client) FormatColumns(ctx context.Context, id string, sheetID int64, startRow, endRow int, formats []ColumnFormat) error {
	if len(formats) == 0 || endRow <= startRow {
		return nil
	}

	rq := sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{},
	}

	for _, f := range formats {
		rq.Requests = append(rq.Requests, &sheets.Request{
			RepeatCell: &sheets.RepeatCellRequest{
				Range: &sheets.GridRange{
					SheetId:          sheetID,
					StartRowIndex:    int64(startRow),
					EndRowIndex:      int64(endRow),
					StartColumnIndex: int64(f.Column - 1),
					EndColumnIndex:   int64(f.Column),
					ForceSendFields:  []string{"SheetId", "StartRowIndex", "StartColumnIndex"},
				},
				Cell: &sheets.CellData{
					UserEnteredFormat: &sheets.CellFormat{
						NumberFormat: &sheets.NumberFormat{
							Type:    f.Type,
							Pattern: f.Pattern,
						},
					},
				},
				Fields: "userEnteredFormat.numberFormat",
			},
		})
	}

	_, err := call(ctx, c, fmt.Sprintf("spreadsheets.batchUpdate format %v columns", len(formats)), func(ctx context.Context) (*sheets.BatchUpdateSpreadsheetResponse, error) {
		return c.sheets.Spreadsheets.BatchUpdate(id, &rq).Context(ctx).Do()
	})

	return err
}

func (c *Client) AddSheet(ctx context.Context, id, title string, rows, cols int) (*sheets.SheetProperties, error) {
	rq := sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{
			{
				AddSheet: &sheets.AddSheetRequest{
					Properties: &sheets.SheetProperties{
						Title: title,
						GridProperties: &sheets.GridProperties{
							RowCount:    int64(rows),
							ColumnCount: int64(cols),
						},
					},
				},
			},
		},
	}

	response, err := call(ctx, c, fmt.Sprintf("spreadsheets.batchUpdate add %v", title), func(ctx context.Context) (*sheets.BatchUpdateSpreadsheetResponse, error) {
		return c.sheets.Spreadsheets.BatchUpdate(id, &rq).Context(ctx).Do()
	})

	if err != nil {
		return nil, err
	}

	if len(response.Replies) == 0 || response.Replies[0].AddSheet == nil || response.Replies[0].AddSheet.Properties == nil {
		return nil, fmt.Errorf("invalid response adding worksheet '%v'", title)
	}

	return response.Replies[0].AddSheet.Properties, nil
}

// EnsureSheet finds a worksheet by title (case insensitive), adding it if it does not exist and
// growing its grid to at least minRows x minCols. Worksheets are never shrunk.
func (c *Client) EnsureSheet(ctx context.Context, id, title string, minRows, minCols int) (*sheets.SheetProperties, error) {
	spreadsheet, err := c.Spreadsheet(ctx, id)
	if err != nil {
		return nil, err
	}

	sheet := findSheet(spreadsheet, title)
	if sheet == nil {
		logging.Infof("creating worksheet '%v' (%vx%v)", title, minRows, minCols)

		return c.AddSheet(ctx, id, title, minRows, minCols)
	}

	rows, cols := 0, 0
	if grid := sheet.Properties.GridProperties; grid != nil {
		rows = int(grid.RowCount)
		cols = int(grid.ColumnCount)
	}

	if rows >= minRows && cols >= minCols {
		return sheet.Properties, nil
	}

	rows = max(rows, minRows)
	cols = max(cols, minCols)

	logging.Infof("resizing worksheet '%v' to %vx%v", sheet.Properties.Title, rows, cols)

	if err := c.Resize(ctx, id, sheet.Properties.SheetId, rows, cols); err != nil {
		return nil, err
	}

	properties := *sheet.Properties
	properties.GridProperties = &sheets.GridProperties{
		RowCount:    int64(rows),
		ColumnCount: int64(cols),
	}

	return &properties, nil
}

func findSheet(spreadsheet *sheets.Spreadsheet, title string) *sheets.Sheet {
	for _, sheet := range spreadsheet.Sheets {
		if sheet.Properties != nil && normalise(sheet.Properties.Title) == normalise(title) {
			return sheet
		}
	}

	return nil
}

func normalise(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

// Values binds the range operations to one spreadsheet.
func (c *Client) Values(id string) *Values {
	return &Values{
		client: c,
		id:     id,
	}
}

// Values reads and writes ranges of one spreadsheet.
type Values struct {
	client *Client
	id     string
	Raw    bool
}

func (v *Values) Get(ctx context.Context, area string) ([][]any, error) {
	return v.client.Get(ctx, v.id, area)
}

func (v *Values) BatchGet(ctx context.Context, areas []string) ([][][]any, error) {
	return v.client.BatchGet(ctx, v.id, areas)
}

func (v *Values) Update(ctx context.Context, area string, rows [][]any) error {
	return v.client.Update(ctx, v.id, area, rows, v.Raw)
}

// Sheet returns the properties of a worksheet, found by title (case insensitive).
func (c *Client) Sheet(ctx context.Context, id, title string) (*sheets.SheetProperties, error) {
	spreadsheet, err := c.Spreadsheet(ctx, id)
	if err != nil {
		return nil, err
	}

	if sheet := findSheet(spreadsheet, title); sheet != nil {
		return sheet.Properties, nil
	}

	return nil, fmt.Errorf("unable to identify worksheet '%s'", title)
}

// DeleteRows deletes blocks of rows from a worksheet. Each block is a [start, end) pair of
// 0-based row indices; blocks are deleted bottom up so the indices stay valid.
func (c *Client) DeleteRows(ctx context.Context, id string, sheetID int64, blocks [][2]int) error {
	if len(blocks) == 0 {
		return nil
	}

	sorted := append([][2]int(nil), blocks...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i][0] > sorted[j][0] })

	rq := sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{},
	}

	for _, block := range sorted {
		rq.Requests = append(rq.Requests, &sheets.Request{
			DeleteDimension: &sheets.DeleteDimensionRequest{
				Range: &sheets.DimensionRange{
					SheetId:         sheetID,
					Dimension:       "ROWS",
					StartIndex:      int64(block[0]),
					EndIndex:        int64(block[1]),
					ForceSendFields: []string{"SheetId", "StartIndex"},
				},
			},
		})
	}

	_, err := call(ctx, c, fmt.Sprintf("spreadsheets.batchUpdate delete %v row blocks", len(blocks)), func(ctx context.Context) (*sheets.BatchUpdateSpreadsheetResponse, error) {
		return c.sheets.Spreadsheets.BatchUpdate(id, &rq).Context(ctx).Do()
	})

	return err
}
