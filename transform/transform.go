// Package transform normalises cell values copied between spreadsheets: Brazilian currency
// amounts, dd/mm/yyyy dates and spreadsheet serial dates.
package transform

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sheetsync/sheetsync/grid"
)

type Kind string

const (
	Text     Kind = "text"
	Currency Kind = "currency"
	Date     Kind = "date"
	Serial   Kind = "serial"
)

// Rule applies one kind of normalisation to a set of columns, identified by their letters in
// the source sheet.
type Rule struct {
	Columns []string `koanf:"columns"`
	Kind    Kind     `koanf:"kind"`
}

var (
	epoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

	layouts = []string{"2/1/2006", "2-1-2006", "2006-1-2"}

	shortYear   = regexp.MustCompile(`^([0-9]{1,2})/([0-9]{1,2})/([0-9]{2})$`)
	dateChars   = regexp.MustCompile(`[^0-9/\-: ]`)
	amountChars = regexp.MustCompile(`[^0-9,.\-]`)
)

func (r Rule) Validate() error {
	switch r.Kind {
	case Text, Currency, Date, Serial:
	default:
		return fmt.Errorf("invalid transform '%v'", r.Kind)
	}

	for _, c := range r.Columns {
		if grid.ColumnNumber(c) == 0 {
			return fmt.Errorf("invalid column '%v' for %v transform", c, r.Kind)
		}
	}

	return nil
}

// Apply rewrites the matching cells of every row in place. origin is the 1-based column of the
// first cell in each row. Rows too short for a column are left alone.
func Apply(rows [][]any, rules []Rule, origin int) error {
	if origin < 1 {
		origin = 1
	}

	for _, rule := range rules {
		if err := rule.Validate(); err != nil {
			return err
		}

		f := rule.Kind.fn()

		for _, c := range rule.Columns {
			index := grid.ColumnNumber(c) - origin
			if index < 0 {
				return fmt.Errorf("column %v is left of the source range", c)
			}

			for _, row := range rows {
				if index < len(row) {
					row[index] = f(row[index])
				}
			}
		}
	}

	return nil
}

// Pad extends every row to at least width cells with empty strings.
func Pad(rows [][]any, width int) [][]any {
	for i, row := range rows {
		for len(row) < width {
			row = append(row, "")
		}

		rows[i] = row
	}

	return rows
}

func (k Kind) fn() func(any) any {
	switch k {
	case Currency:
		return ToCurrency
	case Date:
		return ToDate
	case Serial:
		return ToSerial
	default:
		return ToText
	}
}

// ToText trims a value and removes the leading apostrophe that forces text entry.
func ToText(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}

	return strings.TrimPrefix(strings.TrimSpace(s), "'")
}

// ToCurrency converts an amount such as 'R$ 1.234,56' to 1234.56. A '.' is always a thousands
// separator and ',' the decimal point. Values that cannot be parsed become an empty string.
func ToCurrency(v any) any {
	switch n := v.(type) {
	case nil:
		return ""
	case float64:
		return n
	case int:
		return float64(n)
	}

	s := amountChars.ReplaceAllString(fmt.Sprintf("%v", v), "")
	s = strings.ReplaceAll(s, ".", "")
	s = strings.ReplaceAll(s, ",", ".")

	if s == "" {
		return ""
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return ""
	}

	return f
}

// ToDate formats a date as dd/mm/yyyy. Two digit years are taken as 20yy. Anything that is not
// a recognisable date is returned cleaned up but otherwise unchanged.
func ToDate(v any) any {
	if v == nil {
		return ""
	}

	s := cleanDate(fmt.Sprintf("%v", v))
	if s == "" {
		return ""
	}

	if d, ok := parseDate(s); ok {
		return d.Format("02/01/2006")
	}

	return s
}

// ToSerial converts a dd/mm/yyyy date to a spreadsheet serial day number (days since
// 1899-12-30). Numeric input is taken to be a serial already.
func ToSerial(v any) any {
	switch n := v.(type) {
	case nil:
		return ""
	case float64:
		return int(n)
	case int:
		return n
	}

	raw := strings.TrimPrefix(strings.TrimSpace(fmt.Sprintf("%v", v)), "'")
	if raw == "" {
		return ""
	}

	if d, ok := parseDate(cleanDate(raw)); ok {
		return int(d.Sub(epoch).Hours() / 24)
	}

	if f, err := strconv.ParseFloat(raw, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return int(f)
	}

	return ""
}

func cleanDate(s string) string {
	s = strings.NewReplacer("'", "", "’", "", "‘", "").Replace(strings.TrimSpace(s))
	s = dateChars.ReplaceAllString(s, "")

	if fields := strings.Fields(s); len(fields) > 0 {
		return fields[0]
	}

	return ""
}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range layouts {
		if d, err := time.Parse(layout, s); err == nil {
			return d, true
		}
	}

	if match := shortYear.FindStringSubmatch(s); match != nil {
		if d, err := time.Parse("2/1/2006", fmt.Sprintf("%v/%v/20%v", match[1], match[2], match[3])); err == nil {
			return d, true
		}
	}

	return time.Time{}, false
}
