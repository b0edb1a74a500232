// Package grid handles A1 notation for spreadsheet ranges.
package grid

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Range is a rectangular area of a worksheet. Columns are 1-based; Bottom and Right are 0 for
// open-ended ranges such as 'Carteira!A2:S' or 'Log!A:H'.
type Range struct {
	Sheet  string
	Left   int
	Top    int
	Right  int
	Bottom int
}

var (
	rangeRegexp = regexp.MustCompile(`^(?:(.+?)!)?([a-zA-Z]+)([0-9]+)?(?::([a-zA-Z]+)?([0-9]+)?)?$`)
	plainSheet  = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
)

// ColumnLetter converts a 1-based column number to letters, e.g. 1 -> A, 27 -> AA.
func ColumnLetter(n int) string {
	letters := ""
	for n > 0 {
		rem := (n - 1) % 26
		letters = string(rune('A'+rem)) + letters
		n = (n - 1) / 26
	}

	return letters
}

// ColumnNumber converts column letters to a 1-based column number. Returns 0 for invalid input.
func ColumnNumber(letters string) int {
	n := 0
	for _, ch := range strings.ToUpper(strings.TrimSpace(letters)) {
		if ch < 'A' || ch > 'Z' {
			return 0
		}
		n = n*26 + int(ch-'A'+1)
	}

	return n
}

// ParseRange parses A1 notation, e.g. 'Carteira!A2:S', 'BD_Config!E7', "'OBRAS GERAL'!A1:T".
func ParseRange(area string) (Range, error) {
	match := rangeRegexp.FindStringSubmatch(strings.TrimSpace(area))
	if match == nil {
		return Range{}, fmt.Errorf("invalid spreadsheet range '%s'", area)
	}

	r := Range{
		Sheet: unquote(match[1]),
		Left:  ColumnNumber(match[2]),
	}

	if match[3] != "" {
		r.Top, _ = strconv.Atoi(match[3])
	}

	switch {
	case match[4] == "" && match[5] == "" && !strings.Contains(area[strings.LastIndex(area, "!")+1:], ":"):
		r.Right = r.Left
		r.Bottom = r.Top

	default:
		r.Right = ColumnNumber(match[4])
		if match[5] != "" {
			r.Bottom, _ = strconv.Atoi(match[5])
		}
	}

	if r.Top == 0 {
		r.Top = 1
	}

	if r.Right != 0 && r.Right < r.Left {
		return Range{}, fmt.Errorf("invalid spreadsheet range '%s' - right column before left column", area)
	}

	if r.Bottom != 0 && r.Bottom < r.Top {
		return Range{}, fmt.Errorf("invalid spreadsheet range '%s' - bottom row above top row", area)
	}

	return r, nil
}

// Width is the number of columns, or 0 if the range is open on the right.
func (r Range) Width() int {
	if r.Right == 0 {
		return 0
	}

	return r.Right - r.Left + 1
}

// Rows returns the sub-range of count rows starting offset rows below Top.
func (r Range) Rows(offset, count int) Range {
	sub := r
	sub.Top = r.Top + offset
	sub.Bottom = sub.Top + count - 1

	return sub
}

// WithWidth returns the range resized to cols columns.
func (r Range) WithWidth(cols int) Range {
	sub := r
	sub.Right = r.Left + cols - 1

	return sub
}

func (r Range) String() string {
	var b strings.Builder

	if r.Sheet != "" {
		b.WriteString(quote(r.Sheet))
		b.WriteString("!")
	}

	b.WriteString(ColumnLetter(r.Left))
	b.WriteString(strconv.Itoa(r.Top))

	if r.Right == r.Left && r.Bottom == r.Top {
		return b.String()
	}

	b.WriteString(":")
	if r.Right != 0 {
		b.WriteString(ColumnLetter(r.Right))
	}

	if r.Bottom != 0 {
		b.WriteString(strconv.Itoa(r.Bottom))
	}

	return b.String()
}

// Cell formats a single cell reference, e.g. Cell("BD_Config", 5, 7) -> BD_Config!E7.
func Cell(sheet string, col, row int) string {
	return Range{Sheet: sheet, Left: col, Top: row, Right: col, Bottom: row}.String()
}

func quote(sheet string) string {
	if plainSheet.MatchString(sheet) {
		return sheet
	}

	return "'" + strings.ReplaceAll(sheet, "'", "''") + "'"
}

func unquote(sheet string) string {
	if len(sheet) >= 2 && strings.HasPrefix(sheet, "'") && strings.HasSuffix(sheet, "'") {
		return strings.ReplaceAll(sheet[1:len(sheet)-1], "''", "'")
	}

	return sheet
}
