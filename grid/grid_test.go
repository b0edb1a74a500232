package grid

import (
	"reflect"
	"testing"
)

func TestColumnLetter(t *testing.T) {
	tests := map[int]string{
		1:   "A",
		19:  "S",
		20:  "T",
		26:  "Z",
		27:  "AA",
		37:  "AK",
		52:  "AZ",
		53:  "BA",
		702: "ZZ",
		703: "AAA",
	}

	for n, expected := range tests {
		if letters := ColumnLetter(n); letters != expected {
			t.Errorf("Incorrect column letter for %v\n   expected: %v\n   got:      %v", n, expected, letters)
		}

		if number := ColumnNumber(expected); number != n {
			t.Errorf("Incorrect column number for %v\n   expected: %v\n   got:      %v", expected, n, number)
		}
	}
}

func TestColumnNumberWithInvalidLetters(t *testing.T) {
	if n := ColumnNumber("A1"); n != 0 {
		t.Errorf("Expected 0 for invalid column letters, got %v", n)
	}
}

func TestParseRange(t *testing.T) {
	tests := []struct {
		area     string
		expected Range
	}{
		{"Carteira!A2:S", Range{Sheet: "Carteira", Left: 1, Top: 2, Right: 19}},
		{"ACL!A2:E", Range{Sheet: "ACL", Left: 1, Top: 2, Right: 5}},
		{"Log!A1:H20", Range{Sheet: "Log", Left: 1, Top: 1, Right: 8, Bottom: 20}},
		{"BD_Config!E7", Range{Sheet: "BD_Config", Left: 5, Top: 7, Right: 5, Bottom: 7}},
		{"'OBRAS GERAL'!A1:T", Range{Sheet: "OBRAS GERAL", Left: 1, Top: 1, Right: 20}},
		{"D:W", Range{Left: 4, Top: 1, Right: 23}},
		{"T2", Range{Left: 20, Top: 2, Right: 20, Bottom: 2}},
	}

	for _, test := range tests {
		r, err := ParseRange(test.area)
		if err != nil {
			t.Fatalf("Unexpected error parsing '%v' (%v)", test.area, err)
		}

		if !reflect.DeepEqual(r, test.expected) {
			t.Errorf("Incorrect range for '%v'\n   expected: %+v\n   got:      %+v", test.area, test.expected, r)
		}
	}
}

func TestParseInvalidRange(t *testing.T) {
	for _, area := range []string{"", "Sheet!", "Sheet!12", "Sheet!C1:A4", "Sheet!A10:B2"} {
		if _, err := ParseRange(area); err == nil {
			t.Errorf("Expected error parsing '%v'", area)
		}
	}
}

func TestRangeString(t *testing.T) {
	tests := []struct {
		r        Range
		expected string
	}{
		{Range{Sheet: "Carteira", Left: 1, Top: 2, Right: 19}, "Carteira!A2:S"},
		{Range{Sheet: "Carteira", Left: 1, Top: 2, Right: 19, Bottom: 4001}, "Carteira!A2:S4001"},
		{Range{Sheet: "OBRAS GERAL", Left: 1, Top: 1, Right: 20}, "'OBRAS GERAL'!A1:T"},
		{Range{Sheet: "BD_Config", Left: 5, Top: 7, Right: 5, Bottom: 7}, "BD_Config!E7"},
		{Range{Left: 4, Top: 1, Right: 23}, "D1:W"},
	}

	for _, test := range tests {
		if s := test.r.String(); s != test.expected {
			t.Errorf("Incorrect range string\n   expected: %v\n   got:      %v", test.expected, s)
		}
	}
}

func TestRows(t *testing.T) {
	r := Range{Sheet: "Carteira", Left: 1, Top: 2, Right: 19}

	if s := r.Rows(0, 4000).String(); s != "Carteira!A2:S4001" {
		t.Errorf("Incorrect first chunk range %v", s)
	}

	if s := r.Rows(4000, 10).String(); s != "Carteira!A4002:S4011" {
		t.Errorf("Incorrect second chunk range %v", s)
	}
}

func TestCell(t *testing.T) {
	if s := Cell("BD_Config", 6, 1); s != "BD_Config!F1" {
		t.Errorf("Incorrect cell\n   expected: %v\n   got:      %v", "BD_Config!F1", s)
	}
}
