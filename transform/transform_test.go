package transform

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToCurrency(t *testing.T) {
	tests := []struct {
		value    any
		expected any
	}{
		{"R$ 1.234,56", 1234.56},
		{"1.234,56", 1234.56},
		{"'1234,5", 1234.5},
		{"R$ 1.234", 1234.0},
		{"1.234.567", 1234567.0},
		{"1234.56", 123456.0},
		{"-12,00", -12.0},
		{"R$ 0,00", 0.0},
		{"", ""},
		{"R$ -", ""},
		{"n/a", ""},
		{nil, ""},
		{42.5, 42.5},
		{7, 7.0},
	}

	for _, test := range tests {
		if got := ToCurrency(test.value); got != test.expected {
			t.Errorf("Incorrect currency value for '%v'\n   expected: %v\n   got:      %v", test.value, test.expected, got)
		}
	}
}

func TestToDate(t *testing.T) {
	tests := []struct {
		value    any
		expected any
	}{
		{"2025-03-01", "01/03/2025"},
		{"01/03/2025", "01/03/2025"},
		{"1/3/2025", "01/03/2025"},
		{"01/03/25", "01/03/2025"},
		{"'01/03/2025", "01/03/2025"},
		{"01-03-2025", "01/03/2025"},
		{"01/03/2025 14:30:00", "01/03/2025"},
		{"", ""},
		{nil, ""},
		{"31/02/2025", "31/02/2025"},
	}

	for _, test := range tests {
		if got := ToDate(test.value); got != test.expected {
			t.Errorf("Incorrect date for '%v'\n   expected: %v\n   got:      %v", test.value, test.expected, got)
		}
	}
}

func TestToSerial(t *testing.T) {
	tests := []struct {
		value    any
		expected any
	}{
		{"01/03/2025", 45717},
		{"31/12/2024", 45657},
		{"01/01/1900", 2},
		{"'01/03/2025", 45717},
		{"45717", 45717},
		{"45717.75", 45717},
		{45717.0, 45717},
		{"", ""},
		{"soon", ""},
	}

	for _, test := range tests {
		if got := ToSerial(test.value); got != test.expected {
			t.Errorf("Incorrect serial for '%v'\n   expected: %v\n   got:      %v", test.value, test.expected, got)
		}
	}
}

func TestToText(t *testing.T) {
	assert.Equal(t, "00123", ToText("'00123"))
	assert.Equal(t, "OBRA 12", ToText("  OBRA 12 "))
	assert.Equal(t, 12.0, ToText(12.0))
}

func TestApply(t *testing.T) {
	rows := [][]any{
		{"101", "R$ 1.234,56", "2025-03-01", "01/03/2025", "'X"},
		{"102", "", "01/03/25"},
	}

	rules := []Rule{
		{Columns: []string{"C"}, Kind: Currency},
		{Columns: []string{"D"}, Kind: Date},
		{Columns: []string{"E"}, Kind: Serial},
		{Columns: []string{"F"}, Kind: Text},
	}

	require.NoError(t, Apply(rows, rules, 2))

	expected := [][]any{
		{"101", 1234.56, "01/03/2025", 45717, "X"},
		{"102", "", "01/03/2025"},
	}

	if diff := cmp.Diff(expected, rows); diff != "" {
		t.Errorf("Incorrect rows:\n%v", diff)
	}
}

func TestApplyWithInvalidRules(t *testing.T) {
	rows := [][]any{{"1"}}

	assert.Error(t, Apply(rows, []Rule{{Columns: []string{"A"}, Kind: "upper"}}, 1))
	assert.Error(t, Apply(rows, []Rule{{Columns: []string{"1A"}, Kind: Date}}, 1))
	assert.Error(t, Apply(rows, []Rule{{Columns: []string{"A"}, Kind: Date}}, 3))
}

func TestPad(t *testing.T) {
	rows := Pad([][]any{{"a"}, {"a", "b", "c"}, {}}, 3)

	assert.Equal(t, [][]any{{"a", "", ""}, {"a", "b", "c"}, {"", "", ""}}, rows)
}
