package tablerender

import (
	"strings"
	"testing"

	"slackcourier/internal/query"
)

func TestRenderEmptyResult(t *testing.T) {
	if got := Render(nil, VizConfig{}, "x"); got != "" {
		t.Fatalf("nil result rendered %q", got)
	}
	if got := Render(&query.Result{}, VizConfig{}, "x"); got != "" {
		t.Fatalf("empty result rendered %q", got)
	}
}

func TestRenderTitleDefault(t *testing.T) {
	res := &query.Result{Columns: []string{"a"}, Rows: []query.Row{{"a": "v"}}}
	html := Render(res, VizConfig{}, "")
	if !strings.Contains(html, "Data Results") {
		t.Fatalf("default title missing:\n%s", html)
	}
	html = Render(res, VizConfig{}, "Weekly Revenue")
	if !strings.Contains(html, "Weekly Revenue") {
		t.Fatalf("custom title missing")
	}
}

func TestFormatValueTable(t *testing.T) {
	currency := ColumnConfig{Format: "Currency", Currency: "$ (USD)"}
	zero := 0
	cases := []struct {
		name string
		v    any
		cc   ColumnConfig
		want string
	}{
		{"nil dash", nil, ColumnConfig{}, "-"},
		{"currency grouping", 1234.5, currency, "$1,234.50"},
		{"currency negative", -9876543.21, currency, "$-9,876,543.21"},
		{"euro", 10.0, ColumnConfig{Format: "Currency", Currency: "€ (EUR)"}, "€10.00"},
		{"number grouping", 1234567.0, ColumnConfig{Format: "Number"}, "1,234,567.00"},
		{"number zero decimals", 1234567.0, ColumnConfig{Format: "Number", DecimalPlaces: &zero}, "1,234,567"},
		{"percent", 12.5, ColumnConfig{Format: "Percent"}, "12.50%"},
		{"iso date", "2026-03-15", ColumnConfig{}, "3/15/2026"},
		{"iso datetime", "2026-03-15T10:30:00Z", ColumnConfig{}, "3/15/2026"},
		{"plain text", "hello", ColumnConfig{}, "hello"},
		{"whole float no decimals in text", 42.0, ColumnConfig{}, "42"},
	}
	for _, tc := range cases {
		if got := formatValue(tc.v, tc.cc); got != tc.want {
			t.Fatalf("%s: got %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestBackgroundColorDisabledWithoutFlag(t *testing.T) {
	cc := ColumnConfig{Format: "Number", ConditionalFormatting: "No"}
	if got := backgroundColor(5.0, cc, []any{1.0, 5.0, 10.0}); got != "" {
		t.Fatalf("background without flag: %q", got)
	}
	// text columns never get a background even when flagged
	cc = ColumnConfig{Format: "Text", ConditionalFormatting: "Yes", ColorScale: ScaleGreenRed}
	if got := backgroundColor("abc", cc, []any{"abc"}); got != "" {
		t.Fatalf("background on text column: %q", got)
	}
}

func TestBackgroundColorAllEqualIsNeutral(t *testing.T) {
	cc := ColumnConfig{Format: "Number", ConditionalFormatting: "Yes", ColorScale: ScaleGreenRed}
	if got := backgroundColor(7.0, cc, []any{7.0, 7.0, 7.0}); got != "" {
		t.Fatalf("all-equal column got background %q", got)
	}
}

func TestBackgroundColorAnchors(t *testing.T) {
	cc := ColumnConfig{Format: "Number", ConditionalFormatting: "Yes", ColorScale: ScaleGreenRed}
	all := []any{0.0, 50.0, 100.0}

	if got := backgroundColor(0.0, cc, all); got != "rgba(87, 187, 138, 0.85)" {
		t.Fatalf("min anchor: %q", got)
	}
	if got := backgroundColor(100.0, cc, all); got != "rgba(231, 127, 114, 0.85)" {
		t.Fatalf("max anchor: %q", got)
	}
	// the median lands exactly on the yellow midpoint
	if got := backgroundColor(50.0, cc, all); got != "rgba(254, 208, 102, 0.85)" {
		t.Fatalf("median anchor: %q", got)
	}
}

func TestBackgroundColorInvertedScale(t *testing.T) {
	cc := ColumnConfig{Format: "Number", ConditionalFormatting: "Yes", ColorScale: ScaleRedGreen}
	all := []any{0.0, 50.0, 100.0}
	if got := backgroundColor(0.0, cc, all); got != "rgba(231, 127, 114, 0.85)" {
		t.Fatalf("min anchor on inverted scale: %q", got)
	}
	if got := backgroundColor(100.0, cc, all); got != "rgba(87, 187, 138, 0.85)" {
		t.Fatalf("max anchor on inverted scale: %q", got)
	}
}

func TestRenderUsesColumnOrder(t *testing.T) {
	res := &query.Result{
		Columns: []string{"z_col", "a_col"},
		Rows:    []query.Row{{"z_col": "1", "a_col": "2"}},
	}
	html := Render(res, VizConfig{}, "t")
	if strings.Index(html, "z_col") > strings.Index(html, "a_col") {
		t.Fatalf("column order not preserved")
	}
}

func TestRenderAppliesConditionalBackground(t *testing.T) {
	cfg := VizConfig{TableConfig: map[string]ColumnConfig{
		"amount": {Format: "Number", ConditionalFormatting: "Yes", ColorScale: ScaleGreenRed, Alignment: "Right"},
	}}
	res := &query.Result{
		Columns: []string{"amount"},
		Rows:    []query.Row{{"amount": 1.0}, {"amount": 2.0}, {"amount": 3.0}},
	}
	html := Render(res, cfg, "t")
	if !strings.Contains(html, "background-color: rgba(") {
		t.Fatalf("no conditional background in output")
	}
	if !strings.Contains(html, `class="text-right"`) {
		t.Fatalf("alignment class missing")
	}
}
