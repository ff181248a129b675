package tablerender

import (
	"encoding/json"
	"fmt"
	"html"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"slackcourier/internal/query"
)

// Render is a pure function from a query result and visualization config to
// a styled HTML document. Returns "" when there is nothing to render.
func Render(res *query.Result, cfg VizConfig, title string) string {
	if res.Empty() {
		return ""
	}
	if title == "" {
		title = "Data Results"
	}

	headers := columns(res)

	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"UTF-8\">\n<style>\n")
	b.WriteString(tableCSS)
	b.WriteString("</style>\n</head>\n<body>\n<div class=\"table-container\">\n")
	fmt.Fprintf(&b, "<h3 class=\"table-title\">%s</h3>\n", html.EscapeString(title))
	b.WriteString("<table>\n<thead>\n<tr>\n")
	for _, h := range headers {
		cc := columnConfig(h, cfg)
		fmt.Fprintf(&b, "<th class=%q>%s</th>", alignClass(cc.Alignment), html.EscapeString(h))
	}
	b.WriteString("\n</tr>\n</thead>\n<tbody>\n")

	// Column values are gathered once so conditional formatting ranks the
	// whole column, not the row.
	colValues := make(map[string][]any, len(headers))
	for _, h := range headers {
		vals := make([]any, 0, len(res.Rows))
		for _, row := range res.Rows {
			vals = append(vals, row[h])
		}
		colValues[h] = vals
	}

	for _, row := range res.Rows {
		b.WriteString("<tr>")
		for _, h := range headers {
			cc := columnConfig(h, cfg)
			formatted := formatValue(row[h], cc)
			bg := backgroundColor(row[h], cc, colValues[h])
			style := ""
			if bg != "" {
				style = fmt.Sprintf(" style=\"background-color: %s\"", bg)
			}
			fmt.Fprintf(&b, "<td class=%q%s title=%q>%s</td>",
				alignClass(cc.Alignment), style, formatted, html.EscapeString(formatted))
		}
		b.WriteString("</tr>\n")
	}

	b.WriteString("</tbody>\n</table>\n</div>\n</body>\n</html>\n")
	return b.String()
}

func columns(res *query.Result) []string {
	if len(res.Columns) > 0 {
		return res.Columns
	}
	first := res.Rows[0]
	out := make([]string, 0, len(first))
	for k := range first {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func alignClass(alignment string) string {
	switch alignment {
	case "Left":
		return "text-left"
	case "Right":
		return "text-right"
	default:
		return "text-center"
	}
}

var (
	isoDateTimeRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}`)
	isoDateRe     = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

func formatValue(v any, cc ColumnConfig) string {
	if v == nil {
		return "-"
	}

	if t, ok := v.(time.Time); ok {
		return localeDate(t)
	}
	if s, ok := v.(string); ok {
		if isoDateTimeRe.MatchString(s) {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				return localeDate(t)
			}
			if t, err := time.Parse("2006-01-02T15:04:05", s[:19]); err == nil {
				return localeDate(t)
			}
		}
		if isoDateRe.MatchString(s) {
			if t, err := time.Parse("2006-01-02", s); err == nil {
				return localeDate(t)
			}
		}
	}

	switch cc.Format {
	case "Currency":
		n, ok := toNumber(v)
		if !ok {
			return stringify(v)
		}
		return currencySymbol(cc.Currency) + groupedFixed(n, cc.decimals())
	case "Number":
		n, ok := toNumber(v)
		if !ok {
			return stringify(v)
		}
		return groupedFixed(n, cc.decimals())
	case "Percent":
		n, ok := toNumber(v)
		if !ok {
			return stringify(v)
		}
		return strconv.FormatFloat(n, 'f', cc.decimals(), 64) + "%"
	default:
		return stringify(v)
	}
}

// localeDate renders M/D/YYYY, matching en-US short dates.
func localeDate(t time.Time) string {
	return fmt.Sprintf("%d/%d/%d", int(t.Month()), t.Day(), t.Year())
}

func currencySymbol(currency string) string {
	switch currency {
	case "€ (EUR)":
		return "€"
	case "£ (GBP)":
		return "£"
	default:
		return "$"
	}
}

// groupedFixed formats with fixed decimal places and thousands separators,
// e.g. 1234.5 with 2 places -> "1,234.50".
func groupedFixed(n float64, decimals int) string {
	s := strconv.FormatFloat(n, 'f', decimals, 64)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	intPart, fracPart, hasFrac := strings.Cut(s, ".")
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, d := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(d)
	}
	if hasFrac {
		b.WriteByte('.')
		b.WriteString(fracPart)
	}
	return b.String()
}

func stringify(v any) string {
	if f, ok := v.(float64); ok && f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return fmt.Sprint(v)
}

func toNumber(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func conditionalAllowed(format string) bool {
	switch format {
	case "Number", "Currency", "Percent":
		return true
	}
	return false
}

var (
	colorGreen  = [3]int{87, 187, 138}
	colorYellow = [3]int{254, 208, 102}
	colorRed    = [3]int{231, 127, 114}
)

// backgroundColor interpolates a two-segment gradient between three anchors
// so the median value stays visually neutral regardless of skew. A column
// where all values are equal gets no background.
func backgroundColor(v any, cc ColumnConfig, all []any) string {
	if cc.ConditionalFormatting != "Yes" || !conditionalAllowed(cc.Format) {
		return ""
	}
	n, ok := toNumber(v)
	if !ok {
		return ""
	}

	nums := make([]float64, 0, len(all))
	for _, a := range all {
		if f, ok := toNumber(a); ok {
			nums = append(nums, f)
		}
	}
	if len(nums) == 0 {
		return ""
	}
	sort.Float64s(nums)
	low := nums[0]
	high := nums[len(nums)-1]
	mid := nums[len(nums)/2]
	if low == high {
		return ""
	}

	var pos float64
	if n <= mid {
		if mid == low {
			pos = 0
		} else {
			pos = (n - low) / (mid - low) * 0.5
		}
	} else {
		pos = 0.5 + (n-mid)/(high-mid)*0.5
	}

	linear := (n - low) / (high - low)

	switch cc.ColorScale {
	case ScaleGreenRed:
		return threeColor(colorGreen, colorYellow, colorRed, pos)
	case ScaleRedGreen:
		return threeColor(colorRed, colorYellow, colorGreen, pos)
	case ScaleGreenWhite:
		alpha := (1 - linear) * 0.8
		return fmt.Sprintf("rgba(87, 187, 138, %s)", trimFloat(alpha))
	case ScaleWhiteGreen:
		alpha := linear * 0.8
		if alpha == 0 {
			return "rgba(255, 255, 255, 0)"
		}
		return fmt.Sprintf("rgba(87, 187, 138, %s)", trimFloat(alpha))
	default:
		return ""
	}
}

func threeColor(lowC, midC, highC [3]int, pos float64) string {
	var c [3]int
	if pos <= 0.5 {
		c = interpolate(lowC, midC, pos*2)
	} else {
		c = interpolate(midC, highC, (pos-0.5)*2)
	}
	return fmt.Sprintf("rgba(%d, %d, %d, 0.85)", c[0], c[1], c[2])
}

func interpolate(c1, c2 [3]int, factor float64) [3]int {
	var out [3]int
	for i := 0; i < 3; i++ {
		out[i] = c1[i] + int(math.Round(factor*float64(c2[i]-c1[i])))
	}
	return out
}

func trimFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

const tableCSS = `body {
  font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', 'Roboto', 'Helvetica Neue', sans-serif;
  margin: 0;
  padding: 20px;
  background-color: #ffffff;
}
.table-container {
  background-color: white;
  border-radius: 8px;
  overflow: hidden;
  box-shadow: 0 1px 3px rgba(0, 0, 0, 0.1);
  border: 1px solid #e5e7eb;
}
.table-title {
  background-color: #f9fafb;
  padding: 16px 20px;
  border-bottom: 1px solid #e5e7eb;
  font-size: 16px;
  font-weight: 600;
  color: #374151;
  margin: 0;
}
table {
  width: 100%;
  border-collapse: collapse;
  font-size: 13px;
}
th {
  background-color: #B1E4E3;
  color: #374151;
  font-weight: 600;
  padding: 12px 16px;
  border-bottom: 2px solid #9fd3d1;
  white-space: nowrap;
}
td {
  padding: 10px 16px;
  border-bottom: 1px solid #f3f4f6;
  color: #374151;
  max-width: 200px;
  overflow: hidden;
  text-overflow: ellipsis;
  white-space: nowrap;
}
tr:nth-child(even) { background-color: #f9fafb; }
.text-left { text-align: left; }
.text-center { text-align: center; }
.text-right { text-align: right; font-variant-numeric: tabular-nums; }
`
