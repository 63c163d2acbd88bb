// Package census turns raw statistical-office tables into per-year population
// sums keyed by administrative unit code, and joins them onto boundary
// features.
package census

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// RawTable is a parsed delimited table: a header row and data records.
type RawTable struct {
	Header []string
	Rows   [][]string
}

// AggregateOptions names the columns Aggregate reads. Column matching is
// case-insensitive. FilterColumn/FilterValue restrict aggregation to rows
// whose filter cell equals the value, for sources that mix indicators in one
// file; both empty means no filtering.
type AggregateOptions struct {
	KeyColumn    string
	YearColumn   string
	ValueColumn  string
	FilterColumn string
	FilterValue  string
}

// Table maps year -> area code -> summed population value.
type Table struct {
	years   []string
	data    map[string]map[string]float64
	skipped int
}

// Years returns the distinct years in ascending calendar order. Years that
// parse as integers sort numerically, anything else lexicographically.
func (t *Table) Years() []string {
	if t == nil {
		return nil
	}
	return t.years
}

// Year returns the code -> value map for one year, nil when absent.
func (t *Table) Year(year string) map[string]float64 {
	if t == nil {
		return nil
	}
	return t.data[year]
}

// IsEmpty reports whether no values were aggregated.
func (t *Table) IsEmpty() bool {
	return t == nil || len(t.data) == 0
}

// Skipped reports how many rows Aggregate dropped for a missing key or year
// or an unparseable value. Filtered-out rows are not counted.
func (t *Table) Skipped() int {
	if t == nil {
		return 0
	}
	return t.skipped
}

// Aggregate sums the value column grouped by (year, area code). Rows with a
// missing key or year, rows excluded by the filter, and values that fail to
// parse or are non-finite are skipped and counted, never fatal. Only the
// named columns must exist.
func Aggregate(t *RawTable, opts AggregateOptions) (*Table, error) {
	if t == nil {
		return &Table{data: map[string]map[string]float64{}}, nil
	}
	cols := mapColumns(t.Header)

	keyIdx, ok := cols[strings.ToLower(opts.KeyColumn)]
	if !ok {
		return nil, eris.Errorf("census: key column %q not in header", opts.KeyColumn)
	}
	yearIdx, ok := cols[strings.ToLower(opts.YearColumn)]
	if !ok {
		return nil, eris.Errorf("census: year column %q not in header", opts.YearColumn)
	}
	valIdx, ok := cols[strings.ToLower(opts.ValueColumn)]
	if !ok {
		return nil, eris.Errorf("census: value column %q not in header", opts.ValueColumn)
	}
	filterIdx := -1
	if opts.FilterColumn != "" {
		filterIdx, ok = cols[strings.ToLower(opts.FilterColumn)]
		if !ok {
			return nil, eris.Errorf("census: filter column %q not in header", opts.FilterColumn)
		}
	}

	data := make(map[string]map[string]float64)
	skipped := 0
	filtered := 0
	for i, rec := range t.Rows {
		if filterIdx >= 0 {
			if cell(rec, filterIdx) != opts.FilterValue {
				filtered++
				continue
			}
		}
		key := strings.TrimSpace(cell(rec, keyIdx))
		year := strings.TrimSpace(cell(rec, yearIdx))
		if key == "" || year == "" {
			skipped++
			zap.L().Debug("census: row missing key or year", zap.Int("row", i))
			continue
		}
		val, ok := parseValue(cell(rec, valIdx))
		if !ok {
			skipped++
			zap.L().Debug("census: unparseable value", zap.Int("row", i))
			continue
		}
		byCode := data[year]
		if byCode == nil {
			byCode = make(map[string]float64)
			data[year] = byCode
		}
		byCode[key] += val
	}

	years := make([]string, 0, len(data))
	for y := range data {
		years = append(years, y)
	}
	sortYears(years)

	if skipped > 0 || filtered > 0 {
		zap.L().Info("census: aggregated population table",
			zap.Int("rows", len(t.Rows)),
			zap.Int("years", len(years)),
			zap.Int("skipped", skipped),
			zap.Int("filtered_out", filtered))
	}
	return &Table{years: years, data: data, skipped: skipped}, nil
}

func cell(rec []string, idx int) string {
	if idx < 0 || idx >= len(rec) {
		return ""
	}
	return rec[idx]
}

// mapColumns builds a lowercase column name -> index map.
func mapColumns(header []string) map[string]int {
	m := make(map[string]int, len(header))
	for i, col := range header {
		m[strings.ToLower(strings.TrimSpace(col))] = i
	}
	return m
}

// parseValue parses a population count. Statistical-office exports use
// spaces (plain or non-breaking) as thousands separators and sometimes a
// decimal comma.
func parseValue(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, " ", "")
	if !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func sortYears(years []string) {
	sort.Slice(years, func(i, j int) bool {
		a, aerr := strconv.Atoi(years[i])
		b, berr := strconv.Atoi(years[j])
		if aerr == nil && berr == nil {
			return a < b
		}
		return years[i] < years[j]
	})
}
