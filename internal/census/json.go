package census

import (
	"bufio"
	"context"
	"io"
	"os"
	"sort"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/densimap/internal/fetcher"
)

// jsonEnvelope is the wrapped record-list form some statistical-office API
// endpoints return.
type jsonEnvelope struct {
	Data []map[string]any `json:"data"`
}

// LoadJSON reads a population table from a JSON export: either a bare array
// of records or an object with the records under a "data" key. Columns are
// the union of record keys in alphabetical order, so the table is stable
// regardless of per-record key order.
func LoadJSON(ctx context.Context, r io.Reader) (*RawTable, error) {
	br := bufio.NewReader(r)
	first, err := firstNonSpace(br)
	if err != nil {
		return nil, eris.Wrap(err, "census: read json")
	}

	var records []map[string]any
	if first == '{' {
		env, err := fetcher.DecodeJSONObject[jsonEnvelope](br)
		if err != nil {
			return nil, eris.Wrap(err, "census: decode json envelope")
		}
		records = env.Data
	} else {
		recCh, errCh := fetcher.DecodeJSONArray[map[string]any](ctx, br)
		for rec := range recCh {
			records = append(records, rec)
		}
		if err := <-errCh; err != nil {
			return nil, eris.Wrap(err, "census: decode json array")
		}
	}

	t := tableFromRecords(records)
	zap.L().Debug("census: loaded json table",
		zap.Int("columns", len(t.Header)), zap.Int("rows", len(t.Rows)))
	return t, nil
}

// LoadJSONFile opens and reads a JSON population export from disk.
func LoadJSONFile(ctx context.Context, path string) (*RawTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "census: open %s", path)
	}
	defer f.Close()
	return LoadJSON(ctx, f)
}

// firstNonSpace peeks past leading whitespace without consuming anything.
func firstNonSpace(br *bufio.Reader) (byte, error) {
	for n := 1; ; n++ {
		peeked, err := br.Peek(n)
		if err != nil {
			return 0, err
		}
		switch c := peeked[n-1]; c {
		case ' ', '\t', '\r', '\n':
			continue
		default:
			return c, nil
		}
	}
}

func tableFromRecords(records []map[string]any) *RawTable {
	keys := map[string]struct{}{}
	for _, rec := range records {
		for k := range rec {
			keys[k] = struct{}{}
		}
	}
	header := make([]string, 0, len(keys))
	for k := range keys {
		header = append(header, k)
	}
	sort.Strings(header)

	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		row := make([]string, len(header))
		for i, k := range header {
			row[i] = stringifyCell(rec[k])
		}
		rows = append(rows, row)
	}
	return &RawTable{Header: header, Rows: rows}
}

// stringifyCell renders a JSON value the way the CSV exports would print it:
// integral floats without a trailing ".0", null as empty.
func stringifyCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return ""
	}
}
