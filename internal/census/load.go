package census

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"

	"github.com/sells-group/densimap/internal/fetcher"
)

// LoadOptions configures population table loading. The statistical-office
// CSV exports default to semicolon delimiters; older ones ship in
// windows-1250.
type LoadOptions struct {
	Delimiter rune   // default ';'
	Encoding  string // IANA charset name, default UTF-8
}

// LoadCSV reads a delimited population table into a RawTable.
func LoadCSV(ctx context.Context, r io.Reader, opts LoadOptions) (*RawTable, error) {
	if opts.Encoding != "" && !strings.EqualFold(opts.Encoding, "utf-8") {
		enc, err := htmlindex.Get(strings.ToLower(opts.Encoding))
		if err != nil {
			return nil, eris.Wrapf(err, "census: unknown encoding %q", opts.Encoding)
		}
		r = transform.NewReader(r, enc.NewDecoder())
	}
	delim := opts.Delimiter
	if delim == 0 {
		delim = ';'
	}

	headerCh := make(chan []string, 1)
	rowCh, errCh := fetcher.StreamCSV(ctx, r, fetcher.CSVOptions{
		Delimiter:  delim,
		HasHeader:  true,
		HeaderCh:   headerCh,
		LazyQuotes: true,
		TrimSpace:  true,
	})

	t := &RawTable{}
	for row := range rowCh {
		t.Rows = append(t.Rows, row)
	}
	if err := <-errCh; err != nil {
		return nil, eris.Wrap(err, "census: read csv")
	}
	select {
	case h := <-headerCh:
		t.Header = h
	default:
		return nil, eris.New("census: csv has no header row")
	}

	zap.L().Debug("census: loaded csv table",
		zap.Int("columns", len(t.Header)), zap.Int("rows", len(t.Rows)))
	return t, nil
}

// LoadCSVFile opens and reads a delimited population table from disk.
func LoadCSVFile(ctx context.Context, path string, opts LoadOptions) (*RawTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "census: open %s", path)
	}
	defer f.Close()
	return LoadCSV(ctx, f, opts)
}

// LoadXLSX reads the first (or named) sheet of an XLSX workbook into a
// RawTable, first row as header.
func LoadXLSX(path, sheet string) (*RawTable, error) {
	rows, err := fetcher.ReadXLSX(path, fetcher.XLSXOptions{SheetName: sheet})
	if err != nil {
		return nil, eris.Wrap(err, "census: read xlsx")
	}
	if len(rows) == 0 {
		return nil, eris.Errorf("census: %s has no rows", path)
	}
	return &RawTable{Header: rows[0], Rows: rows[1:]}, nil
}
