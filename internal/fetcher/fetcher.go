// Package fetcher downloads source files over HTTP(S) and FTP with per-host
// rate limiting, and provides streaming decoders for the formats statistical
// offices publish: CSV, JSON, XLSX, XML, and ZIP archives.
package fetcher

import (
	"context"
	"io"
)

// Fetcher is the download contract shared by the HTTP and FTP clients.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL into path and returns the bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}

var (
	_ Fetcher = (*HTTPFetcher)(nil)
	_ Fetcher = (*FTPFetcher)(nil)
)
