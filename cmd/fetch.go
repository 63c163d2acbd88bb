package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/densimap/internal/fetcher"
	"github.com/sells-group/densimap/internal/resilience"
	"github.com/sells-group/densimap/internal/vfr"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <url>...",
	Short: "Download boundary and census source files",
	Long: `Downloads source files over HTTP(S) or FTP with per-host rate limiting and
retries. With --feed each URL is read as an Atom feed of the state registry
and every linked archive is downloaded instead. ZIP archives are unpacked in
place with --extract.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("fetch"); err != nil {
			return err
		}

		outDir, _ := cmd.Flags().GetString("out")
		extract, _ := cmd.Flags().GetBool("extract")
		feed, _ := cmd.Flags().GetBool("feed")
		concurrency, _ := cmd.Flags().GetInt("concurrency")

		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return eris.Wrapf(err, "fetch: create output dir %s", outDir)
		}

		httpF := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
			UserAgent:    cfg.Fetch.UserAgent,
			Timeout:      time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
			MaxRetries:   cfg.Fetch.MaxRetries,
			RateLimiters: rateLimiters(cfg.Fetch.RatePerSec),
		})
		ftpF := fetcher.NewFTPFetcher(fetcher.FTPOptions{
			Timeout: time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
		})
		retryCfg := ftpRetryConfig(cfg.Fetch.MaxRetries)

		downloads := args
		if feed {
			links, err := resolveFeeds(ctx, httpF, args)
			if err != nil {
				return err
			}
			if len(links) == 0 {
				return eris.New("fetch: feeds list no archives")
			}
			zap.L().Info("fetch: resolved feeds",
				zap.Int("feeds", len(args)), zap.Int("archives", len(links)))
			downloads = links
		}

		g, gCtx := errgroup.WithContext(ctx)
		g.SetLimit(concurrency)
		for _, rawURL := range downloads {
			g.Go(func() error {
				return fetchOne(gCtx, httpF, ftpF, retryCfg, rawURL, outDir, extract)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		fmt.Printf("Fetched %d files to %s\n", len(downloads), outDir)
		return nil
	},
}

func init() {
	fetchCmd.Flags().String("out", ".", "download directory")
	fetchCmd.Flags().Bool("extract", false, "unpack downloaded ZIP archives")
	fetchCmd.Flags().Bool("feed", false, "treat URLs as Atom feeds and download the linked archives")
	fetchCmd.Flags().Int("concurrency", 3, "parallel downloads")
	rootCmd.AddCommand(fetchCmd)
}

// ftpRetryConfig builds the retry policy for FTP downloads.
func ftpRetryConfig(maxAttempts int) resilience.RetryConfig {
	rc := resilience.DefaultRetryConfig()
	if maxAttempts > 0 {
		rc.MaxAttempts = maxAttempts
	}
	rc.OnRetry = resilience.RetryLogger("ftp", "download")
	return rc
}

// rateLimiters returns the per-host limiter set, with every known host capped
// at perSec when the config overrides the defaults.
func rateLimiters(perSec float64) map[string]*rate.Limiter {
	limiters := fetcher.DefaultRateLimiters()
	if perSec <= 0 {
		return limiters
	}
	burst := int(perSec)
	if burst < 1 {
		burst = 1
	}
	for host := range limiters {
		limiters[host] = rate.NewLimiter(rate.Limit(perSec), burst)
	}
	return limiters
}

// resolveFeeds downloads each Atom feed and collects its archive links.
func resolveFeeds(ctx context.Context, f *fetcher.HTTPFetcher, feedURLs []string) ([]string, error) {
	var links []string
	for _, feedURL := range feedURLs {
		body, err := f.Download(ctx, feedURL)
		if err != nil {
			return nil, eris.Wrapf(err, "fetch: download feed %s", feedURL)
		}
		ls, err := vfr.FeedLinks(ctx, body)
		_ = body.Close()
		if err != nil {
			return nil, eris.Wrapf(err, "fetch: parse feed %s", feedURL)
		}
		links = append(links, ls...)
	}
	return links, nil
}

func fetchOne(ctx context.Context, httpF *fetcher.HTTPFetcher, ftpF *fetcher.FTPFetcher, retry resilience.RetryConfig, rawURL, outDir string, extract bool) error {
	scheme, name, err := parseFetchURL(rawURL)
	if err != nil {
		return err
	}
	dest := filepath.Join(outDir, name)

	var n int64
	if scheme == "ftp" {
		// The FTP client has no retry of its own, unlike the HTTP fetcher.
		n, err = resilience.DoVal(ctx, retry, func(ctx context.Context) (int64, error) {
			return ftpF.DownloadToFile(ctx, rawURL, dest)
		})
	} else {
		n, err = httpF.DownloadToFile(ctx, rawURL, dest)
	}
	if err != nil {
		return eris.Wrapf(err, "fetch: download %s", rawURL)
	}
	zap.L().Info("fetch: downloaded", zap.String("url", rawURL), zap.Int64("bytes", n))

	if extract && strings.EqualFold(filepath.Ext(dest), ".zip") {
		files, err := fetcher.ExtractZIP(dest, outDir)
		if err != nil {
			return eris.Wrapf(err, "fetch: extract %s", dest)
		}
		zap.L().Info("fetch: extracted archive",
			zap.String("archive", name), zap.Int("files", len(files)))
	}
	return nil
}

// parseFetchURL validates the scheme and derives the local filename.
func parseFetchURL(rawURL string) (string, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", eris.Wrapf(err, "fetch: parse url %s", rawURL)
	}
	switch u.Scheme {
	case "http", "https", "ftp":
	default:
		return "", "", eris.Errorf("fetch: unsupported scheme %q in %s", u.Scheme, rawURL)
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		name = "download"
	}
	return u.Scheme, name, nil
}
