package vfr

import (
	"context"
	"io"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/densimap/internal/fetcher"
)

// feedEntry is one entry of the registry's Atom download feed.
type feedEntry struct {
	Title string `xml:"title"`
	ID    string `xml:"id"`
	Links []struct {
		Href string `xml:"href,attr"`
		Rel  string `xml:"rel,attr"`
	} `xml:"link"`
}

// FeedLinks extracts the download URLs from an Atom feed of exchange files.
// Self links are skipped; entries without a usable href are ignored. The
// returned order matches the feed.
func FeedLinks(ctx context.Context, r io.Reader) ([]string, error) {
	entryCh, errCh := fetcher.StreamXML[feedEntry](ctx, r, "entry")

	var links []string
	for entry := range entryCh {
		for _, l := range entry.Links {
			if l.Rel == "self" || strings.TrimSpace(l.Href) == "" {
				continue
			}
			links = append(links, l.Href)
			break
		}
	}
	if err := <-errCh; err != nil {
		return nil, eris.Wrap(err, "vfr: read download feed")
	}
	return links, nil
}
