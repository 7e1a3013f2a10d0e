package sources

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/lvonguyen/threatlens/internal/threat"
)

// FeedConfig describes one vendor advisory feed.
type FeedConfig struct {
	Name    string        `yaml:"name"`
	URL     string        `yaml:"url"`
	Enabled bool          `yaml:"enabled"`
	Timeout time.Duration `yaml:"timeout"`
	Limit   int           `yaml:"limit"`
}

// DefaultVendorFeeds returns the built-in vendor advisory feeds.
func DefaultVendorFeeds() []FeedConfig {
	return []FeedConfig{
		{
			Name:    "Microsoft MSRC",
			URL:     "https://api.msrc.microsoft.com/update-guide/rss",
			Enabled: true,
			Timeout: 10 * time.Second,
			Limit:   15,
		},
		{
			Name:    "Mozilla Security Advisories",
			URL:     "https://www.mozilla.org/en-US/security/advisories/feed/",
			Enabled: true,
			Timeout: 10 * time.Second,
			Limit:   15,
		},
	}
}

// FeedConnector reads a vendor RSS or Atom advisory feed and keeps the
// entries that mention the query.
type FeedConnector struct {
	config FeedConfig
	parser *gofeed.Parser
}

// NewFeedConnector creates a connector for one vendor feed.
func NewFeedConnector(config FeedConfig) *FeedConnector {
	if config.Limit <= 0 {
		config.Limit = 15
	}
	return &FeedConnector{
		config: config,
		parser: gofeed.NewParser(),
	}
}

// Name returns the feed name.
func (c *FeedConnector) Name() string {
	return c.config.Name
}

// Authority returns OFFICIAL; vendor feeds are first-party.
func (c *FeedConnector) Authority() threat.Authority {
	return threat.AuthorityOfficial
}

// Fetch downloads the feed and returns entries matching any significant
// query keyword.
func (c *FeedConnector) Fetch(ctx context.Context, client *http.Client, query string) ([]RawItem, error) {
	body, err := get(ctx, client, c.config.Name, c.config.URL, map[string]string{
		"Accept": "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8",
	})
	if err != nil {
		return nil, err
	}

	feed, err := c.parser.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, &FetchError{Source: c.config.Name, Reason: ReasonDecode, Err: fmt.Errorf("parsing feed: %w", err)}
	}

	keywords := threat.Keywords(query)
	if len(keywords) == 0 {
		return nil, nil
	}

	var items []RawItem
	for _, entry := range feed.Items {
		if entry == nil {
			continue
		}
		text := strings.ToLower(entry.Title + " " + entry.Description)
		if !containsAny(text, keywords) {
			continue
		}

		items = append(items, c.toRawItem(entry))
		if len(items) >= c.config.Limit {
			break
		}
	}

	return items, nil
}

func (c *FeedConnector) toRawItem(entry *gofeed.Item) RawItem {
	description := entry.Description
	if description == "" {
		description = entry.Content
	}

	published := entry.Published
	switch {
	case entry.PublishedParsed != nil:
		published = entry.PublishedParsed.UTC().Format(time.RFC3339)
	case entry.UpdatedParsed != nil:
		published = entry.UpdatedParsed.UTC().Format(time.RFC3339)
	case published == "":
		published = entry.Updated
	}

	cveID := threat.FindCVE(entry.Title)
	if cveID == threat.NoCVE {
		cveID = threat.FindCVE(description)
	}

	return RawItem{
		Source:        c.config.Name,
		Authority:     threat.AuthorityOfficial,
		Title:         entry.Title,
		Description:   stripTags(description),
		CVEID:         cveID,
		SeverityLabel: severityLabelFromText(entry.Title + " " + description),
		Published:     published,
		URL:           entry.Link,
	}
}
