package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/lvonguyen/threatlens/internal/threat"
)

const searchDefaultBaseURL = "https://www.googleapis.com/customsearch/v1"

var cvssPattern = regexp.MustCompile(`(?i)CVSS(?:v3(?:\.1)?)?[:\s]+(\d+(?:\.\d)?)`)

// SiteConfig names one security database searched through the web search API.
type SiteConfig struct {
	Name      string           `yaml:"name"`
	Domain    string           `yaml:"domain"`
	Authority threat.Authority `yaml:"authority"`
	Enabled   bool             `yaml:"enabled"`
}

// WebSearchConfig configures the site-restricted web search connectors.
type WebSearchConfig struct {
	Enabled        bool          `yaml:"enabled"`
	BaseURL        string        `yaml:"base_url"`
	APIKeyEnv      string        `yaml:"api_key_env"`
	EngineIDEnv    string        `yaml:"engine_id_env"`
	Timeout        time.Duration `yaml:"timeout"`
	ResultsPerSite int           `yaml:"results_per_site"`
	RatePerSecond  float64       `yaml:"rate_per_second"`
	Burst          int           `yaml:"burst"`
	Sites          []SiteConfig  `yaml:"sites"`
}

// DefaultWebSearchConfig returns the built-in site list.
func DefaultWebSearchConfig() WebSearchConfig {
	return WebSearchConfig{
		Enabled:        true,
		BaseURL:        searchDefaultBaseURL,
		APIKeyEnv:      "GOOGLE_API_KEY",
		EngineIDEnv:    "GOOGLE_CSE_ID",
		Timeout:        10 * time.Second,
		ResultsPerSite: 5,
		RatePerSecond:  4,
		Burst:          4,
		Sites: []SiteConfig{
			{Name: "Exploit Database", Domain: "exploit-db.com", Authority: threat.AuthorityVerified, Enabled: true},
			{Name: "Rapid7", Domain: "rapid7.com", Authority: threat.AuthorityVerified, Enabled: true},
			{Name: "Packet Storm", Domain: "packetstormsecurity.com", Authority: threat.AuthorityVerified, Enabled: true},
			{Name: "Vulners", Domain: "vulners.com", Authority: threat.AuthorityVerified, Enabled: true},
			{Name: "CVE Details", Domain: "cvedetails.com", Authority: threat.AuthorityVerified, Enabled: true},
			{Name: "Snyk", Domain: "security.snyk.io", Authority: threat.AuthorityVerified, Enabled: true},
			{Name: "Tenable", Domain: "tenable.com", Authority: threat.AuthorityVerified, Enabled: true},
			{Name: "CERT/CC", Domain: "kb.cert.org", Authority: threat.AuthorityOfficial, Enabled: true},
			{Name: "0day.today", Domain: "0day.today", Authority: threat.AuthorityCommunity, Enabled: true},
			{Name: "Full Disclosure", Domain: "seclists.org", Authority: threat.AuthorityCommunity, Enabled: true},
			{Name: "HackerOne", Domain: "hackerone.com", Authority: threat.AuthorityCommunity, Enabled: true},
			{Name: "Reddit NetSec", Domain: "reddit.com/r/netsec", Authority: threat.AuthorityCommunity, Enabled: true},
		},
	}
}

// SearchConnector searches one site through the Google Programmable Search
// JSON API. Connectors built by NewSearchConnectors share a limiter.
type SearchConnector struct {
	site    SiteConfig
	config  WebSearchConfig
	limiter *rate.Limiter
}

// NewSearchConnectors builds one connector per enabled site, all drawing
// from one outbound limiter.
func NewSearchConnectors(config WebSearchConfig) []*SearchConnector {
	if config.BaseURL == "" {
		config.BaseURL = searchDefaultBaseURL
	}
	if config.ResultsPerSite <= 0 {
		config.ResultsPerSite = 5
	}
	if config.RatePerSecond <= 0 {
		config.RatePerSecond = 4
	}
	if config.Burst <= 0 {
		config.Burst = 1
	}

	limiter := rate.NewLimiter(rate.Limit(config.RatePerSecond), config.Burst)

	var connectors []*SearchConnector
	for _, site := range config.Sites {
		if !site.Enabled {
			continue
		}
		connectors = append(connectors, &SearchConnector{
			site:    site,
			config:  config,
			limiter: limiter,
		})
	}
	return connectors
}

// Name returns the site name.
func (c *SearchConnector) Name() string {
	return c.site.Name
}

// Authority returns the configured trust tier of the site.
func (c *SearchConnector) Authority() threat.Authority {
	return c.site.Authority
}

// Fetch runs a site-restricted search for the query.
func (c *SearchConnector) Fetch(ctx context.Context, client *http.Client, query string) ([]RawItem, error) {
	key := os.Getenv(c.config.APIKeyEnv)
	engineID := os.Getenv(c.config.EngineIDEnv)
	if key == "" || engineID == "" {
		return nil, classify(c.site.Name, fmt.Errorf("%s/%s: %w", c.config.APIKeyEnv, c.config.EngineIDEnv, ErrMissingCredentials))
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, classify(c.site.Name, fmt.Errorf("waiting for rate limit: %w", err))
	}

	params := url.Values{}
	params.Set("key", key)
	params.Set("cx", engineID)
	params.Set("q", fmt.Sprintf("%s vulnerability site:%s", query, c.site.Domain))
	params.Set("num", strconv.Itoa(c.config.ResultsPerSite))
	fullURL := strings.TrimSuffix(c.config.BaseURL, "/") + "?" + params.Encode()

	var resp searchResponse
	if err := getJSON(ctx, client, c.site.Name, fullURL, nil, &resp); err != nil {
		return nil, err
	}

	items := make([]RawItem, 0, len(resp.Items))
	for _, r := range resp.Items {
		items = append(items, c.toRawItem(r))
	}

	return items, nil
}

func (c *SearchConnector) toRawItem(r searchItem) RawItem {
	text := r.Title + " " + r.Snippet

	var score float64
	if m := cvssPattern.FindStringSubmatch(text); m != nil {
		score, _ = strconv.ParseFloat(m[1], 64)
	}

	return RawItem{
		Source:      c.site.Name,
		Authority:   c.site.Authority,
		Title:       r.Title,
		Description: stripTags(r.Snippet),
		CVEID:       threat.FindCVE(text),
		Score:       score,
		Published:   r.published(),
		URL:         r.Link,
	}
}

// Search API Response Types

type searchResponse struct {
	Items []searchItem `json:"items"`
}

type searchItem struct {
	Title   string                `json:"title"`
	Link    string                `json:"link"`
	Snippet string                `json:"snippet"`
	PageMap map[string][]metaTags `json:"pagemap"`
}

type metaTags map[string]any

// published returns the article date from page metadata when the site
// exposes one.
func (i searchItem) published() string {
	for _, tags := range i.PageMap["metatags"] {
		for _, key := range []string{"article:published_time", "og:published_time", "datePublished", "date"} {
			if v, ok := tags[key].(string); ok && v != "" {
				return v
			}
		}
	}
	return ""
}
