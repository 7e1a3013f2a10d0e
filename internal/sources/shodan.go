package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lvonguyen/threatlens/internal/threat"
)

const (
	shodanDefaultBaseURL = "https://api.shodan.io"
	shodanSourceName     = "Shodan"
)

// ShodanConnector reports which CVEs are most common on internet-exposed
// hosts running the queried product, using Shodan's vuln facet.
type ShodanConnector struct {
	config SourceConfig
}

// DefaultShodanConfig returns defaults for Shodan. The connector only runs
// when SHODAN_API_KEY is set.
func DefaultShodanConfig() SourceConfig {
	return SourceConfig{
		Enabled:   true,
		BaseURL:   shodanDefaultBaseURL,
		APIKeyEnv: "SHODAN_API_KEY",
		Timeout:   10 * time.Second,
		Limit:     10,
	}
}

// NewShodanConnector creates a Shodan connector.
func NewShodanConnector(config SourceConfig) *ShodanConnector {
	if config.BaseURL == "" {
		config.BaseURL = shodanDefaultBaseURL
	}
	if config.Limit <= 0 {
		config.Limit = 10
	}
	return &ShodanConnector{config: config}
}

// Name returns the source name.
func (c *ShodanConnector) Name() string {
	return shodanSourceName
}

// Authority returns the trust tier of Shodan.
func (c *ShodanConnector) Authority() threat.Authority {
	return threat.AuthorityVerified
}

// Fetch returns one item per CVE in the vuln facet for the query.
func (c *ShodanConnector) Fetch(ctx context.Context, client *http.Client, query string) ([]RawItem, error) {
	key := c.config.apiKey()
	if key == "" {
		return nil, classify(shodanSourceName, fmt.Errorf("%s: %w", c.config.APIKeyEnv, ErrMissingCredentials))
	}

	params := url.Values{}
	params.Set("key", key)
	params.Set("query", fmt.Sprintf("product:%q", query))
	params.Set("facets", fmt.Sprintf("vuln:%d", c.config.Limit))
	fullURL := strings.TrimSuffix(c.config.BaseURL, "/") + "/shodan/host/count?" + params.Encode()

	var resp shodanCountResponse
	if err := getJSON(ctx, client, shodanSourceName, fullURL, nil, &resp); err != nil {
		return nil, err
	}

	facets := resp.Facets["vuln"]
	items := make([]RawItem, 0, len(facets))
	for _, f := range facets {
		cveID := strings.ToUpper(f.Value)
		if !threat.IsCVE(cveID) {
			continue
		}
		items = append(items, RawItem{
			Source:      shodanSourceName,
			Authority:   threat.AuthorityVerified,
			Title:       fmt.Sprintf("%s observed on exposed %s hosts", cveID, query),
			Description: fmt.Sprintf("%s is reported on %d of %d internet-facing hosts matching %s.", cveID, f.Count, resp.Total, query),
			CVEID:       cveID,
			URL:         "https://www.shodan.io/search?query=" + url.QueryEscape("vuln:"+cveID),
		})
	}

	return items, nil
}

// Shodan API Response Types

type shodanCountResponse struct {
	Total  int                      `json:"total"`
	Facets map[string][]shodanFacet `json:"facets"`
}

type shodanFacet struct {
	Count int    `json:"count"`
	Value string `json:"value"`
}
