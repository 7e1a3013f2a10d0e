package sources

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lvonguyen/threatlens/internal/threat"
)

const (
	kevDefaultURL = "https://www.cisa.gov/sites/default/files/feeds/known_exploited_vulnerabilities.json"
	kevSourceName = "CISA KEV"
)

// KEVConnector matches the query against the CISA Known Exploited
// Vulnerabilities catalog. The catalog is fetched whole and filtered locally.
type KEVConnector struct {
	config SourceConfig
}

// DefaultKEVConfig returns sensible defaults for the KEV catalog.
func DefaultKEVConfig() SourceConfig {
	return SourceConfig{
		Enabled: true,
		BaseURL: kevDefaultURL,
		Timeout: 10 * time.Second,
		Limit:   25,
	}
}

// NewKEVConnector creates a KEV connector.
func NewKEVConnector(config SourceConfig) *KEVConnector {
	if config.BaseURL == "" {
		config.BaseURL = kevDefaultURL
	}
	if config.Limit <= 0 {
		config.Limit = 25
	}
	return &KEVConnector{config: config}
}

// Name returns the source name.
func (c *KEVConnector) Name() string {
	return kevSourceName
}

// Authority returns the trust tier of CISA.
func (c *KEVConnector) Authority() threat.Authority {
	return threat.AuthorityOfficial
}

// Fetch downloads the catalog and returns entries whose vendor, product or
// name mention every significant query keyword.
func (c *KEVConnector) Fetch(ctx context.Context, client *http.Client, query string) ([]RawItem, error) {
	var catalog kevCatalog
	if err := getJSON(ctx, client, kevSourceName, c.config.BaseURL, nil, &catalog); err != nil {
		return nil, err
	}

	keywords := threat.Keywords(query)
	if len(keywords) == 0 {
		return nil, nil
	}

	var items []RawItem
	for _, v := range catalog.Vulnerabilities {
		haystack := strings.ToLower(strings.Join([]string{v.VendorProject, v.Product, v.VulnerabilityName}, " "))
		if !containsAll(haystack, keywords) {
			continue
		}

		items = append(items, c.toRawItem(v))
		if len(items) >= c.config.Limit {
			break
		}
	}

	return items, nil
}

func (c *KEVConnector) toRawItem(v kevEntry) RawItem {
	// Every catalog entry is exploited in the wild; ransomware use marks it critical.
	severity := "HIGH"
	if strings.EqualFold(v.KnownRansomwareCampaignUse, "Known") {
		severity = "CRITICAL"
	}

	description := v.ShortDescription
	if v.RequiredAction != "" {
		description = fmt.Sprintf("%s Required action: %s", description, v.RequiredAction)
	}

	return RawItem{
		Source:        kevSourceName,
		Authority:     threat.AuthorityOfficial,
		Title:         fmt.Sprintf("%s: %s (known exploited)", v.CVEID, v.VulnerabilityName),
		Description:   description,
		CVEID:         v.CVEID,
		SeverityLabel: severity,
		Published:     v.DateAdded,
		URL:           "https://www.cisa.gov/known-exploited-vulnerabilities-catalog?search_api_fulltext=" + v.CVEID,
	}
}

// KEV Catalog Types

type kevCatalog struct {
	Title           string     `json:"title"`
	CatalogVersion  string     `json:"catalogVersion"`
	DateReleased    string     `json:"dateReleased"`
	Count           int        `json:"count"`
	Vulnerabilities []kevEntry `json:"vulnerabilities"`
}

type kevEntry struct {
	CVEID                      string   `json:"cveID"`
	VendorProject              string   `json:"vendorProject"`
	Product                    string   `json:"product"`
	VulnerabilityName          string   `json:"vulnerabilityName"`
	DateAdded                  string   `json:"dateAdded"`
	ShortDescription           string   `json:"shortDescription"`
	RequiredAction             string   `json:"requiredAction"`
	DueDate                    string   `json:"dueDate"`
	KnownRansomwareCampaignUse string   `json:"knownRansomwareCampaignUse"`
	Notes                      string   `json:"notes"`
	CWEs                       []string `json:"cwes"`
}
