package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/lvonguyen/threatlens/internal/threat"
)

const (
	nvdDefaultBaseURL = "https://services.nvd.nist.gov/rest/json/cves/2.0"
	nvdSourceName     = "NVD"
)

// NVDConnector queries the NVD CVE API 2.0 by keyword.
type NVDConnector struct {
	config  SourceConfig
	limiter *rate.Limiter
}

// DefaultNVDConfig returns sensible defaults for NVD.
func DefaultNVDConfig() SourceConfig {
	return SourceConfig{
		Enabled:   true,
		BaseURL:   nvdDefaultBaseURL,
		APIKeyEnv: "NVD_API_KEY",
		Timeout:   10 * time.Second,
		Limit:     20,
	}
}

// NewNVDConnector creates an NVD connector. NVD allows 5 requests per 30
// seconds without a key and 50 with one.
func NewNVDConnector(config SourceConfig) *NVDConnector {
	if config.BaseURL == "" {
		config.BaseURL = nvdDefaultBaseURL
	}
	if config.Limit <= 0 {
		config.Limit = 20
	}

	perWindow := 5.0
	if config.apiKey() != "" {
		perWindow = 50.0
	}

	return &NVDConnector{
		config:  config,
		limiter: rate.NewLimiter(rate.Limit(perWindow/30.0), int(perWindow)),
	}
}

// Name returns the source name.
func (c *NVDConnector) Name() string {
	return nvdSourceName
}

// Authority returns the trust tier of NVD.
func (c *NVDConnector) Authority() threat.Authority {
	return threat.AuthorityOfficial
}

// Fetch searches NVD for CVEs mentioning the query.
func (c *NVDConnector) Fetch(ctx context.Context, client *http.Client, query string) ([]RawItem, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, classify(nvdSourceName, fmt.Errorf("waiting for rate limit: %w", err))
	}

	params := url.Values{}
	params.Set("keywordSearch", query)
	params.Set("resultsPerPage", fmt.Sprintf("%d", c.config.Limit))
	fullURL := strings.TrimSuffix(c.config.BaseURL, "/") + "?" + params.Encode()

	headers := map[string]string{}
	if key := c.config.apiKey(); key != "" {
		headers["apiKey"] = key
	}

	var resp nvdResponse
	if err := getJSON(ctx, client, nvdSourceName, fullURL, headers, &resp); err != nil {
		return nil, err
	}

	items := make([]RawItem, 0, len(resp.Vulnerabilities))
	for _, v := range resp.Vulnerabilities {
		items = append(items, c.toRawItem(v.CVE))
	}

	return items, nil
}

func (c *NVDConnector) toRawItem(cve nvdCVE) RawItem {
	description := englishDescription(cve.Descriptions)

	var metrics CVSSMetrics
	if cve.Metrics != nil {
		for _, m := range cve.Metrics.CvssMetricV31 {
			metrics.V31 = append(metrics.V31, m.CvssData.BaseScore)
		}
		for _, m := range cve.Metrics.CvssMetricV30 {
			metrics.V30 = append(metrics.V30, m.CvssData.BaseScore)
		}
		for _, m := range cve.Metrics.CvssMetricV2 {
			metrics.V2 = append(metrics.V2, m.CvssData.BaseScore)
		}
	}

	return RawItem{
		Source:        nvdSourceName,
		Authority:     threat.AuthorityOfficial,
		Title:         fmt.Sprintf("%s: %s", cve.ID, firstSentence(description)),
		Description:   description,
		CVEID:         cve.ID,
		SeverityLabel: cve.baseSeverity(),
		Metrics:       metrics,
		Published:     cve.Published,
		URL:           "https://nvd.nist.gov/vuln/detail/" + cve.ID,
	}
}

func englishDescription(descs []nvdDescription) string {
	for _, d := range descs {
		if d.Lang == "en" {
			return d.Value
		}
	}
	if len(descs) > 0 {
		return descs[0].Value
	}
	return ""
}

// firstSentence returns text up to its first period, for use as a title.
func firstSentence(text string) string {
	if idx := strings.Index(text, ". "); idx > 0 {
		return text[:idx]
	}
	return strings.TrimSuffix(text, ".")
}

// NVD API Response Types

type nvdResponse struct {
	ResultsPerPage  int                `json:"resultsPerPage"`
	TotalResults    int                `json:"totalResults"`
	Vulnerabilities []nvdVulnerability `json:"vulnerabilities"`
}

type nvdVulnerability struct {
	CVE nvdCVE `json:"cve"`
}

type nvdCVE struct {
	ID           string           `json:"id"`
	Published    string           `json:"published"`
	LastModified string           `json:"lastModified"`
	VulnStatus   string           `json:"vulnStatus"`
	Descriptions []nvdDescription `json:"descriptions"`
	Metrics      *nvdMetrics      `json:"metrics"`
}

// baseSeverity returns the severity of the preferred metric version.
func (c nvdCVE) baseSeverity() string {
	if c.Metrics == nil {
		return ""
	}
	switch {
	case len(c.Metrics.CvssMetricV31) > 0:
		return c.Metrics.CvssMetricV31[0].CvssData.BaseSeverity
	case len(c.Metrics.CvssMetricV30) > 0:
		return c.Metrics.CvssMetricV30[0].CvssData.BaseSeverity
	case len(c.Metrics.CvssMetricV2) > 0:
		return c.Metrics.CvssMetricV2[0].BaseSeverity
	}
	return ""
}

type nvdDescription struct {
	Lang  string `json:"lang"`
	Value string `json:"value"`
}

type nvdMetrics struct {
	CvssMetricV31 []nvdCvssMetricV3 `json:"cvssMetricV31,omitempty"`
	CvssMetricV30 []nvdCvssMetricV3 `json:"cvssMetricV30,omitempty"`
	CvssMetricV2  []nvdCvssMetricV2 `json:"cvssMetricV2,omitempty"`
}

type nvdCvssMetricV3 struct {
	Source   string        `json:"source"`
	Type     string        `json:"type"`
	CvssData nvdCvssDataV3 `json:"cvssData"`
}

type nvdCvssDataV3 struct {
	Version      string  `json:"version"`
	VectorString string  `json:"vectorString"`
	AttackVector string  `json:"attackVector"`
	BaseScore    float64 `json:"baseScore"`
	BaseSeverity string  `json:"baseSeverity"`
}

type nvdCvssMetricV2 struct {
	Source       string        `json:"source"`
	Type         string        `json:"type"`
	CvssData     nvdCvssDataV2 `json:"cvssData"`
	BaseSeverity string        `json:"baseSeverity"`
}

type nvdCvssDataV2 struct {
	Version      string  `json:"version"`
	VectorString string  `json:"vectorString"`
	AccessVector string  `json:"accessVector"`
	BaseScore    float64 `json:"baseScore"`
}
