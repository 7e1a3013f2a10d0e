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
	githubDefaultBaseURL = "https://api.github.com/advisories"
	githubSourceName     = "GitHub Security Advisory"
)

// GitHubConnector queries the GitHub global security advisory database for
// reviewed advisories affecting the queried product.
type GitHubConnector struct {
	config SourceConfig
}

// DefaultGitHubConfig returns sensible defaults for GitHub advisories.
func DefaultGitHubConfig() SourceConfig {
	return SourceConfig{
		Enabled:   true,
		BaseURL:   githubDefaultBaseURL,
		APIKeyEnv: "GITHUB_TOKEN",
		Timeout:   10 * time.Second,
		Limit:     30,
	}
}

// NewGitHubConnector creates a GitHub advisories connector.
func NewGitHubConnector(config SourceConfig) *GitHubConnector {
	if config.BaseURL == "" {
		config.BaseURL = githubDefaultBaseURL
	}
	if config.Limit <= 0 {
		config.Limit = 30
	}
	return &GitHubConnector{config: config}
}

// Name returns the source name.
func (c *GitHubConnector) Name() string {
	return githubSourceName
}

// Authority returns the trust tier of GitHub advisories.
func (c *GitHubConnector) Authority() threat.Authority {
	return threat.AuthorityVerified
}

// Fetch lists reviewed advisories whose affected packages match the query.
// The token is optional; anonymous requests get a lower rate limit.
func (c *GitHubConnector) Fetch(ctx context.Context, client *http.Client, query string) ([]RawItem, error) {
	params := url.Values{}
	params.Set("type", "reviewed")
	params.Set("per_page", fmt.Sprintf("%d", c.config.Limit))
	params.Set("affects", strings.ToLower(strings.Join(strings.Fields(query), "-")))
	fullURL := strings.TrimSuffix(c.config.BaseURL, "/") + "?" + params.Encode()

	headers := map[string]string{
		"Accept":               "application/vnd.github+json",
		"X-GitHub-Api-Version": "2022-11-28",
	}
	if token := c.config.apiKey(); token != "" {
		headers["Authorization"] = "Bearer " + token
	}

	var advisories []githubAdvisory
	if err := getJSON(ctx, client, githubSourceName, fullURL, headers, &advisories); err != nil {
		return nil, err
	}

	items := make([]RawItem, 0, len(advisories))
	for _, a := range advisories {
		items = append(items, a.toRawItem())
	}

	return items, nil
}

// GitHub API Response Types

type githubAdvisory struct {
	GHSAID      string      `json:"ghsa_id"`
	CVEID       string      `json:"cve_id"`
	Summary     string      `json:"summary"`
	Description string      `json:"description"`
	Severity    string      `json:"severity"`
	HTMLURL     string      `json:"html_url"`
	PublishedAt string      `json:"published_at"`
	CVSS        *githubCVSS `json:"cvss"`
}

type githubCVSS struct {
	VectorString string  `json:"vector_string"`
	Score        float64 `json:"score"`
}

func (a githubAdvisory) toRawItem() RawItem {
	id := a.CVEID
	if id == "" {
		id = a.GHSAID
	}

	var score float64
	if a.CVSS != nil {
		score = a.CVSS.Score
	}

	return RawItem{
		Source:        githubSourceName,
		Authority:     threat.AuthorityVerified,
		Title:         fmt.Sprintf("%s: %s", id, a.Summary),
		Description:   a.Description,
		CVEID:         a.CVEID,
		SeverityLabel: a.Severity,
		Score:         score,
		Published:     a.PublishedAt,
		URL:           a.HTMLURL,
	}
}
