// Package sources provides the security intelligence connectors, the
// normalizer that maps their native shapes onto threat records, and the
// aggregator that fans a query out to every connector.
package sources

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/lvonguyen/threatlens/internal/threat"
)

// Connector fetches and minimally parses one source's response for a query.
type Connector interface {
	Name() string
	Authority() threat.Authority
	Fetch(ctx context.Context, client *http.Client, query string) ([]RawItem, error)
}

// CVSSMetrics holds base scores as reported by a source, per CVSS version,
// in the order the source reported them.
type CVSSMetrics struct {
	V31 []float64 `json:"v31,omitempty"`
	V30 []float64 `json:"v30,omitempty"`
	V2  []float64 `json:"v2,omitempty"`
}

// RawItem is a connector's output before normalization. Fields hold the
// source's own values: dates are unparsed strings and severity is the
// source's own label.
type RawItem struct {
	Source        string           `json:"source"`
	Authority     threat.Authority `json:"authority"`
	Title         string           `json:"title"`
	Description   string           `json:"description"`
	CVEID         string           `json:"cve_id,omitempty"`
	SeverityLabel string           `json:"severity_label,omitempty"`
	Metrics       CVSSMetrics      `json:"metrics"`
	Score         float64          `json:"score,omitempty"`
	Published     string           `json:"published,omitempty"`
	URL           string           `json:"url,omitempty"`
}

// FailureReason classifies why a connector contributed nothing.
type FailureReason string

const (
	ReasonNone       FailureReason = ""
	ReasonTimeout    FailureReason = "timeout"
	ReasonCanceled   FailureReason = "canceled"
	ReasonNetwork    FailureReason = "network"
	ReasonHTTPStatus FailureReason = "http_status"
	ReasonDecode     FailureReason = "decode"
	ReasonConfig     FailureReason = "config"
	ReasonPanic      FailureReason = "panic"
)

// FetchError is a classified connector failure.
type FetchError struct {
	Source     string
	Reason     FailureReason
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Source, e.Reason, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Source, e.Reason, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ErrMissingCredentials is returned by connectors whose API key env var is empty.
var ErrMissingCredentials = errors.New("missing credentials")

// classify turns any connector error into a FetchError.
func classify(source string, err error) *FetchError {
	if err == nil {
		return nil
	}

	var fe *FetchError
	if errors.As(err, &fe) {
		if fe.Source == "" {
			fe.Source = source
		}
		// a deadline hit mid-decode still counts as a timeout
		if fe.Reason != ReasonTimeout && errors.Is(err, context.DeadlineExceeded) {
			fe.Reason = ReasonTimeout
		}
		return fe
	}

	reason := ReasonNetwork
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		reason = ReasonTimeout
	case errors.Is(err, context.Canceled):
		reason = ReasonCanceled
	case errors.Is(err, ErrMissingCredentials):
		reason = ReasonConfig
	case errors.As(err, &netErr) && netErr.Timeout():
		reason = ReasonTimeout
	}

	return &FetchError{Source: source, Reason: reason, Err: err}
}

// Status is the outcome of one connector within a batch.
type Status string

const (
	StatusOK     Status = "ok"
	StatusEmpty  Status = "empty"
	StatusFailed Status = "failed"
)

// Result is one connector's contribution to a batch: either items or a
// classified failure, never both.
type Result struct {
	Source    string           `json:"source"`
	Authority threat.Authority `json:"authority"`
	Status    Status           `json:"status"`
	Reason    FailureReason    `json:"reason,omitempty"`
	Error     string           `json:"error,omitempty"`
	Items     []RawItem        `json:"-"`
	ItemCount int              `json:"item_count"`
	Duration  time.Duration    `json:"duration"`
}

// BatchReport holds every connector result in registration order.
type BatchReport struct {
	Query   string   `json:"query"`
	Results []Result `json:"results"`
}

// Items returns all raw items in registration order.
func (b BatchReport) Items() []RawItem {
	var items []RawItem
	for _, r := range b.Results {
		items = append(items, r.Items...)
	}
	return items
}

// Succeeded returns the number of connectors that did not fail.
func (b BatchReport) Succeeded() int {
	n := 0
	for _, r := range b.Results {
		if r.Status != StatusFailed {
			n++
		}
	}
	return n
}

// Failed returns the results of failed connectors.
func (b BatchReport) Failed() []Result {
	var failed []Result
	for _, r := range b.Results {
		if r.Status == StatusFailed {
			failed = append(failed, r)
		}
	}
	return failed
}

// Empty reports whether no connector returned anything.
func (b BatchReport) Empty() bool {
	for _, r := range b.Results {
		if len(r.Items) > 0 {
			return false
		}
	}
	return true
}

// SourceConfig holds common connector configuration.
type SourceConfig struct {
	Enabled   bool          `yaml:"enabled"`
	BaseURL   string        `yaml:"base_url"`
	APIKeyEnv string        `yaml:"api_key_env"`
	Timeout   time.Duration `yaml:"timeout"`
	Limit     int           `yaml:"limit"`
}

// apiKey reads the configured env var; empty when unset.
func (c SourceConfig) apiKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.APIKeyEnv)
}

const userAgent = "ThreatLens/1.0"
