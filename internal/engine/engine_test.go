package engine

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/lvonguyen/threatlens/internal/analyst"
	"github.com/lvonguyen/threatlens/internal/config"
	"github.com/lvonguyen/threatlens/internal/mitre"
	"github.com/lvonguyen/threatlens/internal/observability"
	"github.com/lvonguyen/threatlens/internal/ranking"
	"github.com/lvonguyen/threatlens/internal/sources"
	"github.com/lvonguyen/threatlens/internal/threat"
)

var fixedNow = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

// fakeSource returns canned items or blocks until its deadline.
type fakeSource struct {
	name      string
	authority threat.Authority
	items     []sources.RawItem
	hang      bool
}

func (f *fakeSource) Name() string                { return f.name }
func (f *fakeSource) Authority() threat.Authority { return f.authority }

func (f *fakeSource) Fetch(ctx context.Context, _ *http.Client, _ string) ([]sources.RawItem, error) {
	if f.hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.items, nil
}

func newTestEngine(t *testing.T, metrics *observability.Metrics, connectors ...*fakeSource) *Engine {
	t.Helper()

	agg := sources.NewAggregator(nil, metrics)
	for _, c := range connectors {
		agg.Register(c, 50*time.Millisecond)
	}

	e, err := New(agg, Options{
		Weights: ranking.DefaultWeights(),
		Rules:   analyst.DefaultRules(),
		Attack:  mitre.NewAttackFramework(nil),
		Metrics: metrics,
		Now:     func() time.Time { return fixedNow },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func tomcatNVD() *fakeSource {
	return &fakeSource{
		name:      "NVD",
		authority: threat.AuthorityOfficial,
		items: []sources.RawItem{
			{
				Title:       "CVE-2024-1111",
				Description: "Apache Tomcat partial PUT allows remote code execution by unauthenticated attackers.",
				CVEID:       "CVE-2024-1111",
				Metrics:     sources.CVSSMetrics{V31: []float64{9.8}},
				Published:   "2024-03-01T10:00:00.000",
			},
			{
				Title:       "CVE-2023-2222",
				Description: "Apache Tomcat information disclosure in error pages.",
				CVEID:       "CVE-2023-2222",
				Metrics:     sources.CVSSMetrics{V31: []float64{5.3}},
				Published:   "2023-01-15T10:00:00.000",
			},
			{
				Title:       "CVE-2022-3333",
				Description: "Apache Tomcat request smuggling.",
				CVEID:       "CVE-2022-3333",
				Metrics:     sources.CVSSMetrics{V2: []float64{7.5}},
				Published:   "2022-05-10T10:00:00.000",
			},
		},
	}
}

func hanging(name string, a threat.Authority) *fakeSource {
	return &fakeSource{name: name, authority: a, hang: true}
}

// =============================================================================
// Analyze Tests
// =============================================================================

// TestAnalyze_OnlyNVDResponds verifies an analysis still succeeds when every
// source except NVD times out.
func TestAnalyze_OnlyNVDResponds(t *testing.T) {
	e := newTestEngine(t, nil,
		tomcatNVD(),
		hanging("CISA KEV", threat.AuthorityOfficial),
		hanging("GitHub Security Advisory", threat.AuthorityVerified),
		hanging("Exploit Database", threat.AuthorityVerified),
		hanging("Reddit NetSec", threat.AuthorityCommunity),
	)

	report, err := e.Analyze(context.Background(), "  Apache   Tomcat ")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if report.Query != "Apache Tomcat" {
		t.Errorf("query not normalized: %q", report.Query)
	}
	if len(report.Threats) != 3 {
		t.Fatalf("expected 3 threats, got %d", len(report.Threats))
	}
	for _, a := range report.Threats {
		if a.Source != "NVD" {
			t.Errorf("unexpected source %q", a.Source)
		}
		if a.EnsembleScore == nil {
			t.Errorf("%s has no ensemble score", a.CVEID)
		}
		if a.RelevanceScore != 0.8 {
			t.Errorf("%s relevance = %v, want 0.8", a.CVEID, a.RelevanceScore)
		}
	}
	if report.Threats[0].CVEID != "CVE-2024-1111" {
		t.Errorf("expected the critical CVE first, got %s", report.Threats[0].CVEID)
	}
	if report.Threats[0].Severity != threat.SeverityCritical {
		t.Errorf("expected CRITICAL from CVSS 9.8, got %s", report.Threats[0].Severity)
	}

	if len(report.Sources) != 5 {
		t.Fatalf("expected 5 source results, got %d", len(report.Sources))
	}
	for _, r := range report.Sources[1:] {
		if r.Status != sources.StatusFailed || r.Reason != sources.ReasonTimeout {
			t.Errorf("%s: expected timeout failure, got %s/%s", r.Source, r.Status, r.Reason)
		}
	}

	if report.Summary.TotalThreats != 3 || report.Summary.CriticalCount != 1 {
		t.Errorf("unexpected summary %+v", report.Summary)
	}
	if report.Stages.Collected != 3 || report.Stages.Ranked != 3 {
		t.Errorf("unexpected stage counts %+v", report.Stages)
	}
}

// TestAnalyze_NoResults verifies an unknown product yields an empty report,
// not an error.
func TestAnalyze_NoResults(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	e := newTestEngine(t, metrics,
		&fakeSource{name: "NVD", authority: threat.AuthorityOfficial},
		&fakeSource{name: "CISA KEV", authority: threat.AuthorityOfficial},
		&fakeSource{name: "Exploit Database", authority: threat.AuthorityVerified},
	)

	report, err := e.Analyze(context.Background(), "Nonexistent Software XYZ123")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if len(report.Threats) != 0 || report.Threats == nil {
		t.Errorf("expected empty non-nil threats, got %v", report.Threats)
	}
	if report.Summary.TotalThreats != 0 {
		t.Errorf("expected totalThreats 0, got %d", report.Summary.TotalThreats)
	}
	if len(report.Summary.Recommendations) != 1 ||
		!strings.Contains(report.Summary.Recommendations[0], "No relevant threats") {
		t.Errorf("unexpected recommendations %v", report.Summary.Recommendations)
	}
	for _, r := range report.Sources {
		if r.Status != sources.StatusEmpty {
			t.Errorf("%s: expected empty, got %s", r.Source, r.Status)
		}
	}

	if got := testutil.ToFloat64(metrics.AnalysesTotal.WithLabelValues("empty")); got != 1 {
		t.Errorf("analyses_total{outcome=empty} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.ConnectorRequests.WithLabelValues("NVD", "empty")); got != 1 {
		t.Errorf("connector_requests_total{NVD,empty} = %v, want 1", got)
	}
}

// TestAnalyze_CollapsesDuplicatesAcrossSources verifies one CVE reported by
// several sources becomes one finding.
func TestAnalyze_CollapsesDuplicatesAcrossSources(t *testing.T) {
	github := &fakeSource{
		name:      "GitHub Security Advisory",
		authority: threat.AuthorityVerified,
		items: []sources.RawItem{{
			Title:         "CVE-2024-1111: Apache Tomcat remote code execution",
			Description:   "Apache Tomcat partial PUT RCE.",
			CVEID:         "cve-2024-1111",
			SeverityLabel: "critical",
			Score:         9.8,
			Published:     "2024-03-02T00:00:00Z",
		}},
	}
	exploitDB := &fakeSource{
		name:      "Exploit Database",
		authority: threat.AuthorityVerified,
		items: []sources.RawItem{{
			Title:       "Apache Tomcat 10.1 - Remote Code Execution (exploit)",
			Description: "Working exploit for Apache Tomcat.",
			CVEID:       "CVE-2024-1111",
			Score:       8.1,
		}},
	}

	e := newTestEngine(t, nil, tomcatNVD(), github, exploitDB)

	report, err := e.Analyze(context.Background(), "Apache Tomcat")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	count := 0
	for _, a := range report.Threats {
		if a.CVEID == "CVE-2024-1111" {
			count++
			if a.Source != "NVD" {
				t.Errorf("expected NVD to win the tie on CVSS by authority, got %s", a.Source)
			}
		}
	}
	if count != 1 {
		t.Errorf("expected CVE-2024-1111 once, got %d", count)
	}
	if report.Stages.Relevant != 5 || report.Stages.Deduped != 3 {
		t.Errorf("unexpected stage counts %+v", report.Stages)
	}
}

// TestAnalyze_InvalidQuery verifies length bounds after normalization.
func TestAnalyze_InvalidQuery(t *testing.T) {
	e := newTestEngine(t, nil, tomcatNVD())

	for _, q := range []string{"", "  ab  ", strings.Repeat("x", 101)} {
		_, err := e.Analyze(context.Background(), q)
		if !errors.Is(err, ErrInvalidQuery) {
			t.Errorf("%q: expected ErrInvalidQuery, got %v", q, err)
		}
	}

	if _, err := e.Analyze(context.Background(), "  a   b  "); err != nil {
		t.Errorf("\"a b\" is 3 characters after normalization: %v", err)
	}
}

// TestNew_RejectsBadWeights verifies invalid weights fail construction.
func TestNew_RejectsBadWeights(t *testing.T) {
	w := ranking.DefaultWeights()
	w.Retention.FinalTopN = 0

	if _, err := New(sources.NewAggregator(nil, nil), Options{Weights: w}); err == nil {
		t.Fatal("expected error for invalid weights")
	}
	if _, err := New(nil, Options{Weights: ranking.DefaultWeights()}); err == nil {
		t.Fatal("expected error for nil collector")
	}
}

// =============================================================================
// Wiring Tests
// =============================================================================

// TestFromConfig verifies default wiring without optional credentials.
func TestFromConfig(t *testing.T) {
	t.Setenv("SHODAN_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("GOOGLE_CSE_ID", "")

	e, agg, err := FromConfig(config.DefaultConfig(), nil, nil)
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	if e == nil {
		t.Fatal("expected an engine")
	}
	if e.Attack() == nil {
		t.Error("expected the ATT&CK catalog to be wired")
	}

	var names []string
	for _, c := range agg.Connectors() {
		names = append(names, c.Name())
	}
	want := []string{"NVD", "CISA KEV", "Microsoft MSRC", "Mozilla Security Advisories", "GitHub Security Advisory"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("connectors = %v, want %v", names, want)
	}
}
