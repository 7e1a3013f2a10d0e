package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/lvonguyen/threatlens/internal/analyst"
	"github.com/lvonguyen/threatlens/internal/api/gateway"
	"github.com/lvonguyen/threatlens/internal/engine"
	"github.com/lvonguyen/threatlens/internal/mitre"
	"github.com/lvonguyen/threatlens/internal/observability"
	"github.com/lvonguyen/threatlens/internal/sources"
	"github.com/lvonguyen/threatlens/internal/threat"
)

type fakeAnalyzer struct {
	products []string
	err      error
	panicMsg string
}

func (f *fakeAnalyzer) Analyze(_ context.Context, product string) (*engine.Report, error) {
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	f.products = append(f.products, product)
	if f.err != nil {
		return nil, f.err
	}
	if _, err := engine.NormalizeProduct(product); err != nil {
		return nil, err
	}
	return &engine.Report{
		Query: product,
		Threats: []analyst.Assessment{{
			Record: threat.Record{Source: "NVD", CVEID: "CVE-2024-1111", Severity: threat.SeverityCritical},
		}},
		Summary: analyst.Summary{TotalThreats: 1, CriticalCount: 1},
	}, nil
}

type fixedConnector struct {
	name      string
	authority threat.Authority
}

func (c fixedConnector) Name() string                { return c.name }
func (c fixedConnector) Authority() threat.Authority { return c.authority }

func (c fixedConnector) Fetch(context.Context, *http.Client, string) ([]sources.RawItem, error) {
	return nil, nil
}

type countingCounter struct{ n int }

func (c *countingCounter) Incr(context.Context, string, time.Duration) (int, time.Duration, error) {
	c.n++
	return c.n, time.Minute, nil
}

type capturedError struct {
	msg string
	err error
}

type errorSink struct{ recorded []capturedError }

func (e *errorSink) RecordError(_ context.Context, msg string, err error, _ ...zap.Field) {
	e.recorded = append(e.recorded, capturedError{msg: msg, err: err})
}

type keyedCounter struct{ counts map[string]int }

func (c *keyedCounter) Incr(_ context.Context, key string, _ time.Duration) (int, time.Duration, error) {
	c.counts[key]++
	return c.counts[key], time.Minute, nil
}

func newTestServer(a Analyzer, opts Options) http.Handler {
	opts.Analyzer = a
	return NewServer(opts).Router()
}

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/threats/analyze", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// =============================================================================
// Analyze Endpoint Tests
// =============================================================================

// TestAnalyze_OK verifies a valid request returns the report.
func TestAnalyze_OK(t *testing.T) {
	fa := &fakeAnalyzer{}
	h := newTestServer(fa, Options{})

	rec := post(t, h, `{"product":"Apache Tomcat"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var report engine.Report
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.Query != "Apache Tomcat" || len(report.Threats) != 1 {
		t.Errorf("unexpected report %+v", report)
	}
	if report.Threats[0].CVEID != "CVE-2024-1111" {
		t.Errorf("embedded record fields should be flattened, got %+v", report.Threats[0])
	}
	if len(fa.products) != 1 || fa.products[0] != "Apache Tomcat" {
		t.Errorf("analyzer got %v", fa.products)
	}
}

// TestAnalyze_BadRequests verifies malformed bodies and invalid products
// return 400.
func TestAnalyze_BadRequests(t *testing.T) {
	h := newTestServer(&fakeAnalyzer{}, Options{})

	tests := []struct {
		name string
		body string
	}{
		{"empty body", ""},
		{"not json", "product=tomcat"},
		{"too short", `{"product":"ab"}`},
		{"missing product", `{}`},
		{"oversized", fmt.Sprintf(`{"product":%q}`, strings.Repeat("a", 8<<10))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(t, h, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
			if !strings.Contains(rec.Body.String(), `"error"`) {
				t.Errorf("expected error body, got %s", rec.Body.String())
			}
		})
	}
}

// TestAnalyze_InternalError verifies unexpected errors return 500 without
// leaking the message.
func TestAnalyze_InternalError(t *testing.T) {
	h := newTestServer(&fakeAnalyzer{err: errors.New("boom: secret detail")}, Options{})

	rec := post(t, h, `{"product":"Apache Tomcat"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "secret") {
		t.Errorf("error detail leaked: %s", rec.Body.String())
	}
}

// TestAnalyze_InternalErrorRecorded verifies failed analyses reach the error
// recorder.
func TestAnalyze_InternalErrorRecorded(t *testing.T) {
	sink := &errorSink{}
	h := newTestServer(&fakeAnalyzer{err: errors.New("collector exploded")}, Options{Errors: sink})

	post(t, h, `{"product":"Apache Tomcat"}`)

	if len(sink.recorded) != 1 || sink.recorded[0].err.Error() != "collector exploded" {
		t.Errorf("unexpected recorded errors %+v", sink.recorded)
	}

	post(t, newTestServer(&fakeAnalyzer{}, Options{Errors: sink}), `{"product":"ab"}`)
	if len(sink.recorded) != 1 {
		t.Errorf("invalid input should not be recorded as an error, got %d", len(sink.recorded))
	}
}

// TestAnalyze_Panic verifies the recoverer turns a panic into a 500.
func TestAnalyze_Panic(t *testing.T) {
	h := newTestServer(&fakeAnalyzer{panicMsg: "unexpected"}, Options{})

	rec := post(t, h, `{"product":"Apache Tomcat"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

// TestAnalyze_RateLimited verifies the limiter returns 429 on the API group.
func TestAnalyze_RateLimited(t *testing.T) {
	cfg := gateway.DefaultConfig()
	cfg.Tiers = map[string]gateway.TierLimits{"free": {RequestsPerMinute: 1}}
	cfg.Endpoints = nil

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	limiter := gateway.NewRateLimiter(&countingCounter{}, cfg, nil, metrics.ObserveRateLimited)
	h := newTestServer(&fakeAnalyzer{}, Options{Limiter: limiter, Metrics: metrics})

	if rec := post(t, h, `{"product":"Apache Tomcat"}`); rec.Code != http.StatusOK {
		t.Fatalf("first request: got %d", rec.Code)
	}
	rec := post(t, h, `{"product":"Apache Tomcat"}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: expected 429, got %d", rec.Code)
	}
	if got := testutil.ToFloat64(metrics.RateLimited); got != 1 {
		t.Errorf("rate_limited_total = %v, want 1", got)
	}

	// Health is outside the limited group.
	hrec := httptest.NewRecorder()
	h.ServeHTTP(hrec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if hrec.Code != http.StatusOK {
		t.Errorf("health should not be rate limited, got %d", hrec.Code)
	}
}

// TestAnalyze_ForwardingHeadersIgnored verifies rotating forwarding headers
// from one address does not reset the limit unless the proxy is trusted.
func TestAnalyze_ForwardingHeadersIgnored(t *testing.T) {
	send := func(h http.Handler, i int) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/threats/analyze", strings.NewReader(`{"product":"Apache Tomcat"}`))
		req.RemoteAddr = "192.0.2.10:5555"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i))
		req.Header.Set("X-API-Tier", "enterprise")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	newLimited := func(trust bool) http.Handler {
		cfg := gateway.DefaultConfig()
		cfg.Tiers = map[string]gateway.TierLimits{"free": {RequestsPerMinute: 1}, "enterprise": {RequestsPerMinute: 1000}}
		cfg.Endpoints = nil
		limiter := gateway.NewRateLimiter(&keyedCounter{counts: map[string]int{}}, cfg, nil, nil)
		return newTestServer(&fakeAnalyzer{}, Options{Limiter: limiter, TrustProxy: trust})
	}

	h := newLimited(false)
	if code := send(h, 1); code != http.StatusOK {
		t.Fatalf("first request: got %d", code)
	}
	if code := send(h, 2); code != http.StatusTooManyRequests {
		t.Errorf("rotated forwarding header should still be limited, got %d", code)
	}

	trusted := newLimited(true)
	send(trusted, 1)
	if code := send(trusted, 2); code != http.StatusOK {
		t.Errorf("behind a trusted proxy each forwarded client has its own bucket, got %d", code)
	}
}

// =============================================================================
// Probe Endpoint Tests
// =============================================================================

// TestHealth verifies the liveness probe.
func TestHealth(t *testing.T) {
	h := newTestServer(nil, Options{Version: "1.2.3"})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"1.2.3"`) {
		t.Errorf("unexpected health response %d %s", rec.Code, rec.Body.String())
	}
}

// TestReady_Degraded verifies a failing check reports degraded.
func TestReady_Degraded(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	h := newTestServer(nil, Options{
		Metrics: metrics,
		Checks: map[string]Check{
			"redis": func(context.Context) error { return errors.New("connection refused") },
		},
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "degraded" || !strings.HasPrefix(body.Checks["redis"], "unavailable") {
		t.Errorf("unexpected readiness %+v", body)
	}
	if got := testutil.ToFloat64(metrics.HealthStatus.WithLabelValues("redis")); got != 0 {
		t.Errorf("health gauge = %v, want 0", got)
	}
}

// TestMetricsEndpoint verifies request metrics use the route pattern.
func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	h := newTestServer(&fakeAnalyzer{}, Options{
		Metrics:        metrics,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})

	post(t, h, `{"product":"Apache Tomcat"}`)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if !strings.Contains(rec.Body.String(), `path="/api/v1/threats/analyze"`) {
		t.Errorf("expected analyze route in metrics, got:\n%s", rec.Body.String())
	}
}

// TestSources verifies configured connectors are listed in order.
func TestSources(t *testing.T) {
	h := newTestServer(nil, Options{
		Connectors: []sources.Connector{
			fixedConnector{name: "NVD", authority: threat.AuthorityOfficial},
			fixedConnector{name: "Reddit NetSec", authority: threat.AuthorityCommunity},
		},
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sources", nil))

	var body struct {
		Sources []SourceInfo `json:"sources"`
		Count   int          `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 2 || body.Sources[0].Name != "NVD" || body.Sources[1].Authority != "COMMUNITY" {
		t.Errorf("unexpected sources %+v", body)
	}
}

// TestTechniques verifies the ATT&CK catalog listing by tactic.
func TestTechniques(t *testing.T) {
	h := newTestServer(nil, Options{Attack: mitre.NewAttackFramework(nil)})

	get := func(url string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
		return rec
	}

	for _, tactic := range []string{"impact", "TA0040"} {
		rec := get("/api/v1/attack/techniques?tactic=" + tactic)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", tactic, rec.Code)
		}
		var body struct {
			Tactic     mitre.Tactic      `json:"tactic"`
			Techniques []mitre.Technique `json:"techniques"`
			Count      int               `json:"count"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Tactic.ID != "TA0040" || body.Count != 2 || body.Techniques[0].ID != "T1486" {
			t.Errorf("%s: unexpected body %+v", tactic, body)
		}
	}

	if rec := get("/api/v1/attack/techniques"); rec.Code != http.StatusBadRequest {
		t.Errorf("missing tactic: expected 400, got %d", rec.Code)
	}
	if rec := get("/api/v1/attack/techniques?tactic=telepathy"); rec.Code != http.StatusNotFound {
		t.Errorf("unknown tactic: expected 404, got %d", rec.Code)
	}
}
