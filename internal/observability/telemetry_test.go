package observability

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/lvonguyen/threatlens/internal/sources"
)

// =============================================================================
// Metrics Tests
// =============================================================================

// TestObserveConnector verifies connector observations land on the right
// label sets.
func TestObserveConnector(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveConnector("NVD", sources.StatusOK, 200*time.Millisecond, 7)
	m.ObserveConnector("NVD", sources.StatusOK, 100*time.Millisecond, 3)
	m.ObserveConnector("Exploit Database", sources.StatusFailed, time.Second, 0)

	if got := testutil.ToFloat64(m.ConnectorRequests.WithLabelValues("NVD", "ok")); got != 2 {
		t.Errorf("NVD ok requests = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ConnectorItems.WithLabelValues("NVD")); got != 10 {
		t.Errorf("NVD items = %v, want 10", got)
	}
	if got := testutil.ToFloat64(m.ConnectorRequests.WithLabelValues("Exploit Database", "failed")); got != 1 {
		t.Errorf("failed requests = %v, want 1", got)
	}
}

// TestMetrics_NilReceiver verifies disabled metrics are safe to call.
func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics

	m.ObserveConnector("NVD", sources.StatusOK, time.Second, 1)
	m.ObserveStage(StageRanked, 3)
	m.ObserveAnalysis("ok", time.Second)
	m.ObserveTechniques([]string{"T1190"})
	m.ObserveRequest("GET", "/health", 200, time.Millisecond)
	m.ObserveRateLimited()
	m.SetHealth("redis", true)

	var r sources.Recorder = m
	r.ObserveConnector("NVD", sources.StatusEmpty, time.Second, 0)
}

// TestObserveStage verifies the stage gauge holds the latest value.
func TestObserveStage(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveStage(StageRetained, 40)
	m.ObserveStage(StageRetained, 12)

	if got := testutil.ToFloat64(m.PipelineRecords.WithLabelValues(StageRetained)); got != 12 {
		t.Errorf("retained = %v, want 12", got)
	}
}

// =============================================================================
// Telemetry Tests
// =============================================================================

// TestNew_MetricsHandler verifies the handler serves this instance's registry.
func TestNew_MetricsHandler(t *testing.T) {
	cfg := DefaultConfig()
	tel, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer tel.Shutdown(context.Background())

	tel.Metrics().ObserveAnalysis("ok", time.Second)

	rec := httptest.NewRecorder()
	tel.MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `threatlens_analyses_total{outcome="ok"} 1`) {
		t.Errorf("expected analyses counter in output, got:\n%s", body)
	}
}

// TestNew_Independent verifies two instances do not share a registry.
func TestNew_Independent(t *testing.T) {
	a, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("second New should not panic on duplicate registration: %v", err)
	}

	a.Metrics().ObserveRateLimited()
	if got := testutil.ToFloat64(b.Metrics().RateLimited); got != 0 {
		t.Errorf("instance b saw a's counter: %v", got)
	}
}

// TestNew_MetricsDisabled verifies Metrics is nil when disabled.
func TestNew_MetricsDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MetricsEnabled = false

	tel, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if tel.Metrics() != nil {
		t.Error("expected nil metrics")
	}
	if tel.Logger() == nil || tel.Tracer() == nil {
		t.Error("logger and tracer should always be set")
	}
}

// =============================================================================
// Error Recording Tests
// =============================================================================

// TestRecordError verifies the error lands on the active span and in the log.
func TestRecordError(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	tel := &Telemetry{logger: zap.New(core)}

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer tp.Shutdown(context.Background())

	ctx, span := tp.Tracer("test").Start(context.Background(), "api.Analyze")
	tel.RecordError(ctx, "Analysis failed", errors.New("collector exploded"), zap.String("request_id", "r1"))
	span.End()

	ended := recorder.Ended()
	if len(ended) != 1 {
		t.Fatalf("expected 1 span, got %d", len(ended))
	}
	if ended[0].Status().Code != codes.Error || len(ended[0].Events()) == 0 {
		t.Errorf("span should carry the error, got status %+v events %d", ended[0].Status(), len(ended[0].Events()))
	}

	entries := logs.FilterMessage("Analysis failed").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["error"] != "collector exploded" || fields["request_id"] != "r1" {
		t.Errorf("unexpected fields %v", fields)
	}
}

// TestRecordError_NoSpan verifies logging still happens without a span.
func TestRecordError_NoSpan(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	tel := &Telemetry{logger: zap.New(core)}

	tel.RecordError(context.Background(), "Analysis failed", errors.New("boom"))

	if logs.Len() != 1 {
		t.Errorf("expected 1 log entry, got %d", logs.Len())
	}
}
