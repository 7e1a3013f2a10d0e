package sources

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// DefaultTimeout bounds each connector when no per-source timeout is set.
const DefaultTimeout = 10 * time.Second

var tracer = otel.Tracer("github.com/lvonguyen/threatlens/internal/sources")

// Recorder receives one observation per connector call.
type Recorder interface {
	ObserveConnector(source string, status Status, duration time.Duration, items int)
}

type nopRecorder struct{}

func (nopRecorder) ObserveConnector(string, Status, time.Duration, int) {}

type registration struct {
	connector Connector
	timeout   time.Duration
}

// Aggregator fans a query out to every registered connector and fans the
// results back in, in registration order.
type Aggregator struct {
	registrations []registration
	logger        *zap.Logger
	recorder      Recorder
}

// NewAggregator creates an aggregator with no connectors. A nil recorder
// disables metrics.
func NewAggregator(logger *zap.Logger, recorder Recorder) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Aggregator{
		logger:   logger,
		recorder: recorder,
	}
}

// Register adds a connector. Registration order is the priority order used
// downstream; a non-positive timeout means DefaultTimeout.
func (a *Aggregator) Register(c Connector, timeout time.Duration) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	a.registrations = append(a.registrations, registration{connector: c, timeout: timeout})
}

// Connectors returns the registered connectors in priority order.
func (a *Aggregator) Connectors() []Connector {
	out := make([]Connector, len(a.registrations))
	for i, r := range a.registrations {
		out[i] = r.connector
	}
	return out
}

// Collect queries all connectors concurrently. It never fails: each
// connector's error, timeout or panic is confined to its own Result.
func (a *Aggregator) Collect(ctx context.Context, query string) BatchReport {
	ctx, span := tracer.Start(ctx, "sources.Collect")
	defer span.End()
	span.SetAttributes(
		attribute.String("query", query),
		attribute.Int("connectors", len(a.registrations)),
	)

	session := NewSession()
	defer session.Close()

	results := make([]Result, len(a.registrations))

	var wg sync.WaitGroup
	for i, reg := range a.registrations {
		wg.Add(1)
		go func(i int, reg registration) {
			defer wg.Done()
			results[i] = a.run(ctx, session, reg, query)
		}(i, reg)
	}
	wg.Wait()

	report := BatchReport{Query: query, Results: results}
	span.SetAttributes(
		attribute.Int("succeeded", report.Succeeded()),
		attribute.Int("items", len(report.Items())),
	)

	a.logger.Info("Collected threat intelligence",
		zap.String("query", query),
		zap.Int("connectors", len(results)),
		zap.Int("succeeded", report.Succeeded()),
		zap.Int("items", len(report.Items())),
	)

	return report
}

type fetchOutcome struct {
	items []RawItem
	err   error
}

// run executes one connector under its own deadline. The fetch runs in a
// separate goroutine so a connector that ignores its context still cannot
// hold up the batch past the deadline.
func (a *Aggregator) run(ctx context.Context, session *Session, reg registration, query string) Result {
	c := reg.connector
	start := time.Now()
	result := Result{Source: c.Name(), Authority: c.Authority()}

	ctx, cancel := context.WithTimeout(ctx, reg.timeout)
	defer cancel()

	done := make(chan fetchOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fetchOutcome{err: &FetchError{
					Source: c.Name(),
					Reason: ReasonPanic,
					Err:    fmt.Errorf("connector panicked: %v", r),
				}}
			}
		}()
		items, err := c.Fetch(ctx, session.Client, query)
		done <- fetchOutcome{items: items, err: err}
	}()

	var out fetchOutcome
	select {
	case out = <-done:
		if out.err == nil && ctx.Err() != nil {
			// late results after the deadline are discarded
			out.err = ctx.Err()
		}
	case <-ctx.Done():
		out.err = ctx.Err()
	}

	if out.err != nil {
		result = a.fail(result, classify(c.Name(), out.err))
	} else {
		result = a.succeed(result, c, out.items)
	}

	result.Duration = time.Since(start)
	a.recorder.ObserveConnector(result.Source, result.Status, result.Duration, result.ItemCount)
	if result.Status == StatusFailed {
		a.logger.Warn("Connector failed",
			zap.String("source", result.Source),
			zap.String("reason", string(result.Reason)),
			zap.Duration("duration", result.Duration),
			zap.String("error", result.Error),
		)
	}

	return result
}

func (a *Aggregator) succeed(result Result, c Connector, items []RawItem) Result {
	for i := range items {
		if items[i].Source == "" {
			items[i].Source = c.Name()
		}
		if items[i].Authority == "" {
			items[i].Authority = c.Authority()
		}
	}

	result.Items = items
	result.ItemCount = len(items)
	result.Status = StatusOK
	if len(items) == 0 {
		result.Status = StatusEmpty
	}
	return result
}

func (a *Aggregator) fail(result Result, fe *FetchError) Result {
	if errors.Is(fe, context.DeadlineExceeded) {
		fe.Reason = ReasonTimeout
	}
	result.Status = StatusFailed
	result.Reason = fe.Reason
	result.Error = fe.Error()
	result.Items = nil
	result.ItemCount = 0
	return result
}
