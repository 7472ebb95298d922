package instrumentation

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	attrResult    = "result"
	attrDomain    = "domain"
	attrOperation = "operation"
	attrMethod    = "method"
)

// Metrics records sync and auth observability metrics. The zero value
// is a no-op recorder, which tests and metric-less runs rely on.
type Metrics struct {
	syncRunsTotal     metric.Int64Counter
	syncItemsStored   metric.Int64Counter
	syncDuration      metric.Float64Histogram
	retryAttempts     metric.Int64Counter
	authFlowsTotal    metric.Int64Counter
	tokenRefreshTotal metric.Int64Counter
}

// NewMetrics creates a Metrics recorder with all instruments
// registered on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.syncRunsTotal, err = meter.Int64Counter(
		"sync_runs_total",
		metric.WithDescription("Total number of sync runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating sync_runs_total counter: %w", err)
	}

	m.syncItemsStored, err = meter.Int64Counter(
		"sync_items_stored_total",
		metric.WithDescription("Total number of new items stored by sync"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating sync_items_stored_total counter: %w", err)
	}

	m.syncDuration, err = meter.Float64Histogram(
		"sync_duration_seconds",
		metric.WithDescription("Sync run duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0),
	)
	if err != nil {
		return nil, fmt.Errorf("creating sync_duration_seconds histogram: %w", err)
	}

	m.retryAttempts, err = meter.Int64Counter(
		"retry_attempts_total",
		metric.WithDescription("Total number of retried operation attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating retry_attempts_total counter: %w", err)
	}

	m.authFlowsTotal, err = meter.Int64Counter(
		"auth_flows_total",
		metric.WithDescription("Total number of completed login flows"),
		metric.WithUnit("{flow}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating auth_flows_total counter: %w", err)
	}

	m.tokenRefreshTotal, err = meter.Int64Counter(
		"token_refresh_total",
		metric.WithDescription("Total number of OAuth token refresh attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating token_refresh_total counter: %w", err)
	}

	return m, nil
}

// RecordSyncRun records a completed sync run and its duration.
func (m *Metrics) RecordSyncRun(ctx context.Context, success bool, duration time.Duration) {
	if m == nil || m.syncRunsTotal == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.syncRunsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrResult, result)))
	m.syncDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String(attrResult, result)))
}

// RecordItemsStored records how many new items a sync run persisted
// for a domain ("email" or "calendar").
func (m *Metrics) RecordItemsStored(ctx context.Context, domain string, count int) {
	if m == nil || m.syncItemsStored == nil || count == 0 {
		return
	}
	m.syncItemsStored.Add(ctx, int64(count), metric.WithAttributes(attribute.String(attrDomain, domain)))
}

// RecordRetry records one retried attempt of the named operation.
func (m *Metrics) RecordRetry(ctx context.Context, operation string) {
	if m == nil || m.retryAttempts == nil {
		return
	}
	m.retryAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String(attrOperation, operation)))
}

// RecordAuthFlow records the outcome of a login flow.
func (m *Metrics) RecordAuthFlow(ctx context.Context, method string, success bool) {
	if m == nil || m.authFlowsTotal == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.authFlowsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrMethod, method),
		attribute.String(attrResult, result),
	))
}

// RecordTokenRefresh records an OAuth token refresh attempt.
func (m *Metrics) RecordTokenRefresh(ctx context.Context, success bool) {
	if m == nil || m.tokenRefreshTotal == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.tokenRefreshTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrResult, result)))
}
