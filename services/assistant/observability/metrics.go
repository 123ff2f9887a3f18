// Copyright (C) 2026 FieldTek Systems
// Licensed under the GNU Affero General Public License v3.0 or later.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the assistant
// service.
//
// # Description
//
// Metrics cover the guardrail pipeline end to end:
//   - Request counters by terminal outcome (responded, refused, rejected, error)
//   - Guardrail counters (injections blocked, refusal reasons, redacted chunks)
//   - Rate-limit rejections by tenant tier
//   - Request latency histograms
//   - Active SSE stream gauge
//
// Metrics are exposed on /metrics for Prometheus scraping.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "fieldtek"

const assistSubsystem = "assist"

// AssistMetrics holds all Prometheus metrics for the assist endpoint.
//
// # Fields
//
//   - RequestsTotal: Counter of assist requests by terminal outcome
//   - InjectionsBlockedTotal: Counter of prompt injections by category
//   - RefusalsTotal: Counter of refusals by reason
//   - ChunksRedactedTotal: Counter of retrieved chunks that needed sanitizing
//   - RateLimitedTotal: Counter of 429s by tenant tier
//   - RequestDurationSeconds: Histogram of request latency by outcome
//   - ActiveStreams: Gauge of currently open SSE streams
type AssistMetrics struct {
	// RequestsTotal counts assist requests by terminal outcome.
	// Labels: outcome (responded, refused, rejected, error, incomplete)
	RequestsTotal *prometheus.CounterVec

	// InjectionsBlockedTotal counts requests rejected by the injection
	// scanner. Labels: category (instruction_override, role_reassignment, ...)
	InjectionsBlockedTotal *prometheus.CounterVec

	// RefusalsTotal counts canonical refusals by reason.
	// Labels: reason (insufficient_evidence, uncited_technical_claim, ...)
	RefusalsTotal *prometheus.CounterVec

	// ChunksRedactedTotal counts retrieved chunks the sanitizer rewrote.
	ChunksRedactedTotal prometheus.Counter

	// RateLimitedTotal counts quota rejections by tenant tier.
	// Labels: tier (starter, pro, fleet)
	RateLimitedTotal *prometheus.CounterVec

	// RequestDurationSeconds measures end-to-end request latency.
	// Labels: outcome
	RequestDurationSeconds *prometheus.HistogramVec

	// ActiveStreams tracks currently open SSE response streams.
	ActiveStreams prometheus.Gauge
}

// DefaultMetrics is the singleton instance registered by InitMetrics.
// Nil until InitMetrics runs; the recording helpers below tolerate that
// so handler tests do not need a registry.
var DefaultMetrics *AssistMetrics

// InitMetrics creates and registers all assist metrics on the default
// Prometheus registry. Call once at startup; a second call panics on
// duplicate registration.
func InitMetrics() *AssistMetrics {
	DefaultMetrics = &AssistMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: assistSubsystem,
				Name:      "requests_total",
				Help:      "Total assist requests by terminal outcome",
			},
			[]string{"outcome"},
		),

		InjectionsBlockedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: assistSubsystem,
				Name:      "injections_blocked_total",
				Help:      "Requests rejected by the prompt injection scanner, by category",
			},
			[]string{"category"},
		),

		RefusalsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: assistSubsystem,
				Name:      "refusals_total",
				Help:      "Canonical refusals by reason",
			},
			[]string{"reason"},
		),

		ChunksRedactedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: assistSubsystem,
				Name:      "chunks_redacted_total",
				Help:      "Retrieved chunks rewritten by the sanitizer",
			},
		),

		RateLimitedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: assistSubsystem,
				Name:      "rate_limited_total",
				Help:      "Requests rejected by the daily quota, by tenant tier",
			},
			[]string{"tier"},
		),

		RequestDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: assistSubsystem,
				Name:      "request_duration_seconds",
				Help:      "End-to-end assist request latency in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"outcome"},
		),

		ActiveStreams: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: assistSubsystem,
				Name:      "active_streams",
				Help:      "Currently open SSE response streams",
			},
		),
	}

	return DefaultMetrics
}

// =============================================================================
// Recording Helpers
// =============================================================================

// The helpers below are no-ops when InitMetrics has not run, so code
// under test can record freely without a Prometheus registry.

// RecordRequest records a finished request with its outcome and latency.
func RecordRequest(outcome string, seconds float64) {
	if DefaultMetrics == nil {
		return
	}
	DefaultMetrics.RequestsTotal.WithLabelValues(outcome).Inc()
	DefaultMetrics.RequestDurationSeconds.WithLabelValues(outcome).Observe(seconds)
}

// RecordInjection records a request blocked by the injection scanner.
func RecordInjection(category string) {
	if DefaultMetrics == nil {
		return
	}
	DefaultMetrics.InjectionsBlockedTotal.WithLabelValues(category).Inc()
}

// RecordRefusal records a canonical refusal with its reason.
func RecordRefusal(reason string) {
	if DefaultMetrics == nil {
		return
	}
	DefaultMetrics.RefusalsTotal.WithLabelValues(reason).Inc()
}

// RecordRedactedChunks adds to the sanitized-chunk counter.
func RecordRedactedChunks(n int) {
	if DefaultMetrics == nil || n <= 0 {
		return
	}
	DefaultMetrics.ChunksRedactedTotal.Add(float64(n))
}

// RecordRateLimited records a quota rejection for a tenant tier.
func RecordRateLimited(tier string) {
	if DefaultMetrics == nil {
		return
	}
	DefaultMetrics.RateLimitedTotal.WithLabelValues(tier).Inc()
}

// StreamOpened increments the active stream gauge.
func StreamOpened() {
	if DefaultMetrics == nil {
		return
	}
	DefaultMetrics.ActiveStreams.Inc()
}

// StreamClosed decrements the active stream gauge.
func StreamClosed() {
	if DefaultMetrics == nil {
		return
	}
	DefaultMetrics.ActiveStreams.Dec()
}
