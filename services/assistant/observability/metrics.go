// Copyright (C) 2025 Winston & Lee (conversa-suite)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the assistant.
//
// Metrics cover conversation turns (request counts, token throughput, stream
// latency, disconnects) and retrieval augmentation outcomes. They are exposed
// on the /metrics endpoint.
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const metricsNamespace = "conversa"

// Subsystem for assistant metrics
const assistantSubsystem = "assistant"

// AssistantMetrics holds all Prometheus metrics for the assistant service.
// Initialize once at startup via InitMetrics().
type AssistantMetrics struct {
	// TurnsTotal counts conversation turns by endpoint and outcome.
	// Labels: endpoint (chat_stream), outcome (done, cancelled, failed)
	TurnsTotal *prometheus.CounterVec

	// TokensStreamedTotal counts streamed answer fragments.
	// Labels: endpoint
	TokensStreamedTotal *prometheus.CounterVec

	// TimeToFirstTokenSeconds measures latency to first token.
	// Labels: endpoint
	TimeToFirstTokenSeconds *prometheus.HistogramVec

	// StreamDurationSeconds measures total stream duration.
	// Labels: endpoint, outcome
	StreamDurationSeconds *prometheus.HistogramVec

	// ActiveStreams tracks currently active streaming connections.
	// Labels: endpoint
	ActiveStreams *prometheus.GaugeVec

	// ErrorsTotal counts errors by type and endpoint.
	// Labels: endpoint, error_code
	ErrorsTotal *prometheus.CounterVec

	// ClientDisconnectsTotal counts client disconnections during streaming.
	// Labels: endpoint
	ClientDisconnectsTotal *prometheus.CounterVec

	// RetrievalTotal counts augmentation outcomes per classified turn.
	// Labels: outcome (augmented, empty, skipped)
	RetrievalTotal *prometheus.CounterVec

	// RetrievalMatches observes how many matches survived filtering.
	RetrievalMatches prometheus.Histogram

	// DocumentsIngestedTotal counts ingested documents by status.
	// Labels: status (ok, error)
	DocumentsIngestedTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance of AssistantMetrics.
// Initialized by InitMetrics(). Call sites nil-check so tests that never
// initialize metrics stay quiet.
var DefaultMetrics *AssistantMetrics

// InitMetrics creates and registers all Prometheus metrics. Call once at
// application startup; a second call panics on duplicate registration.
func InitMetrics() *AssistantMetrics {
	DefaultMetrics = &AssistantMetrics{
		TurnsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: assistantSubsystem,
				Name:      "turns_total",
				Help:      "Total conversation turns by endpoint and outcome",
			},
			[]string{"endpoint", "outcome"},
		),

		TokensStreamedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: assistantSubsystem,
				Name:      "tokens_streamed_total",
				Help:      "Total streamed answer fragments",
			},
			[]string{"endpoint"},
		),

		TimeToFirstTokenSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: assistantSubsystem,
				Name:      "time_to_first_token_seconds",
				Help:      "Time from request to first token in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"endpoint"},
		),

		StreamDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: assistantSubsystem,
				Name:      "stream_duration_seconds",
				Help:      "Total stream duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"endpoint", "outcome"},
		),

		ActiveStreams: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: assistantSubsystem,
				Name:      "active_streams",
				Help:      "Number of currently active streaming connections",
			},
			[]string{"endpoint"},
		),

		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: assistantSubsystem,
				Name:      "errors_total",
				Help:      "Total errors by type and endpoint",
			},
			[]string{"endpoint", "error_code"},
		),

		ClientDisconnectsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: assistantSubsystem,
				Name:      "client_disconnects_total",
				Help:      "Total client disconnections during streaming",
			},
			[]string{"endpoint"},
		),

		RetrievalTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: assistantSubsystem,
				Name:      "retrieval_total",
				Help:      "Augmentation outcomes for classified turns",
			},
			[]string{"outcome"},
		),

		RetrievalMatches: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: assistantSubsystem,
				Name:      "retrieval_matches",
				Help:      "Matches surviving category filtering per augmented turn",
				Buckets:   []float64{0, 1, 2, 3, 5, 8, 13},
			},
		),

		DocumentsIngestedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: assistantSubsystem,
				Name:      "documents_ingested_total",
				Help:      "Documents processed by the ingestion pipeline",
			},
			[]string{"status"},
		),
	}

	return DefaultMetrics
}

// =============================================================================
// Error Codes
// =============================================================================

// ErrorCode represents a categorized error type for metrics.
type ErrorCode string

const (
	// ErrorCodeValidation indicates request validation failure.
	ErrorCodeValidation ErrorCode = "validation"

	// ErrorCodeNotFound indicates the requested thread was absent.
	ErrorCodeNotFound ErrorCode = "not_found"

	// ErrorCodeForbidden indicates an ownership mismatch.
	ErrorCodeForbidden ErrorCode = "forbidden"

	// ErrorCodeLLMError indicates an LLM backend failure.
	ErrorCodeLLMError ErrorCode = "llm_error"

	// ErrorCodePersistence indicates a document store write failure.
	ErrorCodePersistence ErrorCode = "persistence"

	// ErrorCodeInternal indicates an internal server error.
	ErrorCodeInternal ErrorCode = "internal"

	// ErrorCodeClientDisconnect indicates the client disconnected.
	ErrorCodeClientDisconnect ErrorCode = "client_disconnect"
)

// =============================================================================
// Endpoint Names
// =============================================================================

// Endpoint represents an instrumented endpoint for metrics labeling.
type Endpoint string

const (
	// EndpointChatStream is the streaming chat endpoint.
	EndpointChatStream Endpoint = "chat_stream"

	// EndpointThreads covers the thread CRUD endpoints.
	EndpointThreads Endpoint = "threads"

	// EndpointIngestion is the document ingestion endpoint.
	EndpointIngestion Endpoint = "ingestion"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordTurn records a completed conversation turn.
func (m *AssistantMetrics) RecordTurn(endpoint Endpoint, outcome string) {
	m.TurnsTotal.WithLabelValues(string(endpoint), outcome).Inc()
}

// RecordError records a categorized error.
func (m *AssistantMetrics) RecordError(endpoint Endpoint, code ErrorCode) {
	m.ErrorsTotal.WithLabelValues(string(endpoint), string(code)).Inc()
}

// RecordTokens adds streamed fragments for an endpoint.
func (m *AssistantMetrics) RecordTokens(endpoint Endpoint, n int) {
	m.TokensStreamedTotal.WithLabelValues(string(endpoint)).Add(float64(n))
}

// StreamStarted increments the active streams gauge.
func (m *AssistantMetrics) StreamStarted(endpoint Endpoint) {
	m.ActiveStreams.WithLabelValues(string(endpoint)).Inc()
}

// StreamEnded decrements the active streams gauge.
func (m *AssistantMetrics) StreamEnded(endpoint Endpoint) {
	m.ActiveStreams.WithLabelValues(string(endpoint)).Dec()
}

// RecordTimeToFirstToken records the time to first token latency.
func (m *AssistantMetrics) RecordTimeToFirstToken(endpoint Endpoint, seconds float64) {
	m.TimeToFirstTokenSeconds.WithLabelValues(string(endpoint)).Observe(seconds)
}

// RecordStreamDuration records the total stream duration.
func (m *AssistantMetrics) RecordStreamDuration(endpoint Endpoint, seconds float64, outcome string) {
	m.StreamDurationSeconds.WithLabelValues(string(endpoint), outcome).Observe(seconds)
}

// RecordClientDisconnect increments the client disconnect counter.
func (m *AssistantMetrics) RecordClientDisconnect(endpoint Endpoint) {
	m.ClientDisconnectsTotal.WithLabelValues(string(endpoint)).Inc()
}

// RecordRetrieval records one augmentation outcome and its match count.
func (m *AssistantMetrics) RecordRetrieval(outcome string, matches int) {
	m.RetrievalTotal.WithLabelValues(outcome).Inc()
	if outcome == "augmented" {
		m.RetrievalMatches.Observe(float64(matches))
	}
}

// RecordIngestedDocument counts one processed document.
func (m *AssistantMetrics) RecordIngestedDocument(ok bool) {
	status := "ok"
	if !ok {
		status = "error"
	}
	m.DocumentsIngestedTotal.WithLabelValues(status).Inc()
}
