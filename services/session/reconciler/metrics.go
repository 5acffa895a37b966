// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package reconciler

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level tracer and meter for session reconciliation operations.
var (
	tracer = otel.Tracer("aleutian.session")
	meter  = otel.Meter("aleutian.session")
)

// Metrics for session reconciliation operations.
var (
	activationsTotal metric.Int64Counter
	initLatency      metric.Float64Histogram
	streamEvents     metric.Int64Counter
	mutationsTotal   metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		activationsTotal, err = meter.Int64Counter(
			"session_activations_total",
			metric.WithDescription("Total number of session subsystem activations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		initLatency, err = meter.Float64Histogram(
			"session_init_duration_seconds",
			metric.WithDescription("Duration of the session initialization sequence"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		streamEvents, err = meter.Int64Counter(
			"session_stream_events_total",
			metric.WithDescription("Change-stream events handled, by kind"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		mutationsTotal, err = meter.Int64Counter(
			"session_mutations_total",
			metric.WithDescription("Mutation facade operations, by op and outcome"),
		)
		if err != nil {
			metricsErr = err
		}
	})
	return metricsErr
}

// recordActivation records one activation and its init latency with the
// branch that settled it (offline, unconfigured, remote, transport_error).
func recordActivation(ctx context.Context, branch string, start time.Time) {
	if initMetrics() != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("branch", branch))
	activationsTotal.Add(ctx, 1, attrs)
	initLatency.Record(ctx, time.Since(start).Seconds(), attrs)
}

// recordStreamEvent records one handled change-stream event.
func recordStreamEvent(ctx context.Context, kind string) {
	if initMetrics() != nil {
		return
	}
	streamEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// recordMutation records one mutation facade call.
func recordMutation(ctx context.Context, op string, err error) {
	if initMetrics() != nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	mutationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	))
}
