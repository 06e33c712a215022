// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry exposes Prometheus counters for the quality
// engine's own health: trace writes, skipped lines, verification and
// hallucination outcomes, and rollup builds.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sink holds the engine's Prometheus instruments.
//
// Thread Safety: Safe for concurrent use after creation. A nil *Sink
// is valid and records nothing, which keeps unit tests quiet.
type Sink struct {
	// TraceRecordsTotal counts trace records appended to the JSONL log.
	TraceRecordsTotal prometheus.Counter

	// TraceWriteFailures counts append or sync failures. Trace loss is
	// invisible to callers, so this counter is the only signal.
	TraceWriteFailures prometheus.Counter

	// TraceLinesSkipped counts malformed lines skipped while reading a
	// day's log back.
	TraceLinesSkipped prometheus.Counter

	// VerificationsTotal counts verified answers by result.
	VerificationsTotal *prometheus.CounterVec

	// HallucinationsTotal counts answers flagged with unknown entities.
	HallucinationsTotal prometheus.Counter

	// RollupsTotal counts daily rollup builds by status.
	RollupsTotal *prometheus.CounterVec

	// RequestDuration records end-to-end verification pipeline latency.
	RequestDuration prometheus.Histogram
}

// NewSink registers the engine's instruments with the given registerer.
// A nil registerer uses the process-wide default registry.
func NewSink(reg prometheus.Registerer) *Sink {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Sink{
		TraceRecordsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "quality_trace_records_total",
			Help: "Trace records appended to the JSONL log",
		}),
		TraceWriteFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "quality_trace_write_failures_total",
			Help: "Trace record append or sync failures",
		}),
		TraceLinesSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "quality_trace_lines_skipped_total",
			Help: "Malformed trace lines skipped during reads",
		}),
		VerificationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "quality_verifications_total",
			Help: "Verified answers by result",
		}, []string{"result"}),
		HallucinationsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "quality_hallucinations_total",
			Help: "Answers flagged with unknown entity references",
		}),
		RollupsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "quality_rollups_total",
			Help: "Daily KPI rollup builds by status",
		}, []string{"status"}),
		RequestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "quality_pipeline_duration_seconds",
			Help:    "End-to-end verification pipeline latency",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
	}
}

// RecordTraceWrite counts one append attempt.
func (s *Sink) RecordTraceWrite(ok bool) {
	if s == nil {
		return
	}
	if ok {
		s.TraceRecordsTotal.Inc()
	} else {
		s.TraceWriteFailures.Inc()
	}
}

// RecordSkippedLines counts malformed lines seen during a read.
func (s *Sink) RecordSkippedLines(n int) {
	if s == nil || n <= 0 {
		return
	}
	s.TraceLinesSkipped.Add(float64(n))
}

// RecordVerification counts one verified answer.
func (s *Sink) RecordVerification(passed bool) {
	if s == nil {
		return
	}
	result := "fail"
	if passed {
		result = "pass"
	}
	s.VerificationsTotal.WithLabelValues(result).Inc()
}

// RecordHallucination counts one flagged answer.
func (s *Sink) RecordHallucination() {
	if s == nil {
		return
	}
	s.HallucinationsTotal.Inc()
}

// RecordRollup counts one rollup build.
func (s *Sink) RecordRollup(status string) {
	if s == nil {
		return
	}
	s.RollupsTotal.WithLabelValues(status).Inc()
}

// ObservePipeline records one pipeline latency sample in seconds.
func (s *Sink) ObservePipeline(seconds float64) {
	if s == nil {
		return
	}
	s.RequestDuration.Observe(seconds)
}
