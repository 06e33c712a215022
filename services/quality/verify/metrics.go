// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package verify

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics contains pre-defined metrics for claim verification.
//
// Description:
//
//	Provides counters and histograms for per-claim outcomes and
//	whole-answer verification. All metrics use the "quality_" prefix
//	for consistent naming.
//
// Thread Safety: Safe for concurrent use after creation. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	// ClaimsTotal counts verified claims by reason.
	ClaimsTotal metric.Int64Counter

	// VerificationsTotal counts whole-answer verifications by result.
	VerificationsTotal metric.Int64Counter

	// VerificationDuration records end-to-end verification duration in
	// seconds.
	VerificationDuration metric.Float64Histogram

	// RelativeError records the relative error of each recomputed
	// claim, passed or not.
	RelativeError metric.Float64Histogram
}

// NewMetrics creates a new Metrics instance with all metrics registered.
//
// Inputs:
//
//	meter - The OTel meter to use for metric registration.
//
// Outputs:
//
//	*Metrics - The metrics instance with all instruments initialized.
//	error - Non-nil if metric registration fails.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.ClaimsTotal, err = meter.Int64Counter(
		"quality_claims_total",
		metric.WithDescription("Verified claims by outcome reason"),
		metric.WithUnit("{claim}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create claims_total: %w", err)
	}

	m.VerificationsTotal, err = meter.Int64Counter(
		"quality_verifications_total",
		metric.WithDescription("Whole-answer verifications by result"),
		metric.WithUnit("{verification}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create verifications_total: %w", err)
	}

	m.VerificationDuration, err = meter.Float64Histogram(
		"quality_verification_duration_seconds",
		metric.WithDescription("End-to-end verification duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1),
	)
	if err != nil {
		return nil, fmt.Errorf("create verification_duration: %w", err)
	}

	m.RelativeError, err = meter.Float64Histogram(
		"quality_claim_relative_error",
		metric.WithDescription("Relative error between claimed and recomputed values"),
		metric.WithUnit("1"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.02, 0.05, 0.1, 0.25, 0.5, 1),
	)
	if err != nil {
		return nil, fmt.Errorf("create claim_relative_error: %w", err)
	}

	return m, nil
}

// RecordClaim counts one claim outcome.
func (m *Metrics) RecordClaim(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.ClaimsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordRelativeError records one claim's relative error.
func (m *Metrics) RecordRelativeError(ctx context.Context, pctErr float64) {
	if m == nil {
		return
	}
	m.RelativeError.Record(ctx, pctErr)
}

// RecordVerification counts one whole-answer verification and its
// latency.
func (m *Metrics) RecordVerification(ctx context.Context, passed bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.VerificationsTotal.Add(ctx, 1, metric.WithAttributes(attribute.Bool("passed", passed)))
	m.VerificationDuration.Record(ctx, elapsed.Seconds())
}
