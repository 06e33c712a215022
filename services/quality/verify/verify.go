// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package verify compares claimed metric values against independently
// recomputed ones and decides, per claim, whether the answer is
// grounded in the data.
//
// Verification is fail-soft: a claim whose metric cannot be recomputed
// is recorded with a reason, it never aborts the other claims or the
// request.
package verify

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/procverify/services/quality/claims"
	"github.com/AleutianAI/procverify/services/quality/recompute"
	"github.com/AleutianAI/procverify/services/quality/schema"
)

// epsilon guards relative-error division against near-zero recomputed
// values.
const epsilon = 1e-9

// Reason explains a per-claim verification outcome.
type Reason string

const (
	ReasonMatched           Reason = "matched"
	ReasonToleranceExceeded Reason = "tolerance_exceeded"
	ReasonMetricUnknown     Reason = "metric_unknown"
	ReasonRecomputeFailed   Reason = "recompute_failed"
)

// Tolerances holds the per-kind match thresholds. Boundaries are
// inclusive: a claim exactly at the threshold passes.
type Tolerances struct {
	// CountAbsolute is the allowed absolute difference for count
	// claims.
	CountAbsolute float64 `yaml:"count_absolute" validate:"gte=0"`

	// RelativeFraction is the allowed relative error for ratio,
	// percentage, duration and generic claims, as a fraction
	// (0.02 = 2%).
	RelativeFraction float64 `yaml:"relative_fraction" validate:"gte=0,lte=1"`
}

// DefaultTolerances returns the production thresholds.
func DefaultTolerances() Tolerances {
	return Tolerances{CountAbsolute: 1, RelativeFraction: 0.02}
}

// Result is the verdict for one claim.
type Result struct {
	Claim           claims.Claim `json:"claim"`
	RecomputedValue *float64     `json:"recomputed_value,omitempty"`
	AbsErr          *float64     `json:"abs_err,omitempty"`
	PctErr          *float64     `json:"pct_err,omitempty"`
	Passed          bool         `json:"passed"`
	Reason          Reason       `json:"reason"`
}

// Outcome is the verdict for a whole answer.
type Outcome struct {
	HasClaims bool `json:"has_claims"`

	// GroundedPass is true when at least one claim was verifiable and
	// every verifiable claim passed. Claims with unknown metrics or
	// failed recomputation are recorded but do not decide grounding.
	GroundedPass bool `json:"grounded_pass"`

	Results []Result `json:"verification_results,omitempty"`
}

// Verifier runs per-claim verification over a recompute engine.
//
// Thread Safety: safe for concurrent use.
type Verifier struct {
	engine     *recompute.Engine
	dictionary *schema.Dictionary
	metrics    *Metrics
	logger     *slog.Logger

	// tolerances is swapped wholesale on config reload; each claim
	// reads the snapshot current when it is checked.
	tolerances atomic.Pointer[Tolerances]
}

// NewVerifier creates a Verifier. Metrics may be nil to skip
// instrumentation; logger nil falls back to the default.
func NewVerifier(engine *recompute.Engine, dictionary *schema.Dictionary, tol Tolerances, metrics *Metrics, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	if tol.CountAbsolute == 0 && tol.RelativeFraction == 0 {
		tol = DefaultTolerances()
	}
	v := &Verifier{
		engine:     engine,
		dictionary: dictionary,
		metrics:    metrics,
		logger:     logger,
	}
	v.tolerances.Store(&tol)
	return v
}

// SetTolerances installs new thresholds, typically from a config
// reload. Takes effect on the next claim checked.
func (v *Verifier) SetTolerances(tol Tolerances) {
	v.tolerances.Store(&tol)
}

// Tolerances returns the live thresholds.
func (v *Verifier) Tolerances() Tolerances {
	return *v.tolerances.Load()
}

// Verify checks every claim against a recomputation over the same
// dataset and filters the answer was produced from.
func (v *Verifier) Verify(ctx context.Context, datasetID string, claimList []claims.Claim, filters map[string]string) Outcome {
	start := time.Now()
	outcome := Outcome{HasClaims: len(claimList) > 0}
	if !outcome.HasClaims {
		return outcome
	}

	verifiable := 0
	failures := 0
	for _, claim := range claimList {
		result := v.verifyOne(ctx, datasetID, claim, filters)
		switch result.Reason {
		case ReasonMatched:
			verifiable++
		case ReasonToleranceExceeded:
			verifiable++
			failures++
		}
		v.metrics.RecordClaim(ctx, string(result.Reason))
		outcome.Results = append(outcome.Results, result)
	}
	outcome.GroundedPass = verifiable > 0 && failures == 0

	v.metrics.RecordVerification(ctx, outcome.GroundedPass, time.Since(start))
	return outcome
}

// verifyOne checks a single claim. Errors from recomputation become
// reasons on the result.
func (v *Verifier) verifyOne(ctx context.Context, datasetID string, claim claims.Claim, filters map[string]string) Result {
	result := Result{Claim: claim}

	recomputed, err := v.engine.Recompute(ctx, datasetID, claim.Name, filters)
	if err != nil {
		switch {
		case errors.Is(err, recompute.ErrMetricUnknown):
			result.Reason = ReasonMetricUnknown
		default:
			result.Reason = ReasonRecomputeFailed
		}
		v.logger.Debug("claim not verifiable",
			"metric", claim.Name, "dataset", datasetID, "reason", result.Reason)
		return result
	}

	absErr := math.Abs(claim.ClaimedValue - recomputed)
	pctErr := absErr
	if math.Abs(recomputed) > epsilon {
		pctErr = absErr / math.Abs(recomputed)
	}
	result.RecomputedValue = &recomputed
	result.AbsErr = &absErr
	result.PctErr = &pctErr
	v.metrics.RecordRelativeError(ctx, pctErr)

	// Boundaries are inclusive; the epsilon absorbs float rounding so a
	// claim computed to sit exactly on the threshold still passes.
	tol := v.tolerances.Load()
	if claim.Kind == claims.KindCount {
		result.Passed = absErr <= tol.CountAbsolute+epsilon
	} else {
		result.Passed = pctErr <= tol.RelativeFraction+epsilon
	}
	if result.Passed {
		result.Reason = ReasonMatched
	} else {
		result.Reason = ReasonToleranceExceeded
		v.logger.Info("claim outside tolerance",
			"metric", claim.Name,
			"claimed", claim.ClaimedValue,
			"recomputed", recomputed,
			"pct_err", pctErr)
	}
	return result
}

// CheckReferences runs the schema hallucination check for the answer
// text. With no dictionary configured the check reports as skipped.
func (v *Verifier) CheckReferences(ctx context.Context, text, datasetID string) schema.Report {
	if v.dictionary == nil {
		return schema.Report{Checked: false}
	}
	return v.dictionary.ValidateReferences(ctx, text, datasetID)
}
