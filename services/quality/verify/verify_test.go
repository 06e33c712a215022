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
	"testing"

	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/procverify/services/quality/claims"
	"github.com/AleutianAI/procverify/services/quality/dataset"
	"github.com/AleutianAI/procverify/services/quality/recompute"
)

// fixture yields flow_efficiency = 0.615 (2400/3900), case_count = 2,
// handoffs_per_case = 1.
func fixture() *dataset.Table {
	tbl := dataset.NewTable()
	tbl.Register("salesforce",
		[]string{"case_id", "team", "resource", "duration_seconds", "start_time", "end_time"},
		[]dataset.Row{
			{"case_id": "C1", "team": "Sales", "resource": "alice", "duration_seconds": "600", "start_time": "2026-08-01 09:00:00", "end_time": "2026-08-01 09:10:00"},
			{"case_id": "C1", "team": "Sales", "resource": "bob", "duration_seconds": "600", "start_time": "2026-08-01 09:20:00", "end_time": "2026-08-01 09:30:00"},
			{"case_id": "C1", "team": "Sales", "resource": "alice", "duration_seconds": "600", "start_time": "2026-08-01 09:35:00", "end_time": "2026-08-01 09:45:00"},
			{"case_id": "C2", "team": "Ops", "resource": "carol", "duration_seconds": "600", "start_time": "2026-08-02 09:00:00", "end_time": "2026-08-02 09:20:00"},
		})
	return tbl
}

func newTestVerifier() *Verifier {
	engine := recompute.NewEngine(fixture(), nil)
	return NewVerifier(engine, nil, DefaultTolerances(), nil, nil)
}

func TestVerify_NoClaims(t *testing.T) {
	v := newTestVerifier()
	outcome := v.Verify(context.Background(), "salesforce", nil, nil)
	if outcome.HasClaims {
		t.Errorf("expected HasClaims=false")
	}
	if outcome.GroundedPass {
		t.Errorf("an answer with no claims must not count as grounded")
	}
}

func TestVerify_WithinRelativeTolerance(t *testing.T) {
	v := newTestVerifier()
	// Recomputed flow_efficiency is 2400/3900 = 0.61538...; claiming
	// 0.62 gives a relative error of ~0.75%, inside 2%.
	outcome := v.Verify(context.Background(), "salesforce", []claims.Claim{
		{Name: "flow_efficiency", ClaimedValue: 0.62, Kind: claims.KindPercentage},
	}, nil)
	if !outcome.GroundedPass {
		t.Fatalf("expected a pass, got %+v", outcome.Results[0])
	}
	r := outcome.Results[0]
	if r.Reason != ReasonMatched {
		t.Errorf("reason = %s, want matched", r.Reason)
	}
	if r.RecomputedValue == nil || r.PctErr == nil {
		t.Fatalf("expected recomputed value and pct err to be populated")
	}
	if *r.PctErr > 0.02 {
		t.Errorf("pct_err = %v, want <= 0.02", *r.PctErr)
	}
}

func TestVerify_ExactBoundaryPasses(t *testing.T) {
	v := newTestVerifier()
	// case_count recomputes to 2; throughput-style relative claims use
	// the ratio path, so claim a ratio exactly 2% off.
	recomputed := 2400.0 / 3900.0
	claimed := recomputed * 1.02
	outcome := v.Verify(context.Background(), "salesforce", []claims.Claim{
		{Name: "flow_efficiency", ClaimedValue: claimed, Kind: claims.KindRatio},
	}, nil)
	if !outcome.GroundedPass {
		t.Errorf("a claim exactly at the 2%% boundary must pass, got %+v", outcome.Results[0])
	}
}

func TestVerify_BeyondToleranceFails(t *testing.T) {
	v := newTestVerifier()
	outcome := v.Verify(context.Background(), "salesforce", []claims.Claim{
		{Name: "flow_efficiency", ClaimedValue: 0.80, Kind: claims.KindRatio},
	}, nil)
	if outcome.GroundedPass {
		t.Fatalf("expected a failure")
	}
	if outcome.Results[0].Reason != ReasonToleranceExceeded {
		t.Errorf("reason = %s, want tolerance_exceeded", outcome.Results[0].Reason)
	}
}

func TestVerify_CountToleranceIsAbsolute(t *testing.T) {
	v := newTestVerifier()
	cases := []struct {
		claimed float64
		pass    bool
	}{
		{2, true},
		{3, true},  // off by exactly 1
		{1, true},  // off by exactly 1
		{4, false}, // off by 2
	}
	for _, tc := range cases {
		outcome := v.Verify(context.Background(), "salesforce", []claims.Claim{
			{Name: "case_count", ClaimedValue: tc.claimed, Kind: claims.KindCount},
		}, nil)
		if outcome.GroundedPass != tc.pass {
			t.Errorf("case_count claim %v: pass = %v, want %v",
				tc.claimed, outcome.GroundedPass, tc.pass)
		}
	}
}

func TestVerify_UnknownMetricIsSoft(t *testing.T) {
	v := newTestVerifier()
	outcome := v.Verify(context.Background(), "salesforce", []claims.Claim{
		{Name: "velocity_index", ClaimedValue: 42, Kind: claims.KindGeneric},
		{Name: "case_count", ClaimedValue: 2, Kind: claims.KindCount},
	}, nil)
	if !outcome.GroundedPass {
		t.Errorf("an unknown metric must not fail grounding when the rest passes")
	}
	if outcome.Results[0].Reason != ReasonMetricUnknown {
		t.Errorf("reason = %s, want metric_unknown", outcome.Results[0].Reason)
	}
	if outcome.Results[0].RecomputedValue != nil {
		t.Errorf("unknown metric must not carry a recomputed value")
	}
}

func TestVerify_RecomputeFailureIsSoft(t *testing.T) {
	v := newTestVerifier()
	outcome := v.Verify(context.Background(), "salesforce", []claims.Claim{
		{Name: "case_count", ClaimedValue: 5, Kind: claims.KindCount},
	}, map[string]string{"team": "Legal"})
	if outcome.GroundedPass {
		t.Errorf("nothing verifiable must not count as grounded")
	}
	if outcome.Results[0].Reason != ReasonRecomputeFailed {
		t.Errorf("reason = %s, want recompute_failed", outcome.Results[0].Reason)
	}
}

func TestVerify_OnlyUnverifiableClaims(t *testing.T) {
	v := newTestVerifier()
	outcome := v.Verify(context.Background(), "salesforce", []claims.Claim{
		{Name: "velocity_index", ClaimedValue: 42, Kind: claims.KindGeneric},
	}, nil)
	if outcome.GroundedPass {
		t.Errorf("grounding requires at least one verifiable claim")
	}
	if !outcome.HasClaims {
		t.Errorf("expected HasClaims=true")
	}
}

func TestVerify_ZeroRecomputedUsesAbsoluteError(t *testing.T) {
	v := newTestVerifier()
	// aging_gt_14d recomputes to 0 for this fixture; the relative error
	// falls back to the absolute difference.
	outcome := v.Verify(context.Background(), "salesforce", []claims.Claim{
		{Name: "aging_gt_14d", ClaimedValue: 0.01, Kind: claims.KindRatio},
	}, nil)
	r := outcome.Results[0]
	if r.PctErr == nil || *r.PctErr != *r.AbsErr {
		t.Errorf("expected pct_err to equal abs_err near zero, got %+v", r)
	}
}

func TestVerify_EndToEndWithExtractor(t *testing.T) {
	v := newTestVerifier()
	extractor := claims.NewExtractor(nil)
	claimList := extractor.Extract("Flow efficiency is 62% for the Sales team", nil)
	if len(claimList) != 1 {
		t.Fatalf("claims = %+v, want exactly one", claimList)
	}
	outcome := v.Verify(context.Background(), "salesforce", claimList, map[string]string{"team": "Sales"})
	// Sales alone: touch 1800, lead 09:00 -> 09:45 = 2700s, so the
	// recomputed efficiency is 0.6667 and 0.62 is outside 2%.
	if outcome.GroundedPass {
		t.Errorf("expected the filtered claim to fail, got %+v", outcome.Results[0])
	}
}

func TestCheckReferences_NoDictionary(t *testing.T) {
	v := newTestVerifier()
	report := v.CheckReferences(context.Background(), "user Ghost99", "salesforce")
	if report.Checked {
		t.Errorf("expected the check to be skipped without a dictionary")
	}
}

func TestSetTolerances_TakesEffect(t *testing.T) {
	v := newTestVerifier()
	claimList := []claims.Claim{
		// 0.65 vs 0.61538 is a ~5.6% relative error.
		{Name: "flow_efficiency", ClaimedValue: 0.65, Kind: claims.KindPercentage},
	}

	outcome := v.Verify(context.Background(), "salesforce", claimList, nil)
	if outcome.GroundedPass {
		t.Fatalf("expected the claim to fail at the 2%% default")
	}

	v.SetTolerances(Tolerances{CountAbsolute: 1, RelativeFraction: 0.10})
	if got := v.Tolerances().RelativeFraction; got != 0.10 {
		t.Fatalf("Tolerances().RelativeFraction = %v, want 0.10", got)
	}
	outcome = v.Verify(context.Background(), "salesforce", claimList, nil)
	if !outcome.GroundedPass {
		t.Errorf("expected the claim to pass after widening to 10%%, got %+v", outcome.Results[0])
	}
}

func TestNewMetrics_InstrumentedVerify(t *testing.T) {
	m, err := NewMetrics(otel.Meter("verify-test"))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	engine := recompute.NewEngine(fixture(), nil)
	v := NewVerifier(engine, nil, DefaultTolerances(), m, nil)
	outcome := v.Verify(context.Background(), "salesforce", []claims.Claim{
		{Name: "case_count", ClaimedValue: 2, Kind: claims.KindCount},
	}, nil)
	if !outcome.GroundedPass {
		t.Errorf("expected an exact count claim to pass, got %+v", outcome.Results)
	}
}
