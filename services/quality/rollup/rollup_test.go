// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rollup

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/procverify/services/quality/claims"
	"github.com/AleutianAI/procverify/services/quality/router"
	"github.com/AleutianAI/procverify/services/quality/schema"
	"github.com/AleutianAI/procverify/services/quality/telemetry"
	"github.com/AleutianAI/procverify/services/quality/tracelog"
	"github.com/AleutianAI/procverify/services/quality/verify"
)

func testDay() time.Time {
	return time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
}

func ptr[T any](v T) *T { return &v }

func passRecord(session string, latencyMs float64) *tracelog.Record {
	pct := 0.005
	return &tracelog.Record{
		Timestamp: testDay().Add(9 * time.Hour),
		Endpoint:  "/api/chat",
		DatasetID: "salesforce",
		SessionID: session,
		TraceID:   "t-" + session,
		LatencyTotalMs: latencyMs,
		LatencyModelMs: latencyMs / 2,
		Verification: verify.Outcome{
			HasClaims:    true,
			GroundedPass: true,
			Results: []verify.Result{{
				Claim:  claims.Claim{Name: "flow_efficiency", ClaimedValue: 0.62, Kind: claims.KindRatio},
				PctErr: &pct,
				Passed: true,
				Reason: verify.ReasonMatched,
			}},
		},
		Hallucination: schema.Report{Checked: true},
		Router: router.Check{
			Selected: "salesforce",
			Expected: ptr("salesforce"),
			Correct:  ptr(true),
		},
	}
}

func writeDay(t *testing.T, dir string, records ...*tracelog.Record) {
	t.Helper()
	rec, err := tracelog.NewRecorder(dir, telemetry.NewSink(prometheus.NewRegistry()), nil)
	require.NoError(t, err)
	defer rec.Close()
	for _, r := range records {
		rec.Append(r)
	}
}

func newAggregator(dir string) *Aggregator {
	return NewAggregator(tracelog.NewReader(dir, nil, nil), nil, nil)
}

func TestRollup_EmptyDayIsAllZeros(t *testing.T) {
	a := newAggregator(t.TempDir())
	kpis, err := a.Rollup(context.Background(), testDay())
	require.NoError(t, err)
	assert.Equal(t, "2026-08-30", kpis.Date)
	assert.Zero(t, kpis.TotalInteractions)
	assert.Zero(t, kpis.GroundedAccuracyRate)
	assert.Zero(t, kpis.LatencyTotal.P95)
	assert.Zero(t, kpis.HallucinationRate)
}

func TestRollup_GroundedAccuracy(t *testing.T) {
	dir := t.TempDir()
	fail := passRecord("s2", 200)
	fail.Verification.GroundedPass = false
	fail.Verification.Results[0].Passed = false
	fail.Verification.Results[0].Reason = verify.ReasonToleranceExceeded
	noClaims := passRecord("s3", 150)
	noClaims.Verification = verify.Outcome{}
	writeDay(t, dir, passRecord("s1", 100), fail, noClaims)

	kpis, err := newAggregator(dir).Rollup(context.Background(), testDay())
	require.NoError(t, err)
	assert.Equal(t, 3, kpis.TotalInteractions)
	// 1 pass out of 2 records with claims; the claimless one is excluded.
	assert.InDelta(t, 0.5, kpis.GroundedAccuracyRate, 1e-9)
}

func TestRollup_MetricParity(t *testing.T) {
	dir := t.TempDir()
	r1 := passRecord("s1", 100)
	r2 := passRecord("s2", 100)
	*r2.Verification.Results[0].PctErr = 0.015
	writeDay(t, dir, r1, r2)

	kpis, err := newAggregator(dir).Rollup(context.Background(), testDay())
	require.NoError(t, err)
	assert.InDelta(t, 0.01, kpis.MetricParity.Overall, 1e-9)
	assert.InDelta(t, 0.01, kpis.MetricParity.PerMetric["flow_efficiency"], 1e-9)
}

func TestRollup_RoutingAccuracyExcludesUnscored(t *testing.T) {
	dir := t.TempDir()
	wrong := passRecord("s2", 100)
	wrong.Router = router.Check{Selected: "jira", Expected: ptr("salesforce"), Correct: ptr(false)}
	unscored := passRecord("s3", 100)
	unscored.Router = router.Check{Selected: "salesforce"}
	writeDay(t, dir, passRecord("s1", 100), wrong, unscored)

	kpis, err := newAggregator(dir).Rollup(context.Background(), testDay())
	require.NoError(t, err)
	assert.Equal(t, 2, kpis.RoutingAccuracy.Evaluated)
	assert.Equal(t, 1, kpis.RoutingAccuracy.Correct)
	assert.InDelta(t, 0.5, kpis.RoutingAccuracy.Rate, 1e-9)
}

func TestRollup_LatencyPercentiles(t *testing.T) {
	dir := t.TempDir()
	var records []*tracelog.Record
	for i := 1; i <= 10; i++ {
		records = append(records, passRecord("s", float64(i*100)))
	}
	writeDay(t, dir, records...)

	kpis, err := newAggregator(dir).Rollup(context.Background(), testDay())
	require.NoError(t, err)
	// Nearest-rank over 100..1000: p50 at index ceil(0.5*10)-1 = 4,
	// p95 at index ceil(9.5)-1 = 9.
	assert.Equal(t, 500.0, kpis.LatencyTotal.P50)
	assert.Equal(t, 1000.0, kpis.LatencyTotal.P95)
	assert.InDelta(t, 550.0, kpis.LatencyTotal.Mean, 1e-9)
}

func TestRollup_HallucinationRateUsesCheckedDenominator(t *testing.T) {
	dir := t.TempDir()
	flagged := passRecord("s2", 100)
	flagged.Hallucination = schema.Report{Checked: true, HasHallucinations: true, UnknownEntities: []string{"Ghost99"}}
	skippedCheck := passRecord("s3", 100)
	skippedCheck.Hallucination = schema.Report{Checked: false}
	writeDay(t, dir, passRecord("s1", 100), flagged, skippedCheck)

	kpis, err := newAggregator(dir).Rollup(context.Background(), testDay())
	require.NoError(t, err)
	assert.InDelta(t, 0.5, kpis.HallucinationRate, 1e-9)
}

func TestRollup_ContradictionWithinSession(t *testing.T) {
	dir := t.TempDir()
	first := passRecord("s1", 100)
	first.Verification.Results[0].Claim = claims.Claim{Name: "handoffs_per_case", ClaimedValue: 14, Kind: claims.KindCount}
	second := passRecord("s1", 100)
	second.Verification.Results[0].Claim = claims.Claim{Name: "handoffs_per_case", ClaimedValue: 20, Kind: claims.KindCount}
	steady := passRecord("s2", 100)
	writeDay(t, dir, first, second, steady)

	kpis, err := newAggregator(dir).Rollup(context.Background(), testDay())
	require.NoError(t, err)
	// 14 vs 20 differs by ~43%, well past 10%; session s2 is steady.
	assert.InDelta(t, 0.5, kpis.ContradictionRate, 1e-9)
}

func TestRollup_AdoptionAndResolution(t *testing.T) {
	dir := t.TempDir()
	errored := passRecord("s2", 100)
	errored.Error = "upstream timeout"
	writeDay(t, dir, passRecord("s1", 100), passRecord("s1", 100), errored)

	kpis, err := newAggregator(dir).Rollup(context.Background(), testDay())
	require.NoError(t, err)
	assert.Equal(t, 2, kpis.Adoption.Sessions)
	assert.InDelta(t, 1.5, kpis.Adoption.QueriesPerSession, 1e-9)
	// s1 ended clean, s2 ended in error.
	assert.InDelta(t, 0.5, kpis.Resolution.Rate, 1e-9)
	assert.Equal(t, 1.0, kpis.Resolution.TurnsP50)
}

func TestRollup_Idempotent(t *testing.T) {
	dir := t.TempDir()
	writeDay(t, dir, passRecord("s1", 100), passRecord("s2", 250))

	a := newAggregator(dir)
	first, err := a.Rollup(context.Background(), testDay())
	require.NoError(t, err)
	second, err := a.Rollup(context.Background(), testDay())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRollup_CancelledContext(t *testing.T) {
	dir := t.TempDir()
	writeDay(t, dir, passRecord("s1", 100))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	kpis, err := newAggregator(dir).Rollup(ctx, testDay())
	assert.ErrorIs(t, err, ErrRollupCancelled)
	assert.Nil(t, kpis)
}

func TestRollupRange(t *testing.T) {
	dir := t.TempDir()
	writeDay(t, dir, passRecord("s1", 100))

	out, err := newAggregator(dir).RollupRange(context.Background(), testDay(), testDay().AddDate(0, 0, 2))
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, 1, out[0].TotalInteractions)
	assert.Zero(t, out[1].TotalInteractions)
}

func TestRollupRange_BackwardRange(t *testing.T) {
	_, err := newAggregator(t.TempDir()).RollupRange(context.Background(), testDay(), testDay().AddDate(0, 0, -1))
	assert.Error(t, err)
}

func TestStore_WriteAndRead(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	kpis := &KPIs{Date: "2026-08-30", TotalInteractions: 7}
	require.NoError(t, store.Write(kpis))

	got, err := store.Read(testDay())
	require.NoError(t, err)
	assert.Equal(t, 7, got.TotalInteractions)
	assert.Equal(t, "2026-08-30", got.Date)
}

func TestStore_ReadMissing(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	_, err = store.Read(testDay())
	assert.ErrorIs(t, err, ErrNotBuilt)
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "kpis-20260830.json", FileName(testDay()))
}
