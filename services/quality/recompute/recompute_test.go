// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package recompute

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/AleutianAI/procverify/services/quality/dataset"
)

// fixture builds a two-case event log:
//
//	C1: alice -> bob -> alice  (2 handoffs), touch 1800s, lead 1h
//	C2: carol                  (0 handoffs), touch 600s, lead 20m
func fixture() *dataset.Table {
	tbl := dataset.NewTable()
	tbl.Register("salesforce",
		[]string{"case_id", "team", "resource", "activity", "duration_seconds", "start_time", "end_time"},
		[]dataset.Row{
			{"case_id": "C1", "team": "Sales", "resource": "alice", "activity": "Create", "duration_seconds": "600", "start_time": "2026-08-01 09:00:00", "end_time": "2026-08-01 09:10:00"},
			{"case_id": "C1", "team": "Sales", "resource": "bob", "activity": "Review", "duration_seconds": "600", "start_time": "2026-08-01 09:20:00", "end_time": "2026-08-01 09:30:00"},
			{"case_id": "C1", "team": "Sales", "resource": "alice", "activity": "Close", "duration_seconds": "600", "start_time": "2026-08-01 09:50:00", "end_time": "2026-08-01 10:00:00"},
			{"case_id": "C2", "team": "Ops", "resource": "carol", "activity": "Create", "duration_seconds": "600", "start_time": "2026-08-10 09:00:00", "end_time": "2026-08-10 09:20:00"},
		})
	return tbl
}

func newTestEngine() *Engine {
	return NewEngine(fixture(), nil)
}

func TestRecompute_CaseCount(t *testing.T) {
	e := newTestEngine()
	got, err := e.Recompute(context.Background(), "salesforce", "case_count", nil)
	if err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	if got != 2 {
		t.Errorf("case_count = %v, want 2", got)
	}
}

func TestRecompute_CaseCountFiltered(t *testing.T) {
	e := newTestEngine()
	got, err := e.Recompute(context.Background(), "salesforce", "case_count", map[string]string{"team": "Sales"})
	if err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	if got != 1 {
		t.Errorf("filtered case_count = %v, want 1", got)
	}
}

func TestRecompute_HandoffsPerCase(t *testing.T) {
	e := newTestEngine()
	got, err := e.Recompute(context.Background(), "salesforce", "handoffs_per_case", nil)
	if err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	// C1 has alice->bob->alice = 2, C2 has 0; mean = 1.
	if got != 1 {
		t.Errorf("handoffs_per_case = %v, want 1", got)
	}
}

func TestRecompute_HandoffsAlias(t *testing.T) {
	e := newTestEngine()
	direct, err := e.Recompute(context.Background(), "salesforce", "handoffs_per_case", nil)
	if err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	aliased, err := e.Recompute(context.Background(), "salesforce", "handoffs", nil)
	if err != nil {
		t.Fatalf("Recompute alias: %v", err)
	}
	if direct != aliased {
		t.Errorf("alias mismatch: %v vs %v", direct, aliased)
	}
}

func TestRecompute_FlowEfficiency(t *testing.T) {
	e := newTestEngine()
	got, err := e.Recompute(context.Background(), "salesforce", "flow_efficiency", nil)
	if err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	// touch = 2400s; lead = C1 (09:00->10:00 = 3600s) + C2 (1200s) = 4800s.
	want := 2400.0 / 4800.0
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("flow_efficiency = %v, want %v", got, want)
	}
}

func TestRecompute_ThroughputMinutes(t *testing.T) {
	e := newTestEngine()
	got, err := e.Recompute(context.Background(), "salesforce", "throughput_minutes", nil)
	if err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	// C1 = 1800s, C2 = 600s; mean 1200s = 20 minutes.
	if math.Abs(got-20.0) > 1e-9 {
		t.Errorf("throughput_minutes = %v, want 20", got)
	}
}

func TestRecompute_AgingBuckets(t *testing.T) {
	e := newTestEngine()
	// Horizon is 2026-08-10; C1 is 9 days old, C2 is 0 days old.
	cases := map[string]float64{
		"aging_0_7d":               1,
		"aging_8_14d":              1,
		"aging_gt_14d":             0,
		"case_aging_bucket_counts": 2,
		"aging_>14d":               0, // alias
	}
	for metric, want := range cases {
		got, err := e.Recompute(context.Background(), "salesforce", metric, nil)
		if err != nil {
			t.Fatalf("Recompute(%s): %v", metric, err)
		}
		if got != want {
			t.Errorf("%s = %v, want %v", metric, got, want)
		}
	}
}

func TestRecompute_DistinctCounts(t *testing.T) {
	e := newTestEngine()
	cases := map[string]float64{
		"user_count":     3,
		"team_count":     2,
		"activity_count": 3,
	}
	for metric, want := range cases {
		got, err := e.Recompute(context.Background(), "salesforce", metric, nil)
		if err != nil {
			t.Fatalf("Recompute(%s): %v", metric, err)
		}
		if got != want {
			t.Errorf("%s = %v, want %v", metric, got, want)
		}
	}
}

func TestRecompute_ColumnAggregates(t *testing.T) {
	e := newTestEngine()
	avg, err := e.Recompute(context.Background(), "salesforce", "avg_duration", nil)
	if err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	if avg != 600 {
		t.Errorf("avg_duration = %v, want 600", avg)
	}
	max, err := e.Recompute(context.Background(), "salesforce", "max_duration_seconds", nil)
	if err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	if max != 600 {
		t.Errorf("max_duration_seconds = %v, want 600", max)
	}
}

func TestRecompute_UnknownMetric(t *testing.T) {
	e := newTestEngine()
	_, err := e.Recompute(context.Background(), "salesforce", "velocity_index", nil)
	if !errors.Is(err, ErrMetricUnknown) {
		t.Fatalf("expected ErrMetricUnknown, got %v", err)
	}
}

func TestRecompute_EmptyFilteredView(t *testing.T) {
	e := newTestEngine()
	_, err := e.Recompute(context.Background(), "salesforce", "case_count", map[string]string{"team": "Legal"})
	if !errors.Is(err, ErrRecomputeFailed) {
		t.Fatalf("expected ErrRecomputeFailed, got %v", err)
	}
}

func TestRecompute_Deterministic(t *testing.T) {
	e := newTestEngine()
	first, err := e.Recompute(context.Background(), "salesforce", "flow_efficiency", map[string]string{"team": "Sales"})
	if err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := e.Recompute(context.Background(), "salesforce", "flow_efficiency", map[string]string{"team": "Sales"})
		if err != nil {
			t.Fatalf("Recompute: %v", err)
		}
		if again != first {
			t.Fatalf("nondeterministic result: %v vs %v", again, first)
		}
	}
}

func TestSupports(t *testing.T) {
	e := newTestEngine()
	for _, name := range []string{"flow_efficiency", "handoffs", "avg_duration", "median_duration_seconds"} {
		if !e.Supports(name) {
			t.Errorf("expected Supports(%q)", name)
		}
	}
	if e.Supports("velocity_index") {
		t.Errorf("did not expect Supports(velocity_index)")
	}
}
