// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package schema

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/procverify/services/quality/dataset"
)

func testTable() *dataset.Table {
	tbl := dataset.NewTable()
	tbl.Register("salesforce",
		[]string{"case_id", "team", "resource", "activity", "duration_seconds", "start_time"},
		[]dataset.Row{
			{"case_id": "C1", "team": "Sales", "resource": "alice", "activity": "Create Case", "duration_seconds": "600", "start_time": "2026-08-01 09:00:00"},
			{"case_id": "C2", "team": "Ops", "resource": "bob", "activity": "Review", "duration_seconds": "300", "start_time": "2026-08-02 09:00:00"},
		})
	return tbl
}

func newTestDictionary(t *testing.T, ttl time.Duration) *Dictionary {
	t.Helper()
	return NewDictionary(testTable(), Options{TTL: ttl}, nil)
}

func TestSnapshot_BuildsColumnsAndEntities(t *testing.T) {
	d := newTestDictionary(t, time.Minute)
	snap, err := d.Snapshot(context.Background(), "salesforce")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if !snap.HasColumn("team") || !snap.HasColumn("DURATION_SECONDS") {
		t.Errorf("expected known columns to resolve case-insensitively")
	}
	if !snap.HasEntityIn(CategoryTeam, "sales") {
		t.Errorf("expected Sales to be a known team")
	}
	if !snap.HasEntityIn(CategoryUser, "alice") {
		t.Errorf("expected alice to be a known user")
	}
	if snap.HasEntityIn(CategoryTeam, "Legal") {
		t.Errorf("did not expect Legal to be a known team")
	}
}

func TestSnapshot_UnknownDataset(t *testing.T) {
	d := newTestDictionary(t, time.Minute)
	_, err := d.Snapshot(context.Background(), "nope")
	if !errors.Is(err, ErrSchemaUnavailable) {
		t.Fatalf("expected ErrSchemaUnavailable, got %v", err)
	}
}

func TestSnapshot_CachesWithinTTL(t *testing.T) {
	d := newTestDictionary(t, time.Minute)
	first, err := d.Snapshot(context.Background(), "salesforce")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	second, err := d.Snapshot(context.Background(), "salesforce")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if first != second {
		t.Errorf("expected the cached snapshot pointer on the second call")
	}
	stats := d.Stats()
	if stats.Hits != 1 || stats.Misses != 1 || stats.Rebuilds != 1 {
		t.Errorf("stats = %+v, want 1 hit / 1 miss / 1 rebuild", stats)
	}
}

func TestSnapshot_StaleServedAfterTTL(t *testing.T) {
	d := newTestDictionary(t, time.Nanosecond)
	first, err := d.Snapshot(context.Background(), "salesforce")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	time.Sleep(time.Millisecond)

	// Expired: the call must still return immediately with a snapshot.
	again, err := d.Snapshot(context.Background(), "salesforce")
	if err != nil {
		t.Fatalf("Snapshot after expiry: %v", err)
	}
	if again.DatasetID != first.DatasetID {
		t.Errorf("unexpected snapshot: %+v", again)
	}
	if d.Stats().StaleServes == 0 {
		t.Errorf("expected a stale serve to be counted")
	}
}

func TestSnapshot_ConcurrentAccess(t *testing.T) {
	d := newTestDictionary(t, time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := d.Snapshot(context.Background(), "salesforce"); err != nil {
				t.Errorf("Snapshot: %v", err)
			}
		}()
	}
	wg.Wait()
}

func TestInvalidate(t *testing.T) {
	d := newTestDictionary(t, time.Minute)
	if _, err := d.Snapshot(context.Background(), "salesforce"); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	d.Invalidate("salesforce")
	if _, err := d.Snapshot(context.Background(), "salesforce"); err != nil {
		t.Fatalf("Snapshot after invalidate: %v", err)
	}
	if got := d.Stats().Rebuilds; got != 2 {
		t.Errorf("rebuilds = %d, want 2", got)
	}
}

func TestValidateReferences_UnknownUser(t *testing.T) {
	d := newTestDictionary(t, time.Minute)
	report := d.ValidateReferences(context.Background(),
		"The flow efficiency for user Ghost99 was 45%.", "salesforce")
	if !report.Checked {
		t.Fatalf("expected the check to run")
	}
	if !report.HasHallucinations {
		t.Fatalf("expected a hallucination flag, got %+v", report)
	}
	if len(report.UnknownEntities) != 1 || report.UnknownEntities[0] != "Ghost99" {
		t.Errorf("unknown entities = %v, want [Ghost99]", report.UnknownEntities)
	}
}

func TestValidateReferences_KnownEntitiesPass(t *testing.T) {
	d := newTestDictionary(t, time.Minute)
	report := d.ValidateReferences(context.Background(),
		"The Sales team completed the 'Create Case' activity quickly.", "salesforce")
	if !report.Checked {
		t.Fatalf("expected the check to run")
	}
	if report.HasHallucinations {
		t.Errorf("did not expect hallucinations, got %v", report.UnknownEntities)
	}
}

func TestValidateReferences_UnknownTeam(t *testing.T) {
	d := newTestDictionary(t, time.Minute)
	report := d.ValidateReferences(context.Background(),
		"Most delays came from the Phantom team.", "salesforce")
	if !report.HasHallucinations {
		t.Fatalf("expected Phantom to be flagged")
	}
	if report.UnknownEntities[0] != "Phantom" {
		t.Errorf("unknown entities = %v, want [Phantom]", report.UnknownEntities)
	}
}

func TestValidateReferences_SchemaUnavailable(t *testing.T) {
	d := newTestDictionary(t, time.Minute)
	report := d.ValidateReferences(context.Background(), "user Ghost99 did things", "nope")
	if report.Checked {
		t.Errorf("expected the check to be skipped")
	}
	if report.HasHallucinations {
		t.Errorf("a skipped check must not flag hallucinations")
	}
}

func TestValidateReferences_NoEntityTalk(t *testing.T) {
	d := newTestDictionary(t, time.Minute)
	report := d.ValidateReferences(context.Background(),
		"Flow efficiency is 62% overall.", "salesforce")
	if report.HasHallucinations {
		t.Errorf("plain metric talk must not be flagged, got %v", report.UnknownEntities)
	}
}
