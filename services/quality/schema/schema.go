// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package schema builds and caches per-dataset dictionaries of valid
// column names and categorical entity values, and answers the
// hallucination question: does this answer mention an entity the
// dataset has never heard of?
//
// Snapshots are immutable and replaced wholesale on refresh, so
// concurrent readers always see a consistent dictionary. Rebuilds are
// deduplicated with singleflight; callers arriving during a rebuild
// are served the previous snapshot rather than blocking.
package schema

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/procverify/services/quality/dataset"
)

// ErrSchemaUnavailable is returned when no snapshot can be built for
// the dataset. Callers skip the hallucination check rather than fail
// the request.
var ErrSchemaUnavailable = errors.New("schema unavailable")

// Category identifies a class of categorical entity values.
type Category string

const (
	CategoryTeam     Category = "team"
	CategoryUser     Category = "user"
	CategoryActivity Category = "activity"
	CategoryProcess  Category = "process"
)

// categoryColumns maps each category to its candidate column set.
var categoryColumns = map[Category][]string{
	CategoryTeam:     dataset.TeamColumns,
	CategoryUser:     dataset.UserColumns,
	CategoryActivity: dataset.ActivityColumns,
	CategoryProcess:  dataset.ProcessColumns,
}

// Snapshot is an immutable view of a dataset's schema. Never mutated
// after construction; the Dictionary swaps whole snapshots on refresh.
type Snapshot struct {
	DatasetID string
	BuiltAt   time.Time

	// columns holds lowercase column names.
	columns map[string]struct{}

	// entities holds lowercase value -> original value per category.
	entities map[Category]map[string]string
}

// Columns returns the number of known columns.
func (s *Snapshot) ColumnCount() int { return len(s.columns) }

// EntityCount returns the number of known values for a category.
func (s *Snapshot) EntityCount(cat Category) int { return len(s.entities[cat]) }

// HasColumn reports whether the dataset has the named column
// (case-insensitive).
func (s *Snapshot) HasColumn(name string) bool {
	_, ok := s.columns[strings.ToLower(name)]
	return ok
}

// HasEntity reports whether value is a known entity in any category
// (case-insensitive, containment in either direction so partial
// mentions of multi-word values match).
func (s *Snapshot) HasEntity(value string) bool {
	needle := strings.ToLower(strings.TrimSpace(value))
	if needle == "" {
		return false
	}
	for _, values := range s.entities {
		if _, ok := values[needle]; ok {
			return true
		}
		for known := range values {
			if strings.Contains(known, needle) || strings.Contains(needle, known) {
				return true
			}
		}
	}
	return false
}

// HasEntityIn is HasEntity restricted to one category.
func (s *Snapshot) HasEntityIn(cat Category, value string) bool {
	needle := strings.ToLower(strings.TrimSpace(value))
	values := s.entities[cat]
	if needle == "" || values == nil {
		return false
	}
	if _, ok := values[needle]; ok {
		return true
	}
	for known := range values {
		if strings.Contains(known, needle) || strings.Contains(needle, known) {
			return true
		}
	}
	return false
}

// Options configures the Dictionary.
type Options struct {
	// TTL is how long a snapshot is served before a rebuild is
	// triggered. Default: 10 minutes.
	TTL time.Duration

	// Detector tunes the hallucination heuristic. Nil uses defaults.
	Detector *DetectorConfig
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{TTL: 10 * time.Minute}
}

// Stats reports cache behavior for observability.
type Stats struct {
	Hits        int64
	Misses      int64
	StaleServes int64
	Rebuilds    int64
	BuildErrors int64
}

// Dictionary caches schema snapshots per dataset with TTL expiry.
//
// Thread Safety: safe for concurrent use. A single in-flight rebuild
// per dataset is enforced with singleflight; concurrent callers during
// a rebuild read the previous snapshot and never block on the rebuild.
type Dictionary struct {
	accessor dataset.Accessor
	detector *Detector
	logger   *slog.Logger

	// ttl holds the snapshot expiry in nanoseconds; swapped on config
	// reload.
	ttl atomic.Int64

	mu        sync.RWMutex
	snapshots map[string]*Snapshot
	flight    singleflight.Group

	hits        atomic.Int64
	misses      atomic.Int64
	staleServes atomic.Int64
	rebuilds    atomic.Int64
	buildErrors atomic.Int64
}

// NewDictionary creates a Dictionary over the given accessor.
func NewDictionary(accessor dataset.Accessor, opts Options, logger *slog.Logger) *Dictionary {
	if opts.TTL <= 0 {
		opts.TTL = DefaultOptions().TTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dictionary{
		accessor:  accessor,
		detector:  NewDetector(opts.Detector),
		logger:    logger,
		snapshots: make(map[string]*Snapshot),
	}
	d.ttl.Store(int64(opts.TTL))
	return d
}

// SetTTL changes the snapshot expiry, typically from a config reload.
// Existing snapshots are re-judged against the new TTL on their next
// read.
func (d *Dictionary) SetTTL(ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	d.ttl.Store(int64(ttl))
}

// Snapshot returns the dataset's schema snapshot.
//
// A fresh snapshot is returned directly. An expired snapshot is
// returned as-is while exactly one background rebuild runs; the caller
// never waits for it. Only the very first call for a dataset blocks on
// a build.
func (d *Dictionary) Snapshot(ctx context.Context, datasetID string) (*Snapshot, error) {
	d.mu.RLock()
	snap := d.snapshots[datasetID]
	d.mu.RUnlock()

	if snap != nil {
		if time.Since(snap.BuiltAt) < time.Duration(d.ttl.Load()) {
			d.hits.Add(1)
			return snap, nil
		}
		// Serve stale, refresh once in the background.
		d.staleServes.Add(1)
		go d.refresh(datasetID)
		return snap, nil
	}

	d.misses.Add(1)
	v, err, _ := d.flight.Do(datasetID, func() (interface{}, error) {
		return d.build(context.WithoutCancel(ctx), datasetID)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaUnavailable, err)
	}
	return v.(*Snapshot), nil
}

// refresh rebuilds one dataset's snapshot. Concurrent refreshes for
// the same dataset collapse into one build; failures keep the stale
// snapshot in place for the next caller.
func (d *Dictionary) refresh(datasetID string) {
	_, err, shared := d.flight.Do(datasetID, func() (interface{}, error) {
		return d.build(context.Background(), datasetID)
	})
	if err != nil && !shared {
		d.logger.Warn("schema rebuild failed, serving stale snapshot",
			"dataset", datasetID, "error", err)
	}
}

// build scans the dataset and installs a new snapshot.
func (d *Dictionary) build(ctx context.Context, datasetID string) (*Snapshot, error) {
	d.rebuilds.Add(1)

	columns, err := d.accessor.Columns(ctx, datasetID)
	if err != nil {
		d.buildErrors.Add(1)
		return nil, err
	}

	snap := &Snapshot{
		DatasetID: datasetID,
		BuiltAt:   time.Now(),
		columns:   make(map[string]struct{}, len(columns)),
		entities:  make(map[Category]map[string]string),
	}
	for _, c := range columns {
		snap.columns[strings.ToLower(c)] = struct{}{}
	}

	for cat, candidates := range categoryColumns {
		col, ok := dataset.FindColumn(columns, candidates)
		if !ok {
			continue
		}
		values, err := d.accessor.DistinctValues(ctx, datasetID, col)
		if err != nil {
			d.buildErrors.Add(1)
			return nil, err
		}
		m := make(map[string]string, len(values))
		for _, v := range values {
			m[strings.ToLower(v)] = v
		}
		snap.entities[cat] = m
	}

	d.mu.Lock()
	d.snapshots[datasetID] = snap
	d.mu.Unlock()

	return snap, nil
}

// Invalidate drops the cached snapshot for a dataset, forcing the next
// caller to rebuild. Used when the serving layer reloads a dataset.
func (d *Dictionary) Invalidate(datasetID string) {
	d.mu.Lock()
	delete(d.snapshots, datasetID)
	d.mu.Unlock()
}

// Stats returns a point-in-time view of cache counters.
func (d *Dictionary) Stats() Stats {
	return Stats{
		Hits:        d.hits.Load(),
		Misses:      d.misses.Load(),
		StaleServes: d.staleServes.Load(),
		Rebuilds:    d.rebuilds.Load(),
		BuildErrors: d.buildErrors.Load(),
	}
}

// ValidateReferences checks the answer text for entity mentions absent
// from the dataset's schema.
//
// When no snapshot can be built the check is skipped: the report comes
// back with Checked=false and no hallucinations, never an error.
func (d *Dictionary) ValidateReferences(ctx context.Context, text, datasetID string) Report {
	snap, err := d.Snapshot(ctx, datasetID)
	if err != nil {
		d.logger.Warn("hallucination check skipped", "dataset", datasetID, "error", err)
		return Report{Checked: false}
	}
	return d.detector.Detect(text, snap)
}
