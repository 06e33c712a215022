// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dataset defines the tabular data access contract the
// verification engine consumes.
//
// The engine does not own dataset loading or parsing. It sees event
// data only through the Accessor interface: filtered row views,
// column listings, and distinct categorical values. The in-memory
// Table implementation backs tests and deployments where the serving
// layer has already materialized the event log.
package dataset

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrDatasetUnknown is returned when the requested dataset ID has
	// not been registered with the accessor.
	ErrDatasetUnknown = errors.New("unknown dataset")

	// ErrColumnUnknown is returned by DistinctValues when the column
	// cannot be resolved against the dataset's schema.
	ErrColumnUnknown = errors.New("unknown column")
)

// Row is a single event record. Values are kept as strings exactly as
// the upstream loader produced them; use Float and Time for typed
// access.
type Row map[string]string

// Float parses the named cell as a float64, tolerating thousands
// separators. The second return is false when the cell is absent or
// not numeric.
func (r Row) Float(column string) (float64, bool) {
	raw, ok := r[column]
	if !ok {
		return 0, false
	}
	raw = strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// timeLayouts are the timestamp formats seen in supported event logs.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
}

// Time parses the named cell as a timestamp. The second return is
// false when the cell is absent or matches no supported layout.
func (r Row) Time(column string) (time.Time, bool) {
	raw, ok := r[column]
	if !ok {
		return time.Time{}, false
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// Accessor exposes filtered views over tabular process-mining data.
//
// Implementations must be safe for concurrent use; the verification
// path calls them once per inbound request.
type Accessor interface {
	// FilteredRows returns the rows matching the given equality
	// filters. Filter keys are logical names (team, resource, case_id,
	// activity) resolved against the dataset's actual columns; an
	// unresolvable key yields zero rows rather than an error.
	FilteredRows(ctx context.Context, datasetID string, filters map[string]string) ([]Row, error)

	// Columns returns the dataset's column names.
	Columns(ctx context.Context, datasetID string) ([]string, error)

	// DistinctValues returns the distinct non-empty values of a column.
	DistinctValues(ctx context.Context, datasetID, column string) ([]string, error)
}

// Candidate column sets, in priority order. Event logs from different
// sources name the same concept differently; these lists mirror the
// loaders feeding the dashboards so recomputed metrics see the same
// columns the charts did.
var (
	CaseColumns     = []string{"case_id", "case", "id"}
	DurationColumns = []string{"duration_seconds", "duration", "task_duration", "elapsed"}
	StartColumns    = []string{"start_time", "start", "timestamp"}
	EndColumns      = []string{"end_time", "end"}
	UserColumns     = []string{"user", "resource", "agent_profile_id", "agent"}
	TeamColumns     = []string{"team", "teams"}
	ActivityColumns = []string{"activity", "step", "original_activity"}
	ProcessColumns  = []string{"process_name", "process", "application", "window"}
	TitleColumns    = []string{"window_title", "title"}
)

// FindColumn resolves a logical column against actual column names.
//
// Exact case-insensitive matches win over substring matches, and
// earlier candidates win over later ones. The second return is false
// when no candidate matches.
func FindColumn(columns []string, candidates []string) (string, bool) {
	lower := make(map[string]string, len(columns))
	for _, c := range columns {
		lower[strings.ToLower(c)] = c
	}
	for _, cand := range candidates {
		if actual, ok := lower[strings.ToLower(cand)]; ok {
			return actual, true
		}
	}
	for _, c := range columns {
		lc := strings.ToLower(c)
		for _, cand := range candidates {
			if strings.Contains(lc, strings.ToLower(cand)) {
				return c, true
			}
		}
	}
	return "", false
}

// filterCandidates maps logical filter keys to candidate column sets.
var filterCandidates = map[string][]string{
	"case_id":  CaseColumns,
	"case":     CaseColumns,
	"team":     TeamColumns,
	"resource": UserColumns,
	"user":     UserColumns,
	"activity": ActivityColumns,
	"process":  ProcessColumns,
}

// ResolveFilterColumn maps a logical filter key to an actual column
// name for the given schema.
func ResolveFilterColumn(columns []string, key string) (string, bool) {
	if cands, ok := filterCandidates[strings.ToLower(key)]; ok {
		return FindColumn(columns, cands)
	}
	return FindColumn(columns, []string{key})
}
