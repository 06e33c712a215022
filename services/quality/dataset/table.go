// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dataset

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Table is an in-memory Accessor over registered datasets.
//
// Registration replaces the dataset wholesale; readers always see a
// consistent snapshot of rows.
//
// Thread Safety: safe for concurrent use.
type Table struct {
	mu       sync.RWMutex
	datasets map[string]*eventTable
}

type eventTable struct {
	columns []string
	rows    []Row
}

// NewTable creates an empty Table.
func NewTable() *Table {
	return &Table{datasets: make(map[string]*eventTable)}
}

// Register installs or replaces a dataset.
//
// Rows are referenced, not copied; callers must not mutate them after
// registration.
func (t *Table) Register(datasetID string, columns []string, rows []Row) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.datasets[datasetID] = &eventTable{columns: columns, rows: rows}
}

// DatasetIDs returns the registered dataset identifiers, sorted.
func (t *Table) DatasetIDs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]string, 0, len(t.datasets))
	for id := range t.datasets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// FilteredRows implements Accessor.
func (t *Table) FilteredRows(ctx context.Context, datasetID string, filters map[string]string) ([]Row, error) {
	t.mu.RLock()
	et, ok := t.datasets[datasetID]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDatasetUnknown, datasetID)
	}

	if len(filters) == 0 {
		return et.rows, nil
	}

	// Resolve logical filter keys once against the schema. An
	// unresolvable key matches nothing.
	resolved := make(map[string]string, len(filters))
	for key, want := range filters {
		col, ok := ResolveFilterColumn(et.columns, key)
		if !ok {
			return []Row{}, nil
		}
		resolved[col] = want
	}

	var out []Row
	for _, row := range et.rows {
		match := true
		for col, want := range resolved {
			if row[col] != want {
				match = false
				break
			}
		}
		if match {
			out = append(out, row)
		}
	}
	if out == nil {
		out = []Row{}
	}
	return out, nil
}

// Columns implements Accessor.
func (t *Table) Columns(ctx context.Context, datasetID string) ([]string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	et, ok := t.datasets[datasetID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDatasetUnknown, datasetID)
	}
	cols := make([]string, len(et.columns))
	copy(cols, et.columns)
	return cols, nil
}

// DistinctValues implements Accessor.
func (t *Table) DistinctValues(ctx context.Context, datasetID, column string) ([]string, error) {
	t.mu.RLock()
	et, ok := t.datasets[datasetID]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDatasetUnknown, datasetID)
	}

	col, ok := FindColumn(et.columns, []string{column})
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrColumnUnknown, datasetID, column)
	}

	seen := make(map[string]struct{})
	var values []string
	for _, row := range et.rows {
		v := row[col]
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		values = append(values, v)
	}
	sort.Strings(values)
	return values, nil
}
