// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package recompute independently recomputes process-mining metrics
// from the underlying tabular data.
//
// The supported metrics form a fixed registry; each metric applies the
// request's equality filters through the dataset accessor and computes
// its statistic deterministically. The same filters over the same data
// always produce the same value, which is what makes claimed-versus-
// recomputed comparison meaningful.
package recompute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/procverify/services/quality/dataset"
)

var (
	// ErrMetricUnknown is returned for metric names outside the
	// registry. Callers record this as a claim-level condition, never
	// a crash.
	ErrMetricUnknown = errors.New("unknown metric")

	// ErrRecomputeFailed is returned when the filtered view is empty
	// or the metric's required columns are missing.
	ErrRecomputeFailed = errors.New("metric recomputation failed")
)

// View is the filtered slice a metric function computes over.
type View struct {
	Rows    []dataset.Row
	Columns []string
}

// Column resolves a logical column against the view's schema.
func (v *View) Column(candidates []string) (string, bool) {
	return dataset.FindColumn(v.Columns, candidates)
}

// MetricFunc computes one statistic over a filtered view.
type MetricFunc func(ctx context.Context, view *View) (float64, error)

// nameAliases maps claim-vocabulary names onto registry names. The
// extractor canonicalizes most of these already; the rest cover names
// generators have historically used.
var nameAliases = map[string]string{
	"handoff":              "handoffs_per_case",
	"handoffs":             "handoffs_per_case",
	"avg_handoffs":         "handoffs_per_case",
	"throughput":           "throughput_minutes",
	"avg_throughput":       "throughput_minutes",
	"cases":                "case_count",
	"case":                 "case_count",
	"users":                "user_count",
	"unique_users":         "user_count",
	"teams":                "team_count",
	"unique_teams":         "team_count",
	"activities":           "activity_count",
	"unique_activities":    "activity_count",
	"avg_duration_seconds": "avg_duration",
	"mean_duration":        "avg_duration",
	"aging_>14d":           "aging_gt_14d",
	"aging_8-14d":          "aging_8_14d",
	"aging_0-7d":           "aging_0_7d",
}

// Engine recomputes registry metrics over accessor-provided views.
//
// Thread Safety: safe for concurrent use after construction; Register
// must not be called concurrently with Recompute.
type Engine struct {
	accessor dataset.Accessor
	registry map[string]MetricFunc
	logger   *slog.Logger
}

// NewEngine creates an Engine with the fixed metric registry
// installed.
func NewEngine(accessor dataset.Accessor, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		accessor: accessor,
		registry: make(map[string]MetricFunc),
		logger:   logger,
	}
	e.registry["flow_efficiency"] = flowEfficiency
	e.registry["throughput_minutes"] = throughputMinutes
	e.registry["handoffs_per_case"] = handoffsPerCase
	e.registry["case_count"] = caseCount
	e.registry["case_aging_bucket_counts"] = agingTotal
	e.registry["aging_0_7d"] = agingBucket(0, 7)
	e.registry["aging_8_14d"] = agingBucket(8, 14)
	e.registry["aging_gt_14d"] = agingBucket(15, -1)
	e.registry["user_count"] = distinctCount(dataset.UserColumns)
	e.registry["team_count"] = distinctCount(dataset.TeamColumns)
	e.registry["activity_count"] = distinctCount(dataset.ActivityColumns)
	return e
}

// Register installs a caller-supplied metric. Existing names are
// replaced.
func (e *Engine) Register(name string, fn MetricFunc) {
	e.registry[strings.ToLower(name)] = fn
}

// Supports reports whether the metric name resolves to a registry
// entry or a recognized dynamic aggregate form.
func (e *Engine) Supports(name string) bool {
	_, err := e.resolve(strings.ToLower(name))
	return err == nil
}

// Recompute computes the named metric over the filtered view.
//
// Returns ErrMetricUnknown for names outside the registry and
// ErrRecomputeFailed when the filtered view is empty or the metric's
// columns are absent. Never panics on malformed data.
func (e *Engine) Recompute(ctx context.Context, datasetID, metric string, filters map[string]string) (float64, error) {
	fn, err := e.resolve(strings.ToLower(strings.TrimSpace(metric)))
	if err != nil {
		return 0, err
	}

	rows, err := e.accessor.FilteredRows(ctx, datasetID, filters)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRecomputeFailed, err)
	}
	if len(rows) == 0 {
		return 0, fmt.Errorf("%w: empty filtered view", ErrRecomputeFailed)
	}
	columns, err := e.accessor.Columns(ctx, datasetID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRecomputeFailed, err)
	}

	value, err := fn(ctx, &View{Rows: rows, Columns: columns})
	if err != nil {
		return 0, err
	}
	return value, nil
}

// resolve maps a metric name to its function, expanding aliases and
// dynamic aggregate forms (avg_/median_/max_/min_ over a column).
func (e *Engine) resolve(name string) (MetricFunc, error) {
	if alias, ok := nameAliases[name]; ok {
		name = alias
	}
	if fn, ok := e.registry[name]; ok {
		return fn, nil
	}
	for _, prefix := range []string{"avg_", "median_", "max_", "min_"} {
		if strings.HasPrefix(name, prefix) && len(name) > len(prefix) {
			return columnAggregate(prefix[:len(prefix)-1], name[len(prefix):]), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrMetricUnknown, name)
}
