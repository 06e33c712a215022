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
	"fmt"
	"sort"
	"time"

	"github.com/AleutianAI/procverify/services/quality/dataset"
)

// estimatedWaitSeconds is the per-activity wait assumed when the view
// carries no usable end timestamps. Matches the dashboards' fallback.
const estimatedWaitSeconds = 300.0

// caseGroup is the per-case slice of rows, ordered by start timestamp
// when one parses.
type caseGroup struct {
	id   string
	rows []dataset.Row
}

// groupByCase splits the view into per-case groups ordered by case ID
// for determinism, with rows inside each group stably ordered by
// timestamp.
func groupByCase(view *View) ([]caseGroup, bool) {
	caseCol, ok := view.Column(dataset.CaseColumns)
	if !ok {
		return nil, false
	}
	startCol, hasStart := view.Column(dataset.StartColumns)

	byID := make(map[string][]dataset.Row)
	for _, row := range view.Rows {
		id := row[caseCol]
		byID[id] = append(byID[id], row)
	}

	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	groups := make([]caseGroup, 0, len(ids))
	for _, id := range ids {
		rows := byID[id]
		if hasStart {
			sort.SliceStable(rows, func(i, j int) bool {
				ti, iok := rows[i].Time(startCol)
				tj, jok := rows[j].Time(startCol)
				if !iok || !jok {
					return false
				}
				return ti.Before(tj)
			})
		}
		groups = append(groups, caseGroup{id: id, rows: rows})
	}
	return groups, true
}

// flowEfficiency computes touch time over total lead time, clamped to
// [0, 1].
//
// Lead time per case is last end minus first start when timestamps
// parse; otherwise the dashboards' estimate (touch time plus a fixed
// wait per activity) is used so the metric stays comparable with what
// users saw.
func flowEfficiency(ctx context.Context, view *View) (float64, error) {
	durationCol, ok := view.Column(dataset.DurationColumns)
	if !ok {
		return 0, fmt.Errorf("%w: no duration column", ErrRecomputeFailed)
	}
	groups, ok := groupByCase(view)
	if !ok {
		return 0, fmt.Errorf("%w: no case column", ErrRecomputeFailed)
	}

	var touch float64
	for _, row := range view.Rows {
		if d, ok := row.Float(durationCol); ok {
			touch += d
		}
	}
	if touch <= 0 {
		return 0, fmt.Errorf("%w: no numeric durations", ErrRecomputeFailed)
	}

	startCol, hasStart := view.Column(dataset.StartColumns)
	endCol, hasEnd := view.Column(dataset.EndColumns)

	var lead float64
	if hasStart && hasEnd {
		for _, g := range groups {
			var first, last time.Time
			for _, row := range g.rows {
				if ts, ok := row.Time(startCol); ok && (first.IsZero() || ts.Before(first)) {
					first = ts
				}
				if ts, ok := row.Time(endCol); ok && ts.After(last) {
					last = ts
				}
			}
			if !first.IsZero() && last.After(first) {
				lead += last.Sub(first).Seconds()
			}
		}
	}
	if lead <= 0 {
		lead = touch + float64(len(view.Rows))*estimatedWaitSeconds
	}

	eff := touch / lead
	if eff > 1 {
		eff = 1
	}
	return eff, nil
}

// throughputMinutes computes the mean per-case total duration in
// minutes.
func throughputMinutes(ctx context.Context, view *View) (float64, error) {
	durationCol, ok := view.Column(dataset.DurationColumns)
	if !ok {
		return 0, fmt.Errorf("%w: no duration column", ErrRecomputeFailed)
	}
	groups, ok := groupByCase(view)
	if !ok {
		return 0, fmt.Errorf("%w: no case column", ErrRecomputeFailed)
	}

	var total float64
	counted := 0
	for _, g := range groups {
		var sum float64
		seen := false
		for _, row := range g.rows {
			if d, ok := row.Float(durationCol); ok {
				sum += d
				seen = true
			}
		}
		if seen {
			total += sum
			counted++
		}
	}
	if counted == 0 {
		return 0, fmt.Errorf("%w: no numeric durations", ErrRecomputeFailed)
	}
	return total / float64(counted) / 60.0, nil
}

// handoffsPerCase computes the mean number of adjacent transitions
// between distinct resource values within each case, ordered by
// timestamp.
func handoffsPerCase(ctx context.Context, view *View) (float64, error) {
	userCol, ok := view.Column(dataset.UserColumns)
	if !ok {
		return 0, fmt.Errorf("%w: no resource column", ErrRecomputeFailed)
	}
	groups, ok := groupByCase(view)
	if !ok {
		return 0, fmt.Errorf("%w: no case column", ErrRecomputeFailed)
	}

	var total float64
	for _, g := range groups {
		prev := ""
		for i, row := range g.rows {
			user := row[userCol]
			if i > 0 && user != prev {
				total++
			}
			prev = user
		}
	}
	return total / float64(len(groups)), nil
}

// caseCount counts distinct cases, falling back to the row count when
// the view has no case column.
func caseCount(ctx context.Context, view *View) (float64, error) {
	caseCol, ok := view.Column(dataset.CaseColumns)
	if !ok {
		return float64(len(view.Rows)), nil
	}
	seen := make(map[string]struct{})
	for _, row := range view.Rows {
		seen[row[caseCol]] = struct{}{}
	}
	return float64(len(seen)), nil
}

// caseAges returns per-case age in days, measured from each case's
// first activity to the latest activity in the view. Using the view's
// own horizon instead of wall-clock time keeps the metric
// deterministic.
func caseAges(view *View) ([]float64, error) {
	startCol, ok := view.Column(dataset.StartColumns)
	if !ok {
		return nil, fmt.Errorf("%w: no timestamp column", ErrRecomputeFailed)
	}
	groups, ok := groupByCase(view)
	if !ok {
		return nil, fmt.Errorf("%w: no case column", ErrRecomputeFailed)
	}

	var horizon time.Time
	for _, row := range view.Rows {
		if ts, ok := row.Time(startCol); ok && ts.After(horizon) {
			horizon = ts
		}
	}
	if horizon.IsZero() {
		return nil, fmt.Errorf("%w: no parseable timestamps", ErrRecomputeFailed)
	}

	var ages []float64
	for _, g := range groups {
		var first time.Time
		for _, row := range g.rows {
			if ts, ok := row.Time(startCol); ok && (first.IsZero() || ts.Before(first)) {
				first = ts
			}
		}
		if first.IsZero() {
			continue
		}
		ages = append(ages, horizon.Sub(first).Hours()/24.0)
	}
	if len(ages) == 0 {
		return nil, fmt.Errorf("%w: no parseable timestamps", ErrRecomputeFailed)
	}
	return ages, nil
}

// agingBucket builds a metric counting cases whose age in whole days
// falls within [lo, hi]; hi < 0 means unbounded.
func agingBucket(lo, hi int) MetricFunc {
	return func(ctx context.Context, view *View) (float64, error) {
		ages, err := caseAges(view)
		if err != nil {
			return 0, err
		}
		var count float64
		for _, age := range ages {
			if age <= float64(lo-1) {
				continue
			}
			if hi >= 0 && age > float64(hi) {
				continue
			}
			count++
		}
		return count, nil
	}
}

// agingTotal counts the cases with a determinable age, i.e. the sum
// over all aging buckets.
func agingTotal(ctx context.Context, view *View) (float64, error) {
	ages, err := caseAges(view)
	if err != nil {
		return 0, err
	}
	return float64(len(ages)), nil
}

// distinctCount builds a metric counting distinct values of a logical
// column.
func distinctCount(candidates []string) MetricFunc {
	return func(ctx context.Context, view *View) (float64, error) {
		col, ok := view.Column(candidates)
		if !ok {
			return 0, fmt.Errorf("%w: column not present", ErrRecomputeFailed)
		}
		seen := make(map[string]struct{})
		for _, row := range view.Rows {
			if v := row[col]; v != "" {
				seen[v] = struct{}{}
			}
		}
		return float64(len(seen)), nil
	}
}

// columnAggregate builds a dynamic avg/median/max/min metric over a
// named column. Duration-flavored names resolve through the duration
// candidate set so "avg_duration" finds "duration_seconds".
func columnAggregate(op, column string) MetricFunc {
	candidates := []string{column}
	if column == "duration" || column == "duration_seconds" {
		candidates = dataset.DurationColumns
	}
	return func(ctx context.Context, view *View) (float64, error) {
		col, ok := view.Column(candidates)
		if !ok {
			return 0, fmt.Errorf("%w: column %s not present", ErrRecomputeFailed, column)
		}
		var values []float64
		for _, row := range view.Rows {
			if v, ok := row.Float(col); ok {
				values = append(values, v)
			}
		}
		if len(values) == 0 {
			return 0, fmt.Errorf("%w: no numeric values in %s", ErrRecomputeFailed, col)
		}
		sort.Float64s(values)

		switch op {
		case "avg":
			var sum float64
			for _, v := range values {
				sum += v
			}
			return sum / float64(len(values)), nil
		case "median":
			n := len(values)
			if n%2 == 1 {
				return values[n/2], nil
			}
			return (values[n/2-1] + values[n/2]) / 2.0, nil
		case "max":
			return values[len(values)-1], nil
		case "min":
			return values[0], nil
		default:
			return 0, fmt.Errorf("%w: aggregate %s", ErrMetricUnknown, op)
		}
	}
}
