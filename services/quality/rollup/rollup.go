// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package rollup aggregates a day of trace records into the daily KPI
// document the dashboards read.
//
// Rollups are pure functions of the day's trace file: running one
// twice produces identical output, and a day with no traffic produces
// a zero document rather than NaNs.
package rollup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/AleutianAI/procverify/services/quality/telemetry"
	"github.com/AleutianAI/procverify/services/quality/tracelog"
)

// ErrRollupCancelled is returned when the context ends mid-rollup. No
// partial document is produced.
var ErrRollupCancelled = errors.New("rollup cancelled")

// contradictionThreshold is the relative difference between two claimed
// values of the same metric in one session that counts as a
// contradiction.
const contradictionThreshold = 0.10

// LatencyStats summarizes one latency series in milliseconds.
type LatencyStats struct {
	P50  float64 `json:"p50_ms"`
	P95  float64 `json:"p95_ms"`
	Mean float64 `json:"mean_ms"`
}

// MetricParity reports how far claimed values drifted from recomputed
// ones, as mean absolute percentage error.
type MetricParity struct {
	// Overall is the MAPE across every verifiable claim of the day.
	Overall float64 `json:"overall_mape"`

	// PerMetric is the MAPE per metric name.
	PerMetric map[string]float64 `json:"per_metric_mape,omitempty"`
}

// RoutingAccuracy covers only queries that carried a routing
// expectation.
type RoutingAccuracy struct {
	Evaluated int     `json:"evaluated"`
	Correct   int     `json:"correct"`
	Rate      float64 `json:"rate"`
}

// Adoption summarizes usage volume.
type Adoption struct {
	Sessions          int     `json:"sessions"`
	QueriesPerSession float64 `json:"queries_per_session"`
}

// Resolution summarizes how sessions ended. A session counts as
// resolved when its final interaction completed without an upstream
// error.
type Resolution struct {
	Rate     float64 `json:"rate"`
	TurnsP50 float64 `json:"turns_p50"`
}

// KPIs is the daily rollup document.
type KPIs struct {
	Date              string `json:"date"`
	TotalInteractions int    `json:"total_interactions"`

	// GroundedAccuracyRate is passed verifications over interactions
	// that carried claims.
	GroundedAccuracyRate float64 `json:"grounded_accuracy_rate"`

	MetricParity    MetricParity    `json:"metric_parity"`
	RoutingAccuracy RoutingAccuracy `json:"routing_accuracy"`

	LatencyTotal LatencyStats `json:"latency_total"`
	LatencyModel LatencyStats `json:"latency_model"`

	// HallucinationRate is flagged answers over answers that were
	// actually checked.
	HallucinationRate float64 `json:"hallucination_rate"`

	// ContradictionRate is sessions where the same metric was claimed
	// with materially different values, over sessions with claims.
	ContradictionRate float64 `json:"contradiction_rate"`

	Adoption   Adoption   `json:"adoption"`
	Resolution Resolution `json:"resolution"`

	// SkippedLines counts malformed trace lines excluded from this
	// rollup.
	SkippedLines int `json:"skipped_lines"`
}

// Aggregator builds daily KPI documents from trace files.
//
// Thread Safety: safe for concurrent use.
type Aggregator struct {
	reader *tracelog.Reader
	sink   *telemetry.Sink
	logger *slog.Logger
}

// NewAggregator creates an Aggregator over the given reader.
func NewAggregator(reader *tracelog.Reader, sink *telemetry.Sink, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{reader: reader, sink: sink, logger: logger}
}

// Rollup aggregates one UTC day.
func (a *Aggregator) Rollup(ctx context.Context, day time.Time) (*KPIs, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRollupCancelled, err)
	}

	records, skipped, err := a.reader.ReadDay(day)
	if err != nil {
		a.sink.RecordRollup("error")
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRollupCancelled, err)
	}

	kpis := &KPIs{
		Date:              day.UTC().Format("2006-01-02"),
		TotalInteractions: len(records),
		SkippedLines:      skipped,
		MetricParity:      MetricParity{PerMetric: map[string]float64{}},
	}
	if len(records) == 0 {
		a.sink.RecordRollup("empty")
		return kpis, nil
	}

	a.grounding(records, kpis)
	a.parity(records, kpis)
	a.routing(records, kpis)
	a.latency(records, kpis)
	a.hallucinations(records, kpis)
	a.sessions(records, kpis)

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRollupCancelled, err)
	}
	a.sink.RecordRollup("ok")
	return kpis, nil
}

// RollupRange aggregates each UTC day in [from, to] inclusive.
func (a *Aggregator) RollupRange(ctx context.Context, from, to time.Time) ([]*KPIs, error) {
	from = from.UTC().Truncate(24 * time.Hour)
	to = to.UTC().Truncate(24 * time.Hour)
	if to.Before(from) {
		return nil, fmt.Errorf("range end %s before start %s",
			to.Format("2006-01-02"), from.Format("2006-01-02"))
	}

	var out []*KPIs
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		kpis, err := a.Rollup(ctx, day)
		if err != nil {
			return nil, err
		}
		out = append(out, kpis)
	}
	return out, nil
}

func (a *Aggregator) grounding(records []tracelog.Record, kpis *KPIs) {
	withClaims := 0
	passed := 0
	for _, r := range records {
		if !r.Verification.HasClaims {
			continue
		}
		withClaims++
		if r.Verification.GroundedPass {
			passed++
		}
	}
	kpis.GroundedAccuracyRate = ratio(passed, withClaims)
}

func (a *Aggregator) parity(records []tracelog.Record, kpis *KPIs) {
	sums := map[string]float64{}
	counts := map[string]int{}
	var overallSum float64
	overallCount := 0

	for _, r := range records {
		for _, result := range r.Verification.Results {
			if result.PctErr == nil {
				continue
			}
			err := *result.PctErr
			sums[result.Claim.Name] += err
			counts[result.Claim.Name]++
			overallSum += err
			overallCount++
		}
	}

	for name, sum := range sums {
		kpis.MetricParity.PerMetric[name] = sum / float64(counts[name])
	}
	if overallCount > 0 {
		kpis.MetricParity.Overall = overallSum / float64(overallCount)
	}
}

func (a *Aggregator) routing(records []tracelog.Record, kpis *KPIs) {
	for _, r := range records {
		if r.Router.Expected == nil || r.Router.Correct == nil {
			continue
		}
		kpis.RoutingAccuracy.Evaluated++
		if *r.Router.Correct {
			kpis.RoutingAccuracy.Correct++
		}
	}
	kpis.RoutingAccuracy.Rate = ratio(kpis.RoutingAccuracy.Correct, kpis.RoutingAccuracy.Evaluated)
}

func (a *Aggregator) latency(records []tracelog.Record, kpis *KPIs) {
	total := make([]float64, 0, len(records))
	model := make([]float64, 0, len(records))
	for _, r := range records {
		total = append(total, r.LatencyTotalMs)
		model = append(model, r.LatencyModelMs)
	}
	kpis.LatencyTotal = summarize(total)
	kpis.LatencyModel = summarize(model)
}

func (a *Aggregator) hallucinations(records []tracelog.Record, kpis *KPIs) {
	checked := 0
	flagged := 0
	for _, r := range records {
		if !r.Hallucination.Checked {
			continue
		}
		checked++
		if r.Hallucination.HasHallucinations {
			flagged++
		}
	}
	kpis.HallucinationRate = ratio(flagged, checked)
}

// sessions computes adoption, resolution, and the contradiction rate
// in one pass over per-session groupings. Records without a session ID
// each count as their own session.
func (a *Aggregator) sessions(records []tracelog.Record, kpis *KPIs) {
	type sessionState struct {
		turns      int
		last       tracelog.Record
		claimedBy  map[string][]float64
		hasClaims  bool
		contradict bool
	}

	byID := map[string]*sessionState{}
	order := []string{}
	anonymous := 0

	for _, r := range records {
		id := r.SessionID
		if id == "" {
			anonymous++
			id = fmt.Sprintf("\x00anon-%d", anonymous)
		}
		s, ok := byID[id]
		if !ok {
			s = &sessionState{claimedBy: map[string][]float64{}}
			byID[id] = s
			order = append(order, id)
		}
		s.turns++
		s.last = r
		for _, result := range r.Verification.Results {
			s.hasClaims = true
			s.claimedBy[result.Claim.Name] = append(s.claimedBy[result.Claim.Name], result.Claim.ClaimedValue)
		}
	}

	sessionsWithClaims := 0
	contradictory := 0
	resolved := 0
	turns := make([]float64, 0, len(order))

	for _, id := range order {
		s := byID[id]
		turns = append(turns, float64(s.turns))
		if s.last.Error == "" {
			resolved++
		}
		if !s.hasClaims {
			continue
		}
		sessionsWithClaims++
		for _, values := range s.claimedBy {
			if contradicts(values) {
				s.contradict = true
				break
			}
		}
		if s.contradict {
			contradictory++
		}
	}

	kpis.Adoption.Sessions = len(order)
	if len(order) > 0 {
		kpis.Adoption.QueriesPerSession = float64(len(records)) / float64(len(order))
	}
	kpis.Resolution.Rate = ratio(resolved, len(order))
	kpis.Resolution.TurnsP50 = percentile(turns, 0.50)
	kpis.ContradictionRate = ratio(contradictory, sessionsWithClaims)
}

// contradicts reports whether any two claimed values of one metric
// differ by more than the threshold, relative to the smaller
// magnitude.
func contradicts(values []float64) bool {
	if len(values) < 2 {
		return false
	}
	for i := 0; i < len(values); i++ {
		for j := i + 1; j < len(values); j++ {
			lo := math.Min(math.Abs(values[i]), math.Abs(values[j]))
			diff := math.Abs(values[i] - values[j])
			if lo == 0 {
				if diff > 0 {
					return true
				}
				continue
			}
			if diff/lo > contradictionThreshold {
				return true
			}
		}
	}
	return false
}

// summarize computes p50, p95 and mean over a series.
func summarize(values []float64) LatencyStats {
	if len(values) == 0 {
		return LatencyStats{}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	return LatencyStats{
		P50:  percentile(sorted, 0.50),
		P95:  percentile(sorted, 0.95),
		Mean: sum / float64(len(sorted)),
	}
}

// percentile returns the p-th percentile by nearest-rank over a sorted
// or unsorted series: index ceil(p*n)-1, clamped to the valid range.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
