// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package claims extracts typed numeric claims from free-text
// analytical answers.
//
// Extraction is a ranked-pattern matcher, not a fuzzy guesser: each
// recognized form is a distinct pattern applied in priority order, the
// first unambiguous match on a span wins, and a span that could belong
// to two different metrics is dropped entirely. A structured facts
// block attached to the answer takes precedence over free-text matches
// for the same metric name.
//
// Extraction never fails; text with no recognizable claims yields an
// empty list.
package claims

import "strings"

// Kind classifies a claim's value for tolerance selection.
type Kind string

const (
	// KindRatio is a 0..1 proportion (e.g. flow efficiency).
	KindRatio Kind = "ratio"

	// KindPercentage is a percentage expressed in the text with % and
	// normalized to a 0..1 fraction in ClaimedValue.
	KindPercentage Kind = "percentage"

	// KindCount is an integer-valued tally (cases, handoffs, users).
	KindCount Kind = "count"

	// KindDuration is a time quantity (seconds, minutes, days).
	KindDuration Kind = "duration"

	// KindGeneric is any other numeric claim.
	KindGeneric Kind = "generic"
)

// Claim is one numeric assertion extracted from an answer.
// Immutable once created.
type Claim struct {
	// Name is the canonical metric name the claim is about.
	Name string `json:"name"`

	// ClaimedValue is the asserted value. Percentages are stored as
	// fractions (62% -> 0.62).
	ClaimedValue float64 `json:"claimed_value"`

	// Kind selects the tolerance policy during verification.
	Kind Kind `json:"kind"`

	// RawSpan is the text fragment the claim was extracted from.
	RawSpan string `json:"raw_span"`

	// FromFacts marks claims taken from the structured facts block
	// rather than free text.
	FromFacts bool `json:"from_facts,omitempty"`
}

// Annotation is the machine-readable payload an upstream generator may
// attach to an answer: a metric map plus the filter set it claims the
// values were computed under.
type Annotation struct {
	Metrics map[string]float64 `json:"metrics"`
	Filters map[string]string  `json:"filters,omitempty"`
}

// KindForMetric infers the claim kind from a canonical metric name.
// Used for facts-block claims and explicit assignments, where the text
// carries no unit.
func KindForMetric(name string) Kind {
	n := strings.ToLower(name)
	switch {
	// Duration must be tested before ratio: "duration" contains "ratio".
	case strings.Contains(n, "duration"), strings.Contains(n, "minutes"),
		strings.Contains(n, "seconds"), strings.Contains(n, "throughput"):
		return KindDuration
	case strings.Contains(n, "efficiency"), strings.Contains(n, "ratio"), strings.Contains(n, "rate"):
		return KindRatio
	case strings.Contains(n, "pct"), strings.Contains(n, "percent"):
		return KindPercentage
	case strings.HasSuffix(n, "_count"), strings.HasPrefix(n, "aging_"),
		n == "case_count", n == "handoffs_per_case", n == "handoffs", n == "cases",
		n == "users", n == "teams", n == "activities":
		return KindCount
	default:
		return KindGeneric
	}
}

// NormalizeName canonicalizes a metric name: lower case, spaces and
// dashes collapsed to underscores.
func NormalizeName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.ReplaceAll(n, "-", " ")
	n = strings.Join(strings.Fields(n), "_")
	return n
}
