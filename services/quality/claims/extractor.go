// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package claims

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// ExtractorConfig tunes claim extraction.
type ExtractorConfig struct {
	// KeywordMetrics maps lowercase keyword phrases found in answer
	// text to canonical metric names. Multiple keywords may map to the
	// same metric; a span near keywords of two different metrics is
	// ambiguous and dropped.
	KeywordMetrics map[string]string

	// ContextWindow is how many characters before a bare percentage
	// are scanned for a metric keyword.
	ContextWindow int

	// MaxScanLength limits how much of the answer is scanned.
	// Zero means no limit.
	MaxScanLength int
}

// DefaultExtractorConfig returns the keyword table matching the
// recomputation registry.
func DefaultExtractorConfig() *ExtractorConfig {
	return &ExtractorConfig{
		KeywordMetrics: map[string]string{
			"flow efficiency": "flow_efficiency",
			"flow_efficiency": "flow_efficiency",
			"efficiency":      "flow_efficiency",
			"handoff":         "handoffs_per_case",
			"handoffs":        "handoffs_per_case",
			"throughput":      "throughput_minutes",
			"case":            "case_count",
			"cases":           "case_count",
			"user":            "user_count",
			"users":           "user_count",
			"activities":      "activity_count",
			"duration":        "avg_duration_seconds",
		},
		ContextWindow: 60,
		MaxScanLength: 64 * 1024,
	}
}

// Extractor parses answers into ordered claim lists.
//
// Thread Safety: safe for concurrent use (stateless after construction).
type Extractor struct {
	config *ExtractorConfig

	assignPattern  *regexp.Regexp
	percentPattern *regexp.Regexp
	countPattern   *regexp.Regexp
	averagePattern *regexp.Regexp
	fencePattern   *regexp.Regexp
}

const unitAlternatives = `%|seconds?|secs?|minutes?|mins?|hours?|hrs?|days?|ms`

// NewExtractor creates an Extractor. A nil config uses defaults.
func NewExtractor(config *ExtractorConfig) *Extractor {
	if config == nil {
		config = DefaultExtractorConfig()
	}
	return &Extractor{
		config: config,
		// Matches "flow_efficiency = 0.62" or "handoffs: 14 per case"
		assignPattern: regexp.MustCompile(
			`(?i)\b([a-z][a-z0-9_]*)\s*[=:]\s*(-?\d[\d,]*(?:\.\d+)?)\s*(` + unitAlternatives + `)?`),
		// Matches "62%" or "62 percent", optionally followed by
		// "of <noun>"
		percentPattern: regexp.MustCompile(
			`(-?\d[\d,]*(?:\.\d+)?)\s*(?:%|percent)(?:\s+(?:of\s+)?([a-z_]+))?`),
		// Matches "14 handoffs"
		countPattern: regexp.MustCompile(
			`(?i)\b(\d[\d,]*)\s+([a-z]+s)\b`),
		// Matches "average duration is 45.2 seconds"
		averagePattern: regexp.MustCompile(
			`(?i)\b(?:average|mean|avg)\s+([a-z][a-z _]*?)\s+(?:is|was|of|=)\s*(-?\d[\d,]*(?:\.\d+)?)\s*(` + unitAlternatives + `)?`),
		fencePattern: regexp.MustCompile("(?s)```[a-z]*\\s*\\n.*?\\n```"),
	}
}

// span tracks consumed byte ranges so a lower-priority pattern cannot
// re-claim text an earlier pattern matched or discarded.
type span struct{ start, end int }

func overlaps(spans []span, start, end int) bool {
	for _, s := range spans {
		if start < s.end && end > s.start {
			return true
		}
	}
	return false
}

// positioned pairs a claim with its appearance offset for ordering.
type positioned struct {
	claim Claim
	start int
}

// Extract parses the answer text and optional annotation into an
// ordered claim list: free-text claims in appearance order, then
// structured claims, deduplicated by (name, value) with structured
// claims overriding same-named free-text ones.
//
// Extract never fails; unparseable input yields fewer claims, not an
// error.
func (e *Extractor) Extract(text string, annotation *Annotation) []Claim {
	if e.config.MaxScanLength > 0 && len(text) > e.config.MaxScanLength {
		text = text[:e.config.MaxScanLength]
	}

	facts := e.extractFacts(text)
	if annotation != nil {
		facts = append(facts, annotationClaims(annotation)...)
	}

	// Fenced blocks are structured payload, not prose; blank them out
	// so free-text patterns cannot re-match their contents. Offsets are
	// preserved for ordering.
	scan := e.blankFences(text)

	var out []positioned
	var consumed []span

	out, consumed = e.matchAssignments(scan, out, consumed)
	out, consumed = e.matchPercentages(scan, out, consumed)
	out, consumed = e.matchCounts(scan, out, consumed)
	out, _ = e.matchAverages(scan, out, consumed)

	sort.SliceStable(out, func(i, j int) bool { return out[i].start < out[j].start })

	// Structured claims override free-text claims with the same name.
	factNames := make(map[string]struct{}, len(facts))
	for _, c := range facts {
		factNames[c.Name] = struct{}{}
	}

	var result []Claim
	seen := make(map[string]struct{})
	add := func(c Claim) {
		key := c.Name + "\x00" + strconv.FormatFloat(c.ClaimedValue, 'g', -1, 64)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		result = append(result, c)
	}

	for _, p := range out {
		if _, overridden := factNames[p.claim.Name]; overridden {
			continue
		}
		add(p.claim)
	}
	for _, c := range facts {
		add(c)
	}

	return result
}

// blankFences replaces fenced block contents with spaces, preserving
// byte offsets.
func (e *Extractor) blankFences(text string) string {
	return e.fencePattern.ReplaceAllStringFunc(text, func(m string) string {
		return strings.Repeat(" ", len(m))
	})
}

func (e *Extractor) matchAssignments(text string, out []positioned, consumed []span) ([]positioned, []span) {
	for _, m := range e.assignPattern.FindAllStringSubmatchIndex(text, -1) {
		start, end := m[0], m[1]
		if overlaps(consumed, start, end) {
			continue
		}
		name := strings.ToLower(text[m[2]:m[3]])
		value, ok := parseNumber(text[m[4]:m[5]])
		if !ok {
			continue
		}
		unit := ""
		if m[6] >= 0 {
			unit = strings.ToLower(text[m[6]:m[7]])
		}

		canonical := name
		if mapped, known := e.config.KeywordMetrics[name]; known {
			canonical = mapped
		} else {
			canonical = NormalizeName(name)
		}

		claim := Claim{
			Name:         canonical,
			ClaimedValue: value,
			Kind:         KindForMetric(canonical),
			RawSpan:      text[start:end],
		}
		switch {
		case unit == "%":
			claim.ClaimedValue = value / 100.0
			claim.Kind = KindPercentage
		case unit != "":
			claim.Kind = KindDuration
		}

		consumed = append(consumed, span{start, end})
		out = append(out, positioned{claim: claim, start: start})
	}
	return out, consumed
}

func (e *Extractor) matchPercentages(text string, out []positioned, consumed []span) ([]positioned, []span) {
	lower := strings.ToLower(text)
	for _, m := range e.percentPattern.FindAllStringSubmatchIndex(text, -1) {
		start, end := m[0], m[1]
		if overlaps(consumed, start, end) {
			continue
		}
		value, ok := parseNumber(text[m[2]:m[3]])
		if !ok {
			continue
		}

		// Candidate metrics come from keywords in the preceding window
		// plus the immediate trailing noun ("62% of cases").
		candidates := make(map[string]struct{})
		windowStart := start - e.config.ContextWindow
		if windowStart < 0 {
			windowStart = 0
		}
		window := lower[windowStart:start]
		for keyword, metric := range e.config.KeywordMetrics {
			if strings.Contains(window, keyword) {
				candidates[metric] = struct{}{}
			}
		}
		if m[4] >= 0 {
			if metric, known := e.config.KeywordMetrics[strings.ToLower(text[m[4]:m[5]])]; known {
				candidates[metric] = struct{}{}
			}
		}

		consumed = append(consumed, span{start, end})
		if len(candidates) != 1 {
			// Zero keywords: a bare percentage is not a claim.
			// Two or more: ambiguous, dropped rather than guessed.
			continue
		}
		var metric string
		for metric = range candidates {
		}
		out = append(out, positioned{
			claim: Claim{
				Name:         metric,
				ClaimedValue: value / 100.0,
				Kind:         KindPercentage,
				RawSpan:      text[start:end],
			},
			start: start,
		})
	}
	return out, consumed
}

func (e *Extractor) matchCounts(text string, out []positioned, consumed []span) ([]positioned, []span) {
	for _, m := range e.countPattern.FindAllStringSubmatchIndex(text, -1) {
		start, end := m[0], m[1]
		if overlaps(consumed, start, end) {
			continue
		}
		noun := strings.ToLower(text[m[4]:m[5]])
		metric, known := e.config.KeywordMetrics[noun]
		if !known {
			continue
		}
		value, ok := parseNumber(text[m[2]:m[3]])
		if !ok {
			continue
		}
		consumed = append(consumed, span{start, end})
		out = append(out, positioned{
			claim: Claim{
				Name:         metric,
				ClaimedValue: value,
				Kind:         KindCount,
				RawSpan:      text[start:end],
			},
			start: start,
		})
	}
	return out, consumed
}

func (e *Extractor) matchAverages(text string, out []positioned, consumed []span) ([]positioned, []span) {
	for _, m := range e.averagePattern.FindAllStringSubmatchIndex(text, -1) {
		start, end := m[0], m[1]
		if overlaps(consumed, start, end) {
			continue
		}
		noun := NormalizeName(text[m[2]:m[3]])
		value, ok := parseNumber(text[m[4]:m[5]])
		if !ok {
			continue
		}
		unit := ""
		if m[6] >= 0 {
			unit = strings.ToLower(text[m[6]:m[7]])
		}

		claim := Claim{
			Name:         "avg_" + noun,
			ClaimedValue: value,
			Kind:         KindGeneric,
			RawSpan:      text[start:end],
		}
		switch {
		case unit == "%":
			claim.ClaimedValue = value / 100.0
			claim.Kind = KindPercentage
		case unit != "":
			claim.Kind = KindDuration
		case strings.Contains(noun, "duration") || strings.Contains(noun, "time"):
			claim.Kind = KindDuration
		}

		consumed = append(consumed, span{start, end})
		out = append(out, positioned{claim: claim, start: start})
	}
	return out, consumed
}

// parseNumber parses a numeric literal tolerating thousands separators.
func parseNumber(s string) (float64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
