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
	"regexp"
	"strings"
	"unicode"
)

// Report is the outcome of a hallucination check over one answer.
type Report struct {
	// HasHallucinations is true when at least one entity mention could
	// not be matched against the dataset's schema.
	HasHallucinations bool `json:"has_hallucinations"`

	// UnknownEntities lists the unmatched mentions in appearance order,
	// deduplicated.
	UnknownEntities []string `json:"unknown_entities,omitempty"`

	// Checked is false when the check was skipped because no schema
	// snapshot was available.
	Checked bool `json:"checked"`
}

// DetectorConfig tunes the entity-reference heuristic.
type DetectorConfig struct {
	// KeywordCategories maps lowercase trigger words ("team", "user")
	// to the entity category a neighboring token is checked against.
	KeywordCategories map[string]Category

	// MinTokenLength is the shortest candidate token worth checking.
	MinTokenLength int
}

// DefaultDetectorConfig returns the production trigger table.
func DefaultDetectorConfig() *DetectorConfig {
	return &DetectorConfig{
		KeywordCategories: map[string]Category{
			"team":       CategoryTeam,
			"teams":      CategoryTeam,
			"user":       CategoryUser,
			"users":      CategoryUser,
			"resource":   CategoryUser,
			"resources":  CategoryUser,
			"agent":      CategoryUser,
			"agents":     CategoryUser,
			"activity":   CategoryActivity,
			"activities": CategoryActivity,
			"step":       CategoryActivity,
			"steps":      CategoryActivity,
			"process":    CategoryProcess,
			"processes":  CategoryProcess,
			"workflow":   CategoryProcess,
		},
		MinTokenLength: 3,
	}
}

// stopwords are tokens never treated as entity candidates even when
// adjacent to a trigger word.
var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "this": {}, "that": {}, "these": {},
	"those": {}, "each": {}, "every": {}, "any": {}, "all": {}, "no": {},
	"one": {}, "two": {}, "your": {}, "our": {}, "their": {}, "its": {},
	"same": {}, "other": {}, "has": {}, "have": {}, "had": {}, "is": {},
	"are": {}, "was": {}, "were": {}, "and": {}, "or": {}, "per": {},
	"for": {}, "with": {}, "which": {}, "named": {}, "called": {},
}

var quotedPattern = regexp.MustCompile(`["'\x60]([^"'\x60]{2,64})["'\x60]`)

// Detector applies a keyword-adjacency heuristic: a trigger word like
// "team" or "user" next to a name-shaped token marks that token as an
// entity mention, which must then exist in the schema snapshot.
//
// Thread Safety: stateless after construction, safe for concurrent use.
type Detector struct {
	config *DetectorConfig
}

// NewDetector creates a Detector. A nil config uses defaults.
func NewDetector(config *DetectorConfig) *Detector {
	if config == nil {
		config = DefaultDetectorConfig()
	}
	if config.MinTokenLength <= 0 {
		config.MinTokenLength = 3
	}
	return &Detector{config: config}
}

// token is a cleaned word plus whether the raw form was capitalized or
// carried digits, which is what makes it name-shaped.
type token struct {
	clean     string
	nameShape bool
}

// Detect scans the text against the snapshot.
func (d *Detector) Detect(text string, snap *Snapshot) Report {
	report := Report{Checked: true}
	seen := make(map[string]struct{})

	flag := func(mention string) {
		key := strings.ToLower(mention)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		report.UnknownEntities = append(report.UnknownEntities, mention)
	}

	tokens := tokenize(text)
	for i, tok := range tokens {
		cat, trigger := d.config.KeywordCategories[strings.ToLower(tok.clean)]
		if !trigger {
			continue
		}
		// "user Ghost99" checks the token after the trigger,
		// "the Sales team" the one before it.
		for _, j := range []int{i + 1, i - 1} {
			if j < 0 || j >= len(tokens) {
				continue
			}
			cand := tokens[j]
			if !d.candidate(cand) {
				continue
			}
			if snap.HasEntityIn(cat, cand.clean) || snap.HasEntity(cand.clean) {
				continue
			}
			if snap.HasColumn(cand.clean) {
				continue
			}
			flag(cand.clean)
		}
	}

	// Quoted strings are explicit references regardless of adjacency,
	// but only worth checking when the text talks about teams or
	// activities at all.
	lower := strings.ToLower(text)
	mentionsCategory := false
	for keyword := range d.config.KeywordCategories {
		if strings.Contains(lower, keyword) {
			mentionsCategory = true
			break
		}
	}
	if mentionsCategory {
		for _, m := range quotedPattern.FindAllStringSubmatch(text, -1) {
			quoted := strings.TrimSpace(m[1])
			if len(quoted) < d.config.MinTokenLength {
				continue
			}
			if _, isTrigger := d.config.KeywordCategories[strings.ToLower(quoted)]; isTrigger {
				continue
			}
			if snap.HasEntity(quoted) || snap.HasColumn(quoted) {
				continue
			}
			flag(quoted)
		}
	}

	report.HasHallucinations = len(report.UnknownEntities) > 0
	return report
}

// candidate reports whether a token looks like an entity name: long
// enough, not a stopword, not itself a trigger, and name-shaped.
func (d *Detector) candidate(tok token) bool {
	if len(tok.clean) < d.config.MinTokenLength {
		return false
	}
	lower := strings.ToLower(tok.clean)
	if _, stop := stopwords[lower]; stop {
		return false
	}
	if _, trigger := d.config.KeywordCategories[lower]; trigger {
		return false
	}
	return tok.nameShape
}

// tokenize splits on whitespace and strips edge punctuation, recording
// whether each raw token was name-shaped (leading uppercase or any
// digit).
func tokenize(text string) []token {
	fields := strings.Fields(text)
	tokens := make([]token, 0, len(fields))
	for _, f := range fields {
		clean := strings.TrimFunc(f, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if clean == "" {
			continue
		}
		runes := []rune(clean)
		shape := unicode.IsUpper(runes[0])
		if !shape {
			for _, r := range runes {
				if unicode.IsDigit(r) {
					shape = true
					break
				}
			}
		}
		tokens = append(tokens, token{clean: clean, nameShape: shape})
	}
	return tokens
}
