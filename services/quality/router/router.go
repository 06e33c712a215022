// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package router scores dataset routing decisions after the fact. When
// the user's question names exactly one known dataset, that dataset is
// the expected route and the selected one either matches it or not.
// Questions naming zero or several datasets carry no expectation and
// are excluded from accuracy.
package router

import (
	"sort"
	"strings"
	"sync"
)

// Check is the routing verdict for one query.
type Check struct {
	// Selected is the dataset the upstream router actually chose.
	Selected string `json:"selected"`

	// Expected is the dataset the query unambiguously named, nil when
	// the query named zero or several.
	Expected *string `json:"expected,omitempty"`

	// Correct is Selected == Expected, nil when there is no
	// expectation.
	Correct *bool `json:"correct,omitempty"`
}

// Tracker knows the registered dataset IDs and their aliases.
//
// Thread Safety: safe for concurrent use; registration may happen
// while checks run.
type Tracker struct {
	mu sync.RWMutex

	// aliases maps a lowercase mention to the dataset ID it refers to.
	aliases map[string]string
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{aliases: make(map[string]string)}
}

// RegisterDataset adds a dataset and any aliases users call it by.
// The ID itself is always a recognized mention.
func (t *Tracker) RegisterDataset(id string, aliases ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.aliases[strings.ToLower(id)] = id
	for _, a := range aliases {
		a = strings.ToLower(strings.TrimSpace(a))
		if a != "" {
			t.aliases[a] = id
		}
	}
}

// Check scores one routing decision against the query text.
func (t *Tracker) Check(queryText, selectedDatasetID string) Check {
	result := Check{Selected: selectedDatasetID}

	mentioned := t.mentions(queryText)
	if len(mentioned) != 1 {
		return result
	}

	expected := mentioned[0]
	correct := strings.EqualFold(expected, selectedDatasetID)
	result.Expected = &expected
	result.Correct = &correct
	return result
}

// mentions returns the distinct dataset IDs the text refers to, via ID
// or alias, as whole words.
func (t *Tracker) mentions(text string) []string {
	lower := strings.ToLower(text)

	t.mu.RLock()
	defer t.mu.RUnlock()

	seen := make(map[string]struct{})
	for alias, id := range t.aliases {
		if containsWord(lower, alias) {
			seen[id] = struct{}{}
		}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// containsWord reports whether needle occurs in haystack bounded by
// non-alphanumeric characters, so "jira" does not match "jirafe".
func containsWord(haystack, needle string) bool {
	for from := 0; ; {
		i := strings.Index(haystack[from:], needle)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(needle)
		beforeOK := start == 0 || !isWordByte(haystack[start-1])
		afterOK := end == len(haystack) || !isWordByte(haystack[end])
		if beforeOK && afterOK {
			return true
		}
		from = start + 1
	}
}

func isWordByte(b byte) bool {
	return b == '_' ||
		(b >= 'a' && b <= 'z') ||
		(b >= 'A' && b <= 'Z') ||
		(b >= '0' && b <= '9')
}
