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
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
)

// factsPattern matches the machine-readable block generators append to
// answers:
//
//	```facts
//	{"metrics": {"flow_efficiency": 0.62}, "filters": {"team": "Sales"}}
//	```
var factsPattern = regexp.MustCompile("(?is)```facts\\s*\\n(.*?)\\n```")

// extractFacts parses every facts block in the answer. Malformed JSON
// is ignored; a facts block can only add claims, never break
// extraction.
func (e *Extractor) extractFacts(text string) []Claim {
	var out []Claim
	for _, m := range factsPattern.FindAllStringSubmatch(text, -1) {
		var annotation Annotation
		if err := json.Unmarshal([]byte(m[1]), &annotation); err != nil {
			continue
		}
		out = append(out, annotationClaims(&annotation)...)
	}
	return out
}

// annotationClaims converts a structured annotation into claims,
// sorted by metric name for deterministic ordering.
func annotationClaims(annotation *Annotation) []Claim {
	if annotation == nil || len(annotation.Metrics) == 0 {
		return nil
	}
	names := make([]string, 0, len(annotation.Metrics))
	for name := range annotation.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Claim, 0, len(names))
	for _, name := range names {
		canonical := NormalizeName(name)
		value := annotation.Metrics[name]
		out = append(out, Claim{
			Name:         canonical,
			ClaimedValue: value,
			Kind:         KindForMetric(canonical),
			RawSpan:      fmt.Sprintf("%s=%v", canonical, value),
			FromFacts:    true,
		})
	}
	return out
}
