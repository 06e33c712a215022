// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tracelog persists one JSON line per verified interaction to
// daily append-only files, and streams them back for rollups.
package tracelog

import (
	"time"

	"github.com/AleutianAI/procverify/services/quality/router"
	"github.com/AleutianAI/procverify/services/quality/schema"
	"github.com/AleutianAI/procverify/services/quality/verify"
)

// Record is one interaction's full quality telemetry. Records are
// self-contained: rollups need nothing but the day's records.
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	Endpoint  string    `json:"endpoint"`
	DatasetID string    `json:"dataset_id"`
	Intent    string    `json:"intent,omitempty"`

	// Filters are the equality filters the answer was computed under.
	Filters map[string]string `json:"filters,omitempty"`

	LatencyTotalMs float64 `json:"latency_total_ms"`
	LatencyModelMs float64 `json:"latency_model_ms"`

	Verification  verify.Outcome `json:"verification"`
	Hallucination schema.Report  `json:"hallucination"`
	Router        router.Check   `json:"router"`

	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	TraceID   string `json:"trace_id"`

	// Error carries the upstream failure message when the interaction
	// errored before or during verification.
	Error string `json:"error,omitempty"`
}

// Day returns the UTC day the record belongs to, which decides the
// file it lands in.
func (r *Record) Day() time.Time {
	return r.Timestamp.UTC().Truncate(24 * time.Hour)
}
