// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides request and response structures for the
// quality service's HTTP API.
package datatypes

import (
	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/procverify/services/quality/claims"
	"github.com/AleutianAI/procverify/services/quality/tracelog"
)

// MaxAnswerBytes is the maximum size of an answer submitted for
// verification. Checks byte length, not rune count.
const MaxAnswerBytes = 64 * 1024

var verifyValidate *validator.Validate

func init() {
	verifyValidate = validator.New()
	_ = verifyValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxAnswerBytes
}

// VerifyRequest is the body for POST /api/verify: one assistant answer
// plus the context it was produced in.
type VerifyRequest struct {
	// AnswerText is the assistant's reply to verify.
	AnswerText string `json:"answer_text" validate:"required,maxbytes"`

	// QueryText is the user's question, used for routing checks.
	QueryText string `json:"query_text,omitempty" validate:"maxbytes"`

	// DatasetID is the dataset the answer was computed from.
	DatasetID string `json:"dataset_id" validate:"required,max=128"`

	// Filters are the equality filters the upstream pipeline applied.
	Filters map[string]string `json:"filters,omitempty" validate:"max=32"`

	// Annotation carries the structured facts block when the upstream
	// already parsed one out.
	Annotation *claims.Annotation `json:"annotation,omitempty"`

	Endpoint  string `json:"endpoint,omitempty" validate:"max=128"`
	Intent    string `json:"intent,omitempty" validate:"max=128"`
	SessionID string `json:"session_id,omitempty" validate:"max=128"`
	UserID    string `json:"user_id,omitempty" validate:"max=128"`

	// UpstreamError is the upstream failure, if the interaction errored
	// before verification.
	UpstreamError string `json:"error,omitempty" validate:"max=1024"`

	LatencyTotalMs float64 `json:"latency_total_ms,omitempty" validate:"gte=0"`
	LatencyModelMs float64 `json:"latency_model_ms,omitempty" validate:"gte=0"`
}

// Validate checks the request against its constraints.
func (r *VerifyRequest) Validate() error {
	return verifyValidate.Struct(r)
}

// VerifyResponse is the full trace record produced for the
// interaction, echoed back to the caller.
type VerifyResponse struct {
	Record *tracelog.Record `json:"record"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}
