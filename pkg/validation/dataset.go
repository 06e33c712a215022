// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for
// security-critical identifiers.
//
// Dataset IDs appear in URL paths, log lines, and file names derived
// from user-controlled configuration; validating them up front
// prevents path traversal and log forgery.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// datasetIDPattern matches valid dataset identifiers: letters, digits,
// underscores and hyphens, starting alphanumeric, max 64 characters.
var datasetIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_\-]{0,63}$`)

// ValidateDatasetID validates a dataset identifier.
//
// Example:
//
//	if err := validation.ValidateDatasetID(id); err != nil {
//	    return fmt.Errorf("invalid dataset: %w", err)
//	}
func ValidateDatasetID(id string) error {
	if id == "" {
		return fmt.Errorf("dataset id cannot be empty")
	}
	if !datasetIDPattern.MatchString(id) {
		return fmt.Errorf("invalid dataset id %q (must be 1-64 alphanumeric chars, underscores, or hyphens)", id)
	}
	return nil
}

// ValidateDatasetIDs validates multiple identifiers, reporting every
// invalid one.
func ValidateDatasetIDs(ids []string) error {
	var invalid []string
	for _, id := range ids {
		if err := ValidateDatasetID(id); err != nil {
			invalid = append(invalid, id)
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("invalid dataset ids: %s", strings.Join(invalid, ", "))
	}
	return nil
}
