// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rollup

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// ErrNotBuilt is returned when no KPI document exists for the day.
var ErrNotBuilt = errors.New("rollup not built")

// FileName returns the KPI file name for a UTC day.
func FileName(day time.Time) string {
	return fmt.Sprintf("kpis-%s.json", day.UTC().Format("20060102"))
}

// Store persists KPI documents next to the trace files.
//
// Thread Safety: safe for concurrent use; writes go through a rename
// so readers never see a half-written document.
type Store struct {
	dir string
}

// NewStore creates a Store writing under dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create rollup dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Write persists the document for its day, replacing any previous one.
func (s *Store) Write(kpis *KPIs) error {
	day, err := time.Parse("2006-01-02", kpis.Date)
	if err != nil {
		return fmt.Errorf("bad rollup date %q: %w", kpis.Date, err)
	}

	data, err := json.MarshalIndent(kpis, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal rollup: %w", err)
	}

	final := filepath.Join(s.dir, FileName(day))
	tmp, err := os.CreateTemp(s.dir, FileName(day)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create rollup temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write rollup: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync rollup: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close rollup: %w", err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		return fmt.Errorf("install rollup: %w", err)
	}
	return nil
}

// Read loads the document for a UTC day.
func (s *Store) Read(day time.Time) (*KPIs, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, FileName(day)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotBuilt
		}
		return nil, fmt.Errorf("read rollup: %w", err)
	}
	var kpis KPIs
	if err := json.Unmarshal(data, &kpis); err != nil {
		return nil, fmt.Errorf("parse rollup: %w", err)
	}
	return &kpis, nil
}
