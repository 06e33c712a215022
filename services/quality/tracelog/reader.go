// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tracelog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/AleutianAI/procverify/services/quality/telemetry"
)

// maxLineBytes bounds a single trace line. Records are small; anything
// past this is corruption.
const maxLineBytes = 1 << 20

// Reader streams daily trace files back for rollups.
//
// Thread Safety: stateless, safe for concurrent use.
type Reader struct {
	dir    string
	sink   *telemetry.Sink
	logger *slog.Logger
}

// NewReader creates a Reader over dir.
func NewReader(dir string, sink *telemetry.Sink, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{dir: dir, sink: sink, logger: logger}
}

// ReadDay loads every parseable record for the UTC day, in file order.
//
// Malformed lines are skipped and counted, never fatal; a partially
// written trailing line from a crash must not poison the whole day.
// A missing file is an empty day, not an error.
func (r *Reader) ReadDay(day time.Time) ([]Record, int, error) {
	path := filepath.Join(r.dir, FileName(day))
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open trace file: %w", err)
	}
	defer file.Close()

	var records []Record
	skipped := 0

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var record Record
		if err := json.Unmarshal(line, &record); err != nil {
			skipped++
			continue
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, skipped, fmt.Errorf("scan trace file: %w", err)
	}

	if skipped > 0 {
		r.sink.RecordSkippedLines(skipped)
		r.logger.Warn("skipped malformed trace lines",
			"file", FileName(day), "skipped", skipped)
	}
	return records, skipped, nil
}
