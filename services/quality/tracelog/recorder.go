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
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/AleutianAI/procverify/services/quality/telemetry"
)

// FileName returns the trace file name for a UTC day.
func FileName(day time.Time) string {
	return fmt.Sprintf("traces-%s.jsonl", day.UTC().Format("20060102"))
}

// Recorder appends records to per-day JSONL files.
//
// Appends are serialized under a mutex and synced to disk before
// returning, so a crash loses at most the record being written.
// Recording never fails the caller's request: failures are logged and
// counted, nothing more.
//
// Thread Safety: safe for concurrent use.
type Recorder struct {
	dir    string
	sink   *telemetry.Sink
	logger *slog.Logger

	mu      sync.Mutex
	file    *os.File
	fileDay time.Time
}

// NewRecorder creates a Recorder writing under dir, creating it if
// needed.
func NewRecorder(dir string, sink *telemetry.Sink, logger *slog.Logger) (*Recorder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create trace dir: %w", err)
	}
	return &Recorder{dir: dir, sink: sink, logger: logger}, nil
}

// Append writes one record to its day's file. The record's own
// timestamp picks the file, so late records land on the day they
// happened.
func (r *Recorder) Append(record *Record) {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	line, err := json.Marshal(record)
	if err != nil {
		r.fail("marshal trace record", err)
		return
	}
	line = append(line, '\n')

	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := r.fileFor(record.Day())
	if err != nil {
		r.fail("open trace file", err)
		return
	}
	if _, err := file.Write(line); err != nil {
		r.fail("append trace record", err)
		return
	}
	if err := file.Sync(); err != nil {
		r.fail("sync trace file", err)
		return
	}
	r.sink.RecordTraceWrite(true)
}

// fileFor returns the open handle for the day, rotating when the day
// changes. Caller holds the mutex.
func (r *Recorder) fileFor(day time.Time) (*os.File, error) {
	if r.file != nil && r.fileDay.Equal(day) {
		return r.file, nil
	}
	if r.file != nil {
		_ = r.file.Close()
		r.file = nil
	}
	path := filepath.Join(r.dir, FileName(day))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	r.file = file
	r.fileDay = day
	return file, nil
}

func (r *Recorder) fail(msg string, err error) {
	r.sink.RecordTraceWrite(false)
	r.logger.Error(msg, "error", err)
}

// Close releases the current file handle.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}
