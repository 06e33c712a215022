// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/procverify/pkg/validation"
)

// LoadCSV reads an event log from a CSV file. The first row is the
// header; short rows are padded with empty strings and long rows are
// truncated to the header width.
func LoadCSV(path string) ([]string, []Row, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open csv: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read csv header: %w", err)
	}
	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = strings.TrimSpace(h)
	}

	var rows []Row
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read csv row: %w", err)
		}
		row := make(Row, len(columns))
		for i, col := range columns {
			if i < len(record) {
				row[col] = record[i]
			} else {
				row[col] = ""
			}
		}
		rows = append(rows, row)
	}
	return columns, rows, nil
}

// LoadDir registers every *.csv file in dir into the table, using the
// file's base name as the dataset ID. Returns the registered IDs.
func LoadDir(table *Table, dir string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, path := range paths {
		id := strings.TrimSuffix(filepath.Base(path), ".csv")
		if err := validation.ValidateDatasetID(id); err != nil {
			return nil, err
		}
		columns, rows, err := LoadCSV(path)
		if err != nil {
			return nil, fmt.Errorf("dataset %s: %w", id, err)
		}
		table.Register(id, columns, rows)
		ids = append(ids, id)
	}
	return ids, nil
}
