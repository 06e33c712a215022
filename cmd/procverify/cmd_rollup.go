// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/procverify/services/quality/config"
	"github.com/AleutianAI/procverify/services/quality/rollup"
	"github.com/AleutianAI/procverify/services/quality/tracelog"
)

var (
	rollupDate  string
	rollupFrom  string
	rollupTo    string
	rollupWrite bool

	rollupCmd = &cobra.Command{
		Use:   "rollup",
		Short: "Build daily KPI documents from trace logs",
		Long: `Aggregates a day's trace records into the daily KPI document. With
--write the document is persisted next to the trace files; otherwise it
is printed to stdout. Use --from/--to to backfill a range.`,
		RunE: runRollup,
	}
)

func init() {
	rollupCmd.Flags().StringVar(&rollupDate, "date", "",
		"day to aggregate (YYYY-MM-DD), default yesterday UTC")
	rollupCmd.Flags().StringVar(&rollupFrom, "from", "", "range start (YYYY-MM-DD)")
	rollupCmd.Flags().StringVar(&rollupTo, "to", "", "range end (YYYY-MM-DD)")
	rollupCmd.Flags().BoolVar(&rollupWrite, "write", false,
		"persist the KPI document instead of printing it")
}

func runRollup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	reader := tracelog.NewReader(cfg.Trace.Dir, nil, nil)
	aggregator := rollup.NewAggregator(reader, nil, nil)

	from, to, err := rollupRange()
	if err != nil {
		return err
	}

	documents, err := aggregator.RollupRange(cmd.Context(), from, to)
	if err != nil {
		return err
	}

	if rollupWrite {
		store, err := rollup.NewStore(cfg.Trace.Dir)
		if err != nil {
			return err
		}
		for _, kpis := range documents {
			if err := store.Write(kpis); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", kpis.Date)
		}
		return nil
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	for _, kpis := range documents {
		if err := encoder.Encode(kpis); err != nil {
			return err
		}
	}
	return nil
}

// rollupRange resolves the flag combination into an inclusive UTC day
// range.
func rollupRange() (time.Time, time.Time, error) {
	parse := func(s string) (time.Time, error) {
		return time.Parse("2006-01-02", s)
	}

	if rollupFrom != "" || rollupTo != "" {
		if rollupFrom == "" || rollupTo == "" {
			return time.Time{}, time.Time{}, fmt.Errorf("--from and --to must be used together")
		}
		from, err := parse(rollupFrom)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("bad --from: %w", err)
		}
		to, err := parse(rollupTo)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("bad --to: %w", err)
		}
		return from, to, nil
	}

	day := time.Now().UTC().AddDate(0, 0, -1)
	if rollupDate != "" {
		parsed, err := parse(rollupDate)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("bad --date: %w", err)
		}
		day = parsed
	}
	return day, day, nil
}
