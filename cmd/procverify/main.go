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
	"log"

	"github.com/spf13/cobra"
)

var (
	configPath string
	dataDir    string

	rootCmd = &cobra.Command{
		Use:   "procverify",
		Short: "Answer verification and quality telemetry for process-mining chat",
		Long: `procverify recomputes the metrics an assistant claims in its answers,
checks them against tolerance, flags references to entities the data has
never seen, and rolls the results up into daily quality KPIs.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "quality.yaml",
		"path to the configuration file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(rollupCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}
