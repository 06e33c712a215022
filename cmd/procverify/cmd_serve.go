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
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/procverify/pkg/logging"
	quality "github.com/AleutianAI/procverify/services/quality"
	"github.com/AleutianAI/procverify/services/quality/config"
	"github.com/AleutianAI/procverify/services/quality/dataset"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the quality verification HTTP service",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&dataDir, "data", "",
		"directory of *.csv event logs to register as datasets")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	watcher, err := config.NewWatcher(configPath, nil, nil)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := watcher.Current()

	logger, err := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Logging.Level),
		LogDir:  cfg.Logging.Dir,
		Service: "quality",
		JSON:    cfg.Logging.JSON,
	})
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logger.Close()

	cleanup, err := initTracer(cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer cleanup(context.Background())

	service, err := quality.New(watcher, logger)
	if err != nil {
		return fmt.Errorf("build service: %w", err)
	}

	if dataDir != "" {
		ids, err := dataset.LoadDir(service.Table, dataDir)
		if err != nil {
			return fmt.Errorf("load datasets: %w", err)
		}
		for _, id := range ids {
			service.Tracker.RegisterDataset(id)
			logger.Info("dataset registered", "dataset", id)
		}
	}

	go watcher.Start(ctx)
	return service.Run(ctx)
}
