// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package quality assembles the answer verification engine: claim
// extraction, metric recomputation, tolerance checks, hallucination
// detection, routing checks, trace persistence and daily KPI rollups.
package quality

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/procverify/pkg/logging"
	"github.com/AleutianAI/procverify/services/quality/claims"
	"github.com/AleutianAI/procverify/services/quality/config"
	"github.com/AleutianAI/procverify/services/quality/dataset"
	"github.com/AleutianAI/procverify/services/quality/pipeline"
	"github.com/AleutianAI/procverify/services/quality/recompute"
	"github.com/AleutianAI/procverify/services/quality/rollup"
	"github.com/AleutianAI/procverify/services/quality/router"
	"github.com/AleutianAI/procverify/services/quality/schema"
	"github.com/AleutianAI/procverify/services/quality/telemetry"
	"github.com/AleutianAI/procverify/services/quality/tracelog"
	"github.com/AleutianAI/procverify/services/quality/verify"
)

// Service owns every component of the quality engine.
//
// Thread Safety: safe for concurrent use after New returns.
type Service struct {
	Table      *dataset.Table
	Dictionary *schema.Dictionary
	Engine     *recompute.Engine
	Verifier   *verify.Verifier
	Tracker    *router.Tracker
	Recorder   *tracelog.Recorder
	Aggregator *rollup.Aggregator
	Store      *rollup.Store
	Pipeline   *pipeline.Pipeline
	Sink       *telemetry.Sink

	watcher *config.Watcher
	logger  *logging.Logger
}

// New builds the full engine from a configuration watcher.
func New(watcher *config.Watcher, logger *logging.Logger) (*Service, error) {
	cfg := watcher.Current()

	s := &Service{
		Table:   dataset.NewTable(),
		Tracker: router.NewTracker(),
		Sink:    telemetry.NewSink(nil),
		watcher: watcher,
		logger:  logger,
	}

	s.Engine = recompute.NewEngine(s.Table, logger.Logger)
	s.Dictionary = schema.NewDictionary(s.Table, schema.Options{TTL: cfg.Schema.TTL}, logger.Logger)

	verifyMetrics, err := verify.NewMetrics(otel.Meter("procverify.quality.verify"))
	if err != nil {
		return nil, err
	}
	s.Verifier = verify.NewVerifier(s.Engine, s.Dictionary, verify.Tolerances{
		CountAbsolute:    cfg.Tolerances.CountAbsolute,
		RelativeFraction: cfg.Tolerances.RelativeFraction,
	}, verifyMetrics, logger.Logger)

	// Tolerances and schema TTL follow the config file; Enabled is read
	// per request through the watcher inside the pipeline.
	watcher.OnReload(s.applyConfig)

	recorder, err := tracelog.NewRecorder(cfg.Trace.Dir, s.Sink, logger.Logger)
	if err != nil {
		return nil, err
	}
	s.Recorder = recorder

	reader := tracelog.NewReader(cfg.Trace.Dir, s.Sink, logger.Logger)
	s.Aggregator = rollup.NewAggregator(reader, s.Sink, logger.Logger)
	s.Store, err = rollup.NewStore(cfg.Trace.Dir)
	if err != nil {
		return nil, err
	}

	for _, d := range cfg.Datasets {
		s.Tracker.RegisterDataset(d.ID, d.Aliases...)
	}

	s.Pipeline, err = pipeline.New(pipeline.Options{
		Extractor:  claims.NewExtractor(nil),
		Verifier:   s.Verifier,
		Tracker:    s.Tracker,
		Recorder:   recorder,
		Aggregator: s.Aggregator,
		Store:      s.Store,
		Sink:       s.Sink,
		Logger:     logger.Logger,
		Enabled:    func() bool { return watcher.Current().Enabled },
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// cfg returns the live configuration snapshot.
func (s *Service) cfg() *config.Config {
	return s.watcher.Current()
}

// applyConfig pushes the reloadable settings into live components.
// Runs on every successful config reload.
func (s *Service) applyConfig(cfg *config.Config) {
	s.Verifier.SetTolerances(verify.Tolerances{
		CountAbsolute:    cfg.Tolerances.CountAbsolute,
		RelativeFraction: cfg.Tolerances.RelativeFraction,
	})
	s.Dictionary.SetTTL(cfg.Schema.TTL)
}

// RegisterDataset installs a dataset's rows and makes it routable. Any
// previous rows for the ID are replaced and its schema snapshot is
// invalidated.
func (s *Service) RegisterDataset(id string, columns []string, rows []dataset.Row, aliases ...string) {
	s.Table.Register(id, columns, rows)
	s.Tracker.RegisterDataset(id, aliases...)
	s.Dictionary.Invalidate(id)
}

// Run serves the HTTP API until the context ends, then shuts down
// gracefully.
func (s *Service) Run(ctx context.Context) error {
	cfg := s.cfg()

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(otelgin.Middleware("quality-service"))
	s.SetupRoutes(engine)

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("quality service listening", "addr", cfg.Server.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return s.Recorder.Close()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
