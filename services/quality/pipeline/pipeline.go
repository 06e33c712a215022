// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline wires extraction, verification, hallucination
// checking, routing checks and trace persistence into one call per
// interaction.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/procverify/services/quality/claims"
	"github.com/AleutianAI/procverify/services/quality/datatypes"
	"github.com/AleutianAI/procverify/services/quality/rollup"
	"github.com/AleutianAI/procverify/services/quality/router"
	"github.com/AleutianAI/procverify/services/quality/schema"
	"github.com/AleutianAI/procverify/services/quality/telemetry"
	"github.com/AleutianAI/procverify/services/quality/tracelog"
	"github.com/AleutianAI/procverify/services/quality/verify"
)

var tracer = otel.Tracer("procverify.quality.pipeline")

// Pipeline runs the full per-interaction quality flow.
//
// Thread Safety: safe for concurrent use.
type Pipeline struct {
	extractor *claims.Extractor
	verifier  *verify.Verifier
	tracker   *router.Tracker
	recorder  *tracelog.Recorder

	aggregator *rollup.Aggregator
	store      *rollup.Store

	sink   *telemetry.Sink
	logger *slog.Logger

	// enabled reports whether verification should run at all. Read per
	// request so config reloads take effect immediately.
	enabled func() bool
}

// Options collects the pipeline's collaborators.
type Options struct {
	Extractor  *claims.Extractor
	Verifier   *verify.Verifier
	Tracker    *router.Tracker
	Recorder   *tracelog.Recorder
	Aggregator *rollup.Aggregator
	Store      *rollup.Store
	Sink       *telemetry.Sink
	Logger     *slog.Logger

	// Enabled gates verification. Nil means always on.
	Enabled func() bool
}

// New creates a Pipeline. Extractor, Verifier, Tracker, Recorder and
// Aggregator are required.
func New(opts Options) (*Pipeline, error) {
	if opts.Extractor == nil || opts.Verifier == nil || opts.Tracker == nil ||
		opts.Recorder == nil || opts.Aggregator == nil {
		return nil, errors.New("pipeline: missing required component")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Enabled == nil {
		opts.Enabled = func() bool { return true }
	}
	return &Pipeline{
		extractor:  opts.Extractor,
		verifier:   opts.Verifier,
		tracker:    opts.Tracker,
		recorder:   opts.Recorder,
		aggregator: opts.Aggregator,
		store:      opts.Store,
		sink:       opts.Sink,
		logger:     opts.Logger,
		enabled:    opts.Enabled,
	}, nil
}

// Process verifies one interaction and appends its trace record.
//
// Process never fails the caller: every outcome, including upstream
// errors, becomes a record. A disabled engine is a no-op: the caller
// gets back an empty record and nothing is persisted.
func (p *Pipeline) Process(ctx context.Context, req *datatypes.VerifyRequest) *tracelog.Record {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "pipeline.process",
		trace.WithAttributes(attribute.String("dataset", req.DatasetID)))
	defer span.End()

	record := &tracelog.Record{
		Timestamp:      time.Now().UTC(),
		Endpoint:       req.Endpoint,
		DatasetID:      req.DatasetID,
		Intent:         req.Intent,
		Filters:        req.Filters,
		LatencyTotalMs: req.LatencyTotalMs,
		LatencyModelMs: req.LatencyModelMs,
		SessionID:      req.SessionID,
		UserID:         req.UserID,
		TraceID:        uuid.NewString(),
		Error:          req.UpstreamError,
	}
	if record.SessionID == "" {
		record.SessionID = uuid.NewString()
	}

	if !p.enabled() {
		// No verification, no routing check, no trace line. The
		// pipeline duration is still observed so adoption stays
		// visible while the engine is off.
		p.sink.ObservePipeline(time.Since(start).Seconds())
		return record
	}

	if req.UpstreamError == "" {
		claimList := p.extractor.Extract(req.AnswerText, req.Annotation)
		record.Verification = p.verifier.Verify(ctx, req.DatasetID, claimList, req.Filters)
		record.Hallucination = p.verifier.CheckReferences(ctx, req.AnswerText, req.DatasetID)
		if record.Verification.HasClaims {
			p.sink.RecordVerification(record.Verification.GroundedPass)
		}
		if record.Hallucination.HasHallucinations {
			p.sink.RecordHallucination()
		}
	}
	record.Router = p.tracker.Check(req.QueryText, req.DatasetID)

	p.recorder.Append(record)
	p.sink.ObservePipeline(time.Since(start).Seconds())

	span.SetAttributes(
		attribute.Bool("has_claims", record.Verification.HasClaims),
		attribute.Bool("grounded_pass", record.Verification.GroundedPass),
	)
	return record
}

// DailyKPIs returns the day's rollup, preferring the persisted
// document and computing a fresh one when none has been built yet.
func (p *Pipeline) DailyKPIs(ctx context.Context, day time.Time) (*rollup.KPIs, error) {
	if p.store != nil {
		kpis, err := p.store.Read(day)
		if err == nil {
			return kpis, nil
		}
		if !errors.Is(err, rollup.ErrNotBuilt) {
			p.logger.Warn("stored rollup unreadable, recomputing", "error", err)
		}
	}
	return p.aggregator.Rollup(ctx, day)
}

// BuildDailyKPIs computes and persists the day's rollup.
func (p *Pipeline) BuildDailyKPIs(ctx context.Context, day time.Time) (*rollup.KPIs, error) {
	kpis, err := p.aggregator.Rollup(ctx, day)
	if err != nil {
		return nil, err
	}
	if p.store != nil {
		if err := p.store.Write(kpis); err != nil {
			return nil, err
		}
	}
	return kpis, nil
}

// SchemaReport exposes the hallucination dictionary for the schema
// inspection endpoint.
func (p *Pipeline) SchemaReport(ctx context.Context, text, datasetID string) schema.Report {
	return p.verifier.CheckReferences(ctx, text, datasetID)
}
