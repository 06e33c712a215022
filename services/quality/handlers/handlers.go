// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers provides HTTP request handlers for the quality
// service.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/procverify/services/quality/datatypes"
	"github.com/AleutianAI/procverify/services/quality/pipeline"
	"github.com/AleutianAI/procverify/services/quality/rollup"
	"github.com/AleutianAI/procverify/services/quality/schema"
)

// HealthCheck reports service liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleVerify verifies one interaction and returns its trace record.
//
// POST /api/verify
func HandleVerify(p *pipeline.Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.VerifyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "malformed request body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: err.Error()})
			return
		}

		record := p.Process(c.Request.Context(), &req)
		c.JSON(http.StatusOK, datatypes.VerifyResponse{Record: record})
	}
}

// HandleKPIs serves the daily KPI document.
//
// GET /api/kpis/:date (date as YYYY-MM-DD)
func HandleKPIs(p *pipeline.Pipeline, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		day, err := time.Parse("2006-01-02", c.Param("date"))
		if err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "date must be YYYY-MM-DD"})
			return
		}

		kpis, err := p.DailyKPIs(c.Request.Context(), day)
		if err != nil {
			if errors.Is(err, rollup.ErrRollupCancelled) {
				c.JSON(http.StatusRequestTimeout, datatypes.ErrorResponse{Error: "rollup cancelled"})
				return
			}
			logger.Error("kpi rollup failed", "date", c.Param("date"), "error", err)
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "rollup failed"})
			return
		}
		c.JSON(http.StatusOK, kpis)
	}
}

// schemaResponse is the inspection view of a dataset's dictionary.
type schemaResponse struct {
	DatasetID string         `json:"dataset_id"`
	BuiltAt   time.Time      `json:"built_at"`
	Columns   int            `json:"columns"`
	Entities  map[string]int `json:"entities"`
}

// HandleSchema serves a summary of the cached schema snapshot.
//
// GET /api/schema/:dataset
func HandleSchema(dict *schema.Dictionary) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap, err := dict.Snapshot(c.Request.Context(), c.Param("dataset"))
		if err != nil {
			c.JSON(http.StatusNotFound, datatypes.ErrorResponse{Error: "unknown dataset"})
			return
		}
		c.JSON(http.StatusOK, schemaResponse{
			DatasetID: snap.DatasetID,
			BuiltAt:   snap.BuiltAt,
			Columns:   snap.ColumnCount(),
			Entities: map[string]int{
				"team":     snap.EntityCount(schema.CategoryTeam),
				"user":     snap.EntityCount(schema.CategoryUser),
				"activity": snap.EntityCount(schema.CategoryActivity),
				"process":  snap.EntityCount(schema.CategoryProcess),
			},
		})
	}
}
