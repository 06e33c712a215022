// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package quality

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/procverify/services/quality/handlers"
)

// SetupRoutes installs the quality API on the router.
func (s *Service) SetupRoutes(router *gin.Engine) {
	router.GET("/api/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	limiter := handlers.NewRateLimiter(
		s.cfg().Server.RateLimitRPS, s.cfg().Server.RateLimitBurst)

	api := router.Group("/api", limiter.Middleware())
	{
		api.POST("/verify", handlers.HandleVerify(s.Pipeline))
		api.GET("/kpis/:date", handlers.HandleKPIs(s.Pipeline, s.logger.Logger))
		api.GET("/schema/:dataset", handlers.HandleSchema(s.Dictionary))
	}
}
