// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates the quality engine configuration
// from YAML, with live reload on file change.
//
// Thread Safety:
//
//	Loaded Config values are immutable; the Watcher swaps whole
//	snapshots so readers never observe a half-applied reload.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/procverify/pkg/validation"
)

// MaxYAMLFileSize is the maximum allowed configuration file size (1MB).
const MaxYAMLFileSize = 1024 * 1024

// Config is the engine's full configuration.
type Config struct {
	// Enabled gates the whole verification pipeline. When false,
	// requests pass through untouched and only adoption telemetry is
	// recorded.
	Enabled bool `yaml:"enabled"`

	Server     ServerConfig     `yaml:"server"`
	Tolerances ToleranceConfig  `yaml:"tolerances"`
	Schema     SchemaConfig     `yaml:"schema"`
	Trace      TraceConfig      `yaml:"trace"`
	Logging    LoggingConfig    `yaml:"logging"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Datasets   []DatasetConfig  `yaml:"datasets" validate:"dive"`
}

// ServerConfig covers the HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required"`

	// RateLimitRPS is the per-client request budget per second.
	RateLimitRPS float64 `yaml:"rate_limit_rps" validate:"gt=0"`

	// RateLimitBurst is the per-client burst allowance.
	RateLimitBurst int `yaml:"rate_limit_burst" validate:"gt=0"`

	ReadTimeout  time.Duration `yaml:"read_timeout" validate:"gt=0"`
	WriteTimeout time.Duration `yaml:"write_timeout" validate:"gt=0"`
}

// ToleranceConfig sets the claim match thresholds.
type ToleranceConfig struct {
	// CountAbsolute is the allowed absolute difference for counts.
	CountAbsolute float64 `yaml:"count_absolute" validate:"gte=0"`

	// RelativeFraction is the allowed relative error for everything
	// else, as a fraction.
	RelativeFraction float64 `yaml:"relative_fraction" validate:"gte=0,lte=1"`
}

// SchemaConfig covers the schema dictionary cache.
type SchemaConfig struct {
	TTL time.Duration `yaml:"ttl" validate:"gt=0"`
}

// TraceConfig covers trace and rollup persistence.
type TraceConfig struct {
	// Dir holds the daily trace JSONL files and KPI documents.
	Dir string `yaml:"dir" validate:"required"`
}

// LoggingConfig covers structured logging.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

// TelemetryConfig covers OTLP export.
type TelemetryConfig struct {
	// OTLPEndpoint is the gRPC collector address; empty disables span
	// export.
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// DatasetConfig registers one dataset and the names users call it by.
type DatasetConfig struct {
	ID      string   `yaml:"id" validate:"required"`
	Aliases []string `yaml:"aliases"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Enabled: true,
		Server: ServerConfig{
			Addr:           ":8098",
			RateLimitRPS:   20,
			RateLimitBurst: 40,
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   30 * time.Second,
		},
		Tolerances: ToleranceConfig{
			CountAbsolute:    1,
			RelativeFraction: 0.02,
		},
		Schema: SchemaConfig{TTL: 10 * time.Minute},
		Trace:  TraceConfig{Dir: "./data/quality"},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

var validate = validator.New()

// Load reads, defaults, and validates a configuration file. A missing
// path returns the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("stat config: %w", err)
	}
	if info.Size() > MaxYAMLFileSize {
		return nil, fmt.Errorf("config file exceeds %d bytes", MaxYAMLFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	for _, d := range cfg.Datasets {
		if err := validation.ValidateDatasetID(d.ID); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
	}
	return cfg, nil
}
