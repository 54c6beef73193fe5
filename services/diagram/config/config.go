// Copyright (C) 2026 VisuaLearn (team@visualearn.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads the diagram service configuration from
// environment variables.
//
// Every knob has a usable default so the service starts with nothing
// but VISUALEARN_OPENAI_API_KEY set. Durations configured in
// milliseconds follow the *_TIMEOUT_MS convention.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"
)

// CacheLayerConfig sizes one cache layer.
type CacheLayerConfig struct {
	MaxSize    int
	DefaultTTL time.Duration
}

// Config is the full service configuration.
type Config struct {
	// Server
	Port     string
	LogLevel string

	// Generation backend
	OpenAIAPIKey string
	OpenAIModel  string

	// Renderer
	RendererURL string

	// Stage timeouts
	PlanningTimeout   time.Duration
	GenerationTimeout time.Duration
	ReviewTimeout     time.Duration
	RefinementTimeout time.Duration
	ImageTimeout      time.Duration

	// Review loop
	MaxReviewIterations int

	// Cache layers
	RequestCache     CacheLayerConfig
	SessionCache     CacheLayerConfig
	GlobalCache      CacheLayerConfig
	TranslationCache CacheLayerConfig

	// Rate limiting
	RateLimitWindow      time.Duration
	RateLimitMaxRequests int

	// Debug recording
	RecordResponses bool
	ResponsesDir    string
}

// Load reads configuration from the environment, applying defaults for
// anything unset. It never fails; missing credentials surface when the
// generation client is constructed.
func Load() Config {
	return Config{
		Port:     envString("VISUALEARN_PORT", "8080"),
		LogLevel: envString("VISUALEARN_LOG_LEVEL", "info"),

		OpenAIAPIKey: os.Getenv("VISUALEARN_OPENAI_API_KEY"),
		OpenAIModel:  os.Getenv("VISUALEARN_OPENAI_MODEL"),

		RendererURL: envString("VISUALEARN_RENDERER_URL", "http://localhost:8615"),

		PlanningTimeout:   envMillis("VISUALEARN_PLANNING_TIMEOUT_MS", 5000),
		GenerationTimeout: envMillis("VISUALEARN_GENERATION_TIMEOUT_MS", 12000),
		ReviewTimeout:     envMillis("VISUALEARN_REVIEW_TIMEOUT_MS", 3000),
		RefinementTimeout: envMillis("VISUALEARN_REFINEMENT_TIMEOUT_MS", 10000),
		ImageTimeout:      envMillis("VISUALEARN_IMAGE_TIMEOUT_MS", 4000),

		MaxReviewIterations: envInt("VISUALEARN_MAX_REVIEW_ITERATIONS", 3),

		RequestCache: CacheLayerConfig{
			MaxSize:    envInt("VISUALEARN_CACHE_REQUEST_MAX_SIZE", 32),
			DefaultTTL: envMillis("VISUALEARN_CACHE_REQUEST_TTL_MS", int64(5*time.Minute/time.Millisecond)),
		},
		SessionCache: CacheLayerConfig{
			MaxSize:    envInt("VISUALEARN_CACHE_SESSION_MAX_SIZE", 256),
			DefaultTTL: envMillis("VISUALEARN_CACHE_SESSION_TTL_MS", int64(time.Hour/time.Millisecond)),
		},
		GlobalCache: CacheLayerConfig{
			MaxSize:    envInt("VISUALEARN_CACHE_GLOBAL_MAX_SIZE", 1024),
			DefaultTTL: envMillis("VISUALEARN_CACHE_GLOBAL_TTL_MS", int64(7*24*time.Hour/time.Millisecond)),
		},
		TranslationCache: CacheLayerConfig{
			MaxSize:    envInt("VISUALEARN_CACHE_TRANSLATION_MAX_SIZE", 1024),
			DefaultTTL: envMillis("VISUALEARN_CACHE_TRANSLATION_TTL_MS", int64(7*24*time.Hour/time.Millisecond)),
		},

		RateLimitWindow:      envMillis("VISUALEARN_RATE_LIMIT_WINDOW_MS", 60000),
		RateLimitMaxRequests: envInt("VISUALEARN_RATE_LIMIT_MAX_REQUESTS", 10),

		RecordResponses: envBool("VISUALEARN_RECORD_RESPONSES", false),
		ResponsesDir:    envString("VISUALEARN_RESPONSES_DIR", "./responses"),
	}
}

// SlogLevel maps the configured log level string onto slog levels.
func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		slog.Warn("ignoring invalid integer env value", "key", key, "value", v)
		return fallback
	}
	return n
}

func envMillis(key string, fallbackMs int64) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return time.Duration(fallbackMs) * time.Millisecond
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		slog.Warn("ignoring invalid millisecond env value", "key", key, "value", v)
		return time.Duration(fallbackMs) * time.Millisecond
	}
	return time.Duration(n) * time.Millisecond
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("ignoring invalid boolean env value", "key", key, "value", v)
		return fallback
	}
	return b
}
