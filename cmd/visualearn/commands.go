// Copyright (C) 2026 VisuaLearn (team@visualearn.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/visualearn/visualearn/pkg/logging"
	diagram "github.com/visualearn/visualearn/services/diagram"
	"github.com/visualearn/visualearn/services/diagram/config"
	"github.com/visualearn/visualearn/services/diagram/observability"
)

const version = "0.3.0"

var rootCmd = &cobra.Command{
	Use:   "visualearn",
	Short: "VisuaLearn diagram generation service",
	Long:  "Turns a short natural-language concept into a validated, annotated diagram through a bounded AI pipeline.",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP service",
	RunE:  runServe,
}

var generateCmd = &cobra.Command{
	Use:   "generate <concept>",
	Short: "Run the pipeline once and print the result as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runGenerate,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, generateCmd, versionCmd)
}

// initTracer sets up the OTLP trace exporter when a collector endpoint
// is configured. Returns a shutdown func, or nil when tracing is off.
func initTracer(ctx context.Context) (func(context.Context), error) {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		return nil, nil
	}

	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("visualearn-diagram")))
	if err != nil {
		return nil, err
	}
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(exporter)))
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := exporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shut down OTLP exporter", "error", err)
		}
	}, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	logger, err := logging.New(logging.Config{
		Level:   cfg.SlogLevel(),
		Service: "diagram",
		JSON:    true,
	})
	if err != nil {
		return err
	}
	defer logger.Close()
	slog.SetDefault(logger.Logger)

	shutdown, err := initTracer(cmd.Context())
	if err != nil {
		slog.Warn("tracing disabled", "error", err)
	}
	if shutdown != nil {
		defer shutdown(context.Background())
	}

	metrics := observability.NewPipelineMetrics(prometheus.DefaultRegisterer)

	svc, err := diagram.New(cfg, &diagram.Options{Metrics: metrics}, logger.Logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	return svc.Run()
}

func runGenerate(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	logger, err := logging.New(logging.Config{Level: cfg.SlogLevel(), Service: "cli"})
	if err != nil {
		return err
	}
	defer logger.Close()
	slog.SetDefault(logger.Logger)

	svc, err := diagram.New(cfg, nil, logger.Logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	result, err := svc.GenerateDiagram(cmd.Context(), args[0], nil, nil)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}
