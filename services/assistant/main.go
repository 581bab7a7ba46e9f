// Copyright (C) 2025 Winston & Lee (conversa-suite)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"log"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/Winston-And-Lee/conversa-suite/services/assistant/datatypes"
	"github.com/Winston-And-Lee/conversa-suite/services/assistant/middleware"
	"github.com/Winston-And-Lee/conversa-suite/services/assistant/observability"
	"github.com/Winston-And-Lee/conversa-suite/services/assistant/routes"
	"github.com/Winston-And-Lee/conversa-suite/services/assistant/services"
	"github.com/Winston-And-Lee/conversa-suite/services/assistant/store"
	"github.com/Winston-And-Lee/conversa-suite/services/llm"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
)

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "conversa-otel-collector:4317"
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("assistant-service")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

// newWeaviateClient builds the retrieval store client, or returns nil when
// WEAVIATE_URL is absent or malformed. The service keeps serving chat and
// thread endpoints without it; augmentation and ingestion are disabled.
func newWeaviateClient(ctx context.Context) *weaviate.Client {
	weaviateURL := strings.Trim(os.Getenv("WEAVIATE_URL"), "\"' ")
	if weaviateURL == "" || !strings.Contains(weaviateURL, "http") {
		slog.Info("WEAVIATE_URL not set or empty. Running without retrieval augmentation.")
		return nil
	}

	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		slog.Warn("WEAVIATE_URL is invalid. Running without retrieval augmentation.",
			"url", weaviateURL, "error", err)
		return nil
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
	if err != nil {
		slog.Error("Failed to create Weaviate client", "error", err)
		return nil
	}

	if err := datatypes.EnsureWeaviateSchema(ctx, client); err != nil {
		slog.Warn("Failed to ensure Weaviate schema; retrieval may be degraded", "error", err)
	}
	return client
}

// newTokenValidator picks the auth backend: HS256 JWTs when AUTH_JWT_SECRET
// is set, the fixed local user otherwise.
func newTokenValidator() middleware.TokenValidator {
	secret := os.Getenv("AUTH_JWT_SECRET")
	if secret == "" {
		slog.Info("AUTH_JWT_SECRET not set. Running in local single-user mode.")
		return middleware.NopValidator{}
	}
	validator, err := middleware.NewJWTValidator(secret)
	if err != nil {
		log.Fatalf("Failed to initialize JWT validator: %v", err)
	}
	slog.Info("Using JWT bearer authentication")
	return validator
}

func main() {
	port := os.Getenv("ASSISTANT_PORT")
	if port == "" {
		port = "12320"
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// --- Init the tracer ---
	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	observability.InitMetrics()

	// --- Thread store (MongoDB) ---
	mongoURI := os.Getenv("MONGO_URI")
	if mongoURI == "" {
		mongoURI = "mongodb://localhost:27017"
	}
	mongoDatabase := os.Getenv("MONGO_DATABASE")
	if mongoDatabase == "" {
		mongoDatabase = "conversa"
	}

	ctx := context.Background()
	threadStore, err := store.NewMongoThreadStore(ctx, mongoURI, mongoDatabase)
	if err != nil {
		log.Fatalf("Failed to create MongoDB thread store: %v", err)
	}
	if err := threadStore.EnsureConnected(ctx); err != nil {
		log.Fatalf("FATAL: Could not connect to MongoDB: %v", err)
	}
	defer func() {
		if err := threadStore.Close(context.Background()); err != nil {
			slog.Error("Failed to close MongoDB connection", "error", err)
		}
	}()

	// --- LLM backend ---
	log.Println("Configuring the LLM Client")
	var llmClient llm.LLMClient
	switch os.Getenv("LLM_BACKEND_TYPE") {
	case "ollama":
		llmClient, err = llm.NewOllamaClient()
		slog.Info("Using Ollama LLM backend")
	case "openai":
		llmClient, err = llm.NewOpenAIClient()
		slog.Info("Using OpenAI LLM backend")
	case "anthropic":
		llmClient, err = llm.NewAnthropicClient()
		slog.Info("Using Anthropic LLM backend")
	default:
		slog.Warn("LLM_BACKEND_TYPE not set or invalid, defaulting to openai")
		llmClient, err = llm.NewOpenAIClient()
	}
	if err != nil {
		log.Fatalf("Failed to initialize LLM client: %v", err)
	}

	// --- Retrieval store (optional) ---
	weaviateClient := newWeaviateClient(ctx)

	classifier := services.NewFictionClassifier(llmClient)

	var augmenter services.RetrievalAugmenter
	var ingestion *services.IngestionService
	if weaviateClient != nil {
		if embedder, ok := llmClient.(llm.Embedder); ok {
			augmenter = services.NewWeaviateAugmenter(weaviateClient, embedder)
			ingestion = services.NewIngestionService(weaviateClient, embedder)
		} else {
			slog.Warn("LLM backend does not provide embeddings; retrieval augmentation disabled")
		}
	}

	turns := services.NewTurnService(threadStore, llmClient, classifier, augmenter)

	router := gin.Default()
	router.Use(otelgin.Middleware("assistant-service"))

	routes.SetupRoutes(router, threadStore, turns, ingestion, newTokenValidator())

	log.Println("Starting the assistant server on port ", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
