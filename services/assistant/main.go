// Copyright (C) 2026 FieldTek Systems
// Licensed under the GNU Affero General Public License v3.0 or later.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/WizardJames69/FieldTek-sub002/pkg/extensions"
	"github.com/WizardJames69/FieldTek-sub002/services/assistant/audit"
	"github.com/WizardJames69/FieldTek-sub002/services/assistant/handlers"
	"github.com/WizardJames69/FieldTek-sub002/services/assistant/middleware"
	"github.com/WizardJames69/FieldTek-sub002/services/assistant/observability"
	"github.com/WizardJames69/FieldTek-sub002/services/assistant/routes"
	"github.com/WizardJames69/FieldTek-sub002/services/assistant/services"
	"github.com/WizardJames69/FieldTek-sub002/services/guardrail"
	"github.com/WizardJames69/FieldTek-sub002/services/llm"
)

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "fieldtek-otel-collector:4317"
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

// newWeaviateClient parses WEAVIATE_SERVICE_URL and builds the client.
// Retrieval is load-bearing for the guardrail pipeline, so a missing or
// unparseable URL is fatal rather than a degraded mode.
func newWeaviateClient() (*weaviate.Client, error) {
	raw := strings.Trim(os.Getenv("WEAVIATE_SERVICE_URL"), "\"' ")
	if raw == "" {
		return nil, errors.New("WEAVIATE_SERVICE_URL environment variable not set")
	}
	parsedURL, err := url.Parse(raw)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, errors.New("WEAVIATE_SERVICE_URL is not a valid URL: " + raw)
	}
	return weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
}

// newLLMClient selects the model backend from LLM_BACKEND_TYPE and
// returns the client plus the model name for audit records.
func newLLMClient() (llm.Client, string, error) {
	switch backend := os.Getenv("LLM_BACKEND_TYPE"); backend {
	case "ollama":
		slog.Info("Using Ollama LLM backend")
		client, err := llm.NewOllamaClient()
		if err != nil {
			return nil, "", err
		}
		return client, client.Model(), nil
	case "openai", "":
		if backend == "" {
			slog.Warn("LLM_BACKEND_TYPE not set, defaulting to openai")
		}
		slog.Info("Using OpenAI-compatible LLM backend")
		client, err := llm.NewOpenAIClient()
		if err != nil {
			return nil, "", err
		}
		return client, client.Model(), nil
	default:
		return nil, "", errors.New("unsupported LLM_BACKEND_TYPE: " + backend)
	}
}

// newAuthProvider builds the token validator. A static token table from
// ASSIST_API_TOKENS makes this multi-tenant; without it every non-empty
// token maps to the local tenant, which is only acceptable in
// development.
func newAuthProvider() extensions.AuthProvider {
	if os.Getenv("ASSIST_API_TOKENS") != "" {
		provider, err := extensions.NewStaticTokenProvider()
		if err != nil {
			log.Fatalf("FATAL: invalid ASSIST_API_TOKENS: %v", err)
		}
		slog.Info("Using static token auth provider")
		return provider
	}
	slog.Warn("ASSIST_API_TOKENS not set, all requests map to the local tenant")
	return &extensions.NopAuthProvider{}
}

func pipelineConfig(modelID string) services.PipelineConfig {
	cfg := services.DefaultPipelineConfig()
	cfg.ModelID = modelID
	if raw := os.Getenv("ASSIST_RETRIEVAL_TOPK"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			cfg.TopK = n
		} else {
			slog.Warn("Ignoring invalid ASSIST_RETRIEVAL_TOPK", "value", raw)
		}
	}
	if raw := os.Getenv("ASSIST_MAX_ANSWER_TOKENS"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			cfg.MaxAnswerTokens = n
		} else {
			slog.Warn("Ignoring invalid ASSIST_MAX_ANSWER_TOKENS", "value", raw)
		}
	}
	return cfg
}

func main() {
	port := os.Getenv("ASSISTANT_PORT")
	if port == "" {
		port = "12300"
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	observability.InitMetrics()

	weaviateClient, err := newWeaviateClient()
	if err != nil {
		log.Fatalf("FATAL: could not create the Weaviate client: %v", err)
	}

	auditPath := os.Getenv("AUDIT_DB_PATH")
	if auditPath == "" {
		auditPath = "/var/lib/fieldtek/audit"
		slog.Warn("AUDIT_DB_PATH not set, defaulting", "path", auditPath)
	}
	auditor, err := audit.Open(audit.DefaultConfig(auditPath))
	if err != nil {
		log.Fatalf("FATAL: could not open the audit store: %v", err)
	}
	defer auditor.Close()

	engine, err := guardrail.NewEngine()
	if err != nil {
		log.Fatalf("FATAL: could not initialize the guardrail engine: %v", err)
	}

	llmClient, modelID, err := newLLMClient()
	if err != nil {
		log.Fatalf("FATAL: could not initialize the LLM client: %v", err)
	}

	opts := extensions.DefaultOptions().WithAuth(newAuthProvider())

	pipeline := services.NewAssistPipeline(
		engine,
		services.NewWeaviateRetriever(weaviateClient),
		llmClient,
		auditor,
		opts.SecurityLogger,
		pipelineConfig(modelID),
	)
	limiter := middleware.NewRateLimiter(auditor, opts.SecurityLogger)

	router := gin.Default()
	router.Use(otelgin.Middleware("assistant-service"))
	routes.SetupRoutes(router, pipeline, auditor, &opts, limiter)

	server := &http.Server{Addr: ":" + port, Handler: router}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("Starting the assistant server", "port", port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown failed", "error", err)
	}
	handlers.PurgeSecureMemory()
}
