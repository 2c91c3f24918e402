// Package main is the entry point for the API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/arviso/client-pulse/internal/analysis"
	"github.com/arviso/client-pulse/internal/config"
	"github.com/arviso/client-pulse/internal/handler"
	"github.com/arviso/client-pulse/internal/insights"
	"github.com/arviso/client-pulse/internal/llm"
	"github.com/arviso/client-pulse/internal/middleware"
	natsclient "github.com/arviso/client-pulse/internal/nats"
	"github.com/arviso/client-pulse/internal/outbound"
	"github.com/arviso/client-pulse/internal/store"
	"github.com/arviso/client-pulse/pkg/logger"
	"github.com/arviso/client-pulse/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting API server")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "client-pulse", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Connect to NATS
	natsClient, err := natsclient.Connect(ctx, natsclient.Config{
		URL:      cfg.NATSURL,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
	}, log)
	if err != nil {
		log.Error("failed to connect to NATS", zap.Error(err))
		os.Exit(1)
	}
	defer natsClient.Close()

	// Ensure JetStream stream exists
	streamManager := natsclient.NewStreamManager(natsClient)
	if err := streamManager.EnsureStream(ctx); err != nil {
		log.Error("failed to ensure stream", zap.Error(err))
		os.Exit(1)
	}

	// Initialize analysis service client
	provider := llm.Provider(cfg.DefaultProvider)
	apiKey := cfg.OpenAIAPIKey
	if provider == llm.ProviderAnthropic || (apiKey == "" && cfg.AnthropicAPIKey != "") {
		provider = llm.ProviderAnthropic
		apiKey = cfg.AnthropicAPIKey
	}
	llmClient, err := llm.NewClient(provider, apiKey)
	if err != nil {
		log.Error("failed to create analysis service client", zap.Error(err))
		os.Exit(1)
	}

	svcClient := analysis.NewServiceClient(llmClient, analysis.ClientConfig{
		Model:         cfg.AnalysisModel,
		DraftingModel: cfg.DraftingModel,
		StageTimeout:  cfg.StageTimeout,
		MaxAttempts:   cfg.MaxAttempts,
		BackoffBase:   cfg.BackoffBase,
		MaxConcurrent: cfg.MaxConcurrent,
	}, log)
	stages := analysis.NewStages(svcClient)

	// Initialize stores and pipeline
	mem := store.NewMemory()
	loader := analysis.NewContextLoader(mem, cfg.ContextMaxTurns)
	orchestrator := analysis.NewOrchestrator(loader, stages, mem, mem, mem, streamManager,
		analysis.OrchestratorConfig{TurnDeadline: cfg.TurnDeadline}, log)

	engine := insights.NewEngine(stages, mem, mem, mem, insights.Config{
		WindowSize: cfg.SummaryWindowSize,
		WindowAge:  cfg.SummaryWindowAge,
	}, log)

	scheduler := outbound.NewScheduler(stages, mem, mem, mem, outbound.Config{
		CheckInSilence:   cfg.CheckInSilence,
		FollowUpSilence:  cfg.FollowUpSilence,
		ReminderLeadTime: cfg.ReminderLeadTime,
		Tick:             cfg.SchedulerTick,
	}, log)

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(natsClient)
	analyzeHandler := handler.NewAnalyzeHandler(orchestrator, stages, scheduler, mem, mem, streamManager, log)
	insightHandler := handler.NewInsightHandler(engine, mem, log)
	outboundHandler := handler.NewOutboundHandler(scheduler, mem, mem, log)

	// Background loops
	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()
	go scheduler.Run(bgCtx)
	go engine.Start(bgCtx, cfg.SchedulerTick)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/conversations/{id}", func(r chi.Router) {
			r.Post("/analyze", analyzeHandler.Analyze)
			r.Get("/results", analyzeHandler.Results)
			r.Get("/messages", analyzeHandler.Messages)
			r.Post("/summarize", analyzeHandler.Summarize)
		})

		r.Route("/clients/{id}", func(r chi.Router) {
			r.Post("/insights/micro", insightHandler.Micro)
			r.Post("/insights/summary", insightHandler.Summary)
			r.Get("/insights/{kind}", insightHandler.Latest)

			r.Get("/drafts", outboundHandler.List)
			r.Post("/drafts/evaluate", outboundHandler.Evaluate)
		})

		r.Post("/firms/{id}/insights/high-level", insightHandler.HighLevel)
		r.Post("/drafts/{id}/resolve", outboundHandler.Resolve)
		r.Post("/signals/case-status", outboundHandler.CaseStatus)
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
	bgCancel()

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
