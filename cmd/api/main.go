// Package main is the entry point for the orchestrator API server.
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
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/simsocial/conversation-orchestrator/internal/campaign"
	"github.com/simsocial/conversation-orchestrator/internal/chatbot"
	"github.com/simsocial/conversation-orchestrator/internal/config"
	"github.com/simsocial/conversation-orchestrator/internal/handler"
	"github.com/simsocial/conversation-orchestrator/internal/llm"
	"github.com/simsocial/conversation-orchestrator/internal/middleware"
	"github.com/simsocial/conversation-orchestrator/internal/notify"
	"github.com/simsocial/conversation-orchestrator/internal/queue"
	"github.com/simsocial/conversation-orchestrator/internal/reaper"
	"github.com/simsocial/conversation-orchestrator/internal/speech"
	"github.com/simsocial/conversation-orchestrator/internal/storage"
	"github.com/simsocial/conversation-orchestrator/internal/store"
	"github.com/simsocial/conversation-orchestrator/internal/transport"
	"github.com/simsocial/conversation-orchestrator/internal/webhook"
	"github.com/simsocial/conversation-orchestrator/pkg/logger"
	"github.com/simsocial/conversation-orchestrator/pkg/tracing"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting orchestrator")

	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "conversation-orchestrator", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Database
	st, err := store.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		log.Error("failed to open database", zap.Error(err))
		os.Exit(1)
	}

	// Object storage
	objects, err := storage.NewFileStore(cfg.StorageDir)
	if err != nil {
		log.Error("failed to initialize object storage", zap.Error(err))
		os.Exit(1)
	}

	// Realtime events over NATS, when configured.
	var sink notify.Sink = notify.NopSink{}
	var natsSink *notify.NATSSink
	if cfg.NATSURL != "" {
		natsSink, err = notify.Connect(notify.Config{URL: cfg.NATSURL, Token: cfg.NATSToken}, log)
		if err != nil {
			log.Error("failed to connect to NATS", zap.Error(err))
			os.Exit(1)
		}
		defer natsSink.Close()
		sink = natsSink
	}

	// Task queue
	q := queue.New(cfg.QueueWorkers, cfg.QueueMaxRetries, log)
	q.Start(ctx)
	defer q.Stop()

	// Language model
	llmClient, err := llm.NewClient(llmProvider(cfg), llmAPIKey(cfg), cfg.LLMTimeout)
	if err != nil {
		log.Error("failed to create language model client", zap.Error(err))
		os.Exit(1)
	}
	log.Info("language model ready", zap.String("provider", llmClient.Name()))

	// Speech, optional.
	var transcriber speech.Transcriber
	var synthesizer speech.Synthesizer
	if cfg.SpeechEnabled && cfg.OpenAIAPIKey != "" {
		sp, err := speech.NewOpenAISpeech(cfg.OpenAIAPIKey, objects)
		if err != nil {
			log.Warn("speech disabled", zap.Error(err))
		} else {
			transcriber = sp
			synthesizer = sp
		}
	}

	// Outbound transport
	graph := transport.NewGraphAPI(cfg.GraphAPIBaseURL)

	// Dialogue engine
	responder := chatbot.NewResponder(st, graph, sink, synthesizer, log)
	engine := chatbot.NewEngine(st, llmClient, responder, q, chatbot.NewStaticLocator(), log)

	// Ingestion
	gate := webhook.NewGate(st, q, objects, graph, engine, sink, transcriber, cfg.ReopenWindow, log)

	// Campaigns
	dispatcher := campaign.NewDispatcher(st, graph, q, cfg.DefaultRatePerMin, log)
	campaignSvc := campaign.NewService(st, dispatcher, log)

	// Idle conversation reaper
	idleReaper := reaper.New(st, responder, cfg.IdleCloseAfter, cfg.ReaperSchedule, log)
	if err := idleReaper.Start(ctx); err != nil {
		log.Error("failed to start reaper", zap.Error(err))
		os.Exit(1)
	}
	defer idleReaper.Stop()

	// Handlers
	healthHandler := handler.NewHealthHandler(st, natsSink)
	webhookHandler := handler.NewWebhookHandler(gate, q, cfg.WebhookVerifyToken, log)
	campaignHandler := handler.NewCampaignHandler(campaignSvc, log)

	// Scheduled campaign starter piggybacks on the queue.
	go scheduledCampaignLoop(ctx, campaignSvc)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"Link", "X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	// Platform webhook; authenticated by verify token, not JWT.
	r.Get("/webhook", webhookHandler.Verify)
	r.Post("/webhook", webhookHandler.Receive)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/campaigns", func(r chi.Router) {
			r.Post("/", campaignHandler.Create)
			r.Route("/{id}", func(r chi.Router) {
				r.Post("/start", campaignHandler.Start)
				r.Post("/pause", campaignHandler.Pause)
				r.Post("/resume", campaignHandler.Resume)
				r.Post("/cancel", campaignHandler.Cancel)
				r.Get("/analytics", campaignHandler.Analytics)
			})
		})
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}

// scheduledCampaignLoop starts due campaigns once a minute.
func scheduledCampaignLoop(ctx context.Context, svc *campaign.Service) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			svc.StartDue(ctx)
		}
	}
}

func llmProvider(cfg *config.Config) llm.Provider {
	switch cfg.DefaultLLM {
	case "anthropic":
		if cfg.AnthropicAPIKey != "" {
			return llm.ProviderAnthropic
		}
	case "openai":
		if cfg.OpenAIAPIKey != "" {
			return llm.ProviderOpenAI
		}
	}
	// Fall back to whichever key is present.
	if cfg.OpenAIAPIKey != "" {
		return llm.ProviderOpenAI
	}
	return llm.ProviderAnthropic
}

func llmAPIKey(cfg *config.Config) string {
	if llmProvider(cfg) == llm.ProviderAnthropic {
		return cfg.AnthropicAPIKey
	}
	return cfg.OpenAIAPIKey
}
