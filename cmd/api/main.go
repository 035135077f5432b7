package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/helpdesk-service/internal/api/http"
	"github.com/spec-kit/helpdesk-service/internal/api/http/handlers"
	"github.com/spec-kit/helpdesk-service/internal/auth"
	"github.com/spec-kit/helpdesk-service/internal/config"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/observability"
	"github.com/spec-kit/helpdesk-service/internal/persistence"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	"github.com/spec-kit/helpdesk-service/internal/service"
	"github.com/spec-kit/helpdesk-service/internal/triage"
	"github.com/spec-kit/helpdesk-service/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.App, cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := observability.NewMetrics()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if pg.Enabled() && cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()

	var ticketRepo repository.TicketRepository
	if pg.Enabled() {
		ticketRepo = repository.NewTicketRepository(pg.PoolHandle())
	} else {
		ticketRepo = repository.NewMemoryTicketRepository()
	}

	var conversations repository.ConversationRepository
	if redis.Enabled() {
		conversations = repository.NewRedisConversationRepository(redis.Client, cfg.Redis.KeyPrefix, cfg.Session.TTL())
	} else {
		conversations = repository.NewMemoryConversationRepository(cfg.Session.TTL())
	}

	var model triage.LanguageModel
	if openai := triage.NewOpenAIModel(cfg.LLM); openai != nil {
		model = openai
		logger.Info("language model enabled", zap.String("model", cfg.LLM.Model))
	} else {
		logger.Warn("LLM_API_KEY not provided; replies come from the local solution table")
	}

	hub := events.NewHub(cfg.Notification.BufferSize, logger)
	notifier := service.NewNotificationService(hub, logger, metrics)

	ticketService := service.NewTicketService(service.TicketDependencies{
		TicketRepo: ticketRepo,
		Notifier:   notifier,
		Logger:     logger,
		Metrics:    metrics,
	})
	engine := triage.NewEngine(triage.EngineDependencies{
		Conversations: conversations,
		Model:         model,
		Classifier:    triage.NewRuleClassifier(cfg.Triage.ContextWindow),
		Policy: triage.Policy{
			MinUserMessages:       cfg.Triage.MinUserMessages,
			ProposeTicketMessages: cfg.Triage.ProposeTicketMessages,
			ContextWindow:         cfg.Triage.ContextWindow,
		},
		Logger:  logger,
		Metrics: metrics,
	})
	chatService := service.NewChatService(service.ChatDependencies{
		Engine:        engine,
		Tickets:       ticketService,
		Conversations: conversations,
		Notifier:      notifier,
		Logger:        logger,
	})

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	authMiddleware := auth.NewAuthMiddleware(tokens)

	streamHandler := handlers.NewStreamHandler(handlers.StreamDependencies{
		Hub:       hub,
		Tickets:   ticketService,
		Poller:    worker.NewStatusPoller(ticketRepo, cfg.Notification.ReconcileInterval(), logger),
		Heartbeat: cfg.Notification.HeartbeatInterval(),
		Metrics:   metrics,
		Logger:    logger,
	})

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ErrorHandler: httptransport.ErrorHandler,
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis),
		Tickets:        handlers.NewTicketsHandler(ticketService, chatService),
		Agent:          handlers.NewAgentHandler(ticketService),
		Chat:           handlers.NewChatHandler(chatService),
		Stream:         streamHandler,
		Metrics:        metrics,
		AuthMiddleware: authMiddleware,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	streamHandler.CloseAll()
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
