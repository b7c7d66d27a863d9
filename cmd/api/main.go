package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/prodlens/backend/internal/api/handlers"
	"github.com/prodlens/backend/internal/app"
	"github.com/prodlens/backend/internal/metrics"
	"github.com/prodlens/backend/internal/middleware/ratelimit"
	"github.com/prodlens/backend/internal/middleware/security"
	"github.com/prodlens/backend/internal/middleware/validation"
	"github.com/prodlens/backend/pkg/config"
	appLogger "github.com/prodlens/backend/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting product answer API server")

	metrics.Init()

	startCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	a, err := app.Build(startCtx, cfg)
	cancel()
	if err != nil {
		appLogger.Fatal("Failed to build answer engine", zap.Error(err))
	}
	defer a.Close()

	server := fiber.New(fiber.Config{
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	server.Use(recover.New())
	server.Use(logger.New())
	server.Use(cors.New(cors.Config{
		AllowOrigins: cfg.Server.AllowOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Client-ID",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	server.Use(security.HeadersMiddleware(security.HeadersConfig{
		IsDevelopment: cfg.Server.Development,
	}))

	answerHandler := handlers.NewAnswerHandler(a.Engine)
	wsHandler := handlers.NewWebSocketHandler(a.Engine)

	deps := map[string]handlers.Pinger{"catalog": a.Catalog}
	if a.Cache != nil {
		deps["embedding_cache"] = a.Cache
	}
	healthHandler := handlers.NewHealthHandler(deps)

	server.Get("/metrics", metrics.MetricsHandler())

	api := server.Group("/api/v1")
	api.Get("/health", healthHandler.Health)
	api.Get("/ready", healthHandler.Ready)

	answer := []fiber.Handler{
		validation.Middleware(validation.Config{
			MaxQueryLength: cfg.Engine.MaxQueryLength,
			Logger:         appLogger.GetLogger(),
		}),
	}
	if cfg.RateLimit.Enabled {
		limiter := ratelimit.New(ratelimit.Config{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
			Logger:            appLogger.GetLogger(),
		})
		defer limiter.Stop()
		answer = append([]fiber.Handler{limiter.Middleware()}, answer...)
	}
	answer = append(answer, answerHandler.HandleAnswer)
	api.Post("/answer", answer...)

	server.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	server.Get("/ws", websocket.New(wsHandler.HandleConnection))

	addr := cfg.Server.Addr()
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := server.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	if err := server.ShutdownWithTimeout(cfg.Engine.RequestTimeout + 5*time.Second); err != nil {
		appLogger.Error("Server shutdown failed", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}
