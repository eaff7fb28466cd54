package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/api"
	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/audit"
	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/config"
	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/database"
	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/database/repository"
	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/database/service"
	internalgrpc "github.com/EgehanKilicarslan/schoolms/backend-go/internal/grpc"
	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/handler"
	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/logger"
	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/mail"
	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/middleware"
	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/token"
	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/worker"
)

const (
	backgroundWorkers = 4
	shutdownTimeout   = 10 * time.Second
)

func main() {
	// 1. Config
	cfg := config.LoadConfig()

	// 2. Logger
	appLogger := logger.New(cfg)

	appLogger.Info("🚀 [Go] Starting identity service...",
		"environment", cfg.AppEnv,
		"http_port", cfg.ApiServicePort,
		"grpc_port", cfg.ApiGrpcPort,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Connect to Database
	db, err := database.Connect(cfg, appLogger)
	if err != nil {
		appLogger.Error("❌ Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close(db)

	// 4. Initialize Redis Client
	redisClient, err := database.NewRedisClient(cfg, appLogger)
	if err != nil {
		appLogger.Warn("⚠️ Failed to connect to Redis", "error", err)
		appLogger.Info("💡 Rate limiting will use in-process counters")
	}
	defer func() {
		if redisClient != nil {
			redisClient.Close()
		}
	}()

	// 5. Token codec
	codec, err := token.NewCodec(cfg.JWTSecret, token.Lifetimes{
		Access:       config.Seconds(cfg.AccessTokenExpiration),
		Refresh:      config.Seconds(cfg.RefreshTokenExpiration),
		Verification: config.Seconds(cfg.VerificationTokenExpiration),
		TwoFactor:    config.Seconds(cfg.TwoFactorTokenExpiration),
	}, token.WithIssuer(cfg.JWTIssuer))
	if err != nil {
		appLogger.Error("❌ Invalid token configuration", "error", err)
		os.Exit(1)
	}

	// 6. Initialize Repositories
	userRepo := repository.NewUserRepository(db)
	transactor := repository.NewTransactor(db)
	roleRepo := repository.NewRoleRepository(db)
	tokenRepo := repository.NewTokenRepository(db)

	// 7. Metrics, background workers and audit trail
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var publisher audit.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		appLogger.Info("📨 [Audit] Publishing to Kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaAuditTopic)
		publisher = audit.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaAuditTopic)
	} else {
		publisher = audit.NewLogPublisher(appLogger)
	}
	defer publisher.Close()

	// Drained before the publisher closes.
	pool := worker.NewPool(backgroundWorkers, appLogger)
	defer pool.Shutdown(shutdownTimeout)

	recorder, err := audit.NewDispatcher(publisher, pool, registry, appLogger)
	if err != nil {
		appLogger.Error("❌ Failed to set up audit trail", "error", err)
		os.Exit(1)
	}

	// 8. Initialize Services
	authService := service.NewAuthService(
		userRepo,
		roleRepo,
		tokenRepo,
		transactor,
		codec,
		service.NewBcryptHasher(int(cfg.BcryptCost)),
		mail.NewSender(cfg, appLogger),
		recorder,
		cfg,
		appLogger,
	)
	userService := service.NewUserService(userRepo, roleRepo, tokenRepo, transactor, recorder, appLogger)

	// 9. Initialize Handlers & Middleware
	cookies := handler.NewCookieWriter(cfg)
	httpMetrics, err := middleware.NewHTTPMetrics(registry)
	if err != nil {
		appLogger.Error("❌ Failed to register HTTP metrics", "error", err)
		os.Exit(1)
	}
	rateLimiter := middleware.NewRateLimiter(
		redisClient,
		cfg.AuthRateLimitAttempts,
		config.Seconds(cfg.AuthRateLimitWindow),
		appLogger,
	)

	r := api.SetupRouter(api.Handlers{
		Auth:  handler.NewAuthHandler(authService, cookies, appLogger),
		OAuth: handler.NewOAuthHandler(authService, cookies, cfg, appLogger),
		User:  handler.NewUserHandler(userService, appLogger),
		Admin: handler.NewAdminHandler(userService, appLogger),
	}, api.Options{
		AuthMiddleware: middleware.NewAuthMiddleware(authService, appLogger),
		RateLimiter:    rateLimiter,
		Metrics:        httpMetrics,
		Gatherer:       registry,
		Logger:         appLogger,
	})

	// 10. Start gRPC Server
	grpcServer := internalgrpc.NewServer(authService, appLogger)
	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.ApiGrpcPort))
	if err != nil {
		appLogger.Error("❌ Failed to listen for gRPC", "error", err)
		os.Exit(1)
	}
	go func() {
		appLogger.Info("🔌 [Go] gRPC Server running...", "port", cfg.ApiGrpcPort)
		if err := grpcServer.Serve(grpcListener); err != nil {
			appLogger.Error("❌ gRPC Server failed", "error", err)
		}
	}()

	// 11. Start HTTP Server
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ApiServicePort),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		appLogger.Info("🌍 [Go] HTTP Server running on port...", "port", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("❌ HTTP Server failed to start", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	appLogger.Info("🛑 [Go] Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("❌ HTTP shutdown error", "error", err)
	}
	grpcServer.GracefulStop()
}
