package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/honeynil/venue-ledger/internal/api"
	"github.com/honeynil/venue-ledger/internal/config"
	"github.com/honeynil/venue-ledger/internal/handler"
	"github.com/honeynil/venue-ledger/internal/infrastructure/auth"
	"github.com/honeynil/venue-ledger/internal/infrastructure/kafka"
	"github.com/honeynil/venue-ledger/internal/infrastructure/redis"
	"github.com/honeynil/venue-ledger/internal/observability"
	core "github.com/honeynil/venue-ledger/internal/repository/postgres"
	service "github.com/honeynil/venue-ledger/internal/services"
	"github.com/honeynil/venue-ledger/internal/sweeper"
	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Загружаем конфиг (.env + переменные окружения)
	cfg := config.Load()

	// Инициализируем логи, метрики, трейсы
	shutdownTracing, metricsHandler := observability.Setup(observability.Options{
		ServiceName:  "venue-ledger",
		LogLevel:     cfg.LogLevel,
		OTLPEndpoint: cfg.OTLPEndpoint,
	})
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			slog.Error("tracer shutdown failed", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Подключаемся к Postgres
	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("Failed to open Postgres: %v", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}

	redisClient, err := redis.NewClient(ctx, cfg.RedisAddr)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()

	producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaLedgerTopic)
	defer producer.Close()

	// Инициализируем зависимости
	txManager := core.NewTxManager(db)
	paymentRepo := core.NewPostgresPaymentRepository(db)
	bonusRepo := core.NewPostgresBonusRepository(db)
	packageRepo := core.NewPostgresPackageRepository(db)
	retryCfg := service.RetryConfig{Attempts: cfg.TxRetryAttempts, Delay: cfg.TxRetryDelay}

	balances := service.NewBalanceAccessor(bonusRepo, redis.NewBalanceCache(redisClient, cfg.BalanceCacheTTL))
	payments := service.NewPaymentLedger(txManager, paymentRepo, balances, producer, retryCfg)
	sessions := service.NewSessionLedger(txManager, packageRepo, producer, retryCfg)

	// Настраиваем роутер
	router := api.SetupRouter(api.RouterDeps{
		Handler:     handler.NewHandler(payments, sessions, balances, cfg.BonusPercent),
		RedisClient: redisClient,
		Tokens:      auth.NewTokenService(cfg.JWTSecret, 12*time.Hour),
		Metrics:     metricsHandler,
		Health: map[string]api.HealthCheck{
			"postgres": db.PingContext,
			"redis":    redisClient.Ping,
		},
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	// Запускаем сервер
	g.Go(func() error {
		slog.Info("starting server", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Фоновое истечение пакетов
	g.Go(func() error {
		return sweeper.New(sessions, cfg.SweepInterval).Run(gctx)
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server stopped with error", "error", err)
		return
	}
	slog.Info("server stopped")
}
