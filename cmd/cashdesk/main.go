// Package main запускает HTTP-сервер кассового сервиса.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredislib "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/erpwoosync/cianbox-pos-sub001/internal/config"
	"github.com/erpwoosync/cianbox-pos-sub001/internal/handler"
	"github.com/erpwoosync/cianbox-pos-sub001/internal/lock"
	"github.com/erpwoosync/cianbox-pos-sub001/internal/middleware"
	"github.com/erpwoosync/cianbox-pos-sub001/internal/repository"
	"github.com/erpwoosync/cianbox-pos-sub001/internal/service"
	"github.com/erpwoosync/cianbox-pos-sub001/internal/treasury"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	config.LoadDotEnv()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var repo service.Repository
	if cfg.DatabaseURI != "" {
		pg, err := repository.NewPostgresRepository(cfg.DatabaseURI)
		if err != nil {
			sugar.Fatalw("database initialization error", "error", err.Error())
		}
		repo = pg
	} else {
		sugar.Warn("DATABASE_URI is not set, sessions are kept in memory")
		repo = repository.NewMemoryRepository()
	}

	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.RedisAddress != "" {
		client := goredislib.NewClient(&goredislib.Options{Addr: cfg.RedisAddress})
		defer client.Close()

		rl, err := lock.NewRedisLocker(ctx, client, cfg.LockTTL)
		if err != nil {
			sugar.Fatalw("redis initialization error", "error", err.Error())
		}
		locker = rl
	}

	opts := service.Options{
		Epsilon:   cfg.TenderEpsilon,
		Threshold: cfg.AuthorizationThreshold,
	}
	if cfg.BankAPIAddress != "" {
		opts.Bank = treasury.NewClient(cfg.BankAPIAddress, logger)
	}

	svc := service.NewService(repo, locker, logger, opts)
	defer svc.Close()

	if cfg.AuthSecret == "" {
		sugar.Warn("AUTH_SECRET is not set, tokens will not survive a restart")
	}
	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	h := handler.NewHandler(svc, logger, authMiddleware, cfg.AllowedOrigins)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	// Сверка внесений с банком
	g.Go(func() error {
		svc.StartTreasuryUpdates(ctx, cfg.TreasuryPollPeriod)
		return nil
	})

	g.Go(func() error {
		sugar.Infow("starting cash desk server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
