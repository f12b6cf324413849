// Package main запускает HTTP-сервер сервиса подарочных карт.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nstepanov/giftcards-system/internal/config"
	"github.com/nstepanov/giftcards-system/internal/handler"
	"github.com/nstepanov/giftcards-system/internal/middleware"
	"github.com/nstepanov/giftcards-system/internal/notify"
	"github.com/nstepanov/giftcards-system/internal/repository"
	"github.com/nstepanov/giftcards-system/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	var notifier service.Notifier
	if cfg.DeliveryAddress != "" {
		notifier = notify.NewClient(cfg.DeliveryAddress)
	}

	svc := service.NewService(repo, notifier, logger, service.Options{
		CodePrefix:    cfg.CodePrefix,
		ExpiryDays:    cfg.ExpiryDays,
		SweepInterval: cfg.SweepInterval,
	})
	defer svc.Close()

	signatureMiddleware := middleware.NewSignatureMiddleware(cfg.WebhookSecret)
	h := handler.NewHandler(svc, logger, signatureMiddleware)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск фонового перевода просроченных карт
	g.Go(func() error {
		svc.StartExpirySweeper(ctx)
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting gift card server", "addr", cfg.RunAddress)
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
