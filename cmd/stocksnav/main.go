// Package main starts the HTTP server of the trading platform.
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

	"github.com/stocksnav/stocksnav/internal/config"
	"github.com/stocksnav/stocksnav/internal/handler"
	"github.com/stocksnav/stocksnav/internal/mailer"
	"github.com/stocksnav/stocksnav/internal/middleware"
	"github.com/stocksnav/stocksnav/internal/repository"
	"github.com/stocksnav/stocksnav/internal/service"
	"github.com/stocksnav/stocksnav/internal/storage"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.New(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	var mail service.Mailer
	if cfg.MailGatewayAddress != "" {
		mail = mailer.New(cfg.MailGatewayAddress, cfg.MailFrom)
	}

	var store service.ObjectStore
	if cfg.S3Bucket != "" {
		s3store, err := storage.New(context.Background(), cfg.S3Region, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket)
		if err != nil {
			sugar.Fatalw("object storage initialization error", "error", err.Error())
		}
		store = s3store
	}

	svc := service.New(repo, mail, store, logger, cfg.FrontendURL)
	defer svc.Close()

	authMiddleware := middleware.NewAuthMiddleware(cfg.JWTSecret)
	h := handler.NewHandler(svc, logger, authMiddleware, cfg.TokenTTL, cfg.AdminTokenTTL)

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: h.SetupRouter(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sugar.Infow("starting stocksnav server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown on signal or an error in another goroutine.
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
