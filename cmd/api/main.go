package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"presence/internal/api"
	"presence/internal/bootstrap"
	"presence/internal/config"
	"presence/internal/logger"
	"presence/internal/tasks"
)

const appName = "presence"

func main() {
	cfg := config.Load()
	flush := logger.Init(cfg, appName+"-api")
	defer flush()

	if err := cfg.Validate(); err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		logrus.WithError(err).Error("http server failed")
		flush()
		os.Exit(1)
	}
}

func runHTTP(cfg config.App) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backends, err := bootstrap.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer backends.Close()

	engine := bootstrap.NewEngine(cfg, backends.Store, backends.Directory)

	// With the in-process queue no separate worker can see the messages, so
	// the API drains them itself.
	if cfg.QueueBackend == "memory" {
		mailer, err := bootstrap.Mailer(cfg, appName)
		if err != nil {
			return err
		}
		proc := tasks.NewProcessor(engine.Authority, engine.Standing, backends.Directory, mailer, cfg.TokenRetention)
		go func() {
			if err := proc.Run(ctx, backends.Queue); err != nil {
				logrus.WithError(err).Error("in-process worker stopped")
			}
		}()
	}

	health := map[string]api.HealthCheck{}
	if backends.DB != nil {
		health["db"] = backends.DB.Healthy
	}
	if backends.Redis != nil {
		health["redis"] = backends.Redis.Healthy
	}

	r := api.NewRouter(api.Deps{
		Lifecycle:     engine.Lifecycle,
		Authority:     engine.Authority,
		Verifier:      engine.Verifier,
		Standing:      engine.Standing,
		Queue:         backends.Queue,
		Revoker:       backends.Revoker(),
		Limiter:       backends.Limiter(cfg),
		JWTIssuer:     cfg.JWTIssuer,
		JWTSigningKey: cfg.JWTSigningKey,
		AccessTTL:     cfg.AccessTTL,
		RefreshTTL:    cfg.RefreshTTL,
		CORSOrigins:   cfg.CORSOrigins,
		Health:        health,
	})

	// WriteTimeout stays zero: the token stream holds its connection open and
	// bounds each write itself.
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           r,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logrus.WithField("port", cfg.HTTPPort).Info("starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logrus.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("server forced shutdown")
	}
	logrus.Info("server exited")
	return nil
}
