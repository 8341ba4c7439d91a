package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"presence/internal/bootstrap"
	"presence/internal/config"
	"presence/internal/logger"
	"presence/internal/tasks"
)

const appName = "presence"

// Worker consumes session.ended messages: it purges expired tokens and mails
// remedial notices. It also purges tokens on a timer so idle periods do not
// leave them behind.
func main() {
	cfg := config.Load()
	flush := logger.Init(cfg, appName+"-worker")
	defer flush()

	if err := cfg.Validate(); err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	if cfg.QueueBackend == "memory" {
		logrus.Fatal("QUEUE_BACKEND=memory is served in-process by the api; the worker needs redis or amqp")
	}

	if err := run(cfg); err != nil {
		logrus.WithError(err).Error("worker failed")
		flush()
		os.Exit(1)
	}
}

func run(cfg config.App) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backends, err := bootstrap.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer backends.Close()

	mailer, err := bootstrap.Mailer(cfg, appName)
	if err != nil {
		return err
	}
	engine := bootstrap.NewEngine(cfg, backends.Store, backends.Directory)
	proc := tasks.NewProcessor(engine.Authority, engine.Standing, backends.Directory, mailer, cfg.TokenRetention)

	go purgeLoop(ctx, proc, cfg.TokenRetention)
	return proc.Run(ctx, backends.Queue)
}

func purgeLoop(ctx context.Context, proc *tasks.Processor, every time.Duration) {
	if every <= 0 {
		every = 5 * time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			proc.PurgeTokens(ctx)
		}
	}
}
