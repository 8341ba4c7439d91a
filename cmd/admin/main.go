package main

import (
	"context"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"presence/internal/attendance"
	"presence/internal/config"
	"presence/internal/logger"
	"presence/internal/store"
)

func main() {
	cfg := config.Load()
	flush := logger.Init(cfg, "presence-admin")

	db, err := store.NewDB(context.Background(), cfg.DatabaseURL)
	errAndDie(err)
	defer db.Close()

	repo := attendance.NewRepository(db.Client)
	cli := commandLine{
		cfg:       cfg,
		out:       os.Stdout,
		migrate:   db.Migrate,
		directory: repo,
		authority: attendance.NewAuthority(repo, cfg.RotationInterval, cfg.GracePeriod),
		now:       func() time.Time { return time.Now().UTC() },
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logrus.WithError(err).Error("command failed")
		}
		flush()
		os.Exit(1)
	}
	flush()
}

func errAndDie(err error) {
	if err != nil {
		logrus.Fatal(err)
	}
}
