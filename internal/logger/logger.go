// Package logger configures the process-wide logrus logger.
package logger

import (
	"os"

	"github.com/rollbar/rollbar-go"
	rollbarerrors "github.com/rollbar/rollbar-go/errors"
	"github.com/sirupsen/logrus"

	"presence/internal/config"
)

// Init sets level and format from cfg and, when a Rollbar token is configured,
// forwards error entries to Rollbar. The returned func flushes pending reports.
func Init(cfg config.App, service string) func() {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetOutput(os.Stdout)
	if cfg.LogJSON {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	if err != nil && cfg.LogLevel != "" {
		logrus.WithField("level", cfg.LogLevel).Warn("unknown log level, using info")
	}

	if cfg.RollbarToken == "" {
		return func() {}
	}
	rollbar.SetToken(cfg.RollbarToken)
	rollbar.SetEnvironment(cfg.Env)
	rollbar.SetServerHost(service)
	rollbar.SetStackTracer(rollbarerrors.StackTracer)
	logrus.AddHook(NewRollbarHook(nil))
	return rollbar.Wait
}
