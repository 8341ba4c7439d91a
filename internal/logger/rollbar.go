package logger

import (
	"github.com/rollbar/rollbar-go"
	"github.com/sirupsen/logrus"
)

// Reporter delivers one item to an error tracker. err is nil for plain messages.
type Reporter func(level string, err error, msg string, extras map[string]interface{})

func rollbarReporter(level string, err error, msg string, extras map[string]interface{}) {
	if err != nil {
		extras["message"] = msg
		rollbar.ErrorWithExtras(level, err, extras)
		return
	}
	rollbar.MessageWithExtras(level, msg, extras)
}

// RollbarHook is a logrus hook for error level entries and above.
type RollbarHook struct {
	report Reporter
}

// NewRollbarHook creates a hook. A nil reporter sends to the global Rollbar client.
func NewRollbarHook(report Reporter) *RollbarHook {
	if report == nil {
		report = rollbarReporter
	}
	return &RollbarHook{report: report}
}

func (h *RollbarHook) Levels() []logrus.Level {
	return []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel}
}

func (h *RollbarHook) Fire(e *logrus.Entry) error {
	extras := make(map[string]interface{}, len(e.Data))
	var err error
	for k, v := range e.Data {
		if k == logrus.ErrorKey {
			if asErr, ok := v.(error); ok {
				err = asErr
				continue
			}
		}
		extras[k] = v
	}
	level := rollbar.ERR
	if e.Level <= logrus.FatalLevel {
		level = rollbar.CRIT
	}
	h.report(level, err, e.Message, extras)
	return nil
}
