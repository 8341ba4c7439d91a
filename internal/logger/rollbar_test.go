package logger

import (
	"errors"
	"io"
	"testing"

	"github.com/rollbar/rollbar-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reported struct {
	level  string
	err    error
	msg    string
	extras map[string]interface{}
}

func TestRollbarHookForwardsErrors(t *testing.T) {
	var got []reported
	hook := NewRollbarHook(func(level string, err error, msg string, extras map[string]interface{}) {
		got = append(got, reported{level, err, msg, extras})
	})

	log := logrus.New()
	log.SetOutput(io.Discard)
	log.AddHook(hook)

	cause := errors.New("record missing")
	log.WithError(cause).WithField("session_id", "s1").Error("integrity fault")
	log.WithField("session_id", "s2").Warn("not forwarded")
	log.Info("not forwarded either")

	require.Len(t, got, 1)
	assert.Equal(t, rollbar.ERR, got[0].level)
	assert.Equal(t, cause, got[0].err)
	assert.Equal(t, "integrity fault", got[0].msg)
	assert.Equal(t, map[string]interface{}{"session_id": "s1"}, got[0].extras)
}

func TestRollbarHookMessageWithoutError(t *testing.T) {
	var got reported
	hook := NewRollbarHook(func(level string, err error, msg string, extras map[string]interface{}) {
		got = reported{level, err, msg, extras}
	})
	require.NoError(t, hook.Fire(&logrus.Entry{Level: logrus.FatalLevel, Message: "boom", Data: logrus.Fields{"error": "not an error value"}}))

	assert.Equal(t, rollbar.CRIT, got.level)
	assert.Nil(t, got.err)
	assert.Equal(t, "not an error value", got.extras["error"])
}
