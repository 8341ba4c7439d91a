package attendance

import (
	"context"
	"errors"
	"time"
)

// Defaults used when a component is built with zero durations.
const (
	DefaultRotationInterval = 15 * time.Second
	DefaultGracePeriod      = 5 * time.Second
	DefaultLateThreshold    = 20 * time.Minute
)

// Option customises an engine component.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces the wall clock. Tests use it to pin server time.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// loadSession reads a session and maps a missing row to ErrSessionNotFound.
func loadSession(ctx context.Context, tx Tx, id string, lock Lock) (Session, error) {
	s, err := tx.Session(ctx, id, lock)
	if errors.Is(err, ErrNotFound) {
		return Session{}, ErrSessionNotFound
	}
	return s, err
}
