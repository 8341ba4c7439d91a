package attendance

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"presence/internal/metrics"
)

// tokenBytes is the entropy of a token value (192 bits).
const tokenBytes = 24

// Authority issues rotating tokens for active sessions and is the only
// judge of their validity.
type Authority struct {
	store    Store
	rotation time.Duration
	grace    time.Duration
	now      func() time.Time
}

// NewAuthority creates an authority. Zero durations fall back to the defaults.
func NewAuthority(store Store, rotation, grace time.Duration, opts ...Option) *Authority {
	if rotation <= 0 {
		rotation = DefaultRotationInterval
	}
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	o := buildOptions(opts)
	return &Authority{store: store, rotation: rotation, grace: grace, now: o.now}
}

// RotationInterval is how often the presenting display should refresh.
func (a *Authority) RotationInterval() time.Duration { return a.rotation }

// Issue creates a new token for an active session.
func (a *Authority) Issue(ctx context.Context, sessionID string) (Token, error) {
	var tok Token
	err := a.store.InTx(ctx, func(tx Tx) error {
		s, err := loadSession(ctx, tx, sessionID, ShareLock)
		if err != nil {
			return err
		}
		tok, err = a.issue(ctx, tx, s)
		return err
	})
	if err != nil {
		return Token{}, err
	}
	metrics.TokensIssued.Inc()
	return tok, nil
}

// CurrentOrIssue returns the latest token while it is inside its rotation
// window, otherwise issues a fresh one. Tokens replaced this way remain valid
// until their own expiry.
func (a *Authority) CurrentOrIssue(ctx context.Context, sessionID string) (Token, error) {
	var (
		tok    Token
		issued bool
	)
	err := a.store.InTx(ctx, func(tx Tx) error {
		s, err := loadSession(ctx, tx, sessionID, ShareLock)
		if err != nil {
			return err
		}
		if s.Status != StatusActive {
			return ErrSessionNotActive
		}
		latest, err := tx.LatestToken(ctx, sessionID)
		switch {
		case err == nil && a.isCurrent(latest, a.now()):
			tok = latest
			return nil
		case err != nil && !errors.Is(err, ErrNotFound):
			return err
		}
		tok, err = a.issue(ctx, tx, s)
		issued = err == nil
		return err
	})
	if err != nil {
		return Token{}, err
	}
	if issued {
		metrics.TokensIssued.Inc()
	}
	return tok, nil
}

// IsValid reports whether value is an unexpired token of the session at now.
func (a *Authority) IsValid(ctx context.Context, sessionID, value string, now time.Time) (bool, error) {
	var ok bool
	err := a.store.InTx(ctx, func(tx Tx) error {
		var err error
		ok, err = a.validIn(ctx, tx, sessionID, value, now)
		return err
	})
	return ok, err
}

// Purge deletes tokens that expired before cutoff. It is advisory cleanup.
func (a *Authority) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := a.store.InTx(ctx, func(tx Tx) error {
		var err error
		n, err = tx.DeleteTokensExpiredBefore(ctx, cutoff)
		return err
	})
	return n, err
}

func (a *Authority) isCurrent(t Token, now time.Time) bool {
	return t.ValidAt(now) && now.Before(t.CreatedAt.Add(a.rotation))
}

func (a *Authority) validIn(ctx context.Context, tx Tx, sessionID, value string, now time.Time) (bool, error) {
	if value == "" {
		return false, nil
	}
	t, err := tx.FindToken(ctx, sessionID, value)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return t.ValidAt(now), nil
}

// issue inserts a token inside the caller's transaction. The caller must hold
// at least a share lock on s.
func (a *Authority) issue(ctx context.Context, tx Tx, s Session) (Token, error) {
	if s.Status != StatusActive {
		return Token{}, ErrSessionNotActive
	}
	value, err := newTokenValue()
	if err != nil {
		return Token{}, err
	}
	now := a.now()
	t := Token{
		ID:        uuid.NewString(),
		SessionID: s.ID,
		Value:     value,
		CreatedAt: now,
		ExpiresAt: now.Add(a.rotation + a.grace),
	}
	if err := tx.InsertToken(ctx, t); err != nil {
		return Token{}, err
	}
	logrus.WithFields(logrus.Fields{
		"session_id": s.ID,
		"token_id":   t.ID,
		"expires_at": t.ExpiresAt,
	}).Debug("token issued")
	return t, nil
}

func newTokenValue() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", pkgerrors.Wrap(err, "reading token entropy")
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
