// Package bootstrap builds the backends and engine components shared by the
// binaries from configuration.
package bootstrap

import (
	"context"
	"net/mail"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"presence/internal/attendance"
	"presence/internal/attendance/memstore"
	"presence/internal/auth"
	"presence/internal/config"
	"presence/internal/httpmiddleware"
	"presence/internal/notify"
	"presence/internal/queue"
	"presence/internal/standing"
	"presence/internal/store"
)

// Backends are the external resources a process holds.
type Backends struct {
	Store     attendance.Store
	Directory attendance.Directory
	DB        *store.DB
	Redis     *store.Redis
	Queue     queue.Queue

	closers []func() error
}

// Open connects every backend cfg selects. On error, whatever was already
// opened is closed.
func Open(ctx context.Context, cfg config.App) (*Backends, error) {
	b := &Backends{}
	if err := b.openStore(ctx, cfg); err != nil {
		b.Close()
		return nil, err
	}
	if cfg.QueueBackend == "redis" || cfg.RateLimitBackend == "redis" {
		r, err := store.NewRedis(ctx, store.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			logrus.WithError(err).Warn("redis not reachable yet")
		}
		b.Redis = r
		b.closers = append(b.closers, r.Close)
	}
	if err := b.openQueue(cfg); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

func (b *Backends) openStore(ctx context.Context, cfg config.App) error {
	if cfg.StoreBackend == "memory" {
		logrus.Warn("using the in-memory store; the directory is empty and nothing is persisted")
		mem := memstore.New()
		b.Store, b.Directory = mem, mem
		return nil
	}
	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		if db != nil {
			_ = db.Close()
		}
		return err
	}
	b.DB = db
	b.closers = append(b.closers, db.Close)
	if cfg.AutoMigrate {
		if err := db.Migrate(ctx); err != nil {
			return err
		}
		logrus.Info("database schema applied")
	}
	repo := attendance.NewRepository(db.Client)
	b.Store, b.Directory = repo, repo
	return nil
}

func (b *Backends) openQueue(cfg config.App) error {
	switch cfg.QueueBackend {
	case "memory":
		b.Queue = queue.NewInMemory(64)
	case "amqp":
		q, err := queue.NewAMQP(cfg.AMQPURL, cfg.QueueName)
		if err != nil {
			return err
		}
		b.Queue = q
		b.closers = append(b.closers, q.Close)
	default:
		b.Queue = queue.NewRedisQueue(b.Redis.Client, cfg.QueueName)
	}
	return nil
}

// Revoker keeps revoked bearer tokens in redis when it is configured, so every
// API replica sees them.
func (b *Backends) Revoker() auth.Revoker {
	if b.Redis != nil {
		return auth.NewRedisRevoker(b.Redis.Client)
	}
	return auth.NewMemoryRevoker()
}

// Limiter builds the request rate limiter.
func (b *Backends) Limiter(cfg config.App) httpmiddleware.Limiter {
	if cfg.RateLimitBackend == "redis" && b.Redis != nil {
		return httpmiddleware.NewRedisWindow(b.Redis.Client, cfg.RateLimitPerMin)
	}
	return httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
}

// Close releases backends in reverse order of opening.
func (b *Backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			logrus.WithError(err).Warn("closing backend")
		}
	}
	b.closers = nil
}

// Engine is the attendance engine wired over one store.
type Engine struct {
	Authority *attendance.Authority
	Lifecycle *attendance.Lifecycle
	Verifier  *attendance.Verifier
	Standing  *standing.Service
}

// NewEngine builds the engine with the timing and thresholds from cfg.
func NewEngine(cfg config.App, st attendance.Store, dir attendance.Directory) Engine {
	authority := attendance.NewAuthority(st, cfg.RotationInterval, cfg.GracePeriod)
	return Engine{
		Authority: authority,
		Lifecycle: attendance.NewLifecycle(st, dir, authority),
		Verifier:  attendance.NewVerifier(st, dir, authority, cfg.LateThreshold),
		Standing: standing.NewService(st, dir, standing.Thresholds{
			RemedialRate: cfg.RemedialRateThreshold,
			LabAbsences:  cfg.LabAbsenceThreshold,
		}),
	}
}

// Mailer returns the configured outgoing mail backend.
func Mailer(cfg config.App, appName string) (notify.Mailer, error) {
	if cfg.EmailBackend != "sendgrid" {
		return notify.NewConsole(), nil
	}
	from, err := mail.ParseAddress(cfg.MailFrom)
	if err != nil {
		return nil, errors.Wrapf(err, "MAIL_FROM %q", cfg.MailFrom)
	}
	return notify.NewSendgrid(cfg.SendgridAPIKey, *from, appName), nil
}
