// Package tasks holds the background work dispatched through the queue.
package tasks

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"presence/internal/attendance"
	"presence/internal/metrics"
	"presence/internal/notify"
	"presence/internal/queue"
	"presence/internal/standing"
)

// TypeSessionEnded is published whenever a session completes.
const TypeSessionEnded = "session.ended"

// SessionEnded is the payload of TypeSessionEnded.
type SessionEnded struct {
	SessionID string    `json:"session_id"`
	SubjectID string    `json:"subject_id"`
	EndedAt   time.Time `json:"ended_at"`
}

// PublishSessionEnded enqueues follow-up work for completed sessions.
func PublishSessionEnded(ctx context.Context, q queue.Queue, sessions ...attendance.Session) error {
	for _, s := range sessions {
		payload := SessionEnded{SessionID: s.ID, SubjectID: s.SubjectID}
		if s.EndedAt != nil {
			payload.EndedAt = *s.EndedAt
		}
		msg, err := queue.NewMessage(TypeSessionEnded, payload)
		if err != nil {
			return err
		}
		if err := q.Publish(ctx, msg); err != nil {
			return errors.Wrapf(err, "publish %s for %s", TypeSessionEnded, s.ID)
		}
	}
	return nil
}

// Processor handles queue messages for the worker.
type Processor struct {
	authority *attendance.Authority
	standing  *standing.Service
	dir       attendance.Directory
	mailer    notify.Mailer
	retention time.Duration
	now       func() time.Time
}

// NewProcessor wires a processor. Tokens are purged once they have been
// expired for longer than retention.
func NewProcessor(authority *attendance.Authority, st *standing.Service, dir attendance.Directory, mailer notify.Mailer, retention time.Duration) *Processor {
	return &Processor{
		authority: authority,
		standing:  st,
		dir:       dir,
		mailer:    mailer,
		retention: retention,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run consumes q until ctx is cancelled. Failed messages are logged and dropped.
func (p *Processor) Run(ctx context.Context, q queue.Queue) error {
	messages, err := q.Consume(ctx)
	if err != nil {
		return errors.Wrap(err, "consume")
	}
	logrus.Info("worker started, waiting for messages")
	for msg := range messages {
		if err := p.Handle(ctx, msg); err != nil {
			logrus.WithError(err).WithField("type", msg.Type).Error("task failed")
		}
	}
	logrus.Info("worker stopped")
	return nil
}

// Handle dispatches one message by type.
func (p *Processor) Handle(ctx context.Context, msg queue.Message) error {
	var err error
	switch msg.Type {
	case TypeSessionEnded:
		var payload SessionEnded
		if err = msg.Decode(&payload); err == nil {
			err = p.sessionEnded(ctx, payload)
		}
	default:
		logrus.WithField("type", msg.Type).Warn("ignoring unknown task type")
		metrics.TasksProcessed.WithLabelValues(msg.Type, "ignored").Inc()
		return nil
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.TasksProcessed.WithLabelValues(msg.Type, result).Inc()
	return err
}

// PurgeTokens drops tokens that expired more than the retention window ago.
// Failures are only logged.
func (p *Processor) PurgeTokens(ctx context.Context) {
	n, err := p.authority.Purge(ctx, p.now().Add(-p.retention))
	if err != nil {
		logrus.WithError(err).Warn("token purge failed")
		return
	}
	if n > 0 {
		logrus.WithField("deleted", n).Debug("expired tokens purged")
	}
}

func (p *Processor) sessionEnded(ctx context.Context, ev SessionEnded) error {
	p.PurgeTokens(ctx)

	flagged, err := p.standing.NewlyRemedial(ctx, ev.SubjectID, ev.SessionID)
	if err != nil {
		return errors.Wrapf(err, "standings after session %s", ev.SessionID)
	}
	if len(flagged) == 0 {
		return nil
	}
	subj, err := p.dir.Subject(ctx, ev.SubjectID)
	if err != nil {
		return errors.Wrapf(err, "subject %s", ev.SubjectID)
	}

	sent := 0
	for _, snap := range flagged {
		entry := logrus.WithFields(logrus.Fields{
			"student_id": snap.StudentID,
			"subject_id": snap.SubjectID,
		})
		if err := p.notify(ctx, subj, snap); err != nil {
			entry.WithError(err).Warn("remedial notice not sent")
			continue
		}
		sent++
	}
	logrus.WithFields(logrus.Fields{
		"session_id": ev.SessionID,
		"flagged":    len(flagged),
		"notified":   sent,
	}).Info("remedial notices processed")
	return nil
}

func (p *Processor) notify(ctx context.Context, subj attendance.Subject, snap standing.Snapshot) error {
	st, err := p.dir.Student(ctx, snap.StudentID)
	if err != nil {
		return err
	}
	if st.Email == "" {
		return errors.New("student has no e-mail address")
	}
	msg, err := notify.RemedialNotice(st, subj, snap, p.standing.Thresholds())
	if err != nil {
		return err
	}
	return p.mailer.Send(ctx, msg)
}
