package attendance

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"presence/internal/metrics"
)

// Lifecycle drives sessions through pending → active → completed.
type Lifecycle struct {
	store     Store
	dir       Directory
	authority *Authority
	now       func() time.Time
}

// NewLifecycle wires the state machine to its store, directory and token authority.
func NewLifecycle(store Store, dir Directory, authority *Authority, opts ...Option) *Lifecycle {
	o := buildOptions(opts)
	return &Lifecycle{store: store, dir: dir, authority: authority, now: o.now}
}

// Create plans a pending session for a subject.
func (l *Lifecycle) Create(ctx context.Context, ns NewSession) (Session, error) {
	if !ns.Kind.Valid() {
		return Session{}, ErrInvalidKind
	}
	subj, err := l.dir.Subject(ctx, ns.SubjectID)
	if err != nil {
		return Session{}, err
	}
	s := Session{
		ID:           uuid.NewString(),
		SubjectID:    subj.ID,
		TrackID:      subj.TrackID,
		InstructorID: ns.InstructorID,
		Kind:         ns.Kind,
		Title:        ns.Title,
		Status:       StatusPending,
		ScheduledAt:  ns.ScheduledAt,
		CreatedAt:    l.now(),
	}
	if err := l.store.InTx(ctx, func(tx Tx) error {
		return tx.CreateSession(ctx, s)
	}); err != nil {
		return Session{}, err
	}
	return s, nil
}

// Get returns a session by id.
func (l *Lifecycle) Get(ctx context.Context, id string) (Session, error) {
	var s Session
	err := l.store.InTx(ctx, func(tx Tx) error {
		var err error
		s, err = loadSession(ctx, tx, id, NoLock)
		return err
	})
	return s, err
}

// Roster returns a session together with its attendance records.
func (l *Lifecycle) Roster(ctx context.Context, id string) (Session, []Record, error) {
	var (
		s    Session
		recs []Record
	)
	err := l.store.InTx(ctx, func(tx Tx) error {
		var err error
		if s, err = loadSession(ctx, tx, id, NoLock); err != nil {
			return err
		}
		recs, err = tx.Records(ctx, id)
		return err
	})
	return s, recs, err
}

// Start activates a pending session. The status change, one absent record per
// currently enrolled student and the first token commit together.
func (l *Lifecycle) Start(ctx context.Context, sessionID, instructorID string) (Session, Token, error) {
	var (
		s   Session
		tok Token
	)
	err := l.store.InTx(ctx, func(tx Tx) error {
		var err error
		s, err = loadSession(ctx, tx, sessionID, UpdateLock)
		if err != nil {
			return err
		}
		if err := checkOwner(s, instructorID); err != nil {
			return err
		}
		if s.Status != StatusPending {
			return ErrInvalidTransition
		}
		students, err := tx.TrackStudents(ctx, s.TrackID)
		if err != nil {
			return err
		}

		now := l.now()
		s.Status = StatusActive
		s.StartedAt = &now
		if err := tx.UpdateSession(ctx, s); err != nil {
			return err
		}

		recs := make([]Record, 0, len(students))
		for _, studentID := range students {
			recs = append(recs, Record{
				ID:        uuid.NewString(),
				SessionID: s.ID,
				StudentID: studentID,
				Status:    Absent,
				CreatedAt: now,
			})
		}
		if err := tx.InsertRecords(ctx, recs); err != nil {
			return err
		}

		tok, err = l.authority.issue(ctx, tx, s)
		return err
	})
	if err != nil {
		return Session{}, Token{}, err
	}
	metrics.Transitions.WithLabelValues(string(StatusActive)).Inc()
	metrics.TokensIssued.Inc()
	logrus.WithFields(logrus.Fields{
		"session_id":    s.ID,
		"instructor_id": s.InstructorID,
		"kind":          s.Kind,
	}).Info("session started")
	return s, tok, nil
}

// End completes an active session. Tokens already handed out expire on their
// own; the authority stops issuing because it re-reads the status.
func (l *Lifecycle) End(ctx context.Context, sessionID, instructorID string) (Session, error) {
	var s Session
	err := l.store.InTx(ctx, func(tx Tx) error {
		var err error
		s, err = loadSession(ctx, tx, sessionID, UpdateLock)
		if err != nil {
			return err
		}
		if err := checkOwner(s, instructorID); err != nil {
			return err
		}
		s, err = l.complete(ctx, tx, s)
		return err
	})
	if err != nil {
		return Session{}, err
	}
	metrics.Transitions.WithLabelValues(string(StatusCompleted)).Inc()
	logrus.WithField("session_id", s.ID).Info("session ended")
	return s, nil
}

// EndAllFor force-ends every active session of an instructor, as happens when
// the instructor signs out.
func (l *Lifecycle) EndAllFor(ctx context.Context, instructorID string) ([]Session, error) {
	var ended []Session
	err := l.store.InTx(ctx, func(tx Tx) error {
		active, err := tx.ActiveSessionsByInstructor(ctx, instructorID)
		if err != nil {
			return err
		}
		ended = make([]Session, 0, len(active))
		for _, s := range active {
			s, err = l.complete(ctx, tx, s)
			if err != nil {
				return err
			}
			ended = append(ended, s)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(ended) > 0 {
		metrics.Transitions.WithLabelValues(string(StatusCompleted)).Add(float64(len(ended)))
		logrus.WithFields(logrus.Fields{
			"instructor_id": instructorID,
			"sessions":      len(ended),
		}).Info("closed active sessions on sign out")
	}
	return ended, nil
}

func (l *Lifecycle) complete(ctx context.Context, tx Tx, s Session) (Session, error) {
	if s.Status != StatusActive {
		return Session{}, ErrInvalidTransition
	}
	now := l.now()
	if s.StartedAt != nil && now.Before(*s.StartedAt) {
		now = *s.StartedAt
	}
	s.Status = StatusCompleted
	s.EndedAt = &now
	if err := tx.UpdateSession(ctx, s); err != nil {
		return Session{}, err
	}
	return s, nil
}

// checkOwner lets system callers through with an empty instructor id.
func checkOwner(s Session, instructorID string) error {
	if instructorID != "" && s.InstructorID != instructorID {
		return ErrNotOwner
	}
	return nil
}
