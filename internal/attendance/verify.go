package attendance

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"presence/internal/metrics"
)

// Result classifies a successful scan.
type Result string

const (
	ResultPresent         Result = "present"
	ResultLate            Result = "late"
	ResultAlreadyRecorded Result = "already_recorded"
)

// Scan is a decoded scan submission from a student's device.
type Scan struct {
	StudentID  string
	SessionID  string
	Token      string
	ClientTime time.Time
}

// Outcome is what a successful verification reports back to the student.
type Outcome struct {
	Result     Result       `json:"result"`
	Status     RecordStatus `json:"status"`
	ScannedAt  *time.Time   `json:"scanned_at,omitempty"`
	ClientTime time.Time    `json:"client_time"`
	Session    Session      `json:"session"`
	Subject    Subject      `json:"subject"`
}

// Verifier checks scans against the token authority and the ledger.
type Verifier struct {
	store         Store
	dir           Directory
	authority     *Authority
	lateThreshold time.Duration
	now           func() time.Time
}

// NewVerifier creates a verifier. A zero late threshold uses the default.
func NewVerifier(store Store, dir Directory, authority *Authority, lateThreshold time.Duration, opts ...Option) *Verifier {
	if lateThreshold <= 0 {
		lateThreshold = DefaultLateThreshold
	}
	o := buildOptions(opts)
	return &Verifier{
		store:         store,
		dir:           dir,
		authority:     authority,
		lateThreshold: lateThreshold,
		now:           o.now,
	}
}

// Verify validates a scan and records attendance. A repeated scan of an
// already recorded student succeeds with ResultAlreadyRecorded and writes
// nothing. Server time decides token validity and lateness.
func (v *Verifier) Verify(ctx context.Context, scan Scan) (Outcome, error) {
	out := Outcome{ClientTime: scan.ClientTime}
	err := v.store.InTx(ctx, func(tx Tx) error {
		s, err := tx.Session(ctx, scan.SessionID, ShareLock)
		if errors.Is(err, ErrNotFound) {
			return ErrSessionNotActive
		}
		if err != nil {
			return err
		}
		if s.Status != StatusActive {
			return ErrSessionNotActive
		}
		out.Session = s

		enrolled, err := tx.Enrolled(ctx, s.TrackID, scan.StudentID)
		if err != nil {
			return err
		}
		if !enrolled {
			return ErrNotEnrolled
		}

		now := v.now()
		ok, err := v.authority.validIn(ctx, tx, s.ID, scan.Token, now)
		if err != nil {
			return err
		}
		if !ok {
			return ErrTokenInvalid
		}

		rec, err := tx.Record(ctx, s.ID, scan.StudentID, UpdateLock)
		if errors.Is(err, ErrNotFound) {
			return ErrRecordMissing
		}
		if err != nil {
			return err
		}
		if rec.Status.Recorded() {
			out.Result = ResultAlreadyRecorded
			out.Status = rec.Status
			out.ScannedAt = rec.ScannedAt
			return nil
		}

		rec.Status = v.classify(s, now)
		rec.ScannedAt = &now
		if err := tx.UpdateRecord(ctx, rec); err != nil {
			return err
		}
		out.Result = Result(rec.Status)
		out.Status = rec.Status
		out.ScannedAt = rec.ScannedAt
		return nil
	})
	if err != nil {
		v.report(scan, err)
		return Outcome{}, err
	}

	// The subject name is display only; a catalogue hiccup must not undo
	// an attendance that is already committed.
	if subj, err := v.dir.Subject(ctx, out.Session.SubjectID); err == nil {
		out.Subject = subj
	} else {
		logrus.WithError(err).WithField("subject_id", out.Session.SubjectID).Warn("subject lookup failed after scan")
	}

	metrics.Scans.WithLabelValues(string(out.Result)).Inc()
	fields := logrus.Fields{
		"session_id": scan.SessionID,
		"student_id": scan.StudentID,
		"result":     out.Result,
	}
	if !scan.ClientTime.IsZero() && out.ScannedAt != nil {
		fields["client_skew"] = out.ScannedAt.Sub(scan.ClientTime).String()
	}
	logrus.WithFields(fields).Debug("scan verified")
	return out, nil
}

func (v *Verifier) classify(s Session, now time.Time) RecordStatus {
	if s.StartedAt == nil {
		return Present
	}
	if now.Sub(*s.StartedAt) > v.lateThreshold {
		return Late
	}
	return Present
}

func (v *Verifier) report(scan Scan, err error) {
	entry := logrus.WithFields(logrus.Fields{
		"session_id": scan.SessionID,
		"student_id": scan.StudentID,
	})
	switch {
	case errors.Is(err, ErrRecordMissing):
		metrics.Scans.WithLabelValues("record_missing").Inc()
		metrics.IntegrityFaults.Inc()
		entry.WithError(err).Error("enrolled student has no attendance record")
	case errors.Is(err, ErrSessionNotActive):
		metrics.Scans.WithLabelValues("session_not_active").Inc()
		entry.Debug("scan rejected: session not active")
	case errors.Is(err, ErrNotEnrolled):
		metrics.Scans.WithLabelValues("not_enrolled").Inc()
		entry.Debug("scan rejected: not enrolled")
	case errors.Is(err, ErrTokenInvalid):
		metrics.Scans.WithLabelValues("token_invalid").Inc()
		entry.Debug("scan rejected: token expired or invalid")
	default:
		metrics.Scans.WithLabelValues("error").Inc()
		entry.WithError(err).Warn("scan verification failed")
	}
}
