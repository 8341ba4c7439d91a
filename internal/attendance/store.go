package attendance

import (
	"context"
	"time"
)

// Lock selects the row lock taken when reading inside a transaction.
type Lock int

const (
	NoLock Lock = iota
	// ShareLock blocks concurrent transitions of the row but not other readers.
	ShareLock
	// UpdateLock gives the transaction exclusive ownership of the row.
	UpdateLock
)

// Store runs units of work against the ledger. Every multi-row effect of the
// engine happens inside a single InTx call; if fn returns an error nothing it
// wrote is committed.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of ledger operations available inside a transaction.
type Tx interface {
	CreateSession(ctx context.Context, s Session) error
	Session(ctx context.Context, id string, lock Lock) (Session, error)
	UpdateSession(ctx context.Context, s Session) error
	ActiveSessionsByInstructor(ctx context.Context, instructorID string) ([]Session, error)

	InsertRecords(ctx context.Context, recs []Record) error
	Record(ctx context.Context, sessionID, studentID string, lock Lock) (Record, error)
	UpdateRecord(ctx context.Context, r Record) error
	Records(ctx context.Context, sessionID string) ([]Record, error)

	InsertToken(ctx context.Context, t Token) error
	LatestToken(ctx context.Context, sessionID string) (Token, error)
	FindToken(ctx context.Context, sessionID, value string) (Token, error)
	DeleteTokensExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// TrackStudents and Enrolled read the enrollment on the transaction's own
	// connection; Start snapshots the roster and Verify checks membership
	// without taking a second connection while holding the first.
	TrackStudents(ctx context.Context, trackID string) ([]string, error)
	Enrolled(ctx context.Context, trackID, studentID string) (bool, error)

	// SubjectHistory lists every completed session of the subject with the
	// student's record status, oldest first.
	SubjectHistory(ctx context.Context, subjectID, studentID string) ([]HistoryEntry, error)
}

// Directory is the academic catalogue maintained outside this service.
type Directory interface {
	StudentsEnrolledInTrack(ctx context.Context, trackID string) ([]string, error)
	IsEnrolled(ctx context.Context, trackID, studentID string) (bool, error)
	Subject(ctx context.Context, subjectID string) (Subject, error)
	Student(ctx context.Context, studentID string) (Student, error)
}
