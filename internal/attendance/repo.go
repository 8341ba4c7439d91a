package attendance

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// insertChunk bounds the rows of one bulk insert statement.
const insertChunk = 1000

// Repository persists the ledger in Postgres. It implements Store and
// Directory.
type Repository struct {
	db *sqlx.DB
}

// NewRepository creates a repo.
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// InTx runs fn inside a read-committed transaction. Row locks taken through
// Lock arguments provide the isolation the engine relies on.
func (r *Repository) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "commit transaction")
}

// StudentsEnrolledInTrack lists the students of a track.
func (r *Repository) StudentsEnrolledInTrack(ctx context.Context, trackID string) ([]string, error) {
	return trackStudents(ctx, r.db, trackID)
}

// IsEnrolled reports whether a student belongs to a track.
func (r *Repository) IsEnrolled(ctx context.Context, trackID, studentID string) (bool, error) {
	return enrolled(ctx, r.db, trackID, studentID)
}

func trackStudents(ctx context.Context, q sqlx.QueryerContext, trackID string) ([]string, error) {
	var ids []string
	err := sqlx.SelectContext(ctx, q, &ids, `
		SELECT student_id FROM track_students
		WHERE track_id = $1
		ORDER BY student_id
	`, trackID)
	return ids, errors.Wrap(err, "list track students")
}

func enrolled(ctx context.Context, q sqlx.QueryerContext, trackID, studentID string) (bool, error) {
	var ok bool
	err := sqlx.GetContext(ctx, q, &ok, `
		SELECT EXISTS (SELECT 1 FROM track_students WHERE track_id = $1 AND student_id = $2)
	`, trackID, studentID)
	return ok, errors.Wrap(err, "check enrollment")
}

// Subject returns a subject by id.
func (r *Repository) Subject(ctx context.Context, subjectID string) (Subject, error) {
	var s Subject
	err := r.db.GetContext(ctx, &s, `SELECT id, track_id, name, code FROM subjects WHERE id = $1`, subjectID)
	if errors.Is(err, sql.ErrNoRows) {
		return Subject{}, ErrNotFound
	}
	return s, errors.Wrap(err, "get subject")
}

// Student returns a student's contact card.
func (r *Repository) Student(ctx context.Context, studentID string) (Student, error) {
	var s Student
	err := r.db.GetContext(ctx, &s, `SELECT id, name, email FROM users WHERE id = $1`, studentID)
	if errors.Is(err, sql.ErrNoRows) {
		return Student{}, ErrNotFound
	}
	return s, errors.Wrap(err, "get student")
}

// Unenroll removes a student from a track together with their records for
// the track's sessions.
func (r *Repository) Unenroll(ctx context.Context, trackID, studentID string) error {
	return r.InTx(ctx, func(t Tx) error {
		tx := t.(*pgTx).tx
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM attendance_records
			WHERE student_id = $2
			  AND session_id IN (SELECT id FROM sessions WHERE track_id = $1)
		`, trackID, studentID); err != nil {
			return errors.Wrap(err, "delete track records")
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM track_students WHERE track_id = $1 AND student_id = $2`, trackID, studentID)
		return errors.Wrap(err, "delete enrollment")
	})
}

type pgTx struct {
	tx *sqlx.Tx
}

func lockClause(l Lock) string {
	switch l {
	case ShareLock:
		return " FOR SHARE"
	case UpdateLock:
		return " FOR UPDATE"
	}
	return ""
}

const sessionColumns = `id, subject_id, track_id, instructor_id, kind, title, status, scheduled_at, started_at, ended_at, created_at`

func (t *pgTx) CreateSession(ctx context.Context, s Session) error {
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES (:id, :subject_id, :track_id, :instructor_id, :kind, :title, :status, :scheduled_at, :started_at, :ended_at, :created_at)
	`, s)
	return errors.Wrap(err, "insert session")
}

func (t *pgTx) Session(ctx context.Context, id string, lock Lock) (Session, error) {
	var s Session
	err := t.tx.GetContext(ctx, &s, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`+lockClause(lock), id)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	return s, errors.Wrap(err, "get session")
}

func (t *pgTx) UpdateSession(ctx context.Context, s Session) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE sessions SET status = $2, started_at = $3, ended_at = $4
		WHERE id = $1
	`, s.ID, s.Status, s.StartedAt, s.EndedAt)
	if err != nil {
		return errors.Wrap(err, "update session")
	}
	return expectRow(res, "update session")
}

// ActiveSessionsByInstructor locks the returned rows for update.
func (t *pgTx) ActiveSessionsByInstructor(ctx context.Context, instructorID string) ([]Session, error) {
	var out []Session
	err := t.tx.SelectContext(ctx, &out, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE instructor_id = $1 AND status = 'active'
		ORDER BY started_at
		FOR UPDATE
	`, instructorID)
	return out, errors.Wrap(err, "list active sessions")
}

func (t *pgTx) InsertRecords(ctx context.Context, recs []Record) error {
	for start := 0; start < len(recs); start += insertChunk {
		end := start + insertChunk
		if end > len(recs) {
			end = len(recs)
		}
		if _, err := t.tx.NamedExecContext(ctx, `
			INSERT INTO attendance_records (id, session_id, student_id, status, scanned_at, created_at)
			VALUES (:id, :session_id, :student_id, :status, :scanned_at, :created_at)
		`, recs[start:end]); err != nil {
			return errors.Wrap(err, "insert attendance records")
		}
	}
	return nil
}

const recordColumns = `id, session_id, student_id, status, scanned_at, created_at`

func (t *pgTx) Record(ctx context.Context, sessionID, studentID string, lock Lock) (Record, error) {
	var rec Record
	err := t.tx.GetContext(ctx, &rec, `
		SELECT `+recordColumns+` FROM attendance_records
		WHERE session_id = $1 AND student_id = $2`+lockClause(lock), sessionID, studentID)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, errors.Wrap(err, "get attendance record")
}

func (t *pgTx) UpdateRecord(ctx context.Context, rec Record) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE attendance_records SET status = $2, scanned_at = $3
		WHERE id = $1
	`, rec.ID, rec.Status, rec.ScannedAt)
	if err != nil {
		return errors.Wrap(err, "update attendance record")
	}
	return expectRow(res, "update attendance record")
}

func (t *pgTx) Records(ctx context.Context, sessionID string) ([]Record, error) {
	var out []Record
	err := t.tx.SelectContext(ctx, &out, `
		SELECT `+recordColumns+` FROM attendance_records
		WHERE session_id = $1
		ORDER BY student_id
	`, sessionID)
	return out, errors.Wrap(err, "list attendance records")
}

func (t *pgTx) InsertToken(ctx context.Context, tok Token) error {
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO attendance_tokens (id, session_id, value, created_at, expires_at)
		VALUES (:id, :session_id, :value, :created_at, :expires_at)
	`, tok)
	return errors.Wrap(err, "insert token")
}

func (t *pgTx) LatestToken(ctx context.Context, sessionID string) (Token, error) {
	var tok Token
	err := t.tx.GetContext(ctx, &tok, `
		SELECT id, session_id, value, created_at, expires_at FROM attendance_tokens
		WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return Token{}, ErrNotFound
	}
	return tok, errors.Wrap(err, "get latest token")
}

func (t *pgTx) FindToken(ctx context.Context, sessionID, value string) (Token, error) {
	var tok Token
	err := t.tx.GetContext(ctx, &tok, `
		SELECT id, session_id, value, created_at, expires_at FROM attendance_tokens
		WHERE session_id = $1 AND value = $2
	`, sessionID, value)
	if errors.Is(err, sql.ErrNoRows) {
		return Token{}, ErrNotFound
	}
	return tok, errors.Wrap(err, "find token")
}

func (t *pgTx) DeleteTokensExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM attendance_tokens WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "purge tokens")
	}
	return res.RowsAffected()
}

func (t *pgTx) TrackStudents(ctx context.Context, trackID string) ([]string, error) {
	return trackStudents(ctx, t.tx, trackID)
}

func (t *pgTx) Enrolled(ctx context.Context, trackID, studentID string) (bool, error) {
	return enrolled(ctx, t.tx, trackID, studentID)
}

func (t *pgTx) SubjectHistory(ctx context.Context, subjectID, studentID string) ([]HistoryEntry, error) {
	var out []HistoryEntry
	err := t.tx.SelectContext(ctx, &out, `
		SELECT s.id AS session_id, s.kind, COALESCE(r.status, '') AS status
		FROM sessions s
		LEFT JOIN attendance_records r ON r.session_id = s.id AND r.student_id = $2
		WHERE s.subject_id = $1 AND s.status = 'completed'
		ORDER BY s.started_at
	`, subjectID, studentID)
	return out, errors.Wrap(err, "subject history")
}

func expectRow(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, op)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
