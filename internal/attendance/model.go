package attendance

import "time"

// SessionStatus is the lifecycle state of a class session.
type SessionStatus string

const (
	StatusPending   SessionStatus = "pending"
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
)

// Kind is the declared type of a session.
type Kind string

const (
	KindLecture  Kind = "lecture"
	KindTutorial Kind = "tutorial"
	KindLab      Kind = "lab"
)

// Valid reports whether k is one of the known session kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindLecture, KindTutorial, KindLab:
		return true
	}
	return false
}

// RecordStatus is a student's attendance state for one session.
type RecordStatus string

const (
	Absent  RecordStatus = "absent"
	Present RecordStatus = "present"
	Late    RecordStatus = "late"
)

// Recorded reports whether a scan has already been accepted for the record.
func (s RecordStatus) Recorded() bool {
	return s == Present || s == Late
}

// Session is one scheduled meeting of a subject.
type Session struct {
	ID           string        `json:"id" db:"id"`
	SubjectID    string        `json:"subject_id" db:"subject_id"`
	TrackID      string        `json:"track_id" db:"track_id"`
	InstructorID string        `json:"instructor_id" db:"instructor_id"`
	Kind         Kind          `json:"kind" db:"kind"`
	Title        string        `json:"title" db:"title"`
	Status       SessionStatus `json:"status" db:"status"`
	ScheduledAt  *time.Time    `json:"scheduled_at,omitempty" db:"scheduled_at"`
	StartedAt    *time.Time    `json:"started_at,omitempty" db:"started_at"`
	EndedAt      *time.Time    `json:"ended_at,omitempty" db:"ended_at"`
	CreatedAt    time.Time     `json:"created_at" db:"created_at"`
}

// NewSession describes a session to plan.
type NewSession struct {
	SubjectID    string
	InstructorID string
	Kind         Kind
	Title        string
	ScheduledAt  *time.Time
}

// Token is a rotating credential scoped to a session.
type Token struct {
	ID        string    `json:"id" db:"id"`
	SessionID string    `json:"session_id" db:"session_id"`
	Value     string    `json:"value" db:"value"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
}

// ValidAt reports whether the token is still accepted at now.
func (t Token) ValidAt(now time.Time) bool {
	return now.Before(t.ExpiresAt)
}

// Record is the attendance of one student at one session.
type Record struct {
	ID        string       `json:"id" db:"id"`
	SessionID string       `json:"session_id" db:"session_id"`
	StudentID string       `json:"student_id" db:"student_id"`
	Status    RecordStatus `json:"status" db:"status"`
	ScannedAt *time.Time   `json:"scanned_at,omitempty" db:"scanned_at"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
}

// HistoryEntry is one completed session of a subject together with a
// student's record for it. Status is empty when the student has no record.
type HistoryEntry struct {
	SessionID string       `db:"session_id"`
	Kind      Kind         `db:"kind"`
	Status    RecordStatus `db:"status"`
}

// Subject is the slice of the academic catalogue the engine needs.
type Subject struct {
	ID      string `json:"id" db:"id"`
	TrackID string `json:"track_id" db:"track_id"`
	Name    string `json:"name" db:"name"`
	Code    string `json:"code" db:"code"`
}

// Student is the contact card of an enrolled student.
type Student struct {
	ID    string `json:"id" db:"id"`
	Name  string `json:"name" db:"name"`
	Email string `json:"email" db:"email"`
}
