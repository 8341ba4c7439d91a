// Package memstore is an in-memory ledger and directory for development and
// tests. Transactions are serialised and work on a copy of the data that
// replaces the live state only when fn succeeds.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"presence/internal/attendance"
)

var (
	errDuplicateKey = errors.New("duplicate key")
)

type recordKey struct {
	sessionID string
	studentID string
}

type state struct {
	sessions map[string]attendance.Session
	records  map[recordKey]attendance.Record
	tokens   []attendance.Token
}

func (s *state) clone() *state {
	c := &state{
		sessions: make(map[string]attendance.Session, len(s.sessions)),
		records:  make(map[recordKey]attendance.Record, len(s.records)),
		tokens:   make([]attendance.Token, len(s.tokens)),
	}
	for k, v := range s.sessions {
		c.sessions[k] = v
	}
	for k, v := range s.records {
		c.records[k] = v
	}
	copy(c.tokens, s.tokens)
	return c
}

// Store implements attendance.Store and attendance.Directory.
type Store struct {
	mu   sync.Mutex
	data *state

	dirMu    sync.RWMutex
	subjects map[string]attendance.Subject
	students map[string]attendance.Student
	tracks   map[string]map[string]struct{}
}

var (
	_ attendance.Store     = (*Store)(nil)
	_ attendance.Directory = (*Store)(nil)
)

// New creates an empty store.
func New() *Store {
	return &Store{
		data: &state{
			sessions: make(map[string]attendance.Session),
			records:  make(map[recordKey]attendance.Record),
		},
		subjects: make(map[string]attendance.Subject),
		students: make(map[string]attendance.Student),
		tracks:   make(map[string]map[string]struct{}),
	}
}

// InTx runs fn against a private copy of the data and publishes the copy if
// fn returns nil.
func (s *Store) InTx(ctx context.Context, fn func(tx attendance.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.data.clone()
	if err := fn(&tx{st: work, dir: s}); err != nil {
		return err
	}
	s.data = work
	return nil
}

// AddSubject registers a subject in the catalogue.
func (s *Store) AddSubject(subj attendance.Subject) {
	s.dirMu.Lock()
	defer s.dirMu.Unlock()
	s.subjects[subj.ID] = subj
}

// AddStudent registers a student contact card.
func (s *Store) AddStudent(st attendance.Student) {
	s.dirMu.Lock()
	defer s.dirMu.Unlock()
	s.students[st.ID] = st
}

// Enroll adds students to a track.
func (s *Store) Enroll(trackID string, studentIDs ...string) {
	s.dirMu.Lock()
	defer s.dirMu.Unlock()
	members, ok := s.tracks[trackID]
	if !ok {
		members = make(map[string]struct{})
		s.tracks[trackID] = members
	}
	for _, id := range studentIDs {
		members[id] = struct{}{}
	}
}

// Unenroll removes a student from a track together with their records for
// the track's sessions.
func (s *Store) Unenroll(ctx context.Context, trackID, studentID string) error {
	return s.InTx(ctx, func(t attendance.Tx) error {
		st := t.(*tx).st
		for key := range st.records {
			if key.studentID != studentID {
				continue
			}
			if sess, ok := st.sessions[key.sessionID]; ok && sess.TrackID == trackID {
				delete(st.records, key)
			}
		}
		s.dirMu.Lock()
		delete(s.tracks[trackID], studentID)
		s.dirMu.Unlock()
		return nil
	})
}

func (s *Store) StudentsEnrolledInTrack(ctx context.Context, trackID string) ([]string, error) {
	s.dirMu.RLock()
	defer s.dirMu.RUnlock()
	ids := make([]string, 0, len(s.tracks[trackID]))
	for id := range s.tracks[trackID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) IsEnrolled(ctx context.Context, trackID, studentID string) (bool, error) {
	s.dirMu.RLock()
	defer s.dirMu.RUnlock()
	_, ok := s.tracks[trackID][studentID]
	return ok, nil
}

func (s *Store) Subject(ctx context.Context, subjectID string) (attendance.Subject, error) {
	s.dirMu.RLock()
	defer s.dirMu.RUnlock()
	subj, ok := s.subjects[subjectID]
	if !ok {
		return attendance.Subject{}, attendance.ErrNotFound
	}
	return subj, nil
}

func (s *Store) Student(ctx context.Context, studentID string) (attendance.Student, error) {
	s.dirMu.RLock()
	defer s.dirMu.RUnlock()
	st, ok := s.students[studentID]
	if !ok {
		return attendance.Student{}, attendance.ErrNotFound
	}
	return st, nil
}

type tx struct {
	st  *state
	dir *Store
}

func (t *tx) CreateSession(ctx context.Context, s attendance.Session) error {
	if _, ok := t.st.sessions[s.ID]; ok {
		return errors.Wrapf(errDuplicateKey, "session %s", s.ID)
	}
	t.st.sessions[s.ID] = s
	return nil
}

func (t *tx) Session(ctx context.Context, id string, _ attendance.Lock) (attendance.Session, error) {
	s, ok := t.st.sessions[id]
	if !ok {
		return attendance.Session{}, attendance.ErrNotFound
	}
	return s, nil
}

func (t *tx) UpdateSession(ctx context.Context, s attendance.Session) error {
	cur, ok := t.st.sessions[s.ID]
	if !ok {
		return attendance.ErrNotFound
	}
	cur.Status = s.Status
	cur.StartedAt = s.StartedAt
	cur.EndedAt = s.EndedAt
	t.st.sessions[s.ID] = cur
	return nil
}

func (t *tx) ActiveSessionsByInstructor(ctx context.Context, instructorID string) ([]attendance.Session, error) {
	var out []attendance.Session
	for _, s := range t.st.sessions {
		if s.InstructorID == instructorID && s.Status == attendance.StatusActive {
			out = append(out, s)
		}
	}
	sortSessions(out)
	return out, nil
}

func (t *tx) InsertRecords(ctx context.Context, recs []attendance.Record) error {
	for _, r := range recs {
		key := recordKey{r.SessionID, r.StudentID}
		if _, ok := t.st.records[key]; ok {
			return errors.Wrapf(errDuplicateKey, "record %s/%s", r.SessionID, r.StudentID)
		}
		t.st.records[key] = r
	}
	return nil
}

func (t *tx) Record(ctx context.Context, sessionID, studentID string, _ attendance.Lock) (attendance.Record, error) {
	r, ok := t.st.records[recordKey{sessionID, studentID}]
	if !ok {
		return attendance.Record{}, attendance.ErrNotFound
	}
	return r, nil
}

func (t *tx) UpdateRecord(ctx context.Context, r attendance.Record) error {
	key := recordKey{r.SessionID, r.StudentID}
	cur, ok := t.st.records[key]
	if !ok || cur.ID != r.ID {
		return attendance.ErrNotFound
	}
	cur.Status = r.Status
	cur.ScannedAt = r.ScannedAt
	t.st.records[key] = cur
	return nil
}

func (t *tx) Records(ctx context.Context, sessionID string) ([]attendance.Record, error) {
	var out []attendance.Record
	for key, r := range t.st.records {
		if key.sessionID == sessionID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out, nil
}

func (t *tx) InsertToken(ctx context.Context, tok attendance.Token) error {
	for _, existing := range t.st.tokens {
		if existing.Value == tok.Value {
			return errors.Wrap(errDuplicateKey, "token value")
		}
	}
	t.st.tokens = append(t.st.tokens, tok)
	return nil
}

func (t *tx) LatestToken(ctx context.Context, sessionID string) (attendance.Token, error) {
	var (
		latest attendance.Token
		found  bool
	)
	for _, tok := range t.st.tokens {
		if tok.SessionID != sessionID {
			continue
		}
		if !found || !tok.CreatedAt.Before(latest.CreatedAt) {
			latest, found = tok, true
		}
	}
	if !found {
		return attendance.Token{}, attendance.ErrNotFound
	}
	return latest, nil
}

func (t *tx) FindToken(ctx context.Context, sessionID, value string) (attendance.Token, error) {
	for _, tok := range t.st.tokens {
		if tok.SessionID == sessionID && tok.Value == value {
			return tok, nil
		}
	}
	return attendance.Token{}, attendance.ErrNotFound
}

func (t *tx) DeleteTokensExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	kept := t.st.tokens[:0]
	var n int64
	for _, tok := range t.st.tokens {
		if tok.ExpiresAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, tok)
	}
	t.st.tokens = kept
	return n, nil
}

func (t *tx) TrackStudents(ctx context.Context, trackID string) ([]string, error) {
	return t.dir.StudentsEnrolledInTrack(ctx, trackID)
}

func (t *tx) Enrolled(ctx context.Context, trackID, studentID string) (bool, error) {
	return t.dir.IsEnrolled(ctx, trackID, studentID)
}

func (t *tx) SubjectHistory(ctx context.Context, subjectID, studentID string) ([]attendance.HistoryEntry, error) {
	var completed []attendance.Session
	for _, s := range t.st.sessions {
		if s.SubjectID == subjectID && s.Status == attendance.StatusCompleted {
			completed = append(completed, s)
		}
	}
	sortSessions(completed)
	out := make([]attendance.HistoryEntry, 0, len(completed))
	for _, s := range completed {
		entry := attendance.HistoryEntry{SessionID: s.ID, Kind: s.Kind}
		if r, ok := t.st.records[recordKey{s.ID, studentID}]; ok {
			entry.Status = r.Status
		}
		out = append(out, entry)
	}
	return out, nil
}

func sortSessions(ss []attendance.Session) {
	sort.Slice(ss, func(i, j int) bool {
		a, b := ss[i].StartedAt, ss[j].StartedAt
		switch {
		case a == nil && b == nil:
			return ss[i].ID < ss[j].ID
		case a == nil:
			return true
		case b == nil:
			return false
		}
		return a.Before(*b)
	})
}
