package attendance_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"presence/internal/attendance"
	"presence/internal/attendance/memstore"
)

const (
	subjectID    = "subj-algo"
	trackID      = "track-cs1"
	instructorID = "prof-1"
)

var t0 = time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	store     *memstore.Store
	clock     *clock
	authority *attendance.Authority
	lifecycle *attendance.Lifecycle
	verifier  *attendance.Verifier
}

func newFixture(t *testing.T, students ...string) *fixture {
	t.Helper()
	st := memstore.New()
	st.AddSubject(attendance.Subject{ID: subjectID, TrackID: trackID, Name: "Algorithms", Code: "ALG1"})
	st.Enroll(trackID, students...)
	return newFixtureWith(st, st)
}

func newFixtureWith(store attendance.Store, st *memstore.Store) *fixture {
	c := &clock{now: t0}
	auth := attendance.NewAuthority(store, 15*time.Second, 5*time.Second, attendance.WithClock(c.Now))
	return &fixture{
		store:     st,
		clock:     c,
		authority: auth,
		lifecycle: attendance.NewLifecycle(store, st, auth, attendance.WithClock(c.Now)),
		verifier:  attendance.NewVerifier(store, st, auth, 20*time.Minute, attendance.WithClock(c.Now)),
	}
}

func (f *fixture) newSession(t *testing.T, kind attendance.Kind) attendance.Session {
	t.Helper()
	s, err := f.lifecycle.Create(context.Background(), attendance.NewSession{
		SubjectID:    subjectID,
		InstructorID: instructorID,
		Kind:         kind,
		Title:        "Week 1",
	})
	require.NoError(t, err)
	return s
}

func (f *fixture) startedSession(t *testing.T) (attendance.Session, attendance.Token) {
	t.Helper()
	s := f.newSession(t, attendance.KindLecture)
	s, tok, err := f.lifecycle.Start(context.Background(), s.ID, instructorID)
	require.NoError(t, err)
	return s, tok
}

// tokenCount deletes every stored token and returns how many there were.
func (f *fixture) tokenCount(t *testing.T) int64 {
	t.Helper()
	n, err := attendance.NewAuthority(f.store, 0, 0).Purge(context.Background(), t0.Add(24*365*time.Hour))
	require.NoError(t, err)
	return n
}
