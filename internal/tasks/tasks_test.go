package tasks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"presence/internal/attendance"
	"presence/internal/attendance/memstore"
	"presence/internal/notify"
	"presence/internal/queue"
	"presence/internal/standing"
)

const (
	subjectID = "subj-os"
	trackID   = "track-1"
	prof      = "prof-1"
)

type harness struct {
	now       time.Time
	store     *memstore.Store
	lifecycle *attendance.Lifecycle
	authority *attendance.Authority
	mailer    *notify.Console
	proc      *Processor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{now: time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC), store: memstore.New(), mailer: notify.NewConsole()}
	h.store.AddSubject(attendance.Subject{ID: subjectID, TrackID: trackID, Name: "Operating Systems"})
	h.store.AddStudent(attendance.Student{ID: "stu-1", Name: "Amina", Email: "amina@example.edu"})
	h.store.AddStudent(attendance.Student{ID: "stu-2", Name: "No Mail"})
	h.store.Enroll(trackID, "stu-1", "stu-2", "stu-3")

	clock := attendance.WithClock(func() time.Time { return h.now })
	h.authority = attendance.NewAuthority(h.store, 0, 0, clock)
	h.lifecycle = attendance.NewLifecycle(h.store, h.store, h.authority, clock)
	svc := standing.NewService(h.store, h.store, standing.DefaultThresholds())
	h.proc = NewProcessor(h.authority, svc, h.store, h.mailer, 5*time.Minute)
	h.proc.now = func() time.Time { return h.now }
	return h
}

func (h *harness) labWithoutScans(t *testing.T) attendance.Session {
	t.Helper()
	ctx := context.Background()
	s, err := h.lifecycle.Create(ctx, attendance.NewSession{SubjectID: subjectID, InstructorID: prof, Kind: attendance.KindLab})
	require.NoError(t, err)
	_, _, err = h.lifecycle.Start(ctx, s.ID, prof)
	require.NoError(t, err)
	h.now = h.now.Add(2 * time.Hour)
	s, err = h.lifecycle.End(ctx, s.ID, prof)
	require.NoError(t, err)
	return s
}

func TestSessionEndedSendsRemedialNotices(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	q := queue.NewInMemory(4)

	first := h.labWithoutScans(t)
	require.NoError(t, PublishSessionEnded(ctx, q, first))
	second := h.labWithoutScans(t)
	require.NoError(t, PublishSessionEnded(ctx, q, second))

	runCtx, cancel := context.WithCancel(ctx)
	msgs, err := q.Consume(runCtx)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		require.NoError(t, h.proc.Handle(ctx, <-msgs))
	}
	cancel()

	sent := h.mailer.Sent()
	require.Len(t, sent, 1, "only students with an address are mailed")
	assert.Equal(t, "amina@example.edu", sent[0].To.Address)
	assert.Contains(t, sent[0].Subject, "Operating Systems")

	third := h.labWithoutScans(t)
	require.NoError(t, h.proc.Handle(ctx, mustMessage(t, third)))
	assert.Len(t, h.mailer.Sent(), 1, "students already flagged are not mailed again")
}

func TestSessionEndedPurgesOldTokens(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.labWithoutScans(t)

	require.NoError(t, h.proc.Handle(ctx, mustMessage(t, s)))

	n, err := h.authority.Purge(ctx, h.now.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n, "the start token expired long ago and was already purged")
}

func TestUnknownTaskIsIgnored(t *testing.T) {
	h := newHarness(t)
	assert.NoError(t, h.proc.Handle(context.Background(), queue.Message{Type: "checkin"}))
}

func TestMalformedPayloadFails(t *testing.T) {
	h := newHarness(t)
	err := h.proc.Handle(context.Background(), queue.Message{Type: TypeSessionEnded, Body: []byte(`[]`)})
	assert.Error(t, err)
}

func mustMessage(t *testing.T, s attendance.Session) queue.Message {
	t.Helper()
	msg, err := queue.NewMessage(TypeSessionEnded, SessionEnded{SessionID: s.ID, SubjectID: s.SubjectID})
	require.NoError(t, err)
	return msg
}
