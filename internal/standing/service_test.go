package standing_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"presence/internal/attendance"
	"presence/internal/attendance/memstore"
	"presence/internal/standing"
)

const (
	subjectID = "subj-net"
	trackID   = "track-cs2"
	prof      = "prof-1"
)

type env struct {
	store     *memstore.Store
	now       time.Time
	lifecycle *attendance.Lifecycle
	authority *attendance.Authority
	verifier  *attendance.Verifier
	service   *standing.Service
}

func newEnv(t *testing.T, students ...string) *env {
	t.Helper()
	st := memstore.New()
	st.AddSubject(attendance.Subject{ID: subjectID, TrackID: trackID, Name: "Networks"})
	st.AddStudent(attendance.Student{ID: "stu-1", Name: "Amina", Email: "amina@example.edu"})
	st.Enroll(trackID, students...)
	e := &env{store: st, now: time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)}
	clock := attendance.WithClock(func() time.Time { return e.now })
	e.authority = attendance.NewAuthority(st, 0, 0, clock)
	e.lifecycle = attendance.NewLifecycle(st, st, e.authority, clock)
	e.verifier = attendance.NewVerifier(st, st, e.authority, 0, clock)
	e.service = standing.NewService(st, st, standing.DefaultThresholds())
	return e
}

// runSession starts a session, applies scans at the given offsets and ends it.
func (e *env) runSession(t *testing.T, kind attendance.Kind, scans map[string]time.Duration) string {
	t.Helper()
	ctx := context.Background()
	s, err := e.lifecycle.Create(ctx, attendance.NewSession{SubjectID: subjectID, InstructorID: prof, Kind: kind})
	require.NoError(t, err)
	_, _, err = e.lifecycle.Start(ctx, s.ID, prof)
	require.NoError(t, err)
	start := e.now
	for student, offset := range scans {
		e.now = start.Add(offset)
		tok, err := e.authority.CurrentOrIssue(ctx, s.ID)
		require.NoError(t, err)
		_, err = e.verifier.Verify(ctx, attendance.Scan{StudentID: student, SessionID: s.ID, Token: tok.Value})
		require.NoError(t, err)
	}
	e.now = start.Add(90 * time.Minute)
	_, err = e.lifecycle.End(ctx, s.ID, prof)
	require.NoError(t, err)
	e.now = e.now.Add(24 * time.Hour)
	return s.ID
}

func TestSnapshotFromLedger(t *testing.T) {
	e := newEnv(t, "stu-1")
	e.runSession(t, attendance.KindLecture, map[string]time.Duration{"stu-1": time.Minute})
	e.runSession(t, attendance.KindLecture, map[string]time.Duration{"stu-1": 2 * time.Minute})
	e.runSession(t, attendance.KindTutorial, map[string]time.Duration{"stu-1": 30 * time.Minute})
	e.runSession(t, attendance.KindTutorial, nil)

	snap, err := e.service.Snapshot(context.Background(), "stu-1", subjectID)
	require.NoError(t, err)
	assert.False(t, snap.Remedial)
	assert.Equal(t, 12.5, snap.Grade)
	assert.InDelta(t, 0.625, snap.Stats.PresenceRate, 1e-9)

	grade, err := e.service.AttendanceGrade(context.Background(), "stu-1", subjectID)
	require.NoError(t, err)
	assert.Equal(t, snap.Grade, grade)
}

func TestSessionWithoutScansCountsAsAbsence(t *testing.T) {
	e := newEnv(t, "stu-1", "stu-2")
	e.runSession(t, attendance.KindLab, nil)
	e.runSession(t, attendance.KindLab, map[string]time.Duration{"stu-2": time.Minute})

	remedial, st, err := e.service.RemedialStatus(context.Background(), "stu-1", subjectID)
	require.NoError(t, err)
	assert.True(t, remedial)
	assert.Equal(t, 2.0, st.LabAbsences)

	remedial, _, err = e.service.RemedialStatus(context.Background(), "stu-2", subjectID)
	require.NoError(t, err)
	assert.False(t, remedial)
}

func TestActiveSessionsAreIgnored(t *testing.T) {
	e := newEnv(t, "stu-1")
	ctx := context.Background()
	s, err := e.lifecycle.Create(ctx, attendance.NewSession{SubjectID: subjectID, InstructorID: prof, Kind: attendance.KindLecture})
	require.NoError(t, err)
	_, _, err = e.lifecycle.Start(ctx, s.ID, prof)
	require.NoError(t, err)

	snap, err := e.service.Snapshot(ctx, "stu-1", subjectID)
	require.NoError(t, err)
	assert.Equal(t, 20.0, snap.Grade)
	assert.Equal(t, 0, snap.Stats.Total)
}

func TestSubjectReport(t *testing.T) {
	e := newEnv(t, "stu-1", "stu-2")
	e.runSession(t, attendance.KindLecture, map[string]time.Duration{"stu-1": time.Minute, "stu-2": 25 * time.Minute})
	e.runSession(t, attendance.KindLecture, map[string]time.Duration{"stu-1": time.Minute})

	rep, err := e.service.SubjectReport(context.Background(), subjectID)
	require.NoError(t, err)
	assert.Equal(t, "Networks", rep.Subject.Name)
	require.Len(t, rep.Rows, 2)

	amina := rep.Rows[0]
	assert.Equal(t, "Amina", amina.Student.Name)
	assert.Equal(t, 2, amina.Present)
	assert.Equal(t, 20.0, amina.Snapshot.Grade)

	other := rep.Rows[1]
	assert.Equal(t, "stu-2", other.Student.ID)
	assert.Empty(t, other.Student.Name)
	assert.Equal(t, 1, other.Late)
	assert.Equal(t, 1, other.Absent)
	assert.Equal(t, 2, other.Sessions)
	assert.Equal(t, 5.0, other.Snapshot.Grade)
	assert.InDelta(t, 0.25, other.Snapshot.Stats.PresenceRate, 1e-9)
	assert.False(t, other.Snapshot.Remedial, "0.25 is not below the threshold")
}

func TestNewlyRemedial(t *testing.T) {
	e := newEnv(t, "stu-1", "stu-2")
	ctx := context.Background()
	e.runSession(t, attendance.KindLab, map[string]time.Duration{"stu-2": time.Minute})

	second := e.runSession(t, attendance.KindLab, nil)
	got, err := e.service.NewlyRemedial(ctx, subjectID, second)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "stu-1", got[0].StudentID)
	assert.True(t, got[0].Remedial)

	third := e.runSession(t, attendance.KindLab, nil)
	got, err = e.service.NewlyRemedial(ctx, subjectID, third)
	require.NoError(t, err)
	require.Len(t, got, 1, "stu-1 was already remedial")
	assert.Equal(t, "stu-2", got[0].StudentID)

	got, err = e.service.NewlyRemedial(ctx, subjectID, "not-a-session-of-subject")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestNewlyRemedialIgnoresLaterSessions(t *testing.T) {
	e := newEnv(t, "stu-1")
	ctx := context.Background()
	first := e.runSession(t, attendance.KindLab, nil)
	second := e.runSession(t, attendance.KindLab, nil)
	e.runSession(t, attendance.KindLab, nil)

	got, err := e.service.NewlyRemedial(ctx, subjectID, first)
	require.NoError(t, err)
	assert.Empty(t, got, "one lab absence is below the threshold")

	got, err = e.service.NewlyRemedial(ctx, subjectID, second)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "stu-1", got[0].StudentID)
	assert.Equal(t, 2.0, got[0].Stats.LabAbsences, "standing as of the crossing session")
}

func TestSubjectReportCountsUnrecordedSessions(t *testing.T) {
	e := newEnv(t, "stu-1")
	e.runSession(t, attendance.KindLecture, map[string]time.Duration{"stu-1": time.Minute})
	e.store.Enroll(trackID, "stu-2")
	e.runSession(t, attendance.KindLecture, nil)

	rep, err := e.service.SubjectReport(context.Background(), subjectID)
	require.NoError(t, err)
	require.Len(t, rep.Rows, 2)

	late := rep.Rows[1]
	assert.Equal(t, "stu-2", late.Student.ID)
	assert.Equal(t, 2, late.Sessions)
	assert.Equal(t, 1, late.Absent)
	assert.Equal(t, 1, late.Unrecorded)
	assert.Zero(t, late.Present+late.Late)
}

func TestSubjectReportUnknownSubject(t *testing.T) {
	e := newEnv(t)
	_, err := e.service.SubjectReport(context.Background(), "nope")
	assert.ErrorIs(t, err, attendance.ErrNotFound)
}
