package attendance_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"presence/internal/attendance"
)

func TestVerifyClassifiesPresentThenLate(t *testing.T) {
	f := newFixture(t, "stu-1", "stu-2")
	ctx := context.Background()
	s, tok := f.startedSession(t)

	f.clock.Advance(2 * time.Minute)
	clientTime := f.clock.Now().Add(-3 * time.Second)
	out, err := f.verifier.Verify(ctx, attendance.Scan{StudentID: "stu-1", SessionID: s.ID, Token: tok.Value, ClientTime: clientTime})
	require.ErrorIs(t, err, attendance.ErrTokenInvalid, "first token expired after two minutes")

	tok, err = f.authority.CurrentOrIssue(ctx, s.ID)
	require.NoError(t, err)
	out, err = f.verifier.Verify(ctx, attendance.Scan{StudentID: "stu-1", SessionID: s.ID, Token: tok.Value, ClientTime: clientTime})
	require.NoError(t, err)
	assert.Equal(t, attendance.ResultPresent, out.Result)
	assert.Equal(t, attendance.Present, out.Status)
	assert.Equal(t, clientTime, out.ClientTime)
	assert.Equal(t, "Algorithms", out.Subject.Name)
	assert.Equal(t, "Week 1", out.Session.Title)
	require.NotNil(t, out.ScannedAt)
	assert.Equal(t, f.clock.Now(), *out.ScannedAt, "server time wins over client time")

	f.clock.Advance(19 * time.Minute)
	tok, err = f.authority.CurrentOrIssue(ctx, s.ID)
	require.NoError(t, err)
	out, err = f.verifier.Verify(ctx, attendance.Scan{StudentID: "stu-2", SessionID: s.ID, Token: tok.Value})
	require.NoError(t, err)
	assert.Equal(t, attendance.ResultLate, out.Result)
	assert.Equal(t, attendance.Late, out.Status)
}

func TestVerifyLateThresholdBoundary(t *testing.T) {
	f := newFixture(t, "stu-1", "stu-2")
	ctx := context.Background()
	s, _ := f.startedSession(t)

	f.clock.Advance(20 * time.Minute)
	tok, err := f.authority.CurrentOrIssue(ctx, s.ID)
	require.NoError(t, err)
	out, err := f.verifier.Verify(ctx, attendance.Scan{StudentID: "stu-1", SessionID: s.ID, Token: tok.Value})
	require.NoError(t, err)
	assert.Equal(t, attendance.ResultPresent, out.Result, "exactly at the threshold is not late")

	f.clock.Advance(time.Second)
	out, err = f.verifier.Verify(ctx, attendance.Scan{StudentID: "stu-2", SessionID: s.ID, Token: tok.Value})
	require.NoError(t, err)
	assert.Equal(t, attendance.ResultLate, out.Result)
}

func TestVerifyRescanIsIdempotent(t *testing.T) {
	f := newFixture(t, "stu-1")
	ctx := context.Background()
	s, tok := f.startedSession(t)

	first, err := f.verifier.Verify(ctx, attendance.Scan{StudentID: "stu-1", SessionID: s.ID, Token: tok.Value})
	require.NoError(t, err)
	require.Equal(t, attendance.ResultPresent, first.Result)

	f.clock.Advance(25 * time.Minute)
	tok, err = f.authority.CurrentOrIssue(ctx, s.ID)
	require.NoError(t, err)
	again, err := f.verifier.Verify(ctx, attendance.Scan{StudentID: "stu-1", SessionID: s.ID, Token: tok.Value})
	require.NoError(t, err)
	assert.Equal(t, attendance.ResultAlreadyRecorded, again.Result)
	assert.Equal(t, attendance.Present, again.Status, "a later rescan never turns present into late")
	assert.Equal(t, first.ScannedAt, again.ScannedAt)
}

func TestVerifyTokenExpiryEdge(t *testing.T) {
	f := newFixture(t, "stu-1", "stu-2")
	ctx := context.Background()
	s, tok := f.startedSession(t)

	f.clock.Advance(19900 * time.Millisecond)
	_, err := f.verifier.Verify(ctx, attendance.Scan{StudentID: "stu-1", SessionID: s.ID, Token: tok.Value})
	require.NoError(t, err)

	f.clock.Advance(200 * time.Millisecond)
	_, err = f.verifier.Verify(ctx, attendance.Scan{StudentID: "stu-2", SessionID: s.ID, Token: tok.Value})
	assert.ErrorIs(t, err, attendance.ErrTokenInvalid)
}

func TestVerifyRejections(t *testing.T) {
	f := newFixture(t, "stu-1")
	ctx := context.Background()
	s, tok := f.startedSession(t)
	pending := f.newSession(t, attendance.KindLecture)

	tests := []struct {
		name string
		scan attendance.Scan
		want error
	}{
		{"unknown session", attendance.Scan{StudentID: "stu-1", SessionID: "missing", Token: tok.Value}, attendance.ErrSessionNotActive},
		{"pending session", attendance.Scan{StudentID: "stu-1", SessionID: pending.ID, Token: tok.Value}, attendance.ErrSessionNotActive},
		{"not enrolled", attendance.Scan{StudentID: "stranger", SessionID: s.ID, Token: tok.Value}, attendance.ErrNotEnrolled},
		{"enrollment checked before token", attendance.Scan{StudentID: "stranger", SessionID: s.ID, Token: "bogus"}, attendance.ErrNotEnrolled},
		{"bogus token", attendance.Scan{StudentID: "stu-1", SessionID: s.ID, Token: "bogus"}, attendance.ErrTokenInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.verifier.Verify(ctx, tt.scan)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, recs, err := f.lifecycle.Roster(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, attendance.Absent, recs[0].Status, "rejected scans write nothing")
}

func TestVerifyAfterEnd(t *testing.T) {
	f := newFixture(t, "stu-1")
	ctx := context.Background()
	s, tok := f.startedSession(t)

	_, err := f.lifecycle.End(ctx, s.ID, instructorID)
	require.NoError(t, err)

	_, err = f.verifier.Verify(ctx, attendance.Scan{StudentID: "stu-1", SessionID: s.ID, Token: tok.Value})
	assert.ErrorIs(t, err, attendance.ErrSessionNotActive, "unexpired token is useless once the session ends")
}

func TestConcurrentScansOfSameStudent(t *testing.T) {
	f := newFixture(t, "stu-1")
	ctx := context.Background()
	s, tok := f.startedSession(t)

	const n = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = map[attendance.Result]int{}
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := f.verifier.Verify(ctx, attendance.Scan{StudentID: "stu-1", SessionID: s.ID, Token: tok.Value})
			assert.NoError(t, err)
			mu.Lock()
			results[out.Result]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, results[attendance.ResultPresent])
	assert.Equal(t, n-1, results[attendance.ResultAlreadyRecorded])

	_, recs, err := f.lifecycle.Roster(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, attendance.Present, recs[0].Status)
}
