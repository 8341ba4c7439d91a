package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/mail"
	"testing"
	"time"

	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"presence/internal/attendance"
	"presence/internal/standing"
)

var (
	student = attendance.Student{ID: "stu-1", Name: "Amina <A>", Email: "amina@example.edu"}
	subject = attendance.Subject{ID: "subj-1", Name: "Networks"}
	snap    = standing.Snapshot{
		StudentID: "stu-1",
		SubjectID: "subj-1",
		Remedial:  true,
		Grade:     3.33,
		Stats:     standing.Stats{Total: 6, PresenceRate: 0.2, LabAbsences: 2},
	}
)

func TestRemedialNotice(t *testing.T) {
	msg, err := RemedialNotice(student, subject, snap, standing.DefaultThresholds())
	require.NoError(t, err)

	assert.Equal(t, "amina@example.edu", msg.To.Address)
	assert.Equal(t, "Remedial exam required: Networks", msg.Subject)
	assert.Contains(t, msg.Text, "presence: 20% (minimum 25%)")
	assert.Contains(t, msg.Text, "Lab absences: 2 (limit 2)")
	assert.Contains(t, msg.Text, "3.33/20")
	assert.Contains(t, msg.HTML, "Amina &lt;A&gt;", "html is escaped")
}

func TestConsoleRecordsMessages(t *testing.T) {
	c := NewConsole()
	ctx := context.Background()

	require.NoError(t, c.Send(ctx, Message{To: mail.Address{Address: "a@example.edu"}, Subject: "hi"}))
	assert.Error(t, c.Send(ctx, Message{Subject: "nobody"}))

	sent := c.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "hi", sent[0].Subject)
}

func TestSendgridPrepare(t *testing.T) {
	sg := NewSendgrid("key", mail.Address{Name: "Presence", Address: "noreply@example.edu"}, "Presence")
	msg, err := RemedialNotice(student, subject, snap, standing.DefaultThresholds())
	require.NoError(t, err)

	var body struct {
		From struct {
			Email string `json:"email"`
		} `json:"from"`
		Personalizations []struct {
			Subject string `json:"subject"`
			To      []struct {
				Email string `json:"email"`
			} `json:"to"`
		} `json:"personalizations"`
		Content []struct {
			Type string `json:"type"`
		} `json:"content"`
	}
	require.NoError(t, json.Unmarshal(sgmail.GetRequestBody(sg.prepare(msg)), &body))

	assert.Equal(t, "noreply@example.edu", body.From.Email)
	require.Len(t, body.Personalizations, 1)
	assert.Equal(t, "[Presence] Remedial exam required: Networks", body.Personalizations[0].Subject)
	assert.Equal(t, "amina@example.edu", body.Personalizations[0].To[0].Email)
	require.Len(t, body.Content, 2)
	assert.Equal(t, "text/plain", body.Content[0].Type)
}

func TestSendgridSend(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotAuth = r.URL.Path, r.Header.Get("Authorization")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sg := NewSendgrid("key", mail.Address{Address: "noreply@example.edu"}, "Presence")
	sg.host = srv.URL
	require.NoError(t, sg.Send(context.Background(), Message{To: mail.Address{Address: "a@example.edu"}, Subject: "hi", Text: "hello"}))
	assert.Equal(t, sendgridEndpoint, gotPath)
	assert.Equal(t, "Bearer key", gotAuth)
}

func TestSendgridSendStopsWithContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(10 * time.Second):
		}
	}))
	defer srv.Close()

	sg := NewSendgrid("key", mail.Address{Address: "noreply@example.edu"}, "Presence")
	sg.host = srv.URL
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := sg.Send(ctx, Message{To: mail.Address{Address: "a@example.edu"}, Subject: "hi", Text: "hello"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestSendgridSendReportsRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"errors":[{"message":"bad key"}]}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	sg := NewSendgrid("key", mail.Address{Address: "noreply@example.edu"}, "Presence")
	sg.host = srv.URL
	err := sg.Send(context.Background(), Message{To: mail.Address{Address: "a@example.edu"}, Subject: "hi", Text: "hello"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sendgrid status 401")
}
