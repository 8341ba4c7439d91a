// Package notify composes student notices and hands them to a mail backend.
package notify

import (
	"bytes"
	"context"
	htmltmpl "html/template"
	"net/mail"
	"sync"
	texttmpl "text/template"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"presence/internal/attendance"
	"presence/internal/standing"
)

// Message is one outbound e-mail.
type Message struct {
	To      mail.Address
	Subject string
	Text    string
	HTML    string
}

// Mailer delivers messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Console logs messages instead of sending them and keeps a copy for tests.
type Console struct {
	mu   sync.Mutex
	sent []Message
}

func NewConsole() *Console { return &Console{} }

func (c *Console) Send(_ context.Context, msg Message) error {
	if msg.To.Address == "" {
		return errors.New("message has no recipient")
	}
	logrus.WithFields(logrus.Fields{
		"to":      msg.To.String(),
		"subject": msg.Subject,
	}).Info(msg.Text)
	c.mu.Lock()
	c.sent = append(c.sent, msg)
	c.mu.Unlock()
	return nil
}

// Sent returns the messages sent so far.
func (c *Console) Sent() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.sent...)
}

type noticeData struct {
	Student  attendance.Student
	Subject  attendance.Subject
	Snapshot standing.Snapshot
	Rate     float64
	Floor    float64
	LabLimit float64
}

var (
	remedialText = texttmpl.Must(texttmpl.New("remedial.txt").Parse(
		`Hello {{.Student.Name}},

Your attendance in {{.Subject.Name}} now requires you to sit the remedial exam.
Lecture and tutorial presence: {{printf "%.0f" .Rate}}% (minimum {{printf "%.0f" .Floor}}%).
Lab absences: {{.Snapshot.Stats.LabAbsences}} (limit {{.LabLimit}}).
Attendance grade: {{printf "%.2f" .Snapshot.Grade}}/20.
`))

	remedialHTML = htmltmpl.Must(htmltmpl.New("remedial.html").Parse(
		`<p>Hello {{.Student.Name}},</p>
<p>Your attendance in <strong>{{.Subject.Name}}</strong> now requires you to sit the remedial exam.</p>
<ul>
<li>Lecture and tutorial presence: {{printf "%.0f" .Rate}}% (minimum {{printf "%.0f" .Floor}}%)</li>
<li>Lab absences: {{.Snapshot.Stats.LabAbsences}} (limit {{.LabLimit}})</li>
<li>Attendance grade: {{printf "%.2f" .Snapshot.Grade}}/20</li>
</ul>
`))
)

// RemedialNotice composes the notice sent to a student flagged for the
// remedial exam.
func RemedialNotice(st attendance.Student, subj attendance.Subject, snap standing.Snapshot, th standing.Thresholds) (Message, error) {
	data := noticeData{
		Student:  st,
		Subject:  subj,
		Snapshot: snap,
		Rate:     snap.Stats.PresenceRate * 100,
		Floor:    th.RemedialRate * 100,
		LabLimit: th.LabAbsences,
	}
	var text, html bytes.Buffer
	if err := remedialText.Execute(&text, data); err != nil {
		return Message{}, errors.Wrap(err, "render remedial text")
	}
	if err := remedialHTML.Execute(&html, data); err != nil {
		return Message{}, errors.Wrap(err, "render remedial html")
	}
	return Message{
		To:      mail.Address{Name: st.Name, Address: st.Email},
		Subject: "Remedial exam required: " + subj.Name,
		Text:    text.String(),
		HTML:    html.String(),
	}, nil
}
