package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"presence/internal/attendance"
	"presence/internal/auth"
	"presence/internal/qr"
	"presence/internal/tasks"
)

type createSessionRequest struct {
	SubjectID   string     `json:"subject_id" binding:"required"`
	Kind        string     `json:"kind" binding:"required"`
	Title       string     `json:"title"`
	ScheduledAt *time.Time `json:"scheduled_at"`
}

type rosterResponse struct {
	Session attendance.Session  `json:"session"`
	Records []attendance.Record `json:"records"`
}

type tokenResponse struct {
	SessionID      string    `json:"session_id"`
	Payload        string    `json:"payload"`
	IssuedAt       time.Time `json:"issued_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	RefreshAfterMS int64     `json:"refresh_after_ms"`
	QR             string    `json:"qr,omitempty"`
}

// instructorScope is the instructor id ownership checks run against. Admins
// act on any session.
func instructorScope(c *gin.Context) string {
	claims, _ := auth.ClaimsFrom(c)
	if claims.Roles.Has(auth.RoleAdmin) {
		return ""
	}
	return claims.Subject
}

func (h *Handler) createSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	claims, _ := auth.ClaimsFrom(c)
	s, err := h.Lifecycle.Create(c.Request.Context(), attendance.NewSession{
		SubjectID:    req.SubjectID,
		InstructorID: claims.Subject,
		Kind:         attendance.Kind(req.Kind),
		Title:        req.Title,
		ScheduledAt:  req.ScheduledAt,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, s)
}

func (h *Handler) getSession(c *gin.Context) {
	s, recs, err := h.Lifecycle.Roster(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if scope := instructorScope(c); scope != "" && s.InstructorID != scope {
		writeError(c, attendance.ErrNotOwner)
		return
	}
	c.JSON(http.StatusOK, rosterResponse{Session: s, Records: recs})
}

func (h *Handler) startSession(c *gin.Context) {
	s, tok, err := h.Lifecycle.Start(c.Request.Context(), c.Param("id"), instructorScope(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": s, "token": h.tokenView(tok, false)})
}

func (h *Handler) endSession(c *gin.Context) {
	s, err := h.Lifecycle.End(c.Request.Context(), c.Param("id"), instructorScope(c))
	if err != nil {
		writeError(c, err)
		return
	}
	h.publishEnded(c.Request.Context(), s)
	c.JSON(http.StatusOK, s)
}

// publishEnded queues follow-up work. The session is already closed, so a
// queue failure is logged rather than reported to the caller.
func (h *Handler) publishEnded(ctx context.Context, sessions ...attendance.Session) {
	if h.Queue == nil || len(sessions) == 0 {
		return
	}
	if err := tasks.PublishSessionEnded(ctx, h.Queue, sessions...); err != nil {
		logrus.WithError(err).Error("could not queue session follow-up")
	}
}

// ownedSession loads the session and enforces ownership for token routes.
func (h *Handler) ownedSession(c *gin.Context) (attendance.Session, bool) {
	s, err := h.Lifecycle.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return attendance.Session{}, false
	}
	if scope := instructorScope(c); scope != "" && s.InstructorID != scope {
		writeError(c, attendance.ErrNotOwner)
		return attendance.Session{}, false
	}
	return s, true
}

func (h *Handler) currentToken(c *gin.Context) {
	s, ok := h.ownedSession(c)
	if !ok {
		return
	}
	tok, err := h.Authority.CurrentOrIssue(c.Request.Context(), s.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	if c.Query("format") == "png" {
		png, err := qr.PNG(attendance.PayloadFor(tok).Encode(), 0)
		if err != nil {
			writeError(c, err)
			return
		}
		c.Header("Cache-Control", "no-store")
		c.Data(http.StatusOK, "image/png", png)
		return
	}
	c.JSON(http.StatusOK, h.tokenView(tok, true))
}

func (h *Handler) rotateToken(c *gin.Context) {
	s, ok := h.ownedSession(c)
	if !ok {
		return
	}
	tok, err := h.Authority.Issue(c.Request.Context(), s.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, h.tokenView(tok, true))
}

func (h *Handler) tokenView(tok attendance.Token, withQR bool) tokenResponse {
	payload := attendance.PayloadFor(tok).Encode()
	refresh := time.Until(tok.CreatedAt.Add(h.Authority.RotationInterval()))
	if refresh < 0 {
		refresh = 0
	}
	v := tokenResponse{
		SessionID:      tok.SessionID,
		Payload:        payload,
		IssuedAt:       tok.CreatedAt,
		ExpiresAt:      tok.ExpiresAt,
		RefreshAfterMS: refresh.Milliseconds(),
	}
	if withQR {
		url, err := qr.DataURL(payload, 0)
		if err != nil {
			logrus.WithError(err).Warn("qr rendering failed")
		}
		v.QR = url
	}
	return v
}
