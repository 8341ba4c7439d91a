package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"presence/internal/attendance"
	"presence/internal/auth"
)

// scanRequest accepts either the raw QR payload or its decoded fields.
type scanRequest struct {
	Payload    string     `json:"payload"`
	SessionID  string     `json:"session_id"`
	Token      string     `json:"token"`
	ClientTime *time.Time `json:"client_time"`
}

func (r scanRequest) decode() (attendance.Payload, error) {
	if r.Payload != "" {
		return attendance.ParsePayload(r.Payload)
	}
	if r.SessionID == "" || r.Token == "" {
		return attendance.Payload{}, attendance.ErrMalformedPayload
	}
	return attendance.Payload{SessionID: r.SessionID, Token: r.Token}, nil
}

func (h *Handler) scan(c *gin.Context) {
	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, attendance.ErrMalformedPayload)
		return
	}
	p, err := req.decode()
	if err != nil {
		writeError(c, err)
		return
	}
	claims, _ := auth.ClaimsFrom(c)
	scan := attendance.Scan{
		StudentID:  claims.Subject,
		SessionID:  p.SessionID,
		Token:      p.Token,
		ClientTime: p.IssuedAt,
	}
	if req.ClientTime != nil {
		scan.ClientTime = *req.ClientTime
	}
	out, err := h.Verifier.Verify(c.Request.Context(), scan)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}
