package api

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"presence/internal/attendance"
)

const (
	streamWriteTimeout = 5 * time.Second
	minStreamInterval  = 100 * time.Millisecond
)

// streamEvent is one frame pushed to the presenting display.
type streamEvent struct {
	Type  string         `json:"type"`
	Token *tokenResponse `json:"token,omitempty"`
}

// streamTokens pushes a fresh token to the display each time the current one
// leaves its rotation window, until the session ends or the client leaves.
func (h *Handler) streamTokens(c *gin.Context) {
	s, ok := h.ownedSession(c)
	if !ok {
		return
	}
	opts := &websocket.AcceptOptions{}
	if patterns := wsOriginPatterns(h.CORSOrigins); len(patterns) > 0 {
		opts.OriginPatterns = patterns
	}
	conn, err := websocket.Accept(c.Writer, c.Request, opts)
	if err != nil {
		return
	}
	// Nothing is read from the display; CloseRead handles control frames and
	// cancels ctx once the peer goes away.
	ctx := conn.CloseRead(c.Request.Context())
	log := logrus.WithField("session_id", s.ID)

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case <-timer.C:
		}

		tok, err := h.Authority.CurrentOrIssue(ctx, s.ID)
		if errors.Is(err, attendance.ErrSessionNotActive) {
			_ = writeFrame(ctx, conn, streamEvent{Type: "ended"})
			_ = conn.Close(websocket.StatusNormalClosure, "session ended")
			return
		}
		if err != nil {
			if ctx.Err() == nil {
				log.WithError(err).Error("token stream failed")
			}
			_ = conn.Close(websocket.StatusInternalError, "token unavailable")
			return
		}
		view := h.tokenView(tok, true)
		if err := writeFrame(ctx, conn, streamEvent{Type: "token", Token: &view}); err != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "write_failed")
			return
		}
		next := time.Until(tok.CreatedAt.Add(h.Authority.RotationInterval()))
		if next < minStreamInterval {
			next = minStreamInterval
		}
		timer.Reset(next)
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, ev streamEvent) error {
	writeCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, conn, ev)
}

// wsOriginPatterns turns CORS origins into host patterns for the websocket
// origin check.
func wsOriginPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if i := strings.Index(o, "://"); i >= 0 {
			o = o[i+3:]
		}
		o = strings.TrimSuffix(o, "/")
		if o != "" {
			out = append(out, o)
		}
	}
	return out
}
