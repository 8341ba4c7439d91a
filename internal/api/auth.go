package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"presence/internal/auth"
)

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// refresh exchanges a refresh token for a new pair. The old refresh token is
// revoked so it cannot be replayed.
func (h *Handler) refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	claims, err := auth.Parse(req.RefreshToken, h.JWTSigningKey, h.JWTIssuer)
	if err != nil || claims.Kind != auth.KindRefresh {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	ctx := c.Request.Context()
	if h.Revoker != nil {
		revoked, err := h.Revoker.Revoked(ctx, claims.ID)
		if err != nil {
			writeError(c, err)
			return
		}
		if revoked {
			c.JSON(http.StatusUnauthorized, gin.H{"error": auth.ErrRevoked.Error()})
			return
		}
		if err := h.Revoker.Revoke(ctx, claims.ID, claims.Remaining(time.Now())); err != nil {
			writeError(c, err)
			return
		}
	}
	pair, err := auth.Issue(claims.Subject, claims.Roles, h.JWTIssuer, h.JWTSigningKey, h.AccessTTL, h.RefreshTTL)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, pair)
}

// logout closes every session an instructor left running, then revokes the
// access token. Sessions are closed first so a failed sign out can be retried
// with the same token.
func (h *Handler) logout(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	ctx := c.Request.Context()

	ended := 0
	if claims.Roles.Has(auth.RoleTeacher) {
		sessions, err := h.Lifecycle.EndAllFor(ctx, claims.Subject)
		if err != nil {
			logrus.WithError(err).WithField("instructor_id", claims.Subject).Error("closing sessions on sign out failed")
			writeError(c, err)
			return
		}
		h.publishEnded(ctx, sessions...)
		ended = len(sessions)
	}

	if h.Revoker != nil {
		if err := h.Revoker.Revoke(ctx, claims.ID, claims.Remaining(time.Now())); err != nil {
			writeError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"ended_sessions": ended})
}
