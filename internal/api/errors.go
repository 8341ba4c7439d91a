package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"presence/internal/attendance"
)

var errorStatus = []struct {
	err    error
	status int
}{
	{attendance.ErrInvalidTransition, http.StatusConflict},
	{attendance.ErrSessionNotActive, http.StatusConflict},
	{attendance.ErrNotEnrolled, http.StatusForbidden},
	{attendance.ErrNotOwner, http.StatusForbidden},
	{attendance.ErrTokenInvalid, http.StatusGone},
	{attendance.ErrMalformedPayload, http.StatusBadRequest},
	{attendance.ErrInvalidKind, http.StatusBadRequest},
	{attendance.ErrSessionNotFound, http.StatusNotFound},
	{attendance.ErrNotFound, http.StatusNotFound},
	{attendance.ErrRecordMissing, http.StatusInternalServerError},
}

// writeError maps engine errors to status codes. Anything unknown is a 500
// with a generic message.
func writeError(c *gin.Context, err error) {
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			c.JSON(e.status, gin.H{"error": e.err.Error()})
			return
		}
	}
	logrus.WithError(err).WithField("path", c.FullPath()).Error("request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
