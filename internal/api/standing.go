package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"presence/internal/auth"
)

// subjectStanding returns the caller's own standing. Staff may look up any
// student with ?student_id=.
func (h *Handler) subjectStanding(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	studentID := claims.Subject
	if other := c.Query("student_id"); other != "" && other != studentID {
		if !claims.Roles.HasAny(auth.RoleTeacher, auth.RoleAdmin, auth.RoleDeptHead, auth.RoleTrackHead) {
			c.JSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
			return
		}
		studentID = other
	}
	snap, err := h.Standing.Snapshot(c.Request.Context(), studentID, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handler) subjectReport(c *gin.Context) {
	report, err := h.Standing.SubjectReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
