package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey    = "test-signing-key"
	testIssuer = "presence-test"
)

func init() { gin.SetMode(gin.TestMode) }

func TestIssueAndParse(t *testing.T) {
	pair, err := Issue("u1", Roles{RoleTeacher, RoleTrackHead}, testIssuer, testKey, time.Minute, time.Hour)
	require.NoError(t, err)

	access, err := Parse(pair.AccessToken, testKey, testIssuer)
	require.NoError(t, err)
	assert.Equal(t, "u1", access.Subject)
	assert.Equal(t, KindAccess, access.Kind)
	assert.True(t, access.Roles.Has(RoleTrackHead))
	assert.False(t, access.Roles.Has(RoleAdmin))
	assert.NotEmpty(t, access.ID)

	refresh, err := Parse(pair.RefreshToken, testKey, testIssuer)
	require.NoError(t, err)
	assert.Equal(t, KindRefresh, refresh.Kind)
	assert.NotEqual(t, access.ID, refresh.ID)
	assert.InDelta(t, time.Hour.Seconds(), refresh.Remaining(time.Now()).Seconds(), 5)
}

func TestParseRejects(t *testing.T) {
	pair, err := Issue("u1", Roles{RoleStudent}, testIssuer, testKey, time.Minute, time.Hour)
	require.NoError(t, err)
	expired, err := Issue("u1", Roles{RoleStudent}, testIssuer, testKey, -time.Minute, -time.Minute)
	require.NoError(t, err)

	_, err = Parse(pair.AccessToken, "other-key", testIssuer)
	assert.Error(t, err)
	_, err = Parse(pair.AccessToken, testKey, "someone-else")
	assert.Error(t, err)
	_, err = Parse(expired.AccessToken, testKey, testIssuer)
	assert.Error(t, err)
	_, err = Parse("not.a.jwt", testKey, testIssuer)
	assert.Error(t, err)
}

func TestRolesCapabilitySet(t *testing.T) {
	r := Roles{RoleTeacher, RoleDeptHead}
	assert.True(t, r.HasAny(RoleAdmin, RoleDeptHead))
	assert.False(t, r.HasAny(RoleAdmin, RoleStudent))
	assert.False(t, Roles(nil).HasAny(RoleTeacher))
	assert.True(t, Known(RoleTrackHead))
	assert.False(t, Known("janitor"))
}

func TestMemoryRevoker(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRevoker()
	now := time.Now()
	r.now = func() time.Time { return now }

	require.NoError(t, r.Revoke(ctx, "jti-1", time.Minute))
	require.NoError(t, r.Revoke(ctx, "jti-2", 0))

	ok, _ := r.Revoked(ctx, "jti-1")
	assert.True(t, ok)
	ok, _ = r.Revoked(ctx, "jti-2")
	assert.False(t, ok, "already expired tokens need no entry")

	now = now.Add(2 * time.Minute)
	ok, _ = r.Revoked(ctx, "jti-1")
	assert.False(t, ok)
}

func newRouter(revoker Revoker, roles ...string) *gin.Engine {
	r := gin.New()
	r.GET("/x", Authenticate(testKey, testIssuer, revoker), RequireRole(roles...), func(c *gin.Context) {
		claims, _ := ClaimsFrom(c)
		c.String(http.StatusOK, claims.Subject)
	})
	return r
}

func call(r http.Handler, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthenticateMiddleware(t *testing.T) {
	revoker := NewMemoryRevoker()
	r := newRouter(revoker, RoleTeacher, RoleAdmin)

	teacher, err := Issue("t1", Roles{RoleTeacher}, testIssuer, testKey, time.Minute, time.Hour)
	require.NoError(t, err)
	student, err := Issue("s1", Roles{RoleStudent}, testIssuer, testKey, time.Minute, time.Hour)
	require.NoError(t, err)

	w := call(r, teacher.AccessToken)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "t1", w.Body.String())

	assert.Equal(t, http.StatusUnauthorized, call(r, "").Code)
	assert.Equal(t, http.StatusUnauthorized, call(r, teacher.RefreshToken).Code, "refresh tokens cannot call the API")
	assert.Equal(t, http.StatusForbidden, call(r, student.AccessToken).Code)

	claims, err := Parse(teacher.AccessToken, testKey, testIssuer)
	require.NoError(t, err)
	require.NoError(t, revoker.Revoke(context.Background(), claims.ID, time.Minute))
	assert.Equal(t, http.StatusUnauthorized, call(r, teacher.AccessToken).Code)
}
