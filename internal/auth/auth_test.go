package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkin/internal/model"
)

const testKey = "test-signing-key"

var adminSession = model.Session{ID: "sess-1", Username: "root", Role: model.RoleAdmin}

func TestIssueAndParse(t *testing.T) {
	tok, err := Issue(adminSession, "checkin", testKey, time.Hour)
	require.NoError(t, err)

	claims, err := Parse(tok.Value, testKey, "checkin")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", claims.SessionID())
	assert.Equal(t, "root", claims.Username)
	assert.Equal(t, model.RoleAdmin, claims.Role)

	_, err = Parse(tok.Value, "other-key", "checkin")
	assert.Error(t, err)
	_, err = Parse(tok.Value, testKey, "someone-else")
	assert.Error(t, err)
}

func TestParseExpired(t *testing.T) {
	tok, err := Issue(adminSession, "checkin", testKey, -time.Minute)
	require.NoError(t, err)
	_, err = Parse(tok.Value, testKey, "checkin")
	assert.Error(t, err)
}

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	g := r.Group("/", SessionAuth(testKey, "checkin"))
	g.GET("/me", func(c *gin.Context) {
		claims, _ := ClaimsFrom(c)
		c.String(http.StatusOK, claims.Username)
	})
	g.GET("/admin", RequireAdmin(), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func TestSessionAuth(t *testing.T) {
	r := newRouter()
	admin, err := Issue(adminSession, "checkin", testKey, time.Hour)
	require.NoError(t, err)
	user, err := Issue(model.Session{ID: "sess-2", Username: "alice", Role: model.RoleUser}, "checkin", testKey, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		path   string
		header string
		cookie string
		status int
	}{
		{"no token", "/me", "", "", http.StatusUnauthorized},
		{"wrong scheme", "/me", "Basic abc", "", http.StatusUnauthorized},
		{"garbage", "/me", "Bearer abc", "", http.StatusUnauthorized},
		{"bearer", "/me", "Bearer " + user.Value, "", http.StatusOK},
		{"cookie", "/me", "", user.Value, http.StatusOK},
		{"user on admin route", "/admin", "Bearer " + user.Value, "", http.StatusForbidden},
		{"admin", "/admin", "bearer " + admin.Value, "", http.StatusNoContent},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			if tc.cookie != "" {
				req.AddCookie(&http.Cookie{Name: CookieName, Value: tc.cookie})
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.status, w.Code)
		})
	}
}
