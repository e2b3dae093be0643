package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Monthlyaway/shortlinkd/internal/auth"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func identityRouter(t *testing.T) (*gin.Engine, *auth.TokenManager) {
	t.Helper()
	tokens, err := auth.NewTokenManager("test-secret")
	require.NoError(t, err)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestLogger(zap.NewNop()), Metrics(), Identity(tokens, zap.NewNop()))
	router.GET("/whoami", func(c *gin.Context) {
		creator, admin := Caller(c)
		c.JSON(http.StatusOK, gin.H{"creator": creator.String(), "admin": admin})
	})
	return router, tokens
}

func TestIdentity(t *testing.T) {
	router, tokens := identityRouter(t)

	userToken, err := tokens.Issue("alice", "", time.Hour)
	require.NoError(t, err)
	adminToken, err := tokens.Issue("root", auth.RoleAdmin, time.Hour)
	require.NoError(t, err)
	nobodyAdmin, err := tokens.Issue("", auth.RoleAdmin, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"anonymous", "", http.StatusOK, `{"admin":false,"creator":"anonymous"}`},
		{"user", "Bearer " + userToken, http.StatusOK, `{"admin":false,"creator":"alice"}`},
		{"admin", "Bearer " + adminToken, http.StatusOK, `{"admin":true,"creator":"root"}`},
		{"admin without subject", "Bearer " + nobodyAdmin, http.StatusUnauthorized, ""},
		{"garbage", "Bearer nope", http.StatusUnauthorized, ""},
		{"basic auth", "Basic YWxpY2U6cHc=", http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			if tt.body != "" {
				assert.JSONEq(t, tt.body, w.Body.String())
			}
		})
	}
}

func TestRequestLoggerSetsRequestID(t *testing.T) {
	router, _ := identityRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	_, err := uuid.Parse(w.Header().Get(RequestIDHeader))
	assert.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set(RequestIDHeader, "upstream-id")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "upstream-id", w.Header().Get(RequestIDHeader))
}
