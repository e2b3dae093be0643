package middleware

import (
	"net/http"
	"strings"

	"github.com/Monthlyaway/shortlinkd/internal/auth"
	"github.com/Monthlyaway/shortlinkd/internal/model"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	creatorKey = "shortlinkd.creator"
	adminKey   = "shortlinkd.admin"
)

// TokenParser verifies a bearer token
type TokenParser interface {
	Parse(token string) (*auth.Claims, error)
}

// Identity resolves the caller once per request. No Authorization header
// means anonymous; a bad token is rejected with 401.
func Identity(tokens TokenParser, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Set(creatorKey, model.Anonymous())
			c.Next()
			return
		}

		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokens == nil {
			unauthorized(c, "Authorization must be a bearer token")
			return
		}

		claims, err := tokens.Parse(strings.TrimSpace(raw))
		if err != nil {
			logger.Debug("rejected token", zap.Error(err), zap.String("client_ip", c.ClientIP()))
			unauthorized(c, "Invalid or expired token")
			return
		}

		c.Set(creatorKey, model.Identified(claims.Subject))
		c.Set(adminKey, claims.IsAdmin())
		c.Next()
	}
}

// Caller returns the identity set by Identity. Requests that did not pass
// through Identity are treated as anonymous.
func Caller(c *gin.Context) (model.Creator, bool) {
	creator, _ := c.Get(creatorKey)
	cr, ok := creator.(model.Creator)
	if !ok {
		return model.Anonymous(), false
	}
	return cr, c.GetBool(adminKey)
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"code":    http.StatusUnauthorized,
		"message": message,
		"error":   "UNAUTHORIZED",
	})
}
