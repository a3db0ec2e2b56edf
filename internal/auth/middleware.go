package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"checkin/internal/model"
)

// CookieName is checked when no Authorization header is sent.
const CookieName = "checkin_session"

const claimsKey = "claims"

// SessionAuth enforces HS256 session tokens from a bearer header or the
// session cookie.
func SessionAuth(signingKey, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var tokenStr string
		if authz := c.GetHeader("Authorization"); authz != "" {
			parts := strings.SplitN(authz, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
				return
			}
			tokenStr = strings.TrimSpace(parts[1])
		} else if cookie, err := c.Cookie(CookieName); err == nil {
			tokenStr = cookie
		}
		if tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		claims, err := Parse(tokenStr, signingKey, issuer)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// RequireAdmin rejects callers whose token does not carry the admin role.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := ClaimsFrom(c)
		if !ok || claims.Role != model.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin role required"})
			return
		}
		c.Next()
	}
}

// ClaimsFrom returns the claims stored by SessionAuth.
func ClaimsFrom(c *gin.Context) (Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return Claims{}, false
	}
	claims, ok := v.(Claims)
	return claims, ok
}
