package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const ctxClaims = "trust_session_claims"

// RequireToken returns a Gin middleware that enforces a valid session Bearer
// token. On success it injects the *Claims into the context.
func RequireToken(tokens *TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing bearer token",
			})
			return
		}

		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
		claims, err := tokens.Verify(tokenStr)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid token: " + err.Error(),
			})
			return
		}

		c.Set(ctxClaims, claims)
		c.Next()
	}
}

// RequireRole returns a Gin middleware that enforces one of the given roles.
// Must be mounted after RequireToken.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := ClaimsFromCtx(c)
		if claims == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authentication required",
			})
			return
		}
		for _, r := range roles {
			if claims.Role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error": "role " + claims.Role + " may not perform this action",
		})
	}
}

// ClaimsFromCtx retrieves the session claims injected by RequireToken.
// Returns nil when the request is unauthenticated.
func ClaimsFromCtx(c *gin.Context) *Claims {
	v, _ := c.Get(ctxClaims)
	claims, _ := v.(*Claims)
	return claims
}

// ActorFromCtx returns the acting operator's handle, or "" when the request
// is unauthenticated.
func ActorFromCtx(c *gin.Context) string {
	if claims := ClaimsFromCtx(c); claims != nil {
		return claims.Actor
	}
	return ""
}
