package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"emargement/internal/attendance"
)

const claimsKey = "claims"

// Require enforces bearer JWT tokens signed with HS256 and stores the
// parsed claims on the request context.
func Require(signingKey, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tokenStr := strings.TrimSpace(authz[len("bearer "):])
		claims, err := Parse(tokenStr, signingKey, issuer)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// RequireRole rejects requests whose actor holds none of the given roles.
// Fine-grained checks (owning instructor, roster membership) belong to the
// engine's authorization step, not here.
func RequireRole(roles ...attendance.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := ActorFrom(c)
		for _, r := range roles {
			if actor.Role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	}
}

// ActorFrom returns the authenticated actor stored by Require.
func ActorFrom(c *gin.Context) attendance.Actor {
	claimsAny, _ := c.Get(claimsKey)
	claims, _ := claimsAny.(Claims)
	return claims.Actor()
}
