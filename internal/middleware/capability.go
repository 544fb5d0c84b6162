// Capability checks are evaluated at request time against the principal's
// reduced grants rather than being embedded in the token. This is a deliberate
// design choice: when a role's capability set is updated, the change takes
// effect on the holder's next request without invalidating or reissuing their
// token.

package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/shield-inspect/shield/internal/access"
)

// RequireCapability rejects requests whose principal lacks the capability in
// its effective grant set.
func RequireCapability(cap access.Capability) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := PrincipalFrom(c)
		if p == nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Insufficient permissions",
			})
			return
		}

		if !p.HasCapability(cap) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "Missing required capability",
				"details": "Required capability: " + string(cap),
			})
			return
		}

		c.Next()
	}
}

// RequireAnyCapability passes when the principal holds at least one of the
// given capabilities.
func RequireAnyCapability(caps ...access.Capability) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := PrincipalFrom(c)
		if p == nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Insufficient permissions",
			})
			return
		}

		for _, cap := range caps {
			if p.HasCapability(cap) {
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error": "Missing required capability",
		})
	}
}

// RequireScopeAtLeast rejects principals whose broadest grant sits below the
// given scope tier.
func RequireScopeAtLeast(threshold access.Scope) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := PrincipalFrom(c)
		if p == nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Insufficient permissions",
			})
			return
		}

		if !p.ScopeAtLeast(threshold) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "Insufficient scope",
				"details": "Required scope: " + string(threshold),
			})
			return
		}

		c.Next()
	}
}
