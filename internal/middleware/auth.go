// Package middleware provides Gin HTTP middleware for authentication,
// authorization, rate limiting, and security headers.
//
// Middleware ordering matters and is enforced in router.go:
//
//	Security → RateLimit → Auth → ViewContext → Capability → Handler
//
// Security headers run first so they appear on all responses including errors.
// Rate limiting runs before auth to block brute-force attacks before any DB work.
// Auth verifies the bearer token and resolves the principal; the view-context
// and capability middleware read from that context.
package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/shield-inspect/shield/internal/access"
	"github.com/shield-inspect/shield/internal/auth"
	"github.com/shield-inspect/shield/internal/telemetry"
)

const (
	// ContextKeyPrincipal is the gin context key holding the resolved *access.Principal.
	ContextKeyPrincipal = "principal"
	// ContextKeyIdentity is the gin context key holding the token's access.Identity.
	ContextKeyIdentity = "identity"
)

// IdentityVerifier validates a raw bearer token and returns the identity it
// asserts. Satisfied by auth.TokenVerifier.
type IdentityVerifier interface {
	Verify(ctx *gin.Context, rawToken string) (access.Identity, error)
}

// verifierFunc adapts the auth.TokenVerifier signature (context.Context) to
// the gin-flavored interface above.
type verifierFunc func(c *gin.Context, rawToken string) (access.Identity, error)

func (f verifierFunc) Verify(c *gin.Context, rawToken string) (access.Identity, error) {
	return f(c, rawToken)
}

// KeycloakVerifier wraps an auth.TokenVerifier for use with AuthMiddleware.
func KeycloakVerifier(v *auth.TokenVerifier) IdentityVerifier {
	return verifierFunc(func(c *gin.Context, rawToken string) (access.Identity, error) {
		return v.Verify(c.Request.Context(), rawToken)
	})
}

// AuthMiddleware validates the bearer token and resolves the caller's
// principal: internal person id plus reduced effective grants. Requests
// without a valid token are rejected; a valid token whose subject has no
// provisioned access still passes (with the bootstrap fallback applied by
// the resolver), and the capability middleware decides what it may do.
func AuthMiddleware(verifier IdentityVerifier, resolver *access.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Missing authorization header",
			})
			return
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization header must start with 'Bearer '",
			})
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization token is empty",
			})
			return
		}

		// Keycloak-issued tokens are the primary path; the service-signed
		// HS256 token is a fallback for internal tooling.
		ident, err := verifier.Verify(c, token)
		if err != nil {
			claims, jwtErr := auth.ValidateJWT(token)
			if jwtErr != nil {
				telemetry.PrincipalResolutionsTotal.WithLabelValues("invalid_token").Inc()
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "Invalid credentials",
				})
				return
			}
			ident = claims.Identity()
		}

		principal, err := resolver.Resolve(c.Request.Context(), ident)
		if err != nil {
			telemetry.PrincipalResolutionsTotal.WithLabelValues("error").Inc()
			slog.Error("failed to resolve principal", "sub", ident.Sub, "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to resolve access",
			})
			return
		}

		// Grants without a person record can only come from the bootstrap
		// fallback; persisted grants require a synced person.
		if principal.PersonID == "" && len(principal.Grants) > 0 {
			telemetry.PrincipalResolutionsTotal.WithLabelValues("bootstrap").Inc()
		} else {
			telemetry.PrincipalResolutionsTotal.WithLabelValues("ok").Inc()
		}

		c.Set(ContextKeyIdentity, ident)
		c.Set(ContextKeyPrincipal, principal)
		c.Next()
	}
}

// PrincipalFrom returns the resolved principal from the gin context, or nil
// when the request was not authenticated.
func PrincipalFrom(c *gin.Context) *access.Principal {
	v, ok := c.Get(ContextKeyPrincipal)
	if !ok {
		return nil
	}
	p, ok := v.(*access.Principal)
	if !ok {
		return nil
	}
	return p
}
