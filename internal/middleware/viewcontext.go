package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/shield-inspect/shield/internal/access"
)

const (
	// ViewHeader selects the caller's view for this request. The only
	// recognized value is "admin"; anything else (or absence) means the
	// default tenant view.
	ViewHeader = "X-Shield-View"

	// ContextKeyAdminView marks the request as running in the cross-tenant
	// admin view.
	ContextKeyAdminView = "admin_view"
)

// ViewContextMiddleware reads the view header and records whether this
// request runs in the admin view. The header can only ever widen a view the
// caller is already entitled to: admin view requires the admin-view
// capability in the principal's effective grants, so a spoofed header from an
// unprivileged caller is a 403, never an escalation.
func ViewContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		view := c.GetHeader(ViewHeader)
		if view == "" {
			c.Set(ContextKeyAdminView, false)
			c.Next()
			return
		}

		if view != "admin" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "Unknown view",
				"details": "Supported values for " + ViewHeader + ": admin",
			})
			return
		}

		p := PrincipalFrom(c)
		if p == nil || !p.HasCapability(access.CapabilityAdminView) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Admin view requires the admin-view capability",
			})
			return
		}

		c.Set(ContextKeyAdminView, true)
		c.Next()
	}
}

// AdminViewFrom reports whether the request runs in the admin view.
func AdminViewFrom(c *gin.Context) bool {
	return c.GetBool(ContextKeyAdminView)
}
