// Package assets implements the asset endpoints. Every query here runs on a
// row-security handle built for the calling principal, so the handlers carry
// no tenant WHERE clauses of their own: a row the caller must not see simply
// does not come back.
package assets

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/shield-inspect/shield/internal/access"
	"github.com/shield-inspect/shield/internal/db/models"
	"github.com/shield-inspect/shield/internal/db/repositories"
	"github.com/shield-inspect/shield/internal/middleware"
	"github.com/shield-inspect/shield/internal/rls"
)

// Handlers serves the asset endpoints.
type Handlers struct {
	builder *rls.Builder
}

// NewHandlers creates the asset handlers over the row-security builder.
func NewHandlers(builder *rls.Builder) *Handlers {
	return &Handlers{builder: builder}
}

// pageRequest parses limit/offset/order query parameters.
func pageRequest(c *gin.Context) rls.PageRequest {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	return rls.PageRequest{
		Limit:   limit,
		Offset:  offset,
		OrderBy: c.Query("order_by"),
		Desc:    c.Query("order") == "desc",
	}
}

// ListAssets returns a page of assets visible to the caller
// GET /api/v1/assets
func (h *Handlers) ListAssets(c *gin.Context) {
	p := middleware.PrincipalFrom(c)

	var (
		page rls.Page[models.Asset]
		err  error
	)
	err = h.builder.WithViewContext(c.Request.Context(), p, middleware.AdminViewFrom(c), func(handle *rls.Handle) error {
		page, err = rls.FindManyForPage[models.Asset](c.Request.Context(), handle, "assets", "", nil, pageRequest(c))
		return err
	})
	if err != nil {
		slog.Error("failed to list assets", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list assets"})
		return
	}

	c.JSON(http.StatusOK, page)
}

// GetAsset returns a single asset if the caller's view includes it
// GET /api/v1/assets/:id
func (h *Handlers) GetAsset(c *gin.Context) {
	p := middleware.PrincipalFrom(c)
	id := c.Param("id")

	var asset *models.Asset
	err := h.builder.WithViewContext(c.Request.Context(), p, middleware.AdminViewFrom(c), func(handle *rls.Handle) error {
		repo := repositories.NewAssetRepository(handle.Ext())
		var err error
		asset, err = repo.GetByID(c.Request.Context(), id)
		return err
	})
	if err != nil {
		slog.Error("failed to get asset", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get asset"})
		return
	}

	// Absent and denied are indistinguishable under row security, and the
	// response must not say which.
	if asset == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Asset not found"})
		return
	}

	c.JSON(http.StatusOK, asset)
}

// CreateAssetRequest represents the request to register an asset
type CreateAssetRequest struct {
	ClientID     string `json:"client_id" binding:"required"`
	SiteID       string `json:"site_id" binding:"required"`
	Name         string `json:"name" binding:"required"`
	SerialNumber string `json:"serial_number" binding:"required"`
}

// CreateAsset registers a new asset. The insert runs under the caller's
// row-security context, so writing into a client or site outside the caller's
// grants fails at the policy, not in handler code.
// POST /api/v1/assets
func (h *Handlers) CreateAsset(c *gin.Context) {
	p := middleware.PrincipalFrom(c)

	var req CreateAssetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	asset := &models.Asset{
		ClientID:     req.ClientID,
		SiteID:       req.SiteID,
		Name:         req.Name,
		SerialNumber: req.SerialNumber,
		Status:       models.AssetStatusActive,
	}
	if p != nil && p.PersonID != "" {
		asset.OwnerPersonID = &p.PersonID
	}

	err := h.builder.WithUser(c.Request.Context(), p, func(handle *rls.Handle) error {
		repo := repositories.NewAssetRepository(handle.Ext())
		return repo.Create(c.Request.Context(), asset)
	})
	if err != nil {
		if rls.IsPolicyViolation(err) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Asset is outside your granted sites"})
			return
		}
		slog.Error("failed to create asset", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create asset"})
		return
	}

	c.JSON(http.StatusCreated, asset)
}

// Me returns the caller's resolved access: person id, reduced grants, and the
// active client-site pair. Useful for frontends deciding what to render.
// GET /api/v1/me
func Me(c *gin.Context) {
	p := middleware.PrincipalFrom(c)
	if p == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}

	active, _ := p.Active()
	c.JSON(http.StatusOK, gin.H{
		"person_id": p.PersonID,
		"email":     p.Email,
		"bootstrap": p.PersonID == "" && len(p.Grants) > 0,
		"grants":    p.Grants,
		"active": gin.H{
			"client_id":    active.ClientID,
			"site_id":      active.SiteID,
			"scope":        active.Scope,
			"capabilities": active.Capabilities,
		},
		"admin_view_allowed": p.HasCapability(access.CapabilityAdminView),
	})
}
