// roles.go implements handlers for role management: named capability sets at
// a scope, either global or owned by a single client.
package admin

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/shield-inspect/shield/internal/access"
	"github.com/shield-inspect/shield/internal/cache"
	"github.com/shield-inspect/shield/internal/db/models"
	"github.com/shield-inspect/shield/internal/db/repositories"
)

// RoleHandlers handles role management endpoints
type RoleHandlers struct {
	roleRepo *repositories.RoleRepository
	cache    *cache.Cache // may be nil when the cache is disabled
}

// NewRoleHandlers creates a new role handlers instance
func NewRoleHandlers(roleRepo *repositories.RoleRepository, c *cache.Cache) *RoleHandlers {
	return &RoleHandlers{roleRepo: roleRepo, cache: c}
}

// ListRoles returns all roles
// GET /api/v1/admin/roles
func (h *RoleHandlers) ListRoles(c *gin.Context) {
	roles, err := h.roleRepo.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list roles"})
		return
	}

	c.JSON(http.StatusOK, roles)
}

// GetRole returns a single role
// GET /api/v1/admin/roles/:id
func (h *RoleHandlers) GetRole(c *gin.Context) {
	role, err := h.roleRepo.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get role"})
		return
	}

	if role == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Role not found"})
		return
	}

	c.JSON(http.StatusOK, role)
}

// RoleRequest represents the request to create or update a role
type RoleRequest struct {
	ClientID           *string  `json:"client_id"`
	Name               string   `json:"name" binding:"required"`
	Description        *string  `json:"description"`
	Scope              string   `json:"scope" binding:"required"`
	Capabilities       []string `json:"capabilities" binding:"required"`
	ClientAssignable   bool     `json:"client_assignable"`
	NotificationGroups []string `json:"notification_groups"`
}

// toModel converts the request into a role record, without an ID.
func (req *RoleRequest) toModel() *models.Role {
	caps := make([]access.Capability, 0, len(req.Capabilities))
	for _, c := range req.Capabilities {
		caps = append(caps, access.Capability(c))
	}
	return &models.Role{
		ClientID:           req.ClientID,
		Name:               req.Name,
		Description:        req.Description,
		Scope:              access.Scope(req.Scope),
		Capabilities:       caps,
		ClientAssignable:   req.ClientAssignable,
		NotificationGroups: req.NotificationGroups,
	}
}

// CreateRole creates a new role
// POST /api/v1/admin/roles
func (h *RoleHandlers) CreateRole(c *gin.Context) {
	var req RoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	role := req.toModel()
	if err := role.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.roleRepo.Create(c.Request.Context(), role); err != nil {
		if errors.Is(err, models.ErrDuplicateRoleName) {
			c.JSON(http.StatusConflict, gin.H{"error": "Role with this name already exists"})
			return
		}
		slog.Error("failed to create role", "name", role.Name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create role"})
		return
	}

	c.JSON(http.StatusCreated, role)
}

// UpdateRole updates an existing role's definition. System roles may be
// updated (their capability sets evolve with the product) but not deleted.
// PUT /api/v1/admin/roles/:id
func (h *RoleHandlers) UpdateRole(c *gin.Context) {
	var req RoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	role := req.toModel()
	role.ID = c.Param("id")
	if err := role.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.roleRepo.Update(c.Request.Context(), role); err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			c.JSON(http.StatusNotFound, gin.H{"error": "Role not found"})
		case errors.Is(err, models.ErrDuplicateRoleName):
			c.JSON(http.StatusConflict, gin.H{"error": "Role with this name already exists"})
		default:
			slog.Error("failed to update role", "id", role.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update role"})
		}
		return
	}

	// Holders of this role pick up the new capability set on their next
	// request; the cached copy must not outlive the change.
	if h.cache != nil {
		if err := h.cache.InvalidateRole(c.Request.Context(), role.ID); err != nil {
			slog.Warn("failed to invalidate role cache", "id", role.ID, "error", err)
		}
	}

	c.JSON(http.StatusOK, role)
}

// DeleteRole deletes a role that is not a system role and has no grants
// referencing it.
// DELETE /api/v1/admin/roles/:id
func (h *RoleHandlers) DeleteRole(c *gin.Context) {
	id := c.Param("id")

	if err := h.roleRepo.Delete(c.Request.Context(), id); err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			c.JSON(http.StatusNotFound, gin.H{"error": "Role not found"})
		case errors.Is(err, models.ErrSystemRoleImmutable):
			c.JSON(http.StatusConflict, gin.H{"error": "System roles cannot be deleted"})
		case errors.Is(err, models.ErrRoleInUse):
			c.JSON(http.StatusConflict, gin.H{"error": "Role is referenced by access grants"})
		default:
			slog.Error("failed to delete role", "id", id, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete role"})
		}
		return
	}

	c.Status(http.StatusNoContent)
}

// ListCapabilities returns the capability vocabulary roles may be built from
// GET /api/v1/admin/capabilities
func (h *RoleHandlers) ListCapabilities(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"capabilities": access.AllCapabilities(),
		"scopes":       access.AllScopes(),
	})
}

// GetRoleCapabilities returns just the capability tags for a role. This is
// the hot lookup frontends poll for permission gating, so it reads through
// the cache when one is configured.
// GET /api/v1/admin/roles/:id/capabilities
func (h *RoleHandlers) GetRoleCapabilities(c *gin.Context) {
	id := c.Param("id")

	load := func(ctx context.Context) ([]string, error) {
		role, err := h.roleRepo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if role == nil {
			return nil, errRoleNotFound
		}
		caps := make([]string, 0, len(role.Capabilities))
		for _, cap := range role.Capabilities {
			caps = append(caps, string(cap))
		}
		return caps, nil
	}

	var (
		caps []string
		err  error
	)
	if h.cache != nil {
		caps, err = h.cache.GetRoleCapabilities(c.Request.Context(), id, load)
	} else {
		caps, err = load(c.Request.Context())
	}
	if err != nil {
		if errors.Is(err, errRoleNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Role not found"})
			return
		}
		slog.Error("failed to load role capabilities", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load capabilities"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"role_id": id, "capabilities": caps})
}

var errRoleNotFound = errors.New("role not found")
