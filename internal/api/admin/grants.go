// grants.go implements handlers for access grant administration: assigning
// roles to persons at a client+site and revoking those assignments.
package admin

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/shield-inspect/shield/internal/db/models"
	"github.com/shield-inspect/shield/internal/db/repositories"
)

// GrantHandlers handles access grant endpoints
type GrantHandlers struct {
	grantRepo  *repositories.AccessGrantRepository
	personRepo *repositories.PersonRepository
	roleRepo   *repositories.RoleRepository
}

// NewGrantHandlers creates a new grant handlers instance
func NewGrantHandlers(grantRepo *repositories.AccessGrantRepository, personRepo *repositories.PersonRepository, roleRepo *repositories.RoleRepository) *GrantHandlers {
	return &GrantHandlers{
		grantRepo:  grantRepo,
		personRepo: personRepo,
		roleRepo:   roleRepo,
	}
}

// ListPersonGrants returns all grants held by a person
// GET /api/v1/admin/persons/:id/grants
func (h *GrantHandlers) ListPersonGrants(c *gin.Context) {
	personID := c.Param("id")

	person, err := h.personRepo.GetByID(c.Request.Context(), personID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load person"})
		return
	}
	if person == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Person not found"})
		return
	}

	grants, err := h.grantRepo.ListForPerson(c.Request.Context(), personID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list grants"})
		return
	}

	c.JSON(http.StatusOK, grants)
}

// CreateGrantRequest represents the request to grant a role to a person
type CreateGrantRequest struct {
	ClientID  string `json:"client_id" binding:"required"`
	SiteID    string `json:"site_id" binding:"required"`
	RoleID    string `json:"role_id" binding:"required"`
	IsPrimary bool   `json:"is_primary"`
}

// CreateGrant assigns a role to a person at a client+site
// POST /api/v1/admin/persons/:id/grants
func (h *GrantHandlers) CreateGrant(c *gin.Context) {
	personID := c.Param("id")

	var req CreateGrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	person, err := h.personRepo.GetByID(c.Request.Context(), personID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load person"})
		return
	}
	if person == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Person not found"})
		return
	}

	role, err := h.roleRepo.GetByID(c.Request.Context(), req.RoleID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load role"})
		return
	}
	if role == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Role does not exist"})
		return
	}

	// Client-owned roles may only be granted within their owning client.
	if role.ClientID != nil && *role.ClientID != req.ClientID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Role belongs to a different client"})
		return
	}

	grant := &models.AccessGrant{
		PersonID:  personID,
		ClientID:  req.ClientID,
		SiteID:    req.SiteID,
		RoleID:    req.RoleID,
		IsPrimary: req.IsPrimary,
	}

	if err := h.grantRepo.Create(c.Request.Context(), grant); err != nil {
		if errors.Is(err, models.ErrDuplicateGrant) {
			c.JSON(http.StatusConflict, gin.H{"error": "Person already holds this grant"})
			return
		}
		slog.Error("failed to create grant", "person_id", personID, "role_id", req.RoleID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create grant"})
		return
	}

	c.JSON(http.StatusCreated, grant)
}

// DeleteGrant revokes a grant
// DELETE /api/v1/admin/grants/:id
func (h *GrantHandlers) DeleteGrant(c *gin.Context) {
	id := c.Param("id")

	grant, err := h.grantRepo.GetByID(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load grant"})
		return
	}
	if grant == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Grant not found"})
		return
	}

	if err := h.grantRepo.Delete(c.Request.Context(), id); err != nil {
		slog.Error("failed to delete grant", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete grant"})
		return
	}

	c.Status(http.StatusNoContent)
}
