// asset_repository.go implements AssetRepository for the representative
// tenant-scoped resource. All reads and writes are meant to run through an RLS
// handle; the row-security policies on the assets table do the tenant
// filtering, so no method here carries client/site WHERE clauses.
package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/shield-inspect/shield/internal/db/models"
)

// AssetRepository handles database operations for assets.
type AssetRepository struct {
	ext sqlx.ExtContext
}

// NewAssetRepository creates a new asset repository.
func NewAssetRepository(ext sqlx.ExtContext) *AssetRepository {
	return &AssetRepository{ext: ext}
}

// GetByID retrieves an asset. Under a user handle, an asset outside the
// caller's tenant scope comes back as not-found — that is the policy speaking,
// and callers must not retry around it.
func (r *AssetRepository) GetByID(ctx context.Context, id string) (*models.Asset, error) {
	query := `
		SELECT id, client_id, site_id, owner_person_id, name, serial_number, status, last_inspected_at, created_at, updated_at
		FROM assets
		WHERE id = $1
	`

	var a models.Asset
	err := sqlx.GetContext(ctx, r.ext, &a, query, id)
	if err == sql.ErrNoRows {
		return nil, nil // Not found (or denied by row security)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get asset: %w", err)
	}
	return &a, nil
}

// Create inserts an asset within the caller's scope.
func (r *AssetRepository) Create(ctx context.Context, a *models.Asset) error {
	query := `
		INSERT INTO assets (client_id, site_id, owner_person_id, name, serial_number, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`

	err := r.ext.QueryRowxContext(ctx, query,
		a.ClientID, a.SiteID, a.OwnerPersonID, a.Name, a.SerialNumber, a.Status,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create asset: %w", err)
	}
	return nil
}
