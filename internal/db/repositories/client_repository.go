// client_repository.go implements ClientRepository and SiteRepository: tenant
// lookups plus the external-id maps the sync job pre-loads once per run.
package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/shield-inspect/shield/internal/db/models"
)

// ClientRepository handles database operations for client tenants.
type ClientRepository struct {
	ext sqlx.ExtContext
}

// NewClientRepository creates a new client repository.
func NewClientRepository(ext sqlx.ExtContext) *ClientRepository {
	return &ClientRepository{ext: ext}
}

// GetByID retrieves a client by internal id.
func (r *ClientRepository) GetByID(ctx context.Context, id string) (*models.Client, error) {
	query := `
		SELECT id, external_id, name, active, created_at, updated_at
		FROM clients
		WHERE id = $1
	`

	var c models.Client
	err := sqlx.GetContext(ctx, r.ext, &c, query, id)
	if err == sql.ErrNoRows {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	return &c, nil
}

// ExternalIDMap returns externalID → internal id for all active clients in
// one query, avoiding per-user lookups during sync.
func (r *ClientRepository) ExternalIDMap(ctx context.Context) (map[string]string, error) {
	rows, err := r.ext.QueryxContext(ctx, `SELECT external_id, id FROM clients WHERE active = true`)
	if err != nil {
		return nil, fmt.Errorf("failed to load client external ids: %w", err)
	}
	defer rows.Close()

	m := make(map[string]string)
	for rows.Next() {
		var externalID, id string
		if err := rows.Scan(&externalID, &id); err != nil {
			return nil, err
		}
		m[externalID] = id
	}
	return m, rows.Err()
}

// SiteRepository handles database operations for sites.
type SiteRepository struct {
	ext sqlx.ExtContext
}

// NewSiteRepository creates a new site repository.
func NewSiteRepository(ext sqlx.ExtContext) *SiteRepository {
	return &SiteRepository{ext: ext}
}

// GetByID retrieves a site by internal id.
func (r *SiteRepository) GetByID(ctx context.Context, id string) (*models.Site, error) {
	query := `
		SELECT id, client_id, external_id, name, active, created_at, updated_at
		FROM sites
		WHERE id = $1
	`

	var s models.Site
	err := sqlx.GetContext(ctx, r.ext, &s, query, id)
	if err == sql.ErrNoRows {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get site: %w", err)
	}
	return &s, nil
}

// ExternalIDMap returns externalID → internal id for all active sites.
func (r *SiteRepository) ExternalIDMap(ctx context.Context) (map[string]string, error) {
	rows, err := r.ext.QueryxContext(ctx, `SELECT external_id, id FROM sites WHERE active = true`)
	if err != nil {
		return nil, fmt.Errorf("failed to load site external ids: %w", err)
	}
	defer rows.Close()

	m := make(map[string]string)
	for rows.Next() {
		var externalID, id string
		if err := rows.Scan(&externalID, &id); err != nil {
			return nil, err
		}
		m[externalID] = id
	}
	return m, rows.Err()
}
