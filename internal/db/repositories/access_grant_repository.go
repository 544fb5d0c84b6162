// access_grant_repository.go implements AccessGrantRepository: grant reads for
// principal resolution and the upsert/count operations the access sync job
// runs inside its per-user transactions.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/shield-inspect/shield/internal/access"
	"github.com/shield-inspect/shield/internal/db/models"
)

// AccessGrantRepository handles database operations for access grants.
type AccessGrantRepository struct {
	ext sqlx.ExtContext
}

// NewAccessGrantRepository creates a new access grant repository.
func NewAccessGrantRepository(ext sqlx.ExtContext) *AccessGrantRepository {
	return &AccessGrantRepository{ext: ext}
}

// ListGrantsForPerson loads all grants for a person joined with each role's
// scope and capability set, ready for reduction. Satisfies access.GrantSource.
func (r *AccessGrantRepository) ListGrantsForPerson(ctx context.Context, personID string) ([]access.Grant, error) {
	query := `
		SELECT ag.role_id, ag.client_id, ag.site_id, ag.is_primary, r.scope, r.capabilities
		FROM access_grants ag
		JOIN roles r ON r.id = ag.role_id
		WHERE ag.person_id = $1
		ORDER BY ag.created_at
	`

	rows, err := r.ext.QueryxContext(ctx, query, personID)
	if err != nil {
		return nil, fmt.Errorf("failed to list grants for person: %w", err)
	}
	defer rows.Close()

	var grants []access.Grant
	for rows.Next() {
		var g access.Grant
		var capsJSON []byte
		if err := rows.Scan(&g.RoleID, &g.ClientID, &g.SiteID, &g.IsPrimary, &g.Scope, &capsJSON); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(capsJSON, &g.Capabilities); err != nil {
			return nil, fmt.Errorf("failed to decode grant capabilities: %w", err)
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// CountForPerson returns the number of grants a person currently holds. The
// sync job uses a zero count to decide primary-grant bootstrapping.
func (r *AccessGrantRepository) CountForPerson(ctx context.Context, personID string) (int, error) {
	var count int
	err := r.ext.QueryRowxContext(ctx,
		`SELECT COUNT(*) FROM access_grants WHERE person_id = $1`, personID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count grants for person: %w", err)
	}
	return count, nil
}

// Upsert creates the grant or leaves an existing row untouched. The unique
// (person_id, client_id, site_id, role_id) key makes re-running the sync a
// no-op; existing is_primary values are never rewritten.
func (r *AccessGrantRepository) Upsert(ctx context.Context, g *models.AccessGrant) error {
	query := `
		INSERT INTO access_grants (person_id, client_id, site_id, role_id, is_primary)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (person_id, client_id, site_id, role_id) DO NOTHING
	`

	_, err := r.ext.ExecContext(ctx, query, g.PersonID, g.ClientID, g.SiteID, g.RoleID, g.IsPrimary)
	if err != nil {
		return fmt.Errorf("failed to upsert access grant: %w", err)
	}
	return nil
}

// Create inserts a grant via the admin API. Unlike Upsert it surfaces the
// duplicate as an error so the API can answer with a conflict.
func (r *AccessGrantRepository) Create(ctx context.Context, g *models.AccessGrant) error {
	query := `
		INSERT INTO access_grants (person_id, client_id, site_id, role_id, is_primary)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`

	err := r.ext.QueryRowxContext(ctx, query,
		g.PersonID, g.ClientID, g.SiteID, g.RoleID, g.IsPrimary,
	).Scan(&g.ID, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return models.ErrDuplicateGrant
		}
		return fmt.Errorf("failed to create access grant: %w", err)
	}
	return nil
}

// GetByID retrieves a grant by id.
func (r *AccessGrantRepository) GetByID(ctx context.Context, id string) (*models.AccessGrant, error) {
	query := `
		SELECT id, person_id, client_id, site_id, role_id, is_primary, created_at, updated_at
		FROM access_grants
		WHERE id = $1
	`

	var g models.AccessGrant
	err := sqlx.GetContext(ctx, r.ext, &g, query, id)
	if err == sql.ErrNoRows {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get access grant: %w", err)
	}
	return &g, nil
}

// ListForPerson returns a person's raw grant rows, most recent first.
func (r *AccessGrantRepository) ListForPerson(ctx context.Context, personID string) ([]*models.AccessGrant, error) {
	query := `
		SELECT id, person_id, client_id, site_id, role_id, is_primary, created_at, updated_at
		FROM access_grants
		WHERE person_id = $1
		ORDER BY created_at DESC
	`

	var grants []*models.AccessGrant
	if err := sqlx.SelectContext(ctx, r.ext, &grants, query, personID); err != nil {
		return nil, fmt.Errorf("failed to list access grants: %w", err)
	}
	return grants, nil
}

// Delete removes a grant. Returns sql.ErrNoRows when it does not exist.
func (r *AccessGrantRepository) Delete(ctx context.Context, id string) error {
	res, err := r.ext.ExecContext(ctx, `DELETE FROM access_grants WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete access grant: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
