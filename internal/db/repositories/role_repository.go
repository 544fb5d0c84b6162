// role_repository.go implements RoleRepository: role CRUD with the scope and
// uniqueness invariants, system-role seeding, and the bulk lookup the access
// sync job uses to resolve shield_role_id attributes.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/shield-inspect/shield/internal/db/models"
)

const roleColumns = `id, client_id, name, description, scope, capabilities, is_system, client_assignable, notification_groups, created_at, updated_at`

// RoleRepository handles database operations for roles.
type RoleRepository struct {
	ext sqlx.ExtContext
}

// NewRoleRepository creates a new role repository.
func NewRoleRepository(ext sqlx.ExtContext) *RoleRepository {
	return &RoleRepository{ext: ext}
}

func scanRole(scan func(dest ...interface{}) error) (*models.Role, error) {
	var role models.Role
	var capsJSON, groupsJSON []byte
	err := scan(&role.ID, &role.ClientID, &role.Name, &role.Description, &role.Scope,
		&capsJSON, &role.IsSystem, &role.ClientAssignable, &groupsJSON,
		&role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(capsJSON, &role.Capabilities); err != nil {
		return nil, fmt.Errorf("failed to decode role capabilities: %w", err)
	}
	if err := json.Unmarshal(groupsJSON, &role.NotificationGroups); err != nil {
		return nil, fmt.Errorf("failed to decode role notification groups: %w", err)
	}
	return &role, nil
}

// List returns all roles, global first, then per-client, ordered by name.
func (r *RoleRepository) List(ctx context.Context) ([]*models.Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles ORDER BY client_id NULLS FIRST, name`

	rows, err := r.ext.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []*models.Role
	for rows.Next() {
		role, err := scanRole(rows.Scan)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// GetByID retrieves a role by id.
func (r *RoleRepository) GetByID(ctx context.Context, id string) (*models.Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE id = $1`

	role, err := scanRole(r.ext.QueryRowxContext(ctx, query, id).Scan)
	if err == sql.ErrNoRows {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return role, nil
}

// ListByIDs retrieves the subset of ids that exist. Used by the sync job to
// resolve shield_role_id group attributes in one query.
func (r *RoleRepository) ListByIDs(ctx context.Context, ids []string) ([]*models.Role, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + roleColumns + ` FROM roles WHERE id = ANY($1)`

	rows, err := r.ext.QueryxContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to list roles by ids: %w", err)
	}
	defer rows.Close()

	var roles []*models.Role
	for rows.Next() {
		role, err := scanRole(rows.Scan)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// Create inserts a new role. The caller is expected to have run
// role.Validate(); the name-uniqueness invariant is enforced here via the
// unique indexes and surfaced as ErrDuplicateRoleName.
func (r *RoleRepository) Create(ctx context.Context, role *models.Role) error {
	capsJSON, err := json.Marshal(role.Capabilities)
	if err != nil {
		return err
	}
	groupsJSON, err := json.Marshal(role.NotificationGroups)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO roles (client_id, name, description, scope, capabilities, is_system, client_assignable, notification_groups)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`

	err = r.ext.QueryRowxContext(ctx, query,
		role.ClientID, role.Name, role.Description, role.Scope,
		capsJSON, role.IsSystem, role.ClientAssignable, groupsJSON,
	).Scan(&role.ID, &role.CreatedAt, &role.UpdatedAt)
	if isUniqueViolation(err) {
		return models.ErrDuplicateRoleName
	}
	if err != nil {
		return fmt.Errorf("failed to create role: %w", err)
	}
	return nil
}

// Update modifies a role in place. System roles are updatable; only deletion
// is blocked for them.
func (r *RoleRepository) Update(ctx context.Context, role *models.Role) error {
	capsJSON, err := json.Marshal(role.Capabilities)
	if err != nil {
		return err
	}
	groupsJSON, err := json.Marshal(role.NotificationGroups)
	if err != nil {
		return err
	}

	query := `
		UPDATE roles
		SET name = $2, description = $3, scope = $4, capabilities = $5,
		    client_assignable = $6, notification_groups = $7, updated_at = NOW()
		WHERE id = $1
	`

	res, err := r.ext.ExecContext(ctx, query,
		role.ID, role.Name, role.Description, role.Scope,
		capsJSON, role.ClientAssignable, groupsJSON)
	if isUniqueViolation(err) {
		return models.ErrDuplicateRoleName
	}
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes a non-system role that no access grant references. Returns
// ErrSystemRoleImmutable or ErrRoleInUse when blocked, sql.ErrNoRows when the
// role does not exist.
func (r *RoleRepository) Delete(ctx context.Context, id string) error {
	role, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if role == nil {
		return sql.ErrNoRows
	}
	if role.IsSystem {
		return models.ErrSystemRoleImmutable
	}

	// The NOT EXISTS guard repeats the in-use check atomically with the
	// delete, so a grant created between check and delete still blocks it.
	query := `
		DELETE FROM roles
		WHERE id = $1
		  AND NOT EXISTS (SELECT 1 FROM access_grants WHERE role_id = $1)
	`
	res, err := r.ext.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrRoleInUse
	}
	return nil
}

// EnsureSystemRoles seeds the built-in roles once. Existing rows are left
// untouched so in-place admin edits survive restarts.
func (r *RoleRepository) EnsureSystemRoles(ctx context.Context) error {
	query := `
		INSERT INTO roles (client_id, name, description, scope, capabilities, is_system, client_assignable, notification_groups)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (name) WHERE client_id IS NULL DO NOTHING
	`

	for _, role := range models.SystemRoles() {
		capsJSON, err := json.Marshal(role.Capabilities)
		if err != nil {
			return err
		}
		groupsJSON, err := json.Marshal(role.NotificationGroups)
		if err != nil {
			return err
		}
		if _, err := r.ext.ExecContext(ctx, query,
			role.ClientID, role.Name, role.Description, role.Scope,
			capsJSON, role.IsSystem, role.ClientAssignable, groupsJSON); err != nil {
			return fmt.Errorf("failed to seed system role %s: %w", role.Name, err)
		}
	}
	return nil
}

// isUniqueViolation reports whether err is a Postgres unique_violation.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	pqErr, ok := err.(*pq.Error)
	return ok && pqErr.Code == "23505"
}
