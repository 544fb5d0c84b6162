// person_repository.go implements PersonRepository, providing lookups and the
// idempotent upsert used by the access sync job.
package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/shield-inspect/shield/internal/db/models"
)

// PersonRepository handles database operations for persons. It is constructed
// over an sqlx.ExtContext so the same code runs against the shared pool or
// inside an RLS handle's transaction.
type PersonRepository struct {
	ext sqlx.ExtContext
}

// NewPersonRepository creates a new person repository.
func NewPersonRepository(ext sqlx.ExtContext) *PersonRepository {
	return &PersonRepository{ext: ext}
}

// GetByID retrieves a person by internal id.
func (r *PersonRepository) GetByID(ctx context.Context, id string) (*models.Person, error) {
	query := `
		SELECT id, idp_id, first_name, last_name, email, username, phone, position, active, created_at, updated_at
		FROM persons
		WHERE id = $1
	`

	var p models.Person
	err := sqlx.GetContext(ctx, r.ext, &p, query, id)
	if err == sql.ErrNoRows {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get person: %w", err)
	}
	return &p, nil
}

// GetByIdpID retrieves a person by identity-provider subject id.
func (r *PersonRepository) GetByIdpID(ctx context.Context, idpID string) (*models.Person, error) {
	query := `
		SELECT id, idp_id, first_name, last_name, email, username, phone, position, active, created_at, updated_at
		FROM persons
		WHERE idp_id = $1
	`

	var p models.Person
	err := sqlx.GetContext(ctx, r.ext, &p, query, idpID)
	if err == sql.ErrNoRows {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get person by idp id: %w", err)
	}
	return &p, nil
}

// GetPersonIDByIdpID returns "" when no person record exists yet. Satisfies
// access.PersonDirectory for principal resolution.
func (r *PersonRepository) GetPersonIDByIdpID(ctx context.Context, idpID string) (string, error) {
	p, err := r.GetByIdpID(ctx, idpID)
	if err != nil {
		return "", err
	}
	if p == nil {
		return "", nil
	}
	return p.ID, nil
}

// UpsertByIdpID creates the person for an identity-provider subject or patches
// the upstream-owned attributes (names, email, username) when the record
// already exists. Re-running with unchanged input is a no-op update.
func (r *PersonRepository) UpsertByIdpID(ctx context.Context, idpID, firstName, lastName, email, username string) (*models.Person, error) {
	query := `
		INSERT INTO persons (idp_id, first_name, last_name, email, username, active)
		VALUES ($1, $2, $3, $4, $5, true)
		ON CONFLICT (idp_id) DO UPDATE
		SET first_name = EXCLUDED.first_name,
		    last_name  = EXCLUDED.last_name,
		    email      = EXCLUDED.email,
		    username   = EXCLUDED.username,
		    updated_at = NOW()
		RETURNING id, idp_id, first_name, last_name, email, username, phone, position, active, created_at, updated_at
	`

	var p models.Person
	err := sqlx.GetContext(ctx, r.ext, &p, query, idpID, firstName, lastName, email, username)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert person %s: %w", idpID, err)
	}
	return &p, nil
}
