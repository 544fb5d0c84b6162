// Package models - person.go defines the Person record, the internal identity
// keyed by the identity provider's subject id. Persons are created lazily on
// first authenticated access or by the access sync job and are never
// hard-deleted by normal flows.
package models

import "time"

// Person represents an internal identity record.
type Person struct {
	ID        string    `db:"id" json:"id"`
	IdpID     *string   `db:"idp_id" json:"idp_id,omitempty"` // nil until synced
	FirstName string    `db:"first_name" json:"first_name"`
	LastName  string    `db:"last_name" json:"last_name"`
	Email     string    `db:"email" json:"email"`
	Username  string    `db:"username" json:"username"`
	Phone     *string   `db:"phone" json:"phone,omitempty"`
	Position  *string   `db:"position" json:"position,omitempty"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
