// Package models - client.go defines the Client tenant record. ExternalID is
// the identifier carried by identity-provider user attributes and is distinct
// from the internal primary key.
package models

import "time"

// Client represents a tenant of the platform.
type Client struct {
	ID         string    `db:"id" json:"id"`
	ExternalID string    `db:"external_id" json:"external_id"`
	Name       string    `db:"name" json:"name"`
	Active     bool      `db:"active" json:"active"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}
