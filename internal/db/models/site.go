// Package models - site.go defines the Site record, a tenant subdivision.
package models

import "time"

// Site represents one location belonging to a client.
type Site struct {
	ID         string    `db:"id" json:"id"`
	ClientID   string    `db:"client_id" json:"client_id"`
	ExternalID string    `db:"external_id" json:"external_id"`
	Name       string    `db:"name" json:"name"`
	Active     bool      `db:"active" json:"active"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}
