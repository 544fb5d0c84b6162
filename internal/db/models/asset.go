// Package models - asset.go defines the Asset record, a piece of safety
// equipment owned by a client and stationed at a site. Assets are the
// representative tenant-scoped resource: their table carries the row-security
// policies that the RLS handle's session variables drive.
package models

import "time"

// AssetStatus enumerates the inspection lifecycle states of an asset.
type AssetStatus string

const (
	AssetStatusActive         AssetStatus = "active"
	AssetStatusNeedsService   AssetStatus = "needs_service"
	AssetStatusDecommissioned AssetStatus = "decommissioned"
)

// Asset represents one piece of safety equipment.
type Asset struct {
	ID            string      `db:"id" json:"id"`
	ClientID      string      `db:"client_id" json:"client_id"`
	SiteID        string      `db:"site_id" json:"site_id"`
	OwnerPersonID *string     `db:"owner_person_id" json:"owner_person_id,omitempty"`
	Name          string      `db:"name" json:"name"`
	SerialNumber  string      `db:"serial_number" json:"serial_number"`
	Status        AssetStatus `db:"status" json:"status"`
	LastInspected *time.Time  `db:"last_inspected_at" json:"last_inspected_at,omitempty"`
	CreatedAt     time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time   `db:"updated_at" json:"updated_at"`
}
