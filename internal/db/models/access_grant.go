// Package models - access_grant.go defines the AccessGrant record: one
// (person, client, site, role) assignment, unique on that 4-tuple.
package models

import (
	"errors"
	"time"

	"github.com/shield-inspect/shield/internal/access"
)

// Domain errors surfaced by role and grant operations. Handlers map these to
// HTTP statuses; repositories and services return them unwrapped so errors.Is
// works across layers.
var (
	ErrClientAssignableScope = errors.New("client-assignable roles cannot carry GLOBAL or SYSTEM scope")
	ErrDuplicateRoleName     = errors.New("role name already exists in this client scope")
	ErrSystemRoleImmutable   = errors.New("system roles cannot be deleted")
	ErrRoleInUse             = errors.New("role is referenced by access grants")
	ErrDuplicateGrant        = errors.New("person already holds this grant")
)

// AccessGrant assigns a role to a person at a client+site. IsPrimary marks the
// grants established on a person's first sync pass, used as the default
// client-site association.
type AccessGrant struct {
	ID        string    `db:"id" json:"id"`
	PersonID  string    `db:"person_id" json:"person_id"`
	ClientID  string    `db:"client_id" json:"client_id"`
	SiteID    string    `db:"site_id" json:"site_id"`
	RoleID    string    `db:"role_id" json:"role_id"`
	IsPrimary bool      `db:"is_primary" json:"is_primary"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// AccessGrantWithRole is a grant joined with its role's scope and capability
// set, as loaded for principal resolution.
type AccessGrantWithRole struct {
	AccessGrant
	RoleScope        access.Scope        `db:"scope"`
	RoleCapabilities []access.Capability `db:"-"`
}

// ToAccessGrant converts the joined row into the pure reduction input.
func (g *AccessGrantWithRole) ToAccessGrant() access.Grant {
	return access.Grant{
		RoleID:       g.RoleID,
		ClientID:     g.ClientID,
		SiteID:       g.SiteID,
		Scope:        g.RoleScope,
		Capabilities: g.RoleCapabilities,
		IsPrimary:    g.IsPrimary,
	}
}
