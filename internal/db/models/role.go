// Package models - role.go defines the Role model: a named capability set at a
// given scope, optionally owned by a client, plus the seeded system roles.
package models

import (
	"time"

	"github.com/shield-inspect/shield/internal/access"
)

// Role represents a named set of capabilities at a scope.
//
// Invariants enforced at the API boundary:
//   - a ClientAssignable role's scope must be strictly below GLOBAL;
//   - Name is unique within its client scope (nil ClientID = global);
//   - IsSystem roles are seeded once, updatable in place, never deletable;
//   - deletion is blocked while any access grant references the role.
type Role struct {
	ID                 string              `db:"id" json:"id"`
	ClientID           *string             `db:"client_id" json:"client_id,omitempty"` // nil = global role
	Name               string              `db:"name" json:"name"`
	Description        *string             `db:"description" json:"description,omitempty"`
	Scope              access.Scope        `db:"scope" json:"scope"`
	Capabilities       []access.Capability `db:"-" json:"capabilities"`
	IsSystem           bool                `db:"is_system" json:"is_system"`
	ClientAssignable   bool                `db:"client_assignable" json:"client_assignable"`
	NotificationGroups []string            `db:"-" json:"notification_groups"`
	CreatedAt          time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time           `db:"updated_at" json:"updated_at"`
}

// Validate checks the role definition invariants shared by create and update.
func (r *Role) Validate() error {
	if err := access.ValidateScope(r.Scope); err != nil {
		return err
	}
	if err := access.ValidateCapabilities(r.Capabilities); err != nil {
		return err
	}
	if r.ClientAssignable && access.IsScopeAtLeast(r.Scope, access.ScopeGlobal) {
		return ErrClientAssignableScope
	}
	return nil
}

// SystemRoles returns the roles seeded on first startup.
func SystemRoles() []Role {
	adminDesc := "Full platform administration"
	clientAdminDesc := "Administers a single client: sites, persons, and client-assignable roles"
	siteManagerDesc := "Manages assets, routes, and inspections for one site"
	inspectorDesc := "Performs inspections and views reports for one site"

	return []Role{
		{
			Name:         "platform-admin",
			Description:  &adminDesc,
			Scope:        access.ScopeSystem,
			Capabilities: access.AllCapabilities(),
			IsSystem:     true,
		},
		{
			Name:        "client-admin",
			Description: &clientAdminDesc,
			Scope:       access.ScopeClient,
			Capabilities: []access.Capability{
				access.CapabilityFor("sites", access.ActionRead),
				access.CapabilityFor("sites", access.ActionWrite),
				access.CapabilityFor("assets", access.ActionRead),
				access.CapabilityFor("assets", access.ActionWrite),
				access.CapabilityFor("persons", access.ActionManage),
				access.CapabilityFor("roles", access.ActionManage),
				access.CapabilityFor("access-grants", access.ActionManage),
				access.CapabilityViewReports,
			},
			IsSystem:         true,
			ClientAssignable: true,
		},
		{
			Name:        "site-manager",
			Description: &siteManagerDesc,
			Scope:       access.ScopeSite,
			Capabilities: []access.Capability{
				access.CapabilityFor("assets", access.ActionRead),
				access.CapabilityFor("assets", access.ActionWrite),
				access.CapabilityFor("routes", access.ActionRead),
				access.CapabilityFor("routes", access.ActionWrite),
				access.CapabilityFor("inspections", access.ActionRead),
				access.CapabilityFor("inspections", access.ActionWrite),
				access.CapabilityFor("consumables", access.ActionRead),
				access.CapabilityFor("consumables", access.ActionWrite),
				access.CapabilityFor("alerts", access.ActionRead),
				access.CapabilityFor("alerts", access.ActionWrite),
				access.CapabilityViewReports,
			},
			IsSystem:         true,
			ClientAssignable: true,
		},
		{
			Name:        "inspector",
			Description: &inspectorDesc,
			Scope:       access.ScopeSite,
			Capabilities: []access.Capability{
				access.CapabilityFor("assets", access.ActionRead),
				access.CapabilityFor("routes", access.ActionRead),
				access.CapabilityFor("inspections", access.ActionRead),
				access.CapabilityFor("inspections", access.ActionWrite),
				access.CapabilityViewReports,
			},
			IsSystem:         true,
			ClientAssignable: true,
		},
	}
}
