// principal.go defines the request-scoped description of "who is acting".
package access

import (
	"github.com/google/uuid"
)

// SentinelID is used for the client/site identifiers of the ephemeral
// bootstrap grant, which is not tied to any real tenant row.
var SentinelID = uuid.Nil.String()

// Identity is what the identity provider asserts about the caller after token
// verification. It carries no authorization information.
type Identity struct {
	Sub        string
	Email      string
	GivenName  string
	FamilyName string
	Username   string
}

// Principal is the resolved, request-scoped acting party: identity plus the
// effective grants computed from storage (or the bootstrap fallback). It is
// immutable for the duration of the request.
type Principal struct {
	IdpID    string
	Email    string
	PersonID string // empty until the person has been synced

	// Grants holds one effective grant per client+site the person can act in.
	// Empty means authenticated but authorized for nothing.
	Grants []EffectiveGrant

	// Bypass marks trusted internal principals (sync job, seeds) that execute
	// with row security disabled. Never set for request-derived principals.
	Bypass bool
}

// Active returns the grant the principal is currently acting under: the
// primary grant when one exists, otherwise the first grant. ok is false when
// the principal holds no grants at all.
func (p *Principal) Active() (EffectiveGrant, bool) {
	if len(p.Grants) == 0 {
		return EffectiveGrant{}, false
	}
	for _, g := range p.Grants {
		if g.IsPrimary {
			return g, true
		}
	}
	return p.Grants[0], true
}

// HasCapability reports whether the active grant carries the capability.
func (p *Principal) HasCapability(c Capability) bool {
	active, ok := p.Active()
	if !ok {
		return false
	}
	for _, have := range active.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// ScopeAtLeast reports whether the active grant's scope meets the threshold.
func (p *Principal) ScopeAtLeast(threshold Scope) bool {
	active, ok := p.Active()
	if !ok {
		return false
	}
	return IsScopeAtLeast(active.Scope, threshold)
}

// BootstrapGrant builds the ephemeral SYSTEM grant handed to allow-listed
// admin emails that have no persisted grants yet. It is a pure value — never
// written to storage — and structurally identical to a reduced grant.
func BootstrapGrant() EffectiveGrant {
	return EffectiveGrant{
		ClientID:     SentinelID,
		SiteID:       SentinelID,
		Scope:        ScopeSystem,
		Capabilities: AllCapabilities(),
		IsPrimary:    true,
	}
}
