// grant.go implements the reduction of multiple role grants held at the same
// client+site into one effective grant: the most privileged scope wins and the
// capability sets are unioned. The fold is commutative and idempotent, so the
// result is independent of grant ordering and of duplicate rows.
package access

// Grant is one (role, client, site) assignment as read from storage, carrying
// the role's scope and capability set. The ephemeral bootstrap grant uses the
// same shape so downstream code cannot distinguish it from a persisted one.
type Grant struct {
	RoleID       string
	ClientID     string
	SiteID       string
	Scope        Scope
	Capabilities []Capability
	IsPrimary    bool
}

// EffectiveGrant is the reduction of all grants a person holds at one
// client+site.
type EffectiveGrant struct {
	ClientID     string
	SiteID       string
	Scope        Scope
	Capabilities []Capability
	IsPrimary    bool
}

// Reduce merges grants for the same client+site into a single effective grant.
// Callers must group by (clientID, siteID) first; Reduce trusts the grouping
// and takes tenant identifiers from the first element. An empty input returns
// the zero EffectiveGrant.
func Reduce(grants []Grant) EffectiveGrant {
	if len(grants) == 0 {
		return EffectiveGrant{}
	}

	eff := EffectiveGrant{
		ClientID:     grants[0].ClientID,
		SiteID:       grants[0].SiteID,
		Scope:        grants[0].Scope,
		Capabilities: UnionCapabilities(grants[0].Capabilities),
		IsPrimary:    grants[0].IsPrimary,
	}
	for _, g := range grants[1:] {
		eff.Scope = MaxScope(eff.Scope, g.Scope)
		eff.Capabilities = UnionCapabilities(eff.Capabilities, g.Capabilities)
		eff.IsPrimary = eff.IsPrimary || g.IsPrimary
	}
	return eff
}

// GroupAndReduce groups raw grants by (clientID, siteID) and reduces each
// group. Result ordering follows first appearance of each client+site pair in
// the input, which storage queries keep stable.
func GroupAndReduce(grants []Grant) []EffectiveGrant {
	type key struct{ clientID, siteID string }

	groups := make(map[key][]Grant)
	var order []key
	for _, g := range grants {
		k := key{g.ClientID, g.SiteID}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], g)
	}

	out := make([]EffectiveGrant, 0, len(order))
	for _, k := range order {
		out = append(out, Reduce(groups[k]))
	}
	return out
}
