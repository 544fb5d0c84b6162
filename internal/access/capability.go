// Package access defines the capability vocabulary, the scope hierarchy, and
// the grant-reduction logic used to decide what an authenticated person may
// see and do. Everything in this package is pure — no I/O, no globals beyond
// the capability table built once at startup.
package access

import "fmt"

// Capability is an atomic permission tag attached to a Role, e.g. "assets:read"
// or "view-reports". The set of valid capabilities is closed: role create and
// update requests carrying an unknown tag are rejected at the API boundary.
type Capability string

// Standalone capabilities that do not follow the resource:action pattern.
const (
	// CapabilityViewReports grants access to inspection and compliance reports.
	CapabilityViewReports Capability = "view-reports"

	// CapabilityAdminView allows the holder to request the cross-tenant admin
	// view via the X-Shield-View header. Without it the header is ignored.
	CapabilityAdminView Capability = "admin-view"
)

// Action is one half of a generated resource:action capability.
type Action string

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionManage Action = "manage"
)

// resources is the closed vocabulary of tenant resources the platform manages.
// The capability table is generated from this list crossed with read/write at
// startup, plus manage for the admin-only resources.
var resources = []string{
	"assets",
	"sites",
	"routes",
	"inspections",
	"consumables",
	"alerts",
	"product-requests",
	"tags",
}

// adminResources only carry the manage action and require elevated scope.
var adminResources = []string{
	"persons",
	"roles",
	"clients",
	"access-grants",
}

var (
	allCapabilities []Capability
	capabilitySet   map[Capability]struct{}
)

func init() {
	for _, res := range resources {
		allCapabilities = append(allCapabilities,
			Capability(res+":"+string(ActionRead)),
			Capability(res+":"+string(ActionWrite)),
		)
	}
	for _, res := range adminResources {
		allCapabilities = append(allCapabilities, Capability(res+":"+string(ActionManage)))
	}
	allCapabilities = append(allCapabilities, CapabilityViewReports, CapabilityAdminView)

	capabilitySet = make(map[Capability]struct{}, len(allCapabilities))
	for _, c := range allCapabilities {
		capabilitySet[c] = struct{}{}
	}
}

// CapabilityFor returns the generated capability tag for a resource and action.
func CapabilityFor(resource string, action Action) Capability {
	return Capability(resource + ":" + string(action))
}

// AllCapabilities returns the full valid capability set. The returned slice is
// a copy; callers may mutate it freely.
func AllCapabilities() []Capability {
	out := make([]Capability, len(allCapabilities))
	copy(out, allCapabilities)
	return out
}

// IsValidCapability reports whether tag is part of the closed vocabulary.
func IsValidCapability(tag Capability) bool {
	_, ok := capabilitySet[tag]
	return ok
}

// ValidateCapabilities checks every tag against the closed vocabulary and
// returns a descriptive error for the first unknown one.
func ValidateCapabilities(tags []Capability) error {
	for _, tag := range tags {
		if !IsValidCapability(tag) {
			return fmt.Errorf("invalid capability: %s", tag)
		}
	}
	return nil
}

// UnionCapabilities merges capability sets, deduplicating while preserving
// first-seen order.
func UnionCapabilities(sets ...[]Capability) []Capability {
	seen := make(map[Capability]struct{})
	var out []Capability
	for _, set := range sets {
		for _, c := range set {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}
