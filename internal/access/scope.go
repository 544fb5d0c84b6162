// scope.go defines the six-level scope hierarchy applied to roles and grants.
// Scopes are totally ordered by privilege: SYSTEM > GLOBAL > CLIENT >
// SITE_GROUP > SITE > SELF.
package access

import "fmt"

// Scope describes the breadth of authority a role carries.
type Scope string

const (
	ScopeSystem    Scope = "SYSTEM"
	ScopeGlobal    Scope = "GLOBAL"
	ScopeClient    Scope = "CLIENT"
	ScopeSiteGroup Scope = "SITE_GROUP"
	ScopeSite      Scope = "SITE"
	ScopeSelf      Scope = "SELF"
)

// scopeOrder lists scopes from most to least privileged. Rank is the index in
// this slice, so a numerically lower rank means more privilege.
var scopeOrder = []Scope{
	ScopeSystem,
	ScopeGlobal,
	ScopeClient,
	ScopeSiteGroup,
	ScopeSite,
	ScopeSelf,
}

var scopeRank = func() map[Scope]int {
	m := make(map[Scope]int, len(scopeOrder))
	for i, s := range scopeOrder {
		m[s] = i
	}
	return m
}()

// AllScopes returns the scopes ordered from most to least privileged.
func AllScopes() []Scope {
	out := make([]Scope, len(scopeOrder))
	copy(out, scopeOrder)
	return out
}

// IsValidScope reports whether s is one of the six defined scopes.
func IsValidScope(s Scope) bool {
	_, ok := scopeRank[s]
	return ok
}

// ValidateScope returns an error naming the invalid scope, for API responses.
func ValidateScope(s Scope) error {
	if !IsValidScope(s) {
		return fmt.Errorf("invalid scope: %s", s)
	}
	return nil
}

// Rank returns the privilege rank of s (0 = SYSTEM, 5 = SELF). Unknown scopes
// rank below SELF so they never satisfy a threshold check.
func (s Scope) Rank() int {
	if r, ok := scopeRank[s]; ok {
		return r
	}
	return len(scopeOrder)
}

// IsScopeAtLeast reports whether scope carries at least the privilege of
// threshold. IsScopeAtLeast(CLIENT, SITE) is true; the reverse is false.
func IsScopeAtLeast(scope, threshold Scope) bool {
	return scope.Rank() <= threshold.Rank()
}

// MaxScope returns the more privileged of a and b.
func MaxScope(a, b Scope) Scope {
	if b.Rank() < a.Rank() {
		return b
	}
	return a
}
