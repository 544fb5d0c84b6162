// resolver.go derives the Principal for an authenticated identity: look up the
// internal person record, load and reduce the person's access grants, and fall
// back to an ephemeral SYSTEM grant for allow-listed bootstrap admins.
package access

import (
	"context"
	"fmt"
	"strings"
)

// PersonDirectory resolves identity-provider subjects to internal person ids.
// Implemented by the person repository; the cache layer wraps it with
// memoization.
type PersonDirectory interface {
	// GetPersonIDByIdpID returns the internal person id for an identity
	// provider subject, or "" when no person record exists yet.
	GetPersonIDByIdpID(ctx context.Context, idpID string) (string, error)
}

// GrantSource loads a person's persisted access grants including each grant's
// role scope and capability set.
type GrantSource interface {
	ListGrantsForPerson(ctx context.Context, personID string) ([]Grant, error)
}

// Resolver turns an authenticated Identity into a Principal.
type Resolver struct {
	persons PersonDirectory
	grants  GrantSource

	// bootstrapEmails holds lowercased admin emails allowed the ephemeral
	// SYSTEM grant when they have no persisted grants yet.
	bootstrapEmails map[string]struct{}
}

// NewResolver builds a Resolver. bootstrapAdminEmails comes from configuration
// and is matched case-insensitively.
func NewResolver(persons PersonDirectory, grants GrantSource, bootstrapAdminEmails []string) *Resolver {
	emails := make(map[string]struct{}, len(bootstrapAdminEmails))
	for _, e := range bootstrapAdminEmails {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" {
			emails[e] = struct{}{}
		}
	}
	return &Resolver{persons: persons, grants: grants, bootstrapEmails: emails}
}

// Resolve produces the Principal for the request. A missing person record is
// not an error — it yields a principal with zero grants unless the bootstrap
// fallback applies. Database errors propagate unchanged.
func (r *Resolver) Resolve(ctx context.Context, id Identity) (*Principal, error) {
	p := &Principal{
		IdpID: id.Sub,
		Email: id.Email,
	}

	personID, err := r.persons.GetPersonIDByIdpID(ctx, id.Sub)
	if err != nil {
		return nil, fmt.Errorf("failed to look up person for idp id %s: %w", id.Sub, err)
	}
	p.PersonID = personID

	if personID != "" {
		raw, err := r.grants.ListGrantsForPerson(ctx, personID)
		if err != nil {
			return nil, fmt.Errorf("failed to load grants for person %s: %w", personID, err)
		}
		p.Grants = GroupAndReduce(raw)
	}

	if len(p.Grants) == 0 && r.isBootstrapAdmin(id.Email) {
		// Ephemeral grant only: lets a fresh deployment reach the admin API to
		// seed real roles. Never persisted.
		p.Grants = []EffectiveGrant{BootstrapGrant()}
	}

	return p, nil
}

func (r *Resolver) isBootstrapAdmin(email string) bool {
	if email == "" {
		return false
	}
	_, ok := r.bootstrapEmails[strings.ToLower(email)]
	return ok
}
