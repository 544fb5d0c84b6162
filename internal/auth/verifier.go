package auth

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/shield-inspect/shield/internal/access"
	"github.com/shield-inspect/shield/internal/config"
)

// TokenVerifier checks bearer tokens from the identity provider and extracts
// the identity claims principal resolution needs.
type TokenVerifier struct {
	verifier *oidc.IDTokenVerifier
	provider *oidc.Provider
}

// NewTokenVerifier runs OIDC discovery against the Keycloak realm and builds
// a verifier for its access tokens. The context bounds the discovery request.
func NewTokenVerifier(ctx context.Context, cfg *config.KeycloakConfig) (*TokenVerifier, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("keycloak base URL is required")
	}

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL())
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}

	// Keycloak access tokens carry the requesting client in azp rather than
	// aud, so audience checking is skipped here; authorization happens
	// against the access grants, not the token audience.
	verifier := provider.Verifier(&oidc.Config{
		SkipClientIDCheck: true,
	})

	return &TokenVerifier{
		verifier: verifier,
		provider: provider,
	}, nil
}

// Verify validates the raw token and returns the identity it asserts.
func (v *TokenVerifier) Verify(ctx context.Context, rawToken string) (access.Identity, error) {
	idToken, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return access.Identity{}, fmt.Errorf("failed to verify token: %w", err)
	}

	var claims struct {
		Email             string `json:"email"`
		GivenName         string `json:"given_name"`
		FamilyName        string `json:"family_name"`
		PreferredUsername string `json:"preferred_username"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return access.Identity{}, fmt.Errorf("failed to parse token claims: %w", err)
	}

	return access.Identity{
		Sub:        idToken.Subject,
		Email:      claims.Email,
		GivenName:  claims.GivenName,
		FamilyName: claims.FamilyName,
		Username:   claims.PreferredUsername,
	}, nil
}
