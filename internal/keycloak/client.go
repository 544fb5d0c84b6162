// Package keycloak implements a client for the Keycloak admin REST API, used
// by the access sync job to read managed groups, users, and group memberships.
//
// Authentication uses the OAuth2 client-credentials flow for the service
// account. The oauth2 transport caches the access token and refreshes it
// before expiry on its own schedule, so token lifetime is process-wide state
// shared by every request and independent of any single caller.
package keycloak

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2/clientcredentials"
)

// Attribute names carried on Keycloak groups and users that the sync job
// interprets. They are part of the integration contract with the realm setup.
const (
	AttrRoleID   = "shield_role_id"
	AttrClientID = "client_id"
	AttrSiteID   = "site_id"
)

// Config holds the connection settings for one Keycloak realm.
type Config struct {
	BaseURL      string // e.g. https://id.example.com
	Realm        string
	ClientID     string
	ClientSecret string
	// ManagedGroupName is the parent group whose subgroups the platform
	// manages; each subgroup carries a shield_role_id attribute.
	ManagedGroupName string
}

// Client talks to the Keycloak admin API for one realm.
type Client struct {
	baseURL          string
	realm            string
	managedGroupName string
	httpClient       *http.Client
}

// Group is a Keycloak group with its attributes.
type Group struct {
	ID         string              `json:"id"`
	Name       string              `json:"name"`
	Path       string              `json:"path"`
	Attributes map[string][]string `json:"attributes"`
	SubGroups  []Group             `json:"subGroups"`
}

// User is a Keycloak user representation.
type User struct {
	ID         string              `json:"id"`
	Username   string              `json:"username"`
	Email      string              `json:"email"`
	FirstName  string              `json:"firstName"`
	LastName   string              `json:"lastName"`
	Enabled    bool                `json:"enabled"`
	Attributes map[string][]string `json:"attributes"`
}

// Attribute returns the first value of the named attribute, or "".
func (u *User) Attribute(name string) string {
	if vals, ok := u.Attributes[name]; ok && len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// Attribute returns the first value of the named attribute, or "".
func (g *Group) Attribute(name string) string {
	if vals, ok := g.Attributes[name]; ok && len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// NewClient builds a Client whose HTTP transport injects and refreshes the
// service-account token. The 30-second timeout covers the admin API calls; a
// hang that long signals a misconfigured or unreachable realm.
func NewClient(cfg Config) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")

	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", base, cfg.Realm),
	}
	httpClient := cc.Client(context.Background())
	httpClient.Timeout = 30 * time.Second

	return &Client{
		baseURL:          base,
		realm:            cfg.Realm,
		managedGroupName: cfg.ManagedGroupName,
		httpClient:       httpClient,
	}
}

// adminURL builds an admin REST endpoint for the realm.
func (c *Client) adminURL(path string) string {
	return fmt.Sprintf("%s/admin/realms/%s%s", c.baseURL, c.realm, path)
}

func (c *Client) getJSON(ctx context.Context, rawURL string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build keycloak request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("keycloak request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("keycloak returned %d for %s: %s", resp.StatusCode, rawURL, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode keycloak response: %w", err)
	}
	return nil
}

// ListManagedGroups returns the subgroups of the configured managed parent
// group that carry a shield_role_id attribute. Groups without the attribute
// are not managed by the platform and are ignored here.
func (c *Client) ListManagedGroups(ctx context.Context) ([]Group, error) {
	q := url.Values{}
	q.Set("search", c.managedGroupName)
	q.Set("briefRepresentation", "false")

	var groups []Group
	if err := c.getJSON(ctx, c.adminURL("/groups?"+q.Encode()), &groups); err != nil {
		return nil, err
	}

	var managed []Group
	for _, g := range groups {
		if g.Name != c.managedGroupName {
			continue
		}
		for _, sub := range g.SubGroups {
			if sub.Attribute(AttrRoleID) != "" {
				managed = append(managed, sub)
			}
		}
	}
	return managed, nil
}

// CountUsers returns the realm's total user count, used to bound pagination.
func (c *Client) CountUsers(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.adminURL("/users/count"), nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build keycloak request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("keycloak user count failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("keycloak returned %d counting users", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return 0, fmt.Errorf("failed to read keycloak user count: %w", err)
	}
	count, err := strconv.Atoi(strings.TrimSpace(string(body)))
	if err != nil {
		return 0, fmt.Errorf("unexpected keycloak user count body %q: %w", string(body), err)
	}
	return count, nil
}

// ListUsers returns one page of users with their attributes.
func (c *Client) ListUsers(ctx context.Context, first, max int) ([]User, error) {
	q := url.Values{}
	q.Set("first", strconv.Itoa(first))
	q.Set("max", strconv.Itoa(max))
	q.Set("briefRepresentation", "false")

	var users []User
	if err := c.getJSON(ctx, c.adminURL("/users?"+q.Encode()), &users); err != nil {
		return nil, err
	}
	return users, nil
}

// ListUserGroups returns the groups a user is a member of.
func (c *Client) ListUserGroups(ctx context.Context, userID string) ([]Group, error) {
	var groups []Group
	path := fmt.Sprintf("/users/%s/groups?briefRepresentation=false", url.PathEscape(userID))
	if err := c.getJSON(ctx, c.adminURL(path), &groups); err != nil {
		return nil, err
	}
	return groups, nil
}
