package keycloak

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// testClient builds a Client against a test server, bypassing the oauth2
// transport so no token endpoint is needed.
func testClient(srv *httptest.Server) *Client {
	return &Client{
		baseURL:          srv.URL,
		realm:            "shield",
		managedGroupName: "shield-access",
		httpClient:       srv.Client(),
	}
}

func writeJSON(t *testing.T, w http.ResponseWriter, v interface{}) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Fatalf("encode response: %v", err)
	}
}

func TestListManagedGroups(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/admin/realms/shield/groups" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("search"); got != "shield-access" {
			t.Errorf("search = %q, want shield-access", got)
		}
		writeJSON(t, w, []Group{
			{
				ID:   "parent-1",
				Name: "shield-access",
				SubGroups: []Group{
					{ID: "g1", Name: "site-managers", Attributes: map[string][]string{AttrRoleID: {"role-1"}}},
					{ID: "g2", Name: "watercooler", Attributes: map[string][]string{}},
				},
			},
			{
				// Search matches are fuzzy; a similarly named group must not
				// contribute subgroups.
				ID:        "other",
				Name:      "shield-access-legacy",
				SubGroups: []Group{{ID: "g9", Attributes: map[string][]string{AttrRoleID: {"role-9"}}}},
			},
		})
	}))
	defer srv.Close()

	groups, err := testClient(srv).ListManagedGroups(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("len = %d, want 1 (attribute-less and foreign groups dropped)", len(groups))
	}
	if groups[0].ID != "g1" || groups[0].Attribute(AttrRoleID) != "role-1" {
		t.Errorf("group = %+v, want g1/role-1", groups[0])
	}
}

func TestListManagedGroups_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := testClient(srv).ListManagedGroups(context.Background())
	if err == nil {
		t.Fatal("expected error for non-200 response")
	}
	if !strings.Contains(err.Error(), "403") {
		t.Errorf("error should carry the status code, got %v", err)
	}
}

func TestCountUsers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/admin/realms/shield/users/count" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte("42\n"))
	}))
	defer srv.Close()

	n, err := testClient(srv).CountUsers(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 42 {
		t.Errorf("count = %d, want 42", n)
	}
}

func TestCountUsers_BadBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not-a-number"))
	}))
	defer srv.Close()

	if _, err := testClient(srv).CountUsers(context.Background()); err == nil {
		t.Fatal("expected error for unparsable count body")
	}
}

func TestListUsers_Pagination(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("first") != "100" || q.Get("max") != "50" {
			t.Errorf("pagination = first=%s max=%s, want 100/50", q.Get("first"), q.Get("max"))
		}
		if q.Get("briefRepresentation") != "false" {
			t.Error("attributes require briefRepresentation=false")
		}
		writeJSON(t, w, []User{
			{ID: "u1", Email: "u1@example.com", Attributes: map[string][]string{AttrClientID: {"ext-c"}}},
		})
	}))
	defer srv.Close()

	users, err := testClient(srv).ListUsers(context.Background(), 100, 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(users) != 1 || users[0].Attribute(AttrClientID) != "ext-c" {
		t.Errorf("users = %+v, want one user with ext-c", users)
	}
}

func TestListUserGroups(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/admin/realms/shield/users/u1/groups" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		writeJSON(t, w, []Group{{ID: "g1", Name: "site-managers"}})
	}))
	defer srv.Close()

	groups, err := testClient(srv).ListUserGroups(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(groups) != 1 || groups[0].ID != "g1" {
		t.Errorf("groups = %+v, want g1", groups)
	}
}

func TestUserAttribute(t *testing.T) {
	u := User{Attributes: map[string][]string{AttrSiteID: {"ext-s", "ignored"}}}
	if got := u.Attribute(AttrSiteID); got != "ext-s" {
		t.Errorf("attribute = %q, want first value", got)
	}
	if got := u.Attribute("missing"); got != "" {
		t.Errorf("missing attribute = %q, want empty", got)
	}
	empty := User{Attributes: map[string][]string{AttrSiteID: {}}}
	if got := empty.Attribute(AttrSiteID); got != "" {
		t.Errorf("empty attribute list = %q, want empty", got)
	}
}
