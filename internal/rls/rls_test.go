package rls

import (
	"context"
	"errors"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/shield-inspect/shield/internal/access"
)

var errDB = errors.New("database error")

func newBuilder(t *testing.T) (*Builder, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewBuilder(sqlx.NewDb(db, "sqlmock")), mock
}

func expectBind(mock sqlmock.Sqlmock, bypass, personID, clientID, siteID, scope, caps, adminView string) {
	mock.ExpectExec("SELECT set_config").
		WithArgs(bypass, personID, clientID, siteID, scope, caps, adminView).
		WillReturnResult(sqlmock.NewResult(0, 0))
}

func sitePrincipal() *access.Principal {
	return &access.Principal{
		IdpID:    "idp-1",
		Email:    "a@example.com",
		PersonID: "person-1",
		Grants: []access.EffectiveGrant{{
			ClientID:     "client-a",
			SiteID:       "site-1",
			Scope:        access.ScopeSite,
			Capabilities: []access.Capability{access.CapabilityFor("assets", access.ActionRead), access.CapabilityFor("assets", access.ActionWrite)},
			IsPrimary:    true,
		}},
	}
}

func TestBuildForUser_NilPrincipal(t *testing.T) {
	b, mock := newBuilder(t)

	if _, err := b.BuildForUser(context.Background(), nil); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("expected ErrUnauthenticated, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("no database activity expected: %v", err)
	}
}

func TestBuildForUser_BindsActiveGrant(t *testing.T) {
	b, mock := newBuilder(t)
	mock.ExpectBegin()
	expectBind(mock, "off", "person-1", "client-a", "site-1", "SITE", "assets:read,assets:write", "off")
	mock.ExpectRollback()

	h, err := b.BuildForUser(context.Background(), sitePrincipal())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer h.Rollback()

	rc := h.RLSContext()
	if rc.Bypass {
		t.Error("user handle must not carry the bypass flag")
	}
	if rc.ClientID != "client-a" || rc.SiteID != "site-1" || rc.Scope != access.ScopeSite {
		t.Errorf("unexpected bound context: %+v", rc)
	}
	if h.CurrentUser() == nil || h.CurrentUser().PersonID != "person-1" {
		t.Error("expected the handle to remember its principal")
	}
	if err := h.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestBuildForUser_ZeroGrantsBindsSentinels(t *testing.T) {
	b, mock := newBuilder(t)
	mock.ExpectBegin()
	expectBind(mock, "off", "person-1", access.SentinelID, access.SentinelID, "SELF", "", "off")
	mock.ExpectRollback()

	p := &access.Principal{IdpID: "idp-1", PersonID: "person-1"}
	h, err := b.BuildForUser(context.Background(), p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := h.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestBuildBypass_BindsBypassFlag(t *testing.T) {
	b, mock := newBuilder(t)
	mock.ExpectBegin()
	expectBind(mock, "on", "", "", "", "", "", "off")
	mock.ExpectRollback()

	h, err := b.BuildBypass(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !h.RLSContext().Bypass {
		t.Error("expected bypass flag on the bound context")
	}
	if h.CurrentUser() != nil {
		t.Error("bypass handles carry no principal")
	}
	if err := h.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestBuildForViewContext_AdminViewRequiresCapability(t *testing.T) {
	b, mock := newBuilder(t)
	mock.ExpectBegin()
	// The request asks for the admin view but the grant lacks admin-view, so
	// the binding stays off.
	expectBind(mock, "off", "person-1", "client-a", "site-1", "SITE", "assets:read,assets:write", "off")
	mock.ExpectRollback()

	h, err := b.BuildForViewContext(context.Background(), sitePrincipal(), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.RLSContext().AdminView {
		t.Error("admin view must not be granted without the capability")
	}
	if err := h.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestBuildForViewContext_AdminViewWithCapability(t *testing.T) {
	b, mock := newBuilder(t)
	mock.ExpectBegin()
	expectBind(mock, "off", "person-1", "client-a", "site-1", "SITE", "admin-view", "on")
	mock.ExpectRollback()

	p := sitePrincipal()
	p.Grants[0].Capabilities = []access.Capability{access.CapabilityAdminView}

	h, err := b.BuildForViewContext(context.Background(), p, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !h.RLSContext().AdminView {
		t.Error("expected admin view to be granted")
	}
	if err := h.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestBuild_BindFailureRollsBack(t *testing.T) {
	b, mock := newBuilder(t)
	mock.ExpectBegin()
	mock.ExpectExec("SELECT set_config").WillReturnError(errDB)
	mock.ExpectRollback()

	if _, err := b.BuildForUser(context.Background(), sitePrincipal()); !errors.Is(err, errDB) {
		t.Errorf("expected bind error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestWithUser_CommitsOnSuccess(t *testing.T) {
	b, mock := newBuilder(t)
	mock.ExpectBegin()
	expectBind(mock, "off", "person-1", "client-a", "site-1", "SITE", "assets:read,assets:write", "off")
	mock.ExpectCommit()

	called := false
	err := b.WithUser(context.Background(), sitePrincipal(), func(h *Handle) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("expected fn to run")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestWithUser_RollsBackOnError(t *testing.T) {
	b, mock := newBuilder(t)
	mock.ExpectBegin()
	expectBind(mock, "off", "person-1", "client-a", "site-1", "SITE", "assets:read,assets:write", "off")
	mock.ExpectRollback()

	err := b.WithUser(context.Background(), sitePrincipal(), func(h *Handle) error {
		return errDB
	})
	if !errors.Is(err, errDB) {
		t.Errorf("expected fn error to propagate, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestHandle_CommitTwice(t *testing.T) {
	b, mock := newBuilder(t)
	mock.ExpectBegin()
	expectBind(mock, "on", "", "", "", "", "", "off")
	mock.ExpectCommit()

	h, err := b.BuildBypass(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := h.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := h.Commit(); !errors.Is(err, ErrHandleClosed) {
		t.Errorf("expected ErrHandleClosed on second commit, got %v", err)
	}
}

func TestHandle_RollbackAfterCommitIsNoop(t *testing.T) {
	b, mock := newBuilder(t)
	mock.ExpectBegin()
	expectBind(mock, "on", "", "", "", "", "", "off")
	mock.ExpectCommit()

	h, err := b.BuildBypass(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := h.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := h.Rollback(); err != nil {
		t.Errorf("rollback after commit should be silent, got %v", err)
	}
}

func TestIsPolicyViolation(t *testing.T) {
	if !IsPolicyViolation(&pq.Error{Code: "42501"}) {
		t.Error("expected 42501 to be a policy violation")
	}
	if IsPolicyViolation(&pq.Error{Code: "23505"}) {
		t.Error("unique violations are not policy violations")
	}
	if IsPolicyViolation(errDB) {
		t.Error("plain errors are not policy violations")
	}
	if IsPolicyViolation(nil) {
		t.Error("nil is not a policy violation")
	}
}
