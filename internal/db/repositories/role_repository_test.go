package repositories

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/shield-inspect/shield/internal/access"
	"github.com/shield-inspect/shield/internal/db/models"
)

// ---------------------------------------------------------------------------
// Shared helpers
// ---------------------------------------------------------------------------

var errDB = errors.New("database error")

var errUnique = &pq.Error{Code: "23505"}

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "sqlmock"), mock
}

// ---------------------------------------------------------------------------
// Column definitions
// ---------------------------------------------------------------------------

var roleCols = []string{
	"id", "client_id", "name", "description", "scope", "capabilities",
	"is_system", "client_assignable", "notification_groups", "created_at", "updated_at",
}

func newRoleRepo(t *testing.T) (*RoleRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newMockDB(t)
	return NewRoleRepository(db), mock
}

func sampleRoleRow() *sqlmock.Rows {
	return sqlmock.NewRows(roleCols).
		AddRow("role-1", nil, "site-manager", nil, "SITE",
			[]byte(`["assets:read","assets:write"]`), false, true, []byte(`[]`),
			time.Now(), time.Now())
}

func systemRoleRow() *sqlmock.Rows {
	return sqlmock.NewRows(roleCols).
		AddRow("role-sys", nil, "platform-admin", nil, "SYSTEM",
			[]byte(`["assets:read"]`), true, false, []byte(`[]`),
			time.Now(), time.Now())
}

// ---------------------------------------------------------------------------
// List / GetByID / ListByIDs
// ---------------------------------------------------------------------------

func TestListRoles_Success(t *testing.T) {
	repo, mock := newRoleRepo(t)
	mock.ExpectQuery("SELECT id.*FROM roles ORDER BY client_id NULLS FIRST, name").
		WillReturnRows(sampleRoleRow())

	roles, err := repo.List(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(roles) != 1 {
		t.Fatalf("len = %d, want 1", len(roles))
	}
	if roles[0].Name != "site-manager" {
		t.Errorf("name = %s, want site-manager", roles[0].Name)
	}
	if len(roles[0].Capabilities) != 2 {
		t.Errorf("capabilities = %v, want 2 decoded tags", roles[0].Capabilities)
	}
}

func TestListRoles_Empty(t *testing.T) {
	repo, mock := newRoleRepo(t)
	mock.ExpectQuery("SELECT id.*FROM roles").
		WillReturnRows(sqlmock.NewRows(roleCols))

	roles, err := repo.List(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(roles) != 0 {
		t.Errorf("len = %d, want 0", len(roles))
	}
}

func TestGetRole_Success(t *testing.T) {
	repo, mock := newRoleRepo(t)
	mock.ExpectQuery("SELECT id.*FROM roles WHERE id").
		WithArgs("role-1").
		WillReturnRows(sampleRoleRow())

	role, err := repo.GetByID(context.Background(), "role-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if role == nil || role.ID != "role-1" {
		t.Errorf("role = %+v, want role-1", role)
	}
	if role.Scope != access.ScopeSite {
		t.Errorf("scope = %s, want SITE", role.Scope)
	}
}

func TestGetRole_NotFound(t *testing.T) {
	repo, mock := newRoleRepo(t)
	mock.ExpectQuery("SELECT id.*FROM roles WHERE id").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	role, err := repo.GetByID(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if role != nil {
		t.Errorf("expected nil role, got %+v", role)
	}
}

func TestGetRole_Error(t *testing.T) {
	repo, mock := newRoleRepo(t)
	mock.ExpectQuery("SELECT id.*FROM roles WHERE id").
		WillReturnError(errDB)

	if _, err := repo.GetByID(context.Background(), "role-1"); !errors.Is(err, errDB) {
		t.Errorf("expected wrapped database error, got %v", err)
	}
}

func TestListRolesByIDs_EmptyInput(t *testing.T) {
	repo, mock := newRoleRepo(t)

	roles, err := repo.ListByIDs(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if roles != nil {
		t.Errorf("expected nil result for empty input, got %v", roles)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("no query expected for empty input: %v", err)
	}
}

func TestListRolesByIDs_Success(t *testing.T) {
	repo, mock := newRoleRepo(t)
	mock.ExpectQuery("SELECT id.*FROM roles WHERE id = ANY").
		WillReturnRows(sampleRoleRow())

	roles, err := repo.ListByIDs(context.Background(), []string{"role-1", "missing"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(roles) != 1 {
		t.Errorf("len = %d, want 1 (unknown ids silently dropped)", len(roles))
	}
}

// ---------------------------------------------------------------------------
// Create / Update / Delete
// ---------------------------------------------------------------------------

func TestCreateRole_Success(t *testing.T) {
	repo, mock := newRoleRepo(t)
	mock.ExpectQuery("INSERT INTO roles").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow("role-new", time.Now(), time.Now()))

	role := &models.Role{
		Name:         "custom",
		Scope:        access.ScopeSite,
		Capabilities: []access.Capability{access.CapabilityFor("assets", access.ActionRead)},
	}
	if err := repo.Create(context.Background(), role); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if role.ID != "role-new" {
		t.Errorf("expected generated id to be scanned back, got %q", role.ID)
	}
}

func TestCreateRole_DuplicateName(t *testing.T) {
	repo, mock := newRoleRepo(t)
	mock.ExpectQuery("INSERT INTO roles").
		WillReturnError(errUnique)

	err := repo.Create(context.Background(), &models.Role{Name: "dup", Scope: access.ScopeSite})
	if !errors.Is(err, models.ErrDuplicateRoleName) {
		t.Errorf("expected ErrDuplicateRoleName, got %v", err)
	}
}

func TestUpdateRole_Success(t *testing.T) {
	repo, mock := newRoleRepo(t)
	mock.ExpectExec("UPDATE roles").
		WillReturnResult(sqlmock.NewResult(0, 1))

	role := &models.Role{ID: "role-1", Name: "renamed", Scope: access.ScopeSite}
	if err := repo.Update(context.Background(), role); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestUpdateRole_NotFound(t *testing.T) {
	repo, mock := newRoleRepo(t)
	mock.ExpectExec("UPDATE roles").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(context.Background(), &models.Role{ID: "missing", Scope: access.ScopeSite})
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestUpdateRole_DuplicateName(t *testing.T) {
	repo, mock := newRoleRepo(t)
	mock.ExpectExec("UPDATE roles").
		WillReturnError(errUnique)

	err := repo.Update(context.Background(), &models.Role{ID: "role-1", Name: "dup", Scope: access.ScopeSite})
	if !errors.Is(err, models.ErrDuplicateRoleName) {
		t.Errorf("expected ErrDuplicateRoleName, got %v", err)
	}
}

func TestDeleteRole_Success(t *testing.T) {
	repo, mock := newRoleRepo(t)
	mock.ExpectQuery("SELECT id.*FROM roles WHERE id").
		WithArgs("role-1").
		WillReturnRows(sampleRoleRow())
	mock.ExpectExec("DELETE FROM roles").
		WithArgs("role-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Delete(context.Background(), "role-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDeleteRole_NotFound(t *testing.T) {
	repo, mock := newRoleRepo(t)
	mock.ExpectQuery("SELECT id.*FROM roles WHERE id").
		WillReturnError(sql.ErrNoRows)

	if err := repo.Delete(context.Background(), "missing"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestDeleteRole_SystemRole(t *testing.T) {
	repo, mock := newRoleRepo(t)
	mock.ExpectQuery("SELECT id.*FROM roles WHERE id").
		WillReturnRows(systemRoleRow())

	if err := repo.Delete(context.Background(), "role-sys"); !errors.Is(err, models.ErrSystemRoleImmutable) {
		t.Errorf("expected ErrSystemRoleImmutable, got %v", err)
	}
}

func TestDeleteRole_InUse(t *testing.T) {
	repo, mock := newRoleRepo(t)
	mock.ExpectQuery("SELECT id.*FROM roles WHERE id").
		WillReturnRows(sampleRoleRow())
	mock.ExpectExec("DELETE FROM roles").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.Delete(context.Background(), "role-1"); !errors.Is(err, models.ErrRoleInUse) {
		t.Errorf("expected ErrRoleInUse, got %v", err)
	}
}

func TestEnsureSystemRoles_SeedsAll(t *testing.T) {
	repo, mock := newRoleRepo(t)
	for range models.SystemRoles() {
		mock.ExpectExec("INSERT INTO roles").
			WillReturnResult(sqlmock.NewResult(0, 1))
	}

	if err := repo.EnsureSystemRoles(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
