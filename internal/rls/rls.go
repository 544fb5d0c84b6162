// Package rls builds request-scoped database handles that enforce tenant
// isolation through PostgreSQL row-level security.
//
// Every handle owns one transaction. During the build, and before the handle
// is handed to any caller, the acting principal (or an explicit bypass flag)
// is bound to that transaction with a single set_config(..., true) statement.
// Because is_local=true makes the settings transaction-scoped, the binding's
// lifetime is provably identical to the transaction's: commit or rollback
// discards it, and a pooled connection can never leak one request's context
// into another's queries. The row-security policies in the schema read the
// settings back via current_setting('shield.*', true); enforcement happens in
// the database, not in application code.
//
// Session variable contract (stable — the migrations depend on it):
//
//	shield.bypass_rls   "on"/"off"  disables row security for trusted jobs
//	shield.person_id    uuid        acting person ("" when unresolved)
//	shield.client_id    uuid        active client
//	shield.site_id      uuid        active site
//	shield.scope        text        effective scope (SYSTEM..SELF)
//	shield.capabilities text        comma-joined capability tags
//	shield.admin_view   "on"/"off"  cross-tenant admin visibility toggle
package rls

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/shield-inspect/shield/internal/access"
)

var (
	// ErrUnauthenticated is returned when a handle is requested for a request
	// whose principal could not be resolved. The wrapper never falls back to
	// an unscoped or bypass handle.
	ErrUnauthenticated = errors.New("no authenticated principal in request context")

	// ErrHandleClosed is returned by operations on a committed or rolled-back
	// handle.
	ErrHandleClosed = errors.New("rls handle already closed")
)

// IsPolicyViolation reports whether err is Postgres rejecting a write that
// the bound row-security context does not permit (SQLSTATE 42501).
func IsPolicyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "42501"
}

// Context describes the binding a handle carries, readable by callers that
// need to stamp "resolved by" information on writes.
type Context struct {
	Bypass       bool
	PersonID     string
	ClientID     string
	SiteID       string
	Scope        access.Scope
	Capabilities []access.Capability
	AdminView    bool
}

// Handle is a transaction-scoped database handle with a bound RLS context.
type Handle struct {
	tx        *sqlx.Tx
	rlsCtx    Context
	principal *access.Principal
	closed    bool
}

// Builder produces handles over a shared connection pool. Each build claims
// its own transaction, so concurrently building handles can never race on the
// session variables of a shared connection.
type Builder struct {
	db *sqlx.DB
}

// NewBuilder wraps the pool.
func NewBuilder(db *sqlx.DB) *Builder {
	return &Builder{db: db}
}

// BuildBypass returns a handle with row security disabled. Only trusted
// internal code (the access sync job, webhook handlers, seeds) may use it, and
// that code is responsible for scoping its own queries.
func (b *Builder) BuildBypass(ctx context.Context) (*Handle, error) {
	return b.build(ctx, nil, Context{Bypass: true})
}

// BuildForUser returns a handle bound to the principal's active grant. A nil
// principal fails fast with ErrUnauthenticated. A principal with zero grants
// gets a SELF-scoped binding with sentinel tenant ids: authenticated but
// authorized for nothing, which the policies answer with empty result sets.
func (b *Builder) BuildForUser(ctx context.Context, p *access.Principal) (*Handle, error) {
	return b.BuildForViewContext(ctx, p, false)
}

// BuildForViewContext is BuildForUser plus the per-request admin/user view
// toggle. The toggle can only narrow visibility: the admin view is granted
// exclusively when the principal's reduced capability set carries
// CapabilityAdminView, so a client-supplied header can never widen access.
func (b *Builder) BuildForViewContext(ctx context.Context, p *access.Principal, adminView bool) (*Handle, error) {
	if p == nil {
		return nil, ErrUnauthenticated
	}

	rc := Context{
		PersonID:  p.PersonID,
		ClientID:  access.SentinelID,
		SiteID:    access.SentinelID,
		Scope:     access.ScopeSelf,
		AdminView: adminView && p.HasCapability(access.CapabilityAdminView),
	}
	if active, ok := p.Active(); ok {
		rc.ClientID = active.ClientID
		rc.SiteID = active.SiteID
		rc.Scope = active.Scope
		rc.Capabilities = active.Capabilities
	}
	return b.build(ctx, p, rc)
}

// build claims a transaction and binds rc to it. This is the only place the
// session variables are assigned, so each logical handle build performs
// exactly one assignment.
func (b *Builder) build(ctx context.Context, p *access.Principal, rc Context) (*Handle, error) {
	tx, err := b.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin rls transaction: %w", err)
	}

	if err := applyContext(ctx, tx, rc); err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("failed to bind rls context: %w", err)
	}

	return &Handle{tx: tx, rlsCtx: rc, principal: p}, nil
}

// applyContext issues the single transaction-local set_config statement. The
// is_local=true argument scopes every setting to the transaction, so the
// binding dies with the transaction on every exit path.
func applyContext(ctx context.Context, tx *sqlx.Tx, rc Context) error {
	caps := make([]string, len(rc.Capabilities))
	for i, c := range rc.Capabilities {
		caps[i] = string(c)
	}

	_, err := tx.ExecContext(ctx, `
		SELECT set_config('shield.bypass_rls', $1, true),
		       set_config('shield.person_id', $2, true),
		       set_config('shield.client_id', $3, true),
		       set_config('shield.site_id', $4, true),
		       set_config('shield.scope', $5, true),
		       set_config('shield.capabilities', $6, true),
		       set_config('shield.admin_view', $7, true)`,
		onOff(rc.Bypass),
		rc.PersonID,
		rc.ClientID,
		rc.SiteID,
		string(rc.Scope),
		strings.Join(caps, ","),
		onOff(rc.AdminView),
	)
	return err
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

// Ext exposes the transaction for repository calls. All statements issued
// through it run on the same connection the context was bound to.
func (h *Handle) Ext() sqlx.ExtContext {
	return h.tx
}

// Tx exposes the underlying transaction for code that needs Commit/Rollback
// semantics directly, e.g. the per-user transactions of the sync job.
func (h *Handle) Tx() *sqlx.Tx {
	return h.tx
}

// CurrentUser returns the principal the handle was built for; nil for bypass
// handles.
func (h *Handle) CurrentUser() *access.Principal {
	return h.principal
}

// RLSContext returns the context bound to the handle's transaction.
func (h *Handle) RLSContext() Context {
	return h.rlsCtx
}

// Commit commits the transaction and invalidates the handle.
func (h *Handle) Commit() error {
	if h.closed {
		return ErrHandleClosed
	}
	h.closed = true
	return h.tx.Commit()
}

// Rollback rolls back the transaction. Safe to call after Commit; the
// redundant rollback is swallowed so it can sit in a defer.
func (h *Handle) Rollback() error {
	if h.closed {
		return nil
	}
	h.closed = true
	if err := h.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

// WithBypass runs fn inside a bypass handle, committing on success and rolling
// back on error or panic.
func (b *Builder) WithBypass(ctx context.Context, fn func(h *Handle) error) error {
	h, err := b.BuildBypass(ctx)
	if err != nil {
		return err
	}
	return runScoped(h, fn)
}

// WithUser runs fn inside a handle bound to p, committing on success and
// rolling back on error or panic.
func (b *Builder) WithUser(ctx context.Context, p *access.Principal, fn func(h *Handle) error) error {
	h, err := b.BuildForUser(ctx, p)
	if err != nil {
		return err
	}
	return runScoped(h, fn)
}

// WithViewContext runs fn inside a view-context handle.
func (b *Builder) WithViewContext(ctx context.Context, p *access.Principal, adminView bool, fn func(h *Handle) error) error {
	h, err := b.BuildForViewContext(ctx, p, adminView)
	if err != nil {
		return err
	}
	return runScoped(h, fn)
}

func runScoped(h *Handle, fn func(h *Handle) error) error {
	defer func() { _ = h.Rollback() }()

	if err := fn(h); err != nil {
		return err
	}
	if err := h.Commit(); err != nil {
		return fmt.Errorf("failed to commit rls transaction: %w", err)
	}
	return nil
}
