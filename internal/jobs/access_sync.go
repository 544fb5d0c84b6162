// Package jobs contains background workers that run on a schedule.
// The access sync job reconciles Keycloak group membership into access-grant
// rows. Jobs are designed to be idempotent — re-running after a crash or
// against unchanged upstream state produces the same rows as a clean run.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/shield-inspect/shield/internal/db/models"
	"github.com/shield-inspect/shield/internal/db/repositories"
	"github.com/shield-inspect/shield/internal/keycloak"
	"github.com/shield-inspect/shield/internal/rls"
	"github.com/shield-inspect/shield/internal/safego"
	"github.com/shield-inspect/shield/internal/telemetry"
)

// Directory is the slice of the Keycloak client the sync job depends on,
// narrowed for testability.
type Directory interface {
	ListManagedGroups(ctx context.Context) ([]keycloak.Group, error)
	CountUsers(ctx context.Context) (int, error)
	ListUsers(ctx context.Context, first, max int) ([]keycloak.User, error)
	ListUserGroups(ctx context.Context, userID string) ([]keycloak.Group, error)
}

// AccessSyncJob imports Keycloak group-based role assignments into
// access-grant rows. It only ever adds or patches rows; grants whose backing
// group membership was revoked upstream are left in place and must be removed
// through the admin API (deliberate — automatic pruning would change
// security-relevant behavior).
type AccessSyncJob struct {
	directory Directory
	db        *sqlx.DB
	builder   *rls.Builder
	pageSize  int
}

// Summary reports one sync run.
type Summary struct {
	ManagedGroups int
	Processed     int
	Synced        int
}

// NewAccessSyncJob creates a new access sync job. pageSize bounds each user
// listing request; 100 is the conventional value.
func NewAccessSyncJob(directory Directory, db *sqlx.DB, builder *rls.Builder, pageSize int) *AccessSyncJob {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &AccessSyncJob{
		directory: directory,
		db:        db,
		builder:   builder,
		pageSize:  pageSize,
	}
}

// Schedule runs the job after the startup delay, then every interval until
// the context is cancelled. An interval of zero means run once. Failures are
// logged, never fatal.
func (j *AccessSyncJob) Schedule(ctx context.Context, startupDelay, interval time.Duration) {
	safego.Go(func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(startupDelay):
		}

		j.runOnce(ctx)
		if interval <= 0 {
			return
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				j.runOnce(ctx)
			}
		}
	})
}

func (j *AccessSyncJob) runOnce(ctx context.Context) {
	summary, err := j.Run(ctx)
	if err != nil {
		slog.Error("access sync failed", "error", err)
		return
	}
	slog.Info("access sync completed",
		"managed_groups", summary.ManagedGroups,
		"processed", summary.Processed,
		"synced", summary.Synced)
}

// Run executes one reconciliation pass.
func (j *AccessSyncJob) Run(ctx context.Context) (Summary, error) {
	started := time.Now()
	defer func() {
		telemetry.AccessSyncDuration.Observe(time.Since(started).Seconds())
	}()

	var summary Summary

	roleByGroup, err := j.loadManagedRoleMap(ctx)
	if err != nil {
		return summary, err
	}
	summary.ManagedGroups = len(roleByGroup)

	// Nothing to reconcile: skip paginating the whole user base. An empty map
	// almost always means the realm's managed groups are misconfigured.
	if len(roleByGroup) == 0 {
		slog.Warn("access sync aborted: no managed groups resolve to known roles")
		return summary, nil
	}

	// Pre-load external-id maps once to avoid N+1 lookups per user.
	clientIDs, err := repositories.NewClientRepository(j.db).ExternalIDMap(ctx)
	if err != nil {
		return summary, fmt.Errorf("failed to load client id map: %w", err)
	}
	siteIDs, err := repositories.NewSiteRepository(j.db).ExternalIDMap(ctx)
	if err != nil {
		return summary, fmt.Errorf("failed to load site id map: %w", err)
	}

	total, err := j.directory.CountUsers(ctx)
	if err != nil {
		return summary, fmt.Errorf("failed to count identity provider users: %w", err)
	}

	for offset := 0; offset < total; offset += j.pageSize {
		users, err := j.directory.ListUsers(ctx, offset, j.pageSize)
		if err != nil {
			return summary, fmt.Errorf("failed to list users at offset %d: %w", offset, err)
		}
		if len(users) == 0 {
			break // upstream count was stale; stop rather than spin
		}

		for i := range users {
			user := &users[i]
			summary.Processed++

			synced, err := j.syncUser(ctx, user, roleByGroup, clientIDs, siteIDs)
			if err != nil {
				// Partial-failure isolation: one user's error never aborts
				// the batch.
				telemetry.AccessSyncUserErrorsTotal.Inc()
				slog.Error("failed to sync user",
					"user_id", user.ID, "email", user.Email, "error", err)
				continue
			}
			if synced {
				summary.Synced++
			}
		}
	}

	telemetry.AccessSyncUsersProcessedTotal.Add(float64(summary.Processed))
	telemetry.AccessSyncUsersSyncedTotal.Add(float64(summary.Synced))
	return summary, nil
}

// loadManagedRoleMap fetches the managed subgroups and resolves each
// shield_role_id attribute against the roles table, producing
// externalGroupID → internalRoleID. Groups pointing at unknown roles are
// logged and skipped.
func (j *AccessSyncJob) loadManagedRoleMap(ctx context.Context) (map[string]string, error) {
	groups, err := j.directory.ListManagedGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list managed groups: %w", err)
	}
	if len(groups) == 0 {
		return nil, nil
	}

	roleIDs := make([]string, 0, len(groups))
	for _, g := range groups {
		roleIDs = append(roleIDs, g.Attribute(keycloak.AttrRoleID))
	}
	roles, err := repositories.NewRoleRepository(j.db).ListByIDs(ctx, roleIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve managed role ids: %w", err)
	}
	known := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		known[r.ID] = struct{}{}
	}

	roleByGroup := make(map[string]string, len(groups))
	for _, g := range groups {
		roleID := g.Attribute(keycloak.AttrRoleID)
		if _, ok := known[roleID]; !ok {
			slog.Warn("managed group references unknown role; skipping",
				"group", g.Name, "role_id", roleID)
			continue
		}
		roleByGroup[g.ID] = roleID
	}
	return roleByGroup, nil
}

// syncUser reconciles one user. Returns (false, nil) for users that are
// legitimately out of scope (missing attributes, unresolvable tenant ids, no
// managed group membership); those are skips, not failures.
func (j *AccessSyncJob) syncUser(
	ctx context.Context,
	user *keycloak.User,
	roleByGroup map[string]string,
	clientIDs, siteIDs map[string]string,
) (bool, error) {
	extClientID := user.Attribute(keycloak.AttrClientID)
	extSiteID := user.Attribute(keycloak.AttrSiteID)
	if extClientID == "" && extSiteID == "" {
		return false, nil // not a tenant user; nothing to do
	}

	clientID, ok := clientIDs[extClientID]
	if !ok {
		slog.Warn("skipping user with unresolvable client id",
			"user_id", user.ID, "email", user.Email, "client_id", extClientID)
		return false, nil
	}
	siteID, ok := siteIDs[extSiteID]
	if !ok {
		slog.Warn("skipping user with unresolvable site id",
			"user_id", user.ID, "email", user.Email, "site_id", extSiteID)
		return false, nil
	}

	memberships, err := j.directory.ListUserGroups(ctx, user.ID)
	if err != nil {
		return false, fmt.Errorf("failed to list groups: %w", err)
	}
	var roleIDs []string
	for _, g := range memberships {
		if roleID, ok := roleByGroup[g.ID]; ok {
			roleIDs = append(roleIDs, roleID)
		}
	}
	if len(roleIDs) == 0 {
		slog.Warn("skipping user with no managed group membership",
			"user_id", user.ID, "email", user.Email)
		return false, nil
	}

	// One transaction per user: the person upsert, the primary-grant decision,
	// and all grant upserts commit or roll back together. The bypass handle is
	// justified here — this is a trusted internal job and the tenant scoping
	// is re-derived above from the user's own attributes.
	err = j.builder.WithBypass(ctx, func(h *rls.Handle) error {
		persons := repositories.NewPersonRepository(h.Ext())
		grants := repositories.NewAccessGrantRepository(h.Ext())

		person, err := persons.UpsertByIdpID(ctx, user.ID, user.FirstName, user.LastName, user.Email, user.Username)
		if err != nil {
			return err
		}

		// Grants created on a person's first sync pass are all primary; any
		// pre-existing grant makes every new one non-primary. Counting inside
		// the transaction keeps a second pass from re-marking.
		existing, err := grants.CountForPerson(ctx, person.ID)
		if err != nil {
			return err
		}
		isPrimary := existing == 0

		for _, roleID := range roleIDs {
			grant := &models.AccessGrant{
				PersonID:  person.ID,
				ClientID:  clientID,
				SiteID:    siteID,
				RoleID:    roleID,
				IsPrimary: isPrimary,
			}
			if err := grants.Upsert(ctx, grant); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return true, nil
}
