// Package cache provides a Redis-backed memoization layer for the hot lookups
// on the request path: role capability sets keyed by role id and internal
// person ids keyed by identity-provider subject.
//
// Reads go through a coalescing read-through: when N concurrent callers miss
// the same key, exactly one performs the underlying load and all N receive its
// result. The in-flight registry entry is removed on both success and failure,
// so a failed load never poisons the key — the next caller simply retries.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shield-inspect/shield/internal/telemetry"
)

// Config holds Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int

	// TTLs are short by design: grant data is security-relevant and staleness
	// windows should be measured in seconds.
	RoleCapabilitiesTTL time.Duration
	PersonIDTTL         time.Duration
}

// Cache wraps a Redis client plus the in-flight load registry.
type Cache struct {
	rdb      *redis.Client
	roleTTL  time.Duration
	personTTL time.Duration

	mu       sync.Mutex
	inflight map[string]*inflightLoad
}

// inflightLoad is one pending computation; waiters block on done.
type inflightLoad struct {
	done chan struct{}
	val  []byte
	err  error
}

// New connects to Redis and verifies the connection.
func New(cfg Config) (*Cache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	roleTTL := cfg.RoleCapabilitiesTTL
	if roleTTL <= 0 {
		roleTTL = 30 * time.Second
	}
	personTTL := cfg.PersonIDTTL
	if personTTL <= 0 {
		personTTL = 5 * time.Minute
	}

	return &Cache{
		rdb:       rdb,
		roleTTL:   roleTTL,
		personTTL: personTTL,
		inflight:  make(map[string]*inflightLoad),
	}, nil
}

// Close releases the Redis connection.
func (c *Cache) Close() error {
	return c.rdb.Close()
}

// Redis exposes the underlying client for components that share the
// connection, e.g. the distributed rate limiter.
func (c *Cache) Redis() *redis.Client {
	return c.rdb
}

// GetRoleCapabilities returns the capability tags for a role, loading through
// load on miss.
func (c *Cache) GetRoleCapabilities(ctx context.Context, roleID string, load func(ctx context.Context) ([]string, error)) ([]string, error) {
	raw, err := c.getOrLoad(ctx, "role:caps:"+roleID, c.roleTTL, func(ctx context.Context) ([]byte, error) {
		caps, err := load(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(caps)
	})
	if err != nil {
		return nil, err
	}

	var caps []string
	if err := json.Unmarshal(raw, &caps); err != nil {
		// Corrupt entry: drop it so the next read reloads.
		c.rdb.Del(ctx, "role:caps:"+roleID)
		return nil, fmt.Errorf("failed to decode cached capabilities: %w", err)
	}
	return caps, nil
}

// GetPersonID returns the internal person id for an identity-provider subject,
// loading through load on miss. An empty id (person not yet synced) is cached
// too, so unsynced users do not hammer the database.
func (c *Cache) GetPersonID(ctx context.Context, idpID string, load func(ctx context.Context) (string, error)) (string, error) {
	raw, err := c.getOrLoad(ctx, "person:idp:"+idpID, c.personTTL, func(ctx context.Context) ([]byte, error) {
		id, err := load(ctx)
		if err != nil {
			return nil, err
		}
		return []byte(id), nil
	})
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// InvalidatePerson drops the memoized person id, e.g. after the sync job
// creates the person record.
func (c *Cache) InvalidatePerson(ctx context.Context, idpID string) error {
	return c.rdb.Del(ctx, "person:idp:"+idpID).Err()
}

// InvalidateRole drops the memoized capability set after a role update.
func (c *Cache) InvalidateRole(ctx context.Context, roleID string) error {
	return c.rdb.Del(ctx, "role:caps:"+roleID).Err()
}

// getOrLoad implements the coalesced read-through. The registry entry is
// created under the mutex, and the deferred cleanup removes it on every exit
// path; waiters that joined an in-flight load share its outcome, errors
// included.
func (c *Cache) getOrLoad(ctx context.Context, key string, ttl time.Duration, load func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	val, err := c.rdb.Get(ctx, key).Bytes()
	if err == nil {
		return val, nil
	}
	if err != redis.Nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	c.mu.Lock()
	if pending, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		telemetry.CacheCoalescedLoadsTotal.Inc()
		select {
		case <-pending.done:
			return pending.val, pending.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	pending := &inflightLoad{done: make(chan struct{})}
	c.inflight[key] = pending
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.inflight, key)
		c.mu.Unlock()
		close(pending.done)
	}()

	pending.val, pending.err = load(ctx)
	if pending.err != nil {
		return nil, pending.err
	}

	if err := c.rdb.Set(ctx, key, pending.val, ttl).Err(); err != nil {
		// The computed value is still good; a failed cache write only costs
		// the memoization.
		return pending.val, nil
	}
	return pending.val, nil
}
