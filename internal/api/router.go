// Package api wires together all HTTP routes for the Shield backend.
//
// Route grouping philosophy:
//   - Everything except the health probes and the version endpoint requires a
//     verified bearer token. There is no anonymous surface: even read paths go
//     through principal resolution so row security has a context to bind.
//   - Admin routes additionally require the matching manage capability; the
//     capability set is evaluated per request against the caller's reduced
//     grants, never read from the token.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/shield-inspect/shield/internal/access"
	"github.com/shield-inspect/shield/internal/api/admin"
	"github.com/shield-inspect/shield/internal/api/assets"
	"github.com/shield-inspect/shield/internal/cache"
	"github.com/shield-inspect/shield/internal/config"
	"github.com/shield-inspect/shield/internal/db/repositories"
	"github.com/shield-inspect/shield/internal/jobs"
	"github.com/shield-inspect/shield/internal/keycloak"
	"github.com/shield-inspect/shield/internal/middleware"
	"github.com/shield-inspect/shield/internal/rls"
)

// BackgroundServices holds references to background jobs and resources that
// must be stopped during graceful shutdown. The caller (cmd/server) is
// responsible for calling Shutdown() when the process receives a termination
// signal.
type BackgroundServices struct {
	syncCancel   context.CancelFunc
	rateLimiters []*middleware.RateLimiter
	cache        *cache.Cache
}

// Shutdown stops all background goroutines and releases shared resources. It
// should be called after the HTTP server has been shut down so that in-flight
// requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.syncCancel != nil {
		bg.syncCancel()
	}
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	if bg.cache != nil {
		if err := bg.cache.Close(); err != nil {
			slog.Warn("failed to close cache", "error", err)
		}
	}
	slog.Info("all background services stopped")
}

// cachedPersonDirectory memoizes the idp-subject to person-id lookup that
// runs on every authenticated request.
type cachedPersonDirectory struct {
	repo  *repositories.PersonRepository
	cache *cache.Cache
}

func (d *cachedPersonDirectory) GetPersonIDByIdpID(ctx context.Context, idpID string) (string, error) {
	return d.cache.GetPersonID(ctx, idpID, func(ctx context.Context) (string, error) {
		return d.repo.GetPersonIDByIdpID(ctx, idpID)
	})
}

// NewRouter creates and configures the Gin router. The verifier is built by
// the caller because its construction performs OIDC discovery against the
// identity provider.
func NewRouter(cfg *config.Config, db *sqlx.DB, verifier middleware.IdentityVerifier) (*gin.Engine, *BackgroundServices) {
	router := gin.New()

	// Repositories constructed on the pool serve access metadata: persons,
	// roles, and grants are application-enforced tables, not row-secured ones.
	personRepo := repositories.NewPersonRepository(db)
	roleRepo := repositories.NewRoleRepository(db)
	grantRepo := repositories.NewAccessGrantRepository(db)

	builder := rls.NewBuilder(db)

	// Cache is best-effort: a missing Redis degrades to direct DB lookups,
	// never to a failed startup.
	var lookupCache *cache.Cache
	if cfg.Cache.Enabled {
		c, err := cache.New(cache.Config{
			Addr:                cfg.Cache.Addr,
			Password:            cfg.Cache.Password,
			DB:                  cfg.Cache.DB,
			RoleCapabilitiesTTL: cfg.Cache.RoleCapabilitiesTTL,
			PersonIDTTL:         cfg.Cache.PersonIDTTL,
		})
		if err != nil {
			slog.Warn("cache unavailable, continuing without it", "addr", cfg.Cache.Addr, "error", err)
		} else {
			lookupCache = c
		}
	}

	var directory access.PersonDirectory = personRepo
	if lookupCache != nil {
		directory = &cachedPersonDirectory{repo: personRepo, cache: lookupCache}
	}
	resolver := access.NewResolver(directory, grantRepo, cfg.Auth.BootstrapAdminEmails)

	// Rate limiters share the cache's Redis connection when present so the
	// limits hold across instances.
	var limiterRedis *redis.Client
	if lookupCache != nil {
		limiterRedis = lookupCache.Redis()
	}
	generalRateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimitConfig(), limiterRedis)
	adminRateLimiter := middleware.NewRateLimiter(middleware.AdminRateLimitConfig(), limiterRedis)

	// Background access sync against the identity provider.
	bg := &BackgroundServices{
		rateLimiters: []*middleware.RateLimiter{generalRateLimiter, adminRateLimiter},
		cache:        lookupCache,
	}
	if cfg.Sync.Enabled {
		kc := keycloak.NewClient(keycloak.Config{
			BaseURL:          cfg.Keycloak.BaseURL,
			Realm:            cfg.Keycloak.Realm,
			ClientID:         cfg.Keycloak.ClientID,
			ClientSecret:     cfg.Keycloak.ClientSecret,
			ManagedGroupName: cfg.Keycloak.ManagedGroupName,
		})
		syncJob := jobs.NewAccessSyncJob(kc, db, builder, cfg.Sync.PageSize)
		syncCtx, cancel := context.WithCancel(context.Background())
		bg.syncCancel = cancel
		syncJob.Schedule(syncCtx, cfg.Sync.StartupDelay, cfg.Sync.Interval)
		slog.Info("access sync job scheduled",
			"startup_delay", cfg.Sync.StartupDelay,
			"interval", cfg.Sync.Interval)
	}

	// Handlers
	roleHandlers := admin.NewRoleHandlers(roleRepo, lookupCache)
	grantHandlers := admin.NewGrantHandlers(grantRepo, personRepo, roleRepo)
	assetHandlers := assets.NewHandlers(builder)

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware(cfg))
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))

	// Health check endpoint
	router.GET("/health", healthCheckHandler(db))

	// Readiness check endpoint
	router.GET("/ready", readinessHandler(db, lookupCache))

	// API version
	router.GET("/version", versionHandler())

	apiV1 := router.Group("/api/v1")

	authenticated := apiV1.Group("")
	authenticated.Use(middleware.RateLimitMiddleware(generalRateLimiter))
	authenticated.Use(middleware.AuthMiddleware(verifier, resolver))
	authenticated.Use(middleware.ViewContextMiddleware())
	{
		// Caller introspection
		authenticated.GET("/me", assets.Me)

		// Capability vocabulary (any authenticated caller)
		authenticated.GET("/capabilities", roleHandlers.ListCapabilities)

		// Assets — the row-secured resource
		authenticated.GET("/assets",
			middleware.RequireCapability(access.CapabilityFor("assets", access.ActionRead)),
			assetHandlers.ListAssets)
		authenticated.GET("/assets/:id",
			middleware.RequireCapability(access.CapabilityFor("assets", access.ActionRead)),
			assetHandlers.GetAsset)
		authenticated.POST("/assets",
			middleware.RequireCapability(access.CapabilityFor("assets", access.ActionWrite)),
			assetHandlers.CreateAsset)

		// Role management
		rolesGroup := authenticated.Group("/admin/roles")
		rolesGroup.Use(middleware.RateLimitMiddleware(adminRateLimiter))
		rolesGroup.Use(middleware.RequireCapability(access.CapabilityFor("roles", access.ActionManage)))
		{
			rolesGroup.GET("", roleHandlers.ListRoles)
			rolesGroup.GET("/:id", roleHandlers.GetRole)
			rolesGroup.GET("/:id/capabilities", roleHandlers.GetRoleCapabilities)
			rolesGroup.POST("", roleHandlers.CreateRole)
			rolesGroup.PUT("/:id", roleHandlers.UpdateRole)
			rolesGroup.DELETE("/:id", roleHandlers.DeleteRole)
		}

		// Grant administration
		grantsGroup := authenticated.Group("/admin")
		grantsGroup.Use(middleware.RateLimitMiddleware(adminRateLimiter))
		grantsGroup.Use(middleware.RequireCapability(access.CapabilityFor("access-grants", access.ActionManage)))
		{
			grantsGroup.GET("/persons/:id/grants", grantHandlers.ListPersonGrants)
			grantsGroup.POST("/persons/:id/grants", grantHandlers.CreateGrant)
			grantsGroup.DELETE("/grants/:id", grantHandlers.DeleteGrant)
		}
	}

	return router, bg
}

// healthCheckHandler returns the health status of the service
func healthCheckHandler(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check database connection
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// readinessHandler returns the readiness status of the service. Unlike the
// liveness probe (/health), it also reports the cache so operators can see a
// degraded (but serving) instance.
func readinessHandler(db *sqlx.DB, lookupCache *cache.Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		if err := db.PingContext(c.Request.Context()); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		// Cache is optional; its absence degrades latency, not correctness.
		if lookupCache == nil {
			checks["cache"] = "disabled"
		} else if err := lookupCache.Redis().Ping(c.Request.Context()).Err(); err != nil {
			checks["cache"] = "unhealthy"
		} else {
			checks["cache"] = "healthy"
		}

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// versionHandler returns the API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     "0.1.0",
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware provides structured logging
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)

		requestID, _ := c.Get(middleware.RequestIDKey)
		slog.LogAttrs(
			c.Request.Context(),
			slog.LevelInfo,
			"http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", latency),
			slog.String("ip", c.ClientIP()),
			slog.String("request_id", fmt.Sprintf("%v", requestID)),
			slog.String("user_agent", c.Request.UserAgent()),
		)
	}
}

// CORSMiddleware handles CORS
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		// Check if origin is allowed
		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
			}
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With, "+middleware.ViewHeader)
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
