// Package server assembles the HTTP router from the feature handlers.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/activity"
	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/api"
	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/audit"
	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/auth"
	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/config"
	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/contributions"
	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/cycles"
	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/draw"
	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/groups"
	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/memberships"
	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/metrics"
	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/payouts"
	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/users"
)

// healthTimeout bounds the database ping behind /health.
const healthTimeout = 2 * time.Second

// Deps are the collaborators the router is built from.
type Deps struct {
	Config *config.Config
	DB     *gorm.DB
	Logger *slog.Logger

	// Tokens signs and validates session tokens. Built from Config when nil.
	Tokens *auth.TokenManager
	// Sender delivers one-time codes. Defaults to logging them.
	Sender auth.Sender
	// Random drives draws. Defaults to crypto/rand.
	Random draw.RandomSource
	// Metrics enables /metrics and request instrumentation when non-nil.
	Metrics *metrics.Metrics
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(d Deps) *gin.Engine {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := d.Config
	tokens := d.Tokens
	if tokens == nil {
		tokens = auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.SessionTTL)
	}

	r := gin.New()
	r.Use(Recovery(logger), RequestID(), SecurityHeaders(), RequestLogger(logger))
	if d.Metrics != nil {
		r.Use(d.Metrics.Middleware())
		r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	}
	r.NoRoute(notFound)

	health := healthHandler(d.DB)
	r.GET("/health", health)

	auditor := audit.NewRecorder(d.DB, logger)
	requireAuth := auth.Middleware(d.DB, tokens)

	var drawOpts []draw.Option
	if d.Metrics != nil {
		drawOpts = append(drawOpts, draw.WithObserver(d.Metrics))
	}
	draws := draw.NewService(d.DB, d.Random, auditor, logger, drawOpts...)

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/health", health)

		authHandler := auth.NewHandler(d.DB, tokens, auditor, d.Sender, auth.Options{
			OTPTTL:        cfg.Auth.OTPTTL,
			OTPMaxPerHour: cfg.Auth.OTPMaxPerHour,
			DevEcho:       cfg.Auth.OTPDevEcho,
			SecureCookie:  cfg.IsProduction(),
		}, logger)
		authHandler.RegisterRoutes(apiGroup.Group("/auth"), requireAuth)

		usersHandler := users.NewHandler(d.DB, auditor, logger)
		usersHandler.RegisterRoutes(apiGroup.Group("/users", requireAuth))

		adminGroup := apiGroup.Group("/admin", requireAuth, auth.RequireSystemAdmin())
		usersHandler.RegisterAdminRoutes(adminGroup)

		groupsGroup := apiGroup.Group("/groups", requireAuth)
		groups.NewHandler(d.DB, auditor, cfg.DefaultCycleDays, logger).RegisterRoutes(groupsGroup)
		draw.NewHandler(d.DB, draws, logger).RegisterRoutes(groupsGroup)

		memberships.NewHandler(d.DB, auditor, logger).RegisterRoutes(apiGroup.Group("/memberships", requireAuth))
		cycles.NewHandler(d.DB, auditor, logger).RegisterRoutes(apiGroup.Group("/cycles", requireAuth))
		contributions.NewHandler(d.DB, auditor, logger).RegisterRoutes(apiGroup.Group("/contributions", requireAuth))
		payouts.NewHandler(d.DB, auditor, logger).RegisterRoutes(apiGroup.Group("/payouts", requireAuth))
		activity.NewHandler(d.DB, logger).RegisterRoutes(apiGroup.Group("/audit", requireAuth))
	}

	return r
}

func notFound(c *gin.Context) {
	if strings.HasPrefix(c.Request.URL.Path, "/api/") {
		api.NotFound(c, "Route not found")
		return
	}
	c.String(http.StatusNotFound, "404 page not found")
}

// healthHandler reports ok while the database answers a ping.
func healthHandler(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
		defer cancel()

		status, code := "ok", http.StatusOK
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			status, code = "degraded", http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":   status,
			"service":  "rosca",
			"database": err == nil,
		})
	}
}
