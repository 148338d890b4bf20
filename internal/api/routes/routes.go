package routes

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/Wikid82/argus/internal/api/handlers"
	"github.com/Wikid82/argus/internal/api/middleware"
	"github.com/Wikid82/argus/internal/cerberus"
	"github.com/Wikid82/argus/internal/config"
	"github.com/Wikid82/argus/internal/events"
	"github.com/Wikid82/argus/internal/filescan"
	"github.com/Wikid82/argus/internal/logger"
	"github.com/Wikid82/argus/internal/metrics"
	"github.com/Wikid82/argus/internal/models"
	"github.com/Wikid82/argus/internal/reputation"
	"github.com/Wikid82/argus/internal/services"
)

// Register performs migrations, restores persisted security state and wires
// up the API routes. The returned function stops background workers and
// must be called on shutdown.
func Register(router *gin.Engine, db *gorm.DB, cfg config.Config) (func(), error) {
	if err := db.AutoMigrate(&models.User{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	securityService := services.NewSecurityService(db)
	if err := securityService.Migrate(); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	store, err := cerberus.NewStore(cfg.Security, nil)
	if err != nil {
		return nil, fmt.Errorf("init security store: %w", err)
	}
	log := logger.ForComponent("routes")

	// Runtime changes saved by an admin win over the environment.
	overrides, err := securityService.LoadOverrides()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("load security settings: %w", err)
	}
	if _, err := store.Live.Update("database", overrides.Apply); err != nil {
		store.Close()
		return nil, fmt.Errorf("apply security settings: %w", err)
	}
	store.Live.OnChange(func(s *config.Snapshot) {
		if err := securityService.SaveSnapshot(s); err != nil {
			log.WithError(err).Error("failed to persist security settings")
		}
	})

	blocked, err := securityService.BlockedRecords()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("restore blocked origins: %w", err)
	}
	store.Reputation.Restore(blocked)

	packs, err := securityService.LoadRuleSets()
	if err != nil {
		log.WithError(err).Warn("failed to load stored rule sets")
	}
	for _, p := range packs {
		if err := store.MergePack(p); err != nil {
			log.WithError(err).Warn("failed to apply stored rule set")
		}
	}
	log.WithFields(map[string]interface{}{
		"blocked_origins": len(blocked),
		"rule_sets":       len(packs),
		"signatures":      store.Catalog.Len(),
		"config_version":  store.Live.Current().Version,
	}).Info("security state restored")

	recorder := services.NewEventRecorder(securityService)
	store.Events.AddSink(recorder)
	alerts, err := services.NewAlertService(cfg.Security)
	if err != nil {
		recorder.Close()
		store.Close()
		return nil, fmt.Errorf("init alerts: %w", err)
	}
	if alerts != nil {
		store.Events.AddSink(alerts)
	}
	store.Events.AddSink(events.SinkFunc(func(e events.Event) {
		metrics.IncEvent(string(e.Type), string(e.Outcome))
	}))

	store.OnBlock(func(r reputation.Record) {
		if err := securityService.SaveBlockedOrigin(r, "system"); err != nil {
			log.WithError(err).WithField("origin", r.Origin).Error("failed to persist blocked origin")
		}
	})
	store.OnScan(func(origin string, up filescan.Upload, out filescan.Outcome) {
		if err := securityService.RecordScan(origin, up, out); err != nil {
			log.WithError(err).WithField("scan_id", out.Result.ScanID).Error("failed to record scan")
		}
	})

	if err := store.Start(); err != nil {
		recorder.Close()
		alerts.Close()
		store.Close()
		return nil, err
	}
	shutdown := func() {
		store.Close()
		recorder.Close()
		alerts.Close()
	}

	registry := prometheus.NewRegistry()
	metrics.Register(registry)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	cerb := cerberus.New(store)
	router.Use(
		middleware.RequestID(),
		middleware.RequestLogger(),
		middleware.Recovery(cfg.Debug),
		middleware.SecurityHeaders(middleware.SecurityHeadersConfig{IsDevelopment: cfg.IsDevelopment()}),
	)

	router.GET("/api/v1/health", handlers.NewHealthHandler(db).Check)

	api := router.Group("/api/v1")
	api.Use(cerb.Middleware())

	authService := services.NewAuthService(db, cfg)
	cerb.TrustWhen(middleware.BearerHasRole(authService, "admin"))
	authHandler := handlers.NewAuthHandler(authService, store)
	tokenHandler := handlers.NewTokenHandler(store, !cfg.IsDevelopment())
	uploadHandler := handlers.NewUploadHandler()
	securityHandler := handlers.NewSecurityHandler(store, securityService)

	api.GET("/security/csrf-token", tokenHandler.CSRFToken)
	api.GET("/security/page-token", tokenHandler.PageToken)
	api.POST("/auth/login", authHandler.Login)
	api.POST("/uploads", cerb.UploadGuard("file"), uploadHandler.Create)

	protected := api.Group("/")
	protected.Use(middleware.AuthMiddleware(authService))
	{
		protected.GET("/auth/me", authHandler.Me)
	}

	admin := protected.Group("/")
	admin.Use(middleware.RequireRole("admin"))
	{
		admin.POST("/users", authHandler.Register)

		admin.GET("/security/status", securityHandler.GetStatus)
		admin.GET("/security/events", securityHandler.ListEvents)
		admin.GET("/security/decisions", securityHandler.ListDecisions)
		admin.GET("/security/audits", securityHandler.ListAudits)
		admin.GET("/security/scans", securityHandler.ListScans)
		admin.GET("/security/quarantine", securityHandler.ListQuarantine)
		admin.GET("/security/reports", securityHandler.ListReports)
		admin.GET("/security/signatures", securityHandler.ListSignatures)

		admin.GET("/security/origins/blocked", securityHandler.ListBlocked)
		admin.POST("/security/origins/:origin/block", securityHandler.BlockOrigin)
		admin.DELETE("/security/origins/:origin/block", securityHandler.UnblockOrigin)

		admin.GET("/security/config", securityHandler.GetConfig)
		admin.PATCH("/security/config", securityHandler.UpdateConfig)
		admin.POST("/security/lockdown", securityHandler.SetLockdown)

		admin.GET("/security/rulesets", securityHandler.ListRuleSets)
		admin.POST("/security/rulesets", securityHandler.UpsertRuleSet)
	}

	return shutdown, nil
}
