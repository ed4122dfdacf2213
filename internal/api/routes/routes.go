package routes

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/ssm-ops/watchtower/internal/api/handlers"
	"github.com/ssm-ops/watchtower/internal/api/middleware"
	"github.com/ssm-ops/watchtower/internal/geo"
	"github.com/ssm-ops/watchtower/internal/metrics"
	"github.com/ssm-ops/watchtower/internal/models"
	"github.com/ssm-ops/watchtower/internal/services"
	"github.com/ssm-ops/watchtower/internal/version"
)

// Services bundles the wired pipeline so callers (scheduler, tests) can
// reach the same instances the HTTP layer uses.
type Services struct {
	Classifier   *services.ClassifierService
	Detection    *services.DetectionService
	Reputation   *services.ReputationService
	Alerts       *services.AlertService
	Incidents    *services.IncidentService
	Rollups      *services.RollupService
	Reports      *services.ReportService
	Notification *services.NotificationService
}

// Register wires up API routes and performs automatic migrations.
func Register(router *gin.Engine, db *gorm.DB, resolver geo.Resolver) (*Services, error) {
	if err := db.AutoMigrate(
		&models.RequestLog{},
		&models.DetectionRule{},
		&models.AlertRule{},
		&models.SecurityAlert{},
		&models.SecurityIncident{},
		&models.IncidentEvent{},
		&models.IPBlock{},
		&models.IPIntelligence{},
		&models.MetricsHourly{},
		&models.MetricsDaily{},
		&models.RollupClaim{},
		&models.Notification{},
		&models.NotificationProvider{},
	); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	notificationService := services.NewNotificationService(db)
	reputationService := services.NewReputationService(db)
	detectionService := services.NewDetectionService(db, reputationService, notificationService)
	classifierService := services.NewClassifierService(db, resolver, detectionService, reputationService)
	incidentService := services.NewIncidentService(db, notificationService)
	alertService := services.NewAlertService(db, reputationService, incidentService, notificationService)
	rollupService := services.NewRollupService(db)
	reportService := services.NewReportService(db, reputationService)

	ingestHandler := handlers.NewIngestHandler(classifierService)
	reportHandler := handlers.NewReportHandler(reportService)
	detectionRuleHandler := handlers.NewDetectionRuleHandler(db, detectionService)
	alertRuleHandler := handlers.NewAlertRuleHandler(db)
	alertHandler := handlers.NewAlertHandler(alertService)
	incidentHandler := handlers.NewIncidentHandler(incidentService)
	blockHandler := handlers.NewBlockHandler(reputationService)
	notificationHandler := handlers.NewNotificationHandler(notificationService)

	registry := prometheus.NewRegistry()
	metrics.Register(registry)

	router.GET("/health", handlers.HealthHandler)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	router.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"name": version.Name, "version": version.Full()})
	})

	api := router.Group("/api/v1")
	api.Use(middleware.RequestID(), middleware.RequestLogger())

	api.POST("/ingest", ingestHandler.Ingest)

	// Reports
	api.GET("/reports/metrics", reportHandler.ComprehensiveMetrics)
	api.GET("/reports/geographic", reportHandler.GeographicDistribution)
	api.GET("/reports/top-attackers", reportHandler.TopAttackingIPs)
	api.GET("/reports/timeline", reportHandler.ThreatTimeline)

	// Detection rules
	api.GET("/detection-rules", detectionRuleHandler.List)
	api.POST("/detection-rules", detectionRuleHandler.Create)
	api.PUT("/detection-rules/:id", detectionRuleHandler.Update)
	api.DELETE("/detection-rules/:id", detectionRuleHandler.Delete)
	api.POST("/detection-rules/:id/enable", detectionRuleHandler.Enable)

	// Alert rules
	api.GET("/alert-rules", alertRuleHandler.List)
	api.POST("/alert-rules", alertRuleHandler.Create)
	api.PUT("/alert-rules/:id", alertRuleHandler.Update)
	api.DELETE("/alert-rules/:id", alertRuleHandler.Delete)

	// Alerts
	api.GET("/alerts", alertHandler.List)
	api.POST("/alerts/:id/acknowledge", alertHandler.Acknowledge)
	api.POST("/alerts/:id/resolve", alertHandler.Resolve)
	api.POST("/alerts/:id/suppress", alertHandler.Suppress)

	// Incidents
	api.GET("/incidents", incidentHandler.List)
	api.POST("/incidents", incidentHandler.Create)
	api.GET("/incidents/:id", incidentHandler.Get)
	api.POST("/incidents/:id/transition", incidentHandler.Transition)
	api.POST("/incidents/:id/events", incidentHandler.AddEvent)

	// IP blocks and whitelist
	api.GET("/blocks", blockHandler.List)
	api.POST("/blocks", blockHandler.Create)
	api.DELETE("/blocks/:id", blockHandler.Delete)
	api.GET("/blocks/check", blockHandler.Check)

	// Notifications
	api.GET("/notifications", notificationHandler.List)
	api.POST("/notifications/:id/read", notificationHandler.MarkAsRead)
	api.POST("/notifications/read-all", notificationHandler.MarkAllAsRead)
	api.GET("/notification-providers", notificationHandler.ListProviders)
	api.POST("/notification-providers", notificationHandler.CreateProvider)
	api.PUT("/notification-providers/:id", notificationHandler.UpdateProvider)
	api.DELETE("/notification-providers/:id", notificationHandler.DeleteProvider)
	api.POST("/notification-providers/test", notificationHandler.TestProvider)

	return &Services{
		Classifier:   classifierService,
		Detection:    detectionService,
		Reputation:   reputationService,
		Alerts:       alertService,
		Incidents:    incidentService,
		Rollups:      rollupService,
		Reports:      reportService,
		Notification: notificationService,
	}, nil
}
