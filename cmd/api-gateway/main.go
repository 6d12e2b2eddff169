package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/haab-bank/customer-update-api/api/swagger"
	"github.com/haab-bank/customer-update-api/internal/handler"
	"github.com/haab-bank/customer-update-api/internal/middleware"
	"github.com/haab-bank/customer-update-api/internal/models"
	"github.com/haab-bank/customer-update-api/internal/repository"
	"github.com/haab-bank/customer-update-api/internal/service"
	"github.com/haab-bank/customer-update-api/pkg/cache"
	"github.com/haab-bank/customer-update-api/pkg/config"
	"github.com/haab-bank/customer-update-api/pkg/database"
	"github.com/haab-bank/customer-update-api/pkg/jobs"
	"github.com/haab-bank/customer-update-api/pkg/logger"
	corsmiddleware "github.com/haab-bank/customer-update-api/pkg/middleware/cors"
	reqidmiddleware "github.com/haab-bank/customer-update-api/pkg/middleware/requestid"
	"github.com/haab-bank/customer-update-api/pkg/storage"
)

// @title Customer Update API
// @version 1.0.0
// @description Role-based approval workflow for customer record update requests
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
		redisClient = nil
	}

	validate := validator.New()

	// Repositories.
	userRepo := repository.NewUserRepository(db)
	requestRepo := repository.NewRequestRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	reportJobRepo := repository.NewReportJobRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	// Export plumbing.
	fileStore, err := storage.NewLocalStorage(cfg.Reports.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init report storage", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Reports.SignedURLSecret, cfg.Reports.SignedURLTTL)

	// Services.
	metricsService := service.NewMetricsService()
	cacheService := service.NewCacheService(cacheRepo, metricsService, cfg.Dashboard.CacheTTL, logr, redisClient != nil)
	authService := service.NewAuthService(userRepo, auditRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "customer-update-api",
	})
	userService := service.NewUserService(userRepo, requestRepo, auditRepo, validate, logr)
	workflowService := service.NewWorkflowService(requestRepo, userRepo, auditRepo, validate, service.AttachmentPolicy{
		MaxFileSizeBytes: cfg.Attachments.MaxFileSizeBytes,
		AllowedMIMEs:     cfg.Attachments.AllowedMIMEs,
	}, metricsService, logr)
	auditService := service.NewAuditService(auditRepo, logr)
	exportService := service.NewExportService(requestRepo, fileStore, signer, service.ExportConfig{
		APIPrefix: cfg.APIPrefix,
		ResultTTL: cfg.Reports.SignedURLTTL,
	}, logr, nil, nil)

	var reportService *service.ReportService
	exportQueue := jobs.NewQueue("report-export", func(ctx context.Context, job jobs.Job) error {
		return reportService.HandleJob(ctx, job)
	}, jobs.QueueConfig{
		Workers:    cfg.Reports.WorkerConcurrency,
		MaxRetries: cfg.Reports.WorkerRetries,
		Logger:     logr,
	})
	reportService = service.NewReportService(requestRepo, reportJobRepo, cacheService, exportService, exportQueue, validate, metricsService, logr, service.ReportConfig{
		SummaryTTL: cfg.Dashboard.CacheTTL,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	exportQueue.Start(ctx)
	defer exportQueue.Stop()

	if err := reportService.RecoverPendingJobs(ctx); err != nil {
		logr.Sugar().Warnw("failed to recover pending export jobs", "error", err)
	}
	go cleanupLoop(ctx, exportService, cfg.Reports.CleanupInterval)

	// Handlers.
	authHandler := handler.NewAuthHandler(authService)
	userHandler := handler.NewUserHandler(userService)
	requestHandler := handler.NewRequestHandler(workflowService, reportService)
	auditHandler := handler.NewAuditHandler(auditService)
	reportHandler := handler.NewReportHandler(reportService, exportService)
	metricsHandler := handler.NewMetricsHandler(metricsService)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsService))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/login", authHandler.Login)
	auth.POST("/refresh", authHandler.Refresh)
	auth.POST("/logout", middleware.JWT(authService), authHandler.Logout)
	auth.POST("/change-password", middleware.JWT(authService), authHandler.ChangePassword)

	// Signed token inside the URL authorizes the download.
	api.GET("/reports/download/:token", reportHandler.Download)

	secured := api.Group("")
	secured.Use(middleware.JWT(authService))

	secured.GET("/users", userHandler.ListVisible)
	secured.POST("/users", middleware.RequireRoles(models.RoleAdmin), userHandler.Create)
	secured.PUT("/users/:id", middleware.RequireRoles(models.RoleAdmin), userHandler.Update)
	secured.DELETE("/users/:id", middleware.RequireRoles(models.RoleAdmin), userHandler.Deactivate)

	secured.POST("/requests", middleware.RequireRoles(models.RoleInitiator, models.RoleAdmin), requestHandler.Create)
	secured.GET("/requests", requestHandler.List)
	secured.GET("/requests/:id", requestHandler.Get)
	secured.POST("/requests/:id/review", middleware.RequireRoles(models.RoleSupervisor, models.RoleAdmin), requestHandler.StartReview)
	secured.POST("/requests/:id/approve", middleware.RequireRoles(models.RoleSupervisor, models.RoleAdmin), requestHandler.Approve)
	secured.POST("/requests/:id/reject", middleware.RequireRoles(models.RoleSupervisor, models.RoleAdmin), requestHandler.Reject)
	secured.POST("/requests/:id/override", middleware.RequireRoles(models.RoleAdmin), requestHandler.Override)
	secured.DELETE("/requests/:id", middleware.RequireRoles(models.RoleAdmin), requestHandler.Delete)

	secured.GET("/audit-logs", middleware.RequireRoles(models.RoleAdmin), auditHandler.List)

	secured.GET("/reports/summary", reportHandler.Summary)
	secured.POST("/reports/export", reportHandler.CreateExport)
	secured.GET("/reports/jobs/:id", reportHandler.GetStatus)

	admin := secured.Group("/admin", middleware.RequireRoles(models.RoleAdmin))
	admin.GET("/users", userHandler.AdminList)
	admin.GET("/users/:id", userHandler.Get)
	admin.GET("/metrics", metricsHandler.Snapshot)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}

func cleanupLoop(ctx context.Context, exports *service.ExportService, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			exports.CleanupExpired()
		}
	}
}
