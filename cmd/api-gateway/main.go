package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/dormtrack/roomcheck-api/api/swagger"
	"github.com/dormtrack/roomcheck-api/internal/handler"
	"github.com/dormtrack/roomcheck-api/internal/middleware"
	"github.com/dormtrack/roomcheck-api/internal/models"
	"github.com/dormtrack/roomcheck-api/internal/repository"
	"github.com/dormtrack/roomcheck-api/internal/service"
	"github.com/dormtrack/roomcheck-api/pkg/cache"
	"github.com/dormtrack/roomcheck-api/pkg/config"
	"github.com/dormtrack/roomcheck-api/pkg/database"
	"github.com/dormtrack/roomcheck-api/pkg/export"
	"github.com/dormtrack/roomcheck-api/pkg/jobs"
	"github.com/dormtrack/roomcheck-api/pkg/logger"
	corsmiddleware "github.com/dormtrack/roomcheck-api/pkg/middleware/cors"
	reqidmiddleware "github.com/dormtrack/roomcheck-api/pkg/middleware/requestid"
	"github.com/dormtrack/roomcheck-api/pkg/storage"
)

// @title RoomCheck API
// @version 1.0.0
// @description Dormitory bed-presence tracking: fingerprint check-in, leave workflow and reporting
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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}
	defer redisClient.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Repositories.
	studentRepo := repository.NewStudentRepository(db)
	recordRepo := repository.NewCheckRecordRepository(db)
	leaveRepo := repository.NewLeaveRepository(db)
	fingerprintRepo := repository.NewFingerprintRepository(db)
	deviceRepo := repository.NewDeviceRepository(db)
	userRepo := repository.NewUserRepository(db)
	exportJobRepo := repository.NewExportJobRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	// Exports infrastructure.
	exportStore, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init export storage", "error", err)
	}
	urlSigner := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)

	validate := validator.New()

	// Services.
	metricsSvc := service.NewMetricsService()
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Cache.StatusTTL, logr, cfg.Cache.Enabled)
	captchaSvc := service.NewCaptchaService(cacheRepo, cfg.Captcha.TTL, cfg.Captcha.Length, logr)
	studentSvc := service.NewStudentService(studentRepo, validate, logr)
	statusSvc := service.NewStatusService(recordRepo, studentRepo, userRepo, cacheSvc, metricsSvc, cfg.Cache.StatusTTL, validate, logr)
	leaveSvc := service.NewLeaveService(leaveRepo, studentRepo, captchaSvc, cacheRepo, userRepo, cacheSvc,
		cfg.Leave.RateLimitCount, cfg.Leave.RateLimitWindow, validate, logr)
	fingerprintSvc := service.NewFingerprintService(fingerprintRepo, studentRepo, deviceRepo, validate, logr)
	deviceSvc := service.NewDeviceService(deviceRepo, cfg.DeviceAPI.OnlineWindow, validate, logr)
	checkinSvc := service.NewCheckinService(recordRepo, fingerprintRepo, studentRepo, deviceRepo, cacheSvc, metricsSvc, validate, logr)
	statsSvc := service.NewStatsService(recordRepo, deviceRepo, cacheSvc, cfg.Cache.StatsTTL, logr)
	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "roomcheck-api",
		Audience:           []string{"roomcheck-web"},
		SingleSession:      true,
	})
	userSvc := service.NewUserService(userRepo, validate, logr)

	exportSvc := service.NewExportService(recordRepo, leaveRepo, studentRepo, fingerprintRepo, exportStore, urlSigner,
		service.ExportConfig{APIPrefix: cfg.APIPrefix, ResultTTL: cfg.Exports.SignedURLTTL},
		logr, export.NewCSVExporter(), export.NewPDFExporter())
	exportWorker := service.NewExportWorker(exportJobRepo, exportSvc, cfg.Exports.WorkerRetries, logr)
	exportQueue := jobs.NewQueue("exports", exportWorker.Handle, jobs.QueueConfig{
		Workers:    cfg.Exports.WorkerConcurrency,
		MaxRetries: cfg.Exports.WorkerRetries,
		Logger:     logr,
	})
	exportJobSvc := service.NewExportJobService(exportJobRepo, exportQueue, exportSvc, validate, logr, service.ExportJobServiceConfig{
		ResultTTL:       cfg.Exports.SignedURLTTL,
		CleanupInterval: cfg.Exports.CleanupInterval,
		MaxRetries:      cfg.Exports.WorkerRetries,
	})

	exportQueue.Start(ctx)
	defer exportQueue.Stop()
	exportJobSvc.RecoverPendingJobs(ctx)
	exportJobSvc.StartCleanup(ctx)

	// Handlers.
	authHandler := handler.NewAuthHandler(authSvc)
	userHandler := handler.NewUserHandler(userSvc)
	studentHandler := handler.NewStudentHandler(studentSvc)
	statusHandler := handler.NewStatusHandler(statusSvc)
	leaveHandler := handler.NewLeaveHandler(leaveSvc, captchaSvc)
	fingerprintHandler := handler.NewFingerprintHandler(fingerprintSvc)
	deviceHandler := handler.NewDeviceHandler(deviceSvc)
	checkinHandler := handler.NewCheckinHandler(checkinSvc, fingerprintSvc, deviceSvc)
	statsHandler := handler.NewStatsHandler(statsSvc)
	exportHandler := handler.NewExportHandler(exportJobSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

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
	r.GET("/metrics", metricsHandler.Prometheus())

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	// Public routes: staff login and the student self-service leave flow.
	api.POST("/auth/login", authHandler.Login)
	api.POST("/auth/refresh", authHandler.Refresh)
	api.GET("/leave/captcha", leaveHandler.NewCaptcha)
	api.POST("/leave/verify", leaveHandler.VerifyStudent)
	api.POST("/leave", leaveHandler.Submit)
	api.GET("/leave/mine", leaveHandler.ListMine)
	api.POST("/leave/:id/cancel", leaveHandler.Cancel)
	api.GET("/exports/download/:token", exportHandler.Download)

	// Device routes behind the shared API token.
	device := api.Group("/device", middleware.DeviceToken(cfg.DeviceAPI.Token))
	device.POST("/checkin", checkinHandler.Checkin)
	device.GET("/:deviceId/slots/:slot", checkinHandler.Resolve)
	device.GET("/:deviceId/unchecked", checkinHandler.Unchecked)
	device.GET("/:deviceId/students/:studentId", checkinHandler.StudentInfo)
	device.POST("/:deviceId/heartbeat", checkinHandler.Heartbeat)

	// Staff routes.
	staff := api.Group("", middleware.JWT(authSvc))
	staff.POST("/auth/logout", authHandler.Logout)
	staff.POST("/auth/change-password", authHandler.ChangePassword)
	staff.GET("/auth/me", authHandler.Me)

	staff.GET("/status", statusHandler.ListByDate)
	staff.POST("/status", statusHandler.SetStatus)
	staff.GET("/status/leave-history", statusHandler.LeaveHistory)
	staff.POST("/status/batch-leave", statusHandler.BatchSetLeave)
	staff.GET("/status/:studentId", statusHandler.CurrentStatus)
	staff.POST("/status/:studentId/cancel-leave", statusHandler.CancelLeave)
	staff.GET("/status/:studentId/history", statusHandler.History)

	staff.GET("/leave/admin", leaveHandler.List)
	staff.GET("/leave/admin/:id", leaveHandler.Get)
	staff.POST("/leave/admin/:id/approve", leaveHandler.Approve)
	staff.POST("/leave/admin/:id/reject", leaveHandler.Reject)

	staff.GET("/students", studentHandler.List)
	staff.GET("/students/buildings", studentHandler.Buildings)
	staff.GET("/students/counselors", studentHandler.Counselors)
	staff.GET("/students/:id", studentHandler.Get)

	staff.GET("/fingerprints", fingerprintHandler.List)
	staff.POST("/fingerprints/validate", fingerprintHandler.ValidateBatch)

	staff.GET("/devices", deviceHandler.List)
	staff.GET("/devices/capacity", deviceHandler.CapacityStats)
	staff.GET("/devices/:id", deviceHandler.Get)

	staff.GET("/stats/buildings", statsHandler.Buildings)
	staff.GET("/stats/buildings/:building/floors", statsHandler.Floors)
	staff.GET("/stats/dashboard", statsHandler.Dashboard)

	staff.POST("/exports", exportHandler.Create)
	staff.GET("/exports", exportHandler.ListMine)
	staff.GET("/exports/:id", exportHandler.Status)

	staff.GET("/system/metrics", metricsHandler.Snapshot)

	// Admin-only mutations.
	admin := staff.Group("", middleware.RequireRoles(models.RoleAdmin))
	admin.POST("/students", studentHandler.Create)
	admin.POST("/students/import", middleware.Audit(userRepo, models.AuditActionStudentImport, "students"), studentHandler.Import)
	admin.PUT("/students/:id", studentHandler.Update)
	admin.DELETE("/students/:id", studentHandler.Delete)

	admin.POST("/fingerprints", fingerprintHandler.Create)
	admin.POST("/fingerprints/import", middleware.Audit(userRepo, models.AuditActionMappingImport, "fingerprint_mappings"), fingerprintHandler.ImportBatch)
	admin.POST("/fingerprints/batch-delete", fingerprintHandler.BatchDelete)
	admin.PUT("/fingerprints/enrollment", fingerprintHandler.UpdateEnrollment)
	admin.DELETE("/fingerprints/:id", fingerprintHandler.Delete)

	admin.POST("/devices", middleware.Audit(userRepo, models.AuditActionDeviceChange, "devices"), deviceHandler.Register)
	admin.PUT("/devices/:id", middleware.Audit(userRepo, models.AuditActionDeviceChange, "devices"), deviceHandler.Update)
	admin.DELETE("/devices/:id", middleware.Audit(userRepo, models.AuditActionDeviceChange, "devices"), deviceHandler.Delete)

	admin.GET("/users", userHandler.List)
	admin.POST("/users", userHandler.Create)
	admin.GET("/users/:id", userHandler.Get)
	admin.PUT("/users/:id", userHandler.Update)
	admin.DELETE("/users/:id", userHandler.Delete)
	admin.GET("/audit-logs", userHandler.AuditLogs)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
