package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/agrocert/agrocert-api/api/swagger"
	"github.com/agrocert/agrocert-api/internal/events"
	"github.com/agrocert/agrocert-api/internal/handler"
	"github.com/agrocert/agrocert-api/internal/middleware"
	"github.com/agrocert/agrocert-api/internal/models"
	"github.com/agrocert/agrocert-api/internal/orchestrator"
	"github.com/agrocert/agrocert-api/internal/repository"
	"github.com/agrocert/agrocert-api/internal/service"
	"github.com/agrocert/agrocert-api/internal/workflow"
	"github.com/agrocert/agrocert-api/pkg/cache"
	"github.com/agrocert/agrocert-api/pkg/config"
	"github.com/agrocert/agrocert-api/pkg/database"
	"github.com/agrocert/agrocert-api/pkg/logger"
	corsmiddleware "github.com/agrocert/agrocert-api/pkg/middleware/cors"
	reqidmiddleware "github.com/agrocert/agrocert-api/pkg/middleware/requestid"
)

// @title AgroCert API
// @version 1.0.0
// @description Certification workflow engine for agricultural producers
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
		logr.Sugar().Warnw("redis unavailable, running without cache", "error", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Repositories.
	userRepo := repository.NewUserRepository(db)
	requestRepo := repository.NewRequestRepository(db)
	credentialRepo := repository.NewCredentialRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	// Core workflow machinery.
	engine := workflow.NewEngine(workflow.DefaultRuleset())
	bus := events.NewBus(logr)

	// Services.
	validate := validator.New()
	metricsService := service.NewMetricsService()
	auditService := service.NewAuditService(auditRepo, logr)
	notificationService := service.NewNotificationService(logr, cfg.Notifications.Workers)
	authService := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "agrocert-api",
	})
	requestService := service.NewRequestService(requestRepo, engine, bus, auditService, validate, logr,
		service.WithRequestCache(cacheRepo),
		service.WithWorkflowMetrics(metricsService),
	)
	credentialService := service.NewCredentialService(credentialRepo, auditService, validate, logr)

	// The orchestrator owns every cross-aggregate side effect of the
	// workflow: credential issuance, terminal stamping, reminders.
	orch := orchestrator.New(bus, requestRepo, credentialRepo, notificationService, auditService, orchestrator.Config{
		CredentialValidity: time.Duration(cfg.Credentials.ValidityYears) * 365 * 24 * time.Hour,
		ExpiryCheckpoints:  cfg.Credentials.ExpiryCheckpoints,
		NumberPrefix:       cfg.Credentials.NumberPrefix,
	}, logr, orchestrator.WithIssuanceObserver(metricsService))
	orch.Register()

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	notificationService.Start(rootCtx)
	defer notificationService.Stop()

	if cfg.Sweeps.Enabled {
		go runSweeps(rootCtx, orch, metricsService, cfg.Sweeps.Interval, logr)
	}

	router := buildRouter(cfg, logr, metricsService, authService, requestService, credentialService, auditService, orch, auditRepo)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-rootCtx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}

func buildRouter(
	cfg *config.Config,
	logr *zap.Logger,
	metricsService *service.MetricsService,
	authService *service.AuthService,
	requestService *service.RequestService,
	credentialService *service.CredentialService,
	auditService *service.AuditService,
	orch *orchestrator.Orchestrator,
	auditRepo *repository.AuditRepository,
) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsService))

	authHandler := handler.NewAuthHandler(authService)
	requestHandler := handler.NewRequestHandler(requestService, auditService)
	credentialHandler := handler.NewCredentialHandler(credentialService)
	sweepHandler := handler.NewSweepHandler(orch)
	metricsHandler := handler.NewMetricsHandler(metricsService)

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/login", authHandler.Login)
	auth.POST("/refresh", authHandler.Refresh)
	auth.POST("/logout", middleware.JWT(authService), authHandler.Logout)
	auth.GET("/me", middleware.JWT(authService), authHandler.Me)

	requests := api.Group("/requests", middleware.JWT(authService), middleware.AnyAuthenticated())
	requests.POST("", middleware.RBAC(workflow.RoleProducer, workflow.RoleAdmin), requestHandler.Create)
	requests.GET("", requestHandler.List)
	requests.GET("/:id", requestHandler.Get)
	requests.GET("/:id/next-statuses", requestHandler.NextStatuses)
	requests.POST("/:id/transition", requestHandler.Transition)
	requests.POST("/:id/special/:case", requestHandler.SpecialTransition)
	requests.GET("/:id/history", requestHandler.History)
	requests.GET("/:id/credential", credentialHandler.GetByRequest)
	requests.GET("/:id/integrity", middleware.RBAC(workflow.RoleApprover, workflow.RoleAdmin), requestHandler.Integrity)
	requests.GET("/:id/audit", middleware.RBAC(workflow.RoleApprover, workflow.RoleAdmin), requestHandler.AuditTrail)

	credentials := api.Group("/credentials", middleware.JWT(authService), middleware.AnyAuthenticated())
	credentials.GET("", credentialHandler.List)
	credentials.GET("/:id", credentialHandler.Get)
	credentials.POST("/:id/revoke", middleware.RBAC(workflow.RoleAdmin), credentialHandler.Revoke)

	admin := api.Group("/admin", middleware.JWT(authService), middleware.RBAC(workflow.RoleAdmin))
	admin.POST("/sweeps/expiring",
		middleware.Audit(auditRepo, models.AuditActionSweepTrigger, "credential_sweep"), sweepHandler.RunExpiring)
	admin.POST("/sweeps/expired",
		middleware.Audit(auditRepo, models.AuditActionSweepTrigger, "credential_sweep"), sweepHandler.RunExpired)

	return r
}

// runSweeps drives both expiry sweeps on a fixed interval until the context
// is cancelled. One failed run is logged and retried at the next tick.
func runSweeps(ctx context.Context, orch *orchestrator.Orchestrator, metrics *service.MetricsService, interval time.Duration, logr *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			if err := orch.CheckExpiringSoonCredentials(ctx); err != nil {
				logr.Sugar().Errorw("expiring-soon sweep failed", "error", err)
			}
			metrics.ObserveSweep("expiring", time.Since(start))

			start = time.Now()
			if err := orch.ProcessExpiredCredentials(ctx); err != nil {
				logr.Sugar().Errorw("expired sweep failed", "error", err)
			}
			metrics.ObserveSweep("expired", time.Since(start))
		}
	}
}
