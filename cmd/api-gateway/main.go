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
	"go.uber.org/zap"

	_ "github.com/taskdesk/taskdesk-api/api/swagger"
	"github.com/taskdesk/taskdesk-api/internal/handler"
	"github.com/taskdesk/taskdesk-api/internal/middleware"
	"github.com/taskdesk/taskdesk-api/internal/models"
	"github.com/taskdesk/taskdesk-api/internal/repository"
	"github.com/taskdesk/taskdesk-api/internal/service"
	"github.com/taskdesk/taskdesk-api/pkg/cache"
	"github.com/taskdesk/taskdesk-api/pkg/config"
	"github.com/taskdesk/taskdesk-api/pkg/database"
	"github.com/taskdesk/taskdesk-api/pkg/logger"
	corsmiddleware "github.com/taskdesk/taskdesk-api/pkg/middleware/cors"
	reqidmiddleware "github.com/taskdesk/taskdesk-api/pkg/middleware/requestid"
	"github.com/taskdesk/taskdesk-api/pkg/token"
)

// @title TaskDesk API
// @version 1.0.0
// @description Multi-user task tracking backend with token based authentication
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
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, caching disabled", zap.Error(err))
		redisClient = nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	validate := validator.New()
	codec := token.NewCodec(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.Audience, cfg.JWT.Leeway)
	metrics := service.NewMetricsService()

	userRepo := repository.NewUserRepository(db)
	refreshRepo := repository.NewRefreshTokenRepository(db)
	taskRepo := repository.NewTaskRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient)

	audit := service.NewAuditRecorder(userRepo, logr)
	audit.Start(ctx)
	defer audit.Stop()

	authService := service.NewAuthService(userRepo, refreshRepo, audit, codec, validate, logr, metrics, service.AuthConfig{
		AccessTTL:  cfg.JWT.AccessTTL,
		RefreshTTL: cfg.JWT.RefreshTTL,
		InviteCode: cfg.Signup.InviteCode,
	})
	taskService := service.NewTaskService(taskRepo, userRepo, cacheRepo, audit, metrics, validate, logr, cfg.Tasks.SummaryCacheTTL)

	sweeper := service.NewTokenSweeper(refreshRepo, cfg.JWT.SweepInterval, logr)
	go sweeper.Run(ctx)

	authHandler := handler.NewAuthHandler(authService)
	taskHandler := handler.NewTaskHandler(taskService)
	maintenanceHandler := handler.NewMaintenanceHandler(sweeper, metrics)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	prefix := cfg.APIPrefix
	r.Use(middleware.Authenticate(codec, middleware.AuthOptions{
		HeaderName:   cfg.JWT.HeaderName,
		BearerPrefix: cfg.JWT.BearerPrefix,
		PublicPrefixes: []string{
			prefix + "/auth/login",
			prefix + "/auth/signup",
			prefix + "/auth/refresh",
			prefix + "/auth/check-",
			"/health",
			"/ready",
			"/metrics",
			"/docs",
		},
	}))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unready"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(prefix)

	auth := api.Group("/auth")
	{
		auth.POST("/signup", authHandler.Signup)
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/logout", authHandler.Logout)
		auth.GET("/status", authHandler.Status)
		auth.GET("/check-username", authHandler.CheckUsername)
		auth.GET("/check-email", authHandler.CheckEmail)
		auth.GET("/me", middleware.RequireAuth(), authHandler.Me)
	}

	tasks := api.Group("/tasks", middleware.RequireAuth())
	{
		tasks.GET("", taskHandler.List)
		tasks.POST("", taskHandler.Create)
		tasks.GET("/summary", taskHandler.Summary)
		tasks.GET("/export", taskHandler.Export)
		tasks.GET("/:id", taskHandler.Get)
		tasks.PUT("/:id", taskHandler.Update)
		tasks.DELETE("/:id", taskHandler.Delete)
	}

	admin := api.Group("/admin", middleware.RequireAuth(), middleware.RequireRoles(models.RoleAdmin))
	{
		admin.POST("/maintenance/token-sweep", maintenanceHandler.TokenSweep)
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}
