package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/panel-gateway/internal/audit"
	"github.com/panel-gateway/internal/auth"
	"github.com/panel-gateway/internal/cache"
	"github.com/panel-gateway/internal/config"
	"github.com/panel-gateway/internal/middleware"
	"github.com/panel-gateway/internal/panel"
	"github.com/panel-gateway/internal/register"
	"github.com/panel-gateway/internal/siteconfig"
)

func main() {
	// .env 可选，不存在时忽略
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := newLogger(cfg.Logging)

	ctx := context.Background()

	// Connect to cache
	store, err := cache.New(ctx, cfg.Cache)
	if err != nil {
		logger.Fatalf("Failed to create cache: %v", err)
	}
	defer store.Close()
	logger.WithField("type", cfg.Cache.Type).Info("Cache initialized")

	// Initialize services
	panelClient := panel.NewClient(cfg.Panel, logger)
	sites := siteconfig.NewReader(panelClient, store, cfg.Cache.SiteConfigTTL, logger)

	sessions, err := auth.NewService(cfg.Session)
	if err != nil {
		logger.Fatalf("Failed to create session service: %v", err)
	}
	if cfg.Session.Secret == "your-secret-key" && cfg.IsProduction() {
		logger.Warn("Using default session secret in production")
	}

	g := &gateway{
		sites:     sites,
		registrar: panelClient,
		codes:     register.NewCodeSender(panelClient, store, cfg.Cache.EmailCodeCooldown, logger),
		subs:      panelClient,
		store:     store,
		sessions:  sessions,
		audit:     audit.Nop{},
		cfg:       cfg,
		logger:    logger,
	}

	// Audit database
	if driver := cfg.DriverName(); driver != "" {
		auditStore, err := audit.Open(ctx, driver, cfg.GetDSN())
		if err != nil {
			logger.Fatalf("Failed to open audit database: %v", err)
		}
		defer auditStore.Close()
		g.audit = auditStore
		g.attempts = auditStore
		logger.WithField("driver", driver).Info("Audit database connected")
	}

	gin.SetMode(cfg.GetGINMode())
	router := newRouter(g)

	// Setup HTTP server
	srv := &http.Server{
		Addr:           cfg.Server.Address,
		Handler:        router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	// Graceful shutdown
	go func() {
		logger.Infof("Starting server on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited")
}

func newLogger(cfg config.LoggingConfig) *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}

func newRouter(g *gateway) *gin.Engine {
	router := gin.New()

	// Global middleware
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggerMiddleware(g.logger))
	router.Use(middleware.RecoveryMiddleware(g.logger))
	if len(g.cfg.CORS.AllowOrigins) > 0 {
		router.Use(middleware.CORSMiddleware(g.cfg.CORS))
	}

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	routes := formRoutes(g.cfg)

	api := router.Group("/api")
	api.GET("/guest/config", handleGuestConfig(g.sites, g.logger))

	// Register routes
	registerGroup := api.Group("/register")
	{
		registerGroup.GET("/form", handleRegisterForm(g.sites, routes, g.logger))
		registerGroup.POST("/strength", handlePasswordStrength())
		registerGroup.POST("/validate", handleValidate(g.sites, routes, g.logger))
		registerGroup.POST("/email-code", handleSendEmailCode(g.codes))
		registerGroup.POST("", handleRegister(g.sites, g.registrar, g.store, g.sessions, g.audit, g.cfg, g.logger))
	}

	session := middleware.SessionMiddleware(g.sessions, g.cfg.Session.CookieName)

	// Dashboard routes
	dashboardGroup := api.Group("/dashboard")
	dashboardGroup.Use(session)
	{
		dashboardGroup.GET("/subscription", handleSubscription(g.subs, g.logger))
	}

	if g.attempts != nil {
		adminGroup := api.Group("/admin")
		adminGroup.Use(session, middleware.AdminMiddleware())
		{
			adminGroup.GET("/registration-attempts", handleRegistrationAttempts(g.attempts, g.logger))
		}
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("no route for %s %s", c.Request.Method, c.Request.URL.Path)})
	})

	return router
}
