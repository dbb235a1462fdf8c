package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/novafeed/riptide/internal/config"
	"github.com/novafeed/riptide/internal/database"
	"github.com/novafeed/riptide/internal/handlers"
	"github.com/novafeed/riptide/internal/middleware"
	"github.com/novafeed/riptide/internal/services"
)

// App owns the wired process: connections, service graph, HTTP surface.
type App struct {
	config   *config.Config
	logger   *logrus.Logger
	db       *database.Database
	services *services.Services
	handlers *handlers.Handlers
	router   *gin.Engine
}

func New(cfg *config.Config) (*App, error) {
	app := &App{
		config: cfg,
		logger: setupLogger(cfg),
	}

	if err := middleware.RegisterValidators(); err != nil {
		return nil, fmt.Errorf("failed to register request validators: %w", err)
	}

	db, err := database.New(cfg, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	svcs, err := services.New(cfg, app.logger, db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	app.services = svcs

	app.handlers = handlers.New(app.logger, svcs)
	app.setupRouter()

	return app, nil
}

func (a *App) Router() *gin.Engine {
	return a.router
}

func (a *App) Logger() *logrus.Logger {
	return a.logger
}

// Shutdown stops background workers before closing the connections they use.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("Shutting down application...")

	a.services.Stop()

	if err := a.db.Close(); err != nil {
		a.logger.WithError(err).Error("Error closing database connections")
		return err
	}

	return nil
}

func setupLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	return logger
}

func (a *App) setupRouter() {
	if a.config.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(middleware.Logger(a.logger))
	router.Use(middleware.Recovery(a.logger))
	router.Use(middleware.CORS(a.config))

	// Liveness, readiness and Prometheus scrape run unauthenticated.
	router.GET("/health", a.handlers.Health.Check)
	router.GET("/health/ready", a.handlers.Health.Ready)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	{
		api.Use(middleware.Auth(a.services.Auth, a.logger))
		api.Use(middleware.RateLimit(a.services.RateLimit, a.logger))

		recommendations := api.Group("/recommendations")
		{
			recommendations.POST("", a.handlers.Recommendation.Create)
			recommendations.GET("/:userId", a.handlers.Recommendation.Get)
		}

		interactions := api.Group("/interactions")
		{
			interactions.POST("", a.handlers.Interaction.Record)
			interactions.POST("/batch", a.handlers.Interaction.RecordBatch)
		}

		api.GET("/users/:userId/interactions", a.handlers.Interaction.History)

		api.POST("/engagement/score", a.handlers.Engagement.Score)

		content := api.Group("/content")
		{
			content.PUT("/:contentId/embedding", a.handlers.Content.Upsert)
			content.DELETE("/:contentId", a.handlers.Content.Delete)
			content.GET("/:contentId/similar", a.handlers.Content.Similar)
		}

		admin := api.Group("/admin")
		admin.Use(middleware.RequireScope("admin"))
		{
			admin.POST("/recluster", a.handlers.Admin.Recluster)
			admin.GET("/clusters", a.handlers.Admin.Clusters)
			admin.GET("/jobs/:name", a.handlers.Admin.JobStatus)
			admin.POST("/retention/purge", a.handlers.Admin.Purge)
		}
	}

	a.router = router
}
