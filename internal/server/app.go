package server

import (
	"database/sql"
	"time"

	"assetbank/internal/audit"
	"assetbank/internal/config"
	"assetbank/internal/logger"
	"assetbank/internal/services"
)

// App holds all application state and dependencies
type App struct {
	Config      *config.Config
	Logger      *logger.Logger
	DB          *sql.DB
	AuditLogger *audit.Logger
	StartedAt   time.Time

	// Services layer for business logic
	Services *services.Services
}

// NewApp creates a new application instance
func NewApp(cfg *config.Config, log *logger.Logger, db *sql.DB) *App {
	app := &App{
		Config:      cfg,
		Logger:      log,
		DB:          db,
		AuditLogger: audit.NewLogger(db),
		StartedAt:   time.Now(),
	}

	app.Services = services.NewServices(db, cfg, log, app.AuditLogger)

	return app
}
