// Package services provides the business logic layer for assetbank.
// Services orchestrate operations across the database, paths, and audit
// packages. HTTP handlers should delegate to services for all business logic.
package services

import (
	"database/sql"

	"assetbank/internal/audit"
	"assetbank/internal/config"
	"assetbank/internal/logger"
	"assetbank/internal/paths"
)

// Services holds all service instances for the application.
// It acts as a service container that is initialized once at startup.
type Services struct {
	db         *sql.DB
	cfg        *config.Config
	logger     *logger.Logger
	classifier *paths.Classifier
	audit      *audit.Logger

	Ingest  *IngestService
	Asset   *AssetService
	Tag     *TagService
	Scanner *ScannerService
	Verify  *VerifyService
}

// NewServices creates a new service container with all services initialized.
func NewServices(db *sql.DB, cfg *config.Config, log *logger.Logger, auditLog *audit.Logger) *Services {
	s := &Services{
		db:         db,
		cfg:        cfg,
		logger:     log,
		classifier: paths.NewClassifier(cfg.Roots),
		audit:      auditLog,
	}

	s.Ingest = NewIngestService(s)
	s.Asset = NewAssetService(s)
	s.Tag = NewTagService(s)
	s.Scanner = NewScannerService(s)
	s.Verify = NewVerifyService(s)

	return s
}

// DB returns the catalog database handle.
func (s *Services) DB() *sql.DB {
	return s.db
}

// Config returns the application configuration.
func (s *Services) Config() *config.Config {
	return s.cfg
}

// Logger returns the application logger.
func (s *Services) Logger() *logger.Logger {
	return s.logger
}

// Classifier returns the root path classifier.
func (s *Services) Classifier() *paths.Classifier {
	return s.classifier
}

// Audit returns the audit logger, which may be nil in tests.
func (s *Services) Audit() *audit.Logger {
	return s.audit
}

// auditLog records an audit entry best-effort.
func (s *Services) auditLog(action, ownerID string, details interface{}) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(action, ownerID, details); err != nil {
		s.logger.Warn("audit: failed to record %s: %v", action, err)
	}
}

// maxBindParams returns the configured bind-parameter cap.
func (s *Services) maxBindParams() int {
	return s.cfg.MaxBindParams
}
