package main

import (
	"flag"
	"fmt"
	"os"

	"assetbank/internal/config"
	"assetbank/internal/constants"
	"assetbank/internal/database"
	"assetbank/internal/logger"
	"assetbank/internal/server"
	"assetbank/internal/version"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (required)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s %s\n", constants.AppDisplayName, version.Version)
		os.Exit(0)
	}

	log := logger.NewLogger(constants.DefaultLogLevel)
	log.Info("%s version %s starting", constants.AppDisplayName, version.Version)

	if *configPath == "" {
		log.Error("A config file is required; pass -config <path>")
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Error("Failed to load config: %v", err)
		os.Exit(1)
	}
	log.SetLevel(cfg.LogLevel)
	cfg.LogEffectiveValues(log)

	if err := cfg.EnsureStateDirs(); err != nil {
		log.Error("Failed to create state directories: %v", err)
		os.Exit(1)
	}
	if err := log.SetStateDir(cfg.StateDir); err != nil {
		log.Warn("Failed to enable file logging: %v", err)
	}

	db, err := database.InitCatalogDB(cfg.DatabasePath())
	if err != nil {
		log.Error("Failed to open catalog database: %v", err)
		os.Exit(1)
	}
	log.Info("Catalog database ready at %s", cfg.DatabasePath())

	app := server.NewApp(cfg, log, db)

	if cfg.ScanOnStart {
		go func() {
			if _, err := app.Services.Scanner.Scan(nil); err != nil {
				log.Error("Startup scan failed: %v", err)
			}
		}()
	}

	srv := server.NewServer(app, cfg.ListenAddr)
	if err := srv.Start(); err != nil {
		log.Error("Server error: %v", err)
		os.Exit(1)
	}
}
