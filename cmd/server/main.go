package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/inspectra-cxr-server/internal/api"
	"github.com/inspectra-cxr-server/internal/config"
	"github.com/inspectra-cxr-server/internal/report"
	"github.com/inspectra-cxr-server/internal/service"
	"github.com/inspectra-cxr-server/pkg/external"
	"github.com/inspectra-cxr-server/pkg/imaging"
)

func main() {
	// Load configuration
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	cfg := configManager.GetConfig()

	logger := newLogger(cfg.Logging.Level, cfg.Logging.Format)
	logger.WithFields(logrus.Fields{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Starting InSpectra CXR server")

	// Build services
	classifier := service.NewClassifierService(logger)
	resolver := service.NewResolverService(logger)
	loader := imaging.NewLoader(cfg.Imaging, logger)
	composer := report.NewComposer(loader, classifier, logger, cfg.Report)
	cxrClient := external.NewCXRClient(cfg.ModelAPI, logger)

	// Create server
	server := api.NewServer(configManager, classifier, resolver, composer, cxrClient, logger)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	// Start server
	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}

	logger.Info("Server stopped")
}

func newLogger(level, format string) *logrus.Logger {
	logger := logrus.New()

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)

	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return logger
}
