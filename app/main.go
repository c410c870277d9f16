package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/civicmap/civicmap/app/api"
	"github.com/civicmap/civicmap/app/cfg"
	"github.com/civicmap/civicmap/app/classify"
	"github.com/civicmap/civicmap/app/database"
	"github.com/civicmap/civicmap/app/geo"
	"github.com/civicmap/civicmap/app/geocode"
	"github.com/civicmap/civicmap/app/ingest"
	"github.com/civicmap/civicmap/app/pipeline"
	"github.com/civicmap/civicmap/app/region"
	"github.com/civicmap/civicmap/app/tasks"
)

func main() {
	appCfg, err := cfg.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if appCfg == nil {
		// Help was shown, exit gracefully
		return
	}

	logLevel := slog.LevelInfo
	if appCfg.Debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	slog.Info("Starting CivicMap server", "version", appCfg.Version)

	db, err := database.NewConnection(appCfg.DBPath)
	if err != nil {
		slog.Error("Failed to open database", "path", appCfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		slog.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("Database ready", "path", appCfg.DBPath, "schema_version", version, "dirty", dirty)

	reg, err := region.Load(appCfg.RegionFile)
	if err != nil {
		slog.Error("Failed to load region descriptor", "file", appCfg.RegionFile, "error", err)
		os.Exit(1)
	}
	slog.Info("Region configured", "name", reg.Name)

	postRepo := database.NewPostRepository(db)
	locRepo := database.NewLocationRepository(db)

	httpClient := &http.Client{Timeout: 60 * time.Second}

	coordParser := geo.NewParser(reg)
	classifier := classify.NewClassifier(httpClient, reg, classify.Options{
		Endpoint:     appCfg.AIEndpoint,
		APIKey:       appCfg.AIAPIKey,
		Model:        appCfg.AIModel,
		UserAgent:    appCfg.UserAgent,
		RateInterval: time.Duration(appCfg.AIRateInterval * float64(time.Second)),
	})
	geocoder := geocode.NewClient(httpClient, reg, appCfg.GeocodeEndpoint, appCfg.UserAgent,
		time.Duration(appCfg.GeocodeRateInterval*float64(time.Second)))

	processor := pipeline.NewProcessor(coordParser, classifier, geocoder, postRepo, locRepo, appCfg.BatchSize)

	var ingester *ingest.Ingester
	if appCfg.IngestFeedURL != "" {
		ingester = ingest.NewIngester(httpClient, postRepo, appCfg.IngestFeedURL, appCfg.UserAgent)
	} else {
		slog.Warn("Post ingestion disabled (INGEST_FEED_URL not set)")
	}

	slog.Info("Starting background scheduler", "workers", appCfg.WorkerCount)
	scheduler := tasks.NewScheduler(ingester, processor)
	scheduler.Start()
	defer scheduler.Stop()

	apiHandler := api.NewHandler(postRepo, locRepo, processor, scheduler)
	server := api.NewServer(apiHandler, appCfg.APIAccessKey)

	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "port", appCfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig.String())
	case err := <-serverErrChan:
		slog.Error("Server error", "error", err)
	}

	slog.Info("Shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	// Scheduler is stopped via defer
	slog.Info("Shutdown complete")
}
