package cfg

import (
	"cmp"
	"fmt"
	"time"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Database configuration
	DBPath string `long:"db-path" env:"DB_PATH" default:"./civicmap.db" description:"Path to the SQLite database file"`

	// Application configuration
	Port         string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	RegionFile   string `long:"region-file" env:"REGION_FILE" description:"Region descriptor YAML file (defaults to built-in Bengaluru region)"`
	WorkerCount  int    `long:"worker-count" env:"WORKER_COUNT" default:"2" description:"Number of background workers for task processing"`
	APIAccessKey string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for authentication (optional)"`

	// Ingestion configuration
	IngestFeedURL  string `long:"ingest-feed-url" env:"INGEST_FEED_URL" description:"RSS/Atom feed URL to ingest posts from (ingestion disabled when empty)"`
	IngestInterval int    `long:"ingest-interval" env:"INGEST_INTERVAL" default:"300" description:"Post ingestion interval in seconds"`

	// Pipeline configuration
	ProcessInterval int `long:"process-interval" env:"PROCESS_INTERVAL" default:"60" description:"Queue processing interval in seconds"`
	BatchSize       int `long:"batch-size" env:"BATCH_SIZE" default:"10" description:"Number of pending posts processed per cycle"`

	// AI classifier configuration
	AIEndpoint     string  `long:"ai-endpoint" env:"AI_ENDPOINT" default:"https://generativelanguage.googleapis.com/v1beta/models" description:"Base URL of the AI classification service"`
	AIAPIKey       string  `long:"ai-api-key" env:"AI_API_KEY" description:"API key for the AI classification service"`
	AIModel        string  `long:"ai-model" env:"AI_MODEL" default:"gemini-2.0-flash" description:"Model name used for classification"`
	AIRateInterval float64 `long:"ai-rate-interval" env:"AI_RATE_INTERVAL" default:"5.0" description:"Minimum spacing between AI calls in seconds"`

	// Geocoder configuration
	GeocodeEndpoint     string  `long:"geocode-endpoint" env:"GEOCODE_ENDPOINT" default:"https://nominatim.openstreetmap.org/search" description:"Geocoding lookup endpoint"`
	GeocodeRateInterval float64 `long:"geocode-rate-interval" env:"GEOCODE_RATE_INTERVAL" default:"1.1" description:"Minimum spacing between geocoding calls in seconds"`

	// Application metadata
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"CivicMap/1.0" description:"User agent string for HTTP requests"`
	Timezone  string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for timestamps (e.g., UTC, Asia/Kolkata)"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

var globalCfg *Cfg

func Load() (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		DBPath:              raw.DBPath,
		Port:                raw.Port,
		RegionFile:          raw.RegionFile,
		WorkerCount:         raw.WorkerCount,
		APIAccessKey:        raw.APIAccessKey,
		IngestFeedURL:       raw.IngestFeedURL,
		IngestInterval:      raw.IngestInterval,
		ProcessInterval:     raw.ProcessInterval,
		BatchSize:           raw.BatchSize,
		AIEndpoint:          raw.AIEndpoint,
		AIAPIKey:            raw.AIAPIKey,
		AIModel:             raw.AIModel,
		AIRateInterval:      raw.AIRateInterval,
		GeocodeEndpoint:     raw.GeocodeEndpoint,
		GeocodeRateInterval: raw.GeocodeRateInterval,
		UserAgent:           raw.UserAgent,
		Timezone:            raw.Timezone,
		Debug:               raw.Debug,
		Version:             GetVersion(),
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	globalCfg = cfg

	return cfg, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err != nil {
			return err
		} else {
			time.Local = loc
			fmt.Printf("Timezone configured: %s\n", timezone)
		}
	}
	return nil
}
