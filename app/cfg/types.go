package cfg

type Cfg struct {
	// Database configuration
	DBPath string

	// Application configuration
	Port         string
	RegionFile   string
	WorkerCount  int
	APIAccessKey string

	// Ingestion configuration
	IngestFeedURL  string
	IngestInterval int

	// Pipeline configuration
	ProcessInterval int
	BatchSize       int

	// AI classifier configuration
	AIEndpoint     string
	AIAPIKey       string
	AIModel        string
	AIRateInterval float64

	// Geocoder configuration
	GeocodeEndpoint     string
	GeocodeRateInterval float64

	// Application metadata
	UserAgent string
	Timezone  string
	Debug     bool
	Version   string
}
