package geo

// Source records which pipeline stage produced a coordinate.
const (
	SourceExplicit = "explicit"
	SourceRegex    = "regex"
	SourceGeocoded = "geocoded"
)

// Coordinates is a resolved geographic point with provenance.
type Coordinates struct {
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	Source      string  `json:"source"`
	DisplayName string  `json:"display_name,omitempty"`
}
