package region

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// BoundingBox is the geographic acceptance window for the target region.
// Any coordinate outside the box is rejected by the parser and the geocoder.
type BoundingBox struct {
	MinLat float64 `yaml:"min_lat"`
	MaxLat float64 `yaml:"max_lat"`
	MinLon float64 `yaml:"min_lon"`
	MaxLon float64 `yaml:"max_lon"`
}

// Contains reports whether the given point falls inside the box.
func (b BoundingBox) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}

// Region describes the geographic area the pipeline operates on: its common
// name variants (used to detect whether an extracted place string already has
// locale context), the qualifier appended when it does not, the ISO country
// code for scoped geocoding, and the bounding box.
type Region struct {
	Name        string      `yaml:"name"`
	Variants    []string    `yaml:"variants"`
	Qualifier   string      `yaml:"qualifier"`
	CountryCode string      `yaml:"country_code"`
	Box         BoundingBox `yaml:"bounding_box"`
}

// Bengaluru returns the built-in default region.
func Bengaluru() *Region {
	return &Region{
		Name:        "Bengaluru",
		Variants:    []string{"bengaluru", "bangalore", "blr"},
		Qualifier:   ", Bengaluru, Karnataka, India",
		CountryCode: "in",
		Box: BoundingBox{
			MinLat: 12.75,
			MaxLat: 13.25,
			MinLon: 77.30,
			MaxLon: 77.90,
		},
	}
}

// Load reads a region descriptor from a YAML file. An empty path returns the
// built-in Bengaluru region.
func Load(path string) (*Region, error) {
	if path == "" {
		return Bengaluru(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read region file: %w", err)
	}

	var r Region
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse region YAML: %w", err)
	}

	if err := r.validate(); err != nil {
		return nil, fmt.Errorf("invalid region config %s: %w", path, err)
	}

	return &r, nil
}

func (r *Region) validate() error {
	if r.Name == "" {
		return fmt.Errorf("region name is required")
	}
	if len(r.Variants) == 0 {
		return fmt.Errorf("at least one name variant is required")
	}
	if r.CountryCode == "" {
		return fmt.Errorf("country code is required")
	}
	if r.Box.MinLat >= r.Box.MaxLat {
		return fmt.Errorf("bounding box latitude range is empty")
	}
	if r.Box.MinLon >= r.Box.MaxLon {
		return fmt.Errorf("bounding box longitude range is empty")
	}
	return nil
}

// MentionsRegion reports whether the given place string already contains one
// of the region's common name variants.
func (r *Region) MentionsRegion(place string) bool {
	lower := strings.ToLower(place)
	for _, v := range r.Variants {
		if strings.Contains(lower, v) {
			return true
		}
	}
	return false
}
