package pipeline

import (
	"context"
	"time"

	"github.com/civicmap/civicmap/app/classify"
	"github.com/civicmap/civicmap/app/geo"
)

// Classifier is the AI classification boundary consumed by the processor.
type Classifier interface {
	Run(ctx context.Context, posts []classify.PostInput) []classify.Analysis
	Status() classify.QuotaStatus
}

// Geocoder is the place-name resolution boundary consumed by the processor.
type Geocoder interface {
	Run(ctx context.Context, placeName string) *geo.Coordinates
	RateInterval() time.Duration
}
