package database

import (
	"time"
)

// Processing status values for a post. A post leaves "pending" exactly once,
// when the pipeline makes a terminal decision about it.
const (
	StatusPending          = "pending"
	StatusProcessedNoIssue = "processed_no_issue"
	StatusProcessedMapped  = "processed_mapped"
)

// Post is a unit of ingested social-media content.
type Post struct {
	ID               string    `json:"id"` // external platform identifier
	Text             string    `json:"text"`
	CreatedAt        time.Time `json:"created_at"`
	MediaURLs        []string  `json:"media_urls"`
	ProcessingStatus string    `json:"processing_status"`
	IngestedAt       time.Time `json:"ingested_at"`
}

// Location is the resolved geographic claim for a post. At most one exists
// per post; it is only written once the pipeline has mapped the post.
type Location struct {
	ID                string    `json:"id"`
	PostID            string    `json:"post_id"`
	Lat               float64   `json:"lat"`
	Lon               float64   `json:"lon"`
	Source            string    `json:"source"`
	DisplayName       string    `json:"display_name,omitempty"`
	ExtractedLocation string    `json:"extracted_location,omitempty"` // empty for explicit/regex sources
	Status            string    `json:"status"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// LocationStatusVerified is the verification tag recorded on saved locations.
const LocationStatusVerified = "verified"
