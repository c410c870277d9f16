package database

import (
	"context"
)

// PostRepository defines persistence operations for posts.
type PostRepository interface {
	// UpsertPost inserts a post or updates its mutable fields. Re-ingesting
	// an existing id never creates a duplicate and never resets a
	// non-pending processing status.
	UpsertPost(ctx context.Context, post Post) error

	// GetPendingPosts returns up to limit posts with status "pending",
	// oldest-created first.
	GetPendingPosts(ctx context.Context, limit int) ([]Post, error)

	// MarkPostProcessed advances a post's processing status to one of the
	// terminal values.
	MarkPostProcessed(ctx context.Context, postID string, status string) error

	GetAllPosts(ctx context.Context) ([]Post, error)
	GetPostCount(ctx context.Context) (int, error)
}

// LocationRepository defines persistence operations for resolved locations.
type LocationRepository interface {
	// SaveLocations upserts locations keyed by post id and returns the
	// number of rows written.
	SaveLocations(ctx context.Context, locations []Location) (int, error)

	// SaveLocationAndMarkMapped writes a post's location and advances its
	// status to processed_mapped in a single transaction, so a location row
	// never exists for a post still marked pending.
	SaveLocationAndMarkMapped(ctx context.Context, location Location) error

	GetLocations(ctx context.Context) ([]Location, error)
	GetLocationCount(ctx context.Context) (int, error)
}
