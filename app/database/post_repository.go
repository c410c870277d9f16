package database

import (
	"context"
	"encoding/json"
	"fmt"
)

// SQLPostRepository implements PostRepository on the SQLite store.
type SQLPostRepository struct {
	db *DB
}

var _ PostRepository = (*SQLPostRepository)(nil)

func NewPostRepository(db *DB) *SQLPostRepository {
	return &SQLPostRepository{db: db}
}

// UpsertPost inserts a post, or refreshes its text and media URLs if the id
// already exists. The processing status is deliberately left untouched on
// conflict: re-ingesting a processed post must not make it pending again.
func (r *SQLPostRepository) UpsertPost(ctx context.Context, post Post) error {
	mediaURLs, err := encodeMediaURLs(post.MediaURLs)
	if err != nil {
		return fmt.Errorf("failed to encode media URLs: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO posts (id, text, created_at, media_urls, processing_status)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			text = excluded.text,
			media_urls = excluded.media_urls
	`, post.ID, post.Text, post.CreatedAt.UTC(), mediaURLs, StatusPending)

	if err != nil {
		return fmt.Errorf("failed to upsert post: %w", err)
	}

	return nil
}

// GetPendingPosts returns up to limit pending posts, oldest-created first.
func (r *SQLPostRepository) GetPendingPosts(ctx context.Context, limit int) ([]Post, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, text, created_at, media_urls, processing_status, ingested_at
		FROM posts
		WHERE processing_status = ?
		ORDER BY created_at ASC
		LIMIT ?
	`, StatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending posts: %w", err)
	}
	defer rows.Close()

	return scanPosts(rows)
}

// MarkPostProcessed advances a post to a terminal processing status.
func (r *SQLPostRepository) MarkPostProcessed(ctx context.Context, postID string, status string) error {
	if status != StatusProcessedNoIssue && status != StatusProcessedMapped {
		return fmt.Errorf("invalid terminal status: %s", status)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE posts SET processing_status = ? WHERE id = ?
	`, status, postID)
	if err != nil {
		return fmt.Errorf("failed to mark post processed: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("post not found: %s", postID)
	}

	return nil
}

func (r *SQLPostRepository) GetAllPosts(ctx context.Context) ([]Post, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, text, created_at, media_urls, processing_status, ingested_at
		FROM posts
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get posts: %w", err)
	}
	defer rows.Close()

	return scanPosts(rows)
}

func (r *SQLPostRepository) GetPostCount(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM posts").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get post count: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanPosts(rows rowScanner) ([]Post, error) {
	var posts []Post
	for rows.Next() {
		var post Post
		var mediaURLs string
		err := rows.Scan(&post.ID, &post.Text, &post.CreatedAt, &mediaURLs,
			&post.ProcessingStatus, &post.IngestedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan post row: %w", err)
		}

		if err := json.Unmarshal([]byte(mediaURLs), &post.MediaURLs); err != nil {
			return nil, fmt.Errorf("failed to decode media URLs for post %s: %w", post.ID, err)
		}

		posts = append(posts, post)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating post rows: %w", err)
	}

	return posts, nil
}

// encodeMediaURLs stores attachment URLs as a JSON array, preserving order.
func encodeMediaURLs(urls []string) (string, error) {
	if urls == nil {
		urls = []string{}
	}
	data, err := json.Marshal(urls)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
