package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/civicmap/civicmap/app/ingest"
)

type IngestPostsTask struct {
	Task
	ingester *ingest.Ingester
}

func NewIngestPostsTask(ingester *ingest.Ingester) *IngestPostsTask {
	return &IngestPostsTask{
		Task:     NewTask(TaskTypeIngestPosts),
		ingester: ingester,
	}
}

func (t *IngestPostsTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	stored, err := t.ingester.Run(ctx)
	if err != nil {
		return fmt.Errorf("failed to ingest posts: %w", err)
	}

	slog.Info("Post ingestion completed", "stored", stored, "duration", t.GetDuration().String())
	return nil
}
