package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/civicmap/civicmap/app/pipeline"
)

type ProcessQueueTask struct {
	Task
	processor *pipeline.Processor
}

func NewProcessQueueTask(processor *pipeline.Processor) *ProcessQueueTask {
	return &ProcessQueueTask{
		Task:      NewTask(TaskTypeProcessQueue),
		processor: processor,
	}
}

func (t *ProcessQueueTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	result := t.processor.ProcessQueue(ctx)

	if result.Skipped {
		// Store errors are worth retrying; quota exhaustion and overlapping
		// cycles resolve themselves on a later tick.
		if result.Reason == pipeline.ReasonStoreError {
			return fmt.Errorf("processing cycle aborted: %s", result.Reason)
		}
		slog.Debug("Processing cycle skipped", "reason", result.Reason)
		return nil
	}

	slog.Info("Processing cycle completed", "processed", result.Processed, "mapped", result.Mapped, "duration", t.GetDuration().String())
	return nil
}
