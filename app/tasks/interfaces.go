package tasks

// TaskSchedulerInterface defines the interface for background task scheduling.
// Used by the main application and the API layer to manage ingestion and
// processing cycles.
// Example usage:
//
//	scheduler := NewScheduler(ingester, processor)
//	scheduler.Start()
//	defer scheduler.Stop()
//	scheduler.EnqueueTask(NewProcessQueueTask(processor))
type TaskSchedulerInterface interface {
	Start()
	Stop()
	EnqueueTask(task TaskInterface) error
}
