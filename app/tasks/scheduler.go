package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/civicmap/civicmap/app/cfg"
	"github.com/civicmap/civicmap/app/ingest"
	"github.com/civicmap/civicmap/app/pipeline"
)

var _ TaskSchedulerInterface = (*Scheduler)(nil)

type Scheduler struct {
	ingester        *ingest.Ingester
	processor       *pipeline.Processor
	ingestInterval  time.Duration
	processInterval time.Duration
	workerCount     int
	ctx             context.Context
	cancel          context.CancelFunc
	wg              sync.WaitGroup
	taskQueue       chan TaskInterface
}

// NewScheduler builds the background scheduler. A nil ingester disables
// ingestion ticks; processing cycles still run on their own interval.
func NewScheduler(ingester *ingest.Ingester, processor *pipeline.Processor) TaskSchedulerInterface {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := cfg.Get()

	return &Scheduler{
		ingester:        ingester,
		processor:       processor,
		ingestInterval:  time.Duration(cfg.IngestInterval) * time.Second,
		processInterval: time.Duration(cfg.ProcessInterval) * time.Second,
		workerCount:     cfg.WorkerCount,
		ctx:             ctx,
		cancel:          cancel,
		taskQueue:       make(chan TaskInterface, 300),
	}
}

func (s *Scheduler) Start() {
	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ingestTicker := time.NewTicker(s.ingestInterval)
		defer ingestTicker.Stop()
		processTicker := time.NewTicker(s.processInterval)
		defer processTicker.Stop()

		s.enqueueStartupTasks()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ingestTicker.C:
				if s.ingester == nil {
					continue
				}
				if err := s.EnqueueTask(NewIngestPostsTask(s.ingester)); err != nil {
					slog.Warn("Failed to enqueue IngestPostsTask", "error", err)
				}
			case <-processTicker.C:
				if err := s.EnqueueTask(NewProcessQueueTask(s.processor)); err != nil {
					slog.Warn("Failed to enqueue ProcessQueueTask", "error", err)
				}
			}
		}
	}()
}

func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	close(s.taskQueue)
}

func (s *Scheduler) EnqueueTask(task TaskInterface) error {
	select {
	case s.taskQueue <- task:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
		return fmt.Errorf("task queue is full")
	}
}

// enqueueStartupTasks primes the queue so a fresh deployment ingests and
// drains the backlog immediately instead of waiting out the first tick.
func (s *Scheduler) enqueueStartupTasks() {
	if s.ingester != nil {
		if err := s.EnqueueTask(NewIngestPostsTask(s.ingester)); err != nil {
			slog.Warn("Failed to enqueue startup IngestPostsTask", "error", err)
		}
	}
	if err := s.EnqueueTask(NewProcessQueueTask(s.processor)); err != nil {
		slog.Warn("Failed to enqueue startup ProcessQueueTask", "error", err)
	}
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case task, ok := <-s.taskQueue:
			if !ok {
				return
			}
			s.executeTask(id, task)

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) executeTask(workerID int, task TaskInterface) {
	task.Start()

	taskCtx, cancel := context.WithTimeout(s.ctx, 30*time.Minute)
	defer cancel()

	err := task.Execute(taskCtx)

	if err != nil {
		slog.Error("Worker task execution failed", "worker_id", workerID, "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", err)

		if task.CanRetry() {
			task.IncrementRetryCount()
			retryDelay := time.Duration(1<<uint(task.GetRetryCount()-1)) * time.Second
			if retryDelay > 30*time.Second {
				retryDelay = 30 * time.Second
			}

			slog.Warn("Task retry scheduled", "type", string(task.GetType()), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "delay", retryDelay.String())

			go func() {
				time.Sleep(retryDelay)
				select {
				case <-s.ctx.Done():
					slog.Debug("Scheduler stopped, skipping task retry", "type", string(task.GetType()), "id", task.GetID())
					return
				default:
					if retryErr := s.EnqueueTask(task); retryErr != nil {
						slog.Error("Failed to re-enqueue task for retry", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", retryErr)
					}
				}
			}()
		} else {
			slog.Error("Task failed after maximum retries", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "last_error", err)
		}
	}
}
