package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/civicmap/civicmap/app/classify"
	"github.com/civicmap/civicmap/app/database"
	"github.com/civicmap/civicmap/app/geo"
)

// Cycle outcome reasons.
const (
	ReasonAlreadyProcessing      = "already_processing"
	ReasonQuotaExhausted         = "quota_exhausted"
	ReasonQuotaExhaustedMidCycle = "quota_exhausted_mid_cycle"
	ReasonNoPending              = "no_pending"
	ReasonStoreError             = "store_error"
)

// Result summarizes one processing cycle.
type Result struct {
	Skipped      bool   `json:"skipped"`
	Reason       string `json:"reason,omitempty"`
	Processed    int    `json:"processed"`
	Mapped       int    `json:"mapped"`
	ResetMinutes int    `json:"reset_minutes,omitempty"`
}

// Status is the monitoring surface consumed by the API layer.
type Status struct {
	IsProcessing        bool       `json:"is_processing"`
	LastProcessedCount  int        `json:"last_processed_count"`
	LastCycleTime       *time.Time `json:"last_cycle_time,omitempty"`
	AIQuotaExhausted    bool       `json:"ai_quota_exhausted"`
	AIQuotaResetMinutes int        `json:"ai_quota_reset_minutes"`
}

// Processor drives the ingestion-to-mapping pipeline: it pulls pending
// posts, resolves coordinates via the fast parser path or the AI+geocoding
// path, persists locations, and advances each post to a terminal status.
// At most one cycle runs at a time per processor instance.
type Processor struct {
	coordParser *geo.Parser
	classifier  Classifier
	geocoder    Geocoder
	postRepo    database.PostRepository
	locRepo     database.LocationRepository
	batchSize   int

	runMu sync.Mutex // held for the duration of a cycle

	mu                 sync.Mutex // guards the status fields below
	isProcessing       bool
	lastProcessedCount int
	lastCycleTime      *time.Time
}

func NewProcessor(coordParser *geo.Parser, classifier Classifier, geocoder Geocoder,
	postRepo database.PostRepository, locRepo database.LocationRepository, batchSize int) *Processor {
	return &Processor{
		coordParser: coordParser,
		classifier:  classifier,
		geocoder:    geocoder,
		postRepo:    postRepo,
		locRepo:     locRepo,
		batchSize:   batchSize,
	}
}

// ProcessQueue runs one pipeline cycle. It never returns an error: store
// failures and panics are logged and end the cycle cleanly, leaving
// unfinished posts pending for the next invocation.
func (p *Processor) ProcessQueue(ctx context.Context) (result Result) {
	if !p.runMu.TryLock() {
		return Result{Skipped: true, Reason: ReasonAlreadyProcessing}
	}
	defer p.runMu.Unlock()

	p.setProcessing(true)
	defer p.setProcessing(false)

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Processing cycle panicked", "panic", r)
			result = Result{Skipped: true, Reason: ReasonStoreError}
		}
	}()

	if status := p.classifier.Status(); status.Exhausted {
		slog.Info("Skipping cycle, AI quota exhausted", "reset_minutes", status.ResetMinutes)
		return Result{Skipped: true, Reason: ReasonQuotaExhausted, ResetMinutes: status.ResetMinutes}
	}

	posts, err := p.postRepo.GetPendingPosts(ctx, p.batchSize)
	if err != nil {
		slog.Error("Failed to fetch pending posts", "error", err)
		return Result{Skipped: true, Reason: ReasonStoreError}
	}

	if len(posts) == 0 {
		return Result{Reason: ReasonNoPending}
	}

	slog.Debug("Processing cycle started", "batch_size", len(posts))
	start := time.Now()

	processed := 0
	mapped := 0

	// Fast path: posts carrying explicit coordinates never reach the AI.
	var unresolved []database.Post
	for _, post := range posts {
		coords := p.coordParser.Run(post.Text)
		if coords == nil {
			unresolved = append(unresolved, post)
			continue
		}

		if err := p.saveMapped(ctx, post.ID, coords, ""); err != nil {
			slog.Error("Failed to persist parsed location, aborting cycle",
				"post", post.ID, "error", err)
			p.finishCycle(processed)
			return Result{Skipped: true, Reason: ReasonStoreError, Processed: processed, Mapped: mapped}
		}
		processed++
		mapped++
	}

	if len(unresolved) > 0 {
		inputs := make([]classify.PostInput, len(unresolved))
		for i, post := range unresolved {
			inputs[i] = classify.PostInput{ID: post.ID, Text: post.Text}
		}

		analyses := p.classifier.Run(ctx, inputs)

		// Quota died mid-call: the unresolved posts stay pending untouched.
		if len(analyses) > 0 && analyses[0].Skipped {
			slog.Warn("AI quota exhausted mid-cycle, leaving batch pending",
				"pending", len(unresolved), "already_mapped", mapped)
			p.finishCycle(processed)
			return Result{Skipped: true, Reason: ReasonQuotaExhaustedMidCycle,
				Processed: processed, Mapped: mapped}
		}

		// Finalize sequentially, in fetch order. The geocoder's shared rate
		// gate would serialize concurrent calls anyway.
		for _, analysis := range analyses {
			newlyMapped, err := p.finalize(ctx, analysis)
			if err != nil {
				slog.Error("Failed to finalize post, aborting cycle",
					"post", analysis.ID, "error", err)
				p.finishCycle(processed)
				return Result{Skipped: true, Reason: ReasonStoreError,
					Processed: processed, Mapped: mapped}
			}
			processed++
			if newlyMapped {
				mapped++
				// Extra spacing on top of the client's own gate, so a tight
				// loop of mapped posts cannot crowd the lookup service.
				if err := sleepCtx(ctx, p.geocoder.RateInterval()); err != nil {
					slog.Debug("Cycle interrupted during rate spacing", "error", err)
					p.finishCycle(processed)
					return Result{Processed: processed, Mapped: mapped}
				}
			}
		}
	}

	p.finishCycle(processed)
	slog.Info("Processing cycle completed",
		"processed", processed, "mapped", mapped, "duration", time.Since(start).String())

	return Result{Processed: processed, Mapped: mapped}
}

// finalize makes the terminal decision for one analyzed post. Returns whether
// the post was newly mapped. Only store errors propagate.
func (p *Processor) finalize(ctx context.Context, analysis classify.Analysis) (bool, error) {
	if analysis.IsIssue && analysis.Location != "" {
		coords := p.geocoder.Run(ctx, analysis.Location)
		if coords != nil {
			if err := p.saveMapped(ctx, analysis.ID, coords, analysis.Location); err != nil {
				return false, err
			}
			return true, nil
		}
		// The issue is real but unlocatable: terminal no-issue, not pending.
		slog.Debug("Geocoding miss for classified issue",
			"post", analysis.ID, "location", analysis.Location)
	}

	if err := p.postRepo.MarkPostProcessed(ctx, analysis.ID, database.StatusProcessedNoIssue); err != nil {
		return false, err
	}
	return false, nil
}

// saveMapped persists a location row and advances the post's status as one
// transactional unit.
func (p *Processor) saveMapped(ctx context.Context, postID string, coords *geo.Coordinates, extracted string) error {
	return p.locRepo.SaveLocationAndMarkMapped(ctx, database.Location{
		PostID:            postID,
		Lat:               coords.Lat,
		Lon:               coords.Lon,
		Source:            coords.Source,
		DisplayName:       coords.DisplayName,
		ExtractedLocation: extracted,
		Status:            database.LocationStatusVerified,
	})
}

// Status returns the current monitoring snapshot.
func (p *Processor) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	quota := p.classifier.Status()
	return Status{
		IsProcessing:        p.isProcessing,
		LastProcessedCount:  p.lastProcessedCount,
		LastCycleTime:       p.lastCycleTime,
		AIQuotaExhausted:    quota.Exhausted,
		AIQuotaResetMinutes: quota.ResetMinutes,
	}
}

func (p *Processor) setProcessing(running bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.isProcessing = running
}

func (p *Processor) finishCycle(processed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	p.lastProcessedCount = processed
	p.lastCycleTime = &now
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
