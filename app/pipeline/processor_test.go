package pipeline

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/civicmap/civicmap/app/classify"
	"github.com/civicmap/civicmap/app/database"
	"github.com/civicmap/civicmap/app/geo"
	"github.com/civicmap/civicmap/app/region"
)

// fakeStore backs both repository interfaces with in-memory maps.
type fakeStore struct {
	mu           sync.Mutex
	posts        map[string]*database.Post
	locations    map[string]database.Location
	pendingCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		posts:     make(map[string]*database.Post),
		locations: make(map[string]database.Location),
	}
}

func (s *fakeStore) addPending(id, text string, createdAt time.Time) {
	s.posts[id] = &database.Post{
		ID: id, Text: text, CreatedAt: createdAt,
		ProcessingStatus: database.StatusPending,
	}
}

func (s *fakeStore) UpsertPost(ctx context.Context, post database.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.posts[post.ID]; !ok {
		copied := post
		s.posts[post.ID] = &copied
	}
	return nil
}

func (s *fakeStore) GetPendingPosts(ctx context.Context, limit int) ([]database.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingCalls++

	var pending []database.Post
	for _, post := range s.posts {
		if post.ProcessingStatus == database.StatusPending {
			pending = append(pending, *post)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })
	if len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (s *fakeStore) MarkPostProcessed(ctx context.Context, postID string, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts[postID].ProcessingStatus = status
	return nil
}

func (s *fakeStore) GetAllPosts(ctx context.Context) ([]database.Post, error) { return nil, nil }
func (s *fakeStore) GetPostCount(ctx context.Context) (int, error)           { return len(s.posts), nil }

func (s *fakeStore) SaveLocations(ctx context.Context, locations []database.Location) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, loc := range locations {
		s.locations[loc.PostID] = loc
	}
	return len(locations), nil
}

func (s *fakeStore) SaveLocationAndMarkMapped(ctx context.Context, location database.Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locations[location.PostID] = location
	s.posts[location.PostID].ProcessingStatus = database.StatusProcessedMapped
	return nil
}

func (s *fakeStore) GetLocations(ctx context.Context) ([]database.Location, error) { return nil, nil }
func (s *fakeStore) GetLocationCount(ctx context.Context) (int, error) {
	return len(s.locations), nil
}

func (s *fakeStore) status(postID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.posts[postID].ProcessingStatus
}

// fakeClassifier returns canned analyses and records the batches it saw.
type fakeClassifier struct {
	mu      sync.Mutex
	quota   classify.QuotaStatus
	respond func(posts []classify.PostInput) []classify.Analysis
	batches [][]classify.PostInput
	block   chan struct{} // when set, Run waits until the channel closes
}

func (f *fakeClassifier) Run(ctx context.Context, posts []classify.PostInput) []classify.Analysis {
	f.mu.Lock()
	f.batches = append(f.batches, posts)
	block := f.block
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if f.respond == nil {
		return nil
	}
	return f.respond(posts)
}

func (f *fakeClassifier) Status() classify.QuotaStatus { return f.quota }

func (f *fakeClassifier) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

// fakeGeocoder resolves from a fixed table.
type fakeGeocoder struct {
	mu      sync.Mutex
	results map[string]*geo.Coordinates
	calls   []string
}

func (f *fakeGeocoder) Run(ctx context.Context, placeName string) *geo.Coordinates {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, placeName)
	return f.results[placeName]
}

func (f *fakeGeocoder) RateInterval() time.Duration { return 0 }

func noIssueResponse(posts []classify.PostInput) []classify.Analysis {
	analyses := make([]classify.Analysis, len(posts))
	for i, post := range posts {
		analyses[i] = classify.Analysis{ID: post.ID}
	}
	return analyses
}

func newTestProcessor(store *fakeStore, classifier *fakeClassifier, geocoder *fakeGeocoder) *Processor {
	return NewProcessor(geo.NewParser(region.Bengaluru()), classifier, geocoder, store, store, 10)
}

func TestProcessQueueNoPending(t *testing.T) {
	store := newFakeStore()
	classifier := &fakeClassifier{}
	processor := newTestProcessor(store, classifier, &fakeGeocoder{})

	result := processor.ProcessQueue(context.Background())

	if result.Skipped {
		t.Error("Empty queue should not be reported as skipped")
	}
	if result.Reason != ReasonNoPending {
		t.Errorf("Expected reason %q, got %q", ReasonNoPending, result.Reason)
	}
	if classifier.batchCount() != 0 {
		t.Error("Classifier should not be called for an empty queue")
	}
}

func TestProcessQueueParserFastPath(t *testing.T) {
	store := newFakeStore()
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	store.addPending("p1", "Huge pothole! Coord: 12.95, 77.60", base)
	store.addPending("p2", "garbage everywhere near the park", base.Add(time.Minute))
	store.addPending("p3", "just a nice day", base.Add(2*time.Minute))

	classifier := &fakeClassifier{respond: noIssueResponse}
	geocoder := &fakeGeocoder{}
	processor := newTestProcessor(store, classifier, geocoder)

	result := processor.ProcessQueue(context.Background())

	if result.Skipped {
		t.Fatalf("Unexpected skip: %+v", result)
	}
	if result.Processed != 3 || result.Mapped != 1 {
		t.Errorf("Expected 3 processed / 1 mapped, got %d / %d", result.Processed, result.Mapped)
	}

	if store.status("p1") != database.StatusProcessedMapped {
		t.Errorf("Expected p1 mapped, got %s", store.status("p1"))
	}
	loc := store.locations["p1"]
	if loc.Source != geo.SourceExplicit || loc.Lat != 12.95 || loc.Lon != 77.60 {
		t.Errorf("Unexpected location for p1: %+v", loc)
	}
	if loc.ExtractedLocation != "" {
		t.Errorf("Parser-path location should have no extracted place name, got %q", loc.ExtractedLocation)
	}

	// The parsed post never reaches the AI or the geocoder
	if classifier.batchCount() != 1 {
		t.Fatalf("Expected one classifier batch, got %d", classifier.batchCount())
	}
	if len(classifier.batches[0]) != 2 {
		t.Errorf("Expected 2 posts in classifier batch, got %d", len(classifier.batches[0]))
	}
	for _, input := range classifier.batches[0] {
		if input.ID == "p1" {
			t.Error("Parser-resolved post must not be submitted to the classifier")
		}
	}
	if len(geocoder.calls) != 0 {
		t.Errorf("Expected no geocoder calls, got %v", geocoder.calls)
	}
}

func TestProcessQueueClassifierAndGeocodePath(t *testing.T) {
	store := newFakeStore()
	store.addPending("p1", "water pipe burst near MG Road", time.Now().UTC())

	classifier := &fakeClassifier{
		respond: func(posts []classify.PostInput) []classify.Analysis {
			return []classify.Analysis{{
				ID: "p1", IsIssue: true, IssueType: "water",
				Location: "MG Road, Bengaluru, Karnataka, India", Confidence: 0.9,
			}}
		},
	}
	geocoder := &fakeGeocoder{results: map[string]*geo.Coordinates{
		"MG Road, Bengaluru, Karnataka, India": {
			Lat: 12.97, Lon: 77.61, Source: geo.SourceGeocoded, DisplayName: "MG Road, Bengaluru",
		},
	}}
	processor := newTestProcessor(store, classifier, geocoder)

	result := processor.ProcessQueue(context.Background())

	if result.Processed != 1 || result.Mapped != 1 {
		t.Errorf("Expected 1 processed / 1 mapped, got %d / %d", result.Processed, result.Mapped)
	}
	if store.status("p1") != database.StatusProcessedMapped {
		t.Errorf("Expected p1 mapped, got %s", store.status("p1"))
	}

	loc := store.locations["p1"]
	if loc.Source != geo.SourceGeocoded {
		t.Errorf("Expected source 'geocoded', got %q", loc.Source)
	}
	if loc.ExtractedLocation != "MG Road, Bengaluru, Karnataka, India" {
		t.Errorf("Expected extracted place recorded, got %q", loc.ExtractedLocation)
	}
}

func TestProcessQueueNoIssue(t *testing.T) {
	store := newFakeStore()
	store.addPending("p1", "what a lovely morning", time.Now().UTC())

	classifier := &fakeClassifier{respond: noIssueResponse}
	geocoder := &fakeGeocoder{}
	processor := newTestProcessor(store, classifier, geocoder)

	result := processor.ProcessQueue(context.Background())

	if result.Processed != 1 || result.Mapped != 0 {
		t.Errorf("Expected 1 processed / 0 mapped, got %d / %d", result.Processed, result.Mapped)
	}
	if store.status("p1") != database.StatusProcessedNoIssue {
		t.Errorf("Expected p1 no-issue, got %s", store.status("p1"))
	}
	if len(store.locations) != 0 {
		t.Errorf("Expected no location rows, got %d", len(store.locations))
	}
	if len(geocoder.calls) != 0 {
		t.Errorf("Expected no geocoder calls, got %v", geocoder.calls)
	}
}

func TestProcessQueueGeocodeMissIsTerminal(t *testing.T) {
	store := newFakeStore()
	store.addPending("p1", "open manhole somewhere", time.Now().UTC())

	classifier := &fakeClassifier{
		respond: func(posts []classify.PostInput) []classify.Analysis {
			return []classify.Analysis{{ID: "p1", IsIssue: true, Location: "somewhere vague"}}
		},
	}
	processor := newTestProcessor(store, classifier, &fakeGeocoder{})

	result := processor.ProcessQueue(context.Background())

	if result.Processed != 1 || result.Mapped != 0 {
		t.Errorf("Expected 1 processed / 0 mapped, got %d / %d", result.Processed, result.Mapped)
	}
	// Real issue, no resolvable location: terminal, never retried
	if store.status("p1") != database.StatusProcessedNoIssue {
		t.Errorf("Expected p1 no-issue after geocode miss, got %s", store.status("p1"))
	}
}

func TestProcessQueueQuotaGuard(t *testing.T) {
	store := newFakeStore()
	store.addPending("p1", "pothole report", time.Now().UTC())

	classifier := &fakeClassifier{quota: classify.QuotaStatus{Exhausted: true, ResetMinutes: 42}}
	processor := newTestProcessor(store, classifier, &fakeGeocoder{})

	result := processor.ProcessQueue(context.Background())

	if !result.Skipped || result.Reason != ReasonQuotaExhausted {
		t.Errorf("Expected quota skip, got %+v", result)
	}
	if result.ResetMinutes != 42 {
		t.Errorf("Expected reset minutes 42, got %d", result.ResetMinutes)
	}
	if store.pendingCalls != 0 {
		t.Errorf("Quota guard must not touch the store, got %d reads", store.pendingCalls)
	}
}

func TestProcessQueueQuotaExhaustedMidCycle(t *testing.T) {
	store := newFakeStore()
	store.addPending("p1", "pothole report", time.Now().UTC())

	classifier := &fakeClassifier{
		respond: func(posts []classify.PostInput) []classify.Analysis {
			return []classify.Analysis{{ID: "p1", Skipped: true}}
		},
	}
	processor := newTestProcessor(store, classifier, &fakeGeocoder{})

	result := processor.ProcessQueue(context.Background())

	if !result.Skipped || result.Reason != ReasonQuotaExhaustedMidCycle {
		t.Errorf("Expected mid-cycle quota skip, got %+v", result)
	}
	if store.status("p1") != database.StatusPending {
		t.Errorf("Post must remain pending after mid-cycle quota death, got %s", store.status("p1"))
	}
}

func TestProcessQueueSingleFlight(t *testing.T) {
	store := newFakeStore()
	store.addPending("p1", "pothole report", time.Now().UTC())

	block := make(chan struct{})
	classifier := &fakeClassifier{respond: noIssueResponse, block: block}
	processor := newTestProcessor(store, classifier, &fakeGeocoder{})

	firstDone := make(chan Result, 1)
	go func() {
		firstDone <- processor.ProcessQueue(context.Background())
	}()

	// Wait until the first cycle is inside the classifier call
	deadline := time.After(2 * time.Second)
	for classifier.batchCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("First cycle never reached the classifier")
		case <-time.After(time.Millisecond):
		}
	}

	readsBefore := store.pendingCalls
	second := processor.ProcessQueue(context.Background())
	if !second.Skipped || second.Reason != ReasonAlreadyProcessing {
		t.Errorf("Expected already_processing skip, got %+v", second)
	}
	if store.pendingCalls != readsBefore {
		t.Error("Second invocation must not read from the store")
	}

	close(block)
	first := <-firstDone
	if first.Processed != 1 {
		t.Errorf("First cycle should finish normally, got %+v", first)
	}
}

func TestStatusAccessor(t *testing.T) {
	store := newFakeStore()
	store.addPending("p1", "Coord: 12.95, 77.60", time.Now().UTC())

	classifier := &fakeClassifier{respond: noIssueResponse}
	processor := newTestProcessor(store, classifier, &fakeGeocoder{})

	status := processor.Status()
	if status.IsProcessing {
		t.Error("Expected not processing before any cycle")
	}
	if status.LastCycleTime != nil {
		t.Error("Expected no cycle time before any cycle")
	}

	processor.ProcessQueue(context.Background())

	status = processor.Status()
	if status.IsProcessing {
		t.Error("Expected not processing after the cycle completed")
	}
	if status.LastProcessedCount != 1 {
		t.Errorf("Expected last processed count 1, got %d", status.LastProcessedCount)
	}
	if status.LastCycleTime == nil {
		t.Error("Expected cycle time to be recorded")
	}
}
