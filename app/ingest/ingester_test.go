package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/civicmap/civicmap/app/database"
)

// fakePostRepo records upserted posts in order.
type fakePostRepo struct {
	mu    sync.Mutex
	posts []database.Post
}

func (f *fakePostRepo) UpsertPost(ctx context.Context, post database.Post) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(f.posts, post)
	return nil
}

func (f *fakePostRepo) GetPendingPosts(ctx context.Context, limit int) ([]database.Post, error) {
	return nil, nil
}
func (f *fakePostRepo) MarkPostProcessed(ctx context.Context, postID string, status string) error {
	return nil
}
func (f *fakePostRepo) GetAllPosts(ctx context.Context) ([]database.Post, error) { return nil, nil }
func (f *fakePostRepo) GetPostCount(ctx context.Context) (int, error)            { return 0, nil }

const testFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>City Reports</title>
    <item>
      <title>Pothole on 100ft Road</title>
      <description>&lt;p&gt;Huge pothole near the &amp;quot;signal&amp;quot;. Coord: 12.95, 77.60&lt;/p&gt;</description>
      <guid>post-100</guid>
      <pubDate>Mon, 02 Jun 2025 09:00:00 GMT</pubDate>
      <enclosure url="https://example.com/pothole.jpg" type="image/jpeg" length="1024"/>
    </item>
    <item>
      <title>Streetlight out</title>
      <description>Dark stretch near the park entrance</description>
      <guid>post-101</guid>
      <pubDate>Mon, 02 Jun 2025 10:00:00 GMT</pubDate>
    </item>
    <item>
      <title></title>
      <description></description>
      <guid>post-102</guid>
    </item>
  </channel>
</rss>`

func newTestIngester(t *testing.T, feedXML string) (*Ingester, *fakePostRepo) {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(feedXML))
	}))
	t.Cleanup(server.Close)

	repo := &fakePostRepo{}
	return NewIngester(server.Client(), repo, server.URL, "test-agent"), repo
}

func TestIngestFeed(t *testing.T) {
	ingester, repo := newTestIngester(t, testFeed)

	stored, err := ingester.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	// The empty third item is dropped
	if stored != 2 {
		t.Fatalf("Expected 2 posts stored, got %d", stored)
	}

	first := repo.posts[0]
	if first.ID != "post-100" {
		t.Errorf("Expected id 'post-100', got %q", first.ID)
	}
	if first.ProcessingStatus != database.StatusPending {
		t.Errorf("Ingested posts must start pending, got %q", first.ProcessingStatus)
	}
	if strings.Contains(first.Text, "<") {
		t.Errorf("Expected HTML stripped from text, got %q", first.Text)
	}
	if !strings.Contains(first.Text, "Coord: 12.95, 77.60") {
		t.Errorf("Expected coordinate text preserved, got %q", first.Text)
	}
	if !strings.Contains(first.Text, "Pothole on 100ft Road") {
		t.Errorf("Expected title included, got %q", first.Text)
	}
	if len(first.MediaURLs) != 1 || first.MediaURLs[0] != "https://example.com/pothole.jpg" {
		t.Errorf("Expected enclosure URL captured, got %v", first.MediaURLs)
	}
	if first.CreatedAt.IsZero() {
		t.Error("Expected created_at from pubDate")
	}

	if repo.posts[1].ID != "post-101" {
		t.Errorf("Expected second post 'post-101', got %q", repo.posts[1].ID)
	}
}

func TestIngestFetchError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ingester := NewIngester(server.Client(), &fakePostRepo{}, server.URL, "test-agent")
	if _, err := ingester.Run(context.Background()); err == nil {
		t.Error("Expected error for unavailable feed")
	}
}

func TestIngestMalformedFeed(t *testing.T) {
	ingester, _ := newTestIngester(t, "this is not XML at all")
	if _, err := ingester.Run(context.Background()); err == nil {
		t.Error("Expected error for malformed feed")
	}
}

func TestComposeText(t *testing.T) {
	tests := []struct {
		name     string
		title    string
		body     string
		expected string
	}{
		{"plain", "Title", "Body text", "Title\n\nBody text"},
		{"html snippet", "Title", "<p>Hello <b>world</b></p>", "Title\n\nHello world"},
		{"entities", "", "<p>tom &amp; jerry</p>", "tom & jerry"},
		{"empty body", "Just a title", "", "Just a title"},
		{"whitespace collapse", "A   B", "C\t\tD", "A B\n\nC D"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := composeText(tt.title, tt.body); got != tt.expected {
				t.Errorf("composeText(%q, %q) = %q, expected %q", tt.title, tt.body, got, tt.expected)
			}
		})
	}
}
