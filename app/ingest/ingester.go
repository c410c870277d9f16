package ingest

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
	"github.com/mmcdole/gofeed"
	"golang.org/x/text/unicode/norm"

	"github.com/civicmap/civicmap/app/database"
)

// Ingester pulls posts from the social platform's RSS/Atom feed and upserts
// them as pending posts. The repository's upsert semantics make re-ingesting
// the same feed safe: known ids are refreshed, never duplicated, and a
// processed post never becomes pending again.
type Ingester struct {
	httpClient *http.Client
	feedParser *gofeed.Parser
	postRepo   database.PostRepository
	feedURL    string
	userAgent  string
}

func NewIngester(httpClient *http.Client, postRepo database.PostRepository, feedURL, userAgent string) *Ingester {
	return &Ingester{
		httpClient: httpClient,
		feedParser: gofeed.NewParser(),
		postRepo:   postRepo,
		feedURL:    feedURL,
		userAgent:  userAgent,
	}
}

// Run fetches the feed once and stores its entries. Returns the number of
// posts upserted.
func (i *Ingester) Run(ctx context.Context) (int, error) {
	data, err := i.fetchFeed(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch ingest feed: %w", err)
	}

	feed, err := i.feedParser.Parse(strings.NewReader(string(data)))
	if err != nil {
		return 0, fmt.Errorf("failed to parse ingest feed: %w", err)
	}

	stored := 0
	for _, item := range feed.Items {
		post, ok := i.normalizeItem(item)
		if !ok {
			continue
		}

		if err := i.postRepo.UpsertPost(ctx, post); err != nil {
			return stored, fmt.Errorf("failed to store post %s: %w", post.ID, err)
		}
		stored++
	}

	slog.Debug("Ingest run completed", "feed_items", len(feed.Items), "stored", stored)
	return stored, nil
}

func (i *Ingester) fetchFeed(ctx context.Context) ([]byte, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, "GET", i.feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", i.userAgent)

	resp, err := i.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	return io.ReadAll(resp.Body)
}

func (i *Ingester) normalizeItem(item *gofeed.Item) (database.Post, bool) {
	id := cmp.Or(item.GUID, item.Link)
	if id == "" {
		return database.Post{}, false
	}

	body := cmp.Or(item.Content, item.Description)
	text := composeText(item.Title, body)
	if text == "" {
		return database.Post{}, false
	}

	createdAt := time.Now().UTC()
	if item.PublishedParsed != nil {
		createdAt = item.PublishedParsed.UTC()
	}

	var mediaURLs []string
	for _, enclosure := range item.Enclosures {
		if enclosure != nil && enclosure.URL != "" {
			mediaURLs = append(mediaURLs, enclosure.URL)
		}
	}
	if item.Image != nil && item.Image.URL != "" {
		mediaURLs = append(mediaURLs, item.Image.URL)
	}

	return database.Post{
		ID:               id,
		Text:             text,
		CreatedAt:        createdAt,
		MediaURLs:        mediaURLs,
		ProcessingStatus: database.StatusPending,
	}, true
}

var (
	tagPattern        = regexp.MustCompile(`<[^>]*>`)
	whitespacePattern = regexp.MustCompile(`[ \t]+`)
)

// composeText joins title and body into normalized plain text. HTML bodies
// are reduced to text content; everything is NFC-normalized so coordinate
// and place-name matching sees one canonical form.
func composeText(title, body string) string {
	body = htmlToText(body)

	var parts []string
	if t := strings.TrimSpace(title); t != "" {
		parts = append(parts, t)
	}
	if b := strings.TrimSpace(body); b != "" {
		parts = append(parts, b)
	}

	text := strings.Join(parts, "\n\n")
	text = whitespacePattern.ReplaceAllString(text, " ")
	return norm.NFC.String(strings.TrimSpace(text))
}

func htmlToText(s string) string {
	if !strings.Contains(s, "<") {
		return s
	}

	// Full HTML documents go through readability, which strips boilerplate
	// along with the markup. Short snippets usually fail extraction and fall
	// back to plain tag stripping.
	if article, err := readability.FromReader(strings.NewReader(s), nil); err == nil {
		if text := strings.TrimSpace(article.TextContent); text != "" {
			return text
		}
	}

	text := tagPattern.ReplaceAllString(s, " ")
	text = strings.ReplaceAll(text, "&nbsp;", " ")
	text = strings.ReplaceAll(text, "&amp;", "&")
	text = strings.ReplaceAll(text, "&lt;", "<")
	text = strings.ReplaceAll(text, "&gt;", ">")
	text = strings.ReplaceAll(text, "&quot;", `"`)
	text = strings.ReplaceAll(text, "&#39;", "'")
	return text
}
