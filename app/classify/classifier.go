package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/civicmap/civicmap/app/ratelimit"
	"github.com/civicmap/civicmap/app/region"
)

const (
	DefaultMaxRetries     = 3
	DefaultRetryIncrement = 5 * time.Second

	// quotaResetWindow is how long the classifier stays paused after the
	// upstream signals hard daily-quota exhaustion.
	quotaResetWindow = time.Hour
)

// Options configures a Classifier.
type Options struct {
	Endpoint       string
	APIKey         string
	Model          string
	UserAgent      string
	RateInterval   time.Duration
	MaxRetries     int           // defaults to DefaultMaxRetries
	RetryIncrement time.Duration // defaults to DefaultRetryIncrement
}

// Classifier batches post texts to an external language model to decide
// whether each describes an infrastructure issue and to extract a candidate
// location string. One request covers a whole batch, amortizing the per-call
// rate limit across many posts.
type Classifier struct {
	httpClient     *http.Client
	endpoint       string
	apiKey         string
	model          string
	userAgent      string
	region         *region.Region
	gate           *ratelimit.Gate
	maxRetries     int
	retryIncrement time.Duration

	mu             sync.Mutex
	quotaExhausted time.Time // zero when quota is available; otherwise reset deadline
}

func NewClassifier(httpClient *http.Client, r *region.Region, opts Options) *Classifier {
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	retryIncrement := opts.RetryIncrement
	if retryIncrement <= 0 {
		retryIncrement = DefaultRetryIncrement
	}

	return &Classifier{
		httpClient:     httpClient,
		endpoint:       opts.Endpoint,
		apiKey:         opts.APIKey,
		model:          opts.Model,
		userAgent:      opts.UserAgent,
		region:         r,
		gate:           ratelimit.NewGate(opts.RateInterval),
		maxRetries:     maxRetries,
		retryIncrement: retryIncrement,
	}
}

// Status reports whether quota is exhausted and the minutes remaining until
// reset. Once the reset deadline passes, the flag self-clears.
func (c *Classifier) Status() QuotaStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.quotaExhausted.IsZero() {
		return QuotaStatus{}
	}

	remaining := time.Until(c.quotaExhausted)
	if remaining <= 0 {
		c.quotaExhausted = time.Time{}
		return QuotaStatus{}
	}

	minutes := int(remaining.Minutes())
	if remaining > time.Duration(minutes)*time.Minute {
		minutes++
	}
	return QuotaStatus{Exhausted: true, ResetMinutes: minutes}
}

func (c *Classifier) markQuotaExhausted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quotaExhausted = time.Now().Add(quotaResetWindow)
}

// Run classifies the batch and returns exactly one Analysis per input post,
// in input order. It never returns an error: quota exhaustion surfaces as
// Skipped results, everything else degrades to a no-issue analysis.
func (c *Classifier) Run(ctx context.Context, posts []PostInput) []Analysis {
	if len(posts) == 0 {
		return nil
	}

	if c.Status().Exhausted {
		return c.skippedBatch(posts)
	}

	prompt := buildPrompt(posts)

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if err := c.gate.Wait(ctx); err != nil {
			slog.Debug("Classifier rate gate interrupted", "error", err)
			return c.emptyBatch(posts)
		}

		text, err := c.generate(ctx, prompt)
		if err == nil {
			return c.parseBatch(posts, text)
		}

		callErr, ok := err.(*callError)
		if ok && callErr.dailyQuota {
			slog.Warn("AI daily quota exhausted, pausing classification",
				"reset_window", quotaResetWindow.String())
			c.markQuotaExhausted()
			return c.skippedBatch(posts)
		}

		if attempt == c.maxRetries {
			slog.Error("Classification failed after maximum retries",
				"attempts", attempt, "batch_size", len(posts), "error", err)
			break
		}

		delay := time.Duration(attempt) * c.retryIncrement
		if ok && callErr.retryDelay > 0 {
			delay = callErr.retryDelay
		}

		slog.Warn("Transient classification failure, retrying batch",
			"attempt", attempt, "max_retries", c.maxRetries, "delay", delay.String(), "error", err)

		select {
		case <-ctx.Done():
			return c.emptyBatch(posts)
		case <-time.After(delay):
		}
	}

	return c.emptyBatch(posts)
}

// parseBatch extracts the JSON array from the model output and re-associates
// results by post id. A parse failure degrades the entire batch to no-issue
// rather than raising.
func (c *Classifier) parseBatch(posts []PostInput, text string) []Analysis {
	raw := extractJSONArray(text)
	if raw == "" {
		slog.Warn("No JSON array found in model response", "response_length", len(text))
		return c.emptyBatch(posts)
	}

	var wire []wireAnalysis
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		slog.Warn("Failed to parse model response array", "error", err)
		return c.emptyBatch(posts)
	}

	byID := make(map[string]wireAnalysis, len(wire))
	for _, w := range wire {
		byID[w.ID] = w
	}

	analyses := make([]Analysis, len(posts))
	for i, post := range posts {
		w, ok := byID[post.ID]
		if !ok {
			analyses[i] = Analysis{ID: post.ID}
			continue
		}
		analyses[i] = Analysis{
			ID:         post.ID,
			IsIssue:    w.IsIssue,
			IssueType:  w.IssueType,
			Location:   c.sanitizeLocation(w.Location),
			Confidence: w.Confidence,
		}
	}
	return analyses
}

// sanitizeLocation normalizes the model's extracted place string. Strings
// that carry no information (empty, the bare region name, the literal
// "none") become empty; anything that lacks locale context gets the
// canonical region qualifier appended so geocoding resolves locally.
func (c *Classifier) sanitizeLocation(location string) string {
	location = strings.TrimSpace(location)
	if location == "" {
		return ""
	}
	if strings.EqualFold(location, "none") || strings.EqualFold(location, c.region.Name) {
		return ""
	}
	if !c.region.MentionsRegion(location) {
		location += c.region.Qualifier
	}
	return location
}

func (c *Classifier) skippedBatch(posts []PostInput) []Analysis {
	analyses := make([]Analysis, len(posts))
	for i, post := range posts {
		analyses[i] = Analysis{ID: post.ID, Skipped: true}
	}
	return analyses
}

func (c *Classifier) emptyBatch(posts []PostInput) []Analysis {
	analyses := make([]Analysis, len(posts))
	for i, post := range posts {
		analyses[i] = Analysis{ID: post.ID}
	}
	return analyses
}

// callError carries the failure classification for one upstream call.
type callError struct {
	statusCode int
	message    string
	dailyQuota bool
	retryDelay time.Duration
}

func (e *callError) Error() string {
	return fmt.Sprintf("AI call failed: %d %s", e.statusCode, e.message)
}

var (
	dailyQuotaPattern = regexp.MustCompile(`(?i)per[\s_-]?day|daily quota|"limit"\s*:\s*0`)
	retryDelayPattern = regexp.MustCompile(`(?i)retry(?:Delay"?\s*:\s*"?|\s+in\s+)(\d+(?:\.\d+)?)s`)
)

// generate performs one model call and returns the raw response text.
func (c *Classifier) generate(ctx context.Context, prompt string) (string, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	reqBody := map[string]any{
		"contents": []map[string]any{
			{"parts": []map[string]string{{"text": prompt}}},
		},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	url := fmt.Sprintf("%s/%s:generateContent", c.endpoint, c.model)
	req, err := http.NewRequestWithContext(timeoutCtx, "POST", url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &callError{message: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &callError{statusCode: resp.StatusCode, message: err.Error()}
	}

	if resp.StatusCode != http.StatusOK {
		return "", classifyCallFailure(resp.StatusCode, string(data))
	}

	var parsed struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", &callError{statusCode: resp.StatusCode, message: fmt.Sprintf("unparseable response: %v", err)}
	}

	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", &callError{statusCode: resp.StatusCode, message: "response contained no candidates"}
	}

	return parsed.Candidates[0].Content.Parts[0].Text, nil
}

// classifyCallFailure distinguishes hard daily-quota exhaustion from
// transient rate limiting and other retryable failures.
func classifyCallFailure(statusCode int, body string) *callError {
	err := &callError{statusCode: statusCode, message: truncate(body, 300)}

	if statusCode == http.StatusTooManyRequests && dailyQuotaPattern.MatchString(body) {
		err.dailyQuota = true
		return err
	}

	if m := retryDelayPattern.FindStringSubmatch(body); m != nil {
		if seconds, parseErr := strconv.ParseFloat(m[1], 64); parseErr == nil {
			err.retryDelay = time.Duration(seconds * float64(time.Second))
		}
	}

	return err
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
