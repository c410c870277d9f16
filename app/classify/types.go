package classify

// PostInput is one post submitted for batch classification.
type PostInput struct {
	ID   string
	Text string
}

// Analysis is the classification outcome for a single post. Results are
// keyed by post id; the upstream response order is not trusted.
type Analysis struct {
	ID         string
	IsIssue    bool
	IssueType  string
	Location   string // sanitized place name; empty means no usable location
	Confidence float64
	Skipped    bool // true when the daily quota died before this post was analyzed
}

// QuotaStatus reports whether the upstream daily quota is exhausted and how
// long until the reset window elapses.
type QuotaStatus struct {
	Exhausted    bool `json:"exhausted"`
	ResetMinutes int  `json:"reset_minutes"`
}

// wireAnalysis mirrors one element of the JSON array the model is asked to
// produce.
type wireAnalysis struct {
	ID         string  `json:"id"`
	IsIssue    bool    `json:"is_issue"`
	IssueType  string  `json:"issue_type"`
	Location   string  `json:"location"`
	Confidence float64 `json:"confidence"`
}
