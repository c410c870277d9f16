package classify

import (
	"encoding/json"
	"fmt"
	"strings"
)

// buildPrompt assembles one prompt covering the whole batch. The model is
// asked for a bare JSON array with one element per post, keyed by id.
func buildPrompt(posts []PostInput) string {
	var b strings.Builder

	b.WriteString("You are analyzing social media posts from Bengaluru residents about civic infrastructure.\n")
	b.WriteString("For each post below, decide whether it reports a civic infrastructure issue ")
	b.WriteString("(pothole, garbage, streetlight, water supply, drainage, footpath, traffic signal, etc.) ")
	b.WriteString("and extract the most specific location mentioned, if any.\n\n")
	b.WriteString("Posts:\n")

	for _, post := range posts {
		// json.Marshal escapes quotes and newlines so the post text cannot
		// break the prompt structure.
		text, _ := json.Marshal(post.Text)
		fmt.Fprintf(&b, "- id: %s text: %s\n", post.ID, text)
	}

	b.WriteString("\nRespond with ONLY a JSON array, one object per post, using this exact shape:\n")
	b.WriteString(`[{"id": "<post id>", "is_issue": true/false, "issue_type": "<category or null>", "location": "<place name or null>", "confidence": 0.0-1.0}]`)
	b.WriteString("\nUse \"none\" for location when no specific place is mentioned. Do not add any text outside the array.")

	return b.String()
}

// extractJSONArray returns the first well-formed top-level JSON array
// substring in text, tolerating prose or code fences around it. Returns ""
// when no balanced array is found.
func extractJSONArray(text string) string {
	start := strings.Index(text, "[")
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(text); i++ {
		ch := text[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}

	return ""
}
