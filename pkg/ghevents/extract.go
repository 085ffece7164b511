package ghevents

import (
	"time"
)

// extractEventTime picks the instant an event actually happened, per
// event type, falling back to the delivery time. Webhook deliveries can
// lag the underlying activity by minutes, which would skew the temporal
// correlation.
func extractEventTime(eventType string, payload map[string]any, delivered time.Time) time.Time {
	switch eventType {
	case "pull_request":
		if t, ok := nestedTime(payload, "pull_request", "merged_at", "closed_at", "updated_at", "created_at"); ok {
			return t
		}
	case "push":
		if t, ok := nestedTime(payload, "head_commit", "timestamp"); ok {
			return t
		}
		if t, ok := pushedAt(payload); ok {
			return t
		}
	case "issues":
		if t, ok := nestedTime(payload, "issue", "closed_at", "updated_at", "created_at"); ok {
			return t
		}
	case "release":
		if t, ok := nestedTime(payload, "release", "published_at", "created_at"); ok {
			return t
		}
	}
	return delivered.UTC()
}

// nestedTime tries the named fields of payload[object] in order and
// returns the first that parses.
func nestedTime(payload map[string]any, object string, fields ...string) (time.Time, bool) {
	obj, ok := payload[object].(map[string]any)
	if !ok {
		return time.Time{}, false
	}
	for _, field := range fields {
		if s, ok := obj[field].(string); ok && s != "" {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				return t.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

// pushedAt reads repository.pushed_at, which GitHub serializes either as
// a unix timestamp or an RFC 3339 string depending on the API surface.
func pushedAt(payload map[string]any) (time.Time, bool) {
	repo, ok := payload["repository"].(map[string]any)
	if !ok {
		return time.Time{}, false
	}
	switch v := repo["pushed_at"].(type) {
	case float64:
		if v > 0 {
			return time.Unix(int64(v), 0).UTC(), true
		}
	case string:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// repositoryName reads repository.full_name.
func repositoryName(payload map[string]any) string {
	repo, ok := payload["repository"].(map[string]any)
	if !ok {
		return ""
	}
	name, _ := repo["full_name"].(string)
	return name
}

// defaultBranch reads repository.default_branch, falling back to main.
func defaultBranch(payload map[string]any) string {
	if repo, ok := payload["repository"].(map[string]any); ok {
		if branch, ok := repo["default_branch"].(string); ok && branch != "" {
			return branch
		}
	}
	return "main"
}
