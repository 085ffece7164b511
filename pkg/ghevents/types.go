// Package ghevents stores repository webhook events bucketed by event
// time and correlates them with clips by temporal proximity.
package ghevents

import (
	"encoding/json"
	"time"
)

// Event is one stored webhook delivery. The id is the delivery
// identifier and is unique; the payload is kept raw.
type Event struct {
	ID         string          `json:"id"`
	EventType  string          `json:"event_type"`
	Repository string          `json:"repository"`
	EventTime  time.Time       `json:"event_time"`
	Action     string          `json:"action,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	Processed  bool            `json:"processed"`
}

// Confidence tiers a link by how close the event sits to the clip.
type Confidence string

// Confidence tiers.
const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Link is one correlated activity entry.
type Link struct {
	Title       string     `json:"title"`
	URL         string     `json:"url"`
	Timestamp   time.Time  `json:"timestamp"`
	Confidence  Confidence `json:"confidence"`
	MatchReason string     `json:"match_reason"`
}

// Context is the per-clip correlation record referenced from the
// content item.
type Context struct {
	ClipID          string    `json:"clip_id"`
	LinkedPRs       []Link    `json:"linked_prs"`
	LinkedCommits   []Link    `json:"linked_commits"`
	LinkedIssues    []Link    `json:"linked_issues"`
	ConfidenceScore float64   `json:"confidence_score"`
	GeneratedAt     time.Time `json:"generated_at"`
}

// Total returns how many activities the context links.
func (c *Context) Total() int {
	return len(c.LinkedPRs) + len(c.LinkedCommits) + len(c.LinkedIssues)
}

// Summary describes the context in one line for the content item.
func (c *Context) Summary() string {
	if c.Total() == 0 {
		return ""
	}
	return summaryLine(len(c.LinkedPRs), len(c.LinkedCommits), len(c.LinkedIssues))
}
