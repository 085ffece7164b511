// Package content manages the per-clip ContentItem aggregate: a small
// record that advances through a processing lifecycle while large
// sub-objects (transcript, github context) live in separate artifacts
// referenced by URL.
package content

import (
	"fmt"
	"time"
)

// SchemaVersion is the current ContentItem schema version.
const SchemaVersion = 1

// Status is the lifecycle state of a content item. Status only advances
// monotonically, or moves to failed.
type Status string

// Lifecycle states, in order.
const (
	StatusPending         Status = "pending"
	StatusAudioReady      Status = "audio_ready"
	StatusTranscribed     Status = "transcribed"
	StatusEnhanced        Status = "enhanced"
	StatusReadyForContent Status = "ready_for_content"
	StatusFailed          Status = "failed"
)

var statusRank = map[Status]int{
	StatusPending:         0,
	StatusAudioReady:      1,
	StatusTranscribed:     2,
	StatusEnhanced:        3,
	StatusReadyForContent: 4,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok || s == StatusFailed
}

// CanTransition reports whether moving from s to next is allowed: forward
// along the lifecycle, or to failed from any non-terminal state. A no-op
// transition to the same status is allowed (idempotent re-stores).
func (s Status) CanTransition(next Status) bool {
	if s == next {
		return true
	}
	if s == StatusFailed {
		return false
	}
	if next == StatusFailed {
		return true
	}
	from, okFrom := statusRank[s]
	to, okTo := statusRank[next]
	return okFrom && okTo && to > from
}

// Category classifies the clip's content.
type Category string

// Known categories.
const (
	CategoryDevelopment Category = "development"
	CategoryGaming      Category = "gaming"
	CategoryTutorial    Category = "tutorial"
	CategoryReview      Category = "review"
	CategoryOther       Category = "other"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryDevelopment, CategoryGaming, CategoryTutorial, CategoryReview, CategoryOther:
		return true
	}
	return false
}

// maxSummaryLen bounds transcript_summary so items stay small.
const maxSummaryLen = 200

// Item is the per-clip aggregate. Clip fields are embedded and immutable;
// everything the pipeline derives is attached alongside.
type Item struct {
	SchemaVersion int    `json:"schema_version"`
	ClipID        string `json:"clip_id"`

	ClipTitle        string    `json:"clip_title"`
	ClipURL          string    `json:"clip_url"`
	ClipEmbedURL     string    `json:"clip_embed_url,omitempty"`
	ClipThumbnailURL string    `json:"clip_thumbnail_url,omitempty"`
	ClipDuration     float64   `json:"clip_duration"`
	ClipViewCount    int       `json:"clip_view_count"`
	ClipCreatedAt    time.Time `json:"clip_created_at"`
	Broadcaster      string    `json:"broadcaster,omitempty"`
	Creator          string    `json:"creator,omitempty"`

	ProcessingStatus Status `json:"processing_status"`

	TranscriptURL       string `json:"transcript_url,omitempty"`
	TranscriptSummary   string `json:"transcript_summary,omitempty"`
	TranscriptSizeBytes int64  `json:"transcript_size_bytes,omitempty"`

	GitHubContextURL string `json:"github_context_url,omitempty"`
	GitHubSummary    string `json:"github_summary,omitempty"`

	ContentScore    *float64 `json:"content_score,omitempty"`
	ContentCategory Category `json:"content_category,omitempty"`

	StoredAt   time.Time  `json:"stored_at"`
	EnhancedAt *time.Time `json:"enhanced_at,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Validate checks schema-level invariants before persistence.
func (it *Item) Validate() error {
	if it.SchemaVersion != SchemaVersion {
		return fmt.Errorf("schema_version %d is not %d", it.SchemaVersion, SchemaVersion)
	}
	if it.ClipID == "" {
		return fmt.Errorf("clip_id is required")
	}
	if it.ClipCreatedAt.IsZero() {
		return fmt.Errorf("clip_created_at is required")
	}
	if !it.ProcessingStatus.Valid() {
		return fmt.Errorf("processing_status %q is unknown", it.ProcessingStatus)
	}
	if len(it.TranscriptSummary) > maxSummaryLen {
		return fmt.Errorf("transcript_summary exceeds %d chars", maxSummaryLen)
	}
	if it.ContentScore != nil && (*it.ContentScore < 0 || *it.ContentScore > 1) {
		return fmt.Errorf("content_score %v out of range [0,1]", *it.ContentScore)
	}
	if it.ContentCategory != "" && !it.ContentCategory.Valid() {
		return fmt.Errorf("content_category %q is unknown", it.ContentCategory)
	}
	if it.ClipDuration < 0 || it.ClipDuration > 3600 {
		return fmt.Errorf("clip_duration %v out of range [0,3600]", it.ClipDuration)
	}
	return nil
}
