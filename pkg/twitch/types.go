// Package twitch provides the broadcast-platform client used to ingest
// newly created clips.
package twitch

import (
	"fmt"
	"time"

	"github.com/streamworks/recapd/pkg/blob"
)

// Clip is the immutable record of a broadcast clip. Created at ingestion,
// never mutated afterwards.
type Clip struct {
	ID              string    `json:"clip_id" validate:"required"`
	Title           string    `json:"title" validate:"required,max=200"`
	URL             string    `json:"url" validate:"required,url"`
	EmbedURL        string    `json:"embed_url" validate:"omitempty,url"`
	ThumbnailURL    string    `json:"thumbnail_url" validate:"omitempty,url"`
	DurationSeconds float64   `json:"duration_seconds" validate:"gte=0,lte=3600"`
	ViewCount       int       `json:"view_count" validate:"gte=0"`
	CreatedAt       time.Time `json:"created_at" validate:"required"`
	Broadcaster     string    `json:"broadcaster"`
	Creator         string    `json:"creator"`
}

// Validate checks the clip id lexicon and field bounds that the validator
// tags cannot express alone.
func (c *Clip) Validate() error {
	if err := blob.ValidateID(c.ID); err != nil {
		return fmt.Errorf("clip_id: %w", err)
	}
	if c.Title == "" {
		return fmt.Errorf("title is required")
	}
	if c.URL == "" {
		return fmt.Errorf("url is required")
	}
	if c.DurationSeconds < 0 || c.DurationSeconds > 3600 {
		return fmt.Errorf("duration_seconds %v out of range [0,3600]", c.DurationSeconds)
	}
	if c.ViewCount < 0 {
		return fmt.Errorf("view_count %d is negative", c.ViewCount)
	}
	if c.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	return nil
}

// helixClip is the wire shape returned by the Helix clips endpoint.
type helixClip struct {
	ID              string  `json:"id"`
	URL             string  `json:"url"`
	EmbedURL        string  `json:"embed_url"`
	BroadcasterName string  `json:"broadcaster_name"`
	CreatorName     string  `json:"creator_name"`
	Title           string  `json:"title"`
	ViewCount       int     `json:"view_count"`
	CreatedAt       string  `json:"created_at"`
	ThumbnailURL    string  `json:"thumbnail_url"`
	Duration        float64 `json:"duration"`
}

// helixClipsResponse is the envelope of the Helix clips endpoint.
type helixClipsResponse struct {
	Data       []helixClip `json:"data"`
	Pagination struct {
		Cursor string `json:"cursor"`
	} `json:"pagination"`
}

func (h helixClip) toClip() (Clip, error) {
	createdAt, err := time.Parse(time.RFC3339, h.CreatedAt)
	if err != nil {
		return Clip{}, fmt.Errorf("clip %s: parse created_at %q: %w", h.ID, h.CreatedAt, err)
	}
	return Clip{
		ID:              h.ID,
		Title:           h.Title,
		URL:             h.URL,
		EmbedURL:        h.EmbedURL,
		ThumbnailURL:    h.ThumbnailURL,
		DurationSeconds: h.Duration,
		ViewCount:       h.ViewCount,
		CreatedAt:       createdAt.UTC(),
		Broadcaster:     h.BroadcasterName,
		Creator:         h.CreatorName,
	}, nil
}
