// Package manifest assembles and validates the day's editorial contract:
// the ordered set of sections the drafter and renderer work from.
package manifest

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// SchemaVersion is the current manifest schema version.
const SchemaVersion = 1

// PostKind is the article flavor a manifest describes.
type PostKind string

// Known post kinds.
const (
	KindDailyRecap      PostKind = "daily-recap"
	KindProductionRecap PostKind = "production-recap"
	KindWeeklySummary   PostKind = "weekly-summary"
	KindTopicFocus      PostKind = "topic-focus"
)

// Status is the manifest review state.
type Status string

// Review states.
const (
	StatusDraft    Status = "draft"
	StatusApproved Status = "approved"
)

// AlignmentStatus describes how well a section's clip timing is known.
type AlignmentStatus string

// Alignment states.
const (
	AlignmentExact     AlignmentStatus = "exact"
	AlignmentEstimated AlignmentStatus = "estimated"
	AlignmentMissing   AlignmentStatus = "missing"
)

// Section is one item-per-section entry.
type Section struct {
	SectionID string   `json:"section_id" validate:"required"`
	ClipID    string   `json:"clip_id" validate:"required"`
	Title     string   `json:"title" validate:"required,max=80"`
	Bullets   []string `json:"bullets" validate:"min=2,max=4,dive,min=20,max=140"`
	Paragraph string   `json:"paragraph" validate:"required"`
	Score     int      `json:"score" validate:"min=0,max=100"`
	Repo      string   `json:"repo,omitempty"`
	PRLinks   []string `json:"pr_links,omitempty"`
	ClipURL   string   `json:"clip_url" validate:"required,url"`

	AlignmentStatus AlignmentStatus `json:"alignment_status" validate:"oneof=exact estimated missing"`
	Start           time.Time       `json:"start"`
	End             time.Time       `json:"end"`

	Entities []string `json:"entities" validate:"max=10"`
}

// Gen records how a draft was produced, for idempotency.
type Gen struct {
	Model       string    `json:"model"`
	Temperature float64   `json:"temperature"`
	TopP        float64   `json:"top_p"`
	Seed        int       `json:"seed"`
	MaxTokens   int       `json:"max_tokens"`
	PromptHash  string    `json:"prompt_hash"`
	ContentHash string    `json:"content_hash"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Draft is the model-authored prose attached to a manifest.
type Draft struct {
	Intro    string         `json:"intro"`
	Sections []DraftSection `json:"sections"`
	Outro    string         `json:"outro"`
}

// DraftSection carries one section's drafted paragraph.
type DraftSection struct {
	Paragraph string `json:"paragraph"`
}

// Judge records an editorial quality judgment.
type Judge struct {
	Model    string    `json:"model"`
	Score    float64   `json:"score"`
	JudgedAt time.Time `json:"judged_at"`
}

// Manifest is the day's editorial contract.
type Manifest struct {
	SchemaVersion int      `json:"schema_version" validate:"required"`
	PostID        string   `json:"post_id" validate:"required,datetime=2006-01-02"`
	PostKind      PostKind `json:"post_kind" validate:"oneof=daily-recap production-recap weekly-summary topic-focus"`

	DateUTC time.Time `json:"date_utc" validate:"required"`
	TZ      string    `json:"tz" validate:"required"`

	Title         string   `json:"title" validate:"required,max=80"`
	HeadlineShort string   `json:"headline_short" validate:"required,max=60"`
	Summary       string   `json:"summary" validate:"required"`
	Category      string   `json:"category" validate:"required"`
	Tags          []string `json:"tags"`
	Repos         []string `json:"repos"`
	ClipIDs       []string `json:"clip_ids" validate:"required,min=1"`

	Sections []Section `json:"sections" validate:"min=6,max=12,dive"`

	CanonicalVOD string `json:"canonical_vod,omitempty"`
	MDPath       string `json:"md_path" validate:"required"`
	TargetBranch string `json:"target_branch" validate:"required"`
	Status       Status `json:"status" validate:"oneof=draft approved"`

	Judge *Judge `json:"judge,omitempty"`
	Draft *Draft `json:"draft,omitempty"`
	Gen   *Gen   `json:"gen,omitempty"`
}

var validate = validator.New()

// Validate checks the manifest against its schema, plus the cross-field
// rules struct tags cannot express.
func (m *Manifest) Validate() error {
	if err := validate.Struct(m); err != nil {
		return fmt.Errorf("manifest %s: %w", m.PostID, err)
	}
	if m.SchemaVersion != SchemaVersion {
		return fmt.Errorf("manifest %s: schema_version %d is not %d", m.PostID, m.SchemaVersion, SchemaVersion)
	}
	if len(m.ClipIDs) != len(m.Sections) {
		return fmt.Errorf("manifest %s: %d clip_ids for %d sections", m.PostID, len(m.ClipIDs), len(m.Sections))
	}
	if m.Draft != nil && len(m.Draft.Sections) != len(m.Sections) {
		return fmt.Errorf("manifest %s: draft has %d paragraphs for %d sections", m.PostID, len(m.Draft.Sections), len(m.Sections))
	}
	return nil
}
