// Package selector scores a day's content items and picks a diverse,
// bounded selection for the recap article.
package selector

import (
	"math"
	"sort"
	"strings"

	"github.com/streamworks/recapd/pkg/content"
)

// Selection bounds.
const (
	// ClipBudgetMin is the admitted count after which the entity-novelty
	// cap starts applying.
	ClipBudgetMin = 6

	// ClipBudgetMax caps the selection size.
	ClipBudgetMax = 12

	// perHourCap bounds admissions per UTC hour of clip creation.
	perHourCap = 2

	// minDurationSeconds filters clips too short to carry a story.
	minDurationSeconds = 10

	// minSummaryChars is the transcript-summary length that counts as a
	// usable transcript when no transcript URL is present.
	minSummaryChars = 20
)

// Weights are the per-component scoring weights. They should sum to 1;
// Normalize fixes them up when they do not.
type Weights struct {
	ContentScore     float64 `yaml:"content_score"`
	GitHubConfidence float64 `yaml:"github_confidence"`
	Duration         float64 `yaml:"duration"`
	Views            float64 `yaml:"views"`
	TranscriptLength float64 `yaml:"transcript_length"`
}

// DefaultWeights favor judged quality and GitHub correlation over raw
// popularity.
func DefaultWeights() Weights {
	return Weights{
		ContentScore:     0.30,
		GitHubConfidence: 0.25,
		Duration:         0.15,
		Views:            0.15,
		TranscriptLength: 0.15,
	}
}

func (w Weights) sum() float64 {
	return w.ContentScore + w.GitHubConfidence + w.Duration + w.Views + w.TranscriptLength
}

// Normalize returns weights scaled to sum to 1. Weights already within
// 0.001 of 1 are returned unchanged; a zero sum falls back to defaults.
func (w Weights) Normalize() Weights {
	sum := w.sum()
	if math.Abs(sum-1) <= 0.001 {
		return w
	}
	if sum <= 0 {
		return DefaultWeights()
	}
	return Weights{
		ContentScore:     w.ContentScore / sum,
		GitHubConfidence: w.GitHubConfidence / sum,
		Duration:         w.Duration / sum,
		Views:            w.Views / sum,
		TranscriptLength: w.TranscriptLength / sum,
	}
}

// Config tunes scoring normalization.
type Config struct {
	Weights Weights `yaml:"weights"`

	// Normalization ceilings for the raw components.
	MaxDurationSeconds float64 `yaml:"max_duration_seconds"`
	MaxViews           float64 `yaml:"max_views"`
	MaxWords           float64 `yaml:"max_words"`
}

// DefaultConfig returns the scoring defaults.
func DefaultConfig() Config {
	return Config{
		Weights:            DefaultWeights(),
		MaxDurationSeconds: 300,
		MaxViews:           100,
		MaxWords:           500,
	}
}

// Candidate is a scored, entity-tagged item.
type Candidate struct {
	Item     content.Item
	Score    int
	Entities []string
}

// Score computes the 0..100 weighted score for one item.
func Score(item *content.Item, cfg Config) int {
	w := cfg.Weights.Normalize()

	var contentScore float64
	if item.ContentScore != nil {
		contentScore = clamp01(*item.ContentScore)
	}

	var githubConfidence float64
	if item.GitHubContextURL != "" {
		githubConfidence = 1
	}

	duration := clamp01(item.ClipDuration / cfg.MaxDurationSeconds)
	views := clamp01(float64(item.ClipViewCount) / cfg.MaxViews)
	transcriptLength := clamp01(approxWords(item) / cfg.MaxWords)

	weighted := w.ContentScore*contentScore +
		w.GitHubConfidence*githubConfidence +
		w.Duration*duration +
		w.Views*views +
		w.TranscriptLength*transcriptLength
	return int(math.Round(100 * weighted))
}

// approxWords estimates transcript length: bytes/6 when the stored size
// is known, otherwise the summary's word count.
func approxWords(item *content.Item) float64 {
	if item.TranscriptSizeBytes > 0 {
		return float64(item.TranscriptSizeBytes) / 6
	}
	return float64(len(strings.Fields(item.TranscriptSummary)))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// Select filters, scores, and greedily admits candidates under the
// diversity caps, returning them best-first.
func Select(items []content.Item, cfg Config) []Candidate {
	candidates := make([]Candidate, 0, len(items))
	for _, item := range items {
		if !eligible(&item) {
			continue
		}
		candidates = append(candidates, Candidate{
			Item:  item,
			Score: Score(&item, cfg),
			Entities: ExtractEntities(
				item.ClipTitle, item.TranscriptSummary, item.GitHubContextURL != ""),
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Item.ClipID < candidates[j].Item.ClipID
	})

	var selected []Candidate
	hourCounts := make(map[int]int)
	seenEntities := make(map[string]struct{})

	for _, cand := range candidates {
		if len(selected) == ClipBudgetMax {
			break
		}

		hour := cand.Item.ClipCreatedAt.UTC().Hour()
		if hourCounts[hour] >= perHourCap {
			continue
		}
		if len(selected) >= ClipBudgetMin && !introducesEntity(cand.Entities, seenEntities) {
			continue
		}

		selected = append(selected, cand)
		hourCounts[hour]++
		for _, e := range cand.Entities {
			seenEntities[e] = struct{}{}
		}
	}
	return selected
}

// eligible filters out candidates without a usable transcript or with a
// clip too short to matter.
func eligible(item *content.Item) bool {
	hasTranscript := len(item.TranscriptSummary) >= minSummaryChars || item.TranscriptURL != ""
	return hasTranscript && item.ClipDuration >= minDurationSeconds
}

func introducesEntity(entities []string, seen map[string]struct{}) bool {
	for _, e := range entities {
		if _, ok := seen[e]; !ok {
			return true
		}
	}
	return false
}
