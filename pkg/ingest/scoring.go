package ingest

import (
	"strings"

	"github.com/streamworks/recapd/pkg/content"
)

// Category keyword sets, matched case-insensitively against the clip
// title and transcript summary. First match wins in declaration order;
// development last among the specific sets because its vocabulary
// overlaps the others.
var categoryKeywords = []struct {
	category content.Category
	words    []string
}{
	{content.CategoryTutorial, []string{"tutorial", "how to", "walkthrough", "guide", "learn", "explain"}},
	{content.CategoryReview, []string{"review", "first look", "unboxing", "versus", "comparison"}},
	{content.CategoryGaming, []string{"game", "gaming", "speedrun", "boss", "level", "quest"}},
	{content.CategoryDevelopment, []string{"code", "coding", "debug", "deploy", "refactor", "api", "bug", "build", "release", "merge", "commit", "test"}},
}

// categorize classifies a clip from its title and transcript summary.
func categorize(title, summary string) content.Category {
	text := strings.ToLower(title + " " + summary)
	for _, set := range categoryKeywords {
		for _, word := range set.words {
			if strings.Contains(text, word) {
				return set.category
			}
		}
	}
	return content.CategoryOther
}

// scoreItem computes the judged quality score in [0,1]. The score is
// deterministic so re-running enrichment on an unchanged item yields the
// same value.
//
// Components: transcript presence and length (a clip with nothing said
// carries no story), GitHub correlation (the recap's whole point), and
// duration inside the sweet spot (neither a blip nor a slog).
func scoreItem(item *content.Item) float64 {
	score := 0.0

	if item.TranscriptURL != "" {
		score += 0.3
		switch {
		case item.TranscriptSizeBytes >= 2000:
			score += 0.2
		case item.TranscriptSizeBytes >= 500:
			score += 0.1
		}
	} else if len(item.TranscriptSummary) >= 20 {
		score += 0.2
	}

	if item.GitHubContextURL != "" {
		score += 0.3
	}

	if item.ClipDuration >= 20 && item.ClipDuration <= 300 {
		score += 0.2
	} else if item.ClipDuration >= 10 {
		score += 0.1
	}

	if score > 1 {
		score = 1
	}
	return score
}
