package ghevents

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Correlation windows and tiers.
const (
	// DefaultWindow is how far either side of a clip's creation time the
	// correlator looks for activity.
	DefaultWindow = 2 * time.Hour

	highConfidenceWithin   = 30 * time.Minute
	mediumConfidenceWithin = 60 * time.Minute

	matchReason = "temporal_proximity"

	// defaultConfidenceScore is the aggregate score assigned to any
	// non-empty correlation.
	defaultConfidenceScore = 0.8
)

// FindEventsForClip correlates stored events with a clip by temporal
// proximity. repo narrows the search to one repository when non-empty.
func (s *Store) FindEventsForClip(ctx context.Context, clipID string, clipCreatedAt time.Time, repo string, window time.Duration) (*Context, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	center := clipCreatedAt.UTC()
	from, to := center.Add(-window), center.Add(window)

	events, err := s.eventsInWindow(ctx, from, to, repo)
	if err != nil {
		return nil, fmt.Errorf("find events for clip %s: %w", clipID, err)
	}

	gc := &Context{
		ClipID:      clipID,
		GeneratedAt: time.Now().UTC(),
	}
	for _, event := range events {
		link, kind, ok := contribution(event, center)
		if !ok {
			continue
		}
		switch kind {
		case "pr":
			gc.LinkedPRs = append(gc.LinkedPRs, link)
		case "commit":
			gc.LinkedCommits = append(gc.LinkedCommits, link)
		case "issue":
			gc.LinkedIssues = append(gc.LinkedIssues, link)
		}
	}

	sortLinks(gc.LinkedPRs)
	sortLinks(gc.LinkedCommits)
	sortLinks(gc.LinkedIssues)

	if gc.Total() > 0 {
		gc.ConfidenceScore = defaultConfidenceScore
	}
	return gc, nil
}

// contribution decides whether an event counts toward a clip and builds
// its link. Pushes must target the default branch, PRs must be closed and
// merged, issues must be closed.
func contribution(event *Event, clipTime time.Time) (Link, string, bool) {
	var fields map[string]any
	if err := json.Unmarshal(event.Payload, &fields); err != nil {
		return Link{}, "", false
	}

	link := Link{
		Timestamp:   event.EventTime,
		Confidence:  tier(event.EventTime, clipTime),
		MatchReason: matchReason,
	}

	switch event.EventType {
	case "pull_request":
		pr, ok := fields["pull_request"].(map[string]any)
		if !ok {
			return Link{}, "", false
		}
		merged, _ := pr["merged"].(bool)
		state, _ := pr["state"].(string)
		if !merged || state != "closed" {
			return Link{}, "", false
		}
		link.Title, _ = pr["title"].(string)
		link.URL, _ = pr["html_url"].(string)
		return link, "pr", true

	case "push":
		ref, _ := fields["ref"].(string)
		if ref != "refs/heads/"+defaultBranch(fields) {
			return Link{}, "", false
		}
		if head, ok := fields["head_commit"].(map[string]any); ok {
			message, _ := head["message"].(string)
			link.Title = firstLine(message)
			link.URL, _ = head["url"].(string)
		}
		return link, "commit", true

	case "issues":
		issue, ok := fields["issue"].(map[string]any)
		if !ok {
			return Link{}, "", false
		}
		if state, _ := issue["state"].(string); state != "closed" {
			return Link{}, "", false
		}
		link.Title, _ = issue["title"].(string)
		link.URL, _ = issue["html_url"].(string)
		return link, "issue", true
	}
	return Link{}, "", false
}

// tier maps the clip-to-event distance onto a confidence level.
func tier(eventTime, clipTime time.Time) Confidence {
	delta := eventTime.Sub(clipTime)
	if delta < 0 {
		delta = -delta
	}
	switch {
	case delta <= highConfidenceWithin:
		return ConfidenceHigh
	case delta <= mediumConfidenceWithin:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

func sortLinks(links []Link) {
	sort.SliceStable(links, func(i, j int) bool {
		return links[i].Timestamp.Before(links[j].Timestamp)
	})
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func summaryLine(prs, commits, issues int) string {
	parts := make([]string, 0, 3)
	if prs > 0 {
		parts = append(parts, fmt.Sprintf("%d merged PRs", prs))
	}
	if commits > 0 {
		parts = append(parts, fmt.Sprintf("%d pushes", commits))
	}
	if issues > 0 {
		parts = append(parts, fmt.Sprintf("%d closed issues", issues))
	}
	return strings.Join(parts, ", ")
}
