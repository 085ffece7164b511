package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/streamworks/recapd/pkg/blob"
	"github.com/streamworks/recapd/pkg/content"
	"github.com/streamworks/recapd/pkg/ghevents"
	"github.com/streamworks/recapd/pkg/selector"
)

// ErrInsufficientContent indicates the day produced fewer usable clips
// than the minimum section count.
var ErrInsufficientContent = errors.New("not enough content for a manifest")

const (
	maxTitleLen    = 80
	maxHeadlineLen = 60
	maxBulletLen   = 140
	minBulletLen   = 20
	minBullets     = 2
	maxBullets     = 4
	maxTags        = 5

	defaultTargetBranch = "staging"
	defaultCategory     = "development"
)

// Builder assembles manifests from a day's content items.
type Builder struct {
	items    *content.Manager
	store    blob.Store
	selector selector.Config
	logger   *slog.Logger
}

// NewBuilder creates a manifest builder. store resolves github-context
// artifacts for section enrichment.
func NewBuilder(items *content.Manager, store blob.Store, selCfg selector.Config) *Builder {
	return &Builder{
		items:    items,
		store:    store,
		selector: selCfg,
		logger:   slog.Default(),
	}
}

// Build queries the day's items in the given timezone, selects the best,
// and assembles a validated draft manifest.
func (b *Builder) Build(ctx context.Context, day time.Time, tzName string) (*Manifest, error) {
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", tzName, err)
	}

	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
	dayEnd := dayStart.AddDate(0, 0, 1).Add(-time.Second)

	items, err := b.itemsInWindow(ctx, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}

	selected := selector.Select(items, b.selector)
	if len(selected) < minSections() {
		return nil, fmt.Errorf("%w: %d usable clips, need %d", ErrInsufficientContent, len(selected), minSections())
	}

	postID := dayStart.Format("2006-01-02")
	m := &Manifest{
		SchemaVersion: SchemaVersion,
		PostID:        postID,
		PostKind:      KindDailyRecap,
		DateUTC:       time.Date(day.Year(), day.Month(), day.Day(), 12, 0, 0, 0, loc).UTC(),
		TZ:            tzName,
		Category:      defaultCategory,
		MDPath:        fmt.Sprintf("content/blog/development/%s-%s.md", postID, KindDailyRecap),
		TargetBranch:  defaultTargetBranch,
		Status:        StatusDraft,
	}

	githubCount := 0
	for i, cand := range selected {
		section := b.buildSection(ctx, i+1, cand)
		m.Sections = append(m.Sections, section)
		m.ClipIDs = append(m.ClipIDs, cand.Item.ClipID)
		if cand.Item.GitHubContextURL != "" {
			githubCount++
		}
	}

	m.Title = manifestTitle(len(selected), githubCount)
	m.HeadlineShort = clampText(m.Title, maxHeadlineLen)
	m.Tags = collectTags(m.Sections)
	m.Repos = collectRepos(m.Sections)
	m.Summary = fmt.Sprintf("Recap of %d clips from %s with %d linked GitHub updates.",
		len(selected), postID, githubCount)

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func minSections() int { return selector.ClipBudgetMin }

// itemsInWindow pages through the content listing for the window.
func (b *Builder) itemsInWindow(ctx context.Context, from, to time.Time) ([]content.Item, error) {
	var items []content.Item
	cursor := ""
	for {
		page, err := b.items.List(ctx, content.Query{
			From:   from.UTC(),
			To:     to.UTC(),
			Limit:  100,
			Cursor: cursor,
		})
		if err != nil {
			return nil, fmt.Errorf("query day items: %w", err)
		}
		items = append(items, page.Items...)
		if !page.HasMore {
			return items, nil
		}
		cursor = page.Cursor
	}
}

// buildSection derives one manifest section from a selected candidate.
func (b *Builder) buildSection(ctx context.Context, n int, cand selector.Candidate) Section {
	item := cand.Item

	section := Section{
		SectionID:       fmt.Sprintf("section-%d", n),
		ClipID:          item.ClipID,
		Title:           NormalizeTitle(item.ClipTitle),
		Score:           cand.Score,
		ClipURL:         item.ClipURL,
		AlignmentStatus: alignment(&item),
		Start:           item.ClipCreatedAt.UTC(),
		End:             item.ClipCreatedAt.UTC().Add(time.Duration(item.ClipDuration * float64(time.Second))),
		Entities:        cand.Entities,
	}

	githubSentences := b.githubSentences(ctx, &item, &section)
	section.Bullets = buildBullets(item.TranscriptSummary, githubSentences, &item)
	section.Paragraph = buildParagraph(item.TranscriptSummary, len(githubSentences))
	return section
}

// githubSentences resolves the item's correlation artifact into bullet
// material, and fills the section's repo and PR links.
func (b *Builder) githubSentences(ctx context.Context, item *content.Item, section *Section) []string {
	if item.GitHubContextURL == "" {
		return nil
	}
	obj, err := b.store.Get(ctx, item.GitHubContextURL)
	if err != nil {
		b.logger.Warn("github context unavailable", "clip_id", item.ClipID, "error", err)
		return nil
	}
	var gc ghevents.Context
	if err := json.Unmarshal(obj.Body, &gc); err != nil {
		b.logger.Warn("github context undecodable", "clip_id", item.ClipID, "error", err)
		return nil
	}

	var sentences []string
	for _, pr := range gc.LinkedPRs {
		section.PRLinks = append(section.PRLinks, pr.URL)
		if section.Repo == "" {
			section.Repo = repoFromURL(pr.URL)
		}
		sentences = append(sentences, "Merged pull request: "+pr.Title)
	}
	for _, commit := range gc.LinkedCommits {
		if section.Repo == "" {
			section.Repo = repoFromURL(commit.URL)
		}
		sentences = append(sentences, "Pushed to the default branch: "+commit.Title)
	}
	for _, issue := range gc.LinkedIssues {
		sentences = append(sentences, "Closed issue: "+issue.Title)
	}
	return sentences
}

var repoURLPattern = regexp.MustCompile(`github\.com/([^/]+/[^/]+)`)

func repoFromURL(url string) string {
	if m := repoURLPattern.FindStringSubmatch(url); m != nil {
		return m[1]
	}
	return ""
}

// buildBullets assembles 2..4 bullets of 20..140 chars from transcript
// sentences and GitHub activity, padding with clip facts when the
// transcript runs thin.
func buildBullets(transcriptSummary string, githubSentences []string, item *content.Item) []string {
	var bullets []string
	add := func(s string) {
		if len(bullets) == maxBullets {
			return
		}
		s = clampText(strings.TrimSpace(s), maxBulletLen)
		if len(s) < minBulletLen {
			return
		}
		bullets = append(bullets, s)
	}

	for _, sentence := range splitSentences(transcriptSummary) {
		add(sentence)
	}
	for _, sentence := range githubSentences {
		add(sentence)
	}

	// Fallbacks keep the section valid when the transcript is sparse.
	if len(bullets) < minBullets {
		add(fmt.Sprintf("The clip runs %.0f seconds and drew %d views", item.ClipDuration, item.ClipViewCount))
	}
	if len(bullets) < minBullets {
		add("Watch the full clip for the complete walkthrough")
	}
	return bullets
}

// buildParagraph joins the first two meaningful sentences with a closing
// GitHub reference when correlated activity exists.
func buildParagraph(transcriptSummary string, githubCount int) string {
	sentences := splitSentences(transcriptSummary)
	if len(sentences) > 2 {
		sentences = sentences[:2]
	}

	var sb strings.Builder
	for _, s := range sentences {
		sb.WriteString(strings.TrimSpace(s))
		sb.WriteString(". ")
	}
	if githubCount > 0 {
		fmt.Fprintf(&sb, "This segment lines up with %d related GitHub updates.", githubCount)
	}
	if sb.Len() == 0 {
		return "No transcript is available for this clip."
	}
	return strings.TrimSpace(sb.String())
}

// splitSentences returns trimmed sentences of at least 10 chars.
func splitSentences(text string) []string {
	var sentences []string
	for _, s := range strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	}) {
		s = strings.TrimSpace(s)
		if len(s) >= 10 {
			sentences = append(sentences, s)
		}
	}
	return sentences
}

func alignment(item *content.Item) AlignmentStatus {
	switch {
	case item.TranscriptURL != "":
		return AlignmentExact
	case item.ClipDuration > 0:
		return AlignmentEstimated
	default:
		return AlignmentMissing
	}
}

func manifestTitle(clipCount, githubCount int) string {
	if githubCount > 0 {
		return fmt.Sprintf("Daily Dev Recap: %d Clips with GitHub Context", clipCount)
	}
	return fmt.Sprintf("Daily Dev Recap: %d Clips", clipCount)
}

func collectTags(sections []Section) []string {
	seen := make(map[string]struct{})
	var tags []string
	for _, section := range sections {
		for _, e := range section.Entities {
			if _, dup := seen[e]; dup {
				continue
			}
			seen[e] = struct{}{}
			tags = append(tags, e)
			if len(tags) == maxTags {
				return tags
			}
		}
	}
	return tags
}

func collectRepos(sections []Section) []string {
	seen := make(map[string]struct{})
	var repos []string
	for _, section := range sections {
		if section.Repo == "" {
			continue
		}
		if _, dup := seen[section.Repo]; dup {
			continue
		}
		seen[section.Repo] = struct{}{}
		repos = append(repos, section.Repo)
	}
	return repos
}

// leadFillers are stripped from title starts, longest first so "let's"
// wins over "let".
var leadFillers = []string{
	"let's", "let me", "i'm", "i am", "okay", "right", "yo", "hey", "so", "now",
}

// trailingInterjections are dropped from title ends.
var trailingInterjections = map[string]struct{}{
	"lol": {}, "lmao": {}, "haha": {}, "wow": {}, "omg": {},
}

// NormalizeTitle cleans a raw clip title into a section heading: filler
// words stripped from the front, interjections from the back, title case,
// clamped to 80 chars.
func NormalizeTitle(raw string) string {
	title := strings.TrimSpace(raw)

	for changed := true; changed; {
		changed = false
		lower := strings.ToLower(title)
		for _, filler := range leadFillers {
			if strings.HasPrefix(lower, filler) {
				rest := title[len(filler):]
				if rest == "" || rest[0] == ' ' || rest[0] == ',' {
					title = strings.TrimLeft(rest, " ,")
					changed = true
					break
				}
			}
		}
	}

	words := strings.Fields(title)
	for len(words) > 0 {
		last := strings.ToLower(strings.Trim(words[len(words)-1], "!?.,"))
		if _, ok := trailingInterjections[last]; !ok {
			break
		}
		words = words[:len(words)-1]
	}

	for i, word := range words {
		words[i] = titleCaseWord(word, i == 0)
	}
	title = strings.Join(words, " ")
	if title == "" {
		title = "Untitled Clip"
	}
	return clampText(title, maxTitleLen)
}

// smallWords stay lowercase mid-title.
var smallWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "of": {}, "in": {},
	"on": {}, "to": {}, "for": {}, "with": {}, "at": {}, "by": {},
}

func titleCaseWord(word string, first bool) string {
	lower := strings.ToLower(word)
	if _, small := smallWords[lower]; small && !first {
		return lower
	}
	r := []rune(lower)
	for i, c := range r {
		if c >= 'a' && c <= 'z' {
			r[i] = c - ('a' - 'A')
			break
		}
	}
	return string(r)
}

// clampText truncates to max chars with a trailing ellipsis.
func clampText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
