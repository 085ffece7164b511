// Package draft generates the model-authored prose for a manifest. Drafts
// are idempotent by hash: the same manifest content and the same prompt
// parameters always yield the already-stored draft.
package draft

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/streamworks/recapd/pkg/manifest"
)

// MessagesClient captures the subset of the Anthropic SDK used here. It is
// satisfied by *sdk.MessageService so tests can substitute a stub.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Params are the generation parameters. They participate in the prompt
// hash, so changing any of them invalidates stored drafts.
type Params struct {
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	TopP        float64 `yaml:"top_p"`
	Seed        int     `yaml:"seed"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// DefaultParams are tuned for near-deterministic drafts. The seed is not
// sent to the API but is hashed so a seed change forces regeneration.
func DefaultParams() Params {
	return Params{
		Model:       "claude-sonnet-4-5",
		Temperature: 0.3,
		TopP:        0.9,
		Seed:        42,
		MaxTokens:   2000,
	}
}

// Result is a generated (or reused) draft with its provenance record.
type Result struct {
	Draft *manifest.Draft
	Gen   *manifest.Gen

	// Reused is true when the manifest's existing draft was returned
	// unchanged because both hashes matched.
	Reused bool
}

// Drafter turns manifests into prose. A nil messages client skips the
// model entirely and produces deterministic fallback drafts.
type Drafter struct {
	msg    MessagesClient
	params Params
	logger *slog.Logger
}

// NewDrafter creates a drafter. msg may be nil for fallback-only operation.
func NewDrafter(msg MessagesClient, params Params) *Drafter {
	if params.Model == "" {
		params = DefaultParams()
	}
	return &Drafter{
		msg:    msg,
		params: params,
		logger: slog.Default(),
	}
}

// GenerateDraft produces prose for the manifest. When the manifest already
// carries a draft whose prompt hash and content hash both match the current
// inputs, the stored draft is returned unchanged.
func (d *Drafter) GenerateDraft(ctx context.Context, m *manifest.Manifest) (*Result, error) {
	if m == nil || len(m.Sections) == 0 {
		return nil, fmt.Errorf("draft: manifest has no sections")
	}

	contentHash := ContentHash(m)
	prompt := buildPrompt(m)
	promptHash := PromptHash(prompt, d.params)

	if m.Gen != nil && m.Draft != nil &&
		m.Gen.PromptHash == promptHash && m.Gen.ContentHash == contentHash {
		d.logger.Info("draft unchanged, reusing", "post_id", m.PostID, "content_hash", contentHash[:12])
		return &Result{Draft: m.Draft, Gen: m.Gen, Reused: true}, nil
	}

	dr := d.callModel(ctx, m, prompt)
	if dr == nil {
		dr = fallbackDraft(m)
	}
	sanitizeDraft(dr)

	return &Result{
		Draft: dr,
		Gen: &manifest.Gen{
			Model:       d.params.Model,
			Temperature: d.params.Temperature,
			TopP:        d.params.TopP,
			Seed:        d.params.Seed,
			MaxTokens:   d.params.MaxTokens,
			PromptHash:  promptHash,
			ContentHash: contentHash,
			GeneratedAt: time.Now().UTC(),
		},
	}, nil
}

// callModel runs one Messages call and parses the response. Any failure
// returns nil so the caller falls back to deterministic generation.
func (d *Drafter) callModel(ctx context.Context, m *manifest.Manifest, prompt string) *manifest.Draft {
	if d.msg == nil {
		return nil
	}

	body := sdk.MessageNewParams{
		Model:       sdk.Model(d.params.Model),
		MaxTokens:   int64(d.params.MaxTokens),
		Temperature: sdk.Float(d.params.Temperature),
		TopP:        sdk.Float(d.params.TopP),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(prompt)),
		},
	}

	msg, err := d.msg.New(ctx, body)
	if err != nil {
		d.logger.Warn("model call failed, using fallback draft", "post_id", m.PostID, "error", err)
		return nil
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	dr, err := parseDraft(text.String(), len(m.Sections))
	if err != nil {
		d.logger.Warn("model response unusable, using fallback draft", "post_id", m.PostID, "error", err)
		return nil
	}
	return dr
}

// contentProjection is the deterministic subset of the manifest that the
// content hash covers. Struct field order fixes the serialization order.
type contentProjection struct {
	PostID   string              `json:"post_id"`
	Title    string              `json:"title"`
	Summary  string              `json:"summary"`
	Category string              `json:"category"`
	Tags     []string            `json:"tags"`
	Sections []sectionProjection `json:"sections"`
}

type sectionProjection struct {
	Title    string   `json:"title"`
	Bullets  []string `json:"bullets"`
	Repo     string   `json:"repo"`
	PRLinks  []string `json:"pr_links"`
	Entities []string `json:"entities"`
}

// ContentHash is the SHA-256 of the manifest fields that influence the
// draft. Fields outside the projection (timestamps, status) do not
// invalidate a stored draft.
func ContentHash(m *manifest.Manifest) string {
	proj := contentProjection{
		PostID:   m.PostID,
		Title:    m.Title,
		Summary:  m.Summary,
		Category: m.Category,
		Tags:     m.Tags,
	}
	for _, s := range m.Sections {
		proj.Sections = append(proj.Sections, sectionProjection{
			Title:    s.Title,
			Bullets:  s.Bullets,
			Repo:     s.Repo,
			PRLinks:  s.PRLinks,
			Entities: s.Entities,
		})
	}
	return hashJSON(proj)
}

// PromptHash covers the prompt text and every generation parameter.
func PromptHash(prompt string, p Params) string {
	return hashJSON(struct {
		Prompt      string  `json:"prompt"`
		Model       string  `json:"model"`
		Temperature float64 `json:"temperature"`
		TopP        float64 `json:"top_p"`
		Seed        int     `json:"seed"`
		MaxTokens   int     `json:"max_tokens"`
	}{prompt, p.Model, p.Temperature, p.TopP, p.Seed, p.MaxTokens})
}

func hashJSON(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		// Only hash-internal structs reach here; they always marshal.
		panic(fmt.Sprintf("draft: hash marshal: %v", err))
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// buildPrompt assembles the deterministic model instructions.
func buildPrompt(m *manifest.Manifest) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "You are writing a developer blog recap titled %q (%s, category %s).\n",
		m.Title, m.PostID, m.Category)
	fmt.Fprintf(&sb, "Summary: %s\n", m.Summary)
	if len(m.Tags) > 0 {
		fmt.Fprintf(&sb, "Tags: %s\n", strings.Join(m.Tags, ", "))
	}
	sb.WriteString("\nSections:\n")
	for i, s := range m.Sections {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, s.Title)
		for _, b := range s.Bullets {
			fmt.Fprintf(&sb, "   - %s\n", b)
		}
		if s.Repo != "" {
			fmt.Fprintf(&sb, "   repo: %s\n", s.Repo)
		}
		for _, pr := range s.PRLinks {
			fmt.Fprintf(&sb, "   pr: %s\n", pr)
		}
		if len(s.Entities) > 0 {
			fmt.Fprintf(&sb, "   topics: %s\n", strings.Join(s.Entities, ", "))
		}
	}
	fmt.Fprintf(&sb, "\nWrite an engaging intro, one paragraph per section, and a short outro.\n")
	fmt.Fprintf(&sb, "Respond with ONLY a JSON object of the form "+
		`{"intro": "...", "sections": [{"paragraph": "..."}], "outro": "..."} `+
		"with exactly %d section paragraphs. No markdown, no commentary.\n", len(m.Sections))
	return sb.String()
}

// parseDraft extracts and validates the model's JSON response.
func parseDraft(text string, wantSections int) (*manifest.Draft, error) {
	raw := extractJSON(text)
	if raw == "" {
		return nil, fmt.Errorf("no JSON object in response")
	}

	var dr manifest.Draft
	if err := json.Unmarshal([]byte(raw), &dr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if dr.Intro == "" {
		return nil, fmt.Errorf("response missing intro")
	}
	if len(dr.Sections) != wantSections {
		return nil, fmt.Errorf("response has %d paragraphs, want %d", len(dr.Sections), wantSections)
	}
	for i, s := range dr.Sections {
		if strings.TrimSpace(s.Paragraph) == "" {
			return nil, fmt.Errorf("response section %d is empty", i+1)
		}
	}
	return &dr, nil
}

// extractJSON pulls a JSON object out of model text: a fenced code block
// first, else the first balanced top-level braces.
func extractJSON(text string) string {
	if fence := strings.Index(text, "```"); fence >= 0 {
		rest := text[fence+3:]
		// Skip an optional language tag on the fence line.
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			if end := strings.Index(rest[nl:], "```"); end >= 0 {
				if body := strings.TrimSpace(rest[nl : nl+end]); strings.HasPrefix(body, "{") {
					return body
				}
			}
		}
	}

	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// fallbackDraft builds deterministic prose from section titles and bullets.
func fallbackDraft(m *manifest.Manifest) *manifest.Draft {
	dr := &manifest.Draft{
		Intro: fmt.Sprintf("%s. %s", m.Title, m.Summary),
		Outro: "That wraps up this recap. Catch the next stream for more.",
	}
	for _, s := range m.Sections {
		var sb strings.Builder
		fmt.Fprintf(&sb, "%s.", s.Title)
		for _, b := range s.Bullets {
			sb.WriteString(" ")
			sb.WriteString(strings.TrimRight(b, "."))
			sb.WriteString(".")
		}
		dr.Sections = append(dr.Sections, manifest.DraftSection{Paragraph: sb.String()})
	}
	return dr
}

func sanitizeDraft(dr *manifest.Draft) {
	dr.Intro = sanitizeText(dr.Intro)
	dr.Outro = sanitizeText(dr.Outro)
	for i := range dr.Sections {
		dr.Sections[i].Paragraph = sanitizeText(dr.Sections[i].Paragraph)
	}
}

const maxDraftTextLen = 500

// fancyReplacer maps typographic punctuation to its ASCII equivalent.
var fancyReplacer = strings.NewReplacer(
	"‘", "'", "’", "'",
	"“", `"`, "”", `"`,
	"–", "-", "—", "-",
	"…", "...",
	" ", " ",
)

// allowedPunct is the punctuation retained by sanitizeText.
var allowedPunct = map[rune]struct{}{
	'.': {}, ',': {}, ';': {}, ':': {}, '!': {}, '?': {}, '\'': {}, '"': {},
	'(': {}, ')': {}, '[': {}, ']': {}, '-': {}, '/': {}, '&': {}, '%': {},
	'+': {}, '#': {}, '@': {}, '_': {}, '*': {}, '=': {}, '~': {}, '`': {},
}

// sanitizeText normalizes typographic punctuation to ASCII, drops runes
// outside letters/digits/spaces/the allowed punctuation set, collapses
// whitespace, and clamps to 500 chars.
func sanitizeText(s string) string {
	s = fancyReplacer.Replace(s)

	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		switch {
		case r == ' ' || r == '\n' || r == '\t':
			sb.WriteRune(' ')
		case isLetterOrDigit(r):
			sb.WriteRune(r)
		default:
			if _, ok := allowedPunct[r]; ok {
				sb.WriteRune(r)
			}
		}
	}

	s = strings.Join(strings.Fields(sb.String()), " ")
	if len(s) > maxDraftTextLen {
		// The byte cut may land mid-rune; drop the partial sequence.
		s = strings.TrimSpace(strings.ToValidUTF8(s[:maxDraftTextLen-3], "")) + "..."
	}
	return s
}

func isLetterOrDigit(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
