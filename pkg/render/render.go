// Package render turns a manifest into the final Markdown article with
// YAML front-matter, section anchors, and clip embeds.
package render

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/streamworks/recapd/pkg/blob"
	"github.com/streamworks/recapd/pkg/manifest"
)

// DefaultTrustedEmbedHosts are the clip hosts allowed in embed blocks.
var DefaultTrustedEmbedHosts = []string{
	"clips.twitch.tv",
	"www.twitch.tv",
	"twitch.tv",
}

// Renderer writes rendered articles to the artifact store.
type Renderer struct {
	store        blob.Store
	trustedHosts map[string]struct{}
	embedParent  string
	logger       *slog.Logger
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithTrustedEmbedHosts replaces the embed host allowlist.
func WithTrustedEmbedHosts(hosts []string) Option {
	return func(r *Renderer) {
		r.trustedHosts = make(map[string]struct{}, len(hosts))
		for _, h := range hosts {
			r.trustedHosts[strings.ToLower(h)] = struct{}{}
		}
	}
}

// WithEmbedParent sets the parent domain passed to the Twitch embed player.
func WithEmbedParent(parent string) Option {
	return func(r *Renderer) { r.embedParent = parent }
}

// NewRenderer creates a renderer over the given store.
func NewRenderer(store blob.Store, opts ...Option) *Renderer {
	r := &Renderer{
		store:       store,
		embedParent: "localhost",
		logger:      slog.Default(),
	}
	WithTrustedEmbedHosts(DefaultTrustedEmbedHosts)(r)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render produces the article and writes it under blog-posts/. Returns the
// stored key.
func (r *Renderer) Render(ctx context.Context, m *manifest.Manifest) (string, error) {
	doc, err := r.RenderDocument(m)
	if err != nil {
		return "", err
	}

	key := blob.BlogPostKey(m.PostID)
	meta := map[string]string{
		"post-id":   m.PostID,
		"post-kind": string(m.PostKind),
	}
	if err := r.store.Put(ctx, key, []byte(doc), "text/markdown; charset=utf-8", meta); err != nil {
		return "", fmt.Errorf("store article %s: %w", key, err)
	}
	r.logger.Info("article rendered", "post_id", m.PostID, "key", key, "bytes", len(doc))
	return key, nil
}

// RenderDocument builds the full document without persisting it.
func (r *Renderer) RenderDocument(m *manifest.Manifest) (string, error) {
	if len(m.Sections) == 0 {
		return "", fmt.Errorf("render %s: manifest has no sections", m.PostID)
	}

	body := r.renderBody(m)

	fm, err := frontMatter(m, body)
	if err != nil {
		return "", fmt.Errorf("render %s: front matter: %w", m.PostID, err)
	}
	return "---\n" + fm + "---\n\n" + body, nil
}

// frontMatter marshals the YAML header. The content hash covers the
// rendered body so downstream consumers can detect manual edits.
func frontMatter(m *manifest.Manifest, body string) (string, error) {
	type header struct {
		Title       string   `yaml:"title"`
		Date        string   `yaml:"date"`
		Description string   `yaml:"description"`
		Category    string   `yaml:"category"`
		Tags        []string `yaml:"tags"`
		Image       string   `yaml:"image,omitempty"`
		Canonical   string   `yaml:"canonical,omitempty"`
		Layout      string   `yaml:"layout"`
		Published   bool     `yaml:"published"`

		Keywords []string `yaml:"keywords,omitempty"`
		Repos    []string `yaml:"repos,omitempty"`

		JudgeModel string  `yaml:"judge_model,omitempty"`
		JudgeScore float64 `yaml:"judge_score,omitempty"`

		AIGenerated   bool   `yaml:"ai_generated,omitempty"`
		AIModel       string `yaml:"ai_model,omitempty"`
		AIGeneratedAt string `yaml:"ai_generated_at,omitempty"`
		AIPromptHash  string `yaml:"ai_prompt_hash,omitempty"`
		AIContentHash string `yaml:"ai_content_hash,omitempty"`
	}

	h := header{
		Title:       m.Title,
		Date:        m.DateUTC.UTC().Format(time.RFC3339),
		Description: m.Summary,
		Category:    m.Category,
		Tags:        m.Tags,
		Canonical:   m.CanonicalVOD,
		Layout:      "post",
		Published:   false,
		Keywords:    m.Tags,
		Repos:       m.Repos,
	}
	if m.Judge != nil {
		h.JudgeModel = m.Judge.Model
		h.JudgeScore = m.Judge.Score
	}
	if m.Gen != nil {
		sum := sha256.Sum256([]byte(body))
		h.AIGenerated = true
		h.AIModel = m.Gen.Model
		h.AIGeneratedAt = m.Gen.GeneratedAt.UTC().Format(time.RFC3339)
		h.AIPromptHash = m.Gen.PromptHash
		h.AIContentHash = hex.EncodeToString(sum[:])
	}

	out, err := yaml.Marshal(&h)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (r *Renderer) renderBody(m *manifest.Manifest) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# %s\n\n", m.Title)
	sb.WriteString(intro(m) + "\n\n")

	githubCount := 0
	for _, s := range m.Sections {
		if len(s.PRLinks) > 0 || s.Repo != "" {
			githubCount++
		}
	}
	fmt.Fprintf(&sb, "Today's recap covers %d clips", len(m.Sections))
	if githubCount > 0 {
		fmt.Fprintf(&sb, ", %d of them linked to GitHub activity", githubCount)
	}
	sb.WriteString(".\n\n")

	if len(m.Sections) > 3 {
		sb.WriteString("## Contents\n\n")
		for i, s := range m.Sections {
			fmt.Fprintf(&sb, "- [%d. %s](#section-%d)\n", i+1, s.Title, i+1)
		}
		sb.WriteString("\n")
	}

	for i, s := range m.Sections {
		r.renderSection(&sb, m, i, &s)
	}

	fmt.Fprintf(&sb, "%s\n\n", m.Summary)
	fmt.Fprintf(&sb, "*Recap generated from the %s stream.*\n", m.PostID)
	return sb.String()
}

func intro(m *manifest.Manifest) string {
	if m.Draft != nil && m.Draft.Intro != "" {
		return m.Draft.Intro
	}
	return fmt.Sprintf("Welcome to the recap for %s.", m.PostID)
}

func (r *Renderer) renderSection(sb *strings.Builder, m *manifest.Manifest, i int, s *manifest.Section) {
	fmt.Fprintf(sb, "## %d. %s {#section-%d}\n\n", i+1, s.Title, i+1)

	if embed := r.embedBlock(s); embed != "" {
		sb.WriteString(embed + "\n\n")
	}

	sb.WriteString("**Key Points:**\n\n")
	for _, b := range s.Bullets {
		fmt.Fprintf(sb, "- %s\n", b)
	}
	sb.WriteString("\n")

	sb.WriteString(sectionParagraph(m, i, s) + "\n\n")

	if len(s.PRLinks) > 0 {
		sb.WriteString("**Related GitHub Activity:**\n\n")
		for _, pr := range s.PRLinks {
			fmt.Fprintf(sb, "- <%s>\n", pr)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("---\n\n")
}

func sectionParagraph(m *manifest.Manifest, i int, s *manifest.Section) string {
	if m.Draft != nil && i < len(m.Draft.Sections) && m.Draft.Sections[i].Paragraph != "" {
		return m.Draft.Sections[i].Paragraph
	}
	return s.Paragraph
}

// embedBlock emits the clip player iframe when the clip URL's host is on
// the allowlist and the clip id is safe to place in a URL. An untrusted or
// malformed clip degrades to the plain link.
func (r *Renderer) embedBlock(s *manifest.Section) string {
	u, err := url.Parse(s.ClipURL)
	if err != nil || u.Host == "" {
		return ""
	}
	if _, trusted := r.trustedHosts[strings.ToLower(u.Host)]; !trusted {
		return fmt.Sprintf("[Watch the clip](%s)", s.ClipURL)
	}
	if err := blob.ValidateID(s.ClipID); err != nil {
		return fmt.Sprintf("[Watch the clip](%s)", s.ClipURL)
	}

	src := fmt.Sprintf("https://clips.twitch.tv/embed?clip=%s&parent=%s",
		url.QueryEscape(s.ClipID), url.QueryEscape(r.embedParent))
	return fmt.Sprintf(`<iframe src="%s" frameborder="0" allowfullscreen="true" scrolling="no" height="378" width="620"></iframe>`, src)
}
