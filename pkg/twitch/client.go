package twitch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2/clientcredentials"
)

const (
	defaultHelixBaseURL = "https://api.twitch.tv/helix"
	defaultTokenURL     = "https://id.twitch.tv/oauth2/token"

	// maxClipsPerPage is the Helix per-request ceiling.
	maxClipsPerPage = 100
)

// Client calls the Helix API with app-access-token (client credentials)
// authentication. The oauth2 transport caches and refreshes the token.
type Client struct {
	httpClient    *http.Client
	baseURL       string
	clientID      string
	broadcasterID string
}

// Config holds the per-broadcaster credentials.
type Config struct {
	ClientID      string
	ClientSecret  string
	BroadcasterID string

	// BaseURL and TokenURL override the Helix endpoints in tests.
	BaseURL  string
	TokenURL string
}

// NewClient builds a Helix client. The returned client owns an oauth2
// client-credentials flow; the first API call fetches the token lazily.
func NewClient(ctx context.Context, cfg Config) *Client {
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = defaultTokenURL
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultHelixBaseURL
	}

	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     tokenURL,
	}
	httpClient := cc.Client(ctx)
	httpClient.Timeout = 30 * time.Second

	return &Client{
		httpClient:    httpClient,
		baseURL:       baseURL,
		clientID:      cfg.ClientID,
		broadcasterID: cfg.BroadcasterID,
	}
}

// ListRecentClips returns clips created in [since, now], newest pages first,
// following pagination up to limit clips.
func (c *Client) ListRecentClips(ctx context.Context, since time.Time, limit int) ([]Clip, error) {
	if limit <= 0 {
		limit = maxClipsPerPage
	}

	var clips []Clip
	cursor := ""
	for len(clips) < limit {
		pageSize := limit - len(clips)
		if pageSize > maxClipsPerPage {
			pageSize = maxClipsPerPage
		}

		page, nextCursor, err := c.listPage(ctx, since, pageSize, cursor)
		if err != nil {
			return nil, err
		}
		clips = append(clips, page...)

		if nextCursor == "" || len(page) == 0 {
			break
		}
		cursor = nextCursor
	}
	return clips, nil
}

func (c *Client) listPage(ctx context.Context, since time.Time, pageSize int, cursor string) ([]Clip, string, error) {
	q := url.Values{}
	q.Set("broadcaster_id", c.broadcasterID)
	q.Set("started_at", since.UTC().Format(time.RFC3339))
	q.Set("first", strconv.Itoa(pageSize))
	if cursor != "" {
		q.Set("after", cursor)
	}

	var resp helixClipsResponse
	if err := c.getJSON(ctx, "/clips?"+q.Encode(), &resp); err != nil {
		return nil, "", err
	}

	clips := make([]Clip, 0, len(resp.Data))
	for _, h := range resp.Data {
		clip, err := h.toClip()
		if err != nil {
			slog.Warn("Skipping malformed clip from platform", "clip_id", h.ID, "error", err)
			continue
		}
		clips = append(clips, clip)
	}
	return clips, resp.Pagination.Cursor, nil
}

// ValidateCredentials performs a minimal authenticated call. Used by the
// hourly credential probe and the /validate-twitch endpoint.
func (c *Client) ValidateCredentials(ctx context.Context) error {
	q := url.Values{}
	q.Set("broadcaster_id", c.broadcasterID)
	q.Set("first", "1")

	var resp helixClipsResponse
	if err := c.getJSON(ctx, "/clips?"+q.Encode(), &resp); err != nil {
		return fmt.Errorf("credential probe: %w", err)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Client-Id", c.clientID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("helix request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("helix rate limited (HTTP 429)")
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("helix auth rejected (HTTP %d)", resp.StatusCode)
	default:
		return fmt.Errorf("helix returned HTTP %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode helix response: %w", err)
	}
	return nil
}
