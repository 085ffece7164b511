package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// Collaborator converts base64-encoded WAV audio into a raw transcript.
type Collaborator interface {
	Transcribe(ctx context.Context, audioB64 string) (*RawTranscript, error)
	Ping(ctx context.Context) error
}

// RawTranscript is the collaborator's response before redaction.
type RawTranscript struct {
	Text     string       `json:"text"`
	Language string       `json:"language"`
	Model    string       `json:"model"`
	Segments []RawSegment `json:"segments"`
}

// RawSegment mirrors the collaborator's segment shape.
type RawSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// ClientConfig configures the HTTP collaborator client.
type ClientConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client is an HTTP JSON client for the transcription collaborator. Calls
// go through a circuit breaker so a flapping collaborator fails fast
// instead of tying up workers.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	breaker    *gobreaker.CircuitBreaker
}

// NewClient creates a collaborator client.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		token:      cfg.Token,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "transcriber",
			Timeout: 60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

// Transcribe posts the audio payload and decodes the transcript.
func (c *Client) Transcribe(ctx context.Context, audioB64 string) (*RawTranscript, error) {
	result, err := c.breaker.Execute(func() (any, error) {
		return c.transcribe(ctx, audioB64)
	})
	if err != nil {
		return nil, err
	}
	return result.(*RawTranscript), nil
}

func (c *Client) transcribe(ctx context.Context, audioB64 string) (*RawTranscript, error) {
	payload, err := json.Marshal(map[string]string{"audio": audioB64})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/transcribe", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call transcriber: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("transcriber returned HTTP %d: %s", resp.StatusCode, body)
	}

	var raw RawTranscript
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode transcript: %w", err)
	}
	return &raw, nil
}

// Ping probes the collaborator health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.setAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("probe transcriber: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("transcriber health returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) setAuthHeader(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
