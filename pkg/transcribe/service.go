package transcribe

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"golang.org/x/sync/errgroup"

	"github.com/streamworks/recapd/pkg/blob"
	"github.com/streamworks/recapd/pkg/redact"
)

const (
	// maxAudioBytes caps clip audio at 25 MiB.
	maxAudioBytes = 25 << 20

	// base64ChunkSize bounds memory while encoding audio payloads.
	base64ChunkSize = 32 << 10

	// summaryLen is the transcript summary budget.
	summaryLen = 200

	defaultBatchLimit = 5
)

// errorPhrases is a denylist of collaborator outputs that indicate a
// failed transcription rather than speech.
var errorPhrases = []string{
	"no speech detected", "silence", "no audio", "error", "failed", "null", "undefined",
}

// Service orchestrates clip transcription: fetch audio, validate, call
// the collaborator, redact, and persist the artifact set.
type Service struct {
	store      blob.Store
	client     Collaborator
	redactor   *redact.Redactor
	logger     *slog.Logger
	batchLimit int
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithBatchLimit bounds batch fan-out.
func WithBatchLimit(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.batchLimit = n
		}
	}
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// NewService creates a transcription service.
func NewService(store blob.Store, client Collaborator, opts ...ServiceOption) *Service {
	s := &Service{
		store:      store,
		client:     client,
		redactor:   redact.New(),
		logger:     slog.Default(),
		batchLimit: defaultBatchLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TranscribeClip produces transcript artifacts for a clip. If the
// canonical transcript already exists its metadata is returned unchanged.
// Recoverable failures come back as *StageError.
func (s *Service) TranscribeClip(ctx context.Context, clipID string) (*Result, error) {
	if err := blob.ValidateID(clipID); err != nil {
		return nil, err
	}

	jsonKey := blob.TranscriptKey(clipID, "json")

	// Idempotent short-circuit: a transcript is written once.
	if obj, err := s.store.Get(ctx, jsonKey); err == nil {
		var existing Transcript
		if err := json.Unmarshal(obj.Body, &existing); err != nil {
			return nil, fmt.Errorf("decode existing transcript %s: %w", clipID, err)
		}
		s.logger.Debug("transcript already exists", "clip_id", clipID)
		return &Result{
			URL:       jsonKey,
			Summary:   summarize(&existing),
			SizeBytes: obj.Size,
		}, nil
	}

	audio, err := s.store.Get(ctx, blob.AudioKey(clipID))
	if err != nil {
		return nil, stageErrf(CodeAudioMissing, "no audio for clip %s", clipID)
	}
	if len(audio.Body) > maxAudioBytes {
		return nil, stageErrf(CodeAudioTooLarge, "audio is %d bytes, limit %d", len(audio.Body), maxAudioBytes)
	}
	if len(audio.Body) < 4 || string(audio.Body[:4]) != "RIFF" {
		return nil, stageErrf(CodeInvalidWAV, "clip %s audio lacks a RIFF header", clipID)
	}

	raw, err := s.client.Transcribe(ctx, encodeChunked(audio.Body))
	if err != nil {
		return nil, stageErr(CodeTranscriptionFailed, err)
	}

	transcript := s.redactTranscript(clipID, raw)
	if err := validateTranscript(transcript); err != nil {
		return nil, err
	}

	return s.persist(ctx, clipID, transcript)
}

// encodeChunked base64-encodes audio in fixed-size chunks so encoding
// never holds more than one chunk of intermediate state.
func encodeChunked(audio []byte) string {
	var sb strings.Builder
	sb.Grow(base64.StdEncoding.EncodedLen(len(audio)))
	enc := base64.NewEncoder(base64.StdEncoding, &sb)
	for off := 0; off < len(audio); off += base64ChunkSize {
		end := off + base64ChunkSize
		if end > len(audio) {
			end = len(audio)
		}
		_, _ = enc.Write(audio[off:end])
	}
	_ = enc.Close()
	return sb.String()
}

func (s *Service) redactTranscript(clipID string, raw *RawTranscript) *Transcript {
	t := &Transcript{
		ClipID:    clipID,
		CreatedAt: time.Now().UTC(),
		Model:     raw.Model,
		Language:  raw.Language,
		Text:      s.redactor.Redact(raw.Text),
		Redacted:  true,
	}
	for _, seg := range raw.Segments {
		t.Segments = append(t.Segments, Segment{
			StartS: seg.Start,
			EndS:   seg.End,
			Text:   s.redactor.Redact(seg.Text),
		})
	}
	return t
}

// validateTranscript rejects outputs that carry no usable speech.
func validateTranscript(t *Transcript) error {
	text := strings.TrimSpace(t.Text)
	if len(text) < 10 {
		return stageErrf(CodeEmptyTranscript, "text is %d chars", len(text))
	}

	lower := strings.ToLower(text)
	for _, phrase := range errorPhrases {
		if lower == phrase {
			return stageErrf(CodeEmptyTranscript, "text matches error phrase %q", phrase)
		}
	}

	var alnum, total int
	for _, r := range text {
		total++
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			alnum++
		}
	}
	if float64(alnum)/float64(total) < 0.3 {
		return stageErrf(CodeEmptyTranscript, "alphanumeric ratio below 0.3")
	}

	hasSegmentText := false
	for _, seg := range t.Segments {
		if strings.TrimSpace(seg.Text) != "" {
			hasSegmentText = true
			break
		}
	}
	if !hasSegmentText {
		return stageErrf(CodeEmptyTranscript, "no segment carries text")
	}
	return nil
}

func (s *Service) persist(ctx context.Context, clipID string, t *Transcript) (*Result, error) {
	body, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("marshal transcript %s: %w", clipID, err)
	}

	jsonKey := blob.TranscriptKey(clipID, "json")
	meta := blob.Metadata{"clip-id": clipID, "language": t.Language}

	if err := s.store.Put(ctx, jsonKey, body, "application/json", meta); err != nil {
		return nil, fmt.Errorf("store transcript %s: %w", clipID, err)
	}
	if err := s.store.Put(ctx, blob.TranscriptKey(clipID, "txt"), []byte(t.Text), "text/plain", meta); err != nil {
		return nil, fmt.Errorf("store transcript text %s: %w", clipID, err)
	}
	if len(t.Segments) > 0 {
		vtt := BuildVTT(t.Segments)
		if err := s.store.Put(ctx, blob.TranscriptKey(clipID, "vtt"), []byte(vtt), "text/vtt", meta); err != nil {
			return nil, fmt.Errorf("store transcript vtt %s: %w", clipID, err)
		}
	}
	if err := s.store.Put(ctx, blob.TranscriptKey(clipID, "ok"), []byte{}, "text/plain", meta); err != nil {
		return nil, fmt.Errorf("store transcript marker %s: %w", clipID, err)
	}

	s.logger.Info("transcript stored", "clip_id", clipID, "size_bytes", len(body), "segments", len(t.Segments))
	return &Result{
		URL:       jsonKey,
		Summary:   summarize(t),
		SizeBytes: int64(len(body)),
	}, nil
}

// summarize returns the first summaryLen chars of the text, or a segment
// count fallback when the text is empty.
func summarize(t *Transcript) string {
	text := strings.TrimSpace(t.Text)
	if text != "" {
		if len(text) > summaryLen {
			return text[:summaryLen] + "..."
		}
		return text
	}
	return fmt.Sprintf("%d segments in %s", len(t.Segments), t.Language)
}

// BatchItem is one outcome of a batch transcription.
type BatchItem struct {
	ClipID string
	Result *Result
	Err    error
}

// TranscribeBatch transcribes clips with bounded fan-out. Failures are
// reported per clip; one bad clip never aborts the batch.
func (s *Service) TranscribeBatch(ctx context.Context, clipIDs []string) []BatchItem {
	items := make([]BatchItem, len(clipIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.batchLimit)
	for i, clipID := range clipIDs {
		g.Go(func() error {
			res, err := s.TranscribeClip(gctx, clipID)
			items[i] = BatchItem{ClipID: clipID, Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return items
}
