// Package transcribe turns stored clip audio into redacted transcript
// artifacts: a canonical JSON record, plain text, WebVTT subtitles, and a
// completion marker.
package transcribe

import (
	"errors"
	"fmt"
	"time"
)

// Segment is one timed span of transcript text.
type Segment struct {
	StartS float64 `json:"start_s"`
	EndS   float64 `json:"end_s"`
	Text   string  `json:"text"`
}

// Transcript is the canonical per-clip transcript record. Written once,
// never rewritten.
type Transcript struct {
	ClipID    string    `json:"clip_id"`
	CreatedAt time.Time `json:"created_at"`
	Model     string    `json:"model"`
	Language  string    `json:"language"`
	Segments  []Segment `json:"segments,omitempty"`
	Text      string    `json:"text"`
	Redacted  bool      `json:"redacted"`
}

// Result is the metadata handed back to the content item after a clip is
// transcribed.
type Result struct {
	URL       string `json:"url"`
	Summary   string `json:"summary"`
	SizeBytes int64  `json:"size_bytes"`
}

// FailureCode identifies a recoverable transcription failure.
type FailureCode string

// Failure codes. Recoverable at the job level: the worker decides whether
// to retry.
const (
	CodeAudioMissing        FailureCode = "audio-missing"
	CodeAudioTooLarge       FailureCode = "audio-too-large"
	CodeInvalidWAV          FailureCode = "invalid-wav"
	CodeTranscriptionFailed FailureCode = "transcription-failed"
	CodeEmptyTranscript     FailureCode = "empty-transcript"
)

// StageError is a recoverable pipeline-stage failure with a typed code.
type StageError struct {
	Code FailureCode
	Err  error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(code FailureCode, err error) *StageError {
	return &StageError{Code: code, Err: err}
}

func stageErrf(code FailureCode, format string, args ...any) *StageError {
	return &StageError{Code: code, Err: fmt.Errorf(format, args...)}
}

// AsStageError unwraps err into a StageError, or returns nil.
func AsStageError(err error) *StageError {
	var se *StageError
	if errors.As(err, &se) {
		return se
	}
	return nil
}
