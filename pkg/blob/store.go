// Package blob provides keyed artifact storage with custom metadata.
//
// Artifacts are immutable: transcripts, manifests, and rendered posts are
// written once under deterministic keys and never rewritten. Listings are
// cursor-paged and may be truncated.
package blob

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Sentinel errors for store operations.
var (
	// ErrNotFound indicates the requested key does not exist.
	ErrNotFound = errors.New("object not found")
)

// Metadata is the custom metadata attached to an object. Keys are lowercase
// with dashes (e.g. "processing-status") so listings can filter without
// fetching bodies.
type Metadata map[string]string

// ObjectInfo describes an object without its body.
type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	Metadata     Metadata
	LastModified time.Time
}

// Object is a stored artifact with its body.
type Object struct {
	ObjectInfo
	Body []byte
}

// ListOptions controls a List call.
type ListOptions struct {
	Prefix string
	Cursor string
	Limit  int

	// WithMetadata requests custom metadata on each listed object. Backends
	// whose listings do not carry metadata (S3) resolve it with a bounded
	// parallel Head fan-out.
	WithMetadata bool
}

// Page is one page of a listing.
type Page struct {
	Objects   []ObjectInfo
	Cursor    string
	Truncated bool
}

// Store is the artifact store contract shared by the S3 and in-memory
// implementations.
type Store interface {
	Put(ctx context.Context, key string, body []byte, contentType string, meta Metadata) error
	Get(ctx context.Context, key string) (*Object, error)
	Head(ctx context.Context, key string) (*ObjectInfo, error)
	List(ctx context.Context, opts ListOptions) (*Page, error)
	Delete(ctx context.Context, key string) error
}

// DefaultListLimit is applied when ListOptions.Limit is zero or negative.
const DefaultListLimit = 1000

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,50}$`)

// ValidateID rejects user-supplied identifiers that could traverse the
// keyspace. IDs must match ^[A-Za-z0-9_-]{1,50}$; the pattern excludes
// '/', '\', '.', and NUL by construction, but they are checked explicitly
// so a future pattern change cannot silently reopen the hole.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("identifier is empty")
	}
	if strings.ContainsAny(id, "/\\.\x00") {
		return fmt.Errorf("identifier %q contains path characters", id)
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("identifier %q is not a valid id", id)
	}
	return nil
}
