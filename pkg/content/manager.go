package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/streamworks/recapd/pkg/blob"
)

// Sentinel errors for item operations.
var (
	// ErrNotFound indicates no item exists for the clip.
	ErrNotFound = errors.New("content item not found")

	// ErrStatusRegression indicates an update tried to move the lifecycle
	// backwards.
	ErrStatusRegression = errors.New("processing status cannot regress")
)

// Custom metadata keys persisted with every item so listings can filter
// without fetching bodies.
const (
	metaSchemaVersion = "schema-version"
	metaClipID        = "clip-id"
	metaCreatedAt     = "created-at"
	metaStatus        = "processing-status"
	metaCategory      = "content-category"
)

// bodyFetchParallelism bounds parallel body fetches when materializing a
// listing page.
const bodyFetchParallelism = 10

// Manager stores and queries ContentItems in the artifact store.
type Manager struct {
	store blob.Store
}

// NewManager creates a content item manager.
func NewManager(store blob.Store) *Manager {
	return &Manager{store: store}
}

// Store validates and persists an item, stamping stored_at server-side.
// The key is derived from clip_created_at in UTC.
func (m *Manager) Store(ctx context.Context, item *Item) error {
	if err := blob.ValidateID(item.ClipID); err != nil {
		return err
	}
	item.SchemaVersion = SchemaVersion
	item.StoredAt = time.Now().UTC()
	if err := item.Validate(); err != nil {
		return fmt.Errorf("validate item %s: %w", item.ClipID, err)
	}

	body, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal item %s: %w", item.ClipID, err)
	}

	key := blob.ContentItemKey(item.ClipCreatedAt, item.ClipID)
	return m.store.Put(ctx, key, body, "application/json", m.metadata(item))
}

func (m *Manager) metadata(item *Item) blob.Metadata {
	meta := blob.Metadata{
		metaSchemaVersion: fmt.Sprintf("%d", item.SchemaVersion),
		metaClipID:        item.ClipID,
		metaCreatedAt:     item.ClipCreatedAt.UTC().Format(time.RFC3339),
		metaStatus:        string(item.ProcessingStatus),
	}
	if item.ContentCategory != "" {
		meta[metaCategory] = string(item.ContentCategory)
	}
	return meta
}

// Get fetches a single item by clip id and creation time (which locates the
// month bucket).
func (m *Manager) Get(ctx context.Context, clipID string, createdAt time.Time) (*Item, error) {
	if err := blob.ValidateID(clipID); err != nil {
		return nil, err
	}
	obj, err := m.store.Get(ctx, blob.ContentItemKey(createdAt, clipID))
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var item Item
	if err := json.Unmarshal(obj.Body, &item); err != nil {
		return nil, fmt.Errorf("unmarshal item %s: %w", clipID, err)
	}
	return &item, nil
}

// Update applies a partial update via read-modify-write. Immutable fields
// (schema_version, clip_* fields, stored_at) are never touched; status
// regression is rejected.
func (m *Manager) Update(ctx context.Context, u Update) (*Item, error) {
	item, err := m.Get(ctx, u.ClipID, u.ClipCreatedAt)
	if err != nil {
		return nil, err
	}

	if u.ProcessingStatus != nil {
		if !item.ProcessingStatus.CanTransition(*u.ProcessingStatus) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrStatusRegression, item.ProcessingStatus, *u.ProcessingStatus)
		}
		item.ProcessingStatus = *u.ProcessingStatus
	}
	if u.TranscriptURL != nil {
		item.TranscriptURL = *u.TranscriptURL
	}
	if u.TranscriptSummary != nil {
		s := *u.TranscriptSummary
		if len(s) > maxSummaryLen {
			s = s[:maxSummaryLen]
		}
		item.TranscriptSummary = s
	}
	if u.TranscriptSizeBytes != nil {
		item.TranscriptSizeBytes = *u.TranscriptSizeBytes
	}
	if u.GitHubContextURL != nil {
		item.GitHubContextURL = *u.GitHubContextURL
	}
	if u.GitHubSummary != nil {
		item.GitHubSummary = *u.GitHubSummary
	}
	if u.ContentScore != nil {
		item.ContentScore = u.ContentScore
	}
	if u.ContentCategory != nil {
		item.ContentCategory = *u.ContentCategory
	}
	if u.EnhancedAt != nil {
		item.EnhancedAt = u.EnhancedAt
	}
	if u.Error != nil {
		item.Error = *u.Error
	}

	if err := item.Validate(); err != nil {
		return nil, fmt.Errorf("validate updated item %s: %w", u.ClipID, err)
	}

	body, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("marshal item %s: %w", u.ClipID, err)
	}
	key := blob.ContentItemKey(item.ClipCreatedAt, item.ClipID)
	if err := m.store.Put(ctx, key, body, "application/json", m.metadata(item)); err != nil {
		return nil, err
	}
	return item, nil
}

// Update is a partial item mutation. Nil fields are left unchanged.
type Update struct {
	ClipID        string
	ClipCreatedAt time.Time

	ProcessingStatus    *Status
	TranscriptURL       *string
	TranscriptSummary   *string
	TranscriptSizeBytes *int64
	GitHubContextURL    *string
	GitHubSummary       *string
	ContentScore        *float64
	ContentCategory     *Category
	EnhancedAt          *time.Time
	Error               *string
}

// Query filters a listing.
type Query struct {
	// From/To bound clip_created_at, inclusive, interpreted in UTC. Zero
	// values disable the date filter.
	From time.Time
	To   time.Time

	Status   Status
	Category Category
	Limit    int
	Cursor   string
}

// Page is one page of query results. Cursor resumes within the month it was
// issued for; months are walked oldest-first.
type Page struct {
	Items   []Item `json:"items"`
	Cursor  string `json:"cursor,omitempty"`
	HasMore bool   `json:"has_more"`
}

// List queries items. Date-range queries enumerate month prefixes; metadata
// filters (status, category) are applied from listing metadata without
// fetching bodies, then matching bodies are fetched with bounded
// parallelism.
func (m *Manager) List(ctx context.Context, q Query) (*Page, error) {
	limit := q.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	months, err := q.months()
	if err != nil {
		return nil, err
	}

	cursorMonth, blobCursor := splitCursor(q.Cursor)

	page := &Page{}
	lastKey := ""
	for _, month := range months {
		if cursorMonth != "" && month < cursorMonth {
			continue
		}
		cursor := ""
		if month == cursorMonth {
			cursor = blobCursor
		}

		for {
			if len(page.Items) == limit {
				page.HasMore = true
				page.Cursor = month + "|" + lastKey
				return page, nil
			}

			listing, err := m.store.List(ctx, blob.ListOptions{
				Prefix:       month,
				Cursor:       cursor,
				Limit:        blob.DefaultListLimit,
				WithMetadata: true,
			})
			if err != nil {
				return nil, fmt.Errorf("list %s: %w", month, err)
			}

			var matched []string
			for _, obj := range listing.Objects {
				if !m.matches(obj, q) {
					continue
				}
				matched = append(matched, obj.Key)
			}

			items, err := m.fetchItems(ctx, matched)
			if err != nil {
				return nil, err
			}
			for i, item := range items {
				if len(page.Items) == limit {
					page.HasMore = true
					page.Cursor = month + "|" + lastKey
					return page, nil
				}
				page.Items = append(page.Items, item)
				lastKey = matched[i]
			}

			if !listing.Truncated {
				break
			}
			cursor = listing.Cursor
		}
	}
	return page, nil
}

func (m *Manager) matches(obj blob.ObjectInfo, q Query) bool {
	if !strings.HasSuffix(obj.Key, ".json") {
		return false
	}
	if q.Status != "" && obj.Metadata[metaStatus] != string(q.Status) {
		return false
	}
	if q.Category != "" && obj.Metadata[metaCategory] != string(q.Category) {
		return false
	}
	if !q.From.IsZero() || !q.To.IsZero() {
		createdAt, err := time.Parse(time.RFC3339, obj.Metadata[metaCreatedAt])
		if err != nil {
			return false
		}
		if !q.From.IsZero() && createdAt.Before(q.From) {
			return false
		}
		if !q.To.IsZero() && createdAt.After(q.To) {
			return false
		}
	}
	return true
}

func (m *Manager) fetchItems(ctx context.Context, keys []string) ([]Item, error) {
	items := make([]Item, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bodyFetchParallelism)
	for i, key := range keys {
		g.Go(func() error {
			obj, err := m.store.Get(gctx, key)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", key, err)
			}
			return json.Unmarshal(obj.Body, &items[i])
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return items, nil
}

// months returns the month prefixes covered by the query, oldest first.
// Without a date range the whole content-items keyspace is one "month".
func (q Query) months() ([]string, error) {
	if q.From.IsZero() && q.To.IsZero() {
		return []string{"content-items/"}, nil
	}
	from, to := q.From.UTC(), q.To.UTC()
	if from.IsZero() {
		from = to
	}
	if to.IsZero() {
		to = from
	}
	if to.Before(from) {
		return nil, fmt.Errorf("date range end %s precedes start %s", to, from)
	}

	var months []string
	cur := time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(to.Year(), to.Month(), 1, 0, 0, 0, 0, time.UTC)
	for !cur.After(end) {
		months = append(months, blob.ContentItemMonthPrefix(cur.Year(), cur.Month()))
		cur = cur.AddDate(0, 1, 0)
	}
	return months, nil
}

func splitCursor(cursor string) (month, blobCursor string) {
	if cursor == "" {
		return "", ""
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 {
		return "", ""
	}
	return parts[0], parts[1]
}

// StatusCounts scans the content-items keyspace and tallies items by
// processing status using listing metadata only.
func (m *Manager) StatusCounts(ctx context.Context) (map[Status]int, error) {
	counts := make(map[Status]int)
	cursor := ""
	for {
		listing, err := m.store.List(ctx, blob.ListOptions{
			Prefix:       "content-items/",
			Cursor:       cursor,
			Limit:        blob.DefaultListLimit,
			WithMetadata: true,
		})
		if err != nil {
			return nil, fmt.Errorf("status counts: %w", err)
		}
		for _, obj := range listing.Objects {
			if s := Status(obj.Metadata[metaStatus]); s.Valid() {
				counts[s]++
			}
		}
		if !listing.Truncated {
			return counts, nil
		}
		cursor = listing.Cursor
	}
}
