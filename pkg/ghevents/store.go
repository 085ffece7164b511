package ghevents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/streamworks/recapd/pkg/blob"
)

// Store persists events and correlation records in the artifact store.
type Store struct {
	store  blob.Store
	logger *slog.Logger
}

// NewStore creates an event store.
func NewStore(store blob.Store) *Store {
	return &Store{store: store, logger: slog.Default()}
}

// StoreEvent normalizes and persists one webhook delivery. The key day
// bucket comes from the extracted event time, not the delivery time.
func (s *Store) StoreEvent(ctx context.Context, deliveryID, eventType string, payload json.RawMessage, delivered time.Time) (*Event, error) {
	if err := blob.ValidateID(deliveryID); err != nil {
		return nil, err
	}

	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", eventType, err)
	}

	event := &Event{
		ID:         deliveryID,
		EventType:  eventType,
		Repository: repositoryName(fields),
		EventTime:  extractEventTime(eventType, fields, delivered),
		Payload:    payload,
	}
	if action, ok := fields["action"].(string); ok {
		event.Action = action
	}

	body, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal event %s: %w", deliveryID, err)
	}

	key := blob.EventKey(event.EventTime, deliveryID)
	meta := blob.Metadata{
		"event-type": eventType,
		"repository": event.Repository,
	}
	if err := s.store.Put(ctx, key, body, "application/json", meta); err != nil {
		return nil, fmt.Errorf("store event %s: %w", deliveryID, err)
	}

	s.logger.Info("event stored",
		"delivery_id", deliveryID,
		"event_type", eventType,
		"repository", event.Repository,
		"event_time", event.EventTime)
	return event, nil
}

// eventsInWindow loads every event whose bucket day overlaps the window,
// filtered to the window itself and optionally to one repository.
func (s *Store) eventsInWindow(ctx context.Context, from, to time.Time, repo string) ([]*Event, error) {
	var events []*Event

	for day := from.UTC().Truncate(24 * time.Hour); !day.After(to.UTC()); day = day.AddDate(0, 0, 1) {
		cursor := ""
		for {
			page, err := s.store.List(ctx, blob.ListOptions{
				Prefix: blob.EventDayPrefix(day),
				Cursor: cursor,
				Limit:  blob.DefaultListLimit,
			})
			if err != nil {
				return nil, fmt.Errorf("list events for %s: %w", day.Format("2006-01-02"), err)
			}

			for _, info := range page.Objects {
				obj, err := s.store.Get(ctx, info.Key)
				if err != nil {
					s.logger.Warn("event vanished during listing", "key", info.Key)
					continue
				}
				var event Event
				if err := json.Unmarshal(obj.Body, &event); err != nil {
					s.logger.Warn("skipping undecodable event", "key", info.Key, "error", err)
					continue
				}
				if event.EventTime.Before(from) || event.EventTime.After(to) {
					continue
				}
				if repo != "" && event.Repository != repo {
					continue
				}
				events = append(events, &event)
			}

			if !page.Truncated {
				break
			}
			cursor = page.Cursor
		}
	}
	return events, nil
}

// StoreContext persists a clip's correlation record and returns its key.
func (s *Store) StoreContext(ctx context.Context, gc *Context) (string, error) {
	if err := blob.ValidateID(gc.ClipID); err != nil {
		return "", err
	}
	body, err := json.Marshal(gc)
	if err != nil {
		return "", fmt.Errorf("marshal github context %s: %w", gc.ClipID, err)
	}
	key := blob.GitHubContextKey(gc.ClipID)
	if err := s.store.Put(ctx, key, body, "application/json", blob.Metadata{"clip-id": gc.ClipID}); err != nil {
		return "", fmt.Errorf("store github context %s: %w", gc.ClipID, err)
	}
	return key, nil
}
