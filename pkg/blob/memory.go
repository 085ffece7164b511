package blob

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used in tests and local development.
// Listing order is lexicographic by key; the cursor is the last key of the
// previous page, matching the S3 continuation semantics closely enough for
// the callers in this repo.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]*Object
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]*Object)}
}

// Put stores a copy of body under key.
func (s *MemoryStore) Put(_ context.Context, key string, body []byte, contentType string, meta Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := make([]byte, len(body))
	copy(buf, body)

	m := make(Metadata, len(meta))
	for k, v := range meta {
		m[k] = v
	}

	s.objects[key] = &Object{
		ObjectInfo: ObjectInfo{
			Key:          key,
			Size:         int64(len(buf)),
			ContentType:  contentType,
			Metadata:     m,
			LastModified: time.Now().UTC(),
		},
		Body: buf,
	}
	return nil
}

// Get returns the object stored under key.
func (s *MemoryStore) Get(_ context.Context, key string) (*Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[key]
	if !ok {
		return nil, ErrNotFound
	}

	buf := make([]byte, len(obj.Body))
	copy(buf, obj.Body)
	return &Object{ObjectInfo: obj.ObjectInfo, Body: buf}, nil
}

// Head returns object info without the body.
func (s *MemoryStore) Head(_ context.Context, key string) (*ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	info := obj.ObjectInfo
	return &info, nil
}

// List returns a lexicographically ordered page of objects under a prefix.
func (s *MemoryStore) List(_ context.Context, opts ListOptions) (*Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		if strings.HasPrefix(k, opts.Prefix) && k > opts.Cursor {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	page := &Page{}
	for _, k := range keys {
		if len(page.Objects) == limit {
			page.Truncated = true
			page.Cursor = page.Objects[len(page.Objects)-1].Key
			break
		}
		page.Objects = append(page.Objects, s.objects[k].ObjectInfo)
	}
	return page, nil
}

// Delete removes the object under key. Deleting a missing key is not an error.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

// Len reports the number of stored objects. Test helper.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
