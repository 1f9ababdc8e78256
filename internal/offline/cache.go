package offline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"
)

// CachedResponse is a stored response. Body is kept verbatim so a cache hit
// returns exactly the bytes that were fetched.
type CachedResponse struct {
	URL      string      `json:"url"`
	Status   int         `json:"status"`
	Header   http.Header `json:"header,omitempty"`
	Body     []byte      `json:"body"`
	StoredAt time.Time   `json:"stored_at"`
}

// Snapshot reads resp's body into a CachedResponse and replaces resp.Body
// with an equivalent reader, so both the cache and the caller get a copy.
func Snapshot(resp *http.Response) (*CachedResponse, error) {
	var body []byte
	if resp.Body != nil {
		var err error
		body, err = io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			resp.Body = io.NopCloser(bytes.NewReader(body))
			return nil, fmt.Errorf("failed to read response body: %w", err)
		}
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	url := ""
	if resp.Request != nil && resp.Request.URL != nil {
		url = resp.Request.URL.String()
	}
	return &CachedResponse{
		URL:      url,
		Status:   resp.StatusCode,
		Header:   resp.Header.Clone(),
		Body:     body,
		StoredAt: time.Now().UTC(),
	}, nil
}

// Response materializes the stored response for req.
func (c *CachedResponse) Response(req *http.Request) *http.Response {
	header := c.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	return &http.Response{
		Status:        strconv.Itoa(c.Status) + " " + http.StatusText(c.Status),
		StatusCode:    c.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(c.Body)),
		ContentLength: int64(len(c.Body)),
		Request:       req,
	}
}

// Bucket is a named collection of request key to response pairs.
type Bucket interface {
	// Match returns the entry stored under key, if any.
	Match(ctx context.Context, key string) (*CachedResponse, bool, error)

	// Put stores resp under key, overwriting any existing entry.
	Put(ctx context.Context, key string, resp *CachedResponse) error

	// Delete removes the entry under key and reports whether it existed.
	Delete(ctx context.Context, key string) (bool, error)

	// Keys returns the stored request keys, sorted.
	Keys(ctx context.Context) ([]string, error)
}

// CacheStorage holds buckets by name.
type CacheStorage interface {
	// Open returns the named bucket, creating it if needed.
	Open(ctx context.Context, name string) (Bucket, error)

	// Has reports whether the named bucket exists.
	Has(ctx context.Context, name string) (bool, error)

	// Delete removes the named bucket and all its entries.
	Delete(ctx context.Context, name string) (bool, error)

	// Keys returns all bucket names, sorted.
	Keys(ctx context.Context) ([]string, error)
}

// MemoryCacheStorage is an in-process CacheStorage.
type MemoryCacheStorage struct {
	mu      sync.Mutex
	buckets map[string]*memoryBucket
}

// NewMemoryCacheStorage creates an empty in-process cache storage.
func NewMemoryCacheStorage() *MemoryCacheStorage {
	return &MemoryCacheStorage{buckets: make(map[string]*memoryBucket)}
}

// Open implements CacheStorage.
func (m *MemoryCacheStorage) Open(_ context.Context, name string) (Bucket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buckets[name]
	if !ok {
		b = &memoryBucket{entries: make(map[string]*CachedResponse)}
		m.buckets[name] = b
	}
	return b, nil
}

// Has implements CacheStorage.
func (m *MemoryCacheStorage) Has(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.buckets[name]
	return ok, nil
}

// Delete implements CacheStorage.
func (m *MemoryCacheStorage) Delete(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.buckets[name]
	delete(m.buckets, name)
	return ok, nil
}

// Keys implements CacheStorage.
func (m *MemoryCacheStorage) Keys(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.buckets))
	for name := range m.buckets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

type memoryBucket struct {
	mu      sync.RWMutex
	entries map[string]*CachedResponse
}

func (b *memoryBucket) Match(_ context.Context, key string) (*CachedResponse, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	resp, ok := b.entries[key]
	if !ok {
		return nil, false, nil
	}
	cp := *resp
	return &cp, true, nil
}

func (b *memoryBucket) Put(_ context.Context, key string, resp *CachedResponse) error {
	cp := *resp
	cp.Header = resp.Header.Clone()
	cp.Body = append([]byte(nil), resp.Body...)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[key] = &cp
	return nil
}

func (b *memoryBucket) Delete(_ context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.entries[key]
	delete(b.entries, key)
	return ok, nil
}

func (b *memoryBucket) Keys(_ context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := make([]string, 0, len(b.entries))
	for k := range b.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}
