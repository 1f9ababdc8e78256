package offline

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
)

var errNetwork = errors.New("network unreachable")

const testOrigin = "https://menu.test"

type route struct {
	status int
	body   string
	err    error
	block  chan struct{}
}

// fakeFetcher answers from a fixed route table and counts hits per URL.
// Unknown URLs fail like an unreachable network.
type fakeFetcher struct {
	mu     sync.Mutex
	routes map[string]route
	hits   map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{routes: make(map[string]route), hits: make(map[string]int)}
}

func (f *fakeFetcher) set(u string, status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[u] = route{status: status, body: body}
}

func (f *fakeFetcher) setRoute(u string, r route) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[u] = r
}

func (f *fakeFetcher) fail(u string) {
	f.setRoute(u, route{err: errNetwork})
}

func (f *fakeFetcher) count(u string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[u]
}

func (f *fakeFetcher) Do(req *http.Request) (*http.Response, error) {
	u := req.URL.String()
	f.mu.Lock()
	f.hits[u]++
	r, ok := f.routes[u]
	f.mu.Unlock()

	if r.block != nil {
		select {
		case <-r.block:
		case <-req.Context().Done():
			return nil, req.Context().Err()
		}
	}
	if !ok || r.err != nil {
		return nil, errNetwork
	}
	return &http.Response{
		StatusCode: r.status,
		Header:     http.Header{"Content-Type": {"text/plain"}},
		Body:       io.NopCloser(strings.NewReader(r.body)),
		Request:    req,
	}, nil
}

// recordingClients records everything sent to pages.
type recordingClients struct {
	mu            sync.Mutex
	claims        []string
	messages      []Message
	windows       []string
	notifications []Notification
}

func (r *recordingClients) Claim(_ context.Context, version string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.claims = append(r.claims, version)
	return nil
}

func (r *recordingClients) PostAll(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return nil
}

func (r *recordingClients) OpenWindow(_ context.Context, u string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.windows = append(r.windows, u)
	return nil
}

func (r *recordingClients) ShowNotification(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, n)
	return nil
}

func (r *recordingClients) types() []MessageType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]MessageType, 0, len(r.messages))
	for _, m := range r.messages {
		out = append(out, m.Type)
	}
	return out
}

func testManifest(version string) *Manifest {
	return &Manifest{
		Version: version,
		Static:  []string{"/", "/index.html", "/src/main.jsx"},
		Dynamic: []string{"/api/"},
	}
}

type fixture struct {
	c       *Coordinator
	fetcher *fakeFetcher
	caches  *MemoryCacheStorage
	clients *recordingClients
	queue   *MemoryQueue
}

func newFixture(t *testing.T, version string) *fixture {
	t.Helper()
	return newFixtureWith(t, version, newFakeFetcher(), NewMemoryCacheStorage())
}

func newFixtureWith(t *testing.T, version string, f *fakeFetcher, caches *MemoryCacheStorage) *fixture {
	t.Helper()

	origin, err := url.Parse(testOrigin)
	if err != nil {
		t.Fatalf("url.Parse() failed: %v", err)
	}
	clients := &recordingClients{}
	queue := NewMemoryQueue()
	m := testManifest(version)
	c, err := New(&Config{
		Origin:   origin,
		Names:    NewNames("menuboard", version),
		Manifest: m,
		Fetcher:  f,
		Caches:   caches,
		Queue:    queue,
		Clients:  clients,
		Notifier: clients,
		Logger:   log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	return &fixture{c: c, fetcher: f, caches: caches, clients: clients, queue: queue}
}

func (fx *fixture) put(t *testing.T, bucket, u, body string) {
	t.Helper()
	b, err := fx.caches.Open(context.Background(), bucket)
	if err != nil {
		t.Fatalf("Open(%s) failed: %v", bucket, err)
	}
	entry := &CachedResponse{URL: u, Status: http.StatusOK, Body: []byte(body)}
	if err := b.Put(context.Background(), u, entry); err != nil {
		t.Fatalf("Put(%s) failed: %v", u, err)
	}
}

func (fx *fixture) cached(t *testing.T, bucket, u string) (string, bool) {
	t.Helper()
	b, err := fx.caches.Open(context.Background(), bucket)
	if err != nil {
		t.Fatalf("Open(%s) failed: %v", bucket, err)
	}
	entry, ok, err := b.Match(context.Background(), u)
	if err != nil {
		t.Fatalf("Match(%s) failed: %v", u, err)
	}
	if !ok {
		return "", false
	}
	return string(entry.Body), true
}

func get(t *testing.T, u string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		t.Fatalf("NewRequest(%s) failed: %v", u, err)
	}
	return req
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll() failed: %v", err)
	}
	return string(b)
}
