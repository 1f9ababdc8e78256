package offline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
)

func installable(f *fakeFetcher) {
	for _, p := range []string{"/", "/index.html", "/src/main.jsx"} {
		f.set(testOrigin+p, http.StatusOK, "asset "+p)
	}
}

func newTestRegistry(t *testing.T, f Fetcher) *Registry {
	t.Helper()
	origin, _ := url.Parse(testOrigin)
	r := NewRegistry(origin, f, log.New(io.Discard, "", 0))
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRegistry_FirstRegisterActivates(t *testing.T) {
	f := newFakeFetcher()
	installable(f)
	fx := newFixtureWith(t, "v1", f, NewMemoryCacheStorage())
	r := newTestRegistry(t, f)

	if err := r.Register(context.Background(), fx.c); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	if r.Active() != fx.c {
		t.Fatal("coordinator not active after Register()")
	}
	if r.Waiting() != nil {
		t.Error("Waiting() should be empty after activation")
	}
	if got := fx.c.State(); got != StateActive {
		t.Errorf("State() = %v, want active", got)
	}
}

func TestRegistry_FailedInstallKeepsPrevious(t *testing.T) {
	f := newFakeFetcher()
	installable(f)
	caches := NewMemoryCacheStorage()
	v1 := newFixtureWith(t, "v1", f, caches)
	r := newTestRegistry(t, f)
	if err := r.Register(context.Background(), v1.c); err != nil {
		t.Fatalf("Register(v1) failed: %v", err)
	}

	f.fail(testOrigin + "/index.html")
	v2 := newFixtureWith(t, "v2", f, caches)
	err := r.Register(context.Background(), v2.c)
	if !errors.Is(err, ErrInstallFailed) {
		t.Fatalf("Register(v2) error = %v, want ErrInstallFailed", err)
	}
	if r.Active() != v1.c {
		t.Error("previous coordinator should stay active")
	}
	if got := v2.c.State(); got != StateRedundant {
		t.Errorf("v2 State() = %v, want redundant", got)
	}
	if ok, _ := caches.Has(context.Background(), "menuboard-static-v2"); ok {
		t.Error("failed install left a v2 static bucket")
	}

	// v1 still serves its pre-cached shell.
	resp, err := r.Fetch(context.Background(), get(t, testOrigin+"/index.html"))
	if err != nil {
		t.Fatalf("Fetch() failed: %v", err)
	}
	if got := readBody(t, resp); got != "asset /index.html" {
		t.Errorf("body = %q", got)
	}
}

func TestRegistry_UpdateRetiresPrevious(t *testing.T) {
	f := newFakeFetcher()
	installable(f)
	caches := NewMemoryCacheStorage()
	v1 := newFixtureWith(t, "v1", f, caches)
	v2 := newFixtureWith(t, "v2", f, caches)
	r := newTestRegistry(t, f)
	ctx := context.Background()

	if err := r.Register(ctx, v1.c); err != nil {
		t.Fatalf("Register(v1) failed: %v", err)
	}
	if err := r.Register(ctx, v2.c); err != nil {
		t.Fatalf("Register(v2) failed: %v", err)
	}

	if r.Active() != v2.c {
		t.Fatal("v2 not active")
	}
	if got := v1.c.State(); got != StateRedundant {
		t.Errorf("v1 State() = %v, want redundant", got)
	}
	names, _ := caches.Keys(ctx)
	for _, name := range names {
		if name == "menuboard-static-v1" || name == "menuboard-dynamic-v1" {
			t.Errorf("stale bucket %s survived activation", name)
		}
	}
}

func TestRegistry_RetiredCoordinatorLeavesBucketsDeleted(t *testing.T) {
	f := newFakeFetcher()
	installable(f)
	f.set(testOrigin+"/images/logo.png", http.StatusOK, "logo")
	caches := NewMemoryCacheStorage()
	v1 := newFixtureWith(t, "v1", f, caches)
	v2 := newFixtureWith(t, "v2", f, caches)
	r := newTestRegistry(t, f)
	ctx := context.Background()

	if err := r.Register(ctx, v1.c); err != nil {
		t.Fatalf("Register(v1) failed: %v", err)
	}
	if _, err := r.Fetch(ctx, get(t, testOrigin+"/images/logo.png")); err != nil {
		t.Fatalf("Fetch() failed: %v", err)
	}
	if err := r.Register(ctx, v2.c); err != nil {
		t.Fatalf("Register(v2) failed: %v", err)
	}

	// A request that picked up v1 before the update lands afterwards.
	for _, u := range []string{testOrigin + "/images/logo.png", testOrigin + "/index.html"} {
		resp, err := v1.c.Fetch(ctx, get(t, u))
		if err != nil {
			t.Fatalf("retired Fetch(%s) failed: %v", u, err)
		}
		readBody(t, resp)
	}
	if err := v1.c.PostMessage(ctx, Message{Type: MessageCacheMenuData, Data: []byte(`{}`)}); !errors.Is(err, ErrRedundant) {
		t.Errorf("retired PostMessage(CACHE_MENU_DATA) error = %v, want ErrRedundant", err)
	}

	for _, name := range []string{"menuboard-static-v1", "menuboard-dynamic-v1"} {
		if ok, _ := caches.Has(ctx, name); ok {
			t.Errorf("retired coordinator recreated %s", name)
		}
	}
}

func TestRegistry_SkipWaitingPromotesWaiting(t *testing.T) {
	f := newFakeFetcher()
	installable(f)
	caches := NewMemoryCacheStorage()
	v1 := newFixtureWith(t, "v1", f, caches)
	v2 := newFixtureWith(t, "v2", f, caches)
	r := newTestRegistry(t, f)
	ctx := context.Background()

	if err := r.Register(ctx, v1.c); err != nil {
		t.Fatalf("Register(v1) failed: %v", err)
	}

	// Leave v2 installed but waiting, as a coordinator that did not ask to
	// skip waiting would be.
	if err := v2.c.Install(ctx); err != nil {
		t.Fatalf("Install(v2) failed: %v", err)
	}
	v2.c.mu.Lock()
	v2.c.skipWaiting = false
	v2.c.mu.Unlock()
	r.mu.Lock()
	r.waiting = v2.c
	r.mu.Unlock()

	if r.Waiting() != v2.c || r.Active() != v1.c {
		t.Fatal("expected v1 active and v2 waiting")
	}
	if err := r.PostMessage(ctx, Message{Type: MessageSkipWaiting}); err != nil {
		t.Fatalf("PostMessage(SKIP_WAITING) failed: %v", err)
	}

	if r.Active() != v2.c || r.Waiting() != nil {
		t.Fatal("v2 not promoted by SKIP_WAITING")
	}
	if !v2.c.SkipWaitingRequested() {
		t.Error("v2 did not record the skip-waiting request")
	}
	if got := v2.c.State(); got != StateActive {
		t.Errorf("v2 State() = %v, want active", got)
	}
	if got := v1.c.State(); got != StateRedundant {
		t.Errorf("v1 State() = %v, want redundant", got)
	}
	if ok, _ := caches.Has(ctx, "menuboard-static-v1"); ok {
		t.Error("v1 static bucket survived promotion")
	}
}

func TestRegistry_NotificationClickMessage(t *testing.T) {
	f := newFakeFetcher()
	installable(f)
	fx := newFixtureWith(t, "v1", f, NewMemoryCacheStorage())
	r := newTestRegistry(t, f)
	ctx := context.Background()
	if err := r.Register(ctx, fx.c); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}

	for _, data := range []string{`{"action":"close"}`, `{"action":"explore"}`} {
		if err := r.PostMessage(ctx, Message{Type: MessageNotificationClick, Data: []byte(data)}); err != nil {
			t.Fatalf("PostMessage(%s) failed: %v", data, err)
		}
	}
	if err := r.PostMessage(ctx, Message{Type: MessageNotificationClick, Data: []byte(`{`)}); err == nil {
		t.Error("malformed click payload accepted")
	}

	fx.clients.mu.Lock()
	defer fx.clients.mu.Unlock()
	if len(fx.clients.windows) != 1 || fx.clients.windows[0] != "/" {
		t.Errorf("windows = %v, want [/]", fx.clients.windows)
	}
}

func TestRegistry_NoActive(t *testing.T) {
	f := newFakeFetcher()
	f.set(testOrigin+"/api/menu", http.StatusOK, "live")
	r := newTestRegistry(t, f)
	ctx := context.Background()

	resp, err := r.Fetch(ctx, get(t, testOrigin+"/api/menu"))
	if err != nil {
		t.Fatalf("Fetch() failed: %v", err)
	}
	if got := readBody(t, resp); got != "live" {
		t.Errorf("body = %q", got)
	}

	if err := r.Sync(ctx, SyncTag); !errors.Is(err, ErrNoActiveCoordinator) {
		t.Errorf("Sync() error = %v, want ErrNoActiveCoordinator", err)
	}
	if err := r.PostMessage(ctx, Message{Type: MessageCacheMenuData}); !errors.Is(err, ErrNoActiveCoordinator) {
		t.Errorf("PostMessage() error = %v, want ErrNoActiveCoordinator", err)
	}
	if err := r.PostMessage(ctx, Message{Type: MessageSkipWaiting}); err != nil {
		t.Errorf("PostMessage(SKIP_WAITING) with nothing waiting failed: %v", err)
	}
}

func TestRegistry_ServeHTTPOffline(t *testing.T) {
	var offline atomic.Bool
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if offline.Load() {
			panic(http.ErrAbortHandler)
		}
		switch r.URL.Path {
		case "/api/menu":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"items":["dal makhani"]}`)
		default:
			fmt.Fprintf(w, "page %s", r.URL.Path)
		}
	}))
	defer origin.Close()

	originURL, _ := url.Parse(origin.URL)
	c, err := New(&Config{
		Origin:   originURL,
		Manifest: testManifest("v1"),
		Fetcher:  origin.Client(),
		Logger:   log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	r := NewRegistry(originURL, origin.Client(), log.New(io.Discard, "", 0))
	defer r.Close()
	if err := r.Register(context.Background(), c); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}

	serve := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	if rec := serve("/api/menu"); rec.Body.String() != `{"items":["dal makhani"]}` {
		t.Fatalf("online /api/menu = %d %q", rec.Code, rec.Body.String())
	}

	offline.Store(true)
	if rec := serve("/api/menu"); rec.Code != http.StatusOK || rec.Body.String() != `{"items":["dal makhani"]}` {
		t.Errorf("offline /api/menu = %d %q", rec.Code, rec.Body.String())
	}
	if rec := serve("/index.html"); rec.Body.String() != "page /index.html" {
		t.Errorf("offline /index.html = %d %q", rec.Code, rec.Body.String())
	}
	if rec := serve("/api/offers"); rec.Code != http.StatusBadGateway {
		t.Errorf("offline uncached /api/offers code = %d, want 502", rec.Code)
	}
	if rec := serve("/images/none.png"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("offline uncached image code = %d, want 503", rec.Code)
	}
}
