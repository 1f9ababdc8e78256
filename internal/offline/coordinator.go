package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// SyncTag is the background sync tag that drains the pending-change queue.
const SyncTag = "sync-menu-changes"

// MenuDataPath is the cache key suffix for menu payloads pushed by pages.
const MenuDataPath = "/api/menu-data"

// DefaultNotificationTitle is the title of rendered push notifications.
const DefaultNotificationTitle = "Menu Update"

const defaultPushBody = "New menu updates available!"

var (
	// ErrInstallFailed is returned when pre-caching the static manifest fails.
	ErrInstallFailed = errors.New("install failed")

	// ErrNoActiveCoordinator is returned when an event needs an active coordinator.
	ErrNoActiveCoordinator = errors.New("no active coordinator")

	// ErrRedundant is returned by a coordinator that was replaced or failed.
	ErrRedundant = errors.New("coordinator is redundant")

	// ErrUnknownEvent is returned by Dispatch for an unregistered event kind.
	ErrUnknownEvent = errors.New("unknown event kind")
)

// Fetcher performs network requests. *http.Client satisfies it.
type Fetcher interface {
	Do(req *http.Request) (*http.Response, error)
}

// State is a coordinator lifecycle state.
type State int

const (
	StateParsed State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActive
	StateRedundant
)

func (s State) String() string {
	switch s {
	case StateParsed:
		return "parsed"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActive:
		return "active"
	case StateRedundant:
		return "redundant"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// EventKind selects a handler in the dispatch table.
type EventKind string

const (
	EventInstall           EventKind = "install"
	EventActivate          EventKind = "activate"
	EventFetch             EventKind = "fetch"
	EventMessage           EventKind = "message"
	EventSync              EventKind = "sync"
	EventPush              EventKind = "push"
	EventNotificationClick EventKind = "notificationclick"
)

// Event is one input to the coordinator. Which fields are read depends on
// Kind; Response is filled in by fetch handling.
type Event struct {
	Kind EventKind

	// Request is the intercepted request (fetch).
	Request *http.Request

	// Response is the result of a fetch event.
	Response *http.Response

	// Message is the inbound control message (message).
	Message Message

	// Tag is the background sync tag (sync).
	Tag string

	// Data is the push payload (push).
	Data []byte

	// Action is the clicked notification action (notificationclick).
	Action string
}

type handlerFunc func(ctx context.Context, ev *Event) error

// Config holds Coordinator configuration.
type Config struct {
	// Origin resolves root-relative manifest entries and cache keys.
	Origin *url.URL

	// Names overrides the bucket names (default: derived from Manifest.Version).
	Names Names

	// Manifest lists static and dynamic resources (default: DefaultManifest).
	Manifest *Manifest

	// Fetcher performs network requests (default: http.DefaultClient).
	Fetcher Fetcher

	// Caches holds the buckets (default: in-memory).
	Caches CacheStorage

	// Queue holds pending offline changes (default: in-memory).
	Queue PendingQueue

	// Sync forwards pending changes (default: logs and succeeds).
	Sync SyncFunc

	// Clients are the controlled page contexts (default: NopClients).
	Clients Clients

	// Notifier shows push notifications (default: NopClients).
	Notifier Notifier

	// NotificationTitle is the push notification title.
	NotificationTitle string

	// Logger for lifecycle messages and warnings.
	Logger *log.Logger
}

// DefaultConfig returns a configuration for origin with in-memory storage.
func DefaultConfig(origin *url.URL) *Config {
	m := DefaultManifest()
	return &Config{
		Origin:            origin,
		Names:             NewNames(DefaultCachePrefix, m.Version),
		Manifest:          m,
		Fetcher:           http.DefaultClient,
		Caches:            NewMemoryCacheStorage(),
		Queue:             NewMemoryQueue(),
		Clients:           NopClients{},
		Notifier:          NopClients{},
		NotificationTitle: DefaultNotificationTitle,
		Logger:            log.New(os.Stderr, "[offline] ", log.LstdFlags),
	}
}

// Coordinator intercepts requests for one cache version.
type Coordinator struct {
	origin   *url.URL
	names    Names
	manifest *Manifest
	fetcher  Fetcher
	caches   CacheStorage
	queue    PendingQueue
	syncFn   SyncFunc
	clients  Clients
	notifier Notifier
	title    string
	logger   *log.Logger

	handlers map[EventKind]handlerFunc

	mu          sync.Mutex
	state       State
	skipWaiting bool

	// life is held shared by cache-touching work and exclusively by Close.
	life sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a coordinator in the parsed state.
func New(config *Config) (*Coordinator, error) {
	if config == nil || config.Origin == nil {
		return nil, fmt.Errorf("origin is required")
	}
	if !config.Origin.IsAbs() {
		return nil, fmt.Errorf("origin must be absolute: %s", config.Origin)
	}

	manifest := config.Manifest
	if manifest == nil {
		manifest = DefaultManifest()
	}
	names := config.Names
	if names.Static == "" || names.Dynamic == "" {
		names = NewNames(DefaultCachePrefix, manifest.Version)
	}
	logger := config.Logger
	if logger == nil {
		logger = log.Default()
	}

	c := &Coordinator{
		origin:   config.Origin,
		names:    names,
		manifest: manifest,
		fetcher:  config.Fetcher,
		caches:   config.Caches,
		queue:    config.Queue,
		syncFn:   config.Sync,
		clients:  config.Clients,
		notifier: config.Notifier,
		title:    config.NotificationTitle,
		logger:   logger,
	}
	if c.fetcher == nil {
		c.fetcher = http.DefaultClient
	}
	if c.caches == nil {
		c.caches = NewMemoryCacheStorage()
	}
	if c.queue == nil {
		c.queue = NewMemoryQueue()
	}
	if c.syncFn == nil {
		c.syncFn = c.logSync
	}
	if c.clients == nil {
		c.clients = NopClients{}
	}
	if c.notifier == nil {
		c.notifier = NopClients{}
	}
	if c.title == "" {
		c.title = DefaultNotificationTitle
	}

	c.handlers = map[EventKind]handlerFunc{
		EventInstall:  func(ctx context.Context, _ *Event) error { return c.Install(ctx) },
		EventActivate: func(ctx context.Context, _ *Event) error { return c.Activate(ctx) },
		EventFetch: func(ctx context.Context, ev *Event) error {
			if ev.Request == nil {
				return fmt.Errorf("fetch event without request")
			}
			resp, err := c.Fetch(ctx, ev.Request)
			ev.Response = resp
			return err
		},
		EventMessage:           func(ctx context.Context, ev *Event) error { return c.PostMessage(ctx, ev.Message) },
		EventSync:              func(ctx context.Context, ev *Event) error { return c.Sync(ctx, ev.Tag) },
		EventPush:              func(ctx context.Context, ev *Event) error { return c.Push(ctx, ev.Data) },
		EventNotificationClick: func(ctx context.Context, ev *Event) error { return c.NotificationClick(ctx, ev.Action) },
	}

	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c, nil
}

// Names returns the bucket names of this coordinator's version.
func (c *Coordinator) Names() Names {
	return c.names
}

// Version returns the manifest version tag.
func (c *Coordinator) Version() string {
	return c.manifest.Version
}

// Caches returns the cache storage.
func (c *Coordinator) Caches() CacheStorage {
	return c.caches
}

// State returns the lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SkipWaitingRequested reports whether the coordinator asked to be
// activated without waiting for the previous version's pages to close.
func (c *Coordinator) SkipWaitingRequested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.skipWaiting
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Dispatch routes ev through the dispatch table. A panicking handler is
// turned into an error.
func (c *Coordinator) Dispatch(ctx context.Context, ev *Event) (err error) {
	h, ok := c.handlers[ev.Kind]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEvent, ev.Kind)
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Printf("Warning: %s handler panicked: %v", ev.Kind, r)
			err = fmt.Errorf("%s handler panicked: %v", ev.Kind, r)
		}
	}()
	return h(ctx, ev)
}

// Install pre-caches every static manifest entry. All entries are fetched
// before any is stored; a single failure fails the install and leaves the
// static bucket untouched.
func (c *Coordinator) Install(ctx context.Context) error {
	if c.State() == StateRedundant {
		return ErrRedundant
	}
	c.setState(StateInstalling)

	if err := c.precache(ctx); err != nil {
		c.setState(StateRedundant)
		c.logger.Printf("Warning: install of %s failed: %v", c.names.Static, err)
		return fmt.Errorf("%w: %w", ErrInstallFailed, err)
	}

	c.mu.Lock()
	c.state = StateInstalled
	c.skipWaiting = true
	c.mu.Unlock()
	c.logger.Printf("Installed %s (%d entries)", c.names.Static, len(c.manifest.Static))
	return nil
}

func (c *Coordinator) precache(ctx context.Context) error {
	urls, err := c.manifest.StaticURLs(c.origin)
	if err != nil {
		return err
	}

	snaps := make([]*CachedResponse, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	for i, u := range urls {
		g.Go(func() error {
			req, err := http.NewRequestWithContext(gctx, http.MethodGet, u, nil)
			if err != nil {
				return fmt.Errorf("failed to build request for %s: %w", u, err)
			}
			resp, err := c.fetcher.Do(req)
			if err != nil {
				return fmt.Errorf("failed to fetch %s: %w", u, err)
			}
			defer resp.Body.Close()
			if resp.StatusCode < 200 || resp.StatusCode > 299 {
				return fmt.Errorf("failed to fetch %s: status %d", u, resp.StatusCode)
			}
			snap, err := Snapshot(resp)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", u, err)
			}
			snap.URL = u
			snaps[i] = snap
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	bucket, err := c.caches.Open(ctx, c.names.Static)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", c.names.Static, err)
	}
	for i, u := range urls {
		if err := bucket.Put(ctx, u, snaps[i]); err != nil {
			if _, derr := c.caches.Delete(ctx, c.names.Static); derr != nil {
				c.logger.Printf("Warning: failed to drop partial %s: %v", c.names.Static, derr)
			}
			return fmt.Errorf("failed to store %s: %w", u, err)
		}
	}
	return nil
}

// Activate deletes every bucket that is not the current static or dynamic
// bucket, then claims the open page contexts.
func (c *Coordinator) Activate(ctx context.Context) error {
	if c.State() == StateRedundant {
		return ErrRedundant
	}
	c.setState(StateActivating)

	names, err := c.caches.Keys(ctx)
	if err != nil {
		return fmt.Errorf("failed to list buckets: %w", err)
	}
	for _, name := range names {
		if c.names.Current(name) {
			continue
		}
		if _, err := c.caches.Delete(ctx, name); err != nil {
			return fmt.Errorf("failed to delete bucket %s: %w", name, err)
		}
		c.logger.Printf("Deleted old cache %s", name)
	}

	if err := c.clients.Claim(ctx, c.manifest.Version); err != nil {
		c.logger.Printf("Warning: failed to claim clients: %v", err)
	}
	data, _ := json.Marshal(map[string]string{"version": c.manifest.Version})
	if err := c.clients.PostAll(ctx, Message{Type: MessageControllerChanged, Data: data}); err != nil {
		c.logger.Printf("Warning: failed to notify clients: %v", err)
	}

	c.setState(StateActive)
	c.logger.Printf("Activated %s", c.manifest.Version)
	return nil
}

// Fetch handles an intercepted request. req.URL must be absolute. A closed
// coordinator no longer touches its buckets and passes requests through.
func (c *Coordinator) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	c.life.RLock()
	defer c.life.RUnlock()
	if c.State() == StateRedundant {
		return c.network(ctx, req)
	}
	if req.Method != http.MethodGet || req.URL.Scheme == "chrome-extension" {
		return c.network(ctx, req)
	}
	switch {
	case c.manifest.IsStatic(req.URL):
		return c.cacheFirst(ctx, req)
	case c.manifest.IsDynamic(req.URL):
		return c.networkFirst(ctx, req)
	default:
		return c.staleWhileRevalidate(ctx, req)
	}
}

// PostMessage handles an inbound control message from a page.
func (c *Coordinator) PostMessage(ctx context.Context, msg Message) error {
	switch msg.Type {
	case MessageSkipWaiting:
		c.mu.Lock()
		c.skipWaiting = true
		c.mu.Unlock()
		return nil

	case MessageCacheMenuData:
		return c.cacheMenuData(ctx, msg.Data)

	case MessageQueueChange:
		var change struct {
			Kind    string          `json:"kind"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal(msg.Data, &change); err != nil {
			return fmt.Errorf("invalid %s payload: %w", msg.Type, err)
		}
		if err := c.queue.Enqueue(ctx, change.Kind, change.Payload); err != nil {
			return fmt.Errorf("failed to queue change: %w", err)
		}
		return nil

	case MessageNotificationClick:
		var click NotificationClickData
		if err := json.Unmarshal(msg.Data, &click); err != nil {
			return fmt.Errorf("invalid %s payload: %w", msg.Type, err)
		}
		return c.NotificationClick(ctx, click.Action)

	default:
		c.logger.Printf("Warning: ignoring message %q", msg.Type)
		return nil
	}
}

func (c *Coordinator) cacheMenuData(ctx context.Context, data json.RawMessage) error {
	c.life.RLock()
	defer c.life.RUnlock()
	if c.State() == StateRedundant {
		return ErrRedundant
	}
	key := c.resolve(MenuDataPath)
	bucket, err := c.caches.Open(ctx, c.names.Dynamic)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", c.names.Dynamic, err)
	}
	header := make(http.Header)
	header.Set("Content-Type", "application/json")
	entry := &CachedResponse{
		URL:      key,
		Status:   http.StatusOK,
		Header:   header,
		Body:     append([]byte(nil), data...),
		StoredAt: time.Now().UTC(),
	}
	if err := bucket.Put(ctx, key, entry); err != nil {
		return fmt.Errorf("failed to cache menu data: %w", err)
	}
	if err := c.clients.PostAll(ctx, Message{Type: MessageCacheUpdated}); err != nil {
		c.logger.Printf("Warning: failed to notify clients: %v", err)
	}
	return nil
}

// Sync drains the pending-change queue for tag SyncTag. Other tags are
// ignored. The snapshot is cleared only when every change in it was
// forwarded. Changes queued meanwhile wait for the next sync.
func (c *Coordinator) Sync(ctx context.Context, tag string) error {
	if tag != SyncTag {
		return nil
	}
	changes, err := c.queue.Pending(ctx)
	if err != nil {
		return fmt.Errorf("failed to read pending changes: %w", err)
	}
	if len(changes) == 0 {
		return c.syncComplete(ctx)
	}
	for _, change := range changes {
		if err := c.syncFn(ctx, change); err != nil {
			return fmt.Errorf("failed to sync change %d: %w", change.ID, err)
		}
	}
	if err := c.queue.Clear(ctx, changes[len(changes)-1].ID); err != nil {
		return fmt.Errorf("failed to clear pending changes: %w", err)
	}
	return c.syncComplete(ctx)
}

func (c *Coordinator) syncComplete(ctx context.Context) error {
	if err := c.clients.PostAll(ctx, Message{Type: MessageSyncComplete}); err != nil {
		c.logger.Printf("Warning: failed to notify clients: %v", err)
	}
	return nil
}

func (c *Coordinator) logSync(_ context.Context, change PendingChange) error {
	c.logger.Printf("Syncing change %d (%s)", change.ID, change.Kind)
	return nil
}

// Push renders a push payload as a notification.
func (c *Coordinator) Push(ctx context.Context, data []byte) error {
	return c.notifier.ShowNotification(ctx, c.RenderNotification(data))
}

// RenderNotification builds the notification shown for a push payload.
func (c *Coordinator) RenderNotification(data []byte) Notification {
	body := string(data)
	if body == "" {
		body = defaultPushBody
	}
	return Notification{
		Title:   c.title,
		Body:    body,
		Icon:    "/icon-192x192.png",
		Badge:   "/icon-72x72.png",
		Vibrate: []int{100, 50, 100},
		Data: map[string]any{
			"dateOfArrival": time.Now().UnixMilli(),
			"primaryKey":    1,
		},
		Actions: []NotificationAction{
			{Action: "explore", Title: "View Menu", Icon: "/icon-192x192.png"},
			{Action: "close", Title: "Close", Icon: "/icon-192x192.png"},
		},
	}
}

// NotificationClick handles a click on a notification action. "explore"
// opens the root page; anything else just dismisses.
func (c *Coordinator) NotificationClick(ctx context.Context, action string) error {
	if action != "explore" {
		return nil
	}
	return c.clients.OpenWindow(ctx, "/")
}

// Wait blocks until in-flight background revalidations finish.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Close cancels background revalidations, waits for them and for in-flight
// fetches, and marks the coordinator redundant.
func (c *Coordinator) Close() error {
	c.cancel()
	c.life.Lock()
	c.setState(StateRedundant)
	c.life.Unlock()
	c.wg.Wait()
	return nil
}

func (c *Coordinator) resolve(path string) string {
	return c.origin.ResolveReference(&url.URL{Path: path}).String()
}
