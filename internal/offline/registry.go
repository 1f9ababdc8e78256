package offline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sync"
)

// Registry holds the active coordinator and at most one waiting update,
// and fronts the origin as an http.Handler.
type Registry struct {
	origin  *url.URL
	fetcher Fetcher
	logger  *log.Logger

	mu      sync.Mutex
	active  *Coordinator
	waiting *Coordinator
}

// NewRegistry creates an empty registry. Requests pass straight to the
// network until a coordinator is active.
func NewRegistry(origin *url.URL, fetcher Fetcher, logger *log.Logger) *Registry {
	if fetcher == nil {
		fetcher = http.DefaultClient
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Registry{origin: origin, fetcher: fetcher, logger: logger}
}

// Active returns the active coordinator, or nil.
func (r *Registry) Active() *Coordinator {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Waiting returns the installed coordinator waiting to activate, or nil.
func (r *Registry) Waiting() *Coordinator {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.waiting
}

// Register installs c. On failure c becomes redundant and the previous
// active coordinator keeps serving. On success c activates at once when it
// requested skip-waiting or nothing is active yet; otherwise it waits for
// a SKIP_WAITING message.
func (r *Registry) Register(ctx context.Context, c *Coordinator) error {
	if err := c.Dispatch(ctx, &Event{Kind: EventInstall}); err != nil {
		_ = c.Close()
		return err
	}

	r.mu.Lock()
	prev := r.waiting
	r.waiting = c
	promote := r.active == nil || c.SkipWaitingRequested()
	r.mu.Unlock()

	if prev != nil && prev != c {
		_ = prev.Close()
	}
	if !promote {
		return nil
	}
	return r.promote(ctx)
}

// promote makes the waiting coordinator active, retires the previous one and
// then activates the new one. The previous coordinator is closed before
// activation deletes its buckets, so it cannot recreate them.
func (r *Registry) promote(ctx context.Context) error {
	r.mu.Lock()
	next := r.waiting
	if next == nil {
		r.mu.Unlock()
		return nil
	}
	old := r.active
	r.active = next
	r.waiting = nil
	r.mu.Unlock()

	if old != nil && old != next {
		_ = old.Close()
	}
	if err := next.Dispatch(ctx, &Event{Kind: EventActivate}); err != nil {
		r.logger.Printf("Warning: activation of %s failed: %v", next.Version(), err)
		return fmt.Errorf("failed to activate %s: %w", next.Version(), err)
	}
	return nil
}

// Fetch handles req through the active coordinator, or the network when
// none is active.
func (r *Registry) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	c := r.Active()
	if c == nil {
		return r.fetcher.Do(req.Clone(ctx))
	}
	ev := &Event{Kind: EventFetch, Request: req}
	if err := c.Dispatch(ctx, ev); err != nil {
		return nil, err
	}
	return ev.Response, nil
}

// PostMessage routes a page message. SKIP_WAITING promotes the waiting
// coordinator, NOTIFICATION_CLICK becomes a notification click event and
// everything else goes to the active coordinator.
func (r *Registry) PostMessage(ctx context.Context, msg Message) error {
	switch msg.Type {
	case MessageNotificationClick:
		var click NotificationClickData
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &click); err != nil {
				return fmt.Errorf("invalid %s payload: %w", msg.Type, err)
			}
		}
		return r.NotificationClick(ctx, click.Action)
	case MessageSkipWaiting:
		w := r.Waiting()
		if w == nil {
			return nil
		}
		if err := w.Dispatch(ctx, &Event{Kind: EventMessage, Message: msg}); err != nil {
			return err
		}
		return r.promote(ctx)
	default:
		return r.dispatchActive(ctx, &Event{Kind: EventMessage, Message: msg})
	}
}

// Sync fires a background sync event on the active coordinator.
func (r *Registry) Sync(ctx context.Context, tag string) error {
	return r.dispatchActive(ctx, &Event{Kind: EventSync, Tag: tag})
}

// Push delivers a push payload to the active coordinator.
func (r *Registry) Push(ctx context.Context, data []byte) error {
	return r.dispatchActive(ctx, &Event{Kind: EventPush, Data: data})
}

// NotificationClick delivers a notification action to the active coordinator.
func (r *Registry) NotificationClick(ctx context.Context, action string) error {
	return r.dispatchActive(ctx, &Event{Kind: EventNotificationClick, Action: action})
}

func (r *Registry) dispatchActive(ctx context.Context, ev *Event) error {
	c := r.Active()
	if c == nil {
		return ErrNoActiveCoordinator
	}
	return c.Dispatch(ctx, ev)
}

// ServeHTTP proxies r to the origin through the active coordinator.
func (r *Registry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	target := r.origin.ResolveReference(&url.URL{Path: req.URL.Path, RawQuery: req.URL.RawQuery})
	out, err := http.NewRequestWithContext(req.Context(), req.Method, target.String(), req.Body)
	if err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	out.Header = req.Header.Clone()

	resp, err := r.Fetch(req.Context(), out)
	if err != nil {
		r.logger.Printf("Warning: %s %s failed: %v", req.Method, target, err)
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		r.logger.Printf("Warning: failed to write response for %s: %v", target, err)
	}
}

// Close shuts down the active and waiting coordinators.
func (r *Registry) Close() error {
	r.mu.Lock()
	active, waiting := r.active, r.waiting
	r.active, r.waiting = nil, nil
	r.mu.Unlock()

	if waiting != nil {
		_ = waiting.Close()
	}
	if active != nil {
		_ = active.Close()
	}
	return nil
}
