// Package clients provides the WebSocket hub of page contexts controlled by
// the offline coordinator.
//
// Each connected page is one client. The hub implements offline.Clients and
// offline.Notifier: coordinator broadcasts (CONTROLLER_CHANGED, CACHE_UPDATED,
// SYNC_COMPLETE) and rendered notifications fan out to every page, and
// messages sent by pages (SKIP_WAITING, CACHE_MENU_DATA, QUEUE_CHANGE) are
// handed to a Handler, normally offline.Registry.PostMessage.
package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/mschirtzinger/menuboard/internal/offline"
)

// Frame is the envelope written to pages.
type Frame struct {
	Type      offline.MessageType `json:"type"`
	Timestamp time.Time           `json:"timestamp"`
	Data      json.RawMessage     `json:"data,omitempty"`
}

// Handler receives a message sent by a page.
type Handler func(ctx context.Context, msg offline.Message) error

// Config holds hub configuration
type Config struct {
	// Handler for inbound page messages (default: log and drop)
	Handler Handler

	// Buffer is the broadcast queue length (default: 100)
	Buffer int

	// OriginPatterns accepted on upgrade (default: any origin)
	OriginPatterns []string

	// Logger for hub activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Buffer:         100,
		OriginPatterns: []string{"*"},
		Logger:         log.Default(),
	}
}

// Hub manages page connections and broadcasts coordinator messages.
type Hub struct {
	handlerMu      sync.RWMutex
	handler        Handler
	originPatterns []string
	logger         *log.Logger

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Frame

	versionMu sync.RWMutex
	version   string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

var (
	_ offline.Clients  = (*Hub)(nil)
	_ offline.Notifier = (*Hub)(nil)
)

// NewHub creates a hub. Call Start before serving connections.
func NewHub(config *Config) *Hub {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}
	if config.Buffer <= 0 {
		config.Buffer = 100
	}
	if len(config.OriginPatterns) == 0 {
		config.OriginPatterns = []string{"*"}
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		handler:        config.Handler,
		originPatterns: config.OriginPatterns,
		logger:         config.Logger,
		clients:        make(map[*websocket.Conn]bool),
		broadcast:      make(chan Frame, config.Buffer),
		ctx:            ctx,
		cancel:         cancel,
	}
	if h.handler == nil {
		h.handler = h.dropMessage
	}
	return h
}

// SetHandler replaces the inbound message handler. The registry that
// handles page messages usually needs the hub first, so it is wired late.
func (h *Hub) SetHandler(fn Handler) {
	if fn == nil {
		return
	}
	h.handlerMu.Lock()
	h.handler = fn
	h.handlerMu.Unlock()
}

// Start launches the broadcast loop.
func (h *Hub) Start() {
	h.startOnce.Do(func() {
		h.wg.Add(1)
		go h.broadcastLoop()
	})
}

// Stop disconnects every page and waits for the hub goroutines.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		h.cancel()

		h.clientsMu.Lock()
		for conn := range h.clients {
			_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
			delete(h.clients, conn)
		}
		h.clientsMu.Unlock()

		h.wg.Wait()
	})
}

// Routes returns the hub's HTTP endpoints: /ws and /health.
func (h *Hub) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.handleWebSocket)
	mux.HandleFunc("/health", h.handleHealth)
	return mux
}

// Version returns the coordinator version that last claimed the pages.
func (h *Hub) Version() string {
	h.versionMu.RLock()
	defer h.versionMu.RUnlock()
	return h.version
}

// ClientCount returns the current number of connected pages.
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// Claim implements offline.Clients. Pages connecting afterwards are greeted
// with the claiming version.
func (h *Hub) Claim(_ context.Context, version string) error {
	h.versionMu.Lock()
	h.version = version
	h.versionMu.Unlock()
	h.logger.Printf("Claimed %d page(s) for %s", h.ClientCount(), version)
	return nil
}

// PostAll implements offline.Clients.
func (h *Hub) PostAll(_ context.Context, msg offline.Message) error {
	return h.Broadcast(Frame{Type: msg.Type, Data: msg.Data})
}

// OpenWindow implements offline.Clients.
func (h *Hub) OpenWindow(_ context.Context, url string) error {
	data, err := json.Marshal(map[string]string{"url": url})
	if err != nil {
		return fmt.Errorf("failed to marshal window request: %w", err)
	}
	return h.Broadcast(Frame{Type: offline.MessageOpenWindow, Data: data})
}

// ShowNotification implements offline.Notifier.
func (h *Hub) ShowNotification(_ context.Context, n offline.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	return h.Broadcast(Frame{Type: offline.MessageNotification, Data: data})
}

// Broadcast queues f for every connected page. It fails when the hub is
// stopped and drops f when the queue is full.
func (h *Hub) Broadcast(f Frame) error {
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now()
	}
	select {
	case <-h.ctx.Done():
		return fmt.Errorf("failed to broadcast %s: hub stopped", f.Type)
	default:
	}
	select {
	case h.broadcast <- f:
		return nil
	case <-h.ctx.Done():
		return fmt.Errorf("failed to broadcast %s: hub stopped", f.Type)
	default:
		h.logger.Printf("Warning: broadcast queue full, dropping %s", f.Type)
		return nil
	}
}

func (h *Hub) broadcastLoop() {
	defer h.wg.Done()

	for {
		select {
		case <-h.ctx.Done():
			return

		case f := <-h.broadcast:
			data, err := json.Marshal(f)
			if err != nil {
				h.logger.Printf("Failed to marshal frame: %v", err)
				continue
			}

			h.clientsMu.RLock()
			conns := make([]*websocket.Conn, 0, len(h.clients))
			for conn := range h.clients {
				conns = append(conns, conn)
			}
			h.clientsMu.RUnlock()

			for _, conn := range conns {
				if err := h.write(conn, data); err != nil {
					h.logger.Printf("Failed to send to page: %v", err)
					h.removeClient(conn)
				}
			}
		}
	}
}

func (h *Hub) write(conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(h.ctx, 5*time.Second)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	h.clientsMu.Lock()
	if h.ctx.Err() != nil {
		h.clientsMu.Unlock()
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		return
	}
	h.clients[conn] = true
	count := len(h.clients)
	h.wg.Add(1)
	h.clientsMu.Unlock()

	h.logger.Printf("Page connected (total: %d)", count)
	go h.readLoop(conn)

	hello, _ := json.Marshal(map[string]string{"version": h.Version()})
	welcome, _ := json.Marshal(Frame{
		Type:      offline.MessageControllerChanged,
		Timestamp: time.Now(),
		Data:      hello,
	})
	if err := h.write(conn, welcome); err != nil {
		h.removeClient(conn)
	}
}

// readLoop hands page messages to the handler until the page disconnects.
func (h *Hub) readLoop(conn *websocket.Conn) {
	defer h.wg.Done()
	defer h.removeClient(conn)

	for {
		typ, data, err := conn.Read(h.ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		var msg offline.Message
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
			h.logger.Printf("Warning: ignoring malformed page message: %s", data)
			continue
		}
		h.handlerMu.RLock()
		handle := h.handler
		h.handlerMu.RUnlock()
		if err := handle(h.ctx, msg); err != nil {
			h.logger.Printf("Warning: page message %s failed: %v", msg.Type, err)
		}
	}
}

func (h *Hub) removeClient(conn *websocket.Conn) {
	h.clientsMu.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		count := len(h.clients)
		h.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		h.logger.Printf("Page disconnected (total: %d)", count)
	} else {
		h.clientsMu.Unlock()
	}
}

func (h *Hub) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": h.ClientCount(),
		"version": h.Version(),
	})
}

func (h *Hub) dropMessage(_ context.Context, msg offline.Message) error {
	h.logger.Printf("No handler for page message %s", msg.Type)
	return nil
}
