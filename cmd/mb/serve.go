package main

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/menuboard/internal/clients"
	"github.com/mschirtzinger/menuboard/internal/db"
	"github.com/mschirtzinger/menuboard/internal/kvstore"
	"github.com/mschirtzinger/menuboard/internal/menu"
	"github.com/mschirtzinger/menuboard/internal/offline"
	"github.com/mschirtzinger/menuboard/internal/ui"
)

//go:embed shell
var shellFS embed.FS

// StatusKey is the key-value store key where serve publishes its status.
const StatusKey = "serve-status"

type serveStatus struct {
	Addr      string    `json:"addr"`
	Origin    string    `json:"origin"`
	Version   string    `json:"version"`
	StartedAt time.Time `json:"startedAt"`
}

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "server",
	Short:   "Serve the menu through the offline cache coordinator",
	Long: `Start the menu origin and the public listener in front of it.

The origin (server.origin_addr) serves the menu API and the app shell from
server.web_root, or a built-in shell when that directory is missing. The
public listener (server.addr) routes every request through the active offline
cache coordinator, except:

  /ws, /health          page-context WebSocket hub
  /api/admin/...        admin API, proxied straight to the origin
  POST /offline/sync    drain queued offline changes (admin)
  POST /offline/push    show a push notification on every page (admin)

Example usage:
  mb serve
  mb serve --addr :9000 --sync-interval 1m`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "public listen address (default: server.addr)")
	serveCmd.Flags().Duration("sync-interval", 30*time.Second, "background sync interval (0 disables)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	syncInterval, _ := cmd.Flags().GetDuration("sync-interval")
	logger := logs.Logger("serve")

	var cl closers
	defer func() {
		if err := cl.Close(); err != nil {
			logger.Printf("Warning: shutdown: %v", err)
		}
	}()

	database, err := openDatabase(ctx)
	if err != nil {
		return err
	}
	cl.add(database)

	store, err := openStore(ctx, database, &cl)
	if err != nil {
		return err
	}
	if err := seedAdmin(ctx, database, logger); err != nil {
		return err
	}

	originSrv, err := startOrigin(database)
	if err != nil {
		return err
	}
	cl.add(closeFunc(func() error { return shutdown(originSrv) }))

	hub := clients.NewHub(&clients.Config{Logger: logs.Logger("clients")})
	hub.Start()
	cl.add(closeFunc(func() error { hub.Stop(); return nil }))

	coord, origin, err := newCoordinator(database, hub, hub)
	if err != nil {
		return err
	}
	registry := offline.NewRegistry(origin, http.DefaultClient, logs.Logger("registry"))
	cl.add(registry)
	hub.SetHandler(registry.PostMessage)

	if err := registry.Register(ctx, coord); err != nil {
		fmt.Fprintf(os.Stderr, "%s Install of %s failed, serving from the network: %v\n",
			ui.RenderWarn("⚠"), coord.Version(), err)
	}

	status := kvstore.Open(ctx, store, StatusKey, serveStatus{})
	defer status.Close()
	status.Set(ctx, serveStatus{
		Addr:      cfg.Server.Addr,
		Origin:    origin.String(),
		Version:   activeVersion(registry),
		StartedAt: time.Now().UTC(),
	})

	publicSrv, ln, err := listen(cfg.Server.Addr, publicHandler(database, registry, hub, origin))
	if err != nil {
		return err
	}
	cl.add(closeFunc(func() error { return shutdown(publicSrv) }))
	go func() {
		if err := publicSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("Server error: %v", err)
		}
	}()

	fmt.Printf("%s menuboard listening on http://%s\n", ui.RenderPass("✓"), ln.Addr())
	fmt.Printf("   Origin:    %s\n", origin)
	fmt.Printf("   WebSocket: ws://%s/ws\n", ln.Addr())
	fmt.Printf("   Cache:     %s\n", ui.RenderAccent(activeVersion(registry)))
	fmt.Println("\nPress Ctrl+C to stop...")

	runSync(ctx, registry, syncInterval, logger)

	fmt.Println("\nShutting down...")
	return nil
}

// runSync fires background sync on the active coordinator every interval
// until ctx is done.
func runSync(ctx context.Context, registry *offline.Registry, interval time.Duration, logger *log.Logger) {
	if interval <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := registry.Sync(ctx, offline.SyncTag)
			if err != nil && !errors.Is(err, offline.ErrNoActiveCoordinator) {
				logger.Printf("Warning: background sync failed: %v", err)
			}
		}
	}
}

func activeVersion(r *offline.Registry) string {
	if c := r.Active(); c != nil {
		return c.Version()
	}
	return "none"
}

// seedAdmin creates the configured admin when the admin list is empty.
func seedAdmin(ctx context.Context, repo menu.Repository, logger *log.Logger) error {
	if cfg.Menu.AdminEmail == "" || cfg.Menu.AdminPassword == "" {
		return nil
	}
	admins, err := repo.ListAdmins(ctx)
	if err != nil {
		return err
	}
	if len(admins) > 0 {
		return nil
	}
	admin, err := menu.NewAdmin(cfg.Menu.AdminEmail, cfg.Menu.AdminPassword)
	if err != nil {
		return err
	}
	if err := repo.SaveAdmin(ctx, admin); err != nil {
		return err
	}
	logger.Printf("Seeded admin %s", admin.Email)
	return nil
}

// startOrigin serves the menu API and the app shell on server.origin_addr.
func startOrigin(database *db.DB) (*http.Server, error) {
	mux := http.NewServeMux()
	mux.Handle("/api/", menu.NewAPI(database, logs.Logger("api")))
	mux.Handle("/", http.FileServerFS(webRoot()))

	srv, ln, err := listen(cfg.Server.OriginAddr, mux)
	if err != nil {
		return nil, err
	}
	logger := logs.Logger("origin")
	go func() {
		logger.Printf("Origin listening on %s", ln.Addr())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("Server error: %v", err)
		}
	}()
	return srv, nil
}

func webRoot() fs.FS {
	if info, err := os.Stat(cfg.Server.WebRoot); err == nil && info.IsDir() {
		return os.DirFS(cfg.Server.WebRoot)
	}
	sub, _ := fs.Sub(shellFS, "shell")
	return sub
}

// publicHandler routes the public listener.
func publicHandler(repo menu.Repository, registry *offline.Registry, hub *clients.Hub, origin *url.URL) http.Handler {
	hubRoutes := hub.Routes()
	proxy := httputil.NewSingleHostReverseProxy(origin)

	mux := http.NewServeMux()
	mux.Handle("/ws", hubRoutes)
	mux.Handle("/health", hubRoutes)
	mux.Handle("/api/admin/", proxy)
	mux.Handle("POST /offline/sync", requireAdmin(repo, func(w http.ResponseWriter, r *http.Request) {
		if err := registry.Sync(r.Context(), offline.SyncTag); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	mux.Handle("POST /offline/push", requireAdmin(repo, func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 4096))
		if err != nil {
			http.Error(w, "Bad Request", http.StatusBadRequest)
			return
		}
		if err := registry.Push(r.Context(), body); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	mux.Handle("/", registry)
	return mux
}

// requireAdmin guards h with basic auth against the admin list.
func requireAdmin(repo menu.Repository, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		email, password, ok := r.BasicAuth()
		if ok {
			if _, err := menu.Authenticate(r.Context(), repo, email, password); err == nil {
				h(w, r)
				return
			}
		}
		w.Header().Set("WWW-Authenticate", `Basic realm="menuboard"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	})
}

func listen(addr string, h http.Handler) (*http.Server, net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv, ln, nil
}

func shutdown(srv *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	return nil
}
