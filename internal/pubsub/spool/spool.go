// Package spool implements pubsub.Bus over a shared spool directory.
//
// Publish writes each event as its own JSON file; every Bus watching the
// directory (in this or any other process on the host) picks the file up via
// fsnotify and dispatches it to local subscribers. Files older than the
// retention window are pruned by whichever bus sees them first.
package spool

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mschirtzinger/menuboard/internal/pubsub"
)

// Config holds spool bus configuration.
type Config struct {
	// Dir is the spool directory. It is created if missing.
	Dir string

	// Retention is how long event files are kept before pruning (default: 1m).
	Retention time.Duration

	// PruneInterval is how often the directory is swept (default: 30s).
	PruneInterval time.Duration

	// Logger for bus activity (default: stderr logger).
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults for dir.
func DefaultConfig(dir string) *Config {
	return &Config{
		Dir:           dir,
		Retention:     time.Minute,
		PruneInterval: 30 * time.Second,
		Logger:        log.New(os.Stderr, "[spool] ", log.LstdFlags),
	}
}

// Bus is a directory-backed pubsub.Bus.
type Bus struct {
	config  *Config
	watcher *fsnotify.Watcher
	disp    *pubsub.Dispatcher

	seen   map[string]time.Time // event file name -> first seen
	seenMu sync.Mutex

	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// New creates the spool directory if needed and starts watching it.
func New(config *Config) (*Bus, error) {
	if config == nil || config.Dir == "" {
		return nil, fmt.Errorf("spool dir cannot be empty")
	}
	defaults := DefaultConfig(config.Dir)
	if config.Retention <= 0 {
		config.Retention = defaults.Retention
	}
	if config.PruneInterval <= 0 {
		config.PruneInterval = defaults.PruneInterval
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	if err := os.MkdirAll(config.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create spool directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(config.Dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch spool directory %s: %w", config.Dir, err)
	}

	b := &Bus{
		config:  config,
		watcher: watcher,
		disp:    pubsub.NewDispatcher(config.Logger),
		seen:    make(map[string]time.Time),
		done:    make(chan struct{}),
		running: true,
	}

	b.wg.Add(2)
	go b.processEvents()
	go b.pruneLoop()

	return b, nil
}

// Publish implements pubsub.Bus. The event file is written under a temporary
// name and renamed into place so watchers never read a partial file.
func (b *Bus) Publish(_ context.Context, ev pubsub.Event) error {
	if !b.IsRunning() {
		return pubsub.ErrClosed
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	name, err := eventFileName()
	if err != nil {
		return err
	}
	tmp := filepath.Join(b.config.Dir, "."+name+".tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write event file: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(b.config.Dir, name)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to publish event file: %w", err)
	}
	return nil
}

// Subscribe implements pubsub.Bus.
func (b *Bus) Subscribe(topic string, h pubsub.Handler) (func(), error) {
	if !b.IsRunning() {
		return nil, pubsub.ErrClosed
	}
	return b.disp.Add(topic, h)
}

// Close stops watching and waits for the event loop to exit.
func (b *Bus) Close() error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = false
	b.mu.Unlock()

	close(b.done)
	err := b.watcher.Close()
	b.wg.Wait()
	b.disp.Close()
	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

// IsRunning returns true until Close is called.
func (b *Bus) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// processEvents converts fsnotify events for new event files into dispatches.
func (b *Bus) processEvents() {
	defer b.wg.Done()

	for {
		select {
		case <-b.done:
			return

		case event, ok := <-b.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			name := filepath.Base(event.Name)
			if !isEventFile(name) || !b.markSeen(name) {
				continue
			}
			b.deliverFile(event.Name)

		case err, ok := <-b.watcher.Errors:
			if !ok {
				return
			}
			b.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

func (b *Bus) deliverFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Pruned by a peer before we got to it.
		if !os.IsNotExist(err) {
			b.config.Logger.Printf("Warning: failed to read event file %s: %v", path, err)
		}
		return
	}

	var ev pubsub.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		b.config.Logger.Printf("Warning: dropping malformed event file %s: %v", path, err)
		return
	}
	b.disp.Dispatch(ev)
}

// markSeen records name and reports whether it is new. Create and Write can
// both fire for the same file.
func (b *Bus) markSeen(name string) bool {
	b.seenMu.Lock()
	defer b.seenMu.Unlock()
	if _, ok := b.seen[name]; ok {
		return false
	}
	b.seen[name] = time.Now()
	return true
}

func (b *Bus) pruneLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.config.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			b.prune(time.Now())
		}
	}
}

// prune removes event files and seen-set entries older than the retention window.
func (b *Bus) prune(now time.Time) {
	cutoff := now.Add(-b.config.Retention)

	entries, err := os.ReadDir(b.config.Dir)
	if err != nil {
		b.config.Logger.Printf("Warning: failed to read spool directory: %v", err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !isEventFile(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(b.config.Dir, entry.Name())); err != nil && !os.IsNotExist(err) {
			b.config.Logger.Printf("Warning: failed to prune %s: %v", entry.Name(), err)
		}
	}

	b.seenMu.Lock()
	for name, at := range b.seen {
		if at.Before(cutoff) {
			delete(b.seen, name)
		}
	}
	b.seenMu.Unlock()
}

func isEventFile(name string) bool {
	return strings.HasSuffix(name, ".json") && !strings.HasPrefix(name, ".")
}

// eventFileName returns a name that sorts by publish time and is unique
// across processes.
func eventFileName() (string, error) {
	var buf [6]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("failed to generate event id: %w", err)
	}
	return fmt.Sprintf("%020d-%s.json", time.Now().UnixNano(), hex.EncodeToString(buf[:])), nil
}
