package connectivity

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ManualSource is driven by explicit Set calls: tests, the CLI, or a host
// platform that pushes its own connectivity callbacks.
type ManualSource struct {
	mu      sync.Mutex
	online  bool
	changes chan bool
}

// NewManualSource creates a source whose first report is initial.
func NewManualSource(initial bool) *ManualSource {
	return &ManualSource{online: initial, changes: make(chan bool, 64)}
}

// Set records a new observation. It never blocks; if the buffer is full
// the oldest pending observation is dropped, since only the latest matters.
func (s *ManualSource) Set(online bool) {
	s.mu.Lock()
	s.online = online
	s.mu.Unlock()

	for {
		select {
		case s.changes <- online:
			return
		default:
		}
		select {
		case <-s.changes:
		default:
		}
	}
}

// Run reports the current state, then every Set, until ctx is done.
func (s *ManualSource) Run(ctx context.Context, report func(bool)) error {
	s.mu.Lock()
	initial := s.online
	s.mu.Unlock()
	report(initial)

	for {
		select {
		case <-ctx.Done():
			return nil
		case online := <-s.changes:
			report(online)
		}
	}
}

// ProbeSource checks reachability by opening a TCP connection to Addr every
// Interval.
type ProbeSource struct {
	Addr     string
	Interval time.Duration
	Timeout  time.Duration
	Dialer   func(ctx context.Context, network, addr string) (net.Conn, error)
}

// Run probes immediately, then on every tick, until ctx is done.
func (p *ProbeSource) Run(ctx context.Context, report func(bool)) error {
	if p.Addr == "" {
		return errors.New("probe source: address is required")
	}
	interval := p.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	report(p.probe(ctx))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			report(p.probe(ctx))
		}
	}
}

func (p *ProbeSource) probe(ctx context.Context) bool {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dial := p.Dialer
	if dial == nil {
		var d net.Dialer
		dial = d.DialContext
	}
	conn, err := dial(ctx, "tcp", p.Addr)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// FileSource reads connectivity from a small state file that a platform
// network hook rewrites on change. The file holds "online" or "offline"
// (also accepted: "1"/"0", "up"/"down"). A missing file means offline.
type FileSource struct {
	Path string
}

// Run reports the file's state now and after every change to it.
func (f *FileSource) Run(ctx context.Context, report func(bool)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory so atomic rename-into-place updates are seen.
	dir := filepath.Dir(f.Path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}

	report(f.read())

	target := filepath.Clean(f.Path)
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				report(f.read())
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch %s: %w", f.Path, err)
		}
	}
}

func (f *FileSource) read() bool {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return false
	}
	online, _ := ParseState(string(data))
	return online
}

// ParseState interprets a state file body. ok is false for unrecognized
// content, which is treated as offline.
func ParseState(s string) (online, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "online", "1", "up", "true":
		return true, true
	case "offline", "0", "down", "false":
		return false, true
	}
	return false, false
}
