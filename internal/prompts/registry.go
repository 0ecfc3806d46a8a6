package prompts

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/lawbranch/geogate/internal/config"
)

var (
	// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
	ErrWatcherFailed = errors.New("failed to initialize prompt watcher")
)

// debounceDelay coalesces bursts of filesystem events (editors write
// template files several times per save) into a single reload.
const debounceDelay = 200 * time.Millisecond

// Registry holds the active prompt template for every pipeline stage.
//
// Templates start from built-in defaults. When a prompts directory is
// configured, files named after each stage (screening.tmpl, research.tmpl,
// ...) override the defaults; Reload re-reads them, and the optional
// watcher calls Reload whenever an override file changes. The learning
// stage also triggers Reload after applying memory updates so freshly
// seeded templates take effect without a restart.
type Registry struct {
	mu        sync.RWMutex
	dir       string
	templates map[Stage]string
	subs      []func()

	logger  *zap.Logger
	watcher *fsnotify.Watcher
	stop    chan struct{}
}

// NewRegistry builds a registry from configuration and performs an
// initial load of any override files.
func NewRegistry(cfg config.PromptsConfig, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Registry{
		dir:       cfg.Dir,
		templates: defaultTemplates(),
		logger:    logger,
		stop:      make(chan struct{}),
	}

	if err := r.Reload(); err != nil {
		return nil, err
	}

	return r, nil
}

// Template returns the active template text for a stage. Unknown stages
// return the empty string.
func (r *Registry) Template(stage Stage) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.templates[stage]
}

// Subscribe registers a callback invoked after every successful Reload.
// Callbacks run synchronously on the reloading goroutine.
func (r *Registry) Subscribe(fn func()) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.subs = append(r.subs, fn)
	r.mu.Unlock()
}

// Reload re-reads the override directory and swaps in a fresh template
// set. Stages without an override file keep their built-in default. A
// read failure leaves the previous set untouched.
func (r *Registry) Reload() error {
	next := defaultTemplates()

	if r.dir != "" {
		for stage, name := range overrideFiles {
			path := filepath.Join(r.dir, name)
			data, err := os.ReadFile(path)
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					continue
				}
				return fmt.Errorf("reading prompt override %s: %w", path, err)
			}
			if len(data) == 0 {
				r.logger.Warn("ignoring empty prompt override", zap.String("path", path))
				continue
			}
			next[stage] = string(data)
			r.logger.Debug("loaded prompt override",
				zap.String("stage", string(stage)),
				zap.String("path", path))
		}
	}

	r.mu.Lock()
	r.templates = next
	subs := make([]func(), len(r.subs))
	copy(subs, r.subs)
	r.mu.Unlock()

	for _, fn := range subs {
		fn()
	}

	return nil
}

// Start begins watching the override directory for template edits.
//
// A missing or unconfigured directory disables the watcher without error:
// the registry keeps serving whatever Reload last produced. Call Stop to
// clean up resources.
func (r *Registry) Start(ctx context.Context) error {
	if r.dir == "" {
		return nil
	}

	if _, err := os.Stat(r.dir); err != nil {
		if os.IsNotExist(err) {
			r.logger.Debug("prompt override directory absent, watcher disabled",
				zap.String("dir", r.dir))
			return nil
		}
		return fmt.Errorf("stat prompts dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}

	if err := watcher.Add(r.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watching prompts dir: %w", err)
	}

	r.watcher = watcher
	go r.processEvents(ctx)

	return nil
}

// Stop stops the watcher and cleans up resources.
func (r *Registry) Stop() {
	select {
	case <-r.stop:
		// Already stopped
		return
	default:
		close(r.stop)
		if r.watcher != nil {
			_ = r.watcher.Close() // Best-effort cleanup, ignore error
		}
	}
}

// processEvents reacts to override-file writes with a debounced Reload.
func (r *Registry) processEvents(ctx context.Context) {
	var pending <-chan time.Time

	for {
		select {
		case <-r.stop:
			return
		case <-ctx.Done():
			return
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Ext(event.Name) != ".tmpl" {
				continue
			}
			pending = time.After(debounceDelay)
		case <-pending:
			pending = nil
			if err := r.Reload(); err != nil {
				r.logger.Warn("prompt reload failed", zap.Error(err))
			} else {
				r.logger.Info("prompt templates reloaded", zap.String("dir", r.dir))
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warn("prompt watcher error", zap.Error(err))
		}
	}
}
