// Package watch re-runs provisioning when the descriptor file changes.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/juju/clock"
)

const DefaultDebounce = 500 * time.Millisecond

type Watcher struct {
	path     string
	fs       *fsnotify.Watcher
	debounce time.Duration
	clock    clock.Clock
	logger   *slog.Logger
}

// New watches the directory holding path, so editors that save by
// replacing the file are still seen.
func New(path string, debounce time.Duration, clk clock.Clock, logger *slog.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	if clk == nil {
		clk = clock.WallClock
	}
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	return &Watcher{path: abs, fs: fw, debounce: debounce, clock: clk, logger: logger}, nil
}

func (w *Watcher) Close() error {
	return w.fs.Close()
}

// Run calls onChange once per burst of writes to the file. Errors from
// onChange are logged and watching continues.
func (w *Watcher) Run(ctx context.Context, onChange func(context.Context) error) error {
	defer func() { _ = w.Close() }()
	w.logger.Info("watching descriptor", "path", w.path)

	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				fire = w.clock.After(w.debounce)
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "path", w.path, "error", err)

		case <-fire:
			fire = nil
			w.logger.Info("descriptor changed, reprovisioning", "path", w.path)
			if err := onChange(ctx); err != nil {
				w.logger.Error("reprovision failed", "path", w.path, "error", err)
			}
		}
	}
}
