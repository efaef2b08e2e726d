package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches the config file named by a prior Load and re-runs Load on
// every write, handing the caller a fresh Config. Editors commonly replace a
// file instead of writing it in place, so Watcher watches the containing
// directory and filters events down to the one file, the same approach the
// pack's policy-file watchers use.
type Watcher struct {
	path     string
	args     []string
	log      *slog.Logger
	debounce time.Duration
}

// NewWatcher builds a Watcher for the file Load read cfg from (cfg.ConfigPath),
// replaying the original args on every reload so flag/env precedence still
// applies. Returns nil if cfg was never sourced from a file on disk.
func NewWatcher(cfg *Config, args []string, log *slog.Logger) *Watcher {
	if cfg.ConfigPath == "" {
		return nil
	}
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{path: cfg.ConfigPath, args: args, log: log, debounce: 150 * time.Millisecond}
}

// Watch blocks until ctx is cancelled, calling onReload with every
// successfully re-loaded Config. A reload that fails to parse is logged and
// skipped, leaving the previous Config in effect.
func (w *Watcher) Watch(ctx context.Context, onReload func(*Config)) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		return err
	}

	var timer *time.Timer
	fire := func() {
		cfg, err := Load(w.args)
		if err != nil {
			w.log.Error("config reload failed, keeping previous config", "path", w.path, "error", err)
			return
		}
		w.log.Info("config reloaded", "path", w.path)
		onReload(cfg)
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, fire)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Error("config watcher error", "error", err)
		}
	}
}
