package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// configReloadDebounce collapses the write/rename bursts editors produce on save.
const configReloadDebounce = 100 * time.Millisecond

// configWatcher reloads the config file when it changes on disk.
type configWatcher struct {
	path string

	// load reads, overrides and validates the config.
	load func() (Config, error)

	// apply live-applies a valid config.
	apply func(Config)

	metrics *Metrics
	logger  *slog.Logger
}

// run watches the config file's directory (editors replace files rather than
// writing in place) until ctx is canceled.
func (w *configWatcher) run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer fw.Close()

	target := filepath.Clean(ExpandPath(w.path))
	if err := fw.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	w.logger.Info("watching config file", "path", target)

	var debounce *time.Timer
	var debounceCh <-chan time.Time
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(configReloadDebounce)
			} else {
				if !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
				debounce.Reset(configReloadDebounce)
			}
			debounceCh = debounce.C

		case <-debounceCh:
			debounceCh = nil
			w.reload()

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}

// reload applies the file if it is valid. Invalid files are logged and the
// running config is kept.
func (w *configWatcher) reload() {
	cfg, err := w.load()
	if err != nil {
		w.metrics.ObserveConfigReload("error")
		w.logger.Warn("config reload rejected", "path", w.path, "error", err)
		return
	}

	w.apply(cfg)
	w.metrics.ObserveConfigReload("ok")
	w.logger.Info("config reloaded", "path", w.path)
}
