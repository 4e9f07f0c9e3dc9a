package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mattjoyce/relay/internal/log"
)

const watchDebounce = 100 * time.Millisecond

// Watch reloads the config at path after it changes and hands each valid
// result to onChange. Invalid edits are logged and skipped. The parent
// directory is watched so editors that replace the file are seen. Watch
// blocks until ctx is done.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve config path %q: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		return fmt.Errorf("fsnotify: watch %s: %w", filepath.Dir(absPath), err)
	}

	logger := log.WithComponent("config")
	debounce := time.NewTimer(0)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != absPath {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			debounce.Reset(watchDebounce)
		case <-debounce.C:
			cfg, err := Load(absPath)
			if err != nil {
				logger.Warn("Ignoring config change", "path", absPath, "error", err)
				continue
			}
			logger.Info("Config reloaded", "path", absPath)
			onChange(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("fsnotify watcher error", "error", err)
		}
	}
}
