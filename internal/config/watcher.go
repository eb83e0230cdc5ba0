package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/roelfdiedericks/wabridge/internal/logging"
)

// Watch re-reads the config file whenever it changes and hands the new config to
// onChange. Only settings that are safe to swap at runtime should be applied by the
// callback. Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	if path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Editors replace files via rename, so watch the directory
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}
	logging.L_debug("config: watching", "path", path)

	target := filepath.Clean(path)
	var debounce <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				debounce = time.After(200 * time.Millisecond)
			}

		case <-debounce:
			debounce = nil
			if !fileExists(path) {
				continue
			}
			cfg, _, err := Load(path)
			if err != nil {
				logging.L_warn("config: reload failed, keeping previous config", "path", path, "error", err)
				continue
			}
			logging.L_info("config: reloaded", "path", path)
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.L_warn("config: watcher error", "error", err)
		}
	}
}
