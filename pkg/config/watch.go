package config

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/appmantle/appmantle/pkg/observability"
)

// WatchOverlay watches the YAML overlay file and applies log level changes
// at runtime. Other overlay keys require a restart. Returns a stop
// function that releases the watcher.
func WatchOverlay(path string, logger *observability.Logger) (func() error, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	// Watch the directory rather than the file: editors and config
	// managers replace the file on save, which drops a direct file watch.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	target := filepath.Clean(path)
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				overlay, err := ReadOverlay(path)
				if err != nil {
					logger.WithError(err).Warn("Failed to reload config overlay")
					continue
				}
				if overlay.LogLevel != "" {
					level := ParseLogLevel(overlay.LogLevel)
					logger.SetLevel(level)
					logger.Infof("Log level changed to %s", level)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.WithError(err).Warn("Config watcher error")
			}
		}
	}()

	return watcher.Close, nil
}
