package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const reloadDebounce = 100 * time.Millisecond

// Watch reloads path whenever it changes and passes the result to fn until
// ctx is done. Reloads that fail to load or validate are logged and skipped.
func Watch(ctx context.Context, path string, fn func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	// Editors replace files on save, so watch the directory.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch config directory: %w", err)
	}

	name := filepath.Clean(path)
	go func() {
		defer watcher.Close()

		var (
			mu       sync.Mutex
			debounce *time.Timer
		)
		reload := func() {
			cfg, err := Load(path)
			if err != nil {
				log.Warn().Err(err).Str("path", path).Msg("ignoring config change")
				return
			}
			log.Info().Str("path", path).Msg("config reloaded")
			fn(cfg)
		}

		for {
			select {
			case <-ctx.Done():
				mu.Lock()
				if debounce != nil {
					debounce.Stop()
				}
				mu.Unlock()
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != name || !event.Has(fsnotify.Write|fsnotify.Create) {
					continue
				}
				mu.Lock()
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(reloadDebounce, reload)
				mu.Unlock()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Error().Err(err).Msg("config watcher error")
			}
		}
	}()
	return nil
}
