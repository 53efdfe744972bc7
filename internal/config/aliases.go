package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// LoadAliasFile reads a YAML alias override file: a flat map of alias to
// channel handle.
func LoadAliasFile(path string) (map[string]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read alias file: %w", err)
	}
	var m map[string]string
	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("parse alias file %s: %w", path, err)
	}
	return m, nil
}

// WatchAliasFile watches the alias file and calls apply with the new map
// on every change. The initial load happens before it returns; later
// failures are logged and the previous map stays applied. Watching stops
// when ctx is cancelled.
func WatchAliasFile(ctx context.Context, path string, logger *zap.Logger, apply func(map[string]string)) error {
	m, err := LoadAliasFile(path)
	if err != nil {
		return err
	}
	apply(m)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("alias watcher: %w", err)
	}
	// Watch the directory, not the file: editors replace files on save
	// and a file-level watch dies with the old inode.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	go func() {
		defer watcher.Close()
		target := filepath.Clean(path)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				m, err := LoadAliasFile(path)
				if err != nil {
					logger.Warn("alias file reload failed", zap.Error(err))
					continue
				}
				apply(m)
				logger.Info("alias file reloaded",
					zap.String("file", path), zap.Int("aliases", len(m)))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("alias watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}
