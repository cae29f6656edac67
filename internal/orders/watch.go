package orders

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

type Logger interface {
	Printf(format string, args ...any)
}

// WatchSchema reloads v whenever the schema file at path is written or
// replaced. It blocks until ctx is done. The parent directory is watched so
// that editors which save by rename are still picked up.
func WatchSchema(ctx context.Context, path string, v *Validator, logger Logger) error {
	if path == "" || v == nil {
		return fmt.Errorf("schema path and validator are required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create schema watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch schema directory: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := v.Reload(abs); err != nil {
				logf(logger, "order schema reload failed, keeping previous schema: %v", err)
				continue
			}
			logf(logger, "order schema reloaded from %s", abs)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logf(logger, "order schema watcher error: %v", err)
		}
	}
}

func logf(logger Logger, format string, args ...any) {
	if logger == nil {
		return
	}
	logger.Printf(format, args...)
}
