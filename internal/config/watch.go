package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mj1618/droid-order/internal/ctxlog"
)

// reloadDebounce coalesces the burst of events editors emit on save.
const reloadDebounce = 200 * time.Millisecond

// Watch reloads path whenever it changes and hands the new configuration to
// onChange. Invalid edits are logged and ignored; the previous configuration
// stays in effect. Watch blocks until ctx is done.
//
// The parent directory is watched rather than the file, since editors
// commonly replace the file instead of writing it in place.
func Watch(ctx context.Context, path string, onChange func(Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	log := ctxlog.FromContext(ctx)
	var pending <-chan time.Time
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
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				log.Debug("config file event", "op", event.Op.String(), "file", event.Name)
				pending = time.After(reloadDebounce)
			}
		case <-pending:
			pending = nil
			cfg, err := Load(path)
			if err != nil {
				log.Error("config reload failed, keeping previous", "error", err)
				continue
			}
			log.Info("config reloaded", "file", path)
			onChange(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error("fsnotify error", "error", err)
		}
	}
}
