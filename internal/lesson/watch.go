package lesson

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDelay coalesces the bursts of events editors produce on save.
const reloadDelay = 100 * time.Millisecond

// Watch reloads c whenever a lesson file in dir changes, until ctx is done.
// c must have been created over dir. A failed reload is logged and the
// previous lessons stay in place.
func Watch(ctx context.Context, dir string, c *Catalog, logger *slog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	logger.Info("watching lessons", "dir", dir)

	var (
		timer  *time.Timer
		reload = make(chan struct{}, 1)
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isLessonFile(event.Name) || event.Op == fsnotify.Chmod {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDelay, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})
		case <-reload:
			if err := c.Reload(); err != nil {
				logger.Warn("lesson reload failed", "dir", dir, "error", err)
				continue
			}
			logger.Info("lessons reloaded", "dir", dir, "lessons", c.Len())
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("lesson watcher error", "error", err)
		}
	}
}
