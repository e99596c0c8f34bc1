package mapping

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher rebuilds the snapshot shortly after the source CSV changes on disk, so the
// request path normally finds a fresh snapshot. Request-time freshness checks still
// apply; the watcher only moves the rebuild off the request path.
type Watcher struct {
	cache    *Cache
	fsw      *fsnotify.Watcher
	debounce time.Duration
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Watch starts watching the directory holding the cache's source file.
func (c *Cache) Watch(ctx context.Context, debounce time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	dir := filepath.Dir(c.source)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		cache:    c,
		fsw:      fsw,
		debounce: debounce,
		logger:   c.logger.With(slog.String("component", "mapping_watcher")),
		cancel:   cancel,
	}
	w.wg.Add(1)
	go w.run(ctx)
	w.logger.Info("watch_started", slog.String("dir", dir))
	return w, nil
}

func (w *Watcher) run(ctx context.Context) {
	defer w.wg.Done()

	target := filepath.Clean(w.cache.source)
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch_error", slog.String("error", err.Error()))
		case <-timer.C:
			if _, err := w.cache.rebuild(ctx, ReasonWatch); err != nil {
				w.logger.Warn("watch_rebuild_failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	w.cancel()
	err := w.fsw.Close()
	w.wg.Wait()
	return err
}
