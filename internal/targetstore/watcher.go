package targetstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch watches dir for target-file changes and calls onChange whenever an
// app's target file is created, written, removed, or renamed. Changes
// within a short window are debounced into a single call so a multi-file
// edit (e.g. an operator's editor doing a save-as) triggers one
// recompute, not several.
func Watch(ctx context.Context, dir string, onChange func()) error {
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("targetstore: watch %s: %w", dir, err)
	}
	go runWatcherLoop(ctx, dir, onChange)
	return nil
}

func runWatcherLoop(ctx context.Context, dir string, onChange func()) {
	const maxRetries = 5
	failures := 0
	backoff := 1 * time.Second

	for {
		err := runWatcher(ctx, dir, onChange)
		if ctx.Err() != nil {
			return
		}

		failures++
		if failures > maxRetries {
			slog.Error("targetstore watcher: too many failures, giving up", "failures", failures, "lastErr", err)
			return
		}

		slog.Warn("targetstore watcher: retrying", "attempt", failures, "backoff", backoff, "err", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, 30*time.Second)
	}
}

func runWatcher(ctx context.Context, dir string, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			sub := filepath.Join(dir, entry.Name())
			if err := watcher.Add(sub); err != nil {
				slog.Warn("targetstore watcher: add subdir", "err", err, "dir", sub)
			}
		}
	}

	slog.Info("targetstore watcher started", "dir", dir)

	var mu sync.Mutex
	var timer *time.Timer
	trigger := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(200*time.Millisecond, func() {
			slog.Debug("targetstore watcher: target changed")
			onChange()
		})
	}
	cancelPending := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
	}

	for {
		select {
		case <-ctx.Done():
			cancelPending()
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				cancelPending()
				return fmt.Errorf("fsnotify events channel closed")
			}

			name := filepath.Base(event.Name)
			parent := filepath.Dir(event.Name)

			if parent == dir {
				if event.Op&(fsnotify.Create|fsnotify.Rename) != 0 {
					if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
						if err := watcher.Add(event.Name); err != nil {
							slog.Warn("targetstore watcher: add new subdir", "err", err, "dir", event.Name)
						}
					}
				}
				trigger()
				continue
			}

			if filepath.Dir(parent) != dir {
				continue
			}
			if !isTargetFileName(name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				trigger()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				cancelPending()
				return fmt.Errorf("fsnotify errors channel closed")
			}
			slog.Warn("targetstore watcher error", "err", err)
		}
	}
}
