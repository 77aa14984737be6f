package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 25 * time.Millisecond

// FileWatcher monitors a single file and invokes a callback whenever it
// changes. Stop must be called to release filesystem resources.
type FileWatcher struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Stop halts the watcher and waits for the underlying goroutine to exit.
func (w *FileWatcher) Stop() {
	if w == nil {
		return
	}
	w.once.Do(func() {
		w.cancel()
		<-w.done
	})
}

// WatchFile watches the directory holding path, so editors that replace the
// file through a rename are still observed. Bursts of events collapse into a
// single onChange call.
func WatchFile(ctx context.Context, path string, onChange func(), onError func(error)) (*FileWatcher, error) {
	if onChange == nil {
		return nil, fmt.Errorf("config: watch file requires a change callback")
	}
	if path == "" {
		return nil, fmt.Errorf("config: watch file requires a path")
	}
	target, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config: resolve %s: %w", path, err)
	}
	target = filepath.Clean(target)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: watch file: %w", err)
	}
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("config: watch add %s: %w", filepath.Dir(target), err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	fw := &FileWatcher{cancel: cancel, done: done}

	report := func(err error) {
		if onError != nil {
			onError(err)
		}
	}

	go func() {
		defer close(done)
		defer func() {
			if err := watcher.Close(); err != nil {
				report(fmt.Errorf("config: watch close: %w", err))
			}
		}()

		var timer *time.Timer
		var signal <-chan time.Time
		schedule := func() {
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(watchDebounce)
			}
			signal = timer.C
		}
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()

		for {
			select {
			case <-watchCtx.Done():
				return
			case <-signal:
				signal = nil
				onChange()
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
					report(fmt.Errorf("config: watched file %s removed", target))
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					schedule()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				report(fmt.Errorf("config: watch error: %w", err))
			}
		}
	}()

	return fw, nil
}
