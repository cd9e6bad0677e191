package config

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce absorbs the save-twice behavior of most editors, which
// would otherwise reload (and re-push settings) twice per edit.
const watchDebounce = 500 * time.Millisecond

// Watch reloads the config file whenever it changes and hands the
// fresh Config to onChange. It watches the parent directory rather
// than the file itself so atomic rename-style saves keep working.
// The returned stop func blocks until the watch goroutine exits.
func Watch(ctx context.Context, path string, logger *log.Logger, onChange func(*Config)) (stop func(), err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}

	wctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()

		var timer *time.Timer
		var fire <-chan time.Time

		for {
			select {
			case <-wctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != abs {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(watchDebounce)
					fire = timer.C
				} else {
					if !timer.Stop() {
						select {
						case <-timer.C:
						default:
						}
					}
					timer.Reset(watchDebounce)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Printf("WARNING: config watcher: %v", err)
			case <-fire:
				timer = nil
				fire = nil
				cfg, err := Load(path)
				if err != nil {
					logger.Printf("WARNING: config reload failed: %v", err)
					continue
				}
				onChange(cfg)
			}
		}
	}()

	return func() {
		cancel()
		_ = watcher.Close()
		wg.Wait()
	}, nil
}
