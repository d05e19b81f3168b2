package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors the sites source and pushes fresh snapshots through the
// supplied callback. Stop must be called to release filesystem resources.
type Watcher struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Stop halts the watcher and waits for the underlying goroutine to exit.
func (w *Watcher) Stop() {
	if w == nil {
		return
	}
	w.once.Do(func() {
		w.cancel()
		<-w.done
	})
}

// Watch wires fsnotify around the sites source and reloads the catalog on
// any relevant change. The initial snapshot is delivered before Watch
// returns so callers start with a populated catalog.
func Watch(ctx context.Context, src Source, onChange func([]Site), onError func(error)) (*Watcher, error) {
	if onChange == nil {
		return nil, fmt.Errorf("catalog: watch requires a change callback")
	}
	if src.empty() {
		return nil, fmt.Errorf("catalog: no sites source configured for watching")
	}

	watchCtx, cancel := context.WithCancel(ctx)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("catalog: watch: %w", err)
	}

	sites, err := Load(src)
	if err != nil {
		if closeErr := watcher.Close(); closeErr != nil && onError != nil {
			onError(fmt.Errorf("catalog: watch close: %w", closeErr))
		}
		cancel()
		return nil, err
	}
	onChange(sites)

	done := make(chan struct{})
	w := &Watcher{cancel: cancel, done: done}

	ready := make(chan struct{})
	var readyOnce sync.Once
	signalReady := func() { readyOnce.Do(func() { close(ready) }) }

	go func() {
		defer close(done)
		defer func() {
			if err := watcher.Close(); err != nil && onError != nil {
				onError(fmt.Errorf("catalog: watch close: %w", err))
			}
		}()
		defer signalReady()

		var reloadMu sync.Mutex
		reload := func() {
			reloadMu.Lock()
			defer reloadMu.Unlock()
			sites, err := Load(src)
			if err != nil {
				if onError != nil {
					onError(err)
				}
				return
			}
			onChange(sites)
		}

		dirs := map[string]struct{}{}
		addDir := func(dir string) {
			dir = filepath.Clean(dir)
			if _, ok := dirs[dir]; ok {
				return
			}
			if err := watcher.Add(dir); err != nil {
				if onError != nil {
					onError(fmt.Errorf("catalog: watch add %s: %w", dir, err))
				}
				return
			}
			dirs[dir] = struct{}{}
		}

		targetFile := ""
		if src.File != "" {
			resolved := src.File
			if path, err := filepath.Abs(src.File); err == nil {
				resolved = path
			} else if onError != nil {
				onError(fmt.Errorf("catalog: resolve sites file: %w", err))
			}
			targetFile = filepath.Clean(resolved)
			addDir(filepath.Dir(targetFile))
		} else {
			root, err := filepath.Abs(src.Folder)
			if err != nil {
				if onError != nil {
					onError(fmt.Errorf("catalog: resolve sites folder: %w", err))
				}
				root = src.Folder
			}
			if err := filepath.WalkDir(root, func(path string, d os.DirEntry, walkErr error) error {
				if walkErr != nil {
					if onError != nil {
						onError(fmt.Errorf("catalog: walk watcher %s: %w", path, walkErr))
					}
					return nil
				}
				if d.IsDir() {
					addDir(path)
				}
				return nil
			}); err != nil && onError != nil {
				onError(fmt.Errorf("catalog: traverse watcher %s: %w", root, err))
			}
		}

		signalReady()

		const debounce = 25 * time.Millisecond
		var reloadTimer *time.Timer
		var reloadSignal <-chan time.Time
		scheduleReload := func() {
			if reloadTimer == nil {
				reloadTimer = time.NewTimer(debounce)
			} else {
				if !reloadTimer.Stop() {
					select {
					case <-reloadTimer.C:
					default:
					}
				}
				reloadTimer.Reset(debounce)
			}
			reloadSignal = reloadTimer.C
		}
		flushTimer := func() {
			if reloadTimer == nil {
				return
			}
			if !reloadTimer.Stop() {
				select {
				case <-reloadTimer.C:
				default:
				}
			}
			reloadSignal = nil
		}
		defer flushTimer()

		for {
			select {
			case <-watchCtx.Done():
				return
			case <-reloadSignal:
				flushTimer()
				reload()
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				name := filepath.Clean(event.Name)
				if targetFile != "" {
					if name != targetFile {
						continue
					}
					if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 && onError != nil {
						onError(fmt.Errorf("catalog: sites file %s removed", targetFile))
					}
					if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove|fsnotify.Chmod) != 0 {
						scheduleReload()
					}
					continue
				}
				if event.Op&fsnotify.Create != 0 {
					info, err := os.Stat(name)
					if err == nil && info.IsDir() {
						addDir(name)
						continue
					}
				}
				if !isSupportedFile(name) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove|fsnotify.Chmod) == 0 {
					continue
				}
				scheduleReload()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if onError != nil {
					onError(fmt.Errorf("catalog: watch error: %w", err))
				}
			}
		}
	}()

	<-ready

	return w, nil
}
