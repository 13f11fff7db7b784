// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// DefaultDebounce coalesces the burst of events a single save produces.
const DefaultDebounce = 150 * time.Millisecond

// =============================================================================
// FSNOTIFY WATCHER
// =============================================================================

// Watcher re-reads a snapshot file after it changes and passes the result to
// a callback. The parent directory is watched, not the file, so atomic
// rename-over saves are seen.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	debounce time.Duration
	onChange func(*Snapshot, error)

	mu      sync.Mutex
	pending time.Time // zero when nothing is pending

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Watch watches path and calls onChange with each reloaded snapshot, or
// with the load error. onChange runs on the watcher's goroutine.
func Watch(path string, debounce time.Duration, onChange func(*Snapshot, error)) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("watch snapshot: %w", err)
	}
	if _, err := FormatFor(absPath); err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fsw, err := fsnotify.Watch()
	if err != nil {
		return nil, fmt.Errorf("watch snapshot: %w", err)
	}
	if err := fsw.Add(filepath.Dir(absPath)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch snapshot: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		path:     absPath,
		watcher:  fsw,
		debounce: debounce,
		onChange: onChange,
		ctx:      ctx,
		cancel:   cancel,
	}

	w.wg.Add(2)
	go w.processEvents()
	go w.processPending()
	return w, nil
}

// Path returns the absolute path being watched.
func (w *Watcher) Path() string {
	return w.path
}

// processEvents records changes to the watched file.
func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.mu.Lock()
				w.pending = time.Now()
				w.mu.Unlock()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Str("path", w.path).Msg("snapshot watcher error")
		}
	}
}

// processPending reloads once the file has been quiet for the debounce
// interval.
func (w *Watcher) processPending() {
	defer w.wg.Done()

	tick := w.debounce / 2
	if tick > 100*time.Millisecond {
		tick = 100 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return

		case now := <-ticker.C:
			w.mu.Lock()
			due := !w.pending.IsZero() && now.Sub(w.pending) >= w.debounce
			if due {
				w.pending = time.Time{}
			}
			w.mu.Unlock()

			if due {
				snap, err := Load(w.path)
				if err != nil {
					log.Warn().Err(err).Str("path", w.path).Msg("snapshot reload failed")
				} else {
					log.Debug().Str("path", w.path).Str("session", snap.Context.SessionID).Msg("snapshot reloaded")
				}
				if w.onChange != nil {
					w.onChange(snap, err)
				}
			}
		}
	}
}

// Close stops watching and waits for the goroutines to exit.
func (w *Watcher) Close() error {
	w.cancel()
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}

// =============================================================================
// LIVE SNAPSHOT
// =============================================================================

// Live holds the latest good snapshot of a file. A reload that fails keeps
// the previous snapshot and records the error.
type Live struct {
	mu      sync.RWMutex
	current *Snapshot
	lastErr error
	version int

	watcher *Watcher
}

// Open loads path and keeps it current until Close.
func Open(path string, debounce time.Duration) (*Live, error) {
	snap, err := Load(path)
	if err != nil {
		return nil, err
	}

	l := &Live{current: snap, version: 1}
	w, err := Watch(path, debounce, l.update)
	if err != nil {
		return nil, err
	}
	l.watcher = w
	return l, nil
}

func (l *Live) update(snap *Snapshot, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		l.lastErr = err
		return
	}
	l.current = snap
	l.lastErr = nil
	l.version++
}

// Snapshot returns a copy of the latest good snapshot.
func (l *Live) Snapshot() *Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current.Clone()
}

// Version increments each time a reload succeeds. It starts at 1.
func (l *Live) Version() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.version
}

// Err returns the error from the most recent reload, if it failed.
func (l *Live) Err() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastErr
}

// Close stops watching.
func (l *Live) Close() error {
	return l.watcher.Close()
}
