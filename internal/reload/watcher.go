// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Grindstone Contributors

// Package reload queues module reloads when module sources change on disk.
//
// The watcher only records which modules changed. Reloads are performed by
// the engine thread calling PerformPending at a point where no script code
// is running, so the bridge is never entered from the watcher goroutine.
package reload

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/grindstone/scripthost/internal/bridge"
)

// DefaultDebounce is how long a module must be quiet before its queued
// reload becomes due.
const DefaultDebounce = 200 * time.Millisecond

// Reloader is the part of the bridge session the watcher drives.
type Reloader interface {
	Reload(ctx context.Context, key bridge.ModuleKey) (bridge.ModuleKey, error)
}

// Hooks let the engine prepare for and react to a reload.
type Hooks struct {
	// BeforeUnload runs before the module is unloaded. Engines free the
	// module's handles here.
	BeforeUnload func(key bridge.ModuleKey)
	// AfterLoad runs after the new generation is loaded.
	AfterLoad func(key bridge.ModuleKey)
}

// Result is the outcome of one performed reload.
type Result struct {
	Key bridge.ModuleKey
	Err error
}

// Options configures a Watcher.
type Options struct {
	Patterns []string
	Debounce time.Duration
	Logger   *slog.Logger
}

type target struct {
	key  bridge.ModuleKey
	dir  string
	file string // set for single-file modules
}

// Watcher watches module sources and queues reloads.
type Watcher struct {
	fsw      *fsnotify.Watcher
	matcher  *Matcher
	debounce time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	targets map[bridge.ModuleKey]target
	pending map[bridge.ModuleKey]time.Time

	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once
}

// New creates a watcher. Call Start to begin processing events.
func New(opts Options) (*Watcher, error) {
	matcher, err := NewMatcher(opts.Patterns)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Watcher{
		fsw:      fsw,
		matcher:  matcher,
		debounce: opts.Debounce,
		logger:   opts.Logger,
		now:      time.Now,
		targets:  make(map[bridge.ModuleKey]target),
		pending:  make(map[bridge.ModuleKey]time.Time),
		done:     make(chan struct{}),
	}, nil
}

// Watch starts watching the module loaded from path under key. Directory
// modules are watched recursively.
func (w *Watcher) Watch(key bridge.ModuleKey, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}

	t := target{key: key, dir: path}
	if !info.IsDir() {
		t = target{key: key, dir: filepath.Dir(path), file: path}
		if err := w.fsw.Add(t.dir); err != nil {
			return fmt.Errorf("watch %s: %w", t.dir, err)
		}
	} else {
		err := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() {
				return nil
			}
			if p != path && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return w.fsw.Add(p)
		})
		if err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
	}

	w.mu.Lock()
	w.targets[key] = t
	w.mu.Unlock()
	return nil
}

// Unwatch forgets a module. Its directory stays registered with the OS
// watcher until Close; events for it are ignored.
func (w *Watcher) Unwatch(key bridge.ModuleKey) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.targets, key)
	delete(w.pending, key)
}

// Start processes file events in a background goroutine until Close.
func (w *Watcher) Start() {
	w.startOnce.Do(func() {
		w.wg.Add(1)
		go w.loop()
	})
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return
	}

	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.fsw.Add(ev.Name); err != nil {
				w.logger.Warn("failed to watch new directory", "dir", ev.Name, "error", err)
			}
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for key, t := range w.targets {
		if !t.covers(ev.Name, w.matcher) {
			continue
		}
		w.pending[key] = w.now()
		w.logger.Debug("module change queued",
			"key", key.String(),
			"file", ev.Name,
			"op", ev.Op.String())
	}
}

func (t target) covers(name string, m *Matcher) bool {
	if t.file != "" {
		return filepath.Clean(name) == t.file
	}
	rel, err := filepath.Rel(t.dir, name)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	return m.Match(rel)
}

// Queue marks a module for reload as if its sources had changed.
func (w *Watcher) Queue(key bridge.ModuleKey) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[key] = w.now()
}

// Pending returns the queued modules whose debounce interval has elapsed,
// in key order.
func (w *Watcher) Pending() []bridge.ModuleKey {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.due()
}

// due collects due keys. Callers must hold the lock.
func (w *Watcher) due() []bridge.ModuleKey {
	now := w.now()
	var keys []bridge.ModuleKey
	for key, at := range w.pending {
		if now.Sub(at) >= w.debounce {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// PerformPending reloads every due module through r. It must be called
// from the thread that owns the bridge session. A reload refused because
// the module still has live handles stays queued.
func (w *Watcher) PerformPending(ctx context.Context, r Reloader, hooks Hooks) []Result {
	w.mu.Lock()
	keys := w.due()
	for _, k := range keys {
		delete(w.pending, k)
	}
	w.mu.Unlock()

	results := make([]Result, 0, len(keys))
	for _, key := range keys {
		if hooks.BeforeUnload != nil {
			hooks.BeforeUnload(key)
		}
		newKey, err := r.Reload(ctx, key)
		if err != nil {
			if errors.Is(err, bridge.ErrStillReferenced) {
				w.Queue(key)
			}
			w.logger.Warn("module reload failed", "key", key.String(), "error", err)
			results = append(results, Result{Key: key, Err: err})
			continue
		}
		if newKey != key {
			w.rekey(key, newKey)
		}
		if hooks.AfterLoad != nil {
			hooks.AfterLoad(newKey)
		}
		results = append(results, Result{Key: newKey})
	}
	return results
}

func (w *Watcher) rekey(from, to bridge.ModuleKey) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.targets[from]; ok {
		delete(w.targets, from)
		t.key = to
		w.targets[to] = t
	}
}

// Close stops the event goroutine and releases the OS watcher.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.fsw.Close()
		w.wg.Wait()
	})
	return err
}
