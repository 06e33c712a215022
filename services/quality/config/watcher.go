// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the burst of fsnotify events editors emit
// for a single save.
const reloadDebounce = 250 * time.Millisecond

// Watcher serves the current configuration snapshot and reloads it
// when the file changes. A reload that fails validation keeps the
// previous snapshot.
//
// Thread Safety: Current may be called from any goroutine. Start
// should only be called once.
type Watcher struct {
	path     string
	logger   *slog.Logger
	watcher  *fsnotify.Watcher
	current  atomic.Pointer[Config]
	onReload func(*Config)
}

// NewWatcher loads the initial snapshot and prepares the file watcher.
// onReload, if non-nil, runs after each successful swap.
func NewWatcher(path string, logger *slog.Logger, onReload func(*Config)) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		path:     path,
		logger:   logger,
		watcher:  fsw,
		onReload: onReload,
	}
	w.current.Store(cfg)
	return w, nil
}

// Current returns the live configuration snapshot. The returned value
// must be treated as read-only.
func (w *Watcher) Current() *Config {
	return w.current.Load()
}

// OnReload registers fn to run after each successful reload, replacing
// any callback given to NewWatcher. Must be called before Start.
func (w *Watcher) OnReload(fn func(*Config)) {
	w.onReload = fn
}

// Start watches the file until the context ends. Blocks; run in a
// goroutine.
func (w *Watcher) Start(ctx context.Context) {
	defer w.watcher.Close()

	if w.path == "" {
		<-ctx.Done()
		return
	}
	if err := w.watcher.Add(w.path); err != nil {
		w.logger.Warn("config watch failed, live reload disabled",
			"path", w.path, "error", err)
		<-ctx.Done()
		return
	}

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			// Atomic-save editors replace the file; re-add the path so
			// subsequent writes are still seen.
			if event.Has(fsnotify.Rename) || event.Has(fsnotify.Create) {
				_ = w.watcher.Add(w.path)
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
				timerC = timer.C
			} else {
				timer.Reset(reloadDebounce)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watch error", "error", err)
		case <-timerC:
			timer = nil
			timerC = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Error("config reload rejected, keeping previous snapshot",
			"path", w.path, "error", err)
		return
	}
	w.current.Store(cfg)
	w.logger.Info("config reloaded", "path", w.path)
	if w.onReload != nil {
		w.onReload(cfg)
	}
}
