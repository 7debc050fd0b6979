package config

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher re-reads the config file when it changes and hands a fresh
// Snapshot to the registered callback. Plans that are already running
// keep the snapshot they started with; only new resolution work sees
// the updated document.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	onLoad  func(*Snapshot)
	onError func(error)

	mu      sync.Mutex
	current *Snapshot
	done    chan struct{}
}

// NewWatcher starts watching path. onLoad receives every successfully
// loaded snapshot, including the initial one. onError may be nil.
func NewWatcher(path string, onLoad func(*Snapshot), onError func(error)) (*Watcher, error) {
	snap, err := Load(path)
	if err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	// Watch the directory, not the file: editors replace files via
	// rename, which drops a file-level watch.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}

	w := &Watcher{
		path:    path,
		watcher: fw,
		onLoad:  onLoad,
		onError: onError,
		current: snap,
		done:    make(chan struct{}),
	}

	if onLoad != nil {
		onLoad(snap)
	}
	go w.loop()
	return w, nil
}

// Current returns the most recently loaded snapshot.
func (w *Watcher) Current() *Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if w.onError != nil {
				w.onError(err)
			}
		}
	}
}

func (w *Watcher) reload() {
	snap, err := Load(w.path)
	if err != nil {
		// Keep the last good snapshot on parse failure.
		if w.onError != nil {
			w.onError(err)
		}
		return
	}

	w.mu.Lock()
	w.current = snap
	w.mu.Unlock()

	if w.onLoad != nil {
		w.onLoad(snap)
	}
}
