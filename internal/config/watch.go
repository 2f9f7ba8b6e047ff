package config

import (
	"github.com/fsnotify/fsnotify"

	"github.com/dstrand/portal/internal/logger"
)

// Watcher reloads portal.yaml into a Store whenever fsnotify reports it was
// written, per SPEC_FULL.md §4.11 — config hot-reload (ICE server list and
// outbound rate limit can be changed live without restarting a session).
type Watcher struct {
	path    string
	store   *Store
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// Watch starts watching the file at path (not its directory), reloading
// into store on every write. The file must already exist. Call Close to stop.
func Watch(path string, store *Store) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{path: path, store: store, watcher: fw, done: make(chan struct{})}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				logger.Warn("config: reload failed, keeping previous config", "path", w.path, "err", err)
				continue
			}
			w.store.Set(cfg)
			logger.Info("config: reloaded", "path", w.path)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("config: watch error", "err", err)
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}
