package discovery

import (
	"context"
	"os"

	"github.com/fsnotify/fsnotify"

	"github.com/reiase/probing/internal/config"
)

// Watch streams discovery-directory snapshots: one immediately, then a
// fresh List after every change to the directory, until ctx is
// cancelled. The CLI's `list --watch` consumes this.
func Watch(ctx context.Context) (<-chan []Entry, error) {
	dir := dirEnsured()
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	out := make(chan []Entry, 1)
	if entries, err := List(); err == nil {
		out <- entries
	}

	go func() {
		defer close(out)
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-watcher.Events:
				if !ok {
					return
				}
				entries, err := List()
				if err != nil {
					continue
				}
				select {
				case out <- entries:
				case <-ctx.Done():
					return
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return out, nil
}

// dirEnsured returns the discovery directory, creating it so the
// watcher has something to attach to before any agent publishes.
func dirEnsured() string {
	dir := config.DiscoveryDir()
	os.MkdirAll(dir, 0o700)
	return dir
}
