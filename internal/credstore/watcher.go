package credstore

import (
	"context"

	"github.com/fsnotify/fsnotify"
)

// Watch invalidates the read cache whenever the credential directory changes
// on disk, so records edited outside the process show up without waiting for
// the TTL to lapse. Runs until the context is cancelled.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := watcher.Add(s.dir); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
					event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
					s.Invalidate()
				}
			case <-watcher.Errors:
				// Ignore watcher errors; the TTL still bounds staleness.
			}
		}
	}()

	return nil
}
