package changes

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const pollInterval = 500 * time.Millisecond

// Lock creates an empty lock file at path.
func Lock(path string) error {
	return errors.Wrapf(os.WriteFile(path, nil, 0o644), "cannot create lock file: %s", path)
}

func locked(path string) bool {
	_, err := os.Stat(path)

	return err == nil
}

// WaitForUnlock blocks until the lock file at path is gone or ctx is done.
func WaitForUnlock(ctx context.Context, path string) error {
	if !locked(path) {
		return nil
	}

	log.WithField("lock", path).Info("waiting for lock file removal")

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var events chan fsnotify.Event

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.WithField("err", err).Warn("cannot create watcher, polling instead")
	} else {
		defer watcher.Close()

		if err := watcher.Add(filepath.Dir(path)); err != nil {
			log.WithField("err", err).Warn("cannot watch lock directory, polling instead")
		} else {
			events = watcher.Events
		}
	}

	// the lock may have been removed before the watcher was in place.
	if !locked(path) {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-events:
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}

			log.WithFields(log.Fields{
				"event": event.Op.String(),
			}).Trace("lock file event")

			if !locked(path) {
				return nil
			}
		case <-ticker.C:
			if !locked(path) {
				return nil
			}
		}
	}
}
