package supervisor

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watcherDebounce = 500 * time.Millisecond

// WatchProfile watches the runtime profile file and records a diagnostic
// event when it changes. The profile is only read at start time, so a change
// takes effect on the next start; the event tells the operator why the live
// topology and the file may disagree. It blocks until the context is
// cancelled. An empty path is a no-op.
func (s *Supervisor) WatchProfile(ctx context.Context, path string) error {
	if path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the parent directory so the file survives editor rename-and-
	// replace writes.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	target := filepath.Clean(path)
	s.logger.Info("watching runtime profile", "path", target)

	var debounce *time.Timer
	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(watcherDebounce, func() {
				s.NotifyProfileChanged(target)
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("profile watcher error", "error", err)
		}
	}
}
