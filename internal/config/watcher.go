package config

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/harun/gatelink/pkg/gateway"
)

// IdentityWatcher serves the device identity from disk and hot-reloads it
// when the file changes. Credentials rotated externally are picked up on
// the next reconnect attempt without restarting the process.
//
// Implements gateway.IdentitySource.
type IdentityWatcher struct {
	path    string
	logger  zerolog.Logger
	watcher *fsnotify.Watcher

	mu       sync.RWMutex
	identity *gateway.DeviceIdentity

	done chan struct{}
	wg   sync.WaitGroup
}

// NewIdentityWatcher loads the identity at path and watches it for changes
func NewIdentityWatcher(path string, logger zerolog.Logger) (*IdentityWatcher, error) {
	identity, err := gateway.LoadIdentity(path)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	// Watch the directory: editors and rotation tooling typically replace
	// the file rather than writing it in place.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch identity directory: %w", err)
	}

	w := &IdentityWatcher{
		path:     path,
		logger:   logger.With().Str("component", "identity-watcher").Logger(),
		watcher:  watcher,
		identity: identity,
		done:     make(chan struct{}),
	}

	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// Identity returns the current device identity
func (w *IdentityWatcher) Identity() (*gateway.DeviceIdentity, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.identity == nil {
		return nil, fmt.Errorf("device identity unavailable")
	}
	return w.identity, nil
}

// Close stops watching
func (w *IdentityWatcher) Close() error {
	close(w.done)
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}

func (w *IdentityWatcher) loop() {
	defer w.wg.Done()

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
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("Identity watcher error")
		}
	}
}

func (w *IdentityWatcher) reload() {
	identity, err := gateway.LoadIdentity(w.path)
	if err != nil {
		// Keep serving the previous key; a partially written file will
		// trigger another event once the rotation completes.
		w.logger.Warn().Err(err).Msg("Failed to reload device identity")
		return
	}

	w.mu.Lock()
	w.identity = identity
	w.mu.Unlock()

	w.logger.Info().Msg("Device identity reloaded")
}
