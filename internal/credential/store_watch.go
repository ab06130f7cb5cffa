package credential

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"routecodex-go/internal/constants"
)

// WatchAuthDir hot-reloads token files when an external re-auth rewrites
// them. Events are debounced so an editor's write+rename burst reloads
// once.
func (s *Store) WatchAuthDir(ctx context.Context, authDir string) {
	if authDir == "" {
		return
	}
	s.watchOnce.Do(func() {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			log.WithError(err).Warn("credential store: failed to start file watcher")
			return
		}
		if err := watcher.Add(authDir); err != nil {
			log.WithError(err).Warnf("credential store: failed to watch %s", authDir)
			_ = watcher.Close()
			return
		}
		go s.reloadLoop(ctx)
		go s.watchLoop(ctx, watcher)
		log.Infof("credential store: watching %s for changes", authDir)
	})
}

func (s *Store) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()
	for {
		select {
		case evt, ok := <-watcher.Events:
			if !ok {
				return
			}
			if shouldReloadForEvent(evt.Name) {
				s.requestReload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("credential watcher error")
		case <-ctx.Done():
			return
		}
	}
}

func (s *Store) reloadLoop(ctx context.Context) {
	var timer *time.Timer
	var timerCh <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-s.reloadCh:
			if timer == nil {
				timer = time.NewTimer(constants.ConfigReloadDebounce)
				timerCh = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(constants.ConfigReloadDebounce)
			}
		case <-timerCh:
			s.reloadAllFromDisk()
			timerCh = nil
			timer.Stop()
			timer = nil
		}
	}
}

func (s *Store) requestReload() {
	select {
	case s.reloadCh <- struct{}{}:
	default:
	}
}

// reloadAllFromDisk re-reads every file-backed credential. Cheap enough
// at realistic credential counts to skip per-file targeting.
func (s *Store) reloadAllFromDisk() {
	s.mu.RLock()
	ids := append([]string(nil), s.order...)
	s.mu.RUnlock()
	for _, id := range ids {
		s.ReloadFromDisk(id)
	}
}

func shouldReloadForEvent(name string) bool {
	if name == "" {
		return true
	}
	base := strings.ToLower(filepath.Base(name))
	if strings.HasSuffix(base, ".tmp") {
		return false
	}
	return filepath.Ext(base) == ".json"
}
