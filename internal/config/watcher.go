package config

import (
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"routecodex-go/internal/constants"
)

// ReloadFunc re-resolves and applies a snapshot. The source names what
// triggered it ("fsnotify", "signal", "management").
type ReloadFunc func(source string)

// Watcher re-resolves the snapshot when the user config changes on disk
// or SIGUSR2 arrives. Reload failures keep the previous snapshot; the
// ReloadFunc is responsible for that contract.
type Watcher struct {
	configPath string
	reload     ReloadFunc
	stopCh     chan struct{}
	sigCh      chan os.Signal
}

// NewWatcher builds a watcher for the given resolved config path.
func NewWatcher(configPath string, reload ReloadFunc) *Watcher {
	return &Watcher{
		configPath: configPath,
		reload:     reload,
		stopCh:     make(chan struct{}),
		sigCh:      make(chan os.Signal, 1),
	}
}

// Start begins watching. It degrades to polling when fsnotify cannot
// attach, and always arms the SIGUSR2 handler.
func (w *Watcher) Start() {
	signal.Notify(w.sigCh, syscall.SIGUSR2)
	go w.signalLoop()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.WithError(err).Warn("failed to create file watcher, falling back to polling")
		go w.pollLoop()
		return
	}
	if err := watcher.Add(w.configPath); err != nil {
		log.WithError(err).WithField("path", w.configPath).Warn("failed to watch config file, falling back to polling")
		watcher.Close()
		go w.pollLoop()
		return
	}
	// Watch the directory too so atomic replaces (rename) are seen.
	if err := watcher.Add(filepath.Dir(w.configPath)); err != nil {
		log.WithError(err).WithField("dir", filepath.Dir(w.configPath)).Warn("failed to watch config directory")
	}

	log.WithField("path", w.configPath).Info("config watcher started using fsnotify")
	go w.eventLoop(watcher)
}

// Stop shuts the watcher down.
func (w *Watcher) Stop() {
	signal.Stop(w.sigCh)
	close(w.stopCh)
}

func (w *Watcher) eventLoop(watcher *fsnotify.Watcher) {
	defer watcher.Close()

	var debounce *time.Timer
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Name != w.configPath {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(constants.ConfigReloadDebounce, func() {
				w.reload("fsnotify")
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("config watcher error")

		case <-w.stopCh:
			if debounce != nil {
				debounce.Stop()
			}
			return
		}
	}
}

func (w *Watcher) signalLoop() {
	for {
		select {
		case <-w.sigCh:
			log.Info("SIGUSR2 received, reloading configuration")
			w.reload("signal")
		case <-w.stopCh:
			return
		}
	}
}

// pollLoop is the fallback when fsnotify is unavailable.
func (w *Watcher) pollLoop() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	var lastMod time.Time
	if info, err := os.Stat(w.configPath); err == nil {
		lastMod = info.ModTime()
	}
	log.WithField("interval", "5s").Info("config watcher started using polling")

	for {
		select {
		case <-ticker.C:
			info, err := os.Stat(w.configPath)
			if err != nil {
				continue
			}
			if info.ModTime().After(lastMod) {
				lastMod = info.ModTime()
				w.reload("fsnotify")
			}
		case <-w.stopCh:
			return
		}
	}
}
