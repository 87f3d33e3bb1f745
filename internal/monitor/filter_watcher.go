package monitor

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"netlens/internal/config"
	"netlens/internal/logging"
)

// FilterWatcher watches the config file and hot-swaps the tracker's
// subscriber filter when it changes. Editors write config files in
// bursts, so events are debounced before reloading.
type FilterWatcher struct {
	watcher     *fsnotify.Watcher
	monitor     *Monitor
	configPath  string
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
}

// NewFilterWatcher creates a watcher for the given config file path.
func NewFilterWatcher(configPath string, m *Monitor) (*FilterWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &FilterWatcher{
		watcher:     watcher,
		monitor:     m,
		configPath:  configPath,
		debounceDur: 500 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching. The parent directory is watched rather than the
// file itself so atomic-rename saves are still observed.
func (w *FilterWatcher) Start() error {
	if err := w.watcher.Add(filepath.Dir(w.configPath)); err != nil {
		return err
	}
	go w.loop()
	logging.Monitor("filter watcher started on %s", w.configPath)
	return nil
}

func (w *FilterWatcher) loop() {
	defer close(w.doneCh)

	var pending <-chan time.Time
	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.configPath) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(w.debounceDur)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.MonitorWarn("filter watcher error: %v", err)
		case <-pending:
			pending = nil
			w.reload()
		}
	}
}

func (w *FilterWatcher) reload() {
	cfg, err := config.Load(w.configPath)
	if err != nil {
		logging.MonitorWarn("filter reload failed: %v", err)
		return
	}
	w.monitor.Tracker().SetFilter(cfg.Monitor.Filter)
	logging.Monitor("filter reloaded from %s", w.configPath)
}

// Stop halts the watcher and waits for the loop to exit.
func (w *FilterWatcher) Stop() {
	close(w.stopCh)
	w.watcher.Close()
	<-w.doneCh
}
