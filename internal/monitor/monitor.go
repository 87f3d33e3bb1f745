// Package monitor is the control surface over the tracker, the browser
// event source, and the request store. It translates start/stop tracking
// into source and tracker calls, exposes the read paths, and decouples
// persistence from the event callback path.
package monitor

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"netlens/internal/browser"
	"netlens/internal/config"
	"netlens/internal/logging"
	"netlens/internal/store"
	"netlens/internal/tracker"
	"netlens/internal/types"
)

// Monitor wires one tracker and one store together and manages at most
// one tracking session at a time.
type Monitor struct {
	cfg     config.Config
	tracker *tracker.Tracker
	store   *store.RequestStore

	mu        sync.Mutex
	source    *browser.Source
	sessionID string

	updates chan types.NetworkRequest
	saveCh  chan types.NetworkRequest
	saveDon chan struct{}
	closing atomic.Bool
}

// feedSubscriber pushes filter-passing updates onto the live channel.
// Best-effort at-most-once: a full channel drops the update rather than
// blocking the merge path.
type feedSubscriber struct {
	ch chan types.NetworkRequest
}

func (f *feedSubscriber) OnRequestUpdate(rec types.NetworkRequest) error {
	select {
	case f.ch <- rec:
	default:
		logging.MonitorDebug("live feed full, dropped update for %s", rec.ID)
	}
	return nil
}

// New creates a monitor over the given store. The save worker starts
// immediately; Close stops it.
func New(cfg config.Config, st *store.RequestStore) *Monitor {
	m := &Monitor{
		cfg:     cfg,
		tracker: tracker.New(),
		store:   st,
		updates: make(chan types.NetworkRequest, cfg.Monitor.UpdateBuffer),
		saveCh:  make(chan types.NetworkRequest, cfg.Monitor.SaveBuffer),
		saveDon: make(chan struct{}),
	}
	if !cfg.Monitor.Filter.IsZero() {
		m.tracker.SetFilter(cfg.Monitor.Filter)
	}
	m.tracker.Subscribe(&feedSubscriber{ch: m.updates})
	m.tracker.SetMergeHook(m.queueSave)
	go m.saveWorker()
	return m
}

// queueSave hands a snapshot to the persistence worker. Runs inside the
// tracker's merge step, so it must never block: a full queue drops the
// snapshot, and the next merge for that identifier re-saves it.
func (m *Monitor) queueSave(rec types.NetworkRequest) {
	if m.closing.Load() {
		return
	}
	select {
	case m.saveCh <- rec:
	default:
		logging.MonitorWarn("save queue full, dropping snapshot for %s", rec.ID)
	}
}

func (m *Monitor) saveWorker() {
	defer close(m.saveDon)
	for rec := range m.saveCh {
		if err := m.store.Save(rec); err != nil {
			// Best-effort: the in-memory record stays valid and the next
			// merge re-queues it.
			logging.MonitorWarn("persist failed for %s: %v", rec.ID, err)
		}
	}
}

// StartTracking connects to the browser and begins streaming network
// events into the tracker. endpoint overrides the configured debugger
// URL; filter, when non-nil, replaces the configured subscriber filter.
// On failure the monitor is left in the not-tracking state. An active
// session is stopped first.
func (m *Monitor) StartTracking(ctx context.Context, endpoint string, filter *types.RequestFilter) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopLocked()

	if filter != nil {
		m.tracker.SetFilter(*filter)
	}

	browserCfg := m.cfg.Browser
	if endpoint != "" {
		browserCfg.DebuggerURL = endpoint
	}

	src := browser.NewSource(browserCfg)
	if err := src.Connect(ctx); err != nil {
		return err
	}
	if err := src.Attach(ctx, m.tracker); err != nil {
		src.Close()
		return err
	}

	m.source = src
	m.sessionID = uuid.NewString()
	logging.Monitor("tracking started: session=%s endpoint=%q", m.sessionID, browserCfg.DebuggerURL)

	if days := m.cfg.Monitor.RetentionDays; days > 0 {
		go func() {
			if n, err := m.store.Prune(days); err == nil && n > 0 {
				logging.Monitor("retention pruned %d records", n)
			}
		}()
	}
	return nil
}

// StopTracking detaches from the browser and drops all in-flight state.
// Always succeeds; safe to call when not tracking. Events arriving after
// stop hit the tracker's unknown-id path and are dropped.
func (m *Monitor) StopTracking() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

func (m *Monitor) stopLocked() {
	if m.source == nil {
		return
	}
	m.source.Close()
	m.source = nil
	m.tracker.Clear()
	logging.Monitor("tracking stopped: session=%s", m.sessionID)
	m.sessionID = ""
}

// IsTracking reports whether a session is active.
func (m *Monitor) IsTracking() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.source != nil
}

// SessionID returns the active session identifier, empty when idle.
func (m *Monitor) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// Source returns the active browser source for pass-through calls, nil
// when not tracking.
func (m *Monitor) Source() *browser.Source {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.source
}

// Tracker exposes the underlying tracker, used by the filter watcher and
// by tests that inject events directly.
func (m *Monitor) Tracker() *tracker.Tracker {
	return m.tracker
}

// Updates is the live feed of merged, filter-passing records. Closed by
// Close.
func (m *Monitor) Updates() <-chan types.NetworkRequest {
	return m.updates
}

// ListActive returns an unfiltered snapshot of the live table.
func (m *Monitor) ListActive() []types.NetworkRequest {
	return m.tracker.SnapshotAll()
}

// Query delegates to the store.
func (m *Monitor) Query(q types.RequestQuery) ([]types.NetworkRequest, error) {
	return m.store.Query(q)
}

// Stats delegates to the store.
func (m *Monitor) Stats() (types.RequestStats, error) {
	return m.store.Stats()
}

// Prune delegates to the store.
func (m *Monitor) Prune(olderThanDays int) (int64, error) {
	return m.store.Prune(olderThanDays)
}

// Close stops tracking, drains the persistence queue, and closes the
// live feed. The store handle itself belongs to the caller.
func (m *Monitor) Close() {
	m.StopTracking()
	if m.closing.Swap(true) {
		return
	}
	m.tracker.SetMergeHook(nil)
	close(m.saveCh)
	<-m.saveDon
	close(m.updates)
}
