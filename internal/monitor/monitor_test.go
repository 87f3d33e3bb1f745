package monitor

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"netlens/internal/config"
	"netlens/internal/store"
	"netlens/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestMonitor(t *testing.T) (*Monitor, *store.RequestStore) {
	t.Helper()
	st, err := store.NewRequestStore(filepath.Join(t.TempDir(), "requests.db"))
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Monitor.RetentionDays = 0
	m := New(cfg, st)

	t.Cleanup(func() {
		m.Close()
		st.Close()
	})
	return m, st
}

func feedLifecycle(m *Monitor, id, url string, status int) {
	tr := m.Tracker()
	tr.OnRequestStarted(id, "GET", url, nil, "xhr")
	tr.OnResponseReceived(id, status, map[string]string{"Content-Type": "application/json"})
	tr.OnLoadFinished(id, 128)
}

func TestMonitor_PersistsEveryMerge(t *testing.T) {
	m, st := newTestMonitor(t)

	// A filter that passes nothing must not affect persistence: the save
	// path is pre-filter.
	m.Tracker().SetFilter(types.RequestFilter{Types: []string{"nothing"}})
	feedLifecycle(m, "req-1", "https://example.com/api", 200)

	require.Eventually(t, func() bool {
		recs, err := st.Query(types.RequestQuery{})
		return err == nil && len(recs) == 1 && recs[0].Status == 200
	}, 3*time.Second, 20*time.Millisecond, "merged snapshot never reached the store")
}

func TestMonitor_UpdatesFeed(t *testing.T) {
	m, _ := newTestMonitor(t)

	feedLifecycle(m, "req-1", "https://example.com/api", 200)

	// The response and finished merges each produce an update; the start
	// insert does not.
	var got []types.NetworkRequest
	for i := 0; i < 2; i++ {
		select {
		case rec := <-m.Updates():
			got = append(got, rec)
		case <-time.After(time.Second):
			t.Fatalf("update %d never arrived", i)
		}
	}
	require.Equal(t, 200, got[0].Status)
	require.Equal(t, int64(128), got[1].EncodedDataLength)
}

func TestMonitor_IdleState(t *testing.T) {
	m, _ := newTestMonitor(t)

	require.False(t, m.IsTracking())
	require.Empty(t, m.SessionID())
	require.Nil(t, m.Source())

	// Stopping without a session is a no-op, not an error.
	m.StopTracking()
	require.False(t, m.IsTracking())
}

func TestMonitor_ListActive(t *testing.T) {
	m, _ := newTestMonitor(t)

	m.Tracker().OnRequestStarted("a", "GET", "https://example.com/a", nil, "xhr")
	m.Tracker().OnRequestStarted("b", "GET", "https://example.com/b", nil, "fetch")

	require.Len(t, m.ListActive(), 2)
}

func TestMonitor_QueryDelegation(t *testing.T) {
	m, _ := newTestMonitor(t)

	feedLifecycle(m, "req-1", "https://example.com/api", 404)

	require.Eventually(t, func() bool {
		recs, err := m.Query(types.RequestQuery{MinStatus: 400})
		return err == nil && len(recs) == 1
	}, 3*time.Second, 20*time.Millisecond)

	stats, err := m.Stats()
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.TotalCount)

	removed, err := m.Prune(30)
	require.NoError(t, err)
	require.Zero(t, removed)
}

func TestMonitor_CloseDrainsSaveQueue(t *testing.T) {
	st, err := store.NewRequestStore(filepath.Join(t.TempDir(), "requests.db"))
	require.NoError(t, err)
	defer st.Close()

	cfg := config.Default()
	cfg.Monitor.RetentionDays = 0
	m := New(cfg, st)

	for i := 0; i < 50; i++ {
		m.Tracker().OnRequestStarted(fmt.Sprintf("req-%d", i), "GET", "https://example.com", nil, "xhr")
	}
	m.Close()

	// Close returns only after the save worker has drained the queue.
	stats, err := st.Stats()
	require.NoError(t, err)
	require.Equal(t, int64(50), stats.TotalCount)

	// Updates is closed; the feed consumer loop can exit.
	_, open := <-m.Updates()
	require.False(t, open)
}

func TestMonitor_CloseIsIdempotent(t *testing.T) {
	st, err := store.NewRequestStore(filepath.Join(t.TempDir(), "requests.db"))
	require.NoError(t, err)
	defer st.Close()

	m := New(config.Default(), st)
	m.Close()
	m.Close()
}

func TestFilterWatcher_ReloadsOnConfigChange(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	// Start with a filter that passes nothing.
	require.NoError(t, os.WriteFile(cfgPath, []byte(
		"monitor:\n  filter:\n    types: [nothing]\n"), 0o644))

	st, err := store.NewRequestStore(filepath.Join(dir, "requests.db"))
	require.NoError(t, err)
	defer st.Close()

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	cfg.Monitor.RetentionDays = 0
	m := New(cfg, st)
	defer m.Close()

	fw, err := NewFilterWatcher(cfgPath, m)
	require.NoError(t, err)
	require.NoError(t, fw.Start())
	defer fw.Stop()

	// Sanity: the initial filter suppresses delivery.
	feedLifecycle(m, "blocked", "https://example.com/x", 200)
	select {
	case rec := <-m.Updates():
		t.Fatalf("initial filter leaked %+v", rec)
	case <-time.After(100 * time.Millisecond):
	}

	// Rewrite the config to pass xhr and wait for the debounced reload to
	// take effect.
	require.NoError(t, os.WriteFile(cfgPath, []byte(
		"monitor:\n  filter:\n    types: [xhr]\n"), 0o644))

	i := 0
	require.Eventually(t, func() bool {
		i++
		feedLifecycle(m, fmt.Sprintf("probe-%d", i), "https://example.com/probe", 200)
		select {
		case <-m.Updates():
			return true
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 100*time.Millisecond, "reloaded filter never took effect")
}
