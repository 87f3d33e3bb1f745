// Package tracker owns the live table of in-flight network requests and
// merges partial DevTools events into coherent records. Correlation is a
// stateless merge keyed by request identifier: events apply in arrival
// order, unknown identifiers are ignored, and a record that never sees a
// terminal event simply stays partial until the session is cleared.
package tracker

import (
	"regexp"
	"sync"
	"time"

	"netlens/internal/logging"
	"netlens/internal/types"
)

// Subscriber receives each merged, filter-passing record. Delivery is
// best-effort and at-most-once per merge; a returned error is logged and
// never interrupts delivery to the other subscribers.
type Subscriber interface {
	OnRequestUpdate(rec types.NetworkRequest) error
}

// MergeHook observes every merge regardless of the active filter,
// including the initial request-started insert. Used by the monitor to
// persist snapshots independently of subscriber visibility.
type MergeHook func(rec types.NetworkRequest)

// activeFilter is a RequestFilter compiled for evaluation. An invalid
// URL pattern compiles to a filter that matches nothing.
type activeFilter struct {
	pattern *regexp.Regexp
	invalid bool
	typeSet map[string]struct{}
	hasURL  bool
}

func compileFilter(f types.RequestFilter) activeFilter {
	af := activeFilter{}
	if f.URLPattern != "" {
		af.hasURL = true
		re, err := regexp.Compile(f.URLPattern)
		if err != nil {
			logging.TrackerWarn("invalid filter pattern %q: %v (rejecting all records)", f.URLPattern, err)
			af.invalid = true
		} else {
			af.pattern = re
		}
	}
	if len(f.Types) > 0 {
		af.typeSet = make(map[string]struct{}, len(f.Types))
		for _, t := range f.Types {
			af.typeSet[t] = struct{}{}
		}
	}
	return af
}

// passes evaluates the filter against a record. A configured URL pattern
// shadows the type set entirely; only when no pattern is set does type
// membership apply.
func (af activeFilter) passes(rec *types.NetworkRequest) bool {
	if af.hasURL {
		if af.invalid {
			return false
		}
		return af.pattern.MatchString(rec.URL)
	}
	if af.typeSet != nil {
		_, ok := af.typeSet[rec.Type]
		return ok
	}
	return true
}

// Tracker merges lifecycle events into per-identifier records and fans
// filter-passing updates out to subscribers. One mutex guards the table
// so merge-then-emit for a given identifier is atomic with respect to
// every other event.
type Tracker struct {
	mu       sync.Mutex
	requests map[string]*types.NetworkRequest
	filter   activeFilter
	subs     []Subscriber
	hook     MergeHook
	now      func() time.Time // swapped in tests
}

// New creates an empty tracker with a pass-everything filter.
func New() *Tracker {
	return &Tracker{
		requests: make(map[string]*types.NetworkRequest),
		now:      time.Now,
	}
}

// Subscribe registers a fan-out consumer.
func (t *Tracker) Subscribe(s Subscriber) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subs = append(t.subs, s)
}

// Unsubscribe removes a previously registered consumer by identity.
func (t *Tracker) Unsubscribe(s Subscriber) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, sub := range t.subs {
		if sub == s {
			t.subs = append(t.subs[:i], t.subs[i+1:]...)
			return
		}
	}
}

// SetMergeHook installs the unfiltered per-merge observer. At most one
// hook; passing nil removes it.
func (t *Tracker) SetMergeHook(h MergeHook) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hook = h
}

// SetFilter atomically replaces the active filter. Takes effect on the
// next merge; already-emitted records are not re-filtered.
func (t *Tracker) SetFilter(f types.RequestFilter) {
	compiled := compileFilter(f)
	t.mu.Lock()
	t.filter = compiled
	t.mu.Unlock()
	logging.Tracker("filter updated: pattern=%q types=%v", f.URLPattern, f.Types)
}

// OnRequestStarted inserts a new record for the identifier. A duplicate
// start (redirect) overwrites: last start wins. Events without an
// identifier are dropped.
func (t *Tracker) OnRequestStarted(id, method, url string, headers map[string]string, resourceType string) {
	if id == "" {
		return
	}
	rec := &types.NetworkRequest{
		ID:        id,
		Timestamp: t.now(),
		Method:    method,
		URL:       url,
		Headers:   copyHeaders(headers),
		Type:      resourceType,
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.requests[id] = rec
	logging.TrackerDebug("request started: id=%s %s %s type=%s", id, method, url, resourceType)
	if t.hook != nil {
		t.hook(*rec)
	}
}

// OnResponseReceived merges response status and headers. A no-op for
// unknown identifiers: the event belongs to an untracked or expired
// request and that is tolerated, not fatal.
func (t *Tracker) OnResponseReceived(id string, status int, responseHeaders map[string]string) {
	t.merge(id, func(rec *types.NetworkRequest) {
		rec.Status = status
		rec.ResponseHeaders = copyHeaders(responseHeaders)
	})
}

// OnLoadFinished merges the final byte counts.
func (t *Tracker) OnLoadFinished(id string, encodedDataLength int64) {
	t.merge(id, func(rec *types.NetworkRequest) {
		rec.EncodedDataLength = encodedDataLength
		rec.ResponseSize = encodedDataLength
	})
}

// OnLoadFailed records the failure description. The source sometimes
// omits the text; a generic fallback keeps the error field non-empty.
func (t *Tracker) OnLoadFailed(id, errorText string) {
	if errorText == "" {
		errorText = "unknown error"
	}
	t.merge(id, func(rec *types.NetworkRequest) {
		rec.Error = errorText
	})
}

// merge applies fn to the record for id and emits the result to
// subscribers when the active filter passes. Holding the lock across
// merge and emit is what makes the step atomic per identifier;
// subscribers must therefore not block.
func (t *Tracker) merge(id string, fn func(*types.NetworkRequest)) {
	if id == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.requests[id]
	if !ok {
		logging.TrackerDebug("event for unknown request id=%s dropped", id)
		return
	}
	fn(rec)
	snapshot := *rec

	if t.hook != nil {
		t.hook(snapshot)
	}
	if !t.filter.passes(rec) {
		return
	}
	for _, s := range t.subs {
		if err := s.OnRequestUpdate(snapshot); err != nil {
			logging.TrackerWarn("subscriber error for request %s: %v", id, err)
		}
	}
}

// SnapshotAll returns copies of every tracked record regardless of the
// active filter. Order is not significant.
func (t *Tracker) SnapshotAll() []types.NetworkRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]types.NetworkRequest, 0, len(t.requests))
	for _, rec := range t.requests {
		out = append(out, *rec)
	}
	return out
}

// Len returns the number of tracked records.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.requests)
}

// Clear drops the entire live table. Called on session stop; any event
// arriving afterward for a previously tracked identifier hits the
// unknown-id path and is dropped.
func (t *Tracker) Clear() {
	t.mu.Lock()
	n := len(t.requests)
	t.requests = make(map[string]*types.NetworkRequest)
	t.mu.Unlock()
	logging.Tracker("cleared %d tracked requests", n)
}

func copyHeaders(h map[string]string) map[string]string {
	if h == nil {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}
