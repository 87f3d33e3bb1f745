package tracker

import (
	"errors"
	"fmt"
	"testing"

	"netlens/internal/types"
)

// captureSub records every update it receives.
type captureSub struct {
	recs []types.NetworkRequest
	err  error
}

func (c *captureSub) OnRequestUpdate(rec types.NetworkRequest) error {
	c.recs = append(c.recs, rec)
	return c.err
}

func startReq(t *Tracker, id string) {
	t.OnRequestStarted(id, "GET", "https://example.com/api", map[string]string{"Accept": "application/json"}, "xhr")
}

func TestTracker_MergeUnion(t *testing.T) {
	// Any subset and order of post-start events must leave the record
	// holding the union of delivered fields, with undelivered fields at
	// their defaults.
	cases := []struct {
		name   string
		events []string // applied in order
	}{
		{"response_only", []string{"response"}},
		{"finished_only", []string{"finished"}},
		{"failed_only", []string{"failed"}},
		{"full_lifecycle", []string{"response", "finished"}},
		{"out_of_order", []string{"finished", "response"}},
		{"failed_after_response", []string{"response", "failed"}},
		{"no_terminal", nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr := New()
			startReq(tr, "req-1")

			delivered := map[string]bool{}
			for _, ev := range tc.events {
				delivered[ev] = true
				switch ev {
				case "response":
					tr.OnResponseReceived("req-1", 200, map[string]string{"Content-Type": "application/json"})
				case "finished":
					tr.OnLoadFinished("req-1", 512)
				case "failed":
					tr.OnLoadFailed("req-1", "net::ERR_FAILED")
				}
			}

			recs := tr.SnapshotAll()
			if len(recs) != 1 {
				t.Fatalf("expected 1 record, got %d", len(recs))
			}
			rec := recs[0]

			if rec.Method != "GET" || rec.URL != "https://example.com/api" || rec.Type != "xhr" {
				t.Errorf("request-side fields lost: %+v", rec)
			}
			if rec.Timestamp.IsZero() {
				t.Error("timestamp not set on start")
			}
			if delivered["response"] {
				if rec.Status != 200 || rec.ResponseHeaders["Content-Type"] != "application/json" {
					t.Errorf("response fields not merged: %+v", rec)
				}
			} else if rec.Status != 0 || rec.ResponseHeaders != nil {
				t.Errorf("response fields set without event: %+v", rec)
			}
			if delivered["finished"] {
				if rec.EncodedDataLength != 512 || rec.ResponseSize != 512 {
					t.Errorf("size fields not merged: %+v", rec)
				}
			} else if rec.EncodedDataLength != 0 || rec.ResponseSize != 0 {
				t.Errorf("size fields set without event: %+v", rec)
			}
			if delivered["failed"] {
				if rec.Error != "net::ERR_FAILED" {
					t.Errorf("error not merged: %+v", rec)
				}
			} else if rec.Error != "" {
				t.Errorf("error set without event: %+v", rec)
			}
		})
	}
}

func TestTracker_UnknownIDIsNoOp(t *testing.T) {
	tr := New()
	startReq(tr, "known")

	tr.OnResponseReceived("ghost", 200, nil)
	tr.OnLoadFinished("ghost", 100)
	tr.OnLoadFailed("ghost", "boom")

	recs := tr.SnapshotAll()
	if len(recs) != 1 {
		t.Fatalf("live table size changed: got %d records", len(recs))
	}
	if recs[0].ID != "known" || recs[0].Status != 0 {
		t.Errorf("known record mutated: %+v", recs[0])
	}
}

func TestTracker_DuplicateStartOverwrites(t *testing.T) {
	tr := New()
	startReq(tr, "req-1")
	tr.OnResponseReceived("req-1", 302, nil)

	// Redirect: a second start for the same id wins completely.
	tr.OnRequestStarted("req-1", "GET", "https://example.com/redirected", nil, "document")

	recs := tr.SnapshotAll()
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	if recs[0].URL != "https://example.com/redirected" {
		t.Errorf("last start did not win: %s", recs[0].URL)
	}
	if recs[0].Status != 0 {
		t.Errorf("stale response fields survived restart: %d", recs[0].Status)
	}
}

func TestTracker_MissingIDDropped(t *testing.T) {
	tr := New()
	tr.OnRequestStarted("", "GET", "https://example.com", nil, "xhr")
	if tr.Len() != 0 {
		t.Fatalf("malformed start created a record")
	}
}

func TestTracker_URLPatternFilter(t *testing.T) {
	tr := New()
	sub := &captureSub{}
	tr.Subscribe(sub)
	tr.SetFilter(types.RequestFilter{URLPattern: `example\.com`})

	tr.OnRequestStarted("match", "GET", "https://example.com/x", nil, "xhr")
	tr.OnResponseReceived("match", 200, nil)
	if len(sub.recs) != 1 {
		t.Fatalf("expected exactly one fan-out call, got %d", len(sub.recs))
	}

	tr.OnRequestStarted("miss", "GET", "https://other.com", nil, "xhr")
	tr.OnResponseReceived("miss", 200, nil)
	if len(sub.recs) != 1 {
		t.Fatalf("non-matching record was emitted, got %d calls", len(sub.recs))
	}
}

func TestTracker_InvalidPatternRejectsEverything(t *testing.T) {
	tr := New()
	sub := &captureSub{}
	tr.Subscribe(sub)
	tr.SetFilter(types.RequestFilter{URLPattern: "["})

	tr.OnRequestStarted("req-1", "GET", "https://example.com", nil, "xhr")
	tr.OnResponseReceived("req-1", 200, nil)
	tr.OnLoadFinished("req-1", 10)

	if len(sub.recs) != 0 {
		t.Fatalf("invalid pattern emitted %d updates", len(sub.recs))
	}
	// The record is still tracked; only delivery is suppressed.
	if tr.Len() != 1 {
		t.Fatalf("invalid pattern affected the live table")
	}
}

func TestTracker_URLPatternShadowsTypeSet(t *testing.T) {
	tr := New()
	sub := &captureSub{}
	tr.Subscribe(sub)
	// Both predicates configured: the pattern alone decides, so an xhr
	// exclusion in the type set is ignored for a matching URL.
	tr.SetFilter(types.RequestFilter{URLPattern: `example\.com`, Types: []string{"document"}})

	tr.OnRequestStarted("req-1", "GET", "https://example.com/x", nil, "xhr")
	tr.OnResponseReceived("req-1", 200, nil)

	if len(sub.recs) != 1 {
		t.Fatalf("type set was not shadowed by the url pattern: %d calls", len(sub.recs))
	}
}

func TestTracker_TypeFilter(t *testing.T) {
	tr := New()
	sub := &captureSub{}
	tr.Subscribe(sub)
	tr.SetFilter(types.RequestFilter{Types: []string{"xhr", "fetch"}})

	tr.OnRequestStarted("a", "GET", "https://example.com/a", nil, "xhr")
	tr.OnResponseReceived("a", 200, nil)
	tr.OnRequestStarted("b", "GET", "https://example.com/b", nil, "image")
	tr.OnResponseReceived("b", 200, nil)

	if len(sub.recs) != 1 || sub.recs[0].ID != "a" {
		t.Fatalf("type filter mismatch: %+v", sub.recs)
	}
}

func TestTracker_LoadFailedDefaultText(t *testing.T) {
	tr := New()
	startReq(tr, "req-1")
	tr.OnLoadFailed("req-1", "")

	recs := tr.SnapshotAll()
	if recs[0].Error != "unknown error" {
		t.Fatalf("missing error text not defaulted: %q", recs[0].Error)
	}
}

func TestTracker_SubscriberFailureIsolated(t *testing.T) {
	tr := New()
	failing := &captureSub{err: errors.New("subscriber down")}
	healthy := &captureSub{}
	tr.Subscribe(failing)
	tr.Subscribe(healthy)

	startReq(tr, "req-1")
	tr.OnResponseReceived("req-1", 200, nil)

	if len(healthy.recs) != 1 {
		t.Fatalf("failing subscriber blocked delivery: %d calls", len(healthy.recs))
	}
}

func TestTracker_Unsubscribe(t *testing.T) {
	tr := New()
	sub := &captureSub{}
	tr.Subscribe(sub)
	tr.Unsubscribe(sub)

	startReq(tr, "req-1")
	tr.OnResponseReceived("req-1", 200, nil)

	if len(sub.recs) != 0 {
		t.Fatalf("unsubscribed consumer still received %d updates", len(sub.recs))
	}
}

func TestTracker_MergeHookSeesEveryMerge(t *testing.T) {
	tr := New()
	var merges []string
	tr.SetMergeHook(func(rec types.NetworkRequest) {
		merges = append(merges, fmt.Sprintf("%s:%d", rec.ID, rec.Status))
	})
	// Filter that passes nothing; the hook must still fire.
	tr.SetFilter(types.RequestFilter{Types: []string{"nothing"}})

	startReq(tr, "req-1")
	tr.OnResponseReceived("req-1", 200, nil)
	tr.OnLoadFinished("req-1", 64)

	if len(merges) != 3 {
		t.Fatalf("hook fired %d times, want 3 (start + 2 merges)", len(merges))
	}
	if merges[0] != "req-1:0" || merges[1] != "req-1:200" {
		t.Errorf("hook snapshots out of order: %v", merges)
	}
}

func TestTracker_ClearThenUnknown(t *testing.T) {
	tr := New()
	sub := &captureSub{}
	tr.Subscribe(sub)

	startReq(tr, "req-1")
	tr.OnResponseReceived("req-1", 200, nil)
	tr.Clear()

	if got := len(tr.SnapshotAll()); got != 0 {
		t.Fatalf("clear left %d records", got)
	}

	// A previously known identifier is now unknown: no-op, no fan-out.
	before := len(sub.recs)
	tr.OnLoadFinished("req-1", 100)
	if tr.Len() != 0 || len(sub.recs) != before {
		t.Fatalf("event after clear was not treated as unknown")
	}
}

func TestTracker_SnapshotAllIgnoresFilter(t *testing.T) {
	tr := New()
	tr.SetFilter(types.RequestFilter{URLPattern: `nomatch\.invalid`})

	startReq(tr, "a")
	startReq(tr, "b")

	if got := len(tr.SnapshotAll()); got != 2 {
		t.Fatalf("snapshot filtered records: got %d, want 2", got)
	}
}
