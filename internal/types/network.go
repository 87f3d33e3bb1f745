// Package types holds the network telemetry data model shared by the
// tracker, store, and monitor layers. Zero dependencies so every layer can
// import it without cycles.
package types

import "time"

// NetworkRequest is the mutable aggregate for one browser request,
// keyed by the DevTools request identifier. A record exists only after
// the request-started event; response-side fields stay at their zero
// value until the corresponding lifecycle event arrives. Fields only
// ever gain information, never revert.
type NetworkRequest struct {
	ID                string            `json:"id"`
	Timestamp         time.Time         `json:"timestamp"`
	Method            string            `json:"method"`
	URL               string            `json:"url"`
	Headers           map[string]string `json:"headers,omitempty"`
	Type              string            `json:"type,omitempty"` // xhr, fetch, document, script, ...
	Status            int               `json:"status,omitempty"`
	ResponseHeaders   map[string]string `json:"response_headers,omitempty"`
	ResponseSize      int64             `json:"response_size,omitempty"`
	EncodedDataLength int64             `json:"encoded_data_length,omitempty"`
	ResponseBody      string            `json:"response_body,omitempty"` // fetched out-of-band, often empty
	Error             string            `json:"error,omitempty"`
}

// ContentType returns the response Content-Type header value, if any.
// Header casing varies between servers so the lookup is case-insensitive
// over the common spellings.
func (r NetworkRequest) ContentType() string {
	for _, k := range []string{"content-type", "Content-Type", "Content-type"} {
		if v, ok := r.ResponseHeaders[k]; ok {
			return v
		}
	}
	return ""
}

// RequestFilter limits which merged records are delivered to live
// subscribers. Both fields are optional. When URLPattern is set it is the
// only predicate applied: the type set is shadowed, not ANDed. Pinned by
// tests; changing it to a conjunction would silently drop records for
// existing filter configs.
type RequestFilter struct {
	URLPattern string   `json:"url_pattern,omitempty" yaml:"url_pattern"`
	Types      []string `json:"types,omitempty" yaml:"types"`
}

// IsZero reports whether the filter has no predicates configured.
func (f RequestFilter) IsZero() bool {
	return f.URLPattern == "" && len(f.Types) == 0
}

// Sort keys accepted by RequestQuery.SortBy.
const (
	SortByTimestamp    = "timestamp"
	SortByResponseSize = "responseSize"
	SortByStatus       = "status"
)

// DefaultQueryLimit caps an unbounded query.
const DefaultQueryLimit = 100

// RequestQuery is a conjunctive predicate bundle over the request store.
// Zero-valued fields are absent predicates; an empty query returns the
// most recent records up to the default limit. MinStatus/MaxStatus form a
// range independent of the exact Status predicate.
type RequestQuery struct {
	Type                string    `json:"type,omitempty"` // "" and "all" match everything
	Method              string    `json:"method,omitempty"`
	Status              int       `json:"status,omitempty"`
	URL                 string    `json:"url,omitempty"` // substring
	URLPattern          string    `json:"url_pattern,omitempty"`
	Error               string    `json:"error,omitempty"` // substring
	ResponseContentType string    `json:"response_content_type,omitempty"`
	StartTime           time.Time `json:"start_time,omitempty"`
	EndTime             time.Time `json:"end_time,omitempty"`
	MinResponseSize     int64     `json:"min_response_size,omitempty"`
	MaxResponseSize     int64     `json:"max_response_size,omitempty"`
	MinStatus           int       `json:"min_status,omitempty"`
	MaxStatus           int       `json:"max_status,omitempty"`
	SortBy              string    `json:"sort_by,omitempty"`
	Limit               int       `json:"limit,omitempty"`
	Offset              int       `json:"offset,omitempty"`
}

// RequestStats aggregates the store contents: total row count plus counts
// grouped by type and by status. Map iteration order is not significant.
type RequestStats struct {
	TotalCount  int64            `json:"total_count"`
	TypeStats   map[string]int64 `json:"type_stats"`
	StatusStats map[int]int64    `json:"status_stats"`
}
