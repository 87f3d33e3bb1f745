// Package store persists network request snapshots in SQLite and answers
// predicate-bundle queries over them. The store is independent of tracker
// lifetime: rows survive session stop and are pruned only by retention.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"netlens/internal/logging"
	"netlens/internal/types"
)

// RequestStore is a durable, queryable table of request snapshots.
// Thread-safe with a read-write mutex; the underlying handle is owned
// exclusively by this store.
type RequestStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// NewRequestStore opens (or creates) the SQLite database at path and
// ensures the schema exists. Use ":memory:" for an ephemeral store.
func NewRequestStore(path string) (*RequestStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewRequestStore")
	defer timer.Stop()

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open request store: %w", err)
	}

	s := &RequestStore{db: db, dbPath: path}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure request schema: %w", err)
	}

	logging.Store("RequestStore initialized at %s", path)
	return s, nil
}

// ensureSchema creates the requests table and its secondary indexes.
// Headers are stored as serialized JSON text; the flat layout mirrors the
// flat predicate set, there are no joins to support.
func (s *RequestStore) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS requests (
		id TEXT PRIMARY KEY,
		timestamp DATETIME NOT NULL,
		method TEXT NOT NULL,
		url TEXT NOT NULL,
		headers TEXT,
		type TEXT,
		status INTEGER DEFAULT 0,
		response_headers TEXT,
		response_size INTEGER DEFAULT 0,
		encoded_data_length INTEGER DEFAULT 0,
		response_body TEXT,
		error TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_requests_timestamp ON requests(timestamp);
	CREATE INDEX IF NOT EXISTS idx_requests_type ON requests(type);
	CREATE INDEX IF NOT EXISTS idx_requests_status ON requests(status);
	CREATE INDEX IF NOT EXISTS idx_requests_url ON requests(url);
	CREATE INDEX IF NOT EXISTS idx_requests_size ON requests(response_size);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Save upserts a full snapshot by identifier. The caller passes the whole
// merged record; every column is overwritten, the store does no
// field-level merging.
func (s *RequestStore) Save(rec types.NetworkRequest) error {
	if rec.ID == "" {
		return fmt.Errorf("request id required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	headersJSON, _ := json.Marshal(rec.Headers)
	responseHeadersJSON, _ := json.Marshal(rec.ResponseHeaders)

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO requests
		(id, timestamp, method, url, headers, type, status,
		 response_headers, response_size, encoded_data_length, response_body, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Timestamp, rec.Method, rec.URL, string(headersJSON),
		rec.Type, rec.Status, string(responseHeadersJSON),
		rec.ResponseSize, rec.EncodedDataLength, rec.ResponseBody, rec.Error,
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("failed to save request %s: %v", rec.ID, err)
		return err
	}

	logging.StoreDebug("saved request %s (%s %s status=%d)", rec.ID, rec.Method, rec.URL, rec.Status)
	return nil
}

// sortColumns whitelists RequestQuery.SortBy values. Anything else falls
// back to the timestamp sort.
var sortColumns = map[string]string{
	types.SortByTimestamp:    "timestamp",
	types.SortByResponseSize: "response_size",
	types.SortByStatus:       "status",
}

// Query returns the records matching every non-empty predicate in q,
// sorted descending by the requested column and paginated by
// offset/limit. Regexp and content-type predicates are evaluated in Go
// after the SQL predicates, so pagination is applied after them.
func (s *RequestStore) Query(q types.RequestQuery) ([]types.NetworkRequest, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Query")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var urlRe *regexp.Regexp
	if q.URLPattern != "" {
		re, err := regexp.Compile(q.URLPattern)
		if err != nil {
			return nil, fmt.Errorf("invalid url pattern: %w", err)
		}
		urlRe = re
	}

	where, args := buildPredicates(q)
	column, ok := sortColumns[q.SortBy]
	if !ok {
		column = "timestamp"
	}

	query := `
		SELECT id, timestamp, method, url, headers, type, status,
		       response_headers, response_size, encoded_data_length, response_body, error
		FROM requests`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY " + column + " DESC"

	// Regexp/content-type predicates run post-SQL; paginating in SQL
	// before them would under-return, so pagination moves to Go when
	// either is present.
	postFilter := urlRe != nil || q.ResponseContentType != ""
	limit := q.Limit
	if limit <= 0 {
		limit = types.DefaultQueryLimit
	}
	if !postFilter {
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, q.Offset)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("query failed: %v", err)
		return nil, err
	}
	defer rows.Close()

	records, err := scanRequests(rows)
	if err != nil {
		return nil, err
	}

	if postFilter {
		filtered := records[:0]
		for _, rec := range records {
			if urlRe != nil && !urlRe.MatchString(rec.URL) {
				continue
			}
			if q.ResponseContentType != "" && !strings.Contains(rec.ContentType(), q.ResponseContentType) {
				continue
			}
			filtered = append(filtered, rec)
		}
		records = filtered
		if q.Offset >= len(records) {
			records = nil
		} else {
			records = records[q.Offset:]
		}
		if len(records) > limit {
			records = records[:limit]
		}
	}

	logging.StoreDebug("query returned %d records", len(records))
	return records, nil
}

// buildPredicates translates the non-empty fields of q into SQL clauses.
// All predicates AND together; there is no OR support.
func buildPredicates(q types.RequestQuery) ([]string, []interface{}) {
	var where []string
	var args []interface{}

	if q.Type != "" && q.Type != "all" {
		where = append(where, "type = ?")
		args = append(args, q.Type)
	}
	if q.Method != "" {
		where = append(where, "method = ?")
		args = append(args, q.Method)
	}
	if q.Status != 0 {
		where = append(where, "status = ?")
		args = append(args, q.Status)
	}
	if q.URL != "" {
		where = append(where, "url LIKE ?")
		args = append(args, "%"+q.URL+"%")
	}
	if q.Error != "" {
		where = append(where, "error LIKE ?")
		args = append(args, "%"+q.Error+"%")
	}
	if !q.StartTime.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, q.StartTime)
	}
	if !q.EndTime.IsZero() {
		where = append(where, "timestamp <= ?")
		args = append(args, q.EndTime)
	}
	if q.MinResponseSize > 0 {
		where = append(where, "response_size >= ?")
		args = append(args, q.MinResponseSize)
	}
	if q.MaxResponseSize > 0 {
		where = append(where, "response_size <= ?")
		args = append(args, q.MaxResponseSize)
	}
	// A record that never received a response (status 0) fails every
	// numeric status predicate rather than erroring.
	if q.MinStatus > 0 || q.MaxStatus > 0 {
		min := q.MinStatus
		if min < 1 {
			min = 1
		}
		where = append(where, "status >= ?")
		args = append(args, min)
		if q.MaxStatus > 0 {
			where = append(where, "status <= ?")
			args = append(args, q.MaxStatus)
		}
	}
	return where, args
}

// Stats returns the total row count plus counts grouped by type and by
// numeric status.
func (s *RequestStore) Stats() (types.RequestStats, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Stats")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := types.RequestStats{
		TypeStats:   make(map[string]int64),
		StatusStats: make(map[int]int64),
	}

	if err := s.db.QueryRow("SELECT COUNT(*) FROM requests").Scan(&stats.TotalCount); err != nil {
		return stats, err
	}

	rows, err := s.db.Query("SELECT type, COUNT(*) FROM requests GROUP BY type")
	if err != nil {
		return stats, err
	}
	defer rows.Close()
	for rows.Next() {
		var typ sql.NullString
		var count int64
		if rows.Scan(&typ, &count) == nil {
			stats.TypeStats[typ.String] = count
		}
	}

	rows2, err := s.db.Query("SELECT status, COUNT(*) FROM requests GROUP BY status")
	if err != nil {
		return stats, err
	}
	defer rows2.Close()
	for rows2.Next() {
		var status int
		var count int64
		if rows2.Scan(&status, &count) == nil {
			stats.StatusStats[status] = count
		}
	}

	return stats, nil
}

// Prune deletes every record strictly older than now minus olderThanDays
// and returns the number of rows removed. Idempotent: pruning an
// already-pruned range returns 0.
func (s *RequestStore) Prune(olderThanDays int) (int64, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Prune")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	if olderThanDays < 0 {
		return 0, fmt.Errorf("retention days must not be negative")
	}

	cutoff := time.Now().AddDate(0, 0, -olderThanDays)
	result, err := s.db.Exec("DELETE FROM requests WHERE timestamp < ?", cutoff)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("prune failed: %v", err)
		return 0, err
	}

	removed, _ := result.RowsAffected()
	logging.Store("pruned %d requests older than %d days", removed, olderThanDays)
	return removed, nil
}

// Close releases the underlying database handle.
func (s *RequestStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	logging.Store("RequestStore closed (%s)", s.dbPath)
	return s.db.Close()
}

// scanRequests converts SQL rows into NetworkRequest values.
func scanRequests(rows *sql.Rows) ([]types.NetworkRequest, error) {
	var records []types.NetworkRequest
	for rows.Next() {
		var rec types.NetworkRequest
		var headersJSON, responseHeadersJSON sql.NullString
		var typ, body, errText sql.NullString

		err := rows.Scan(
			&rec.ID, &rec.Timestamp, &rec.Method, &rec.URL, &headersJSON,
			&typ, &rec.Status, &responseHeadersJSON,
			&rec.ResponseSize, &rec.EncodedDataLength, &body, &errText,
		)
		if err != nil {
			return nil, err
		}

		if typ.Valid {
			rec.Type = typ.String
		}
		if body.Valid {
			rec.ResponseBody = body.String
		}
		if errText.Valid {
			rec.Error = errText.String
		}
		if headersJSON.Valid && headersJSON.String != "" && headersJSON.String != "null" {
			json.Unmarshal([]byte(headersJSON.String), &rec.Headers)
		}
		if responseHeadersJSON.Valid && responseHeadersJSON.String != "" && responseHeadersJSON.String != "null" {
			json.Unmarshal([]byte(responseHeadersJSON.String), &rec.ResponseHeaders)
		}

		records = append(records, rec)
	}
	return records, rows.Err()
}
