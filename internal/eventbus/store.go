package eventbus

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// sqliteHistorySchema mirrors observability.MetricsManager's single flat
// timeseries table, specialized to event envelopes.
const sqliteHistorySchema = `
CREATE TABLE IF NOT EXISTS event_log (
	seq        INTEGER PRIMARY KEY,
	kind       TEXT NOT NULL,
	page       TEXT NOT NULL DEFAULT '',
	action     TEXT NOT NULL DEFAULT '',
	at         INTEGER NOT NULL,
	payload    TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_event_log_at ON event_log(at);
CREATE INDEX IF NOT EXISTS idx_event_log_action ON event_log(action);
`

// SQLiteHistoryStore buffers EventEnvelopes and flushes them to SQLite in
// batches. A full buffer is flushed synchronously inside Append, so Publish
// waits for that write instead of losing the envelope, the same shape
// observability.MetricsManager uses for metrics.
type SQLiteHistoryStore struct {
	db            *sql.DB
	bufferSize    int
	flushInterval time.Duration
	retention     RetentionPolicy
	logger        *slog.Logger

	mu     sync.Mutex
	buffer []EventEnvelope

	stop chan struct{}
	done chan struct{}
}

// NewSQLiteHistoryStore creates a durable tier backed by db. The caller
// owns db's lifetime beyond Close only if it opened db itself; Close here
// only stops the flush loop and performs one final flush.
func NewSQLiteHistoryStore(db *sql.DB, bufferSize int, flushInterval time.Duration, retention RetentionPolicy, logger *slog.Logger) (*SQLiteHistoryStore, error) {
	if _, err := db.Exec(sqliteHistorySchema); err != nil {
		return nil, fmt.Errorf("eventbus: create schema: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	s := &SQLiteHistoryStore{
		db:            db,
		bufferSize:    bufferSize,
		flushInterval: flushInterval,
		retention:     retention,
		logger:        logger,
		buffer:        make([]EventEnvelope, 0, bufferSize),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	go s.flushLoop()
	return s, nil
}

// Append queues an envelope for async persistence.
func (s *SQLiteHistoryStore) Append(e EventEnvelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffer = append(s.buffer, e)
	if len(s.buffer) >= s.bufferSize {
		s.flushLocked()
	}
}

// Query retrieves envelopes matching the given time range and/or action id.
func (s *SQLiteHistoryStore) Query(start, end *time.Time, actionID string, limit int) ([]EventEnvelope, error) {
	q := "SELECT seq, kind, page, action, at, payload FROM event_log WHERE 1=1"
	var args []any
	if start != nil {
		q += " AND at >= ?"
		args = append(args, start.Unix())
	}
	if end != nil {
		q += " AND at <= ?"
		args = append(args, end.Unix())
	}
	if actionID != "" {
		q += " AND action = ?"
		args = append(args, actionID)
	}
	q += " ORDER BY seq DESC"
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("eventbus: query history: %w", err)
	}
	defer rows.Close()

	var out []EventEnvelope
	for rows.Next() {
		var e EventEnvelope
		var at int64
		var payload string
		if err := rows.Scan(&e.Seq, &e.Kind, &e.Page, &e.Action, &at, &payload); err != nil {
			return nil, fmt.Errorf("eventbus: scan history row: %w", err)
		}
		e.At = time.Unix(at, 0)
		if payload != "" {
			var v any
			if json.Unmarshal([]byte(payload), &v) == nil {
				e.Payload = v
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Cleanup enforces the retention policy's MaxAge by deleting older rows.
// MaxEntries is enforced opportunistically on each flush, not here.
func (s *SQLiteHistoryStore) Cleanup(ctx context.Context) (int64, error) {
	if s.retention.MaxAge <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-s.retention.MaxAge).Unix()
	res, err := s.db.ExecContext(ctx, "DELETE FROM event_log WHERE at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("eventbus: cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close flushes remaining envelopes and stops the background goroutine.
func (s *SQLiteHistoryStore) Close() error {
	close(s.stop)
	<-s.done
	return nil
}

func (s *SQLiteHistoryStore) flushLoop() {
	defer close(s.done)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			s.mu.Lock()
			s.flushLocked()
			s.mu.Unlock()
			return
		case <-ticker.C:
			s.mu.Lock()
			s.flushLocked()
			s.mu.Unlock()
		}
	}
}

func (s *SQLiteHistoryStore) flushLocked() {
	if len(s.buffer) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.logger.Error("eventbus: begin tx", "error", err)
		return
	}
	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO event_log (seq, kind, page, action, at, payload) VALUES (?,?,?,?,?,?)")
	if err != nil {
		tx.Rollback()
		s.logger.Error("eventbus: prepare", "error", err)
		return
	}
	defer stmt.Close()

	for _, e := range s.buffer {
		var payload string
		if e.Payload != nil {
			if b, err := json.Marshal(e.Payload); err == nil {
				payload = string(b)
			}
		}
		if _, err := stmt.ExecContext(ctx, e.Seq, e.Kind, e.Page, e.Action, e.At.Unix(), payload); err != nil {
			s.logger.Error("eventbus: insert", "error", err, "seq", e.Seq)
		}
	}

	if s.retention.MaxEntries > 0 {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM event_log WHERE seq NOT IN (SELECT seq FROM event_log ORDER BY seq DESC LIMIT ?)",
			s.retention.MaxEntries); err != nil {
			s.logger.Error("eventbus: enforce max entries", "error", err)
		}
	}

	if err := tx.Commit(); err != nil {
		s.logger.Error("eventbus: commit", "error", err)
		return
	}
	s.buffer = s.buffer[:0]
}
