package main

import (
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const (
	acceptStoreQueueSize = 1024
	// acceptHistoryPruneEvery controls how many inserts pass between
	// retention sweeps.
	acceptHistoryPruneEvery = 500
)

// acceptStore persists share outcomes to SQLite so operators can inspect
// accept history across restarts. Writes are queued and applied on a
// single goroutine; a full queue drops events rather than stalling the
// share path.
type acceptStore struct {
	db      *sql.DB
	queue   chan AcceptEvent
	done    chan struct{}
	wg      sync.WaitGroup
	keep    time.Duration
	inserts int
	dropped int

	mu sync.Mutex
}

func newAcceptStore(path string, keep time.Duration) (*acceptStore, error) {
	if path == "" {
		return nil, os.ErrInvalid
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path+"?_foreign_keys=1&_journal=WAL")
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS accept_events (
			at INTEGER NOT NULL,
			mapper INTEGER NOT NULL,
			worker_hash TEXT NOT NULL,
			accepted INTEGER NOT NULL,
			donate INTEGER NOT NULL,
			diff INTEGER NOT NULL,
			elapsed_ms INTEGER NOT NULL,
			error TEXT NOT NULL DEFAULT ''
		)
	`); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS accept_events_at_idx ON accept_events (at)`); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := addAcceptEventsErrorColumn(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &acceptStore{
		db:    db,
		queue: make(chan AcceptEvent, acceptStoreQueueSize),
		done:  make(chan struct{}),
		keep:  keep,
	}
	s.wg.Add(1)
	go s.writer()
	return s, nil
}

// addAcceptEventsErrorColumn upgrades databases created before the error
// column existed.
func addAcceptEventsErrorColumn(db *sql.DB) error {
	if db == nil {
		return nil
	}
	_, err := db.Exec(`ALTER TABLE accept_events ADD COLUMN error TEXT NOT NULL DEFAULT ''`)
	if err != nil && !strings.Contains(err.Error(), "duplicate column name") {
		return err
	}
	return nil
}

// Record queues an event for persistence. Never blocks the caller.
func (s *acceptStore) Record(ev AcceptEvent) {
	if s == nil {
		return
	}
	select {
	case s.queue <- ev:
	default:
		s.mu.Lock()
		s.dropped++
		n := s.dropped
		s.mu.Unlock()
		if n == 1 || n%1000 == 0 {
			logger.Warn("accept store queue full, dropping events", "dropped", n)
		}
	}
}

func (s *acceptStore) writer() {
	defer s.wg.Done()
	for {
		select {
		case ev := <-s.queue:
			s.insert(ev)
		case <-s.done:
			for {
				select {
				case ev := <-s.queue:
					s.insert(ev)
				default:
					return
				}
			}
		}
	}
}

func (s *acceptStore) insert(ev AcceptEvent) {
	accepted := 0
	if ev.Accepted {
		accepted = 1
	}
	donate := 0
	if ev.Donate {
		donate = 1
	}
	_, err := s.db.Exec(
		`INSERT INTO accept_events (at, mapper, worker_hash, accepted, donate, diff, elapsed_ms, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.Time.Unix(), ev.MapperID, ev.WorkerHash, accepted, donate,
		int64(ev.Diff), ev.Elapsed.Milliseconds(), ev.Error,
	)
	if err != nil {
		logger.Error("insert accept event", "error", err)
		return
	}
	s.inserts++
	if s.keep > 0 && s.inserts%acceptHistoryPruneEvery == 0 {
		s.prune()
	}
}

func (s *acceptStore) prune() {
	cutoff := time.Now().Add(-s.keep).Unix()
	if _, err := s.db.Exec(`DELETE FROM accept_events WHERE at < ?`, cutoff); err != nil {
		logger.Error("prune accept events", "error", err)
	}
}

// acceptHistoryRow is the status-server view of one stored event.
type acceptHistoryRow struct {
	At         int64  `json:"at"`
	Mapper     int    `json:"mapper"`
	WorkerHash string `json:"worker_hash"`
	Accepted   bool   `json:"accepted"`
	Donate     bool   `json:"donate"`
	Diff       uint64 `json:"diff"`
	ElapsedMS  int64  `json:"elapsed_ms"`
	Error      string `json:"error,omitempty"`
}

// RecentEvents returns up to limit stored events, newest first.
func (s *acceptStore) RecentEvents(limit int) ([]acceptHistoryRow, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT at, mapper, worker_hash, accepted, donate, diff, elapsed_ms, error
		 FROM accept_events ORDER BY at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []acceptHistoryRow
	for rows.Next() {
		var r acceptHistoryRow
		var accepted, donate int
		var diff int64
		if err := rows.Scan(&r.At, &r.Mapper, &r.WorkerHash, &accepted, &donate, &diff, &r.ElapsedMS, &r.Error); err != nil {
			return nil, err
		}
		r.Accepted = accepted != 0
		r.Donate = donate != 0
		r.Diff = uint64(diff)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close drains the queue and closes the database.
func (s *acceptStore) Close() error {
	if s == nil {
		return nil
	}
	close(s.done)
	s.wg.Wait()
	return s.db.Close()
}
