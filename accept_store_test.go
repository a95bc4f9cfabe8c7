package main

import (
	"path/filepath"
	"testing"
	"time"
)

func TestAcceptStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accepts.db")
	s, err := newAcceptStore(path, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	now := time.Now()
	s.insert(AcceptEvent{
		Time:       now,
		MapperID:   1,
		WorkerHash: "abcd",
		Accepted:   true,
		Diff:       10000,
		Elapsed:    25 * time.Millisecond,
	})
	s.insert(AcceptEvent{
		Time:     now.Add(time.Second),
		MapperID: 1,
		Accepted: false,
		Donate:   true,
		Error:    "Low difficulty share",
	})

	rows, err := s.RecentEvents(10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	// Newest first.
	if rows[0].Accepted || !rows[0].Donate || rows[0].Error != "Low difficulty share" {
		t.Fatalf("newest row = %+v", rows[0])
	}
	if !rows[1].Accepted || rows[1].WorkerHash != "abcd" || rows[1].Diff != 10000 {
		t.Fatalf("oldest row = %+v", rows[1])
	}
	if rows[1].ElapsedMS != 25 {
		t.Fatalf("elapsed = %dms", rows[1].ElapsedMS)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestAcceptStoreDrainsQueueOnClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accepts.db")
	s, err := newAcceptStore(path, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for i := 0; i < 20; i++ {
		s.Record(AcceptEvent{Time: time.Now(), MapperID: i, Accepted: true})
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := newAcceptStore(path, 0)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	rows, err := reopened.RecentEvents(100)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(rows) != 20 {
		t.Fatalf("rows = %d, want 20", len(rows))
	}
}

func TestAcceptStoreNilSafe(t *testing.T) {
	var s *acceptStore
	s.Record(AcceptEvent{})
	if rows, err := s.RecentEvents(5); err != nil || rows != nil {
		t.Fatalf("nil store RecentEvents = %v, %v", rows, err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("nil close: %v", err)
	}
}
