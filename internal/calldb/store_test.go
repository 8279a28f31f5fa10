package calldb

import (
	"path/filepath"
	"testing"
	"time"
)

func TestOpenMissingFileStartsEmpty(t *testing.T) {
	s := Open(filepath.Join(t.TempDir(), "nope.json"))
	if len(s.URIs()) != 0 {
		t.Fatalf("expected empty database")
	}
}

func TestAppendAndCloseRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calls.json")
	s := Open(path)

	start := time.Now().Add(-time.Minute)
	if err := s.AppendOpen("sip:alice", start); err != nil {
		t.Fatalf("AppendOpen: %v", err)
	}

	total, _, last24, _ := s.Stats("sip:alice", time.Now())
	if total != 0 || last24 != 0 {
		t.Fatalf("open record must not count: total=%d last24=%d", total, last24)
	}

	end := start.Add(30 * time.Second)
	closed, err := s.CloseLast("sip:alice", end)
	if err != nil {
		t.Fatalf("CloseLast: %v", err)
	}
	if !closed {
		t.Fatal("expected an open record to close")
	}

	reloaded := Open(path)
	total, totalSecs, last24, last24Secs := reloaded.Stats("sip:alice", time.Now())
	if total != 1 || last24 != 1 {
		t.Fatalf("total=%d last24=%d", total, last24)
	}
	if totalSecs < 29 || totalSecs > 31 || last24Secs < 29 || last24Secs > 31 {
		t.Fatalf("unexpected durations: total=%v last24=%v", totalSecs, last24Secs)
	}

	closedAgain, err := s.CloseLast("sip:alice", end)
	if err != nil {
		t.Fatalf("CloseLast: %v", err)
	}
	if closedAgain {
		t.Fatal("closing an already-closed record should be a no-op")
	}
}

func TestStatsMissingURI(t *testing.T) {
	s := Open(filepath.Join(t.TempDir(), "calls.json"))
	total, secs, last24, last24Secs := s.Stats("sip:nobody", time.Now())
	if total != 0 || secs != 0 || last24 != 0 || last24Secs != 0 {
		t.Fatalf("expected all zeros, got %d %v %d %v", total, secs, last24, last24Secs)
	}
}

func TestStatsExcludesOlderThan24h(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calls.json")
	s := Open(path)

	old := time.Now().Add(-48 * time.Hour)
	if err := s.AppendOpen("sip:bob", old); err != nil {
		t.Fatalf("AppendOpen: %v", err)
	}
	if _, err := s.CloseLast("sip:bob", old.Add(10*time.Second)); err != nil {
		t.Fatalf("CloseLast: %v", err)
	}

	total, _, last24, _ := s.Stats("sip:bob", time.Now())
	if total != 1 {
		t.Fatalf("total = %d, want 1", total)
	}
	if last24 != 0 {
		t.Fatalf("last24 = %d, want 0 for a call outside the window", last24)
	}
}
