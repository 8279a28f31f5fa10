package voip

import (
	"testing"
	"time"

	"github.com/sebas/switchboard/internal/messages"
)

func newTestWorker(t *testing.T) (*SIPVoipIO, *Worker) {
	t.Helper()
	worker := NewWorker()
	v, err := New(Config{Role: RoleCallee, AdvertiseAddr: "127.0.0.1", Port: 15060}, worker)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return v, worker
}

func TestBlacklistExpiry(t *testing.T) {
	v, _ := newTestWorker(t)

	v.mu.Lock()
	v.blacklist["sip:mallory"] = time.Now().Add(time.Hour)
	v.mu.Unlock()

	if !v.isBlacklisted("sip:mallory") {
		t.Fatal("expected sip:mallory to be blacklisted")
	}

	v.mu.Lock()
	v.blacklist["sip:old"] = time.Now().Add(-time.Hour)
	v.mu.Unlock()

	if v.isBlacklisted("sip:old") {
		t.Fatal("expired blacklist entry should no longer apply")
	}
}

func TestDrainPlayEmptiesChannel(t *testing.T) {
	v, worker := newTestWorker(t)

	worker.PlayIn <- messages.AudioFrame{Payload: []byte{1}}
	worker.PlayIn <- messages.AudioFrame{Payload: []byte{2}}

	v.drainPlay()

	if len(worker.PlayIn) != 0 {
		t.Fatalf("expected PlayIn to be drained, len=%d", len(worker.PlayIn))
	}
}

func TestHandleCommandBlacklist(t *testing.T) {
	v, worker := newTestWorker(t)

	cmd := messages.NewCommand("black_list", "HUB", "VOIP1").
		Set("remote_uri", "sip:mallory").
		Set("expire", time.Now().Add(time.Hour).Format(time.RFC3339))
	v.handleCommand(nil, cmd)

	if !v.isBlacklisted("sip:mallory") {
		t.Fatal("black_list command should have blacklisted the URI")
	}
	_ = worker
}
