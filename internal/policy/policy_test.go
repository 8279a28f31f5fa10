package policy

import (
	"testing"
	"time"
)

func TestExceeded(t *testing.T) {
	b := Blacklist{Last24MaxNumCalls: 50, Last24MaxTotalTime: 100 * time.Second}

	if b.Exceeded(50, 50*time.Second) {
		t.Fatal("at the limit should not be exceeded")
	}
	if !b.Exceeded(51, 0) {
		t.Fatal("over the call-count limit should be exceeded")
	}
	if !b.Exceeded(0, 101*time.Second) {
		t.Fatal("over the time limit should be exceeded")
	}
}
