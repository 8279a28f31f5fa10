package tts

import (
	"context"
	"testing"
	"time"

	"github.com/sebas/switchboard/internal/messages"
)

func TestToneSynthesizerEmitsStartAudioEnd(t *testing.T) {
	ts := NewToneSynthesizer()

	commands := make(chan *messages.Command, 1)
	audioOut := make(chan messages.AudioFrame, 64)
	events := make(chan *messages.Command, 4)

	commands <- messages.NewCommand("synthesize", "HUB", "TTS1").Set("user_id", "0").Set("text", "hello")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		ts.Run(ctx, commands, audioOut, events)
		close(done)
	}()

	start := <-events
	if start.Name != "play_utterance_start" {
		t.Fatalf("expected play_utterance_start, got %s", start.Name)
	}

	if len(audioOut) == 0 {
		time.Sleep(10 * time.Millisecond)
	}

	end := <-events
	if end.Name != "play_utterance_end" {
		t.Fatalf("expected play_utterance_end, got %s", end.Name)
	}
	if uid, _ := end.Arg("user_id"); uid != "0" {
		t.Fatalf("expected user_id to round-trip, got %q", uid)
	}
	if len(audioOut) == 0 {
		t.Fatal("expected at least one audio frame to have been produced")
	}

	cancel()
	<-done
}
