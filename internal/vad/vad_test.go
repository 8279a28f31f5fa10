package vad

import (
	"context"
	"testing"
	"time"

	"github.com/sebas/switchboard/internal/messages"
	"github.com/zaf/g711"
)

func silenceFrame() messages.AudioFrame {
	linear := make([]byte, frameSamples*2)
	return messages.AudioFrame{Payload: g711.EncodeUlaw(linear), Codec: "PCMU"}
}

func loudFrame() messages.AudioFrame {
	linear := make([]byte, frameSamples*2)
	for i := 0; i+1 < len(linear); i += 2 {
		linear[i] = 0xFF
		linear[i+1] = 0x7F
	}
	return messages.AudioFrame{Payload: g711.EncodeUlaw(linear), Codec: "PCMU"}
}

func TestEnergyDetectorEmitsSpeechStartAndEnd(t *testing.T) {
	d := &EnergyDetector{Threshold: 400, HangoverTics: 0}

	in := make(chan messages.AudioFrame, 4)
	out := make(chan messages.AudioFrame, 4)
	events := make(chan *messages.Command, 4)

	in <- silenceFrame()
	in <- loudFrame()
	in <- silenceFrame()
	close(in)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	d.Run(ctx, in, out, events, "u1")

	var names []string
	for {
		select {
		case cmd := <-events:
			names = append(names, cmd.Name)
		default:
			goto done
		}
	}
done:
	if len(names) != 2 || names[0] != "speech_start" || names[1] != "speech_end" {
		t.Fatalf("unexpected events: %v", names)
	}
	if len(out) != 1 {
		t.Fatalf("expected exactly one voice-active frame forwarded, got %d", len(out))
	}
}
