// Package tts implements the text-to-speech worker: it accepts
// synthesize/flush/stop commands from the hub and emits
// play_utterance_start/play_utterance_end events plus audio frames,
// mirroring the original's play_intro sequencing (see
// original_source/alex/applications/Switchboard/sw_hub.py). Since no
// real speech engine is in scope, ToneSynthesizer renders each string
// as a tone whose duration is proportional to its length — enough to
// drive the hub's play_utterance_end-gated state machine realistically.
package tts

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/sebas/switchboard/internal/messages"
	"github.com/zaf/g711"
)

const (
	sampleRate     = 8000
	frameDuration  = 20 * time.Millisecond
	frameSamples   = sampleRate * int(frameDuration) / int(time.Second)
	msPerCharacter = 60 * time.Millisecond
	minUtterance   = 300 * time.Millisecond
)

// Synthesizer turns "synthesize" commands into audio frames and
// utterance-boundary events.
type Synthesizer interface {
	Run(ctx context.Context, commands <-chan *messages.Command, audioOut chan<- messages.AudioFrame, events chan<- *messages.Command)
}

// ToneSynthesizer renders a fixed tone for each utterance's duration,
// then one frame of silence, so downstream VAD/recording sees distinct
// energy envelopes per utterance without needing a real voice engine.
type ToneSynthesizer struct {
	ToneHz float64
}

// NewToneSynthesizer returns a synthesizer using a pleasant mid-range tone.
func NewToneSynthesizer() *ToneSynthesizer {
	return &ToneSynthesizer{ToneHz: 440}
}

func (t *ToneSynthesizer) Run(ctx context.Context, commands <-chan *messages.Command, audioOut chan<- messages.AudioFrame, events chan<- *messages.Command) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-commands:
			if !ok {
				return
			}
			switch cmd.Name {
			case "synthesize":
				t.synthesize(ctx, cmd, audioOut, events)
			case "flush", "stop":
				// Nothing buffered between commands in this implementation;
				// acknowledged by doing nothing, matching a synchronous engine.
			default:
				slog.Warn("tts: unknown command", "name", cmd.Name)
			}
		}
	}
}

func (t *ToneSynthesizer) synthesize(ctx context.Context, cmd *messages.Command, audioOut chan<- messages.AudioFrame, events chan<- *messages.Command) {
	userID, _ := cmd.Arg("user_id")
	text, _ := cmd.Arg("text")

	t.emit(events, "play_utterance_start", userID)

	duration := time.Duration(len(text)) * msPerCharacter
	if duration < minUtterance {
		duration = minUtterance
	}
	frames := int(duration / frameDuration)

	for i := 0; i < frames; i++ {
		frame := messages.AudioFrame{
			Payload:    g711.EncodeUlaw(t.toneSamples(i)),
			Codec:      "PCMU",
			SampleRate: sampleRate,
			Timestamp:  uint32(i * frameSamples),
		}
		select {
		case audioOut <- frame:
		case <-ctx.Done():
			return
		}
	}

	silence := messages.AudioFrame{
		Payload:    g711.EncodeUlaw(make([]byte, frameSamples*2)),
		Codec:      "PCMU",
		SampleRate: sampleRate,
		Timestamp:  uint32(frames * frameSamples),
	}
	select {
	case audioOut <- silence:
	case <-ctx.Done():
		return
	}

	t.emit(events, "play_utterance_end", userID)
}

// toneSamples renders one 20ms frame of a sine tone at frame index i,
// as 16-bit little-endian linear PCM ready for G.711 encoding.
func (t *ToneSynthesizer) toneSamples(i int) []byte {
	out := make([]byte, frameSamples*2)
	phaseStep := 2 * math.Pi * t.ToneHz / sampleRate
	for n := 0; n < frameSamples; n++ {
		angle := phaseStep * float64(i*frameSamples+n)
		sample := int16(8000 * math.Sin(angle))
		out[2*n] = byte(sample)
		out[2*n+1] = byte(sample >> 8)
	}
	return out
}

func (t *ToneSynthesizer) emit(events chan<- *messages.Command, name, userID string) {
	cmd := messages.NewCommand(name, "TTS", "HUB").Set("user_id", userID)
	select {
	case events <- cmd:
	default:
		slog.Warn("tts: dropping event, hub channel full", "event", name)
	}
}
