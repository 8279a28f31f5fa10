// Package vad implements voice-activity detection: a pure transformer
// that reads recorded audio frames from a VoipIO leg, forwards only the
// voice-active ones downstream, and emits speech_start/speech_end
// commands at the transitions. Grounded on spec.md §2/§4.1 and on the
// teacher's G.711 framing constants (sebacius-switchboard's
// internal/rtpmanager/media/codec.go).
package vad

import (
	"context"
	"log/slog"
	"math"

	"github.com/sebas/switchboard/internal/messages"
	"github.com/zaf/g711"
)

// frameSamples matches the teacher's Codec{SampleRate: 8000, SampleDur:
// 20ms}.SamplesPerFrame(): 8000 * 20ms / 1s = 160 samples per frame.
const frameSamples = 160

// Detector consumes an audio stream and produces a gated audio stream
// plus speech_start/speech_end commands.
type Detector interface {
	// Run reads frames from in until it is closed or ctx is done, writing
	// voice-active frames to out and transition commands to events.
	Run(ctx context.Context, in <-chan messages.AudioFrame, out chan<- messages.AudioFrame, events chan<- *messages.Command, userID string)
}

// EnergyDetector gates G.711 frames on RMS energy against a threshold,
// with a short hangover so a single below-threshold frame mid-word
// doesn't fragment the utterance.
type EnergyDetector struct {
	Threshold    float64 // RMS threshold on a 16-bit linear scale
	HangoverTics int     // frames to keep "talking" true after energy drops
}

// NewEnergyDetector returns a detector with reasonable defaults.
func NewEnergyDetector() *EnergyDetector {
	return &EnergyDetector{Threshold: 400, HangoverTics: 10}
}

func (d *EnergyDetector) Run(ctx context.Context, in <-chan messages.AudioFrame, out chan<- messages.AudioFrame, events chan<- *messages.Command, userID string) {
	talking := false
	hangover := 0

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-in:
			if !ok {
				return
			}
			active := d.frameActive(frame)
			if active {
				hangover = d.HangoverTics
			} else if hangover > 0 {
				hangover--
				active = true
			}

			if active && !talking {
				talking = true
				d.emit(events, "speech_start", userID)
			} else if !active && talking {
				talking = false
				d.emit(events, "speech_end", userID)
			}

			if active {
				select {
				case out <- frame:
				case <-ctx.Done():
					return
				default:
					slog.Warn("vad: dropping frame, downstream full")
				}
			}
		}
	}
}

func (d *EnergyDetector) frameActive(frame messages.AudioFrame) bool {
	var linear []byte
	switch frame.Codec {
	case "PCMA":
		linear = g711.DecodeAlaw(frame.Payload)
	default:
		linear = g711.DecodeUlaw(frame.Payload)
	}
	if len(linear) < 2 {
		return false
	}

	var sumSquares float64
	n := 0
	for i := 0; i+1 < len(linear); i += 2 {
		sample := int16(linear[i]) | int16(linear[i+1])<<8
		sumSquares += float64(sample) * float64(sample)
		n++
	}
	if n == 0 {
		return false
	}
	rms := math.Sqrt(sumSquares / float64(n))
	return rms >= d.Threshold
}

func (d *EnergyDetector) emit(events chan<- *messages.Command, name, userID string) {
	cmd := messages.NewCommand(name, "VAD", "HUB").Set("user_id", userID)
	select {
	case events <- cmd:
	default:
		slog.Warn("vad: dropping event, hub channel full", "event", name)
	}
}
