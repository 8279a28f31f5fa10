package hub

import (
	"log/slog"
	"time"
)

// evaluateTimeTransitions implements spec.md §4.1's "Time-driven
// transitions": deferred hangups, the post-reject hangup, and the
// two-phase max-call-length wind-down, each leg in turn.
func (h *Hub) evaluateTimeTransitions(now time.Time) {
	h.deferredHangup(now)
	h.postRejectHangup(now)
	h.maxCallLength1(now)
	h.maxCallLength2(now)
}

// deferredHangup: a leg marked for hangup waits until it has been quiet
// for hangupSilenceGuard before the actual hangup() fires, so the last
// played utterance is never cut off mid-word.
func (h *Hub) deferredHangup(now time.Time) {
	if h.state1.HangupPending && h.quietFor(&h.state1, now) {
		h.state1.HangupPending = false
		h.emit(h.leg1.VoipCommands, "hangup", nil, "HUB", "VOIP1")
	}
	if h.state2.HangupPending && h.quietFor(&h.state2, now) {
		h.state2.HangupPending = false
		h.emit(h.leg2.VoipCommands, "hangup", nil, "HUB", "VOIP2")
	}
}

func (h *Hub) quietFor(state *LegState, now time.Time) bool {
	if state.SVoiceActivity {
		return false
	}
	return state.SLastVoiceActivityTime.Add(hangupSilenceGuard).Before(now)
}

// postRejectHangup: leg 1 hangs up once the rejection message finishes
// playing, then flushes leg 1's VoipIO, VAD and TTS.
func (h *Hub) postRejectHangup(now time.Time) {
	if !h.state1.RejectPlayed || h.state1.SVoiceActivity {
		return
	}
	h.state1.RejectPlayed = false
	h.emit(h.leg1.VoipCommands, "hangup", nil, "HUB", "VOIP1")
	h.flushLeg(h.leg1)
}

// maxCallLength1 implements the two-phase leg-1 wind-down: first speak
// the closing line and wait for it to finish, then tear the call down.
// Gated on IntroPlayed so the transition only fires for a call actually
// in progress — CallStart/EndPlayed are not cleared until the next
// call_confirmed, so without this gate the branch would keep re-firing
// hangup()/flush() on an already-disconnected leg on every tick.
func (h *Hub) maxCallLength1(now time.Time) {
	if !h.state1.IntroPlayed {
		return
	}
	if h.state1.CallStart.IsZero() || now.Sub(h.state1.CallStart) < h.cfg.Policy1.MaxCallLength {
		return
	}
	if !h.state1.EndPlayed {
		h.emit(h.leg1.TTSCommands, "synthesize", map[string]string{"text": h.cfg.Texts1.Closing}, "HUB", "TTS1")
		h.state1.EndPlayed = true
		h.state1.SVoiceActivity = true
		return
	}
	if h.state1.SVoiceActivity {
		return
	}
	h.state1.IntroPlayed = false
	h.emit(h.leg1.VoipCommands, "hangup", nil, "HUB", "VOIP1")
	h.flushLeg(h.leg1)
	h.flushLeg(h.leg2)
	slog.Info("hub: leg1 max call length reached")
}

// maxCallLength2 mirrors leg 1 (same IntroPlayed gate), keyed off
// state1.CallStart: both legs of a bridged call share one wall-clock
// origin (spec.md §9 Open Question 3
// — leg 2 only exists once leg 1 is already up, so leg 1's start time is
// the call's start time for both legs' length accounting).
func (h *Hub) maxCallLength2(now time.Time) {
	if !h.state2.IntroPlayed {
		return
	}
	if h.state1.CallStart.IsZero() || now.Sub(h.state1.CallStart) < h.cfg.Policy2.MaxCallLength {
		return
	}
	if !h.state2.EndPlayed {
		h.emit(h.leg2.TTSCommands, "synthesize", map[string]string{"text": h.cfg.Texts2.Closing}, "HUB", "TTS2")
		h.state2.EndPlayed = true
		h.state2.SVoiceActivity = true
		return
	}
	if h.state2.SVoiceActivity {
		return
	}
	h.state2.IntroPlayed = false
	h.emit(h.leg2.VoipCommands, "hangup", nil, "HUB", "VOIP2")
	h.flushLeg(h.leg1)
	h.flushLeg(h.leg2)
	slog.Info("hub: leg2 max call length reached")
}
