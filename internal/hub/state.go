// Package hub implements the switchboard's central orchestrator: the
// single cooperative loop that owns both legs' state, bridges audio
// between them, and drives the policy database. Grounded on spec.md §3,
// §4 and on original_source/alex/applications/Switchboard/sw_hub.py's
// `while 1:` main loop, translated into a select-based tick (SPEC_FULL.md
// §4.1.1). The teacher's internal/signaling/b2bua shows the idiom of
// explicit state flags with a String() method rather than "global flag
// soup" (spec.md §9's redesign note) — adapted here into a plain struct
// of named flags since the hub, not the leg, owns every transition.
package hub

import "time"

// LegState is the per-leg mutable state spec.md §3 names: call timing,
// playback gating flags, voice-activity tracking, and the intro
// utterance-id counters. Reset on every call_confirmed, never destroyed
// except at process shutdown.
type LegState struct {
	CallStart     time.Time
	IntroPlayed   bool
	RejectPlayed  bool
	EndPlayed     bool
	HangupPending bool
	VioConnected  bool

	SVoiceActivity         bool
	SLastVoiceActivityTime time.Time

	IntroIDCounter int
	LastIntroID    int
}

// reset restores the fields that spec.md §3 says are reinitialised at
// call_confirmed, leaving IntroIDCounter untouched (Open Question 4:
// the counter is process-lifetime, never reset).
func (s *LegState) reset(now time.Time) {
	s.CallStart = now
	s.IntroPlayed = false
	s.RejectPlayed = false
	s.EndPlayed = false
	s.HangupPending = false
	s.VioConnected = false
	s.SVoiceActivity = false
	s.SLastVoiceActivityTime = time.Time{}
}

// BridgeState is the hub-level state spec.md §3 names for the callee
// dialling workflow and call-back scheduling. It lives for the whole
// process, unlike LegState which is reset per call.
type BridgeState struct {
	CalleeDigitsBuffer string
	CalleeEntered      bool

	CallBackDeadline time.Time // zero value is the ∅ sentinel
	CallBackURI      string
}

func (b *BridgeState) hasCallBackDeadline() bool {
	return !b.CallBackDeadline.IsZero()
}

func (b *BridgeState) clearCallBack() {
	b.CallBackDeadline = time.Time{}
	b.CallBackURI = ""
}
