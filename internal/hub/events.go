package hub

import (
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/sebas/switchboard/internal/messages"
	"github.com/sebas/switchboard/internal/sessionlog"
)

// noAnswerCodes mirrors spec.md §4.1's leg-2 busy/decline/not-available
// family that triggers the noanswer announcement before hanging up leg 1.
var noAnswerCodes = map[string]bool{
	"486": true, "600": true, "603": true, "604": true, "606": true,
}

// dialFailureCodes are the codes VoipIO.makeCall synthesizes itself (see
// internal/voip) on a local dial failure — bad URI, RTP allocation, no
// transaction response, or an unexpected status — rather than a real
// response from the far end. Spec.md §7: caught here, logged as a
// VoipError, and the loop continues.
var dialFailureCodes = map[string]bool{
	"408": true, "478": true, "500": true, "503": true,
}

// handleVoipEvent1 implements spec.md §4.1's leg-1 state machine table.
func (h *Hub) handleVoipEvent1(cmd *messages.Command, now time.Time) {
	h.recordSession(cmd)

	switch cmd.Name {
	case "incoming_call", "make_call":
		remoteURI, _ := cmd.Arg("remote_uri")
		h.openSession(remoteURI, now)
	case "rejected_call":
		remoteURI, _ := cmd.Arg("remote_uri")
		h.scheduleCallBack(remoteURI, now)
	case "rejected_call_from_blacklisted_uri":
		remoteURI, _ := cmd.Arg("remote_uri")
		slog.Info("hub: rejected blacklisted caller", "remote_uri", remoteURI)
	case "call_connecting":
		slog.Debug("hub: leg1 connecting")
	case "call_confirmed":
		h.onCallConfirmed1(cmd, now)
	case "call_disconnected":
		h.onCallDisconnected1(cmd, now)
	case "play_utterance_start":
		h.state1.SVoiceActivity = true
	case "play_utterance_end":
		h.onPlayUtteranceEnd(&h.state1, cmd, now)
	case "dtmf_digit":
		h.onDTMFDigit(cmd)
	default:
		slog.Debug("hub: unhandled leg1 voip event", "name", cmd.Name)
	}
}

// handleVoipEvent2 implements spec.md §4.1's leg-2 state machine: a
// simpler mirror of leg 1 with no inbound acceptance, no blacklist check,
// and no DTMF.
func (h *Hub) handleVoipEvent2(cmd *messages.Command, now time.Time) {
	switch cmd.Name {
	case "call_connecting":
		slog.Debug("hub: leg2 connecting")
	case "call_confirmed":
		h.onCallConfirmed2(now)
	case "call_disconnected":
		h.onCallDisconnected2(cmd, now)
	case "play_utterance_start":
		h.state2.SVoiceActivity = true
	case "play_utterance_end":
		h.onPlayUtteranceEnd(&h.state2, cmd, now)
	default:
		slog.Debug("hub: unhandled leg2 voip event", "name", cmd.Name)
	}
}

// handleVADEvent1/2 log speech_start/speech_end. Spec.md §6: "logged;
// state retained for future policy, not currently gating" — Open
// Question 2 in DESIGN.md explains why no field stores this.
func (h *Hub) handleVADEvent1(cmd *messages.Command, _ time.Time) {
	slog.Debug("hub: vad1 event", "name", cmd.Name)
}

func (h *Hub) handleVADEvent2(cmd *messages.Command, _ time.Time) {
	slog.Debug("hub: vad2 event", "name", cmd.Name)
}

// handleTTSEvent1/2: play_utterance_start/play_utterance_end are the
// playback-progress events spec.md §6 lists under VoipIO, but in this
// implementation TTS writes directly into VoipIO's play channel (spec.md
// §2's direct TTS→VoipIO.play wiring), making TTS the practical source of
// those two events; anything else is a generic acknowledgement (logged).
func (h *Hub) handleTTSEvent1(cmd *messages.Command, now time.Time) {
	switch cmd.Name {
	case "play_utterance_start", "play_utterance_end":
		h.handleVoipEvent1(cmd, now)
	default:
		slog.Debug("hub: tts1 ack", "name", cmd.Name)
	}
}

func (h *Hub) handleTTSEvent2(cmd *messages.Command, now time.Time) {
	switch cmd.Name {
	case "play_utterance_start", "play_utterance_end":
		h.handleVoipEvent2(cmd, now)
	default:
		slog.Debug("hub: tts2 ack", "name", cmd.Name)
	}
}

func (h *Hub) onPlayUtteranceEnd(state *LegState, cmd *messages.Command, now time.Time) {
	state.SVoiceActivity = false
	state.SLastVoiceActivityTime = now
	userIDStr, _ := cmd.Arg("user_id")
	if uid, err := strconv.Atoi(userIDStr); err == nil && uid == state.LastIntroID {
		state.IntroPlayed = true
	}
}

// onDTMFDigit implements spec.md §4.1's "Callee dialling" digit capture.
func (h *Hub) onDTMFDigit(cmd *messages.Command) {
	if h.bridge.CalleeEntered {
		return
	}
	digit, _ := cmd.Arg("digit")
	if digit == "*" || digit == "#" {
		h.bridge.CalleeEntered = true
		return
	}
	h.bridge.CalleeDigitsBuffer += digit
}

// scheduleCallBack implements spec.md §4.1's call-back URI precedence:
// subs, then static override, then the URI unchanged.
func (h *Hub) scheduleCallBack(remoteURI string, now time.Time) {
	h.bridge.CallBackDeadline = now.Add(h.cfg.Policy1.WaitTimeBeforeCallingBack)
	h.bridge.CallBackURI = h.rewriteCallBackURI(remoteURI)
}

func (h *Hub) rewriteCallBackURI(remoteURI string) string {
	if len(h.callBackSubs) > 0 {
		out := remoteURI
		for _, sub := range h.callBackSubs {
			out = sub.re.ReplaceAllString(out, sub.replacement)
		}
		return out
	}
	if h.cfg.Policy1.CallBackURI != "" {
		return h.cfg.Policy1.CallBackURI
	}
	return remoteURI
}

// onCallConfirmed1 implements spec.md §4.1's leg-1 call_confirmed row:
// blacklist-gate, or reset state and start the call.
func (h *Hub) onCallConfirmed1(cmd *messages.Command, now time.Time) {
	remoteURI, _ := cmd.Arg("remote_uri")
	_, _, last24Calls, last24Secs := h.db.Stats(remoteURI, now)

	if h.cfg.Policy1.Exceeded(last24Calls, time.Duration(last24Secs*float64(time.Second))) {
		h.emit(h.leg1.TTSCommands, "synthesize", map[string]string{"text": h.cfg.Texts1.Rejected}, "HUB", "TTS1")
		h.state1.RejectPlayed = true
		h.state1.SVoiceActivity = true
		h.blacklist(h.leg1.VoipCommands, remoteURI, now)
		return
	}

	h.state1.reset(now)
	h.playIntro(1, &h.state1, h.cfg.Texts1.Introduction, h.leg1.TTSCommands)
	if err := h.db.AppendOpen(remoteURI, now); err != nil {
		slog.Warn("hub: db append failed", "error", &DBSaveError{Cause: err})
	}
}

// onCallConfirmed2 implements spec.md §4.1's leg-2 mirror: reset state and
// play the intro, with no DB mutation (the record lives under leg 1's
// remote_uri only).
func (h *Hub) onCallConfirmed2(now time.Time) {
	h.state2.reset(now)
	h.playIntro(2, &h.state2, h.cfg.Texts2.Introduction, h.leg2.TTSCommands)
}

// onCallDisconnected1 implements spec.md §4.1's leg-1 call_disconnected
// row: flush, close session, finalise the DB record, clear state, drag
// leg 2 down.
func (h *Hub) onCallDisconnected1(cmd *messages.Command, now time.Time) {
	h.flushLeg(h.leg1)
	h.closeSession("leg1 disconnected")

	remoteURI, _ := cmd.Arg("remote_uri")
	if code, _ := cmd.Arg("code"); dialFailureCodes[code] {
		slog.Warn("hub: leg1 dial failed", "error", &VoipError{
			Leg: 1, Op: "make_call", Cause: errors.New("sip response " + code),
		})
	}

	closed, err := h.db.CloseLast(remoteURI, now)
	if err != nil {
		slog.Warn("hub: db close failed", "error", &DBSaveError{Cause: err})
	}
	if closed {
		// spec.md §9 Open Question 1: the original also wrote a
		// hard-coded secondary path on this exact path. Preserved
		// deliberately as a sibling ".legacy" file, not silently fixed.
		if err := h.db.SaveLegacyCopy(); err != nil {
			slog.Warn("hub: legacy db save failed", "error", err)
		}
	}

	h.state1.IntroPlayed = false
	h.bridge.CalleeDigitsBuffer = ""
	h.bridge.CalleeEntered = false
	h.state2.HangupPending = true
}

// onCallDisconnected2 implements spec.md §4.1's leg-2 call_disconnected
// row, including the noanswer announcement for the busy/decline family.
func (h *Hub) onCallDisconnected2(cmd *messages.Command, now time.Time) {
	h.flushLeg(h.leg2)

	code, _ := cmd.Arg("code")
	if noAnswerCodes[code] {
		h.emit(h.leg1.TTSCommands, "synthesize", map[string]string{"text": h.cfg.Texts2.NoAnswer}, "HUB", "TTS1")
	}
	if dialFailureCodes[code] {
		slog.Warn("hub: leg2 dial failed", "error", &VoipError{
			Leg: 2, Op: "make_call", Cause: errors.New("sip response " + code),
		})
	}

	h.state2.IntroPlayed = false
	h.state1.HangupPending = true
}

func (h *Hub) flushLeg(leg LegWorkers) {
	h.emit(leg.VoipCommands, "flush", nil, "HUB", "")
	h.emit(leg.VADCommands, "flush", nil, "HUB", "")
	h.emit(leg.TTSCommands, "flush", nil, "HUB", "")
}

// playIntro implements spec.md §4.1's "Introduction playback": one
// synthesize command per configured line, advancing the counter and
// recording the last user_id used so play_utterance_end can match it.
func (h *Hub) playIntro(leg int, state *LegState, lines []string, ttsCmd chan<- *messages.Command) {
	for _, line := range lines {
		state.IntroIDCounter++
		state.LastIntroID = state.IntroIDCounter
		h.emit(ttsCmd, "synthesize", map[string]string{
			"user_id": strconv.Itoa(state.LastIntroID),
			"text":    line,
		}, "HUB", ttsDestination(leg))
	}
}

func ttsDestination(leg int) string {
	if leg == 1 {
		return "TTS1"
	}
	return "TTS2"
}

func (h *Hub) openSession(remoteURI string, now time.Time) {
	if h.cfg.SessionLogDir == "" || h.session != nil {
		return
	}
	s, err := sessionlog.Start(h.cfg.SessionLogDir, remoteURI, now)
	if err != nil {
		slog.Warn("hub: session log open failed", "error", err)
		return
	}
	h.session = s
}

func (h *Hub) closeSession(summary string) {
	if h.session == nil {
		return
	}
	if err := h.session.Close(summary); err != nil {
		slog.Warn("hub: session log close failed", "error", err)
	}
	h.session = nil
}

func (h *Hub) recordSession(cmd *messages.Command) {
	if h.session != nil {
		h.session.Record(cmd)
	}
}
