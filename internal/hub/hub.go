package hub

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/sebas/switchboard/internal/calldb"
	"github.com/sebas/switchboard/internal/messages"
	"github.com/sebas/switchboard/internal/policy"
	"github.com/sebas/switchboard/internal/sessionlog"
)

const hangupSilenceGuard = 2 * time.Second

// LegWorkers is the channel surface one leg's three workers expose to the
// hub (spec.md §5). VoIP's PlayIn doubles as TTS's audio-out destination —
// wired by the caller of New, not routed through the hub — matching
// the diagram in spec.md §2 ("TTS1 → VoipIO1.play" directly, no hub hop).
type LegWorkers struct {
	VoipCommands chan<- *messages.Command
	VoipEvents   <-chan *messages.Command
	VoipRecord   <-chan messages.AudioFrame
	VoipPlay     chan<- messages.AudioFrame

	VADCommands chan<- *messages.Command
	VADAudioOut <-chan messages.AudioFrame
	VADEvents   <-chan *messages.Command

	TTSCommands chan<- *messages.Command
	TTSEvents   <-chan *messages.Command
}

// Config bundles the per-leg policy configuration spec.md §6 loads from
// the -o (leg 1) and -d (leg 2) file sets, plus the hub-level timing knob.
type Config struct {
	Policy1, Policy2 policy.Blacklist
	Texts1, Texts2   policy.Texts

	MainLoopSleep time.Duration

	SessionLogDir string // empty disables session transcripts
}

// Hub is the central orchestrator: it owns both legs' LegState, the
// hub-level BridgeState, the shared call database, and drives every
// transition in spec.md §4.1.
type Hub struct {
	cfg        Config
	leg1, leg2 LegWorkers
	db         *calldb.Store

	state1, state2 LegState
	bridge         BridgeState

	callBackSubs []compiledSub

	session *sessionlog.Session
}

type compiledSub struct {
	re          *regexp.Regexp
	replacement string
}

// New builds a Hub. db must already be open (spec.md §9: load happens
// before the startup policy scan, which New's caller triggers via ScanAtStartup).
func New(cfg Config, leg1, leg2 LegWorkers, db *calldb.Store) (*Hub, error) {
	if cfg.MainLoopSleep <= 0 {
		cfg.MainLoopSleep = 20 * time.Millisecond
	}

	subs := make([]compiledSub, 0, len(cfg.Policy1.CallBackURISubs))
	for _, s := range cfg.Policy1.CallBackURISubs {
		re, err := regexp.Compile(s.Pattern)
		if err != nil {
			return nil, &ConfigError{Section: "call_back_uri_subs", Cause: err}
		}
		subs = append(subs, compiledSub{re: re, replacement: s.Replacement})
	}

	h := &Hub{
		cfg:          cfg,
		leg1:         leg1,
		leg2:         leg2,
		db:           db,
		callBackSubs: subs,
	}
	h.state1.IntroIDCounter = 0
	h.state2.IntroIDCounter = 0
	return h, nil
}

// ScanAtStartup implements spec.md §4.1's "Startup policy scan": for
// every known URI, recompute stats and blacklist immediately if already
// over limit.
func (h *Hub) ScanAtStartup(now time.Time) {
	for _, uri := range h.db.URIs() {
		total, totalSecs, last24, last24Secs := h.db.Stats(uri, now)
		_ = total
		_ = totalSecs
		if h.cfg.Policy1.Exceeded(last24, time.Duration(last24Secs*float64(time.Second))) {
			h.blacklist(h.leg1.VoipCommands, uri, now)
			slog.Info("hub: startup rescan blacklisted URI", "remote_uri", uri)
		}
	}
}

// Run executes the main loop until ctx is cancelled, then performs the
// shutdown sequence (spec.md §4.1's "Shutdown").
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.MainLoopSleep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case now := <-ticker.C:
			h.tick(now)
		}
	}
}

// tick implements one iteration of spec.md §4.1's main loop, in the
// order the spec lists: drain audio, service call-back, service callee
// dial, drain control messages, evaluate time-driven transitions.
func (h *Hub) tick(now time.Time) {
	h.drainAudio(h.leg1.VADAudioOut, &h.state2, h.leg2.VoipPlay, h.leg2.VoipCommands, 2)
	h.drainAudio(h.leg2.VADAudioOut, &h.state1, h.leg1.VoipPlay, h.leg1.VoipCommands, 1)

	h.serviceCallBack(now)
	h.serviceCalleeDial()

	h.drainCommands(h.leg1.VoipEvents, h.handleVoipEvent1, now)
	h.drainCommands(h.leg1.VADEvents, h.handleVADEvent1, now)
	h.drainCommands(h.leg1.TTSEvents, h.handleTTSEvent1, now)
	h.drainCommands(h.leg2.VoipEvents, h.handleVoipEvent2, now)
	h.drainCommands(h.leg2.VADEvents, h.handleVADEvent2, now)
	h.drainCommands(h.leg2.TTSEvents, h.handleTTSEvent2, now)

	h.evaluateTimeTransitions(now)
}

// drainAudio implements spec.md §4.1's "Audio bridging": frames from
// VAD*i* forward to VoipIO*j*.play only once leg j's intro has played,
// gated by one utterance_start envelope per recorded utterance.
func (h *Hub) drainAudio(in <-chan messages.AudioFrame, to *LegState, audioOut chan<- messages.AudioFrame, cmdOut chan<- *messages.Command, toUserID int) {
	for {
		select {
		case frame, ok := <-in:
			if !ok {
				return
			}
			if !to.IntroPlayed {
				continue
			}
			if !to.VioConnected {
				h.emit(cmdOut, "utterance_start", map[string]string{
					"user_id": fmt.Sprintf("%d", toUserID), "text": "", "fname": "", "log": "",
				}, "HUB", fmt.Sprintf("VOIP%d", toUserID))
				to.VioConnected = true
			}
			select {
			case audioOut <- frame:
			default:
				slog.Warn("hub: dropping bridged audio frame, play channel full")
			}
		default:
			return
		}
	}
}

// serviceCallBack implements spec.md §4.1's call-back scheduling deadline
// check.
func (h *Hub) serviceCallBack(now time.Time) {
	if !h.bridge.hasCallBackDeadline() {
		return
	}
	if now.Before(h.bridge.CallBackDeadline) {
		return
	}
	if h.bridge.CallBackURI != "" {
		h.emit(h.leg1.VoipCommands, "make_call", map[string]string{"destination": h.bridge.CallBackURI}, "HUB", "VOIP1")
	}
	h.bridge.clearCallBack()
}

// serviceCalleeDial implements spec.md §4.1's callee-dialling action.
func (h *Hub) serviceCalleeDial() {
	if !h.bridge.CalleeEntered || h.bridge.CalleeDigitsBuffer == "" {
		return
	}
	digits := h.bridge.CalleeDigitsBuffer
	spaced := strings.Join(strings.Split(digits, ""), " ")
	h.emit(h.leg1.TTSCommands, "synthesize", map[string]string{
		"text": h.cfg.Texts1.CallingPrefix + " " + spaced,
	}, "HUB", "TTS1")
	h.emit(h.leg2.VoipCommands, "make_call", map[string]string{"destination": digits}, "HUB", "VOIP2")
	h.bridge.CalleeDigitsBuffer = ""
}

// drainCommands non-blockingly empties one event channel, dispatching
// each command to handle. Spec.md §4.1: "drains all pending control
// messages from each worker's control channel" using non-blocking poll.
func (h *Hub) drainCommands(in <-chan *messages.Command, handle func(*messages.Command, time.Time), now time.Time) {
	for {
		select {
		case cmd, ok := <-in:
			if !ok {
				return
			}
			handle(cmd, now)
		default:
			return
		}
	}
}

func (h *Hub) emit(dst chan<- *messages.Command, name string, args map[string]string, src, target string) {
	if dst == nil {
		return
	}
	cmd := messages.NewCommand(name, src, target)
	for k, v := range args {
		cmd.Set(k, v)
	}
	select {
	case dst <- cmd:
	default:
		slog.Warn("hub: dropping command, worker channel full", "command", name, "destination", target)
	}
}

func (h *Hub) blacklist(dst chan<- *messages.Command, uri string, now time.Time) {
	expire := now.Add(h.cfg.Policy1.BlacklistFor)
	h.emit(dst, "black_list", map[string]string{
		"remote_uri": uri,
		"expire":     expire.Format(time.RFC3339),
	}, "HUB", "VOIP1")
}

func (h *Hub) shutdown() {
	for _, dst := range []chan<- *messages.Command{
		h.leg1.VoipCommands, h.leg1.VADCommands, h.leg1.TTSCommands,
		h.leg2.VoipCommands, h.leg2.VADCommands, h.leg2.TTSCommands,
	} {
		h.emit(dst, "stop", nil, "HUB", "")
	}
	if h.session != nil {
		_ = h.session.Close("shutdown")
	}
	slog.Info("hub: shutdown complete")
}
