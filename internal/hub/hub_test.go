package hub

import (
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/sebas/switchboard/internal/calldb"
	"github.com/sebas/switchboard/internal/messages"
	"github.com/sebas/switchboard/internal/policy"
)

// fakeLeg builds a LegWorkers backed by plain buffered channels, standing
// in for a real VoipIO/VAD/TTS worker triple so hub logic can be driven
// and inspected without a SIP stack (spec.md §8's testable scenarios).
type fakeLeg struct {
	voipCmds, vadCmds, ttsCmds    chan *messages.Command
	voipEvents, vadEvents, ttsEvt chan *messages.Command
	vadOut                        chan messages.AudioFrame
	voipPlay                      chan messages.AudioFrame
}

func newFakeLeg() *fakeLeg {
	return &fakeLeg{
		voipCmds:   make(chan *messages.Command, 16),
		vadCmds:    make(chan *messages.Command, 16),
		ttsCmds:    make(chan *messages.Command, 16),
		voipEvents: make(chan *messages.Command, 16),
		vadEvents:  make(chan *messages.Command, 16),
		ttsEvt:     make(chan *messages.Command, 16),
		vadOut:     make(chan messages.AudioFrame, 16),
		voipPlay:   make(chan messages.AudioFrame, 16),
	}
}

func (f *fakeLeg) workers() LegWorkers {
	return LegWorkers{
		VoipCommands: f.voipCmds,
		VoipEvents:   f.voipEvents,
		VoipRecord:   nil,
		VoipPlay:     f.voipPlay,
		VADCommands:  f.vadCmds,
		VADAudioOut:  f.vadOut,
		VADEvents:    f.vadEvents,
		TTSCommands:  f.ttsCmds,
		TTSEvents:    f.ttsEvt,
	}
}

func testConfig() Config {
	return Config{
		Policy1: policy.Blacklist{
			Last24MaxNumCalls:         3,
			Last24MaxTotalTime:        time.Hour,
			BlacklistFor:              time.Hour,
			MaxCallLength:             time.Hour,
			WaitTimeBeforeCallingBack: time.Minute,
		},
		Policy2: policy.Blacklist{
			MaxCallLength: time.Hour,
		},
		Texts1: policy.Texts{Introduction: []string{"hello"}, Rejected: "rejected", Closing: "closing"},
		Texts2: policy.Texts{Introduction: []string{"hi"}, NoAnswer: "noanswer", Closing: "closing2"},
	}
}

func newTestHub(t *testing.T) (*Hub, *fakeLeg, *fakeLeg) {
	t.Helper()
	leg1, leg2 := newFakeLeg(), newFakeLeg()
	db := calldb.Open(filepath.Join(t.TempDir(), "calls.json"))
	h, err := New(testConfig(), leg1.workers(), leg2.workers(), db)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return h, leg1, leg2
}

func drain(t *testing.T, ch chan *messages.Command) []*messages.Command {
	t.Helper()
	var out []*messages.Command
	for {
		select {
		case c := <-ch:
			out = append(out, c)
		default:
			return out
		}
	}
}

// Scenario: clean bridged call — leg 1 confirms, intro plays, VAD audio
// bridges once the intro flag is set, leg 1 disconnects and closes out the
// DB record.
func TestCleanBridgedCall(t *testing.T) {
	h, leg1, leg2 := newTestHub(t)
	now := time.Now()

	h.handleVoipEvent1(messages.NewCommand("call_confirmed", "VOIP1", "HUB").Set("remote_uri", "sip:alice"), now)
	if h.state1.IntroPlayed {
		t.Fatal("intro should not be marked played until play_utterance_end arrives")
	}
	introCmds := drain(t, leg1.ttsCmds)
	if len(introCmds) != 1 || introCmds[0].Name != "synthesize" {
		t.Fatalf("expected one intro synthesize command, got %v", introCmds)
	}
	userID, _ := introCmds[0].Arg("user_id")

	h.handleTTSEvent1(messages.NewCommand("play_utterance_end", "TTS1", "HUB").Set("user_id", userID), now)
	if !h.state1.IntroPlayed {
		t.Fatal("expected IntroPlayed after matching play_utterance_end")
	}

	leg2.vadOut <- messages.AudioFrame{Payload: []byte{1, 2, 3}}
	h.drainAudio(leg2.vadOut, &h.state1, leg1.voipPlay, leg1.voipCmds, 1)
	select {
	case <-leg1.voipPlay:
	default:
		t.Fatal("expected bridged audio frame forwarded to leg1 play")
	}

	disconnectAt := now.Add(5 * time.Second)
	h.handleVoipEvent1(messages.NewCommand("call_disconnected", "VOIP1", "HUB").Set("remote_uri", "sip:alice"), disconnectAt)
	if !h.state2.HangupPending {
		t.Fatal("expected leg1 disconnect to request leg2 hangup")
	}
	total, _, _, _ := h.db.Stats("sip:alice", disconnectAt.Add(time.Second))
	if total != 1 {
		t.Fatalf("expected one closed call record, got %d", total)
	}
}

// Scenario: blacklist on confirm — a caller already over the 24h limit is
// rejected and blacklisted instead of bridged.
func TestBlacklistOnConfirm(t *testing.T) {
	h, leg1, _ := newTestHub(t)
	now := time.Now()
	for i := 0; i < 5; i++ {
		start := now.Add(-time.Duration(i) * time.Minute)
		_ = h.db.AppendOpen("sip:spammer", start)
		_, _ = h.db.CloseLast("sip:spammer", start.Add(time.Second))
	}

	h.handleVoipEvent1(messages.NewCommand("call_confirmed", "VOIP1", "HUB").Set("remote_uri", "sip:spammer"), now)

	if !h.state1.RejectPlayed {
		t.Fatal("expected RejectPlayed after exceeding policy")
	}
	cmds := drain(t, leg1.voipCmds)
	found := false
	for _, c := range cmds {
		if c.Name == "black_list" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected black_list command emitted, got %v", cmds)
	}
}

// Scenario: callee does not answer — leg 2 disconnects with a busy code,
// triggering the noanswer announcement on leg 1 and a deferred leg1 hangup.
func TestCalleeDoesNotAnswer(t *testing.T) {
	h, leg1, _ := newTestHub(t)
	now := time.Now()

	h.handleVoipEvent2(messages.NewCommand("call_disconnected", "VOIP2", "HUB").Set("code", "486"), now)

	if !h.state1.HangupPending {
		t.Fatal("expected hangup1 to be set on busy disconnect")
	}
	cmds := drain(t, leg1.ttsCmds)
	if len(cmds) != 1 || cmds[0].Name != "synthesize" {
		t.Fatalf("expected noanswer synthesize command, got %v", cmds)
	}
	if text, _ := cmds[0].Arg("text"); text != "noanswer" {
		t.Fatalf("expected configured noanswer text, got %q", text)
	}
}

// Scenario: max call length — leg 1 past its limit first speaks the
// closing line, then hangs up once quiet again.
func TestMaxCallLength(t *testing.T) {
	h, leg1, leg2 := newTestHub(t)
	now := time.Now()
	h.state1.CallStart = now.Add(-2 * time.Hour)
	h.state1.SLastVoiceActivityTime = now.Add(-time.Hour)
	h.state1.IntroPlayed = true

	h.maxCallLength1(now)
	if !h.state1.EndPlayed || !h.state1.SVoiceActivity {
		t.Fatal("expected closing line queued and voice activity flagged on first pass")
	}
	closing := drain(t, leg1.ttsCmds)
	if len(closing) != 1 {
		t.Fatalf("expected exactly one closing synthesize, got %v", closing)
	}

	h.state1.SVoiceActivity = false
	h.maxCallLength1(now)
	hangups := drain(t, leg1.voipCmds)
	if len(hangups) == 0 || hangups[0].Name != "hangup" {
		t.Fatalf("expected hangup on second pass, got %v", hangups)
	}

	// Regression: once the leg has hung up, IntroPlayed is cleared and
	// later ticks must not keep re-firing hangup/flush indefinitely.
	h.maxCallLength1(now.Add(time.Minute))
	if stray := drain(t, leg1.voipCmds); len(stray) != 0 {
		t.Fatalf("expected no further hangup commands once intro is no longer played, got %v", stray)
	}
	_ = leg2
}

// Scenario: call-back URI rewrite — a configured regex substitution
// rewrites the rejected caller's URI before scheduling the call-back.
func TestCallBackURIRewrite(t *testing.T) {
	h, _, _ := newTestHub(t)
	h.callBackSubs = []compiledSub{{re: regexp.MustCompile(`^sip:(\d+)@old\.example$`), replacement: "sip:$1@new.example"}}
	now := time.Now()

	h.scheduleCallBack("sip:555@old.example", now)

	if h.bridge.CallBackURI != "sip:555@new.example" {
		t.Fatalf("expected rewritten call-back URI, got %q", h.bridge.CallBackURI)
	}
	if !h.bridge.hasCallBackDeadline() {
		t.Fatal("expected a call-back deadline to be scheduled")
	}

	h.serviceCallBack(now.Add(2 * time.Minute))
}

// Scenario: startup rescan — a URI already over the limit at load time is
// blacklisted before any call event arrives.
func TestStartupRescan(t *testing.T) {
	h, leg1, _ := newTestHub(t)
	now := time.Now()
	for i := 0; i < 5; i++ {
		start := now.Add(-time.Duration(i) * time.Minute)
		_ = h.db.AppendOpen("sip:repeat-offender", start)
		_, _ = h.db.CloseLast("sip:repeat-offender", start.Add(time.Second))
	}

	h.ScanAtStartup(now)

	cmds := drain(t, leg1.voipCmds)
	found := false
	for _, c := range cmds {
		if c.Name == "black_list" {
			if uri, _ := c.Arg("remote_uri"); uri == "sip:repeat-offender" {
				found = true
			}
		}
	}
	if !found {
		t.Fatalf("expected startup scan to blacklist the repeat offender, got %v", cmds)
	}
}
