// Command switchboardhub is the entrypoint for the two-leg switchboard:
// it wires VoipIO, VAD, and TTS workers for each leg onto the Hub and
// runs until SIGINT/SIGTERM. Grounded on the teacher's cmd/signaling/main.go
// (flag-driven config load, slog init, signal-driven shutdown).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sebas/switchboard/internal/banner"
	"github.com/sebas/switchboard/internal/calldb"
	"github.com/sebas/switchboard/internal/config"
	"github.com/sebas/switchboard/internal/hub"
	"github.com/sebas/switchboard/internal/logger"
	"github.com/sebas/switchboard/internal/messages"
	"github.com/sebas/switchboard/internal/tts"
	"github.com/sebas/switchboard/internal/vad"
	"github.com/sebas/switchboard/internal/voip"
)

func main() {
	logger.InitLogger(os.Stdout)

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		slog.Error("switchboardhub: config load failed", "error", err)
		os.Exit(1)
	}

	banner.Print("switchboardhub", []banner.ConfigLine{
		{Label: "caller config", Value: fmt.Sprintf("%v", cfg.CallerPaths)},
		{Label: "callee config", Value: fmt.Sprintf("%v", cfg.CalleePaths)},
		{Label: "call db", Value: cfg.CallDB},
		{Label: "main loop sleep", Value: cfg.MainLoopSleep.String()},
	})

	db := calldb.Open(cfg.CallDB)
	if loadErr := db.LoadErr(); loadErr != nil {
		slog.Warn("switchboardhub: call database load failed, starting empty",
			"error", &hub.DBLoadError{Path: cfg.CallDB, Cause: loadErr})
	}

	voip1, worker1, err := spawnVoipIO(voip.RoleCaller, 15060)
	if err != nil {
		slog.Error("switchboardhub: leg1 voip setup failed",
			"error", fmt.Errorf("%w: %v", hub.ErrSpawnFailed, err))
		os.Exit(1)
	}
	voip2, worker2, err := spawnVoipIO(voip.RoleCallee, 15062)
	if err != nil {
		slog.Error("switchboardhub: leg2 voip setup failed",
			"error", fmt.Errorf("%w: %v", hub.ErrSpawnFailed, err))
		os.Exit(1)
	}

	vad1Events := make(chan *messages.Command, 16)
	vad2Events := make(chan *messages.Command, 16)
	vad1Out := make(chan messages.AudioFrame, 64)
	vad2Out := make(chan messages.AudioFrame, 64)
	vad1Cmds := make(chan *messages.Command, 16)
	vad2Cmds := make(chan *messages.Command, 16)

	tts1Events := make(chan *messages.Command, 16)
	tts2Events := make(chan *messages.Command, 16)
	tts1Cmds := make(chan *messages.Command, 16)
	tts2Cmds := make(chan *messages.Command, 16)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go runVoipIO(ctx, 1, voip1)
	go runVoipIO(ctx, 2, voip2)

	det1 := vad.NewEnergyDetector()
	det2 := vad.NewEnergyDetector()
	go det1.Run(ctx, worker1.RecordOut, vad1Out, vad1Events, "1")
	go det2.Run(ctx, worker2.RecordOut, vad2Out, vad2Events, "2")
	go drainVADCommands(ctx, vad1Cmds)
	go drainVADCommands(ctx, vad2Cmds)

	// Spec.md §2's data-flow diagram wires TTSi's audio output directly
	// into VoipIOi.play — the hub never sees TTS audio frames, only its
	// play_utterance_start/end events.
	syn1 := tts.NewToneSynthesizer()
	syn2 := tts.NewToneSynthesizer()
	go syn1.Run(ctx, tts1Cmds, worker1.PlayIn, tts1Events)
	go syn2.Run(ctx, tts2Cmds, worker2.PlayIn, tts2Events)

	leg1 := hub.LegWorkers{
		VoipCommands: worker1.CommandsIn,
		VoipEvents:   worker1.EventsOut,
		VoipRecord:   worker1.RecordOut,
		VoipPlay:     worker1.PlayIn,
		VADCommands:  vad1Cmds,
		VADAudioOut:  vad1Out,
		VADEvents:    vad1Events,
		TTSCommands:  tts1Cmds,
		TTSEvents:    tts1Events,
	}
	leg2 := hub.LegWorkers{
		VoipCommands: worker2.CommandsIn,
		VoipEvents:   worker2.EventsOut,
		VoipRecord:   worker2.RecordOut,
		VoipPlay:     worker2.PlayIn,
		VADCommands:  vad2Cmds,
		VADAudioOut:  vad2Out,
		VADEvents:    vad2Events,
		TTSCommands:  tts2Cmds,
		TTSEvents:    tts2Events,
	}

	h, err := hub.New(hub.Config{
		Policy1:       cfg.Policy1,
		Policy2:       cfg.Policy2,
		Texts1:        cfg.Texts1,
		Texts2:        cfg.Texts2,
		MainLoopSleep: cfg.MainLoopSleep,
		SessionLogDir: "sessions",
	}, leg1, leg2, db)
	if err != nil {
		slog.Error("switchboardhub: hub setup failed", "error", err)
		os.Exit(1)
	}

	h.ScanAtStartup(time.Now())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		slog.Info("switchboardhub: received signal, shutting down", "signal", sig)
		cancel()
	}()

	slog.Info("switchboardhub: running")
	h.Run(ctx)
}

func runVoipIO(ctx context.Context, leg int, v *voip.SIPVoipIO) {
	if err := v.Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("switchboardhub: voip leg exited", "leg", leg, "error", err)
	}
}

func spawnVoipIO(role voip.Role, port int) (*voip.SIPVoipIO, *voip.Worker, error) {
	worker := voip.NewWorker()
	v, err := voip.New(voip.Config{
		Role:          role,
		ListenAddr:    "0.0.0.0",
		AdvertiseAddr: "127.0.0.1",
		Port:          port,
		RTPPortStart:  20000,
		RTPPortEnd:    20999,
		DialTimeout:   30 * time.Second,
		RejectCode:    486,
	}, worker)
	if err != nil {
		return nil, nil, err
	}
	return v, worker, nil
}

// drainVADCommands reads and discards the commands sent to the VAD worker.
// EnergyDetector has no run-time commands beyond "stop", which the
// context cancellation already handles, so this loop only exists to keep
// the VADCommands channel from filling up with unread "flush" sends.
func drainVADCommands(ctx context.Context, in <-chan *messages.Command) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-in:
		}
	}
}
