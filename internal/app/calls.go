package app

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/calebtt/SipBotOpen/internal/call"
	"github.com/calebtt/SipBotOpen/internal/sender"
	"github.com/calebtt/SipBotOpen/internal/stt"
	"github.com/calebtt/SipBotOpen/internal/tools"
	"github.com/calebtt/SipBotOpen/internal/tts"
	"github.com/calebtt/SipBotOpen/internal/turn"
	"github.com/calebtt/SipBotOpen/internal/vad"
)

// Transport carries the per-call hooks into the telephony layer: where
// outbound frames go, and how the tools hand off or end the call.
type Transport struct {
	// Send emits one paced outbound frame. Required.
	Send sender.SendFunc

	// Transfer hands the call to a full address (fire-and-forget).
	Transfer func(address string)

	// Hangup terminates the call.
	Hangup func()
}

// CallInfo is a snapshot of one active call.
type CallInfo struct {
	CallID    string
	StartedAt time.Time
}

// CallManager builds and tracks the per-call pipelines. All exported methods
// are safe for concurrent use.
type CallManager struct {
	app *App

	mu    sync.Mutex
	calls map[string]*activeCall
}

type activeCall struct {
	info       CallInfo
	controller *call.Controller
}

func newCallManager(a *App) *CallManager {
	return &CallManager{app: a, calls: make(map[string]*activeCall)}
}

// Begin assembles the full pipeline for one call — segmenter, transcription,
// turn engine with its own tool registry, synthesis, paced sender — starts it,
// and returns the controller. The transport layer then calls Answer, feeds
// OnInboundFrame, and Ends the call when the line drops.
func (cm *CallManager) Begin(callID string, tr Transport) (*call.Controller, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if _, ok := cm.calls[callID]; ok {
		return nil, fmt.Errorf("app: call %q is already active", callID)
	}

	cfg := cm.app.cfg

	segmenter, err := vad.NewSegmenter(&vad.EnergyModel{}, vad.Config{
		SpeechThreshold:      cfg.VAD.SpeechThreshold,
		StartMs:              cfg.VAD.StartMs,
		EndMs:                cfg.VAD.EndMs,
		PreRollMs:            cfg.VAD.PreRollMs,
		MaxSpeechMs:          cfg.VAD.MaxSpeechMs,
		ResetModelOnComplete: cfg.VAD.ResetModelOnComplete,
	})
	if err != nil {
		return nil, fmt.Errorf("app: build segmenter: %w", err)
	}

	sttStreamer, err := stt.NewStreamer(cm.app.recognizer)
	if err != nil {
		return nil, fmt.Errorf("app: build transcription: %w", err)
	}

	// The transfer tool records the handoff on the controller, which does not
	// exist yet; ctrl is bound below, before any tool can run.
	var ctrl *call.Controller
	registry := tools.NewRegistry()
	err = tools.RegisterBuiltins(registry, tools.Deps{
		Extensions: cfg.Extensions,
		SMS:        cm.app.sms,
		Transfer: func(address string) {
			if ctrl != nil {
				ctrl.NoteTransfer(address)
			}
			if tr.Transfer != nil {
				tr.Transfer(address)
			}
		},
		Hangup: func() {
			if tr.Hangup != nil {
				tr.Hangup()
			}
		},
	})
	if err != nil {
		return nil, fmt.Errorf("app: register tools: %w", err)
	}

	engine, err := turn.NewEngine(cm.app.completions, turn.Config{
		Model:                cfg.LLM.Model,
		Instructions:         cfg.LLM.Instructions,
		InstructionsAddendum: cfg.LLM.InstructionsAddendum,
		ToolGuidance:         cfg.LLM.ToolGuidance,
		Temperature:          cfg.LLM.Temperature,
		MaxTokens:            cfg.LLM.MaxTokens,
	}, registry, cfg.Extensions)
	if err != nil {
		return nil, fmt.Errorf("app: build turn engine: %w", err)
	}

	ttsStreamer, err := tts.NewStreamer(cm.app.synth)
	if err != nil {
		return nil, fmt.Errorf("app: build synthesis: %w", err)
	}

	ctrl, err = call.NewController(call.Config{
		CallID:           callID,
		WelcomeText:      cfg.Welcome.Text,
		WelcomeAudioPath: cfg.Welcome.AudioPath,
	}, segmenter, sttStreamer, engine, ttsStreamer, sender.New(tr.Send), cm.app.metrics, cm.app.records)
	if err != nil {
		return nil, fmt.Errorf("app: build controller: %w", err)
	}

	engine.OnToolInvoked = func(tool, status string, elapsed time.Duration) {
		ctrl.NoteToolCall()
		cm.app.metrics.RecordToolCall(context.Background(), tool, status)
		cm.app.metrics.ToolExecutionDuration.Record(context.Background(), elapsed.Seconds())
	}
	ctrl.Start()

	cm.calls[callID] = &activeCall{
		info:       CallInfo{CallID: callID, StartedAt: time.Now()},
		controller: ctrl,
	}
	return ctrl, nil
}

// End shuts down the named call's pipeline. Unknown IDs are ignored, so the
// transport can report hangups without tracking whether Begin succeeded.
func (cm *CallManager) End(callID string) {
	cm.mu.Lock()
	ac, ok := cm.calls[callID]
	delete(cm.calls, callID)
	cm.mu.Unlock()

	if !ok {
		return
	}
	ac.controller.Shutdown()
	slog.Info("app: call ended", "call_id", callID, "duration", time.Since(ac.info.StartedAt))
}

// Active lists the calls currently in progress, oldest first.
func (cm *CallManager) Active() []CallInfo {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	infos := make([]CallInfo, 0, len(cm.calls))
	for _, ac := range cm.calls {
		infos = append(infos, ac.info)
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].StartedAt.Before(infos[j].StartedAt)
	})
	return infos
}

// shutdown ends every active call. Called from App.Shutdown.
func (cm *CallManager) shutdown() {
	cm.mu.Lock()
	calls := cm.calls
	cm.calls = make(map[string]*activeCall)
	cm.mu.Unlock()

	for id, ac := range calls {
		ac.controller.Shutdown()
		slog.Info("app: call ended", "call_id", id, "duration", time.Since(ac.info.StartedAt))
	}
}
