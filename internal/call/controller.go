// Package call glues the audio pipeline into a turn-taking conversation:
// inbound frames feed the voice-activity segmenter, completed utterances flow
// through transcription into the turn engine, and replies stream back out
// through synthesis into the paced sender — with barge-in when the caller
// talks over the bot.
package call

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/calebtt/SipBotOpen/internal/calllog"
	"github.com/calebtt/SipBotOpen/internal/observe"
	"github.com/calebtt/SipBotOpen/internal/sender"
	"github.com/calebtt/SipBotOpen/internal/stt"
	"github.com/calebtt/SipBotOpen/internal/tts"
	"github.com/calebtt/SipBotOpen/internal/turn"
	"github.com/calebtt/SipBotOpen/internal/vad"
	"github.com/calebtt/SipBotOpen/pkg/audio"
)

const (
	// duckGain attenuates bot playback while the caller is speaking, before
	// the turn is actually interrupted.
	duckGain = 0.35

	// welcomeLeadIn pads the greeting so PSTN path setup does not clip the
	// first syllable.
	welcomeLeadIn = 2 * time.Second

	// pcmuPayloadType is the static RTP payload type for PCMU.
	pcmuPayloadType = 0
)

// Frame is one inbound RTP audio frame with its metadata.
type Frame struct {
	PayloadType int
	Sequence    uint16
	Timestamp   uint32
	Marker      bool
	Payload     []byte
}

// Config carries the per-call settings the controller needs.
type Config struct {
	// CallID identifies the call in logs and call records.
	CallID string

	// WelcomeText is seeded into history as the first assistant turn.
	WelcomeText string

	// WelcomeAudioPath is the pre-rendered greeting WAV.
	WelcomeAudioPath string
}

// Controller owns one call's conversation state. Construct with
// [NewController], then Start, Answer, feed OnInboundFrame, and Shutdown.
type Controller struct {
	cfg Config

	segmenter *vad.Segmenter
	stt       *stt.Streamer
	engine    *turn.Engine
	tts       *tts.Streamer
	sender    *sender.Sender
	metrics   *observe.Metrics
	records   calllog.Store // may be nil

	// callCtx spans the call; turnCancel cancels only the current turn.
	callCtx    context.Context
	callCancel context.CancelFunc

	turnMu     sync.Mutex
	turnCancel context.CancelFunc

	procMu       sync.Mutex
	isProcessing bool

	filterMu           sync.Mutex
	volumeFilterActive bool

	statsMu       sync.Mutex
	startedAt     time.Time
	turns         int
	toolCalls     int
	bargeIns      int
	outcome       calllog.Outcome
	transferredTo string

	shutdownOnce sync.Once
}

// NewController wires the pipeline components together and subscribes to
// their events. The sender must have been constructed over the call's
// outbound sink but not started.
func NewController(cfg Config, seg *vad.Segmenter, sttStreamer *stt.Streamer, engine *turn.Engine, ttsStreamer *tts.Streamer, snd *sender.Sender, metrics *observe.Metrics, records calllog.Store) (*Controller, error) {
	if seg == nil || sttStreamer == nil || engine == nil || ttsStreamer == nil || snd == nil {
		return nil, errors.New("call: all pipeline components are required")
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		cfg:        cfg,
		segmenter:  seg,
		stt:        sttStreamer,
		engine:     engine,
		tts:        ttsStreamer,
		sender:     snd,
		metrics:    metrics,
		records:    records,
		callCtx:    ctx,
		callCancel: cancel,
		outcome:    calllog.OutcomeCompleted,
	}

	seg.OnSentenceBegin = c.handleSentenceBegin
	seg.OnSentenceCompleted = c.handleSentenceCompleted
	sttStreamer.OnTranscriptionComplete = c.handleTranscript
	snd.OnSendingComplete = func() {
		slog.Debug("call: playback complete", "call_id", cfg.CallID)
	}
	return c, nil
}

// Start launches the sender tick loop and marks the call live.
func (c *Controller) Start() {
	c.statsMu.Lock()
	c.startedAt = time.Now()
	c.statsMu.Unlock()

	c.metrics.ActiveCalls.Add(c.callCtx, 1)
	c.sender.Start()
	slog.Info("call: started", "call_id", c.cfg.CallID)
}

// Answer plays the greeting: the welcome text becomes the first assistant
// turn without a model call, and the pre-rendered audio goes out behind a
// two-second silence lead-in.
func (c *Controller) Answer() error {
	if c.cfg.WelcomeText != "" {
		c.engine.AddAssistantMessage(c.cfg.WelcomeText)
	}

	c.sender.EnqueueBuffer(audio.Silence(int(welcomeLeadIn / audio.FrameDuration)))

	if c.cfg.WelcomeAudioPath == "" {
		return nil
	}
	ulaw, err := loadWelcomeAudio(c.cfg.WelcomeAudioPath)
	if err != nil {
		return err
	}
	c.sender.EnqueueBuffer(ulaw)
	return nil
}

// OnInboundFrame accepts one RTP frame from the transport. Frames that are
// not 20 ms of PCMU are dropped. The decode → resample → segment path runs on
// the caller's goroutine and does not block.
func (c *Controller) OnInboundFrame(frame Frame) {
	if frame.PayloadType != pcmuPayloadType || len(frame.Payload) != audio.FrameBytesPCMU {
		c.metrics.DroppedFrames.Add(c.callCtx, 1)
		slog.Debug("call: dropping frame",
			"call_id", c.cfg.CallID,
			"payload_type", frame.PayloadType,
			"len", len(frame.Payload))
		return
	}

	pcm := audio.DecodePCMU(frame.Payload)
	pcm = audio.ResampleMono16(pcm, audio.TelephonyRate, audio.PipelineRate)
	if err := c.segmenter.PushFrame(pcm, audio.PipelineRate); err != nil {
		slog.Error("call: segmenter rejected frame", "call_id", c.cfg.CallID, "error", err)
	}
}

// NoteTransfer records that the call was handed off, for the call record.
func (c *Controller) NoteTransfer(address string) {
	c.statsMu.Lock()
	c.outcome = calllog.OutcomeTransferred
	c.transferredTo = address
	c.statsMu.Unlock()
}

// NoteToolCall counts one tool invocation toward the call record.
func (c *Controller) NoteToolCall() {
	c.statsMu.Lock()
	c.toolCalls++
	c.statsMu.Unlock()
}

// handleSentenceBegin ducks bot playback when the caller starts talking over
// it. Playback is not yet interrupted; that happens only if the utterance
// produces a transcript.
func (c *Controller) handleSentenceBegin() {
	if !c.sender.IsPlaying() {
		return
	}
	c.filterMu.Lock()
	defer c.filterMu.Unlock()
	if c.volumeFilterActive {
		return
	}
	c.volumeFilterActive = true
	c.sender.ApplyFilter(func(frame []byte) []byte {
		return audio.ScalePCMU(frame, duckGain)
	})
	c.metrics.BargeIns.Add(c.callCtx, 1)

	c.statsMu.Lock()
	c.bargeIns++
	c.statsMu.Unlock()

	slog.Debug("call: ducking playback", "call_id", c.cfg.CallID)
}

// handleSentenceCompleted restores full volume and hands the utterance to
// transcription on a worker goroutine so the frame path never blocks on the
// settling delay.
func (c *Controller) handleSentenceCompleted(u vad.Utterance) {
	c.filterMu.Lock()
	if c.volumeFilterActive {
		c.sender.ClearFilter()
		c.volumeFilterActive = false
	}
	c.filterMu.Unlock()

	seconds := float64(len(u.PCM)) / float64(audio.PipelineRate*2)
	c.metrics.RecordUtterance(c.callCtx, string(u.Terminal), seconds)

	go func() {
		start := time.Now()
		if err := c.stt.ProcessAudioChunk(c.callCtx, u.PCM); err != nil {
			if c.callCtx.Err() == nil {
				slog.Error("call: transcription failed", "call_id", c.cfg.CallID, "error", err)
			}
			return
		}
		c.metrics.STTDuration.Record(c.callCtx, time.Since(start).Seconds())
	}()
}

// handleTranscript runs one conversational turn. A transcript arriving while
// a turn is in flight is dropped, not queued, so the bot never stacks
// replies after the caller has moved on.
func (c *Controller) handleTranscript(text string) {
	c.procMu.Lock()
	if c.isProcessing {
		c.procMu.Unlock()
		slog.Info("call: turn in flight, dropping transcript", "call_id", c.cfg.CallID)
		return
	}
	c.isProcessing = true
	c.procMu.Unlock()

	defer func() {
		c.procMu.Lock()
		c.isProcessing = false
		c.procMu.Unlock()
	}()

	turnCtx := c.beginTurn()
	c.metrics.Transcripts.Add(c.callCtx, 1)
	slog.Info("call: transcript", "call_id", c.cfg.CallID, "len", len(text))

	llmStart := time.Now()
	reply := c.engine.ProcessMessage(turnCtx, text)
	c.metrics.LLMDuration.Record(c.callCtx, time.Since(llmStart).Seconds())

	c.statsMu.Lock()
	c.turns++
	c.statsMu.Unlock()

	// Interrupt any in-progress playback only now that there is a reply to
	// say instead.
	c.sender.ResetBuffer()

	if turnCtx.Err() != nil {
		return
	}

	ttsStart := time.Now()
	first := true
	for chunk := range c.tts.Stream(turnCtx, reply) {
		if first {
			c.metrics.TTSFirstChunk.Record(c.callCtx, time.Since(ttsStart).Seconds())
			first = false
		}
		c.sender.EnqueueBuffer(chunk)
	}
}

// beginTurn replaces the current turn's cancellation scope.
func (c *Controller) beginTurn() context.Context {
	c.turnMu.Lock()
	defer c.turnMu.Unlock()
	if c.turnCancel != nil {
		c.turnCancel()
	}
	ctx, cancel := context.WithCancel(c.callCtx)
	c.turnCancel = cancel
	return ctx
}

// Shutdown releases everything scoped to the call. Safe to call any number
// of times and from any goroutine.
func (c *Controller) Shutdown() {
	c.shutdownOnce.Do(func() {
		c.turnMu.Lock()
		if c.turnCancel != nil {
			c.turnCancel()
		}
		c.turnMu.Unlock()
		c.callCancel()

		c.sender.Stop()
		c.segmenter.Reset()
		c.metrics.ActiveCalls.Add(context.Background(), -1)

		c.writeRecord()
		slog.Info("call: shut down", "call_id", c.cfg.CallID)
	})
}

// writeRecord persists the call detail record when a store is configured.
func (c *Controller) writeRecord() {
	if c.records == nil {
		return
	}
	c.statsMu.Lock()
	rec := calllog.Record{
		CallID:        c.cfg.CallID,
		StartedAt:     c.startedAt,
		EndedAt:       time.Now(),
		Outcome:       c.outcome,
		Turns:         c.turns,
		ToolCalls:     c.toolCalls,
		BargeIns:      c.bargeIns,
		TransferredTo: c.transferredTo,
	}
	c.statsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.records.Write(ctx, rec); err != nil {
		slog.Error("call: writing call record failed", "call_id", c.cfg.CallID, "error", err)
	}
}
