package vad

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrInvalidSampleRate is returned by [Segmenter.PushFrame] when the caller
// declares a sample rate other than 16 kHz.
var ErrInvalidSampleRate = errors.New("vad: sample rate must be 16000 Hz")

// TerminalReason records why an utterance was closed.
type TerminalReason string

const (
	// TerminalSilence means the hangover of consecutive non-speech frames
	// elapsed.
	TerminalSilence TerminalReason = "silence-hangover"

	// TerminalMaxLength means the utterance hit the configured maximum
	// length and was truncated.
	TerminalMaxLength TerminalReason = "max-length"
)

// Utterance is a completed speech segment: pre-roll, speech, and trailing
// silence up to the hangover, as 16-bit 16 kHz mono PCM.
type Utterance struct {
	// PCM is the concatenated frame bytes. Its length is always a multiple
	// of the configured frame byte count.
	PCM []byte

	// Start is the monotonic stamp taken when the utterance opened.
	Start time.Time

	// Terminal is the reason the utterance closed.
	Terminal TerminalReason
}

// Config holds the segmentation parameters. Zero values select the defaults
// listed on each field.
type Config struct {
	// FrameMs is the expected duration of each pushed frame. Default 20.
	FrameMs int

	// SpeechThreshold is the model probability above which a frame counts
	// as speech. Default 0.3.
	SpeechThreshold float64

	// StartMs is the consecutive-speech duration that opens an utterance.
	// Default 500.
	StartMs int

	// EndMs is the consecutive-silence hangover that closes an utterance.
	// Default 550.
	EndMs int

	// PreRollMs is the amount of history copied into the utterance ahead of
	// the start trigger. Default 1200.
	PreRollMs int

	// MaxSpeechMs truncates any utterance whose buffer reaches this length.
	// Default 7000.
	MaxSpeechMs int

	// ResetModelOnComplete clears the model's recurrent state at every
	// SentenceCompleted. The reference behaviour is to hold state across
	// the call, so the default is false.
	ResetModelOnComplete bool
}

// withDefaults returns cfg with zero fields replaced by their defaults.
func (c Config) withDefaults() Config {
	if c.FrameMs <= 0 {
		c.FrameMs = 20
	}
	if c.SpeechThreshold <= 0 {
		c.SpeechThreshold = 0.3
	}
	if c.StartMs <= 0 {
		c.StartMs = 500
	}
	if c.EndMs <= 0 {
		c.EndMs = 550
	}
	if c.PreRollMs <= 0 {
		c.PreRollMs = 1200
	}
	if c.MaxSpeechMs <= 0 {
		c.MaxSpeechMs = 7000
	}
	return c
}

// segmenter states. JustStarted exists only within a single PushFrame call:
// it is the guard that keeps the triggering frame, already present in the
// pre-roll copy, from being appended a second time.
type state int

const (
	stateIdle state = iota
	stateJustStarted
	stateInUtterance
)

// Segmenter converts a pushed frame stream into utterance events. It is a
// single-writer structure: all methods must be called from one goroutine.
// Event callbacks fire synchronously on the pushing goroutine.
type Segmenter struct {
	cfg   Config
	model Model

	// OnSentenceBegin fires exactly once per utterance, before the first
	// utterance byte is visible to consumers. May be nil.
	OnSentenceBegin func()

	// OnSentenceCompleted fires exactly once per utterance with the full
	// buffer. May be nil.
	OnSentenceCompleted func(Utterance)

	frameBytes int
	maxBytes   int

	ring         *ring
	startCounter *Counter
	endCounter   *Counter

	state    state
	buf      []byte
	started  time.Time
	warnedSz bool
}

// NewSegmenter creates a Segmenter driven by the given speech model. The
// model must be exclusively owned by this segmenter.
func NewSegmenter(model Model, cfg Config) (*Segmenter, error) {
	if model == nil {
		return nil, errors.New("vad: model must not be nil")
	}
	cfg = cfg.withDefaults()

	// One PCM16 frame at 16 kHz is FrameMs·32 bytes.
	frameBytes := cfg.FrameMs * 32

	return &Segmenter{
		cfg:          cfg,
		model:        model,
		frameBytes:   frameBytes,
		maxBytes:     cfg.MaxSpeechMs * 32,
		ring:         newRing(ceilDiv(cfg.PreRollMs, cfg.FrameMs)),
		startCounter: NewCounter(ceilDiv(cfg.StartMs, cfg.FrameMs)),
		endCounter:   NewCounter(ceilDiv(cfg.EndMs, cfg.FrameMs)),
	}, nil
}

// PushFrame ingests one frame of 16-bit mono PCM. sampleRate must be 16000.
// Frames whose length does not match the configured frame duration are
// resized with a warning; odd byte counts are trimmed. Inference runs on
// every frame regardless.
func (s *Segmenter) PushFrame(frame []byte, sampleRate int) error {
	if sampleRate != 16000 {
		return fmt.Errorf("%w: got %d", ErrInvalidSampleRate, sampleRate)
	}
	frame = s.normalizeFrame(frame)

	s.ring.push(frame)

	prob, err := s.model.SpeechProbability(s.ring.tailWindow(WindowBytes))
	if err != nil {
		// Model failure on one frame must not wedge the stream; treat the
		// frame as non-speech.
		slog.Warn("vad: model inference failed, treating frame as non-speech", "err", err)
		prob = 0
	}
	speech := prob > s.cfg.SpeechThreshold

	switch s.state {
	case stateIdle:
		if s.startCounter.Observe(speech) {
			s.open()
		}
	case stateInUtterance:
		s.buf = append(s.buf, frame...)
		if s.endCounter.Observe(!speech) {
			s.complete(TerminalSilence)
			break
		}
		if len(s.buf) >= s.maxBytes {
			s.complete(TerminalMaxLength)
		}
	}

	// One-frame guard: the triggering frame is part of the pre-roll copy,
	// so it is not appended again on the push that opened the utterance.
	if s.state == stateJustStarted {
		s.state = stateInUtterance
	}
	return nil
}

// Reset returns the segmenter to Idle, discarding any partial utterance and
// all counter and ring history. The model's recurrent state is also cleared.
func (s *Segmenter) Reset() {
	s.state = stateIdle
	s.buf = nil
	s.ring.reset()
	s.startCounter.Reset()
	s.endCounter.Reset()
	s.model.Reset()
}

// open starts a new utterance: the pre-roll ring (which includes the
// triggering frame) becomes the head of the buffer and SentenceBegin fires
// before any utterance byte is observable.
func (s *Segmenter) open() {
	s.started = time.Now()
	s.state = stateJustStarted
	s.startCounter.Reset()
	s.endCounter.Reset()
	if s.OnSentenceBegin != nil {
		s.OnSentenceBegin()
	}
	s.buf = append(s.buf[:0:0], s.ring.bytes()...)
}

// complete closes the current utterance and emits SentenceCompleted.
func (s *Segmenter) complete(reason TerminalReason) {
	utt := Utterance{PCM: s.buf, Start: s.started, Terminal: reason}
	s.buf = nil
	s.state = stateIdle
	s.startCounter.Reset()
	s.endCounter.Reset()
	if s.cfg.ResetModelOnComplete {
		s.model.Reset()
	}
	if s.OnSentenceCompleted != nil {
		s.OnSentenceCompleted(utt)
	}
}

// normalizeFrame trims odd byte counts and resizes frames that do not match
// the configured frame duration, warning once per stream.
func (s *Segmenter) normalizeFrame(frame []byte) []byte {
	if len(frame)%2 != 0 {
		frame = frame[:len(frame)-1]
	}
	if len(frame) == s.frameBytes {
		return frame
	}
	if !s.warnedSz {
		s.warnedSz = true
		slog.Warn("vad: frame size mismatch, resizing",
			"got", len(frame), "want", s.frameBytes, "frame_ms", s.cfg.FrameMs)
	}
	resized := make([]byte, s.frameBytes)
	copy(resized, frame)
	return resized
}

// ceilDiv returns ceil(a/b), bounded below by 1.
func ceilDiv(a, b int) int {
	n := (a + b - 1) / b
	if n < 1 {
		n = 1
	}
	return n
}
