// Package stt turns completed utterance audio into settled transcripts. A
// pluggable Recognizer produces raw timed segments; the Streamer filters out
// non-speakable annotations, lets late segments settle for a short window,
// and aggregates everything recent into a single TranscriptionComplete event.
package stt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// ErrModelUnavailable is returned when the recognizer's model file cannot be
// opened or downloaded.
var ErrModelUnavailable = errors.New("stt: model unavailable")

const (
	// settleDelay is how long a batch of segments rests before aggregation,
	// allowing stragglers from the same utterance to join.
	settleDelay = 100 * time.Millisecond

	// aggregateWindow is the recency cutoff for segments joining a
	// transcript. Older segments are discarded.
	aggregateWindow = 2 * time.Second

	// waitTimeout bounds WaitForComplete.
	waitTimeout = 10 * time.Second

	// fallbackWindow is the recency cutoff for the timeout fallback path.
	fallbackWindow = 10 * time.Second
)

// Segment is one raw recognizer output span.
type Segment struct {
	// Text is the transcribed span, trimmed.
	Text string

	// Start and End are offsets within the utterance audio.
	Start time.Duration
	End   time.Duration
}

// Recognizer transcribes one utterance of 16 kHz 16-bit mono PCM into timed
// segments. Implementations serialize calls through their own contract; the
// Streamer never calls Recognize concurrently with itself.
type Recognizer interface {
	Recognize(ctx context.Context, pcm []byte) ([]Segment, error)
}

// queuedSegment is a speakable segment awaiting aggregation.
type queuedSegment struct {
	text        string
	processedAt time.Time
}

// Streamer aggregates recognizer segments into settled transcripts.
type Streamer struct {
	recognizer Recognizer

	// OnTranscriptionComplete fires with the settled transcript text. It is
	// invoked synchronously from ProcessAudioChunk. May be nil.
	OnTranscriptionComplete func(text string)

	mu      sync.Mutex
	pending []queuedSegment

	completeCh chan string
}

// NewStreamer creates a Streamer over the given recognizer.
func NewStreamer(recognizer Recognizer) (*Streamer, error) {
	if recognizer == nil {
		return nil, errors.New("stt: recognizer must not be nil")
	}
	return &Streamer{
		recognizer: recognizer,
		completeCh: make(chan string, 1),
	}, nil
}

// ProcessAudioChunk transcribes one utterance, enqueues its speakable
// segments stamped with the wall clock, waits the settling delay, and then
// aggregates all segments recent enough into one TranscriptionComplete.
//
// The settling wait runs on the caller's goroutine; callers that must not
// block (the VAD callback path) should dispatch onto a worker.
func (s *Streamer) ProcessAudioChunk(ctx context.Context, pcm []byte) error {
	segments, err := s.recognizer.Recognize(ctx, pcm)
	if err != nil {
		return fmt.Errorf("stt: recognize: %w", err)
	}

	now := time.Now()
	enqueued := 0
	s.mu.Lock()
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if !speakable(text) {
			continue
		}
		s.pending = append(s.pending, queuedSegment{text: text, processedAt: now})
		enqueued++
	}
	s.mu.Unlock()

	if enqueued > 0 {
		slog.Debug("stt: segments enqueued", "count", enqueued)
	}

	select {
	case <-time.After(settleDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	s.aggregate()
	return nil
}

// WaitForComplete blocks until the next settled transcript, up to 10 seconds.
// On timeout it falls back to joining any still-pending segments from the
// last 10 seconds; ok is false when nothing at all was heard.
func (s *Streamer) WaitForComplete(ctx context.Context) (text string, ok bool) {
	select {
	case text = <-s.completeCh:
		return text, true
	case <-time.After(waitTimeout):
	case <-ctx.Done():
	}

	cutoff := time.Now().Add(-fallbackWindow)
	s.mu.Lock()
	defer s.mu.Unlock()

	var parts []string
	for _, seg := range s.pending {
		if !seg.processedAt.Before(cutoff) {
			parts = append(parts, seg.text)
		}
	}
	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, " "), true
}

// aggregate drains the pending queue, joining segments newer than the
// aggregation cutoff and discarding the rest. Fires the completion event
// when at least one segment qualified.
func (s *Streamer) aggregate() {
	cutoff := time.Now().Add(-aggregateWindow)

	s.mu.Lock()
	var parts []string
	for _, seg := range s.pending {
		if !seg.processedAt.Before(cutoff) {
			parts = append(parts, seg.text)
		}
	}
	s.pending = nil
	s.mu.Unlock()

	if len(parts) == 0 {
		return
	}
	text := strings.Join(parts, " ")

	// Keep only the freshest transcript for waiters; never block.
	select {
	case <-s.completeCh:
	default:
	}
	select {
	case s.completeCh <- text:
	default:
	}

	if s.OnTranscriptionComplete != nil {
		s.OnTranscriptionComplete(text)
	}
}

// speakable reports whether a trimmed segment carries spoken content. Empty
// segments and bracketed/parenthesized annotations ("[BLANK_AUDIO]",
// "(coughs)") are excluded from aggregation.
func speakable(text string) bool {
	if text == "" {
		return false
	}
	if strings.HasPrefix(text, "[") && strings.HasSuffix(text, "]") {
		return false
	}
	if strings.HasPrefix(text, "(") && strings.HasSuffix(text, ")") {
		return false
	}
	return true
}
