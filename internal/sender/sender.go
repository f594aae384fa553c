// Package sender implements the paced RTP-side frame dispatcher: one 20 ms
// μ-law frame per 20 ms of wall-clock time, silence-filled when the queue is
// empty, with a live filter slot for ducking and a completion event when the
// last queued audio frame has been sent.
package sender

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/calebtt/SipBotOpen/pkg/audio"
)

// rtpUnitsPerFrame is the RTP timestamp increment of one 20 ms PCMU frame
// (8 kHz clock, one unit per sample).
const rtpUnitsPerFrame = 160

// ErrBadFrameSize is returned by [Sender.Enqueue] for frames that are not
// exactly one PCMU frame long.
var ErrBadFrameSize = errors.New("sender: frame must be exactly 160 bytes")

// SendFunc delivers one encoded frame to the transport. durationRTPUnits is
// the RTP timestamp advance for the frame (always 160 here).
type SendFunc func(durationRTPUnits int, frame []byte)

// Filter is a pure byte-to-byte transform applied to each outbound frame.
// It must return 160 bytes for a 160-byte input; outputs of any other length
// are discarded and the frame is sent unfiltered.
type Filter func(frame []byte) []byte

// Sender owns the outbound frame queue and the soft-real-time tick loop.
//
// The queue is multi-writer/single-reader: any goroutine may Enqueue while
// the tick goroutine dequeues. The filter slot is atomic-replace, so the tick
// loop sees one consistent filter per tick. Start and Stop are idempotent.
type Sender struct {
	send SendFunc

	// OnSendingComplete fires on the tick goroutine after the last queued
	// audio frame has been sent (or after ResetBuffer discards pending
	// audio). Set before Start; may be nil.
	OnSendingComplete func()

	mu    sync.Mutex
	queue [][]byte

	filter          atomic.Pointer[Filter]
	hasAudioPending atomic.Bool

	runMu   sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// New creates a Sender that delivers frames through send.
func New(send SendFunc) *Sender {
	if send == nil {
		panic("sender: send must not be nil")
	}
	return &Sender{send: send}
}

// Start launches the tick loop. Calling Start on a running sender is a no-op.
func (s *Sender) Start() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.run(s.stop, s.done)
}

// Stop halts the tick loop and waits for it to exit. Safe to call any number
// of times, including before Start. The queue survives a Stop/Start cycle.
func (s *Sender) Stop() {
	s.runMu.Lock()
	if !s.running {
		s.runMu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	done := s.done
	s.runMu.Unlock()
	<-done
}

// Enqueue appends one 160-byte μ-law frame to the outbound queue. The frame
// is copied. Enqueuing any non-silence frame marks audio as pending so that
// completion can be signaled once it has played out.
func (s *Sender) Enqueue(frame []byte) error {
	if len(frame) != audio.FrameBytesPCMU {
		return fmt.Errorf("%w: got %d", ErrBadFrameSize, len(frame))
	}
	cp := make([]byte, audio.FrameBytesPCMU)
	copy(cp, frame)

	if !isSilence(cp) {
		s.hasAudioPending.Store(true)
	}

	s.mu.Lock()
	s.queue = append(s.queue, cp)
	s.mu.Unlock()
	return nil
}

// EnqueueBuffer splits buf into 160-byte frames, discarding any trailing
// partial frame, and enqueues them in order.
func (s *Sender) EnqueueBuffer(buf []byte) {
	for _, frame := range audio.SplitFrames(buf, audio.FrameBytesPCMU) {
		// Enqueue copies; aliasing SplitFrames output is fine.
		_ = s.Enqueue(frame)
	}
}

// ResetBuffer discards all queued frames. If audio was pending, the pending
// flag is cleared and SendingComplete fires so waiters are released. Safe to
// call any number of times.
func (s *Sender) ResetBuffer() {
	s.mu.Lock()
	s.queue = nil
	s.mu.Unlock()

	if s.hasAudioPending.CompareAndSwap(true, false) {
		s.emitComplete()
	}
}

// ApplyFilter installs f as the live outbound filter, replacing any previous
// filter atomically.
func (s *Sender) ApplyFilter(f Filter) {
	if f == nil {
		s.ClearFilter()
		return
	}
	s.filter.Store(&f)
}

// ClearFilter removes the live filter. Idempotent.
func (s *Sender) ClearFilter() {
	s.filter.Store(nil)
}

// IsPlaying reports whether the queue holds at least one frame. Silence
// ticks generated by an empty queue do not count as playing.
func (s *Sender) IsPlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue) > 0
}

// QueueDepth returns the number of queued frames.
func (s *Sender) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// HasAudioPending reports whether enqueued audio has not yet finished
// playing out.
func (s *Sender) HasAudioPending() bool {
	return s.hasAudioPending.Load()
}

// run is the tick loop: one frame per 20 ms against a monotonic schedule.
// Sleeping until expected elapsed time (rather than a fixed per-tick delay)
// absorbs scheduling jitter without accumulating drift.
func (s *Sender) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	start := time.Now()
	var expectedMs int64

	for {
		select {
		case <-stop:
			return
		default:
		}

		frame, fromQueue, emptiedQueue := s.dequeue()
		out := frame
		if f := s.filter.Load(); f != nil {
			out = s.applyFilter(*f, frame)
		}
		s.send(rtpUnitsPerFrame, out)

		// Completion: a real (non-silence) frame just went out and nothing
		// is left behind it.
		if fromQueue && emptiedQueue && !isSilence(frame) {
			if s.hasAudioPending.CompareAndSwap(true, false) {
				s.emitComplete()
			}
		}

		expectedMs += 20
		elapsed := time.Since(start).Milliseconds()
		if wait := expectedMs - elapsed; wait > 0 {
			select {
			case <-stop:
				return
			case <-time.After(time.Duration(wait) * time.Millisecond):
			}
		} else {
			// Behind schedule: yield and catch up on the next iteration.
			runtime.Gosched()
		}
	}
}

// dequeue pops the head frame, or returns a silence frame when the queue is
// empty. emptiedQueue reports whether this pop left the queue empty.
func (s *Sender) dequeue() (frame []byte, fromQueue, emptiedQueue bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return audio.SilenceFrame(), false, false
	}
	frame = s.queue[0]
	s.queue = s.queue[1:]
	return frame, true, len(s.queue) == 0
}

// applyFilter runs the filter with panic recovery. A panicking or
// wrong-length filter falls back to the unfiltered frame; the filter stays
// installed for subsequent frames.
func (s *Sender) applyFilter(f Filter, frame []byte) (out []byte) {
	out = frame
	defer func() {
		if r := recover(); r != nil {
			slog.Error("sender: filter panicked, sending unfiltered", "panic", r)
			out = frame
		}
	}()
	filtered := f(frame)
	if len(filtered) != audio.FrameBytesPCMU {
		slog.Warn("sender: filter returned wrong length, sending unfiltered",
			"got", len(filtered), "want", audio.FrameBytesPCMU)
		return frame
	}
	return filtered
}

func (s *Sender) emitComplete() {
	if s.OnSendingComplete != nil {
		s.OnSendingComplete()
	}
}

// isSilence reports whether every byte of frame is the μ-law silence code.
func isSilence(frame []byte) bool {
	for _, b := range frame {
		if b != audio.SilentPCMU {
			return false
		}
	}
	return true
}
