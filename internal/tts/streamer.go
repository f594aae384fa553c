// Package tts turns assistant text into a stream of μ-law 8 kHz audio chunks
// with minimum time-to-first-chunk. Text is split into sentences; the first
// sentence is synthesized inline and emitted before any parallel work, the
// rest run on a small worker pool with chunks delivered in sentence order.
package tts

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/calebtt/SipBotOpen/pkg/audio"
)

const (
	// poolSize bounds concurrent synthesis requests for sentences after the
	// first.
	poolSize = 3

	// chunkBuffer is the depth of the returned audio channel.
	chunkBuffer = 64
)

// Synthesizer renders one sentence to 16-bit mono PCM, returning the sample
// rate of the produced audio. Implementations must be safe for concurrent
// use; the Streamer issues up to poolSize calls in parallel.
type Synthesizer interface {
	Synthesize(ctx context.Context, sentence string) (pcm []byte, sampleRate int, err error)
}

// Streamer drives a Synthesizer sentence by sentence and encodes the result
// for the telephony path.
type Streamer struct {
	synth Synthesizer
}

// NewStreamer creates a Streamer over the given synthesizer.
func NewStreamer(synth Synthesizer) (*Streamer, error) {
	if synth == nil {
		return nil, errors.New("tts: synthesizer must not be nil")
	}
	return &Streamer{synth: synth}, nil
}

// Stream synthesizes text and returns a channel of μ-law 8 kHz chunks, one
// chunk per sentence. Empty text yields a channel that closes without
// emitting. A sentence whose synthesis fails is logged and dropped; later
// sentences still stream. Cancelling ctx aborts in-flight synthesis; chunks
// already emitted stay valid.
//
// The caller must drain the channel.
func (s *Streamer) Stream(ctx context.Context, text string) <-chan []byte {
	out := make(chan []byte, chunkBuffer)
	sentences := SplitSentences(text)
	if len(sentences) == 0 {
		close(out)
		return out
	}

	go func() {
		defer close(out)

		start := time.Now()

		// First sentence inline, ahead of the pool, for fastest first audio.
		if chunk, ok := s.renderSentence(ctx, sentences[0]); ok {
			if ctx.Err() != nil {
				return
			}
			select {
			case out <- chunk:
				slog.Debug("tts: first chunk ready", "took", time.Since(start))
			case <-ctx.Done():
				return
			}
		}
		rest := sentences[1:]
		if len(rest) == 0 {
			return
		}

		// Sentences 2..N on the pool; results land in per-sentence slots so
		// emission preserves sentence order regardless of completion order.
		slots := make([]chan []byte, len(rest))
		for i := range slots {
			slots[i] = make(chan []byte, 1)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(poolSize)
		go func() {
			for i, sentence := range rest {
				g.Go(func() error {
					defer close(slots[i])
					if chunk, ok := s.renderSentence(gctx, sentence); ok {
						slots[i] <- chunk
					}
					return nil
				})
			}
			_ = g.Wait()
		}()

		for _, slot := range slots {
			select {
			case chunk, ok := <-slot:
				if !ok {
					continue // sentence dropped
				}
				select {
				case out <- chunk:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

// renderSentence synthesizes one sentence and encodes it for the wire:
// resample to 8 kHz, then μ-law. ok is false when the sentence produced no
// audio or synthesis failed.
func (s *Streamer) renderSentence(ctx context.Context, sentence string) (chunk []byte, ok bool) {
	pcm, rate, err := s.synth.Synthesize(ctx, sentence)
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("tts: sentence synthesis failed, dropping",
				"sentence_len", len(sentence), "error", err)
		}
		return nil, false
	}
	if len(pcm) == 0 {
		return nil, false
	}
	if rate != audio.TelephonyRate {
		pcm = audio.ResampleMono16(pcm, rate, audio.TelephonyRate)
	}
	ulaw := audio.EncodePCMU(pcm)
	if len(ulaw) == 0 {
		return nil, false
	}
	return ulaw, true
}
