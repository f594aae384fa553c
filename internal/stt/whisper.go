package stt

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// WhisperOption configures a [WhisperRecognizer].
type WhisperOption func(*WhisperRecognizer)

// WithLanguage sets the transcription language (default "en").
func WithLanguage(lang string) WhisperOption {
	return func(r *WhisperRecognizer) { r.language = lang }
}

// WithModelURL sets the URL the model is downloaded from when the model file
// is absent.
func WithModelURL(url string) WhisperOption {
	return func(r *WhisperRecognizer) { r.modelURL = url }
}

// WhisperRecognizer transcribes utterances with a locally loaded whisper.cpp
// model. The model is loaded once at construction; inference runs serialized
// because whisper contexts are not safe for concurrent use.
type WhisperRecognizer struct {
	model    whisperlib.Model
	language string
	modelURL string

	mu sync.Mutex
}

var _ Recognizer = (*WhisperRecognizer)(nil)

// NewWhisperRecognizer loads (downloading first if necessary) the model at
// modelPath. Call [WhisperRecognizer.Close] when done.
func NewWhisperRecognizer(modelPath string, opts ...WhisperOption) (*WhisperRecognizer, error) {
	r := &WhisperRecognizer{language: "en"}
	for _, opt := range opts {
		opt(r)
	}

	if err := EnsureModel(modelPath, r.modelURL); err != nil {
		return nil, err
	}

	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("%w: load %q: %v", ErrModelUnavailable, modelPath, err)
	}
	r.model = model

	slog.Info("stt: whisper model loaded", "path", modelPath, "language", r.language)
	return r, nil
}

// Recognize transcribes one utterance of 16 kHz 16-bit mono PCM.
func (r *WhisperRecognizer) Recognize(ctx context.Context, pcm []byte) ([]Segment, error) {
	if len(pcm) < 2 {
		return nil, nil
	}
	samples := pcmToFloat32(pcm)

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	wctx, err := r.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("stt: whisper context: %w", err)
	}
	if err := wctx.SetLanguage(r.language); err != nil {
		return nil, fmt.Errorf("stt: set language %q: %w", r.language, err)
	}

	start := time.Now()
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("stt: whisper process: %w", err)
	}

	var segments []Segment
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return segments, fmt.Errorf("stt: read segment: %w", err)
		}
		segments = append(segments, Segment{
			Text:  seg.Text,
			Start: seg.Start,
			End:   seg.End,
		})
	}

	slog.Debug("stt: utterance transcribed",
		"audio_ms", len(pcm)/32, "segments", len(segments),
		"took", time.Since(start))
	return segments, nil
}

// Close releases the loaded model.
func (r *WhisperRecognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.model == nil {
		return nil
	}
	err := r.model.Close()
	r.model = nil
	return err
}

// pcmToFloat32 converts little-endian 16-bit PCM into the [-1, 1) float
// samples whisper expects.
func pcmToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		out[i] = float32(s) / 32768.0
	}
	return out
}
