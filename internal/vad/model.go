// Package vad segments an unbounded stream of 16 kHz mono PCM frames into
// discrete utterances. A frame-level speech-probability model (Silero via an
// external ONNX runtime in production, an energy model in tests) is consulted
// once per frame over a fixed 32 ms analysis window; consecutive-trigger
// counters turn the per-frame decisions into SentenceBegin / SentenceCompleted
// events with pre-roll, hangover, and max-length truncation.
package vad

import "math"

// WindowBytes is the fixed analysis window the speech model requires:
// 32 ms at 16 kHz, 16-bit mono (512 samples).
const WindowBytes = 1024

// Model scores a fixed 32 ms window of 16 kHz 16-bit mono PCM for speech.
//
// Implementations that carry recurrent state (hidden and cell buffers for
// Silero-style models) are exclusively owned by one Segmenter and must not be
// shared across segmenters or goroutines.
type Model interface {
	// SpeechProbability returns the probability in [0, 1] that window
	// contains speech. window is always exactly WindowBytes long.
	SpeechProbability(window []byte) (float64, error)

	// Reset clears any recurrent state carried between inferences.
	Reset()
}

// EnergyModel is a stateless Model that maps the window's RMS energy onto a
// probability. It serves environments without the ONNX runtime and drives the
// package tests. The knee is the RMS level (in 16-bit PCM units) that maps to
// probability 0.5; telephone-line background noise sits around 300.
type EnergyModel struct {
	// Knee is the RMS level scoring 0.5. Zero selects the default of 300.
	Knee float64
}

// SpeechProbability implements Model. The mapping rms/(rms+knee) is monotonic,
// bounded to [0, 1), and never errors.
func (m *EnergyModel) SpeechProbability(window []byte) (float64, error) {
	knee := m.Knee
	if knee <= 0 {
		knee = 300
	}
	rms := rmsLevel(window)
	return rms / (rms + knee), nil
}

// Reset implements Model. EnergyModel carries no state.
func (m *EnergyModel) Reset() {}

// rmsLevel computes the root-mean-square level of 16-bit little-endian PCM.
func rmsLevel(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(pcm[i*2]) | int16(pcm[i*2+1])<<8)
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}
