package call

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/calebtt/SipBotOpen/internal/tts"
	"github.com/calebtt/SipBotOpen/pkg/audio"
)

// EnsureWelcomeAudio renders the greeting WAV at path from text when the
// file is absent. Run once at startup so every call can answer without a
// synthesis round-trip.
func EnsureWelcomeAudio(ctx context.Context, synth tts.Synthesizer, text, path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("call: stat welcome audio %q: %w", path, err)
	}
	if text == "" {
		return nil
	}

	pcm, rate, err := synth.Synthesize(ctx, text)
	if err != nil {
		return fmt.Errorf("call: render welcome audio: %w", err)
	}
	if err := audio.WriteWAVFile(path, pcm, rate); err != nil {
		return fmt.Errorf("call: write welcome audio: %w", err)
	}
	slog.Info("call: welcome audio rendered", "path", path, "sample_rate", rate)
	return nil
}

// loadWelcomeAudio reads the greeting WAV and converts it to wire format.
func loadWelcomeAudio(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("call: read welcome audio %q: %w", path, err)
	}
	pcm, rate, err := audio.DecodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("call: decode welcome audio %q: %w", path, err)
	}
	if rate != audio.TelephonyRate {
		pcm = audio.ResampleMono16(pcm, rate, audio.TelephonyRate)
	}
	return audio.EncodePCMU(pcm), nil
}
