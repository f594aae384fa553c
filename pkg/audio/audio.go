// Package audio provides the narrowband telephony audio primitives shared by
// the pipeline: G.711 μ-law encode/decode, linear-interpolation resampling,
// WAV envelope read/write, silence generation, and PCMU frame splitting.
//
// Two frame shapes flow through the system. Outbound frames are 8-bit μ-law
// at 8 kHz, 20 ms each (160 bytes). Inbound/model frames are 16-bit
// little-endian PCM at 16 kHz, 20 ms each (640 bytes). Frames are never
// mutated in place; every transform allocates its output.
package audio

import "time"

const (
	// TelephonyRate is the PSTN narrowband sample rate in Hz.
	TelephonyRate = 8000

	// PipelineRate is the sample rate used by VAD and STT in Hz.
	PipelineRate = 16000

	// FrameDuration is the wire frame period.
	FrameDuration = 20 * time.Millisecond

	// FrameBytesPCMU is the byte count of one 20 ms μ-law frame at 8 kHz.
	FrameBytesPCMU = 160

	// FrameBytesPCM16 is the byte count of one 20 ms 16-bit PCM frame at 16 kHz.
	FrameBytesPCM16 = 640

	// SilentPCMU is the μ-law code point for digital silence.
	SilentPCMU = 0x7F
)

// SilenceFrame returns one 20 ms μ-law silence frame (160 × 0x7F).
func SilenceFrame() []byte {
	frame := make([]byte, FrameBytesPCMU)
	for i := range frame {
		frame[i] = SilentPCMU
	}
	return frame
}

// Silence returns n consecutive μ-law silence frames as one buffer.
// n ≤ 0 yields an empty buffer.
func Silence(n int) []byte {
	if n <= 0 {
		return nil
	}
	buf := make([]byte, n*FrameBytesPCMU)
	for i := range buf {
		buf[i] = SilentPCMU
	}
	return buf
}

// SplitFrames slices b into frameBytes-sized frames, discarding any trailing
// partial frame. The returned slices alias b; callers that retain frames past
// the lifetime of b must copy them.
func SplitFrames(b []byte, frameBytes int) [][]byte {
	if frameBytes <= 0 || len(b) < frameBytes {
		return nil
	}
	n := len(b) / frameBytes
	frames := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		frames = append(frames, b[i*frameBytes:(i+1)*frameBytes])
	}
	return frames
}
