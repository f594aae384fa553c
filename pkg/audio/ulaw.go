package audio

import "log/slog"

// G.711 μ-law companding constants.
const (
	ulawBias = 0x84  // 132, added before segment search
	ulawClip = 32635 // maximum magnitude before bias addition
)

// EncodePCMU compands 16-bit little-endian PCM into 8-bit μ-law. An odd
// trailing byte is trimmed with a warning so encoding can proceed.
func EncodePCMU(pcm []byte) []byte {
	if len(pcm)%2 != 0 {
		slog.Warn("μ-law encode: odd PCM byte count, trimming one byte", "bytes", len(pcm))
		pcm = pcm[:len(pcm)-1]
	}
	out := make([]byte, len(pcm)/2)
	for i := range out {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = encodeSample(s)
	}
	return out
}

// DecodePCMU expands 8-bit μ-law into 16-bit little-endian PCM.
func DecodePCMU(ulaw []byte) []byte {
	out := make([]byte, len(ulaw)*2)
	for i, u := range ulaw {
		s := decodeSample(u)
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// ScalePCMU applies a linear gain to a μ-law buffer by expanding each sample,
// scaling in the linear domain, and re-companding. Gain 1.0 is not an exact
// identity because of μ-law quantization, but is inaudibly close.
func ScalePCMU(ulaw []byte, gain float64) []byte {
	out := make([]byte, len(ulaw))
	for i, u := range ulaw {
		v := float64(decodeSample(u)) * gain
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		out[i] = encodeSample(int16(v))
	}
	return out
}

// encodeSample compands one linear sample to μ-law (G.711).
func encodeSample(s int16) byte {
	var sign byte
	v := int32(s)
	if v < 0 {
		v = -v
		sign = 0x80
	}
	if v > ulawClip {
		v = ulawClip
	}
	v += ulawBias

	exponent := byte(7)
	for mask := int32(0x4000); mask != 0 && v&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte((v >> (exponent + 3)) & 0x0F)
	return ^(sign | exponent<<4 | mantissa)
}

// decodeSample expands one μ-law byte to a linear sample (G.711).
func decodeSample(u byte) int16 {
	u = ^u
	sign := u & 0x80
	exponent := (u >> 4) & 0x07
	mantissa := u & 0x0F
	v := (int32(mantissa)<<3 + ulawBias) << exponent
	v -= ulawBias
	if sign != 0 {
		v = -v
	}
	return int16(v)
}
