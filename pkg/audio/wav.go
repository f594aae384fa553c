package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
)

// wavHeaderSize is the size of the minimal canonical RIFF/WAVE header this
// package writes: RIFF chunk + 16-byte fmt chunk + data chunk header.
const wavHeaderSize = 44

// EncodeWAV wraps raw 16-bit little-endian mono PCM in a minimal WAV
// envelope with the given sample rate.
func EncodeWAV(pcm []byte, sampleRate int) []byte {
	const (
		numChannels   = 1
		bitsPerSample = 16
	)
	byteRate := sampleRate * numChannels * bitsPerSample / 8
	blockAlign := numChannels * bitsPerSample / 8

	out := make([]byte, wavHeaderSize+len(pcm))
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(out[22:24], numChannels)
	binary.LittleEndian.PutUint32(out[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:36], bitsPerSample)
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[44:], pcm)
	return out
}

// WriteWAVFile writes pcm as a WAV file at path, creating or truncating it.
func WriteWAVFile(path string, pcm []byte, sampleRate int) error {
	if err := os.WriteFile(path, EncodeWAV(pcm, sampleRate), 0o644); err != nil {
		return fmt.Errorf("audio: write wav %q: %w", path, err)
	}
	return nil
}

// DecodeWAV extracts the PCM payload and sample rate from a WAV buffer.
// Only 16-bit mono PCM is supported; chunks other than fmt and data are
// skipped. Returns an error on malformed or unsupported input.
func DecodeWAV(wav []byte) (pcm []byte, sampleRate int, err error) {
	if len(wav) < 12 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return nil, 0, errors.New("audio: not a RIFF/WAVE buffer")
	}

	var (
		haveFmt  bool
		channels int
		bits     int
	)
	pos := 12
	for pos+8 <= len(wav) {
		id := string(wav[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(wav[pos+4 : pos+8]))
		body := pos + 8
		if body+size > len(wav) {
			size = len(wav) - body
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, errors.New("audio: short fmt chunk")
			}
			format := int(binary.LittleEndian.Uint16(wav[body : body+2]))
			channels = int(binary.LittleEndian.Uint16(wav[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(wav[body+4 : body+8]))
			bits = int(binary.LittleEndian.Uint16(wav[body+14 : body+16]))
			if format != 1 {
				return nil, 0, fmt.Errorf("audio: unsupported wav format %d", format)
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, 0, errors.New("audio: data chunk before fmt chunk")
			}
			if channels != 1 || bits != 16 {
				return nil, 0, fmt.Errorf("audio: unsupported wav layout (%d ch, %d bit)", channels, bits)
			}
			return wav[body : body+size], sampleRate, nil
		}

		// Chunks are word-aligned.
		pos = body + size
		if size%2 == 1 {
			pos++
		}
	}
	return nil, 0, errors.New("audio: no data chunk found")
}
