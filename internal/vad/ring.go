package vad

// ring is a rolling buffer of the most recent audio frames, used for two
// things: the pre-roll copied into an utterance when speech starts, and the
// tail window handed to the speech model on every push.
type ring struct {
	frames   [][]byte
	capacity int
}

func newRing(capacity int) *ring {
	if capacity < 1 {
		capacity = 1
	}
	return &ring{capacity: capacity}
}

// push appends a copy of frame, evicting the oldest frame when full.
func (r *ring) push(frame []byte) {
	cp := make([]byte, len(frame))
	copy(cp, frame)
	if len(r.frames) == r.capacity {
		copy(r.frames, r.frames[1:])
		r.frames[len(r.frames)-1] = cp
		return
	}
	r.frames = append(r.frames, cp)
}

// bytes returns all buffered frames concatenated oldest-first.
func (r *ring) bytes() []byte {
	total := 0
	for _, f := range r.frames {
		total += len(f)
	}
	out := make([]byte, 0, total)
	for _, f := range r.frames {
		out = append(out, f...)
	}
	return out
}

// tailWindow returns the latest n buffered bytes. When less than n bytes of
// history exist the head is zero-padded so the result is always n bytes.
func (r *ring) tailWindow(n int) []byte {
	out := make([]byte, n)
	// Fill from the newest frame backwards.
	pos := n
	for i := len(r.frames) - 1; i >= 0 && pos > 0; i-- {
		f := r.frames[i]
		if len(f) >= pos {
			copy(out[:pos], f[len(f)-pos:])
			pos = 0
		} else {
			pos -= len(f)
			copy(out[pos:], f)
		}
	}
	return out
}

// reset discards all buffered frames.
func (r *ring) reset() { r.frames = r.frames[:0] }
