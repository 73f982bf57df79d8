package ear

// preRollRing buffers the most recent capture frames so the syllables spoken
// before the wake word triggers are not lost. Frames are copied in; Drain
// returns them oldest first and empties the ring.
//
// The ring is used only from the capture goroutine and needs no locking.
type preRollRing struct {
	frames [][]int16
	next   int
	full   bool
}

func newPreRollRing(capacity int) *preRollRing {
	return &preRollRing{frames: make([][]int16, capacity)}
}

// Push copies frame into the ring, overwriting the oldest entry when full.
func (r *preRollRing) Push(frame []int16) {
	buf := r.frames[r.next]
	if cap(buf) < len(frame) {
		buf = make([]int16, len(frame))
	}
	buf = buf[:len(frame)]
	copy(buf, frame)
	r.frames[r.next] = buf

	r.next++
	if r.next == len(r.frames) {
		r.next = 0
		r.full = true
	}
}

// Drain returns the buffered samples oldest first and resets the ring.
func (r *preRollRing) Drain() []int16 {
	var out []int16
	if r.full {
		for i := r.next; i < len(r.frames); i++ {
			out = append(out, r.frames[i]...)
		}
	}
	for i := 0; i < r.next; i++ {
		out = append(out, r.frames[i]...)
	}
	r.next = 0
	r.full = false
	return out
}

// Len reports the number of buffered frames.
func (r *preRollRing) Len() int {
	if r.full {
		return len(r.frames)
	}
	return r.next
}
