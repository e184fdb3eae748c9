package engine

import "sync"

// ringBuffer holds the most recent converted ASR frames for a stream. When
// full, the oldest frame is dropped so the producer never blocks.
type ringBuffer struct {
	mu     sync.Mutex
	frames [][]float32
	cap    int
}

func newRingBuffer(capacity int) *ringBuffer {
	if capacity <= 0 {
		capacity = 64
	}
	return &ringBuffer{cap: capacity}
}

func (r *ringBuffer) push(frame []float32) {
	r.mu.Lock()
	if len(r.frames) == r.cap {
		r.frames = r.frames[1:]
	}
	r.frames = append(r.frames, frame)
	r.mu.Unlock()
}

// drain removes and returns up to max frames in FIFO order. max <= 0 drains
// everything.
func (r *ringBuffer) drain(max int) [][]float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.frames)
	if max > 0 && max < n {
		n = max
	}
	if n == 0 {
		return nil
	}
	out := make([][]float32, n)
	copy(out, r.frames[:n])
	r.frames = r.frames[n:]
	return out
}

func (r *ringBuffer) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}
