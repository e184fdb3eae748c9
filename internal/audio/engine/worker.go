package engine

import (
	"sync/atomic"
	"time"
)

const pausePollInterval = 50 * time.Millisecond

// worker drives a software-timed block loop for streams with no hardware
// clock (file and ASR sinks). The body runs once per tick; pausing keeps the
// goroutine alive polling at a coarse interval.
type worker struct {
	stop   chan struct{}
	done   chan struct{}
	paused atomic.Bool
}

func newWorker() *worker {
	return &worker{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// run executes body once per tick until stopped. It must be called exactly
// once, in its own goroutine.
func (w *worker) run(tick time.Duration, body func()) {
	defer close(w.done)
	if tick <= 0 {
		tick = pausePollInterval
	}
	for {
		wait := tick
		if w.paused.Load() {
			wait = pausePollInterval
		} else {
			body()
		}
		select {
		case <-w.stop:
			return
		case <-time.After(wait):
		}
	}
}

func (w *worker) pause()  { w.paused.Store(true) }
func (w *worker) resume() { w.paused.Store(false) }

// stopAndJoin signals the loop to exit and waits up to timeout for it to
// finish. It reports whether the join completed in time.
func (w *worker) stopAndJoin(timeout time.Duration) bool {
	select {
	case <-w.stop:
	default:
		close(w.stop)
	}
	select {
	case <-w.done:
		return true
	case <-time.After(timeout):
		return false
	}
}
