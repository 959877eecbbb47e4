package workflow

import (
	"sync"

	"renderflow/pkg/core"
)

// inbox is the per-instance FIFO signal queue. Signals are appended by
// arbitrary goroutines and drained by the run goroutine at suspension
// points, preserving arrival order.
type inbox struct {
	mu     sync.Mutex
	queue  []Signal
	closed bool
	notify chan struct{}
}

func newInbox() *inbox {
	return &inbox{notify: make(chan struct{}, 1)}
}

// push appends a signal and wakes a waiting drain loop. Pushing into a
// closed inbox reports core.ErrWorkflowClosed.
func (b *inbox) push(sig Signal) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return core.ErrWorkflowClosed
	}
	b.queue = append(b.queue, sig)
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
	return nil
}

// pop removes the oldest queued signal.
func (b *inbox) pop() (Signal, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return Signal{}, false
	}
	sig := b.queue[0]
	b.queue = b.queue[1:]
	return sig, true
}

// close rejects further pushes. Already queued signals stay poppable so
// a drain in progress can finish.
func (b *inbox) close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
}

func (b *inbox) wake() <-chan struct{} {
	return b.notify
}
