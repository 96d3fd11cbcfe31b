// Package mailbox provides a single-word handoff from interrupt context
// to one consuming task.
package mailbox

import "sync/atomic"

// Word accumulates bits from any number of producers for one consumer.
// Post never blocks and never allocates, so it is safe from an ISR.
type Word struct {
	bits  atomic.Uint32
	posts atomic.Uint32
	wake  chan struct{} // cap 1: edge notification only
}

func New() *Word {
	return &Word{wake: make(chan struct{}, 1)}
}

// Post ORs b into the word and wakes the consumer. Zero is ignored.
func (w *Word) Post(b uint32) {
	if b == 0 {
		return
	}
	w.bits.Or(b)
	w.posts.Add(1)
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Wake fires after at least one Post since the last receive.
func (w *Word) Wake() <-chan struct{} { return w.wake }

// Take returns and clears the accumulated bits.
func (w *Word) Take() uint32 { return w.bits.Swap(0) }

// Clear discards pending bits and any pending wake.
func (w *Word) Clear() {
	w.bits.Store(0)
	select {
	case <-w.wake:
	default:
	}
}

// Posts counts accepted non-zero posts since creation.
func (w *Word) Posts() uint32 { return w.posts.Load() }
