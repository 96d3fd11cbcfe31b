package mailbox

import (
	"sync"
	"testing"
	"time"
)

func TestPostAccumulatesAndWakesOnce(t *testing.T) {
	w := New()
	w.Post(0b001)
	w.Post(0b100)
	w.Post(0)

	select {
	case <-w.Wake():
	case <-time.After(100 * time.Millisecond):
		t.Fatal("no wake after post")
	}
	select {
	case <-w.Wake():
		t.Fatal("wake should coalesce")
	default:
	}
	if got := w.Take(); got != 0b101 {
		t.Fatalf("Take() = %03b, want 101", got)
	}
	if got := w.Take(); got != 0 {
		t.Fatalf("second Take() = %b, want 0", got)
	}
	if w.Posts() != 2 {
		t.Fatalf("Posts() = %d, want 2", w.Posts())
	}
}

func TestClearDropsStaleBits(t *testing.T) {
	w := New()
	w.Post(0b10)
	w.Clear()
	if w.Take() != 0 {
		t.Fatal("bits survive Clear")
	}
	select {
	case <-w.Wake():
		t.Fatal("wake survives Clear")
	default:
	}
}

func TestConcurrentProducers(t *testing.T) {
	w := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(bit uint32) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				w.Post(1 << bit)
			}
		}(uint32(i))
	}
	wg.Wait()
	if got := w.Take(); got != 0xFF {
		t.Fatalf("Take() = %08b, want all eight bits", got)
	}
}
