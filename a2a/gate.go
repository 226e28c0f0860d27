package a2a

import (
	"context"
	"sync"
)

// gate is a resettable one-shot notification. Used for the approval wait
// (closed until ApprovePlan opens it) and for pause/resume (open while
// running, reset while paused).
//
// Reset swaps in a fresh generation channel and wakes current waiters so
// they re-park on the new generation; a waiter therefore never observes a
// stale signal from a previous plan-approval cycle.
type gate struct {
	mu   sync.Mutex
	open bool
	ch   chan struct{}
}

func newGate(open bool) *gate {
	return &gate{
		open: open,
		ch:   make(chan struct{}),
	}
}

// Wait blocks until the gate is open or the context is done.
func (g *gate) Wait(ctx context.Context) error {
	for {
		g.mu.Lock()
		if g.open {
			g.mu.Unlock()
			return nil
		}
		ch := g.ch
		g.mu.Unlock()

		select {
		case <-ch:
			// Woken by Open or Reset; re-check the flag.
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Open releases all current and future waiters.
func (g *gate) Open() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.open {
		return
	}
	g.open = true
	close(g.ch)
}

// Reset closes the gate again. Parked waiters are woken so they block on
// the fresh generation instead of the discarded one.
func (g *gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.open {
		close(g.ch)
	}
	g.open = false
	g.ch = make(chan struct{})
}

// IsOpen reports the current state.
func (g *gate) IsOpen() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.open
}
