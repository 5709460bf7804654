// Package live keeps the index and patched files in step with a running
// game: it ingests and patches content as it is downloaded, holding patches
// back while the game is loading a world.
package live

import "sync"

// Gate is a level-triggered open/closed signal. Every waiter is released
// together when it opens. The zero value is not usable; use NewGate.
type Gate struct {
	// notify orders transitions and their callbacks.
	notify    sync.Mutex
	mu        sync.Mutex
	open      bool
	ready     chan struct{} // closed while open
	listeners []func(open bool)
}

// NewGate returns an open gate.
func NewGate() *Gate {
	ch := make(chan struct{})
	close(ch)
	return &Gate{open: true, ready: ch}
}

// OnChange registers fn to run after every state transition. Callbacks run
// on the goroutine that changed the state and see transitions in order; they
// must not open or close the gate themselves.
func (g *Gate) OnChange(fn func(open bool)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listeners = append(g.listeners, fn)
}

func (g *Gate) Open()  { g.set(true) }
func (g *Gate) Close() { g.set(false) }

func (g *Gate) set(open bool) {
	g.notify.Lock()
	defer g.notify.Unlock()

	g.mu.Lock()
	if g.open == open {
		g.mu.Unlock()
		return
	}
	g.open = open
	if open {
		close(g.ready)
	} else {
		g.ready = make(chan struct{})
	}
	listeners := g.listeners
	g.mu.Unlock()

	for _, fn := range listeners {
		fn(open)
	}
}

func (g *Gate) IsOpen() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.open
}

// Ready returns a channel that is closed once the gate is open. A channel
// obtained while closed stays valid across later transitions.
func (g *Gate) Ready() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ready
}

// Wait blocks until the gate is open.
func (g *Gate) Wait() { <-g.Ready() }
