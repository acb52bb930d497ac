package call

import "sync"

// turnGate serializes turn generation per session. At most one generation
// runs at a time; while one is in flight, the newest flushed utterance
// replaces any previously waiting one, so the conversation always responds
// to the latest thing said instead of a stale backlog.
type turnGate struct {
	run func(utterance string)

	mu         sync.Mutex
	busy       bool
	pending    string
	hasPending bool
}

func newTurnGate(run func(utterance string)) *turnGate {
	return &turnGate{run: run}
}

// Submit hands an utterance to the gate. Returns immediately; generation
// happens on the gate's own goroutine.
func (g *turnGate) Submit(utterance string) {
	g.mu.Lock()
	if g.busy {
		g.pending = utterance
		g.hasPending = true
		g.mu.Unlock()
		return
	}
	g.busy = true
	g.mu.Unlock()

	go g.loop(utterance)
}

// loop runs generations until no pending utterance remains.
func (g *turnGate) loop(utterance string) {
	for {
		g.run(utterance)

		g.mu.Lock()
		if g.hasPending {
			utterance = g.pending
			g.hasPending = false
			g.mu.Unlock()
			continue
		}
		g.busy = false
		g.mu.Unlock()
		return
	}
}
