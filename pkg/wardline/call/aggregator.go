package call

import (
	"strings"
	"sync"
	"time"
)

// DefaultDebounce is the silence window that closes an utterance.
const DefaultDebounce = 700 * time.Millisecond

// Aggregator coalesces consecutive final transcript fragments into one
// utterance. Every fragment restarts the debounce timer; when it fires with
// nothing new arrived, the buffered fragments are joined and handed to the
// flush callback, and the buffer is cleared.
type Aggregator struct {
	delay time.Duration
	flush func(utterance string)

	mu    sync.Mutex
	parts []string
	timer *time.Timer

	// gen invalidates stale timers: each Add bumps it, and a firing timer
	// only flushes if its captured generation is still current.
	gen uint64
}

// NewAggregator creates an utterance aggregator. flush is called outside
// the aggregator's lock, one utterance at a time.
func NewAggregator(delay time.Duration, flush func(utterance string)) *Aggregator {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	return &Aggregator{delay: delay, flush: flush}
}

// Add buffers one final transcript fragment and restarts the debounce.
func (a *Aggregator) Add(fragment string) {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return
	}

	a.mu.Lock()
	a.parts = append(a.parts, fragment)
	a.gen++
	gen := a.gen
	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = time.AfterFunc(a.delay, func() { a.fire(gen) })
	a.mu.Unlock()
}

// fire flushes the buffer if no fragment arrived since gen was captured.
func (a *Aggregator) fire(gen uint64) {
	a.mu.Lock()
	if gen != a.gen || len(a.parts) == 0 {
		a.mu.Unlock()
		return
	}
	utterance := strings.Join(a.parts, " ")
	a.parts = nil
	a.gen++
	a.mu.Unlock()

	a.flush(utterance)
}

// FlushNow forces an immediate flush of any buffered fragments, bypassing
// the debounce. Used on session termination so trailing speech is not lost.
func (a *Aggregator) FlushNow() {
	a.mu.Lock()
	a.gen++
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	if len(a.parts) == 0 {
		a.mu.Unlock()
		return
	}
	utterance := strings.Join(a.parts, " ")
	a.parts = nil
	a.mu.Unlock()

	a.flush(utterance)
}

// Stop cancels any armed timer and discards the buffer.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	a.gen++
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.parts = nil
	a.mu.Unlock()
}
