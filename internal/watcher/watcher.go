// Package watcher provides the single repeating refresh timer of a data set.
package watcher

import (
	"sync"
	"time"
)

// Watcher owns at most one repeating timer. Re-arming cancels the previous
// timer before the new one starts.
type Watcher struct {
	mu       sync.Mutex
	gen      uint64
	stop     chan struct{}
	interval time.Duration
}

// New returns an unarmed watcher.
func New() *Watcher {
	return &Watcher{}
}

// Set cancels any armed timer and arms a new one calling onTick every
// interval. A non-positive interval only cancels.
func (w *Watcher) Set(interval time.Duration, onTick func()) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.cancelLocked()
	if interval <= 0 || onTick == nil {
		return
	}

	w.gen++
	gen := w.gen
	stop := make(chan struct{})
	w.stop = stop
	w.interval = interval

	go w.loop(gen, stop, interval, onTick)
}

// Stop cancels the armed timer, if any.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cancelLocked()
}

// Active reports whether a timer is armed.
func (w *Watcher) Active() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stop != nil
}

// Interval returns the period of the armed timer, or zero.
func (w *Watcher) Interval() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.interval
}

func (w *Watcher) cancelLocked() {
	if w.stop != nil {
		close(w.stop)
		w.stop = nil
	}
	w.interval = 0
	w.gen++
}

func (w *Watcher) loop(gen uint64, stop <-chan struct{}, interval time.Duration, onTick func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			// a tick that raced with Set or Stop belongs to a dead generation
			if !w.current(gen) {
				return
			}
			onTick()
		}
	}
}

func (w *Watcher) current(gen uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.gen == gen
}
