// Package debounce collapses bursts of triggers per key into one call that
// runs after a quiet period.
package debounce

import (
	"sync"
	"time"
)

type pending struct {
	timer *time.Timer
	fn    func()
	gen   uint64
}

// Debouncer runs the last function given for a key once delay has passed
// without another Trigger for that key.
type Debouncer struct {
	delay time.Duration

	mu      sync.Mutex
	keys    map[string]*pending
	gen     uint64
	stopped bool
}

// New creates a Debouncer with the given quiet period.
func New(delay time.Duration) *Debouncer {
	return &Debouncer{
		delay: delay,
		keys:  make(map[string]*pending),
	}
}

// Trigger (re)starts the timer for key. Only fn from the latest Trigger
// inside the window runs.
func (d *Debouncer) Trigger(key string, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	d.gen++
	gen := d.gen
	if p, ok := d.keys[key]; ok {
		p.timer.Stop()
	}
	p := &pending{fn: fn, gen: gen}
	p.timer = time.AfterFunc(d.delay, func() { d.fire(key, gen) })
	d.keys[key] = p
}

func (d *Debouncer) fire(key string, gen uint64) {
	d.mu.Lock()
	p, ok := d.keys[key]
	// A newer Trigger, Cancel or Flush already replaced this timer.
	if !ok || p.gen != gen {
		d.mu.Unlock()
		return
	}
	delete(d.keys, key)
	d.mu.Unlock()
	p.fn()
}

// Cancel drops the pending call for key. It reports whether one existed.
func (d *Debouncer) Cancel(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.keys[key]
	if !ok {
		return false
	}
	p.timer.Stop()
	delete(d.keys, key)
	return true
}

// Rekey moves a pending call from oldKey to newKey, keeping its deadline
// semantics by restarting the window.
func (d *Debouncer) Rekey(oldKey, newKey string) {
	d.mu.Lock()
	p, ok := d.keys[oldKey]
	if ok {
		p.timer.Stop()
		delete(d.keys, oldKey)
	}
	d.mu.Unlock()
	if ok {
		d.Trigger(newKey, p.fn)
	}
}

// Pending reports whether key has a call waiting.
func (d *Debouncer) Pending(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.keys[key]
	return ok
}

// Flush runs every pending call now, on the calling goroutine.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	fns := make([]func(), 0, len(d.keys))
	for key, p := range d.keys {
		p.timer.Stop()
		fns = append(fns, p.fn)
		delete(d.keys, key)
	}
	d.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Stop cancels all pending calls and ignores later triggers.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	for key, p := range d.keys {
		p.timer.Stop()
		delete(d.keys, key)
	}
}
