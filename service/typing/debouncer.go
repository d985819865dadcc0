package typing

import (
	"sync"
	"time"
)

// Key identifies one directed typing relationship. Composite struct
// key, not a concatenated string.
type Key struct {
	Sender   string
	Receiver string
}

// Event is the downstream typing notification.
type Event struct {
	Sender   string
	Receiver string
	Typing   bool
}

const DefaultStopDelay = 1000 * time.Millisecond

// Debouncer coalesces rapid typing start/stop signals per (sender,
// receiver) pair. Starts pass through immediately; stops are trailing-
// edge debounced so a stop followed quickly by a new start emits
// nothing.
type Debouncer struct {
	mu      sync.Mutex
	pending map[Key]*time.Timer

	delay time.Duration
	emit  func(Event)
}

func New(delay time.Duration, emit func(Event)) *Debouncer {
	if delay <= 0 {
		delay = DefaultStopDelay
	}
	return &Debouncer{
		pending: make(map[Key]*time.Timer),
		delay:   delay,
		emit:    emit,
	}
}

// Signal feeds one raw start/stop. The emit callback runs outside the
// debouncer lock.
func (d *Debouncer) Signal(sender, receiver string, isTyping bool) {
	k := Key{Sender: sender, Receiver: receiver}

	if isTyping {
		d.mu.Lock()
		if t, ok := d.pending[k]; ok {
			t.Stop() // cancelled stop: no typing=false will fire
			delete(d.pending, k)
		}
		d.mu.Unlock()
		d.emit(Event{Sender: sender, Receiver: receiver, Typing: true})
		return
	}

	d.mu.Lock()
	if t, ok := d.pending[k]; ok {
		t.Reset(d.delay)
		d.mu.Unlock()
		return
	}
	d.pending[k] = time.AfterFunc(d.delay, func() { d.fire(k) })
	d.mu.Unlock()
}

func (d *Debouncer) fire(k Key) {
	d.mu.Lock()
	if _, ok := d.pending[k]; !ok {
		// cancelled between the timer firing and us taking the lock
		d.mu.Unlock()
		return
	}
	delete(d.pending, k)
	d.mu.Unlock()
	d.emit(Event{Sender: k.Sender, Receiver: k.Receiver, Typing: false})
}

// CancelAll drops every pending stop timer the sender owns. Called on
// connection teardown so timers do not leak under churn.
func (d *Debouncer) CancelAll(sender string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for k, t := range d.pending {
		if k.Sender == sender {
			t.Stop()
			delete(d.pending, k)
		}
	}
}

// PendingCount is exposed for leak checks in tests.
func (d *Debouncer) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
