package chat

import "sync"

type fanoutJob struct {
	conns   []*Client
	payload []byte
}

// Fanout spreads one payload over many connections on a small worker
// pool so a broadcast never blocks the caller.
type Fanout struct {
	mu     sync.RWMutex
	jobs   chan fanoutJob
	closed bool
}

func NewFanout(workers, queue int) *Fanout {
	if workers <= 0 {
		workers = 4
	}
	if queue <= 0 {
		queue = 1024
	}
	f := &Fanout{jobs: make(chan fanoutJob, queue)}
	for i := 0; i < workers; i++ {
		go func() {
			for job := range f.jobs {
				for _, c := range job.conns {
					c.Deliver(job.payload)
				}
			}
		}()
	}
	return f
}

// Broadcast enqueues the payload for every connection. After Close it
// is a no-op. The read lock is held across the send so Close cannot
// close the channel under an in-flight Broadcast.
func (f *Fanout) Broadcast(conns []*Client, payload []byte) {
	if len(conns) == 0 || len(payload) == 0 {
		return
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return
	}
	f.jobs <- fanoutJob{conns: conns, payload: payload}
}

// Close stops accepting broadcasts and lets the workers drain what is
// already queued. Safe to call more than once.
func (f *Fanout) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	close(f.jobs)
}
