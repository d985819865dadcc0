package batcher

import (
	"context"
	"sync"
	"time"

	"IMCore/logger"
	"IMCore/module/chat/model"
)

// Sink persists one flushed batch as a single bulk write.
type Sink interface {
	PersistBatch(ctx context.Context, convKey string, msgs []*model.Message) error
}

type Trigger int

const (
	TriggerSize Trigger = iota
	TriggerTimer
	TriggerClose
)

func (t Trigger) String() string {
	switch t {
	case TriggerSize:
		return "size"
	case TriggerTimer:
		return "timer"
	case TriggerClose:
		return "close"
	}
	return "unknown"
}

// FlushResult is one durably persisted batch.
type FlushResult struct {
	ConvKey string
	Msgs    []*model.Message
	Trigger Trigger
}

const (
	DefaultBatchSize    = 50
	DefaultFlushTimeout = 100 * time.Millisecond
)

// Batcher buffers outgoing messages per conversation and flushes to
// the sink at the size threshold or after the flush timeout, whichever
// comes first. The map mutex guards only queue swaps, never I/O; each
// drained batch joins a per-key chain and waits for its predecessor
// before touching the sink, so batches of one conversation reach the
// sink in drain order even when timer and size flushes race.
type Batcher struct {
	mu     sync.Mutex
	queues map[string]*queue

	sink    Sink
	size    int
	timeout time.Duration
	onFlush func(*FlushResult) // post-persist hook (delivery, archive)

	closed bool
}

type queue struct {
	msgs  []*model.Message
	timer *time.Timer

	tail chan struct{} // closed when the most recently drained batch is done
}

// chain reserves this batch's slot in the key's persist order. Must be
// called under the map mutex, at the same moment the queue is drained.
func (q *queue) chain() (prev, done chan struct{}) {
	prev = q.tail
	done = make(chan struct{})
	q.tail = done
	return prev, done
}

func New(sink Sink, size int, timeout time.Duration) *Batcher {
	if size <= 0 {
		size = DefaultBatchSize
	}
	if timeout <= 0 {
		timeout = DefaultFlushTimeout
	}
	return &Batcher{
		queues:  make(map[string]*queue),
		sink:    sink,
		size:    size,
		timeout: timeout,
	}
}

// OnFlush registers a hook invoked after every successful persist.
// Call before the batcher starts taking traffic.
func (b *Batcher) OnFlush(fn func(*FlushResult)) { b.onFlush = fn }

// Enqueue appends the message to its conversation queue. At the size
// threshold the queue is flushed synchronously and the persisted batch
// returned; otherwise the flush timer is re-armed and the message is
// queued (not yet durable).
func (b *Batcher) Enqueue(ctx context.Context, convKey string, msg *model.Message) (*FlushResult, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, context.Canceled
	}
	q, ok := b.queues[convKey]
	if !ok {
		q = &queue{}
		b.queues[convKey] = q
	}
	q.msgs = append(q.msgs, msg)

	if len(q.msgs) >= b.size {
		batch := q.msgs
		q.msgs = nil
		if q.timer != nil {
			q.timer.Stop() // size beat the timer; no double flush
			q.timer = nil
		}
		prev, done := q.chain()
		b.mu.Unlock()
		return b.persist(ctx, prev, done, convKey, batch, TriggerSize)
	}

	if q.timer == nil {
		q.timer = time.AfterFunc(b.timeout, func() { b.timerFlush(convKey) })
	} else {
		q.timer.Reset(b.timeout)
	}
	b.mu.Unlock()
	return nil, nil
}

// Flush drains the queue for one key and persists it. The drain and
// the queue swap are a single step under the map mutex; a racing
// enqueue lands either fully in this batch or fully in the next.
func (b *Batcher) Flush(ctx context.Context, convKey string) (*FlushResult, error) {
	batch, prev, done := b.drain(convKey)
	if len(batch) == 0 {
		return nil, nil
	}
	return b.persist(ctx, prev, done, convKey, batch, TriggerTimer)
}

// Pending reports the queued-but-not-durable count for a key.
func (b *Batcher) Pending(convKey string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[convKey]; ok {
		return len(q.msgs)
	}
	return 0
}

// Close flushes every remaining queue and stops all timers.
func (b *Batcher) Close(ctx context.Context) {
	b.mu.Lock()
	b.closed = true
	type rest struct {
		key        string
		msgs       []*model.Message
		prev, done chan struct{}
	}
	var all []rest
	for key, q := range b.queues {
		if q.timer != nil {
			q.timer.Stop()
			q.timer = nil
		}
		if len(q.msgs) > 0 {
			prev, done := q.chain()
			all = append(all, rest{key: key, msgs: q.msgs, prev: prev, done: done})
			q.msgs = nil
		}
	}
	b.mu.Unlock()

	for _, r := range all {
		_, _ = b.persist(ctx, r.prev, r.done, r.key, r.msgs, TriggerClose)
	}
}

func (b *Batcher) drain(convKey string) (batch []*model.Message, prev, done chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[convKey]
	if !ok || len(q.msgs) == 0 {
		return nil, nil, nil
	}
	batch = q.msgs
	q.msgs = nil
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	prev, done = q.chain()
	return batch, prev, done
}

func (b *Batcher) timerFlush(convKey string) {
	b.mu.Lock()
	q, ok := b.queues[convKey]
	if !ok || len(q.msgs) == 0 {
		// a size-triggered flush got here first
		if ok {
			q.timer = nil
		}
		b.mu.Unlock()
		return
	}
	batch := q.msgs
	q.msgs = nil
	q.timer = nil
	prev, done := q.chain()
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _ = b.persist(ctx, prev, done, convKey, batch, TriggerTimer)
}

// persist runs outside the map mutex: wait for the previous batch of
// this key, write, signal the next. done is closed on every path so a
// failed batch never stalls its successors. Failure semantics: the
// batch is logged and dropped, not re-queued; the queue keeps serving
// later messages. Known at-least-once gap, see DESIGN.md.
func (b *Batcher) persist(ctx context.Context, prev, done chan struct{}, convKey string, batch []*model.Message, trigger Trigger) (*FlushResult, error) {
	defer close(done)
	if prev != nil {
		<-prev
	}
	err := b.sink.PersistBatch(ctx, convKey, batch)
	if err != nil {
		logger.Errorf("[batcher] flush conv=%s n=%d trigger=%s dropped: %v", convKey, len(batch), trigger, err)
		return nil, err
	}

	res := &FlushResult{ConvKey: convKey, Msgs: batch, Trigger: trigger}
	if b.onFlush != nil {
		b.onFlush(res)
	}
	return res, nil
}
