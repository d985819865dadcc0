package natsx

import (
	"sync"
)

// MemBus is an in-process Bus for tests and single-instance runs.
// Handlers run synchronously on the publisher goroutine.
type MemBus struct {
	mu       sync.RWMutex
	handlers map[string][]func([]byte)
	closed   bool
}

func NewMemBus() *MemBus {
	return &MemBus{handlers: make(map[string][]func([]byte))}
}

func (b *MemBus) Publish(channel string, payload []byte) error {
	b.mu.RLock()
	hs := append([]func([]byte){}, b.handlers[channel]...)
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return nil
	}
	for _, h := range hs {
		h(payload)
	}
	return nil
}

func (b *MemBus) Subscribe(channel string, handler func(payload []byte)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[channel] = append(b.handlers[channel], handler)
	return nil
}

func (b *MemBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
