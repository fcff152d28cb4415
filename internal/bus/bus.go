package bus

import (
	"context"
	"sync"
)

// MessageBus connects inbound channels to the pipeline and routes outcome
// notices back to the channel that produced the event.
type MessageBus struct {
	Inbound  chan InboundEvent
	Outcomes chan OutcomeNotice

	mu          sync.RWMutex
	subscribers map[string]func(OutcomeNotice)
}

func NewMessageBus(bufSize int) *MessageBus {
	if bufSize <= 0 {
		bufSize = 1
	}
	return &MessageBus{
		Inbound:     make(chan InboundEvent, bufSize),
		Outcomes:    make(chan OutcomeNotice, bufSize),
		subscribers: make(map[string]func(OutcomeNotice)),
	}
}

// SubscribeOutcomes registers a handler for notices addressed to a channel.
// A second subscription under the same name replaces the first.
func (b *MessageBus) SubscribeOutcomes(channel string, fn func(OutcomeNotice)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[channel] = fn
}

// DispatchOutcomes fans outcome notices out to channel subscribers until the
// context is cancelled. Notices for unknown channels are dropped.
func (b *MessageBus) DispatchOutcomes(ctx context.Context) {
	for {
		select {
		case notice := <-b.Outcomes:
			b.mu.RLock()
			fn, ok := b.subscribers[notice.Channel]
			b.mu.RUnlock()
			if ok {
				fn(notice)
			}
		case <-ctx.Done():
			return
		}
	}
}
