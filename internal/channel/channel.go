// Package channel hosts the inbound chat-platform adapters. Each channel
// normalizes its platform's messages into bus.InboundEvent and annotates
// the conversation when an outcome notice comes back.
package channel

import (
	"context"

	"github.com/taskbridgeco/taskbridge/internal/bus"
)

// Channel is one inbound chat adapter.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Notify(notice bus.OutcomeNotice) error
}

// BaseChannel carries the shared bits: name, bus handle, allow list.
type BaseChannel struct {
	name      string
	bus       *bus.MessageBus
	allowFrom map[string]struct{}
}

func NewBaseChannel(name string, b *bus.MessageBus, allowFrom []string) BaseChannel {
	allowed := make(map[string]struct{}, len(allowFrom))
	for _, id := range allowFrom {
		allowed[id] = struct{}{}
	}
	return BaseChannel{name: name, bus: b, allowFrom: allowed}
}

func (c *BaseChannel) Name() string { return c.name }

// IsAllowed checks the sender against the allow list. An empty list allows
// everyone.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowFrom) == 0 {
		return true
	}
	_, ok := c.allowFrom[senderID]
	return ok
}
