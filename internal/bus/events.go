package bus

import (
	"time"
)

// MediaRef points at a piece of media attached to an inbound event.
type MediaRef struct {
	URL      string
	MimeType string
}

// InboundEvent is the normalized record a chat channel delivers to the
// pipeline. Transport details (signatures, retries) stay in the channel.
type InboundEvent struct {
	Channel    string
	SenderID   string
	SenderName string
	ChatID     string
	Text       string
	Media      []MediaRef
	Timestamp  time.Time
	Metadata   map[string]string
}

func (e *InboundEvent) SessionKey() string {
	return e.Channel + ":" + e.ChatID
}

// DispatchKey is the rate-limiting key for the event's sender.
func (e *InboundEvent) DispatchKey() string {
	if e.SenderID != "" {
		return e.Channel + ":" + e.SenderID
	}
	return e.SessionKey()
}

// MediaResult is an asynchronous media-understanding result delivered by the
// external worker, routed to a waiter by correlation ID.
type MediaResult struct {
	CorrelationID string    `json:"correlation_id"`
	Description   string    `json:"description"`
	Error         string    `json:"error,omitempty"`
	CompletedAt   time.Time `json:"completed_at"`
}

// OutcomeNotice tells the originating channel what happened to an event so
// it can annotate the conversation.
type OutcomeNotice struct {
	Channel string
	ChatID  string
	Status  string
	TaskID  string
	Summary string
}
