package resilience

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BatchItem is one unit of work folded into a batch slot. Done receives the
// item's own outcome; a sibling's failure never reaches it.
type BatchItem struct {
	ID      string
	Payload any
	Done    chan error
}

// FlushFunc processes one flushed batch. It returns per-item errors keyed by
// item ID; items absent from the map succeeded.
type FlushFunc func(items []BatchItem) map[string]error

type slot struct {
	id      string
	items   []BatchItem
	timer   *time.Timer
	flushed bool
}

// Batcher groups items by call type. A slot opens on its first item and is
// flushed exactly once, on the size threshold or the time threshold,
// whichever fires first. A flushing slot takes no more items; the next item
// opens a fresh slot.
type Batcher struct {
	size   int
	window time.Duration
	flush  FlushFunc
	logger *zap.Logger

	mu    sync.Mutex
	slots map[string]*slot
}

func NewBatcher(size int, window time.Duration, flush FlushFunc, logger *zap.Logger) *Batcher {
	return &Batcher{
		size:   size,
		window: window,
		flush:  flush,
		logger: logger.Named("batcher"),
		slots:  make(map[string]*slot),
	}
}

// Add queues an item under a call-type key and returns a channel carrying
// that item's outcome.
func (b *Batcher) Add(key string, payload any) <-chan error {
	item := BatchItem{
		ID:      uuid.NewString(),
		Payload: payload,
		Done:    make(chan error, 1),
	}

	b.mu.Lock()
	s, ok := b.slots[key]
	if !ok {
		s = &slot{id: uuid.NewString()}
		b.slots[key] = s
		s.timer = time.AfterFunc(b.window, func() {
			b.run(key, b.take(key, s))
		})
	}
	s.items = append(s.items, item)

	// Size trigger: claim the slot while still holding the lock so no item
	// can slip in past the threshold.
	var claimed []BatchItem
	if len(s.items) >= b.size {
		claimed = b.takeLocked(key, s)
	}
	b.mu.Unlock()

	if claimed != nil {
		b.run(key, claimed)
	}
	return item.Done
}

// take claims a slot's items exactly once. Returns nil if the other trigger
// won the race.
func (b *Batcher) take(key string, s *slot) []BatchItem {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.takeLocked(key, s)
}

// takeLocked must run under b.mu.
func (b *Batcher) takeLocked(key string, s *slot) []BatchItem {
	if s.flushed {
		return nil
	}
	s.flushed = true
	if s.timer != nil {
		s.timer.Stop()
	}
	if b.slots[key] == s {
		delete(b.slots, key)
	}
	return s.items
}

func (b *Batcher) run(key string, items []BatchItem) {
	if len(items) == 0 {
		return
	}

	b.logger.Debug("flushing batch",
		zap.String("key", key),
		zap.Int("items", len(items)))

	errs := b.flush(items)
	for _, item := range items {
		item.Done <- errs[item.ID]
		close(item.Done)
	}
}

// FlushAll drains every open slot, for shutdown.
func (b *Batcher) FlushAll() {
	b.mu.Lock()
	type pending struct {
		key   string
		items []BatchItem
	}
	drained := make([]pending, 0, len(b.slots))
	for key, s := range b.slots {
		if items := b.takeLocked(key, s); items != nil {
			drained = append(drained, pending{key: key, items: items})
		}
	}
	b.mu.Unlock()

	for _, p := range drained {
		b.run(p.key, p.items)
	}
}
