// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package events

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/metnitcs/stream-webui/internal/log"
	"github.com/metnitcs/stream-webui/internal/metrics"
)

const (
	subscriberBuffer = 64
	dropLogEvery     = 100
)

// MemoryBus is an in-process pub/sub keyed by owner id.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string][]*memSub
	closed bool
	drops  atomic.Uint64
}

// NewMemoryBus creates an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string][]*memSub)}
}

// Publish hands ev to every subscriber of ownerID. A subscriber whose buffer
// is full misses the event.
func (b *MemoryBus) Publish(_ context.Context, ownerID string, ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, s := range b.subs[ownerID] {
		select {
		case s.ch <- ev:
			metrics.IncEventPublished("memory", string(ev.Kind))
		default:
			metrics.IncEventDrop("memory", "buffer_full")
			if n := b.drops.Add(1); n%dropLogEvery == 1 {
				logger := log.WithComponent("events")
				logger.Warn().
					Str(log.FieldOwnerID, ownerID).
					Str(log.FieldKind, string(ev.Kind)).
					Uint64("dropped", n).
					Msg("subscriber buffer full, dropping event")
			}
		}
	}
}

// Subscribe registers a subscriber that is closed when ctx ends or Close is called.
func (b *MemoryBus) Subscribe(ctx context.Context, ownerID string) (Subscription, error) {
	s := &memSub{b: b, owner: ownerID, ch: make(chan Event, subscriberBuffer)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		s.once.Do(func() { close(s.ch) })
		return s, nil
	}
	b.subs[ownerID] = append(b.subs[ownerID], s)
	b.mu.Unlock()

	s.stop = context.AfterFunc(ctx, s.detach)
	return s, nil
}

// Subscribers returns the number of live subscribers for ownerID.
func (b *MemoryBus) Subscribers(ownerID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[ownerID])
}

// Close closes every subscription. Later publishes are discarded.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for owner, lst := range b.subs {
		for _, s := range lst {
			s.once.Do(func() { close(s.ch) })
		}
		delete(b.subs, owner)
	}
	return nil
}

type memSub struct {
	b     *MemoryBus
	owner string
	ch    chan Event
	once  sync.Once
	stop  func() bool
}

func (s *memSub) C() <-chan Event { return s.ch }

func (s *memSub) Close() error {
	if s.stop != nil {
		s.stop()
	}
	s.detach()
	return nil
}

func (s *memSub) detach() {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	lst := s.b.subs[s.owner]
	out := lst[:0]
	for _, c := range lst {
		if c != s {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		delete(s.b.subs, s.owner)
	} else {
		s.b.subs[s.owner] = out
	}
	s.once.Do(func() { close(s.ch) })
}

var _ Bus = (*MemoryBus)(nil)
