// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/metnitcs/stream-webui/internal/log"
	"github.com/metnitcs/stream-webui/internal/metrics"
)

const publishTimeout = 2 * time.Second

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisBus publishes events on a per-owner Redis channel so that API
// instances other than the one running the job can serve subscribers.
type RedisBus struct {
	client *redis.Client
	owned  bool
}

// ChannelName returns the pub/sub channel for ownerID.
func ChannelName(ownerID string) string {
	return "stream:user:" + ownerID
}

// NewRedisBus connects to Redis and verifies the connection.
func NewRedisBus(ctx context.Context, cfg RedisConfig) (*RedisBus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger := log.WithComponent("events")
	logger.Info().
		Str("addr", cfg.Addr).
		Int("db", cfg.DB).
		Msg("connected to Redis event transport")

	return &RedisBus{client: client, owned: true}, nil
}

// NewRedisBusWithClient wraps an existing client. Close leaves it open.
func NewRedisBusWithClient(client *redis.Client) *RedisBus {
	return &RedisBus{client: client}
}

// Publish encodes ev as JSON and publishes it on the owner's channel.
func (b *RedisBus) Publish(ctx context.Context, ownerID string, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		metrics.IncEventDrop("redis", "encode")
		return
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := b.client.Publish(pctx, ChannelName(ownerID), data).Err(); err != nil {
		metrics.IncEventDrop("redis", "publish_error")
		logger := log.WithComponent("events")
		logger.Warn().Err(err).
			Str(log.FieldOwnerID, ownerID).
			Str(log.FieldKind, string(ev.Kind)).
			Msg("redis publish failed")
		return
	}
	metrics.IncEventPublished("redis", string(ev.Kind))
}

// Subscribe subscribes to the owner's channel. The subscription is active
// when Subscribe returns.
func (b *RedisBus) Subscribe(ctx context.Context, ownerID string) (Subscription, error) {
	ps := b.client.Subscribe(ctx, ChannelName(ownerID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", ownerID, err)
	}

	s := &redisSub{
		ps:   ps,
		ch:   make(chan Event, subscriberBuffer),
		done: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.pump(ctx)
	return s, nil
}

// Close releases the client when the bus created it.
func (b *RedisBus) Close() error {
	if !b.owned {
		return nil
	}
	return b.client.Close()
}

type redisSub struct {
	ps   *redis.PubSub
	ch   chan Event
	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func (s *redisSub) C() <-chan Event { return s.ch }

func (s *redisSub) pump(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.ch)

	msgs := s.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			_ = s.ps.Close()
			return
		case <-s.done:
			return
		case m, ok := <-msgs:
			if !ok {
				return
			}
			var ev Event
			if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
				metrics.IncEventDrop("redis", "decode")
				continue
			}
			select {
			case s.ch <- ev:
			default:
				metrics.IncEventDrop("redis", "buffer_full")
			}
		}
	}
}

func (s *redisSub) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
		s.wg.Wait()
	})
	return err
}

var _ Bus = (*RedisBus)(nil)
