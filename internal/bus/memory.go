package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

const defaultQueueSize = 64

// MemoryBus is an in-process broker with the same routing and ack semantics as AMQPBus.
type MemoryBus struct {
	logger    zerolog.Logger
	queueSize int

	mu     sync.RWMutex
	subs   map[*Subscription]*memoryQueue
	closed bool
}

type memoryQueue struct {
	topic   string
	pattern string
	ch      chan Message
	ctx     context.Context
}

// NewMemoryBus returns an empty in-process bus.
func NewMemoryBus(logger zerolog.Logger) *MemoryBus {
	return &MemoryBus{
		logger:    logger.With().Str("component", "memory_bus").Logger(),
		queueSize: defaultQueueSize,
		subs:      make(map[*Subscription]*memoryQueue),
	}
}

// Publish JSON-encodes payload and enqueues it on every matching subscription.
func (b *MemoryBus) Publish(ctx context.Context, topic, routingKey string, payload any) error {
	body, err := encode(payload)
	if err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	for _, q := range b.subs {
		if q.topic != topic || !MatchRoutingKey(q.pattern, routingKey) {
			continue
		}
		msg := Message{Topic: topic, RoutingKey: routingKey, Body: body}
		select {
		case q.ch <- msg:
		case <-q.ctx.Done():
		case <-ctx.Done():
			return fmt.Errorf("publish %s/%s: %w", topic, routingKey, ctx.Err())
		}
	}
	return nil
}

// Subscribe starts a consumer goroutine for messages on topic matching pattern.
func (b *MemoryBus) Subscribe(ctx context.Context, topic, pattern string, handler Handler) (*Subscription, error) {
	sub, subCtx := newSubscription(ctx)
	q := &memoryQueue{
		topic:   topic,
		pattern: pattern,
		ch:      make(chan Message, b.queueSize),
		ctx:     subCtx,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.cancel()
		close(sub.done)
		return nil, ErrClosed
	}
	b.subs[sub] = q
	b.mu.Unlock()

	logger := b.logger.With().Str("topic", topic).Str("pattern", pattern).Logger()
	go func() {
		defer close(sub.done)
		defer b.remove(sub)
		b.consume(subCtx, q, handler, logger)
	}()
	return sub, nil
}

func (b *MemoryBus) consume(ctx context.Context, q *memoryQueue, handler Handler, logger zerolog.Logger) {
	handlerCtx := context.WithoutCancel(ctx)
	var requeued []Message
	for {
		var msg Message
		if len(requeued) > 0 {
			msg, requeued = requeued[0], requeued[1:]
		} else {
			select {
			case <-ctx.Done():
				return
			case msg = <-q.ch:
			}
		}

		if err := handler(handlerCtx, msg); err != nil {
			if msg.Redelivered {
				logger.Error().Err(err).Str("routing_key", msg.RoutingKey).Msg("handler failed on redelivery; dropping message")
				continue
			}
			logger.Warn().Err(err).Str("routing_key", msg.RoutingKey).Msg("handler failed; requeueing message")
			msg.Redelivered = true
			requeued = append(requeued, msg)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (b *MemoryBus) remove(sub *Subscription) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
}

// Close stops every subscription and rejects further use.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*Subscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Close()
	}
	return nil
}

func encode(payload any) ([]byte, error) {
	switch v := payload.(type) {
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return body, nil
}

var _ Bus = (*MemoryBus)(nil)
