package bus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"price-alerts/internal/clock"
	"price-alerts/internal/metrics"
)

const (
	defaultPublishTimeout = 30 * time.Second
	defaultDialTimeout    = 10 * time.Second
	defaultPrefetch       = 16
	heartbeat             = 10 * time.Second
)

// AMQPOptions configure the RabbitMQ adapter.
type AMQPOptions struct {
	URL            string
	Backoff        Backoff
	PublishTimeout time.Duration
	DialTimeout    time.Duration
	Prefetch       int
	Clock          clock.Clock
	Metrics        *metrics.Metrics
}

// AMQPBus publishes to durable topic exchanges and consumes through exclusive queues.
// The connection is dialled lazily and re-established after drops.
type AMQPBus struct {
	opts   AMQPOptions
	logger zerolog.Logger
	retry  retrier

	dialing chan struct{}

	mu        sync.Mutex
	conn      *amqp.Connection
	pubCh     *amqp.Channel
	exchanges map[string]bool
	subs      map[*Subscription]struct{}
	closed    bool
}

// NewAMQPBus builds the adapter without connecting.
func NewAMQPBus(opts AMQPOptions, logger zerolog.Logger) *AMQPBus {
	if opts.Backoff == nil {
		opts.Backoff = ConstantBackoff{Delay: DefaultReconnectDelay}
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = defaultPublishTimeout
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	if opts.Prefetch <= 0 {
		opts.Prefetch = defaultPrefetch
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}

	logger = logger.With().Str("component", "amqp_bus").Logger()
	return &AMQPBus{
		opts:      opts,
		logger:    logger,
		retry:     retrier{backoff: opts.Backoff, clock: opts.Clock, logger: logger},
		dialing:   make(chan struct{}, 1),
		exchanges: make(map[string]bool),
		subs:      make(map[*Subscription]struct{}),
	}
}

// Publish sends payload as a persistent JSON message, reconnecting as needed
// within the publish timeout. The timeout spans every retry, so it should
// cover several backoff delays.
func (b *AMQPBus) Publish(ctx context.Context, topic, routingKey string, payload any) error {
	body, err := encode(payload)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, b.opts.PublishTimeout)
	defer cancel()

	err = b.retry.do(ctx, "publish", func(ctx context.Context) error {
		ch, err := b.publishChannel(ctx, topic)
		if err != nil {
			return err
		}
		err = ch.PublishWithContext(ctx, topic, routingKey, false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    b.opts.Clock.Now(),
			Body:         body,
		})
		if err != nil {
			b.dropPublishChannel(ch)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("publish %s/%s: %w", topic, routingKey, err)
	}
	return nil
}

// Subscribe binds an exclusive queue on topic with pattern and consumes it
// until the subscription is closed. The queue is re-declared after reconnects.
// Subscribe returns once the queue is bound, so messages published afterwards
// reach the handler; it waits through broker outages until ctx ends.
func (b *AMQPBus) Subscribe(ctx context.Context, topic, pattern string, handler Handler) (*Subscription, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	sub, subCtx := newSubscription(ctx)
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	logger := b.logger.With().Str("topic", topic).Str("pattern", pattern).Logger()
	bound := make(chan error, 1)
	go func() {
		defer close(sub.done)
		defer b.forget(sub)
		b.consumeLoop(subCtx, topic, pattern, handler, bound, logger)
	}()

	select {
	case err := <-bound:
		if err != nil {
			_ = sub.Close()
			return nil, fmt.Errorf("subscribe %s/%s: %w", topic, pattern, err)
		}
		return sub, nil
	case <-ctx.Done():
		_ = sub.Close()
		return nil, fmt.Errorf("%w: subscribe %s/%s: %w", ErrBrokerUnavailable, topic, pattern, ctx.Err())
	}
}

// consumeLoop reports the outcome of the first declaration on bound.
func (b *AMQPBus) consumeLoop(ctx context.Context, topic, pattern string, handler Handler, bound chan<- error, logger zerolog.Logger) {
	handlerCtx := context.WithoutCancel(ctx)
	for {
		var (
			ch         *amqp.Channel
			deliveries <-chan amqp.Delivery
		)
		err := b.retry.do(ctx, "subscribe", func(ctx context.Context) error {
			var err error
			ch, deliveries, err = b.declareConsumer(ctx, topic, pattern)
			return err
		})
		if bound != nil {
			bound <- err
			bound = nil
		}
		if err != nil {
			if ctx.Err() == nil {
				logger.Error().Err(err).Msg("giving up on subscription")
			}
			return
		}
		logger.Info().Msg("subscription consuming")

		if !b.drain(ctx, deliveries, handler, handlerCtx, logger) {
			_ = ch.Close()
			return
		}
		logger.Warn().Msg("delivery channel closed; resubscribing")
	}
}

// drain dispatches deliveries until ctx ends (false) or the channel closes (true).
func (b *AMQPBus) drain(ctx context.Context, deliveries <-chan amqp.Delivery, handler Handler, handlerCtx context.Context, logger zerolog.Logger) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case d, ok := <-deliveries:
			if !ok {
				return true
			}
			msg := Message{
				Topic:       d.Exchange,
				RoutingKey:  d.RoutingKey,
				Body:        d.Body,
				Redelivered: d.Redelivered,
			}
			if err := handler(handlerCtx, msg); err != nil {
				requeue := !d.Redelivered
				logger.Warn().Err(err).Str("routing_key", d.RoutingKey).Bool("requeue", requeue).Msg("handler failed; rejecting delivery")
				if nackErr := d.Nack(false, requeue); nackErr != nil {
					logger.Error().Err(nackErr).Msg("nack failed")
				}
				continue
			}
			if err := d.Ack(false); err != nil {
				logger.Error().Err(err).Msg("ack failed")
			}
		}
	}
}

func (b *AMQPBus) declareConsumer(ctx context.Context, topic, pattern string) (*amqp.Channel, <-chan amqp.Delivery, error) {
	conn, err := b.connection(ctx)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}

	fail := func(step string, err error) (*amqp.Channel, <-chan amqp.Delivery, error) {
		_ = ch.Close()
		return nil, nil, fmt.Errorf("%s: %w", step, err)
	}

	if err := ch.Qos(b.opts.Prefetch, 0, false); err != nil {
		return fail("set qos", err)
	}
	if err := declareExchange(ch, topic); err != nil {
		return fail("declare exchange", err)
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fail("declare queue", err)
	}
	if err := ch.QueueBind(q.Name, pattern, topic, false, nil); err != nil {
		return fail("bind queue", err)
	}
	deliveries, err := ch.Consume(q.Name, "", false, true, false, false, nil)
	if err != nil {
		return fail("consume", err)
	}
	return ch, deliveries, nil
}

func (b *AMQPBus) publishChannel(ctx context.Context, topic string) (*amqp.Channel, error) {
	conn, err := b.connection(ctx)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pubCh == nil || b.pubCh.IsClosed() {
		ch, err := conn.Channel()
		if err != nil {
			return nil, fmt.Errorf("open channel: %w", err)
		}
		b.pubCh = ch
		b.exchanges = make(map[string]bool)
	}
	if !b.exchanges[topic] {
		if err := declareExchange(b.pubCh, topic); err != nil {
			b.pubCh = nil
			return nil, fmt.Errorf("declare exchange: %w", err)
		}
		b.exchanges[topic] = true
	}
	return b.pubCh, nil
}

func (b *AMQPBus) dropPublishChannel(ch *amqp.Channel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pubCh == ch {
		_ = ch.Close()
		b.pubCh = nil
	}
}

// connection returns the live connection or makes a single dial attempt.
// Dials are serialised outside b.mu and bounded by ctx and the dial timeout.
func (b *AMQPBus) connection(ctx context.Context) (*amqp.Connection, error) {
	if conn, err := b.liveConnection(); conn != nil || err != nil {
		return conn, err
	}

	select {
	case b.dialing <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-b.dialing }()

	// another caller may have connected while we waited
	if conn, err := b.liveConnection(); conn != nil || err != nil {
		return conn, err
	}
	if b.opts.URL == "" {
		return nil, errors.New("broker url not configured")
	}

	conn, err := amqp.DialConfig(b.opts.URL, amqp.Config{
		Heartbeat: heartbeat,
		Dial:      b.dialer(ctx),
	})
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = conn.Close()
		return nil, ErrClosed
	}
	b.conn = conn
	b.pubCh = nil
	b.mu.Unlock()

	b.opts.Metrics.BrokerConnected()
	b.logger.Info().Msg("broker connected")

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	go b.watch(conn, closed)
	return conn, nil
}

func (b *AMQPBus) liveConnection() (*amqp.Connection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	if b.conn != nil && !b.conn.IsClosed() {
		return b.conn, nil
	}
	return nil, nil
}

// dialer opens the TCP connection under ctx and leaves a deadline on it for
// the AMQP handshake; the client clears the deadline once the handshake completes.
func (b *AMQPBus) dialer(ctx context.Context) func(network, addr string) (net.Conn, error) {
	return func(network, addr string) (net.Conn, error) {
		deadline := time.Now().Add(b.opts.DialTimeout)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		dialCtx, cancel := context.WithDeadline(ctx, deadline)
		defer cancel()

		var d net.Dialer
		conn, err := d.DialContext(dialCtx, network, addr)
		if err != nil {
			return nil, err
		}
		if err := conn.SetDeadline(deadline); err != nil {
			_ = conn.Close()
			return nil, err
		}
		return conn, nil
	}
}

func (b *AMQPBus) watch(conn *amqp.Connection, closed <-chan *amqp.Error) {
	reason, ok := <-closed
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != conn {
		return
	}
	b.conn = nil
	b.pubCh = nil
	if ok && reason != nil {
		b.logger.Warn().Str("reason", reason.Error()).Msg("broker connection lost")
	}
}

func (b *AMQPBus) forget(sub *Subscription) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
}

// Close stops all subscriptions, then closes the connection.
func (b *AMQPBus) Close() error {
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

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pubCh != nil {
		_ = b.pubCh.Close()
		b.pubCh = nil
	}
	if b.conn != nil {
		err := b.conn.Close()
		b.conn = nil
		if err != nil && !errors.Is(err, amqp.ErrClosed) {
			return fmt.Errorf("close broker connection: %w", err)
		}
	}
	return nil
}

func declareExchange(ch *amqp.Channel, name string) error {
	return ch.ExchangeDeclare(name, "topic", true, false, false, false, nil)
}

var _ Bus = (*AMQPBus)(nil)
