// Package bus provides topic publish/subscribe over RabbitMQ or an in-process broker.
//
// Topics map to topic exchanges and subscriptions bind with AMQP routing-key
// patterns, where "*" matches exactly one dot-separated word and "#" matches
// zero or more words.
package bus

import (
	"context"
	"errors"
	"strings"
	"sync"
)

var (
	// ErrBrokerUnavailable is returned when the reconnect policy gives up.
	ErrBrokerUnavailable = errors.New("bus: broker unavailable")
	// ErrClosed is returned by a bus after Close.
	ErrClosed = errors.New("bus: closed")
)

// Message is one delivery handed to a subscriber.
type Message struct {
	Topic       string
	RoutingKey  string
	Body        []byte
	Redelivered bool
}

// Handler processes a delivery. A nil return acknowledges it; an error
// requeues a first delivery and drops a redelivered one.
type Handler func(ctx context.Context, msg Message) error

// Bus is the pub/sub contract shared by the AMQP and memory implementations.
type Bus interface {
	Publish(ctx context.Context, topic, routingKey string, payload any) error
	Subscribe(ctx context.Context, topic, pattern string, handler Handler) (*Subscription, error)
	Close() error
}

// Subscription is a running consumer loop.
type Subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func newSubscription(parent context.Context) (*Subscription, context.Context) {
	ctx, cancel := context.WithCancel(parent)
	return &Subscription{cancel: cancel, done: make(chan struct{})}, ctx
}

// Close stops the loop and waits for the in-flight handler to return.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	<-s.done
	return nil
}

// Done is closed once the consumer loop has exited.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// MatchRoutingKey reports whether key satisfies an AMQP topic binding pattern.
func MatchRoutingKey(pattern, key string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(key, "."))
}

func matchWords(pattern, key []string) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case "#":
			rest := pattern[1:]
			if len(rest) == 0 {
				return true
			}
			for i := 0; i <= len(key); i++ {
				if matchWords(rest, key[i:]) {
					return true
				}
			}
			return false
		case "*":
			if len(key) == 0 {
				return false
			}
		default:
			if len(key) == 0 || key[0] != pattern[0] {
				return false
			}
		}
		pattern, key = pattern[1:], key[1:]
	}
	return len(key) == 0
}
