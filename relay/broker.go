// Package relay fans messages out between the peers of a room.
//
// Every websocket connection subscribes to its room's channel on a Broker
// and publishes what its client sends. Document ops are also appended to a
// Log so late joiners can be brought up to date.
package relay

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Subscription delivers the payloads published to one channel.
type Subscription interface {
	Messages() <-chan []byte
	Close() error
}

// Broker is a publish/subscribe transport shared by all server instances.
type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe returns once the subscription is active.
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

// RedisBroker uses redis pub/sub.
type RedisBroker struct {
	rdb *redis.Client
}

// NewRedisBroker wraps a connected client.
func NewRedisBroker(rdb *redis.Client) *RedisBroker {
	return &RedisBroker{rdb: rdb}
}

func (b *RedisBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	return errors.Wrapf(b.rdb.Publish(ctx, channel, payload).Err(), "publish to %s", channel)
}

func (b *RedisBroker) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	ps := b.rdb.Subscribe(ctx, channel)
	// wait for the confirmation so nothing published afterwards is missed
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, errors.Wrapf(err, "subscribe to %s", channel)
	}
	s := &redisSubscription{
		ps:   ps,
		out:  make(chan []byte, 256),
		done: make(chan struct{}),
	}
	go s.forward()
	return s, nil
}

type redisSubscription struct {
	ps   *redis.PubSub
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func (s *redisSubscription) forward() {
	defer close(s.out)
	for msg := range s.ps.Channel() {
		select {
		case s.out <- []byte(msg.Payload):
		case <-s.done:
			return
		}
	}
}

func (s *redisSubscription) Messages() <-chan []byte { return s.out }

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return errors.Wrap(err, "close subscription")
}
