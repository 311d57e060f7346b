// Package notify is the change-notification channel: subscribers learn that
// a named collection changed, never what changed. Consumers re-derive their
// view on every event, so duplicate or reordered delivery is harmless.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Kind is a coarse change indicator. It is advisory only; consumers must
// not treat it as a patch.
type Kind string

const (
	KindInsert  Kind = "insert"
	KindUpdate  Kind = "update"
	KindDelete  Kind = "delete"
	KindUnknown Kind = "unknown"
)

type Event struct {
	Collection string `json:"collection"`
	Kind       Kind   `json:"kind"`
}

type Channel interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(ctx context.Context, collection string, onEvent func(Event)) (*Subscription, error)
}

// Subscription binds one (collection, callback) pair to a live receiver.
// Close is idempotent and unconditional; no subscription outlives its owner.
type Subscription struct {
	collection string
	close      func()
	once       sync.Once
}

// NewSubscription wraps a teardown function in a handle. Channel
// implementations (and test fakes) build their subscriptions with it.
func NewSubscription(collection string, close func()) *Subscription {
	return &Subscription{collection: collection, close: close}
}

func (s *Subscription) Collection() string {
	if s == nil {
		return ""
	}
	return s.collection
}

func (s *Subscription) Close() {
	if s == nil {
		return
	}
	s.once.Do(s.close)
}

// RedisChannel carries events over Redis pub/sub, one channel per
// collection. Delivery is at-least-once from the consumer's point of view:
// the bus itself is fire-and-forget, and a broker outage ends with a
// synthetic catch-up event so consumers re-fetch what they missed.
type RedisChannel struct {
	client        *redis.Client
	probeInterval time.Duration
}

const defaultProbeInterval = 3 * time.Second

func NewRedisChannel(redisURL string) (*RedisChannel, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &RedisChannel{client: client, probeInterval: defaultProbeInterval}, nil
}

// NewRedisChannelWithClient wraps an existing client, mainly for tests.
func NewRedisChannelWithClient(client *redis.Client) *RedisChannel {
	return &RedisChannel{client: client, probeInterval: defaultProbeInterval}
}

func channelName(collection string) string {
	return "changes." + collection
}

func (c *RedisChannel) Publish(ctx context.Context, event Event) error {
	if event.Kind == "" {
		event.Kind = KindUnknown
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := c.client.Publish(ctx, channelName(event.Collection), payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", event.Collection, err)
	}
	return nil
}

func (c *RedisChannel) Subscribe(ctx context.Context, collection string, onEvent func(Event)) (*Subscription, error) {
	pubsub := c.client.Subscribe(ctx, channelName(collection))

	// Force the SUBSCRIBE round trip so a dead broker fails here, not
	// silently in the receive loop.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", collection, err)
	}

	messages := pubsub.Channel()
	done := make(chan struct{})
	go func() {
		for msg := range messages {
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				// An undecodable payload still means "something changed".
				event = Event{Collection: collection, Kind: KindUnknown}
			}
			if event.Collection == "" {
				event.Collection = collection
			}
			onEvent(event)
		}
	}()
	go c.watchBroker(collection, onEvent, done)

	return NewSubscription(collection, func() {
		close(done)
		if err := pubsub.Close(); err != nil {
			log.Printf("notify: close subscription %s: %v", collection, err)
		}
	}), nil
}

// watchBroker probes broker reachability for the life of one subscription.
// The pub/sub connection resubscribes on its own after an outage, but
// anything published while it was down is gone, so recovery emits one
// synthetic event and consumers re-fetch.
func (c *RedisChannel) watchBroker(collection string, onEvent func(Event), done chan struct{}) {
	ticker := time.NewTicker(c.probeInterval)
	defer ticker.Stop()

	down := false
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			err := c.client.Ping(ctx).Err()
			cancel()
			if err != nil {
				if !down {
					log.Printf("notify: broker unreachable, %s events may be lost: %v", collection, err)
				}
				down = true
				continue
			}
			if down {
				down = false
				log.Printf("notify: broker recovered, forcing %s catch-up", collection)
				onEvent(Event{Collection: collection, Kind: KindUnknown})
			}
		}
	}
}

func (c *RedisChannel) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisChannel) Close() error {
	return c.client.Close()
}
