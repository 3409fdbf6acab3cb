package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mbd888/riskintake/internal/circuitbreaker"
)

// DefaultChannel is the Redis channel job wake-ups are published on.
const DefaultChannel = "riskintake:jobs:enqueued"

// Notifier signals workers that new jobs are available so they can skip the
// rest of their poll interval. Notifications are hints: a worker that misses
// one still finds the job on its next poll.
type Notifier interface {
	Notify(ctx context.Context) error
	Wake() <-chan struct{}
}

// LocalNotifier wakes workers in the same process.
type LocalNotifier struct {
	ch chan struct{}
}

// NewLocalNotifier creates an in-process notifier.
func NewLocalNotifier() *LocalNotifier {
	return &LocalNotifier{ch: make(chan struct{}, 1)}
}

// Notify never blocks; pending wake-ups coalesce.
func (n *LocalNotifier) Notify(context.Context) error {
	select {
	case n.ch <- struct{}{}:
	default:
	}
	return nil
}

func (n *LocalNotifier) Wake() <-chan struct{} { return n.ch }

// Publishes stop for publishBreakerCooldown after this many consecutive failures.
const (
	publishBreakerThreshold = 3
	publishBreakerCooldown  = 30 * time.Second
)

// RedisNotifier fans wake-ups out to workers in every process via Redis
// pub/sub. Call Listen in a goroutine to receive them. While Redis is
// failing, Notify returns circuitbreaker.ErrOpen without a round trip.
type RedisNotifier struct {
	client  redis.UniversalClient
	channel string
	local   *LocalNotifier
	logger  *slog.Logger
	breaker *circuitbreaker.Breaker

	mu     sync.Mutex
	pubsub *redis.PubSub
}

// NewRedisNotifier creates a notifier publishing on channel (DefaultChannel if empty).
func NewRedisNotifier(client redis.UniversalClient, channel string, logger *slog.Logger) *RedisNotifier {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisNotifier{
		client:  client,
		channel: channel,
		local:   NewLocalNotifier(),
		logger:  logger,
		breaker: circuitbreaker.New("redis_notifier", publishBreakerThreshold, publishBreakerCooldown),
	}
}

func (n *RedisNotifier) Notify(ctx context.Context) error {
	return n.breaker.Do(func() error {
		return n.client.Publish(ctx, n.channel, "1").Err()
	})
}

func (n *RedisNotifier) Wake() <-chan struct{} { return n.local.Wake() }

// Listen forwards published messages to Wake until ctx is done or Close is called.
func (n *RedisNotifier) Listen(ctx context.Context) {
	pubsub := n.client.Subscribe(ctx, n.channel)
	n.mu.Lock()
	n.pubsub = pubsub
	n.mu.Unlock()
	defer func() { _ = pubsub.Close() }()

	n.logger.Info("job notifier subscribed", "channel", n.channel)
	msgs := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-msgs:
			if !ok {
				return
			}
			_ = n.local.Notify(ctx)
		}
	}
}

// Close stops a running Listen.
func (n *RedisNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.pubsub == nil {
		return nil
	}
	return n.pubsub.Close()
}
