package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/example/profile-sync-engine/internal/types"
)

const (
	defaultChannelPrefix = "notify:acct:"
	defaultDedupeTTL     = 2 * time.Minute
	maxBackoffDelay      = 30 * time.Second
)

// RedisNotifier publishes notification envelopes to per-account Redis
// channels and fans them back out to locally connected clients, so every
// instance delivers to whichever sockets it holds.
type RedisNotifier struct {
	client *redis.Client
	hub    *Hub
	logger zerolog.Logger

	channelPrefix string
	dedupeTTL     time.Duration

	seenMu sync.Mutex
	seen   map[string]time.Time

	latency *prometheus.HistogramVec
}

// NewRedisNotifier constructs a notifier backed by Redis Pub/Sub.
func NewRedisNotifier(client *redis.Client, hub *Hub, logger zerolog.Logger) *RedisNotifier {
	histogram := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "notify",
		Name:      "push_to_send_seconds",
		Help:      "Observed latency between push and delivery to connected clients.",
		Buckets:   prometheus.LinearBuckets(0.005, 0.005, 12),
	}, []string{"type"})

	if err := prometheus.Register(histogram); err != nil {
		if regErr, ok := err.(prometheus.AlreadyRegisteredError); ok {
			histogram = regErr.ExistingCollector.(*prometheus.HistogramVec)
		}
	}

	return &RedisNotifier{
		client:        client,
		hub:           hub,
		logger:        logger,
		channelPrefix: defaultChannelPrefix,
		dedupeTTL:     defaultDedupeTTL,
		seen:          make(map[string]time.Time),
		latency:       histogram,
	}
}

// Push implements Notifier. Failures are logged, never propagated into the
// operation that produced the event.
func (n *RedisNotifier) Push(ctx context.Context, accountID types.AccountID, event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.AccountID == "" {
		event.AccountID = accountID
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	encoded, err := json.Marshal(event)
	if err != nil {
		n.logger.Error().Err(err).Str("type", event.Type).Msg("failed to encode notification")
		return
	}
	if err := n.client.Publish(ctx, n.channel(accountID), encoded).Err(); err != nil {
		n.logger.Warn().Err(err).Str("account", string(accountID)).Str("type", event.Type).Msg("notification publish failed")
	}
}

// Start begins consuming redis pub/sub messages and dispatching them to
// locally connected clients.
func (n *RedisNotifier) Start(ctx context.Context) {
	go n.run(ctx)
}

func (n *RedisNotifier) run(ctx context.Context) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}

		pubsub := n.client.PSubscribe(ctx, fmt.Sprintf("%s*", n.channelPrefix))
		if err := n.consume(ctx, pubsub); err != nil && !errors.Is(err, context.Canceled) {
			n.logger.Warn().Err(err).Dur("backoff", backoff).Msg("notification subscription interrupted; retrying")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
			backoff = minDuration(backoff*2, maxBackoffDelay)
		}
	}
}

func (n *RedisNotifier) consume(ctx context.Context, pubsub *redis.PubSub) error {
	defer pubsub.Close()

	ch := pubsub.Channel(redis.WithChannelSize(256))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("pubsub channel closed")
			}
			if err := n.process(msg); err != nil {
				n.logger.Warn().Err(err).Msg("failed to process notification message")
			}
		}
	}
}

func (n *RedisNotifier) process(msg *redis.Message) error {
	var event Event
	if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
		return fmt.Errorf("decode notification payload: %w", err)
	}
	if event.AccountID == "" || event.ID == "" {
		return errors.New("incomplete notification payload")
	}

	if n.isDuplicate(string(event.AccountID), event.ID) {
		return nil
	}

	if !event.CreatedAt.IsZero() {
		n.latency.WithLabelValues(event.Type).Observe(time.Since(event.CreatedAt).Seconds())
	}

	n.hub.Send(event.AccountID, []byte(msg.Payload))
	return nil
}

func (n *RedisNotifier) channel(accountID types.AccountID) string {
	return n.channelPrefix + string(accountID)
}

func (n *RedisNotifier) isDuplicate(accountID, eventID string) bool {
	key := accountID + ":" + eventID

	n.seenMu.Lock()
	defer n.seenMu.Unlock()

	if ts, ok := n.seen[key]; ok {
		if time.Since(ts) < n.dedupeTTL {
			return true
		}
	}

	n.seen[key] = time.Now()
	cutoff := time.Now().Add(-n.dedupeTTL)
	for k, ts := range n.seen {
		if ts.Before(cutoff) {
			delete(n.seen, k)
		}
	}
	return false
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
