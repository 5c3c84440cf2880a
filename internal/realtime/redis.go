package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ugchub/internal/domain"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisBroker relays events through Redis Pub/Sub so every API instance sees
// events committed by the others.
type RedisBroker struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedisBroker(cfg RedisConfig, logger *zap.Logger) *RedisBroker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBroker{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		logger: logger,
	}
}

// Ping checks connectivity.
func (b *RedisBroker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBroker) Publish(ctx context.Context, topic string, evt domain.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return b.client.Publish(ctx, topic, data).Err()
}

func (b *RedisBroker) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	ps := b.client.Subscribe(ctx, topic)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	s := &redisSub{
		ps:   ps,
		ch:   make(chan domain.Event, subscriberBuffer),
		done: make(chan struct{}),
	}
	go s.pump(b.logger.With(zap.String("topic", topic)))
	return s, nil
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}

type redisSub struct {
	ps   *redis.PubSub
	ch   chan domain.Event
	done chan struct{}
	once sync.Once
}

func (s *redisSub) C() <-chan domain.Event { return s.ch }
func (s *redisSub) Done() <-chan struct{}  { return s.done }

func (s *redisSub) Close() error {
	err := s.ps.Close()
	s.once.Do(func() { close(s.done) })
	return err
}

// pump decodes messages until the go-redis channel closes.
func (s *redisSub) pump(logger *zap.Logger) {
	defer s.once.Do(func() { close(s.done) })
	for msg := range s.ps.Channel() {
		var evt domain.Event
		if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
			logger.Warn("realtime: drop undecodable message", zap.Error(err))
			continue
		}
		select {
		case s.ch <- evt:
		case <-s.done:
			return
		default:
			logger.Warn("realtime: subscriber too slow, disconnecting", zap.Int64("event_id", evt.ID))
			return
		}
	}
}
