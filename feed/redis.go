package feed

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultRedisChannel is where the market engine publishes ticks.
const DefaultRedisChannel = "price_ticks"

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// Redis subscribes to a pub/sub channel of JSON ticks.
type Redis struct {
	client  *redis.Client
	channel string
	log     *zap.Logger
}

func NewRedis(cfg RedisConfig, log *zap.Logger) *Redis {
	if cfg.Channel == "" {
		cfg.Channel = DefaultRedisChannel
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Redis{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		channel: cfg.Channel,
		log:     log,
	}
}

func (r *Redis) Run(ctx context.Context, sink Sink) error {
	defer r.client.Close()

	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	r.log.Info("redis feed subscribed", zap.String("channel", r.channel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(ctx, sink, msg.Payload)
		}
	}
}

func (r *Redis) handle(ctx context.Context, sink Sink, payload string) {
	updates, err := DecodeTicks([]byte(payload))
	if err != nil {
		r.log.Warn("bad tick payload", zap.Error(err))
		return
	}
	if _, err := sink.Apply(ctx, updates); err != nil {
		r.log.Error("apply ticks", zap.Error(err))
	}
}
