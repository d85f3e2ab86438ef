package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	redisChannelPrefix = "classcast:"
	publishTimeout     = time.Second
)

// redisPayload is the message published to Redis for one advertisement repeat.
type redisPayload struct {
	Device string `json:"device"`
	Data   []byte `json:"data"`
}

// RedisConfig holds configuration for a Redis pub/sub backed broadcast channel
type RedisConfig struct {
	Addr              string
	Password          string
	DB                int
	Namespace         string
	DeviceID          string
	AdvertiseInterval time.Duration
	Clock             clockwork.Clock
}

// RedisChannel broadcasts over a Redis pub/sub channel. Like core NATS, pub/sub
// drops messages nobody is subscribed for, which is what the radio does too.
type RedisChannel struct {
	client  *redis.Client
	channel string
	config  RedisConfig
	slot    *slot
}

var _ Channel = (*RedisChannel)(nil)

// DialRedis creates a Redis client and verifies connectivity.
func DialRedis(ctx context.Context, config RedisConfig) (*RedisChannel, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Info().Str("addr", config.Addr).Msg("redis client connected")
	return &RedisChannel{
		client:  rdb,
		channel: redisChannelPrefix + config.Namespace,
		config:  config,
		slot:    newSlot(config.Clock, config.AdvertiseInterval, config.DeviceID),
	}, nil
}

func (c *RedisChannel) Transmit(ctx context.Context, payload []byte) (Handle, error) {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrRadioUnavailable, err)
	}
	return c.slot.start(payload, c.publish)
}

func (c *RedisChannel) Stop(ctx context.Context, h Handle) error {
	return c.slot.stop(ctx, h)
}

func (c *RedisChannel) Receive(ctx context.Context) (<-chan []byte, error) {
	pubsub := c.client.Subscribe(ctx, c.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("%w: subscribe: %v", ErrRadioUnavailable, err)
	}

	in := pubsub.Channel()
	out := make(chan []byte, scanBufferSize)
	go func() {
		defer close(out)
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				var p redisPayload
				if err := json.Unmarshal([]byte(msg.Payload), &p); err != nil {
					continue
				}
				if p.Device == c.config.DeviceID {
					continue
				}
				select {
				case out <- p.Data:
				default:
				}
			}
		}
	}()

	log.Info().Str("channel", c.channel).Str("device_id", c.config.DeviceID).Msg("scanning started")
	return out, nil
}

// Close stops advertising and closes the client
func (c *RedisChannel) Close(ctx context.Context) error {
	if err := c.slot.stopAll(ctx); err != nil {
		return err
	}
	return c.client.Close()
}

func (c *RedisChannel) publish(payload []byte) error {
	body, err := json.Marshal(redisPayload{Device: c.config.DeviceID, Data: payload})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := c.client.Publish(ctx, c.channel, body).Err(); err != nil {
		return fmt.Errorf("%w: publish: %v", ErrRadioUnavailable, err)
	}
	return nil
}
