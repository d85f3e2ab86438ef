package broadcast

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

const (
	// deviceHeader carries the sender so a device can ignore its own advertisements.
	deviceHeader = "Classcast-Device"

	subjectPrefix = "classcast."
)

// NATSConfig holds configuration for a NATS backed broadcast channel
type NATSConfig struct {
	URL               string
	Namespace         string // shared by every device in the classroom, e.g. "0x1234"
	DeviceID          string
	AdvertiseInterval time.Duration
	MaxReconnects     int
	ReconnectWait     time.Duration
	Clock             clockwork.Clock
}

// DefaultNATSConfig returns default NATS channel configuration
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:               nats.DefaultURL,
		Namespace:         "0x1234",
		AdvertiseInterval: DefaultAdvertiseInterval,
		MaxReconnects:     -1, // Infinite
		ReconnectWait:     2 * time.Second,
	}
}

// NATSChannel broadcasts over a single NATS subject. Core NATS gives the same
// guarantees as the radio it replaces: no acknowledgement, no replay, and a
// message published while nobody listens is gone.
type NATSChannel struct {
	nc      *nats.Conn
	subject string
	config  NATSConfig
	slot    *slot
}

var _ Channel = (*NATSChannel)(nil)

// DialNATS connects to NATS and returns a channel bound to the namespace subject.
func DialNATS(config NATSConfig) (*NATSChannel, error) {
	opts := []nats.Option{
		nats.Name("classcast-" + config.DeviceID),
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return &NATSChannel{
		nc:      nc,
		subject: subjectPrefix + config.Namespace,
		config:  config,
		slot:    newSlot(config.Clock, config.AdvertiseInterval, config.DeviceID),
	}, nil
}

func (c *NATSChannel) Transmit(_ context.Context, payload []byte) (Handle, error) {
	if !c.nc.IsConnected() {
		return "", fmt.Errorf("%w: NATS status %s", ErrRadioUnavailable, c.nc.Status())
	}
	return c.slot.start(payload, c.publish)
}

func (c *NATSChannel) Stop(ctx context.Context, h Handle) error {
	return c.slot.stop(ctx, h)
}

func (c *NATSChannel) Receive(ctx context.Context) (<-chan []byte, error) {
	if !c.nc.IsConnected() {
		return nil, fmt.Errorf("%w: NATS status %s", ErrRadioUnavailable, c.nc.Status())
	}

	msgCh := make(chan *nats.Msg, scanBufferSize)
	sub, err := c.nc.ChanSubscribe(c.subject, msgCh)
	if err != nil {
		return nil, fmt.Errorf("%w: subscribe %s: %v", ErrRadioUnavailable, c.subject, err)
	}

	out := make(chan []byte, scanBufferSize)
	go func() {
		defer close(out)
		defer func() {
			if err := sub.Unsubscribe(); err != nil {
				log.Warn().Err(err).Str("subject", c.subject).Msg("failed to unsubscribe")
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-msgCh:
				if msg.Header.Get(deviceHeader) == c.config.DeviceID {
					continue
				}
				select {
				case out <- msg.Data:
				default:
					log.Debug().Str("subject", c.subject).Msg("scan buffer full, dropping advertisement")
				}
			}
		}
	}()

	log.Info().Str("subject", c.subject).Str("device_id", c.config.DeviceID).Msg("scanning started")
	return out, nil
}

// Close stops advertising and drains the connection
func (c *NATSChannel) Close(ctx context.Context) error {
	if err := c.slot.stopAll(ctx); err != nil {
		return err
	}
	if c.nc != nil {
		return c.nc.Drain()
	}
	return nil
}

func (c *NATSChannel) publish(payload []byte) error {
	msg := nats.NewMsg(c.subject)
	msg.Header.Set(deviceHeader, c.config.DeviceID)
	msg.Data = payload
	if err := c.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("%w: publish: %v", ErrRadioUnavailable, err)
	}
	return nil
}
