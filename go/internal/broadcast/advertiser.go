package broadcast

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/classcast/go/internal/protocol"
)

// advertisement repeats one payload on a ticker until stopped.
type advertisement struct {
	handle Handle
	stopCh chan struct{}
	done   chan struct{}
}

// slot is the single advertising slot shared by every Channel implementation.
type slot struct {
	clock    clockwork.Clock
	interval time.Duration
	deviceID string

	mu     sync.Mutex
	active *advertisement
}

func newSlot(clock clockwork.Clock, interval time.Duration, deviceID string) *slot {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if interval <= 0 {
		interval = DefaultAdvertiseInterval
	}
	return &slot{clock: clock, interval: interval, deviceID: deviceID}
}

// start claims the slot and publishes payload immediately and then once per
// interval. The first publish runs synchronously so its error reaches the caller.
func (s *slot) start(payload []byte, publish func([]byte) error) (Handle, error) {
	if len(payload) > protocol.MaxPayloadSize {
		return "", fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, len(payload), protocol.MaxPayloadSize)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		return "", fmt.Errorf("%w: %s still advertising", ErrSlotBusy, s.active.handle)
	}

	data := append([]byte(nil), payload...)
	if err := publish(data); err != nil {
		return "", err
	}

	adv := &advertisement{
		handle: Handle(uuid.New().String()),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	s.active = adv

	ticker := s.clock.NewTicker(s.interval)
	go func() {
		defer close(adv.done)
		defer ticker.Stop()
		for {
			select {
			case <-adv.stopCh:
				return
			case <-ticker.Chan():
				if err := publish(data); err != nil {
					log.Warn().
						Err(err).
						Str("device_id", s.deviceID).
						Str("handle", string(adv.handle)).
						Msg("advertisement repeat failed")
				}
			}
		}
	}()

	log.Debug().
		Str("device_id", s.deviceID).
		Str("handle", string(adv.handle)).
		Str("payload", string(data)).
		Msg("advertising started")

	return adv.handle, nil
}

// stop releases the slot if h still owns it and waits for the repeat loop to exit.
func (s *slot) stop(ctx context.Context, h Handle) error {
	s.mu.Lock()
	adv := s.active
	if adv == nil || adv.handle != h {
		s.mu.Unlock()
		return nil
	}
	s.active = nil
	close(adv.stopCh)
	s.mu.Unlock()

	select {
	case <-adv.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	log.Debug().
		Str("device_id", s.deviceID).
		Str("handle", string(h)).
		Msg("advertising stopped")
	return nil
}

// stopAll releases whatever holds the slot.
func (s *slot) stopAll(ctx context.Context) error {
	s.mu.Lock()
	adv := s.active
	s.mu.Unlock()
	if adv == nil {
		return nil
	}
	return s.stop(ctx, adv.handle)
}

// busy reports whether an advertisement currently holds the slot.
func (s *slot) busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}
