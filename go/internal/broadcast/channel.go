package broadcast

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrRadioUnavailable means the device cannot advertise or scan right now.
	ErrRadioUnavailable = errors.New("radio unavailable")
	// ErrSlotBusy means another advertisement already occupies the device's only slot.
	ErrSlotBusy = errors.New("advertising slot busy")
	// ErrPayloadTooLarge means the payload does not fit in one advertisement.
	ErrPayloadTooLarge = errors.New("payload too large")
)

// DefaultAdvertiseInterval is how often an active advertisement is repeated.
const DefaultAdvertiseInterval = 100 * time.Millisecond

// Handle identifies one started advertisement.
type Handle string

// Channel is a one-way, connectionless broadcast radio. A device has a single
// advertising slot; scanning runs independently of it.
type Channel interface {
	// Transmit starts advertising payload until Stop is called with the
	// returned handle.
	Transmit(ctx context.Context, payload []byte) (Handle, error)
	// Stop ends the advertisement. Stopping an unknown or finished handle is a no-op.
	Stop(ctx context.Context, h Handle) error
	// Receive starts scanning. The returned channel is closed when ctx ends.
	Receive(ctx context.Context) (<-chan []byte, error)
}
