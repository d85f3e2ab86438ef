package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// scanBufferSize bounds how many payloads a slow scanner may fall behind
// before the medium starts dropping them.
const scanBufferSize = 256

// Medium is an in-process stand-in for the air between devices. Every device
// scanning the medium hears every other device's advertisements, repeated once
// per advertise interval, exactly like a real radio would deliver duplicates.
type Medium struct {
	clock    clockwork.Clock
	interval time.Duration

	mu      sync.RWMutex
	devices map[string]*Device
}

// NewMedium creates an empty medium. A nil clock means the real clock.
func NewMedium(clock clockwork.Clock, interval time.Duration) *Medium {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Medium{
		clock:    clock,
		interval: interval,
		devices:  make(map[string]*Device),
	}
}

// Device returns the device with the given id, joining it to the medium on first use.
func (m *Medium) Device(id string) *Device {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d, ok := m.devices[id]; ok {
		return d
	}
	d := &Device{
		id:       id,
		medium:   m,
		slot:     newSlot(m.clock, m.interval, id),
		radioOn:  true,
		scanners: make(map[int]chan []byte),
	}
	m.devices[id] = d
	return d
}

func (m *Medium) deliver(from string, payload []byte) {
	m.mu.RLock()
	targets := make([]*Device, 0, len(m.devices))
	for id, d := range m.devices {
		if id != from {
			targets = append(targets, d)
		}
	}
	m.mu.RUnlock()

	for _, d := range targets {
		d.offer(payload)
	}
}

// Device is one radio on a Medium. It implements Channel.
type Device struct {
	id     string
	medium *Medium
	slot   *slot

	mu          sync.Mutex
	radioOn     bool
	scanners    map[int]chan []byte
	nextScanner int
}

var _ Channel = (*Device)(nil)

// ID returns the device identifier.
func (d *Device) ID() string { return d.id }

// SetRadio switches the device's radio. Turning it off stops any advertisement
// and refuses new transmits and scans until it is switched back on.
func (d *Device) SetRadio(ctx context.Context, on bool) error {
	d.mu.Lock()
	d.radioOn = on
	d.mu.Unlock()
	if !on {
		return d.slot.stopAll(ctx)
	}
	return nil
}

// Advertising reports whether the device's slot is occupied.
func (d *Device) Advertising() bool {
	return d.slot.busy()
}

func (d *Device) Transmit(_ context.Context, payload []byte) (Handle, error) {
	if !d.radioEnabled() {
		return "", ErrRadioUnavailable
	}
	return d.slot.start(payload, func(p []byte) error {
		if !d.radioEnabled() {
			return ErrRadioUnavailable
		}
		d.medium.deliver(d.id, p)
		return nil
	})
}

func (d *Device) Stop(ctx context.Context, h Handle) error {
	return d.slot.stop(ctx, h)
}

func (d *Device) Receive(ctx context.Context) (<-chan []byte, error) {
	d.mu.Lock()
	if !d.radioOn {
		d.mu.Unlock()
		return nil, ErrRadioUnavailable
	}
	id := d.nextScanner
	d.nextScanner++
	ch := make(chan []byte, scanBufferSize)
	d.scanners[id] = ch
	d.mu.Unlock()

	go func() {
		<-ctx.Done()
		d.mu.Lock()
		delete(d.scanners, id)
		close(ch)
		d.mu.Unlock()
	}()

	return ch, nil
}

func (d *Device) radioEnabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.radioOn
}

// offer hands a payload to every scanner without blocking; a full scanner
// simply misses it, as a busy radio would.
func (d *Device) offer(payload []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.radioOn {
		return
	}
	for _, ch := range d.scanners {
		select {
		case ch <- append([]byte(nil), payload...):
		default:
		}
	}
}
