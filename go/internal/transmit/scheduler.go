package transmit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/classcast/go/internal/broadcast"
)

// Kind distinguishes timed from persistent transmissions.
type Kind int

const (
	KindPersistent Kind = iota
	KindTimed
)

func (k Kind) String() string {
	if k == KindTimed {
		return "timed"
	}
	return "persistent"
}

// Mode says how long a transmission stays on air.
type Mode struct {
	Kind     Kind
	Duration time.Duration
}

// Timed transmissions stop by themselves after d.
func Timed(d time.Duration) Mode { return Mode{Kind: KindTimed, Duration: d} }

// Persistent transmissions stay on air until superseded or stopped.
func Persistent() Mode { return Mode{Kind: KindPersistent} }

// Intent is what the scheduler is currently broadcasting. The zero value means nothing.
type Intent struct {
	Payload []byte
	Mode    Mode
}

// None reports whether the intent is empty.
func (i Intent) None() bool { return i.Payload == nil }

// activeTransmission is the one transmission that may own the radio slot.
type activeTransmission struct {
	seq    uint64
	handle broadcast.Handle
	intent Intent
	timer  clockwork.Timer // nil for persistent transmissions
	cancel chan struct{}   // closed when superseded or stopped
}

// Scheduler owns the device's single transmit handle. Starting a transmission
// always cancels the previous one together with its pending auto-stop, so a
// late timer can never stop a newer, unrelated transmission.
type Scheduler struct {
	channel broadcast.Channel
	clock   clockwork.Clock

	// OnElapsed, if set, is called after a timed transmission stopped by itself.
	// It runs on the timer goroutine with no scheduler lock held.
	OnElapsed func(Intent)

	mu     sync.Mutex
	seq    uint64
	active *activeTransmission
}

// NewScheduler creates a scheduler for channel. A nil clock means the real clock.
func NewScheduler(channel broadcast.Channel, clock clockwork.Clock) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{channel: channel, clock: clock}
}

// Start cancels whatever is on air and begins transmitting payload. When the
// channel refuses the new transmission the previous one is still cancelled and
// the scheduler is left idle.
func (s *Scheduler) Start(ctx context.Context, payload []byte, mode Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.cancelLocked(ctx); err != nil {
		return err
	}

	handle, err := s.channel.Transmit(ctx, payload)
	if err != nil {
		log.Error().
			Err(err).
			Str("payload", string(payload)).
			Str("mode", mode.Kind.String()).
			Msg("transmission start failed")
		return fmt.Errorf("start transmission: %w", err)
	}

	s.seq++
	tx := &activeTransmission{
		seq:    s.seq,
		handle: handle,
		intent: Intent{Payload: append([]byte(nil), payload...), Mode: mode},
		cancel: make(chan struct{}),
	}
	s.active = tx

	if mode.Kind == KindTimed {
		tx.timer = s.clock.NewTimer(mode.Duration)
		go s.awaitExpiry(tx)
	}

	log.Debug().
		Str("payload", string(payload)).
		Str("mode", mode.Kind.String()).
		Dur("duration", mode.Duration).
		Msg("transmission started")

	return nil
}

// Stop cancels the active transmission. It is a no-op when nothing is active.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelLocked(ctx)
}

// Current returns the intent on air, or the zero Intent.
func (s *Scheduler) Current() Intent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return Intent{}
	}
	return s.active.intent
}

// cancelLocked releases the active transmission and its timer. Caller holds s.mu.
func (s *Scheduler) cancelLocked(ctx context.Context) error {
	tx := s.active
	if tx == nil {
		return nil
	}
	s.active = nil
	close(tx.cancel)
	if tx.timer != nil {
		stopAndDrainTimer(tx.timer)
	}

	if err := s.channel.Stop(ctx, tx.handle); err != nil {
		log.Error().Err(err).Str("payload", string(tx.intent.Payload)).Msg("transmission stop failed")
		return fmt.Errorf("stop transmission: %w", err)
	}

	log.Debug().Str("payload", string(tx.intent.Payload)).Msg("transmission stopped")
	return nil
}

// awaitExpiry stops tx when its timer fires, unless tx was superseded first.
func (s *Scheduler) awaitExpiry(tx *activeTransmission) {
	select {
	case <-tx.timer.Chan():
	case <-tx.cancel:
		return
	}

	s.mu.Lock()
	if s.active == nil || s.active.seq != tx.seq {
		s.mu.Unlock()
		return
	}
	err := s.cancelLocked(context.Background())
	s.mu.Unlock()

	if err != nil {
		return
	}

	log.Debug().
		Str("payload", string(tx.intent.Payload)).
		Dur("duration", tx.intent.Mode.Duration).
		Msg("timed transmission elapsed")

	if s.OnElapsed != nil {
		s.OnElapsed(tx.intent)
	}
}

// stopAndDrainTimer stops a timer and drains its channel so a stale fire is
// never observed.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
