package transmit_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/classcast/go/internal/broadcast"
	"github.com/mcdev12/classcast/go/internal/transmit"
)

// radio is a broadcast.Channel that records every call and the peak number
// of simultaneously active handles.
type radio struct {
	mu        sync.Mutex
	next      int
	active    map[broadcast.Handle]string
	peak      int
	transmits []string
	stops     []string
	failNext  error
}

func newRadio() *radio {
	return &radio{active: make(map[broadcast.Handle]string)}
}

func (r *radio) Transmit(_ context.Context, payload []byte) (broadcast.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failNext != nil {
		err := r.failNext
		r.failNext = nil
		return "", err
	}
	if len(r.active) > 0 {
		return "", broadcast.ErrSlotBusy
	}
	r.next++
	h := broadcast.Handle(fmt.Sprintf("h%d", r.next))
	r.active[h] = string(payload)
	r.transmits = append(r.transmits, string(payload))
	if len(r.active) > r.peak {
		r.peak = len(r.active)
	}
	return h, nil
}

func (r *radio) Stop(_ context.Context, h broadcast.Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.active[h]; ok {
		delete(r.active, h)
		r.stops = append(r.stops, p)
	}
	return nil
}

func (r *radio) Receive(context.Context) (<-chan []byte, error) {
	return nil, errors.New("not scanning")
}

func (r *radio) onAir() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, p := range r.active {
		out = append(out, p)
	}
	return out
}

func (r *radio) stopCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stops)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestTimedTransmissionStopsItself(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	r := newRadio()
	s := transmit.NewScheduler(r, clock)

	elapsed := make(chan transmit.Intent, 1)
	s.OnElapsed = func(i transmit.Intent) { elapsed <- i }

	if err := s.Start(ctx, []byte("ACKCODE:42"), transmit.Timed(2*time.Second)); err != nil {
		t.Fatalf("Start err: %v", err)
	}
	if got := s.Current(); string(got.Payload) != "ACKCODE:42" || got.Mode.Kind != transmit.KindTimed {
		t.Fatalf("unexpected current intent: %+v", got)
	}

	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("BlockUntil err: %v", err)
	}
	clock.Advance(1999 * time.Millisecond)
	if len(r.onAir()) != 1 {
		t.Fatal("transmission stopped before its duration")
	}

	clock.Advance(time.Millisecond)
	select {
	case i := <-elapsed:
		if string(i.Payload) != "ACKCODE:42" {
			t.Fatalf("unexpected elapsed payload: %q", i.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnElapsed not called")
	}
	if len(r.onAir()) != 0 {
		t.Fatalf("expected radio idle, on air: %v", r.onAir())
	}
	if !s.Current().None() {
		t.Fatalf("expected no current intent, got %+v", s.Current())
	}
}

func TestStartSupersedesPendingTimedStop(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	r := newRadio()
	s := transmit.NewScheduler(r, clock)

	var elapsedCalls int
	var mu sync.Mutex
	s.OnElapsed = func(transmit.Intent) {
		mu.Lock()
		elapsedCalls++
		mu.Unlock()
	}

	if err := s.Start(ctx, []byte("RESP:42:B"), transmit.Timed(2*time.Second)); err != nil {
		t.Fatalf("Start err: %v", err)
	}
	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("BlockUntil err: %v", err)
	}
	clock.Advance(time.Second)

	if err := s.Start(ctx, []byte("ACKRES:42"), transmit.Persistent()); err != nil {
		t.Fatalf("Start err: %v", err)
	}

	// The first transmission's deadline passes; the persistent one must survive.
	clock.Advance(5 * time.Second)
	time.Sleep(20 * time.Millisecond)

	onAir := r.onAir()
	if len(onAir) != 1 || onAir[0] != "ACKRES:42" {
		t.Fatalf("unexpected on air: %v", onAir)
	}
	mu.Lock()
	defer mu.Unlock()
	if elapsedCalls != 0 {
		t.Fatalf("superseded transmission reported elapsed %d times", elapsedCalls)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	ctx := context.Background()
	r := newRadio()
	s := transmit.NewScheduler(r, clockwork.NewFakeClock())

	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop on idle scheduler err: %v", err)
	}
	if err := s.Start(ctx, []byte("ACK_START"), transmit.Persistent()); err != nil {
		t.Fatalf("Start err: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := s.Stop(ctx); err != nil {
			t.Fatalf("Stop err: %v", err)
		}
	}
	if got := r.stopCount(); got != 1 {
		t.Fatalf("expected exactly one channel stop, got %d", got)
	}
}

func TestStartFailureLeavesSchedulerIdle(t *testing.T) {
	ctx := context.Background()
	r := newRadio()
	s := transmit.NewScheduler(r, clockwork.NewFakeClock())

	if err := s.Start(ctx, []byte("ACK_START"), transmit.Persistent()); err != nil {
		t.Fatalf("Start err: %v", err)
	}
	r.failNext = broadcast.ErrRadioUnavailable
	err := s.Start(ctx, []byte("NAME:Bob"), transmit.Persistent())
	if !errors.Is(err, broadcast.ErrRadioUnavailable) {
		t.Fatalf("expected ErrRadioUnavailable, got %v", err)
	}
	if !s.Current().None() {
		t.Fatalf("expected idle scheduler, got %+v", s.Current())
	}
	if len(r.onAir()) != 0 {
		t.Fatalf("previous transmission still on air: %v", r.onAir())
	}
}

func TestSingleSlotUnderRandomSequences(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	r := newRadio()
	s := transmit.NewScheduler(r, clock)
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 500; i++ {
		switch rng.Intn(4) {
		case 0:
			if err := s.Start(ctx, []byte(fmt.Sprintf("P%d", i)), transmit.Persistent()); err != nil {
				t.Fatalf("Start err: %v", err)
			}
		case 1:
			d := time.Duration(rng.Intn(3)+1) * time.Second
			if err := s.Start(ctx, []byte(fmt.Sprintf("T%d", i)), transmit.Timed(d)); err != nil {
				t.Fatalf("Start err: %v", err)
			}
		case 2:
			if err := s.Stop(ctx); err != nil {
				t.Fatalf("Stop err: %v", err)
			}
		case 3:
			clock.Advance(time.Duration(rng.Intn(2000)) * time.Millisecond)
		}
		if n := len(r.onAir()); n > 1 {
			t.Fatalf("step %d: %d handles active", i, n)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.peak > 1 {
		t.Fatalf("peak active handles %d", r.peak)
	}
}
