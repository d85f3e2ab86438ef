// Package student runs one student device: it owns the session machine, the
// transmission scheduler and the broadcast channel, and drives them from a
// single goroutine.
package student

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/classcast/go/internal/broadcast"
	"github.com/mcdev12/classcast/go/internal/protocol"
	"github.com/mcdev12/classcast/go/internal/session"
	"github.com/mcdev12/classcast/go/internal/store"
	"github.com/mcdev12/classcast/go/internal/transmit"
)

var (
	// ErrStopped is returned by local actions once Run has returned.
	ErrStopped = errors.New("student runtime stopped")
	// ErrAlreadyRunning is returned by a second call to Run.
	ErrAlreadyRunning = errors.New("student runtime already running")
)

// Navigator is the UI side of the device.
type Navigator interface {
	Navigate(screen session.Screen, snap Snapshot)
	Notice(text string, snap Snapshot)
}

// Snapshot is a read-only view of the device for the UI.
type Snapshot struct {
	State        session.State   `json:"state"`
	Screen       session.Screen  `json:"screen"`
	Outcome      session.Outcome `json:"outcome,omitempty"`
	LastResponse protocol.Answer `json:"last_response,omitempty"`
	OnAir        string          `json:"on_air,omitempty"`
	Scanning     bool            `json:"scanning"`
}

// Deps wires a Runtime to its collaborators.
type Deps struct {
	Channel   broadcast.Channel
	Store     store.Store
	Navigator Navigator
	// Clock drives timed transmissions; nil means the real clock.
	Clock       clockwork.Clock
	AckDuration time.Duration
}

type command struct {
	event session.Event
	reply chan error
}

// Runtime serialises every change to the session through one goroutine: the
// one running Run.
type Runtime struct {
	machine   *session.Machine
	scheduler *transmit.Scheduler
	channel   broadcast.Channel
	store     store.Store
	answers   store.AnswerStore
	nav       Navigator

	commands chan command
	elapsed  chan transmit.Intent
	done     chan struct{}
	running  sync.Once

	// Owned by the Run goroutine.
	runCtx   context.Context
	inbound  <-chan []byte
	scanning bool

	mu   sync.RWMutex
	snap Snapshot
}

// New builds a runtime, resuming from the store when it holds a code.
func New(ctx context.Context, deps Deps) (*Runtime, error) {
	if deps.Channel == nil {
		return nil, errors.New("student runtime needs a broadcast channel")
	}
	if deps.Store == nil {
		deps.Store = store.NewMemoryStore()
	}
	if deps.Navigator == nil {
		deps.Navigator = nopNavigator{}
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}

	machine, err := session.NewMachine(ctx, deps.Store, session.WithAckDuration(deps.AckDuration))
	if err != nil {
		return nil, err
	}

	r := &Runtime{
		machine:   machine,
		scheduler: transmit.NewScheduler(deps.Channel, deps.Clock),
		channel:   deps.Channel,
		store:     deps.Store,
		nav:       deps.Navigator,
		commands:  make(chan command),
		elapsed:   make(chan transmit.Intent, 8),
		done:      make(chan struct{}),
	}
	r.scheduler.OnElapsed = r.onElapsed

	if as, ok := deps.Store.(store.AnswerStore); ok {
		r.answers = as
		if a, ok, err := as.LoadLastResponse(ctx); err != nil {
			log.Warn().Err(err).Msg("failed to load last response")
		} else if ok {
			r.snap.LastResponse = a
		}
	}
	r.refresh()

	st := machine.State()
	log.Info().
		Str("phase", st.Phase.String()).
		Str("assigned_code", st.AssignedCode).
		Msg("student runtime created")
	return r, nil
}

// Snapshot returns the latest published view of the device.
func (r *Runtime) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap
}

// SubmitName registers the student under name.
func (r *Runtime) SubmitName(ctx context.Context, name string) error {
	return r.do(ctx, session.NameSubmitted{Name: name})
}

// SelectAnswer answers the current round.
func (r *Runtime) SelectAnswer(ctx context.Context, answer protocol.Answer) error {
	return r.do(ctx, session.AnswerSelected{Answer: answer})
}

func (r *Runtime) do(ctx context.Context, ev session.Event) error {
	cmd := command{event: ev, reply: make(chan error, 1)}
	select {
	case r.commands <- cmd:
	case <-r.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-r.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives the device until ctx is cancelled. A resumed device starts
// scanning right away; a fresh one waits for the first local action.
func (r *Runtime) Run(ctx context.Context) error {
	first := false
	r.running.Do(func() { first = true })
	if !first {
		return ErrAlreadyRunning
	}
	defer close(r.done)

	r.runCtx = ctx
	if r.machine.State().AssignedCode != "" {
		if err := r.ensureScanning(); err != nil {
			return fmt.Errorf("start scanning: %w", err)
		}
	}

	log.Info().Msg("student runtime started")
	for {
		select {
		case <-ctx.Done():
			stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			if err := r.scheduler.Stop(stopCtx); err != nil {
				log.Warn().Err(err).Msg("failed to stop transmission on shutdown")
			}
			cancel()
			log.Info().Msg("student runtime shutting down")
			return ctx.Err()

		case payload, ok := <-r.inbound:
			if !ok {
				log.Warn().Msg("scan stream closed")
				r.inbound = nil
				r.scanning = false
				r.refresh()
				continue
			}
			r.handleInbound(ctx, payload)

		case cmd := <-r.commands:
			cmd.reply <- r.handleCommand(ctx, cmd.event)

		case intent := <-r.elapsed:
			r.handleElapsed(ctx, intent)
		}
	}
}

func (r *Runtime) ensureScanning() error {
	if r.scanning {
		return nil
	}
	ch, err := r.channel.Receive(r.runCtx)
	if err != nil {
		return err
	}
	r.inbound = ch
	r.scanning = true
	r.refresh()
	return nil
}

func (r *Runtime) handleCommand(ctx context.Context, ev session.Event) error {
	res := r.machine.Propose(ev)
	if res.Err != nil {
		log.Debug().Err(res.Err).Msg("local action rejected")
		return res.Err
	}
	if !res.Changed {
		log.Debug().Str("reason", res.Reason).Msg("local action ignored")
		return nil
	}
	if err := r.ensureScanning(); err != nil {
		return fmt.Errorf("start scanning: %w", err)
	}
	prev := r.scheduler.Current()
	if err := r.execute(ctx, res, true); err != nil {
		r.restore(ctx, prev)
		return err
	}
	r.machine.Commit(res)
	r.refresh()
	return nil
}

// restore puts the committed state's transmission back on air after a local
// action failed, since starting the new one already cancelled it.
func (r *Runtime) restore(ctx context.Context, prev transmit.Intent) {
	defer r.refresh()
	if prev.None() || !r.scheduler.Current().None() {
		return
	}
	if err := r.scheduler.Start(ctx, prev.Payload, prev.Mode); err != nil {
		log.Warn().Err(err).Str("payload", string(prev.Payload)).Msg("failed to restore transmission")
		r.notice(fmt.Sprintf("could not resume sending %s", prev.Payload))
	}
}

func (r *Runtime) handleInbound(ctx context.Context, payload []byte) {
	msg, ok := protocol.Decode(payload)
	if !ok {
		log.Debug().Bytes("payload", payload).Msg("dropping undecodable payload")
		return
	}

	before := r.machine.State().Phase
	res := r.machine.Apply(session.Received{Message: msg})
	if !res.Changed {
		ev := log.Debug()
		if res.Reason == session.ReasonConflictingConfirm {
			ev = log.Warn()
		}
		ev.Str("message", protocol.String(msg)).
			Str("phase", before.String()).
			Str("reason", res.Reason).
			Msg("inbound message ignored")
		return
	}

	log.Info().
		Str("message", protocol.String(msg)).
		Str("from", before.String()).
		Str("to", res.State.Phase.String()).
		Msg("session transition")
	if err := r.execute(ctx, res, false); err != nil {
		log.Error().Err(err).Msg("failed to execute effects")
	}
	r.refresh()
}

func (r *Runtime) handleElapsed(ctx context.Context, intent transmit.Intent) {
	msg, ok := protocol.Decode(intent.Payload)
	if !ok {
		return
	}
	res := r.machine.Apply(session.TransmissionElapsed{Message: msg})
	if res.Changed {
		log.Debug().Str("message", protocol.String(msg)).Msg("timed transmission elapsed")
		if err := r.execute(ctx, res, false); err != nil {
			log.Error().Err(err).Msg("failed to execute effects")
		}
	}
	r.refresh()
}

// onElapsed runs on the scheduler's timer goroutine and hands the intent to Run.
func (r *Runtime) onElapsed(intent transmit.Intent) {
	select {
	case r.elapsed <- intent:
	case <-r.done:
	}
}

// execute carries out res.Effects in order. For local actions a failed
// transmission aborts and is returned; otherwise it becomes a UI notice.
func (r *Runtime) execute(ctx context.Context, res session.Result, local bool) error {
	for _, eff := range res.Effects {
		switch e := eff.(type) {
		case session.Transmit:
			if err := r.scheduler.Start(ctx, protocol.Encode(e.Message), e.Mode); err != nil {
				if local {
					return err
				}
				r.notice(fmt.Sprintf("could not send %s: %v", e.Message.Tag(), err))
				continue
			}
			r.refresh()

		case session.StopTransmit:
			if err := r.scheduler.Stop(ctx); err != nil {
				log.Warn().Err(err).Msg("failed to stop transmission")
			}
			r.refresh()

		case session.Persist:
			if err := r.store.Save(ctx, e.Code); err != nil {
				log.Error().Err(err).Str("code", e.Code).Msg("failed to persist assigned code")
				r.notice("could not save your code; it will be lost on restart")
			}

		case session.RecordAnswer:
			r.mu.Lock()
			r.snap.LastResponse = e.Answer
			r.mu.Unlock()
			if r.answers == nil {
				continue
			}
			if err := r.answers.SaveLastResponse(ctx, e.Answer); err != nil {
				log.Warn().Err(err).Msg("failed to record last response")
			}

		case session.Navigate:
			r.publish(res.State)
			r.nav.Navigate(e.Screen, r.Snapshot())

		default:
			log.Warn().Str("effect", fmt.Sprintf("%T", eff)).Msg("unknown effect")
		}
	}
	return nil
}

func (r *Runtime) notice(text string) {
	log.Warn().Str("notice", text).Msg("notifying student")
	r.nav.Notice(text, r.Snapshot())
}

// refresh republishes the snapshot from the committed machine state.
func (r *Runtime) refresh() {
	r.publish(r.machine.State())
}

func (r *Runtime) publish(st session.State) {
	onAir := ""
	if cur := r.scheduler.Current(); !cur.None() {
		onAir = string(cur.Payload)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap.State = st
	r.snap.Screen = session.ScreenFor(st.Phase)
	r.snap.Outcome = st.Outcome()
	r.snap.OnAir = onAir
	r.snap.Scanning = r.scanning
}

type nopNavigator struct{}

func (nopNavigator) Navigate(session.Screen, Snapshot) {}
func (nopNavigator) Notice(string, Snapshot)           {}
