// Package platform runs one simulated vehicle: it performs the handshake
// with the umpire, advances its own kinematic state every tick, hands
// control to a decision hook and reports its snapshot on the bus.
package platform

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ewjax/SubBots/core"
	"github.com/ewjax/SubBots/internal/bus"
	"github.com/ewjax/SubBots/internal/config"
	"github.com/ewjax/SubBots/internal/keyexchange"
	"github.com/ewjax/SubBots/internal/logging"
	"github.com/ewjax/SubBots/internal/observability"
	"github.com/ewjax/SubBots/internal/protocol"
	"github.com/ewjax/SubBots/internal/session"
	"github.com/ewjax/SubBots/model"
	"github.com/ewjax/SubBots/timectrl"
)

const roleName = "platform"

var (
	// ErrNoDecisionHook is returned by New when no hook is supplied.
	ErrNoDecisionHook = errors.New("platform: decision hook is required")
	// ErrConnect wraps a failed bus connection. It is fatal for the process.
	ErrConnect = errors.New("platform: bus connection failed")
)

// DecisionHook is the platform-specific command and control logic. It is
// called once per tick while the session is running and must return
// promptly; orders are given through the Helm.
type DecisionHook interface {
	CommandAndControl(ctx context.Context, helm *Helm) error
}

// HookFunc adapts a function to DecisionHook.
type HookFunc func(ctx context.Context, helm *Helm) error

// CommandAndControl calls f.
func (f HookFunc) CommandAndControl(ctx context.Context, helm *Helm) error {
	return f(ctx, helm)
}

// Options carries the optional collaborators of a Platform.
type Options struct {
	Logger  logging.Logger
	Metrics *observability.SimCollector
	// Initial overrides model.DefaultKinematicState.
	Initial *model.KinematicState
	// Start is the simulation start time; zero means time.Now.
	Start time.Time
}

// Platform owns one identity, one kinematic state, one set of session keys
// and one session. State is mutated only by the Run loop.
type Platform struct {
	// Identity
	Identity model.PlatformIdentity

	// Dependencies
	Bus  bus.Bus
	Hook DecisionHook
	Sim  config.SimulationConfig

	// Internal state
	state    model.KinematicState
	keys     *keyexchange.SessionKeys
	machine  *session.Machine
	clock    *timectrl.TimeController
	outbox   []string
	stopping bool

	// stoppedFrom is the session state at receipt of the disco; the tick in
	// flight finishes in that phase.
	stoppedFrom session.State

	log     logging.Logger
	metrics *observability.SimCollector
}

// New builds a platform in the Disconnected state with a fresh ephemeral
// keypair.
func New(identity model.PlatformIdentity, b bus.Bus, hook DecisionHook, sim config.SimulationConfig, opts Options) (*Platform, error) {
	if hook == nil {
		return nil, ErrNoDecisionHook
	}
	if b == nil {
		return nil, errors.New("platform: bus is required")
	}
	if err := identity.Roles.Validate(); err != nil {
		return nil, fmt.Errorf("platform: %w", err)
	}
	if sim.PollInterval <= 0 {
		return nil, fmt.Errorf("platform: %w: poll interval must be positive", config.ErrInvalidConfig)
	}

	state := model.DefaultKinematicState()
	if opts.Initial != nil {
		state = *opts.Initial
	}
	if err := state.Validate(); err != nil {
		return nil, fmt.Errorf("platform: initial state: %w", err)
	}

	keys, err := keyexchange.NewSessionKeys()
	if err != nil {
		return nil, fmt.Errorf("platform: %w", err)
	}

	start := opts.Start
	if start.IsZero() {
		start = time.Now()
	}
	mode := timectrl.Accelerated
	if sim.IsRealTime() {
		mode = timectrl.RealTime
	}
	state.Timestamp = start

	base := opts.Logger
	if base == nil {
		base = logging.Noop()
	}
	p := &Platform{
		Identity: identity,
		Bus:      b,
		Hook:     hook,
		Sim:      sim,
		state:    state,
		keys:     keys,
		machine:  session.NewMachine(session.RolePlatform),
		clock:    timectrl.NewTimeController(start, sim.TickInterval, mode),
		log:      logging.ForParticipant(base, roleName, identity.ID.String()),
		metrics:  opts.Metrics,
	}
	p.machine.OnTransition(func(from, to session.State) {
		p.log.Info(context.Background(), "session transition",
			logging.String("from", from.String()),
			logging.String("to", to.String()),
		)
		p.metrics.SetSessionState(roleName, int(to))
	})
	return p, nil
}

// State returns the current kinematic state. It must not be called
// concurrently with Run.
func (p *Platform) State() model.KinematicState { return p.state }

// SessionState returns the session lifecycle state.
func (p *Platform) SessionState() session.State { return p.machine.State() }

// SharedKey returns the key derived with the umpire.
func (p *Platform) SharedKey() ([]byte, error) { return p.keys.SharedKey() }

// Ticks returns the number of completed ticks.
func (p *Platform) Ticks() uint64 { return p.clock.Ticks() }

// Run connects, registers and drives the tick loop until a disco broadcast
// is received or ctx is cancelled. In both cases the in-flight tick
// completes before the bus is released. A failed connection returns an
// error wrapping ErrConnect.
func (p *Platform) Run(ctx context.Context) error {
	if err := p.start(ctx); err != nil {
		return err
	}
	defer p.clock.Stop()

	for !p.stopping && ctx.Err() == nil {
		p.tick(ctx)
		if !p.stopping {
			// Cancellation is observed at the top of the loop.
			_ = p.clock.Pace(ctx)
		}
	}
	return p.release()
}

func (p *Platform) start(ctx context.Context) error {
	if err := p.Bus.Connect(ctx); err != nil {
		p.log.Error(ctx, "bus connection failed", logging.Err(err))
		return fmt.Errorf("%w: %w", ErrConnect, err)
	}
	if err := p.machine.Connect(); err != nil {
		return err
	}
	if err := p.Bus.Subscribe(ctx, protocol.PlatformTopics()...); err != nil {
		_ = p.Bus.Disconnect()
		return fmt.Errorf("%w: subscribe: %w", ErrConnect, err)
	}
	if err := p.announce(ctx); err != nil {
		_ = p.Bus.Disconnect()
		return fmt.Errorf("platform: announce: %w", err)
	}
	return p.machine.Register()
}

func (p *Platform) release() error {
	if err := p.machine.Shutdown(); err != nil {
		return err
	}
	busErr := p.Bus.Disconnect()
	if err := p.machine.Disconnect(); err != nil {
		return err
	}
	if busErr != nil && !errors.Is(busErr, bus.ErrNotConnected) {
		return fmt.Errorf("platform: disconnect: %w", busErr)
	}
	return nil
}

// tick drains every pending message, then, while running, advances the
// kinematics, invokes the decision hook and publishes the snapshot.
func (p *Platform) tick(ctx context.Context) {
	began := time.Now()
	tickNo := p.clock.Ticks() + 1
	ctx, span := observability.StartTick(ctx, roleName, tickNo, p.machine.State().String())
	defer span.End()

	// Cancellation only cuts the poll short; the rest of the tick completes.
	detached := context.WithoutCancel(ctx)

	msgs, err := p.Bus.Poll(ctx, p.Sim.PollInterval)
	if err != nil && ctx.Err() == nil {
		p.log.Warn(ctx, "poll failed", logging.Err(err))
	}
	for _, msg := range msgs {
		p.handle(detached, msg)
	}

	now := p.clock.Advance()
	phase := p.machine.State()
	if phase == session.ShuttingDown {
		phase = p.stoppedFrom
	}
	switch phase {
	case session.Running:
		p.state = core.Advance(p.state, 1)
		helm := &Helm{p: p, tick: tickNo, now: now}
		hookCtx := logging.ContextWithLogger(detached, p.log)
		if err := p.Hook.CommandAndControl(hookCtx, helm); err != nil {
			p.log.Warn(detached, "decision hook failed", logging.Uint64("tick", tickNo), logging.Err(err))
		}
		p.state.Timestamp = now
		p.publishStatus(detached)
		p.flushOutbox(detached)
	case session.Registered:
		if every := p.Sim.Announce(); every > 0 && tickNo%uint64(every) == 0 {
			if err := p.announce(detached); err != nil {
				p.log.Warn(detached, "re-announce failed", logging.Err(err))
			}
		}
	}

	p.metrics.TickCompleted(roleName, time.Since(began))
}

func (p *Platform) handle(ctx context.Context, msg bus.Message) {
	p.metrics.MessageReceived(roleName, msg.Topic)
	switch msg.Topic {
	case protocol.TopicUmpirePublicKey:
		p.handleUmpireKey(ctx, msg)
	case protocol.TopicPlatformStatus:
		p.handleStatus(ctx, msg)
	case protocol.TopicGeneral:
		text, ok := protocol.DecodeText(msg.Payload)
		if !ok {
			p.log.Warn(ctx, "general message is not text", logging.String("raw", text))
			return
		}
		p.log.Info(ctx, "general message", logging.String("text", text))
	case protocol.TopicDisco:
		p.log.Info(ctx, "shutdown broadcast received")
		if !p.stopping {
			p.stoppedFrom = p.machine.State()
		}
		p.stopping = true
		if err := p.machine.Shutdown(); err != nil {
			p.log.Error(ctx, "session rejected shutdown", logging.Err(err))
		}
	default:
		text, _ := protocol.DecodeText(msg.Payload)
		p.log.Warn(ctx, "message on unknown topic", logging.String("topic", msg.Topic), logging.String("raw", text))
		p.metrics.MessageDropped(roleName, msg.Topic, observability.DropUnknownTopic)
	}
}

func (p *Platform) handleUmpireKey(ctx context.Context, msg bus.Message) {
	if p.machine.State() != session.Registered {
		p.log.Debug(ctx, "ignoring umpire key", logging.String("state", p.machine.State().String()))
		p.metrics.MessageDropped(roleName, msg.Topic, observability.DropWrongState)
		return
	}
	offer, err := protocol.DecodeKeyOffer(msg.Payload)
	if err == nil {
		err = p.keys.Exchange(offer.PublicKey)
	}
	p.metrics.KeyExchange(roleName, err)
	if err != nil {
		p.log.Warn(ctx, "key exchange failed, awaiting another umpire key",
			logging.String("topic", msg.Topic), logging.Err(err))
		p.metrics.MessageDropped(roleName, msg.Topic, observability.DropKeyExchange)
		return
	}
	if err := p.machine.KeysExchanged(); err != nil {
		p.log.Error(ctx, "session rejected key exchange", logging.Err(err))
		return
	}
	if err := p.machine.Run(); err != nil {
		p.log.Error(ctx, "session rejected run", logging.Err(err))
		return
	}
	// Announce once more so an umpire that missed the first offer learns
	// about this platform now that re-announcement stops.
	if err := p.announce(ctx); err != nil {
		p.log.Warn(ctx, "announce after key exchange failed", logging.Err(err))
	}
}

func (p *Platform) handleStatus(ctx context.Context, msg bus.Message) {
	st, err := protocol.DecodeStatus(msg.Payload)
	if err != nil {
		p.log.Warn(ctx, "dropping malformed status", logging.String("topic", msg.Topic), logging.Err(err))
		p.metrics.MessageDropped(roleName, msg.Topic, observability.DropMalformed)
		return
	}
	if !st.Authoritative || st.PlatformID != p.Identity.ID {
		return
	}
	p.state = st.State
	p.log.Debug(ctx, "adopted authoritative status",
		logging.Int("x", st.State.Location.X),
		logging.Int("y", st.State.Location.Y),
		logging.Int("hull", st.State.Hull),
	)
}

func (p *Platform) announce(ctx context.Context) error {
	reg := protocol.EncodeRegistration(protocol.Registration{Identity: p.Identity})
	if err := p.publish(ctx, protocol.TopicRegister, reg); err != nil {
		return err
	}
	offer := protocol.EncodeKeyOffer(protocol.KeyOffer{
		SenderID:  p.Identity.ID.String(),
		PublicKey: p.keys.PublicBytes(),
	})
	return p.publish(ctx, protocol.TopicPlatformPublicKey, offer)
}

func (p *Platform) publishStatus(ctx context.Context) {
	payload := protocol.EncodeStatus(protocol.Status{PlatformID: p.Identity.ID, State: p.state})
	if err := p.publish(ctx, protocol.TopicPlatformStatus, payload); err != nil {
		p.log.Warn(ctx, "status publish failed", logging.Err(err))
	}
}

func (p *Platform) flushOutbox(ctx context.Context) {
	for _, text := range p.outbox {
		if err := p.publish(ctx, protocol.TopicGeneral, protocol.EncodeText(text)); err != nil {
			p.log.Warn(ctx, "general publish failed", logging.Err(err))
		}
	}
	p.outbox = p.outbox[:0]
}

func (p *Platform) publish(ctx context.Context, topic string, payload []byte) error {
	if err := p.Bus.Publish(ctx, topic, payload); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	p.metrics.MessagePublished(roleName, topic)
	return nil
}
