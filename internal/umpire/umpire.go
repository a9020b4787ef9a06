// Package umpire runs the authoritative coordinator: it answers platform
// handshakes, keeps the registry of last reported snapshots, drives the
// simulation clock and hands each tick to a pluggable Scenario.
package umpire

import (
	"context"
	"crypto/ecdh"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ewjax/SubBots/internal/bus"
	"github.com/ewjax/SubBots/internal/config"
	"github.com/ewjax/SubBots/internal/keyexchange"
	"github.com/ewjax/SubBots/internal/logging"
	"github.com/ewjax/SubBots/internal/observability"
	"github.com/ewjax/SubBots/internal/protocol"
	"github.com/ewjax/SubBots/internal/session"
	"github.com/ewjax/SubBots/kb"
	"github.com/ewjax/SubBots/timectrl"
)

const roleName = "umpire"

const (
	// pendingKeyTicks is how long a key offer without a registration is
	// kept before it is discarded.
	pendingKeyTicks = 50
	// maxPendingKeys bounds the parked offers; the oldest is evicted first.
	maxPendingKeys = 256
)

// parkedKey is a shared key derived before its platform registered.
type parkedKey struct {
	key  []byte
	tick uint64
}

var (
	// ErrNoScenario is returned by New when no scenario is supplied.
	ErrNoScenario = errors.New("umpire: scenario is required")
	// ErrConnect wraps a failed bus connection. It is fatal for the process.
	ErrConnect = errors.New("umpire: bus connection failed")
)

// Scenario is the orchestration step run once per tick after all pending
// messages have been applied to the registry.
type Scenario interface {
	ProcessTick(ctx context.Context, ctl *Control) error
}

// ScenarioFunc adapts a function to Scenario.
type ScenarioFunc func(ctx context.Context, ctl *Control) error

// ProcessTick calls f.
func (f ScenarioFunc) ProcessTick(ctx context.Context, ctl *Control) error {
	return f(ctx, ctl)
}

// Options carries the optional collaborators of an Umpire.
type Options struct {
	Logger  logging.Logger
	Metrics *observability.SimCollector
	// Registry is shared with callers that want to observe it; a fresh one
	// is created when nil.
	Registry *kb.KnowledgeBase
	// Start is the simulation start time; zero means time.Now.
	Start time.Time
}

// Umpire owns the registry and the authoritative clock.
type Umpire struct {
	// Dependencies
	Bus      bus.Bus
	Scenario Scenario
	Sim      config.SimulationConfig
	Registry *kb.KnowledgeBase

	// Internal state
	private     *ecdh.PrivateKey
	machine     *session.Machine
	clock       *timectrl.TimeController
	scheduler   *timectrl.Scheduler
	current     *Control
	pendingKeys map[uuid.UUID]parkedKey
	stopping    bool
	discoSent   bool

	log     logging.Logger
	metrics *observability.SimCollector
}

// New builds an umpire in the Disconnected state with a fresh keypair.
func New(b bus.Bus, scenario Scenario, sim config.SimulationConfig, opts Options) (*Umpire, error) {
	if scenario == nil {
		return nil, ErrNoScenario
	}
	if b == nil {
		return nil, errors.New("umpire: bus is required")
	}
	if sim.PollInterval <= 0 {
		return nil, fmt.Errorf("umpire: %w: poll interval must be positive", config.ErrInvalidConfig)
	}
	priv, err := keyexchange.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("umpire: %w", err)
	}

	start := opts.Start
	if start.IsZero() {
		start = time.Now()
	}
	mode := timectrl.Accelerated
	if sim.IsRealTime() {
		mode = timectrl.RealTime
	}
	registry := opts.Registry
	if registry == nil {
		registry = kb.NewKnowledgeBase()
	}
	base := opts.Logger
	if base == nil {
		base = logging.Noop()
	}

	clock := timectrl.NewTimeController(start, sim.TickInterval, mode)
	u := &Umpire{
		Bus:         b,
		Scenario:    scenario,
		Sim:         sim,
		Registry:    registry,
		private:     priv,
		machine:     session.NewMachine(session.RoleUmpire),
		clock:       clock,
		scheduler:   timectrl.NewScheduler(clock),
		pendingKeys: make(map[uuid.UUID]parkedKey),
		log:         logging.ForParticipant(base, roleName, protocol.UmpireSenderID),
		metrics:     opts.Metrics,
	}
	// Due actions fire as soon as the clock reaches them, inside the tick
	// whose Control is current.
	clock.AddListener(func(now time.Time) {
		if u.current != nil {
			u.current.now = now
		}
		u.scheduler.RunDue()
	})
	u.machine.OnTransition(func(from, to session.State) {
		u.log.Info(context.Background(), "session transition",
			logging.String("from", from.String()),
			logging.String("to", to.String()),
		)
		u.metrics.SetSessionState(roleName, int(to))
	})
	return u, nil
}

// SessionState returns the session lifecycle state.
func (u *Umpire) SessionState() session.State { return u.machine.State() }

// Clock exposes the authoritative simulation clock.
func (u *Umpire) Clock() timectrl.SimClock { return u.clock }

// Ticks returns the number of completed ticks.
func (u *Umpire) Ticks() uint64 { return u.clock.Ticks() }

// PublicKey returns the encoded public key offered to platforms.
func (u *Umpire) PublicKey() []byte { return u.private.PublicKey().Bytes() }

// Run connects and drives the tick loop until the scenario requests a
// shutdown or ctx is cancelled. Either way a disco is broadcast, the
// in-flight tick completes and the bus is released. A failed connection
// returns an error wrapping ErrConnect.
func (u *Umpire) Run(ctx context.Context) error {
	if err := u.start(ctx); err != nil {
		return err
	}
	defer u.clock.Stop()

	for !u.stopping && ctx.Err() == nil {
		u.tick(ctx)
		if !u.stopping {
			// Cancellation is observed at the top of the loop.
			_ = u.clock.Pace(ctx)
		}
	}
	return u.release(context.WithoutCancel(ctx))
}

func (u *Umpire) start(ctx context.Context) error {
	if err := u.Bus.Connect(ctx); err != nil {
		u.log.Error(ctx, "bus connection failed", logging.Err(err))
		return fmt.Errorf("%w: %w", ErrConnect, err)
	}
	if err := u.machine.Connect(); err != nil {
		return err
	}
	if err := u.Bus.Subscribe(ctx, protocol.UmpireTopics()...); err != nil {
		_ = u.Bus.Disconnect()
		return fmt.Errorf("%w: subscribe: %w", ErrConnect, err)
	}
	if err := u.machine.Run(); err != nil {
		return err
	}
	// Platforms that registered before the umpire came up complete their
	// handshake on this first offer.
	if err := u.offerKey(ctx); err != nil {
		u.log.Warn(ctx, "initial key offer failed", logging.Err(err))
	}
	return nil
}

func (u *Umpire) release(ctx context.Context) error {
	if !u.discoSent {
		u.broadcastDisco(ctx)
	}
	if err := u.machine.Shutdown(); err != nil {
		return err
	}
	busErr := u.Bus.Disconnect()
	if err := u.machine.Disconnect(); err != nil {
		return err
	}
	if busErr != nil && !errors.Is(busErr, bus.ErrNotConnected) {
		return fmt.Errorf("umpire: disconnect: %w", busErr)
	}
	return nil
}

// tick drains every pending message into the registry, advances the clock,
// runs due scheduled actions and then the scenario.
func (u *Umpire) tick(ctx context.Context) {
	began := time.Now()
	tickNo := u.clock.Ticks() + 1
	ctx, span := observability.StartTick(ctx, roleName, tickNo, u.machine.State().String())
	defer span.End()

	// Cancellation only cuts the poll short; the rest of the tick completes.
	detached := context.WithoutCancel(ctx)

	msgs, err := u.Bus.Poll(ctx, u.Sim.PollInterval)
	if err != nil && ctx.Err() == nil {
		u.log.Warn(ctx, "poll failed", logging.Err(err))
	}
	for _, msg := range msgs {
		u.handle(detached, msg)
	}
	u.expirePendingKeys(detached, tickNo)

	ctl := &Control{u: u, ctx: detached, tick: tickNo}
	u.current = ctl
	u.clock.Advance()
	if err := u.Scenario.ProcessTick(detached, ctl); err != nil {
		u.log.Warn(detached, "scenario failed", logging.Uint64("tick", tickNo), logging.Err(err))
	}
	u.current = nil
	if ctl.shutdown {
		u.broadcastDisco(detached)
		u.stopping = true
	}

	u.metrics.TickCompleted(roleName, time.Since(began))
}

func (u *Umpire) handle(ctx context.Context, msg bus.Message) {
	u.metrics.MessageReceived(roleName, msg.Topic)
	switch msg.Topic {
	case protocol.TopicRegister:
		u.handleRegister(ctx, msg)
	case protocol.TopicPlatformPublicKey:
		u.handleKeyOffer(ctx, msg)
	case protocol.TopicPlatformStatus:
		u.handleStatus(ctx, msg)
	case protocol.TopicGeneral:
		text, ok := protocol.DecodeText(msg.Payload)
		if !ok {
			u.log.Warn(ctx, "general message is not text", logging.String("raw", text))
			return
		}
		u.log.Info(ctx, "general message", logging.String("text", text))
	default:
		text, _ := protocol.DecodeText(msg.Payload)
		u.log.Warn(ctx, "message on unknown topic", logging.String("topic", msg.Topic), logging.String("raw", text))
		u.metrics.MessageDropped(roleName, msg.Topic, observability.DropUnknownTopic)
	}
}

func (u *Umpire) handleRegister(ctx context.Context, msg bus.Message) {
	reg, err := protocol.DecodeRegistration(msg.Payload)
	if err != nil {
		u.log.Warn(ctx, "dropping malformed registration", logging.String("topic", msg.Topic), logging.Err(err))
		u.metrics.MessageDropped(roleName, msg.Topic, observability.DropMalformed)
		return
	}
	id := reg.Identity.ID
	_, known := u.Registry.Get(id)
	if err := u.Registry.Register(reg.Identity, u.clock.Now()); err != nil {
		u.log.Warn(ctx, "registration rejected", logging.Err(err))
		return
	}
	if !known {
		u.log.Info(ctx, "platform registered",
			logging.String("platform_id", id.String()),
			logging.String("roles", reg.Identity.Roles.String()),
		)
	}
	if parked, ok := u.pendingKeys[id]; ok {
		delete(u.pendingKeys, id)
		_ = u.Registry.SetSharedKey(id, parked.key)
	}
	u.metrics.SetRegisteredPlatforms(u.Registry.Count())
}

func (u *Umpire) handleKeyOffer(ctx context.Context, msg bus.Message) {
	offer, err := protocol.DecodeKeyOffer(msg.Payload)
	var id uuid.UUID
	if err == nil {
		id, err = uuid.Parse(offer.SenderID)
	}
	if err != nil {
		u.log.Warn(ctx, "dropping malformed key offer", logging.String("topic", msg.Topic), logging.Err(err))
		u.metrics.MessageDropped(roleName, msg.Topic, observability.DropMalformed)
		return
	}

	key, err := keyexchange.DeriveSharedKey(u.private, offer.PublicKey)
	u.metrics.KeyExchange(roleName, err)
	if err != nil {
		u.log.Warn(ctx, "key exchange failed",
			logging.String("platform_id", id.String()), logging.Err(err))
		u.metrics.MessageDropped(roleName, msg.Topic, observability.DropKeyExchange)
		return
	}

	// Registration and key offer travel on different topics, so the offer
	// may arrive first.
	if err := u.Registry.SetSharedKey(id, key); errors.Is(err, kb.ErrUnknownPlatform) {
		u.parkKey(id, key)
	}
	if err := u.offerKey(ctx); err != nil {
		u.log.Warn(ctx, "key answer failed", logging.Err(err))
	}
}

func (u *Umpire) parkKey(id uuid.UUID, key []byte) {
	if _, ok := u.pendingKeys[id]; !ok && len(u.pendingKeys) >= maxPendingKeys {
		var oldest uuid.UUID
		var oldestTick uint64
		first := true
		for pid, parked := range u.pendingKeys {
			if first || parked.tick < oldestTick {
				oldest, oldestTick, first = pid, parked.tick, false
			}
		}
		delete(u.pendingKeys, oldest)
	}
	u.pendingKeys[id] = parkedKey{key: key, tick: u.clock.Ticks() + 1}
}

func (u *Umpire) expirePendingKeys(ctx context.Context, tick uint64) {
	for id, parked := range u.pendingKeys {
		if tick-parked.tick >= pendingKeyTicks {
			delete(u.pendingKeys, id)
			u.log.Debug(ctx, "discarding key offer from unregistered platform",
				logging.String("platform_id", id.String()))
		}
	}
}

func (u *Umpire) handleStatus(ctx context.Context, msg bus.Message) {
	st, err := protocol.DecodeStatus(msg.Payload)
	if err != nil {
		u.log.Warn(ctx, "dropping malformed status", logging.String("topic", msg.Topic), logging.Err(err))
		u.metrics.MessageDropped(roleName, msg.Topic, observability.DropMalformed)
		return
	}
	if st.Authoritative {
		return
	}
	if err := u.Registry.UpdateStatus(st.PlatformID, st.State, u.clock.Now()); err != nil {
		u.log.Debug(ctx, "status from unregistered platform", logging.String("platform_id", st.PlatformID.String()))
		u.metrics.MessageDropped(roleName, msg.Topic, observability.DropUnregistered)
	}
}

func (u *Umpire) offerKey(ctx context.Context) error {
	payload := protocol.EncodeKeyOffer(protocol.KeyOffer{
		SenderID:  protocol.UmpireSenderID,
		PublicKey: u.PublicKey(),
	})
	return u.publish(ctx, protocol.TopicUmpirePublicKey, payload)
}

func (u *Umpire) broadcastDisco(ctx context.Context) {
	if err := u.publish(ctx, protocol.TopicDisco, nil); err != nil {
		u.log.Warn(ctx, "disco broadcast failed", logging.Err(err))
		return
	}
	u.discoSent = true
	u.log.Info(ctx, "shutdown broadcast sent", logging.Uint64("tick", u.clock.Ticks()))
}

func (u *Umpire) publish(ctx context.Context, topic string, payload []byte) error {
	if err := u.Bus.Publish(ctx, topic, payload); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	u.metrics.MessagePublished(roleName, topic)
	return nil
}
