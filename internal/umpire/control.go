package umpire

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ewjax/SubBots/internal/logging"
	"github.com/ewjax/SubBots/internal/protocol"
	"github.com/ewjax/SubBots/kb"
	"github.com/ewjax/SubBots/model"
)

// Control is the scenario's handle on the umpire for a single tick.
type Control struct {
	u        *Umpire
	ctx      context.Context
	tick     uint64
	now      time.Time
	shutdown bool
}

// Tick returns the current tick number, starting at 1.
func (c *Control) Tick() uint64 { return c.tick }

// Now returns the authoritative simulation time of this tick.
func (c *Control) Now() time.Time { return c.now }

// Start returns the simulation start time.
func (c *Control) Start() time.Time { return c.u.clock.StartTime }

// At schedules fn for a later tick whose time has reached at. Due actions
// run before the scenario step of that tick and receive its Control.
func (c *Control) At(at time.Time, fn func(ctx context.Context, ctl *Control)) string {
	u := c.u
	return u.scheduler.Schedule(at, func() {
		if cur := u.current; cur != nil {
			fn(cur.ctx, cur)
		}
	})
}

// After schedules fn d of simulated time after this tick.
func (c *Control) After(d time.Duration, fn func(ctx context.Context, ctl *Control)) string {
	return c.At(c.now.Add(d), fn)
}

// Cancel drops a scheduled action.
func (c *Control) Cancel(id string) { c.u.scheduler.Cancel(id) }

// Platforms returns the registry snapshot ordered by platform id.
func (c *Control) Platforms() []kb.Entry { return c.u.Registry.List() }

// Platform returns one registry entry.
func (c *Control) Platform(id uuid.UUID) (kb.Entry, bool) { return c.u.Registry.Get(id) }

// PublishStatus broadcasts an authoritative snapshot for a registered
// platform and records it in the registry. A zero timestamp is stamped
// with the tick time.
func (c *Control) PublishStatus(ctx context.Context, id uuid.UUID, state model.KinematicState) error {
	if err := state.Validate(); err != nil {
		return err
	}
	if state.Timestamp.IsZero() {
		state.Timestamp = c.now
	}
	if err := c.u.Registry.UpdateStatus(id, state, c.now); err != nil {
		return err
	}
	payload := protocol.EncodeStatus(protocol.Status{PlatformID: id, Authoritative: true, State: state})
	return c.u.publish(ctx, protocol.TopicPlatformStatus, payload)
}

// Broadcast publishes a general text message.
func (c *Control) Broadcast(ctx context.Context, text string) error {
	return c.u.publish(ctx, protocol.TopicGeneral, protocol.EncodeText(text))
}

// Shutdown ends the run. The session enters ShuttingDown at once; a disco
// is broadcast when the tick finishes and the loop exits before the next
// tick.
func (c *Control) Shutdown() {
	c.shutdown = true
	if err := c.u.machine.Shutdown(); err != nil {
		c.u.log.Warn(c.ctx, "session rejected shutdown", logging.Err(err))
	}
}
