package platform

import (
	"time"

	"github.com/ewjax/SubBots/core"
	"github.com/ewjax/SubBots/model"
)

// Helm is the decision hook's view of its platform for a single tick.
// Orders take effect from the next tick's convergence step.
type Helm struct {
	p    *Platform
	tick uint64
	now  time.Time
}

// Identity returns the platform identity.
func (h *Helm) Identity() model.PlatformIdentity { return h.p.Identity }

// State returns the kinematic state after this tick's convergence step.
func (h *Helm) State() model.KinematicState { return h.p.state }

// Tick returns the current tick number, starting at 1.
func (h *Helm) Tick() uint64 { return h.tick }

// Now returns the simulation time of this tick.
func (h *Helm) Now() time.Time { return h.now }

// OrderCourse sets the ordered course in degrees.
func (h *Helm) OrderCourse(deg float64) {
	h.p.state.CourseOrdered = core.NormalizeDegrees(deg)
}

// OrderDepth sets the ordered depth in feet. Targets above the surface are
// accepted; the actual depth saturates at 0.
func (h *Helm) OrderDepth(feet int) {
	h.p.state.DepthOrdered = feet
}

// OrderSpeed sets the ordered speed in knots.
func (h *Helm) OrderSpeed(knots float64) {
	h.p.state.SpeedOrdered = knots
}

// Say queues a general message published at the end of the tick.
func (h *Helm) Say(text string) {
	h.p.outbox = append(h.p.outbox, text)
}
