package platform

import (
	"fmt"
	"strings"
)

// DumpState returns a human-readable snapshot of the platform for debug
// logging.
func (p *Platform) DumpState() string {
	var b strings.Builder
	s := p.state
	fmt.Fprintf(&b, "Platform %s (%s)\n", p.Identity.ID, p.Identity.Roles)
	fmt.Fprintf(&b, "  Session: %s, ticks: %d, key established: %t\n",
		p.machine.State(), p.clock.Ticks(), p.keys.Established())
	fmt.Fprintf(&b, "  Location: (%d, %d)\n", s.Location.X, s.Location.Y)
	fmt.Fprintf(&b, "  Course: %.1f -> %.1f (%.1f deg/tick)\n", s.Course, s.CourseOrdered, s.TurnRate)
	fmt.Fprintf(&b, "  Depth: %d -> %d (%d ft/tick)\n", s.Depth, s.DepthOrdered, s.DepthChangeRate)
	fmt.Fprintf(&b, "  Speed: %.1f -> %.1f (%.1f kts/tick)\n", s.Speed, s.SpeedOrdered, s.Acceleration)
	fmt.Fprintf(&b, "  Hull: %d\n", s.Hull)
	return b.String()
}
