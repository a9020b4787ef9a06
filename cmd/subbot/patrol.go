package main

import (
	"context"
	"fmt"

	"github.com/ewjax/SubBots/internal/logging"
	"github.com/ewjax/SubBots/internal/platform"
)

// patrol steers a box pattern: hold depth and speed, turn right by 90
// degrees every LegTicks ticks, and report each new leg on the general
// topic.
type patrol struct {
	Depth    int
	Speed    float64
	LegTicks uint64
}

func (p *patrol) CommandAndControl(ctx context.Context, helm *platform.Helm) error {
	helm.OrderDepth(p.Depth)
	helm.OrderSpeed(p.Speed)
	if p.LegTicks == 0 || (helm.Tick()-1)%p.LegTicks != 0 {
		return nil
	}

	leg := (helm.Tick() - 1) / p.LegTicks
	course := float64(leg%4) * 90
	helm.OrderCourse(course)

	s := helm.State()
	logging.FromContext(ctx, nil).Debug(ctx, "new patrol leg",
		logging.Uint64("leg", leg),
		logging.Float("course", course),
	)
	helm.Say(fmt.Sprintf("%s leg %d course %03.0f from (%d,%d)",
		helm.Identity().ID.String()[:8], leg, course, s.Location.X, s.Location.Y))
	return nil
}
