package core

import (
	"math"

	"github.com/ewjax/SubBots/model"
)

// Advance moves s toward its ordered course, depth and speed over elapsed
// whole ticks, never exceeding the per-tick rates. It is pure: s is
// passed by value and the result is returned.
//
// The three axes are independent. Hull and Timestamp are left untouched;
// the caller stamps the snapshot when it takes it.
func Advance(s model.KinematicState, elapsed uint64) model.KinematicState {
	if elapsed == 0 {
		return s
	}
	ticks := float64(elapsed)
	s.Course = advanceCourse(s.Course, s.CourseOrdered, s.TurnRate*ticks)
	s.Depth = advanceDepth(s.Depth, s.DepthOrdered, s.DepthChangeRate*int(elapsed))
	s.Speed = advanceSpeed(s.Speed, s.SpeedOrdered, s.Acceleration*ticks)
	return s
}

func advanceCourse(course, ordered, maxTurn float64) float64 {
	delta := AngleDelta(course, ordered)
	if delta == 0 {
		return course
	}
	if math.Abs(delta) <= maxTurn {
		return NormalizeDegrees(ordered)
	}
	return NormalizeDegrees(course + math.Copysign(maxTurn, delta))
}

func advanceDepth(depth, ordered, maxChange int) int {
	next := depth
	delta := ordered - depth
	switch {
	case delta == 0:
	case delta <= maxChange && -delta <= maxChange:
		next = ordered
	case delta > 0:
		next = depth + maxChange
	default:
		next = depth - maxChange
	}
	// Cannot rise above the surface, whatever was ordered.
	if next < 0 {
		next = 0
	}
	return next
}

func advanceSpeed(speed, ordered, maxChange float64) float64 {
	next := speed
	delta := ordered - speed
	switch {
	case delta == 0:
	case math.Abs(delta) <= maxChange:
		next = ordered
	default:
		next = speed + math.Copysign(maxChange, delta)
	}
	if next < 0 {
		next = 0
	}
	return next
}
