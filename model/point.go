package model

import (
	"errors"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// BearingUndefined is returned by BearingTo when the two points coincide.
// It lies outside [0,360) so it can never be mistaken for a real bearing.
const BearingUndefined = -1.0

// ErrSameLocation reports a bearing request between coincident points.
var ErrSameLocation = errors.New("bearing undefined between coincident points")

// Point is a cartesian location: x increases west to east, y increases
// south to north.
type Point struct {
	X int
	Y int
}

// DistanceTo returns the straight-line range from p to other.
func (p Point) DistanceTo(other Point) float64 {
	return planar.Distance(p.orb(), other.orb())
}

// BearingTo returns the compass bearing from p to other in [0,360), with 0
// meaning north and bearings increasing clockwise.
func (p Point) BearingTo(other Point) (float64, error) {
	if p == other {
		return BearingUndefined, ErrSameLocation
	}
	dx := float64(other.X - p.X)
	dy := float64(other.Y - p.Y)

	deg := math.Atan2(dx, dy) * 180.0 / math.Pi
	deg = math.Mod(deg, 360.0)
	if deg < 0 {
		deg += 360.0
	}
	if deg >= 360.0 {
		deg = 0
	}
	return deg, nil
}

func (p Point) orb() orb.Point {
	return orb.Point{float64(p.X), float64(p.Y)}
}
