package core

import "math"

// NormalizeDegrees wraps an angle into [0,360).
func NormalizeDegrees(deg float64) float64 {
	deg = math.Mod(deg, 360.0)
	if deg < 0 {
		deg += 360.0
	}
	// Mod of a tiny negative value can round up to exactly 360.
	if deg >= 360.0 {
		deg = 0
	}
	return deg
}

// AngleDelta returns the signed shortest-arc turn from "from" to "to", in
// (-180,180]. Positive values are clockwise (starboard) turns.
func AngleDelta(from, to float64) float64 {
	d := NormalizeDegrees(to - from)
	if d > 180.0 {
		d -= 360.0
	}
	return d
}
