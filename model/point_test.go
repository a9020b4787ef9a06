package model

import (
	"errors"
	"math"
	"testing"
)

func TestDistanceTo(t *testing.T) {
	got := Point{0, 0}.DistanceTo(Point{3, 4})
	if got != 5.0 {
		t.Fatalf("DistanceTo = %v, want 5", got)
	}
}

func TestDistanceToSymmetricAndZero(t *testing.T) {
	pts := []Point{{0, 0}, {3, 4}, {-7, 2}, {100, -100}, {-1, -1}}
	for _, a := range pts {
		if d := a.DistanceTo(a); d != 0 {
			t.Fatalf("DistanceTo(%v, itself) = %v, want 0", a, d)
		}
		for _, b := range pts {
			ab, ba := a.DistanceTo(b), b.DistanceTo(a)
			if ab != ba {
				t.Fatalf("DistanceTo not symmetric for %v,%v: %v vs %v", a, b, ab, ba)
			}
			if ab < 0 {
				t.Fatalf("negative distance %v", ab)
			}
			if a != b && ab == 0 {
				t.Fatalf("distinct points %v,%v at zero range", a, b)
			}
		}
	}
}

func TestBearingToCompassPoints(t *testing.T) {
	origin := Point{0, 0}
	cases := []struct {
		to   Point
		want float64
	}{
		{Point{0, 5}, 0},
		{Point{5, 5}, 45},
		{Point{5, 0}, 90},
		{Point{5, -5}, 135},
		{Point{0, -5}, 180},
		{Point{-5, -5}, 225},
		{Point{-5, 0}, 270},
		{Point{-5, 5}, 315},
	}
	for _, tc := range cases {
		got, err := origin.BearingTo(tc.to)
		if err != nil {
			t.Fatalf("BearingTo(%v): %v", tc.to, err)
		}
		if math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("BearingTo(%v) = %v, want %v", tc.to, got, tc.want)
		}
		if got < 0 || got >= 360 {
			t.Errorf("BearingTo(%v) = %v outside [0,360)", tc.to, got)
		}
	}
}

func TestBearingToSelfIsSentinel(t *testing.T) {
	p := Point{4, -2}
	got, err := p.BearingTo(p)
	if !errors.Is(err, ErrSameLocation) {
		t.Fatalf("BearingTo(self) error = %v, want ErrSameLocation", err)
	}
	if got != BearingUndefined {
		t.Fatalf("BearingTo(self) = %v, want sentinel %v", got, BearingUndefined)
	}
}
