package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	// HullIntact is the hull value of an undamaged platform.
	HullIntact = 100
	// HullDestroyed is the hull value of a sunk platform.
	HullDestroyed = 0

	// DefaultBaselineSoundLevel is the acoustic signature at all stop, in dB.
	DefaultBaselineSoundLevel = 50.0
)

// ErrInvalidState reports a KinematicState whose actual fields lie outside
// their domains.
var ErrInvalidState = errors.New("invalid kinematic state")

// KinematicState is a platform's full motion and status record.
//
// Actual fields (Course, Depth, Speed) always lie in their domains. Ordered
// fields are unconstrained targets; the convergence engine follows them
// until the actual value saturates at the domain boundary.
type KinematicState struct {
	Location Point

	Course        float64 // degrees [0,360)
	CourseOrdered float64 // degrees
	TurnRate      float64 // degrees per tick

	Depth           int // feet, 0 = surfaced
	DepthOrdered    int // feet
	DepthChangeRate int // feet per tick

	Speed        float64 // knots
	SpeedOrdered float64 // knots
	Acceleration float64 // knots per tick

	Timestamp time.Time

	Hull int // [0,100], 0 = destroyed
}

// DefaultKinematicState returns the starting record used for a new
// platform: surfaced, stopped, heading north with an intact hull.
func DefaultKinematicState() KinematicState {
	return KinematicState{
		TurnRate:        10.0,
		DepthChangeRate: 10,
		Acceleration:    5.0,
		Hull:            HullIntact,
	}
}

// Validate checks the domain of every actual field and the rates.
func (s KinematicState) Validate() error {
	switch {
	case s.Course < 0 || s.Course >= 360:
		return fmt.Errorf("%w: course %v outside [0,360)", ErrInvalidState, s.Course)
	case s.Depth < 0:
		return fmt.Errorf("%w: depth %d below surface", ErrInvalidState, s.Depth)
	case s.Speed < 0:
		return fmt.Errorf("%w: negative speed %v", ErrInvalidState, s.Speed)
	case s.Hull < HullDestroyed || s.Hull > HullIntact:
		return fmt.Errorf("%w: hull %d outside [0,100]", ErrInvalidState, s.Hull)
	case s.TurnRate <= 0 || s.DepthChangeRate <= 0 || s.Acceleration <= 0:
		return fmt.Errorf("%w: rates must be positive", ErrInvalidState)
	}
	return nil
}

// ApplyDamage removes points from the hull; negative points repair it.
// The hull is clamped into [0,100].
func (s *KinematicState) ApplyDamage(points int) {
	hull := s.Hull - points
	if hull < HullDestroyed {
		hull = HullDestroyed
	}
	if hull > HullIntact {
		hull = HullIntact
	}
	s.Hull = hull
}

// Destroyed reports whether the hull has reached zero.
func (s KinematicState) Destroyed() bool {
	return s.Hull <= HullDestroyed
}

// PlatformIdentity identifies a platform and its capabilities.
type PlatformIdentity struct {
	ID    uuid.UUID
	Roles Roles

	// BaselineSoundLevel is the acoustic signature at zero speed, in dB.
	BaselineSoundLevel float64
}

// NewPlatformIdentity assigns a fresh id to a validated role set.
func NewPlatformIdentity(roles Roles, baselineDB float64) (PlatformIdentity, error) {
	if err := roles.Validate(); err != nil {
		return PlatformIdentity{}, err
	}
	return PlatformIdentity{
		ID:                 uuid.New(),
		Roles:              roles,
		BaselineSoundLevel: baselineDB,
	}, nil
}

func (id PlatformIdentity) String() string {
	return fmt.Sprintf("%s(%s)", id.ID, id.Roles)
}
