package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidRoles reports an empty role set or one carrying unknown bits.
var ErrInvalidRoles = errors.New("invalid platform roles")

// Roles is the set of capability roles a platform holds. A platform may
// hold several roles at once (a decoy that is also a noisemaker).
type Roles uint8

const (
	RoleSubmarine Roles = 1 << iota
	RoleTorpedo
	RoleDecoy
	RoleNoisemaker
	RoleSurfaceShip

	allRoles = RoleSubmarine | RoleTorpedo | RoleDecoy | RoleNoisemaker | RoleSurfaceShip
)

var roleNames = []struct {
	role Roles
	name string
}{
	{RoleSubmarine, "submarine"},
	{RoleTorpedo, "torpedo"},
	{RoleDecoy, "decoy"},
	{RoleNoisemaker, "noisemaker"},
	{RoleSurfaceShip, "surface_ship"},
}

// Has reports whether every role in want is present in r.
func (r Roles) Has(want Roles) bool {
	return want != 0 && r&want == want
}

// Validate checks that r names at least one role and only known roles.
func (r Roles) Validate() error {
	if r == 0 {
		return fmt.Errorf("%w: empty set", ErrInvalidRoles)
	}
	if unknown := r &^ allRoles; unknown != 0 {
		return fmt.Errorf("%w: unknown bits %#x", ErrInvalidRoles, uint8(unknown))
	}
	return nil
}

func (r Roles) String() string {
	if r == 0 {
		return "none"
	}
	var parts []string
	for _, rn := range roleNames {
		if r&rn.role != 0 {
			parts = append(parts, rn.name)
		}
	}
	if unknown := r &^ allRoles; unknown != 0 {
		parts = append(parts, fmt.Sprintf("%#x", uint8(unknown)))
	}
	return strings.Join(parts, "|")
}

// ParseRoles builds a role set from names such as "submarine" or
// "decoy|noisemaker". Names may be separated by '|' or ','.
func ParseRoles(names ...string) (Roles, error) {
	var r Roles
	for _, raw := range names {
		for _, name := range strings.FieldsFunc(raw, func(c rune) bool { return c == '|' || c == ',' }) {
			name = strings.ToLower(strings.TrimSpace(name))
			found := false
			for _, rn := range roleNames {
				if rn.name == name {
					r |= rn.role
					found = true
					break
				}
			}
			if !found {
				return 0, fmt.Errorf("%w: unknown role %q", ErrInvalidRoles, name)
			}
		}
	}
	if err := r.Validate(); err != nil {
		return 0, err
	}
	return r, nil
}
