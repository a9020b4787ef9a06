package model

import (
	"errors"
	"testing"
)

func TestRolesValidate(t *testing.T) {
	cases := []struct {
		roles Roles
		ok    bool
	}{
		{RoleSubmarine, true},
		{RoleSubmarine | RoleTorpedo, true},
		{RoleDecoy | RoleNoisemaker | RoleSurfaceShip, true},
		{0, false},
		{1 << 6, false},
		{RoleSubmarine | 1<<7, false},
	}
	for _, tc := range cases {
		err := tc.roles.Validate()
		if tc.ok && err != nil {
			t.Errorf("Validate(%v) = %v, want nil", tc.roles, err)
		}
		if !tc.ok && !errors.Is(err, ErrInvalidRoles) {
			t.Errorf("Validate(%#x) = %v, want ErrInvalidRoles", uint8(tc.roles), err)
		}
	}
}

func TestParseRoles(t *testing.T) {
	r, err := ParseRoles("decoy|Noisemaker", "surface_ship")
	if err != nil {
		t.Fatalf("ParseRoles: %v", err)
	}
	want := RoleDecoy | RoleNoisemaker | RoleSurfaceShip
	if r != want {
		t.Fatalf("ParseRoles = %v, want %v", r, want)
	}
	if got := r.String(); got != "decoy|noisemaker|surface_ship" {
		t.Fatalf("String() = %q", got)
	}

	if _, err := ParseRoles("battleship"); !errors.Is(err, ErrInvalidRoles) {
		t.Fatalf("unknown role error = %v", err)
	}
	if _, err := ParseRoles(""); !errors.Is(err, ErrInvalidRoles) {
		t.Fatalf("empty role error = %v", err)
	}
}
