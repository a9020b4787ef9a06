package umpire

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ewjax/SubBots/kb"
	"github.com/ewjax/SubBots/model"
)

// ScriptedScenario is a fixed orchestration: it places each platform once
// its handshake completes, broadcasts a contact summary every SummaryEvery
// ticks and ends the run after EndAfter ticks or Duration of simulated
// time, whichever comes first. Zero values disable the corresponding step.
type ScriptedScenario struct {
	SummaryEvery uint64
	EndAfter     uint64
	Duration     time.Duration
	// Spacing is the distance between starting positions along the x axis.
	Spacing int

	placed    map[uuid.UUID]bool
	scheduled bool
}

// ProcessTick implements Scenario.
func (s *ScriptedScenario) ProcessTick(ctx context.Context, ctl *Control) error {
	if s.Duration > 0 && !s.scheduled {
		ctl.At(ctl.Start().Add(s.Duration), func(_ context.Context, ctl *Control) {
			ctl.Shutdown()
		})
		s.scheduled = true
	}
	var errs []error
	if s.Spacing > 0 {
		errs = append(errs, s.place(ctx, ctl))
	}
	if s.SummaryEvery > 0 && ctl.Tick()%s.SummaryEvery == 0 {
		errs = append(errs, ctl.Broadcast(ctx, Summary(ctl.Tick(), ctl.Platforms())))
	}
	if s.EndAfter > 0 && ctl.Tick() >= s.EndAfter {
		ctl.Shutdown()
	}
	return errors.Join(errs...)
}

func (s *ScriptedScenario) place(ctx context.Context, ctl *Control) error {
	if s.placed == nil {
		s.placed = make(map[uuid.UUID]bool)
	}
	var errs []error
	for _, e := range ctl.Platforms() {
		if s.placed[e.Identity.ID] || e.SharedKey == nil {
			continue
		}
		state := model.DefaultKinematicState()
		if e.HasStatus {
			state = e.Status
		}
		state.Location = model.Point{X: len(s.placed) * s.Spacing}
		state.Timestamp = ctl.Now()
		if err := ctl.PublishStatus(ctx, e.Identity.ID, state); err != nil {
			errs = append(errs, fmt.Errorf("place %s: %w", e.Identity.ID, err))
			continue
		}
		s.placed[e.Identity.ID] = true
	}
	return errors.Join(errs...)
}

// Summary renders one line per platform with its closest contact.
func Summary(tick uint64, entries []kb.Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "tick %d: %d platform(s)", tick, len(entries))
	for _, e := range entries {
		fmt.Fprintf(&b, "\n%s %s", shortID(e.Identity.ID), e.Identity.Roles)
		if !e.HasStatus {
			b.WriteString(" no report")
			continue
		}
		s := e.Status
		fmt.Fprintf(&b, " at (%d,%d) crs %.0f spd %.1f dpt %d hull %d",
			s.Location.X, s.Location.Y, s.Course, s.Speed, s.Depth, s.Hull)
		if c, ok := closestContact(e, entries); ok {
			fmt.Fprintf(&b, " contact %s rng %.0f brg %s", shortID(c.id), c.rng, c.bearing)
		}
	}
	return b.String()
}

type contact struct {
	id      uuid.UUID
	rng     float64
	bearing string
}

func closestContact(self kb.Entry, entries []kb.Entry) (contact, bool) {
	var best contact
	found := false
	for _, other := range entries {
		if other.Identity.ID == self.Identity.ID || !other.HasStatus {
			continue
		}
		rng := self.Status.Location.DistanceTo(other.Status.Location)
		if found && rng >= best.rng {
			continue
		}
		bearing := "---"
		if brg, err := self.Status.Location.BearingTo(other.Status.Location); err == nil {
			bearing = fmt.Sprintf("%03.0f", brg)
		}
		best = contact{id: other.Identity.ID, rng: rng, bearing: bearing}
		found = true
	}
	return best, found
}

func shortID(id uuid.UUID) string { return id.String()[:8] }
