package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/u-space/utm-core/model"
)

func TestReservationDemotesOverlappingOperations(t *testing.T) {
	sched, s, _, n := newScheduler(t, DefaultConfig())
	ctx := context.Background()

	seedOp(t, s, "proposed", model.StateProposed, testNow, time.Hour, squareAt(0, 0))
	seedOp(t, s, "accepted", model.StateAccepted, testNow, time.Hour, squareAt(0.2, 0.2))
	seedOp(t, s, "flying", model.StateActivated, testNow, time.Hour, squareAt(0.4, 0.4))
	seedOp(t, s, "far", model.StateActivated, testNow, time.Hour, squareAt(50, 50))

	uvr := &model.VolumeReservation{
		ID:                 "uvr-1",
		Type:               model.DynamicRestriction,
		EffectiveTimeBegin: testNow,
		EffectiveTimeEnd:   testNow.Add(time.Hour),
		MaxAltitude:        120,
		Footprint:          squareAt(0, 0),
	}
	if err := sched.OnReservationCreated(ctx, uvr); err != nil {
		t.Fatalf("OnReservationCreated error: %v", err)
	}

	mustState(t, s, "proposed", model.StatePending)
	mustState(t, s, "accepted", model.StateClosed)
	mustState(t, s, "flying", model.StateRogue)
	mustState(t, s, "far", model.StateActivated)

	if len(n.states) != 3 {
		t.Fatalf("notifications = %v, want 3", n.states)
	}
}

func TestStaticAdvisoryTriggersNothing(t *testing.T) {
	sched, s, _, n := newScheduler(t, DefaultConfig())

	seedOp(t, s, "flying", model.StateActivated, testNow, time.Hour, squareAt(0, 0))

	uvr := &model.VolumeReservation{
		ID:                 "uvr-1",
		Type:               model.StaticAdvisory,
		EffectiveTimeBegin: testNow,
		EffectiveTimeEnd:   testNow.Add(time.Hour),
		MaxAltitude:        120,
		Footprint:          squareAt(0, 0),
	}
	if err := sched.OnReservationCreated(context.Background(), uvr); err != nil {
		t.Fatalf("OnReservationCreated error: %v", err)
	}

	mustState(t, s, "flying", model.StateActivated)
	if len(n.states) != 0 {
		t.Fatalf("advisory produced transitions: %v", n.states)
	}
}

func TestReservationScanIgnoresTimeDisjointOperations(t *testing.T) {
	sched, s, _, _ := newScheduler(t, DefaultConfig())

	seedOp(t, s, "tomorrow", model.StateAccepted, testNow.Add(24*time.Hour), time.Hour, squareAt(0, 0))

	uvr := &model.VolumeReservation{
		ID:                 "uvr-1",
		Type:               model.DynamicRestriction,
		EffectiveTimeBegin: testNow,
		EffectiveTimeEnd:   testNow.Add(time.Hour),
		MaxAltitude:        120,
		Footprint:          squareAt(0, 0),
	}
	if err := sched.OnReservationCreated(context.Background(), uvr); err != nil {
		t.Fatalf("OnReservationCreated error: %v", err)
	}
	mustState(t, s, "tomorrow", model.StateAccepted)
}

func TestRestrictedVolumeClosesEverythingOverlapping(t *testing.T) {
	sched, s, _, _ := newScheduler(t, DefaultConfig())
	ctx := context.Background()

	seedOp(t, s, "proposed", model.StateProposed, testNow, time.Hour, squareAt(0, 0))
	seedOp(t, s, "pending", model.StatePending, testNow, time.Hour, squareAt(0.2, 0.2))
	seedOp(t, s, "flying", model.StateActivated, testNow, time.Hour, squareAt(0.4, 0.4))
	// A restricted volume has no time bound; even a far-future operation in
	// its footprint is closed.
	seedOp(t, s, "tomorrow", model.StateAccepted, testNow.Add(24*time.Hour), time.Hour, squareAt(0.6, 0.6))

	rfv := &model.RestrictedFlightVolume{ID: "rfv-1", MaxAltitude: 5000, Footprint: squareAt(0, 0)}
	if err := sched.OnRestrictedVolumeCreated(ctx, rfv); err != nil {
		t.Fatalf("OnRestrictedVolumeCreated error: %v", err)
	}

	for _, gufi := range []string{"proposed", "pending", "flying", "tomorrow"} {
		mustState(t, s, gufi, model.StateClosed)
	}
}

func TestReactiveScanIsolatesPerOperationFailures(t *testing.T) {
	sched, s, _, n := newScheduler(t, DefaultConfig())
	ctx := context.Background()

	// A rogue operation has no ReservationTriggered edge and is skipped, not
	// failed.
	seedOp(t, s, "rogue", model.StateActivated, testNow, time.Hour, squareAt(0, 0))
	if _, err := s.TransitionOperation(ctx, "rogue", model.StateRogue, "test"); err != nil {
		t.Fatalf("TransitionOperation error: %v", err)
	}
	seedOp(t, s, "accepted", model.StateAccepted, testNow, time.Hour, squareAt(0.2, 0.2))

	uvr := &model.VolumeReservation{
		ID:                 "uvr-1",
		Type:               model.DynamicRestriction,
		EffectiveTimeBegin: testNow,
		EffectiveTimeEnd:   testNow.Add(time.Hour),
		MaxAltitude:        120,
		Footprint:          squareAt(0, 0),
	}
	if err := sched.OnReservationCreated(ctx, uvr); err != nil {
		t.Fatalf("OnReservationCreated error: %v", err)
	}

	mustState(t, s, "rogue", model.StateRogue)
	mustState(t, s, "accepted", model.StateClosed)
	if len(n.states) != 1 {
		t.Fatalf("notifications = %v, want only the accepted close", n.states)
	}
}
