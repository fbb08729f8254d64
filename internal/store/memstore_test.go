package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/u-space/utm-core/geo"
	"github.com/u-space/utm-core/model"
)

var testBegin = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func squareAt(lng, lat float64) geo.Polygon {
	return geo.Polygon{
		{Lng: lng, Lat: lat},
		{Lng: lng + 1, Lat: lat},
		{Lng: lng + 1, Lat: lat + 1},
		{Lng: lng, Lat: lat + 1},
	}
}

func testOp(gufi string, state model.OperationState, footprint geo.Polygon) *model.Operation {
	return &model.Operation{
		Gufi:  gufi,
		Owner: "operator-1",
		State: state,
		Volumes: []model.OperationVolume{{
			EffectiveTimeBegin: testBegin,
			EffectiveTimeEnd:   testBegin.Add(time.Hour),
			MinAltitude:        0,
			MaxAltitude:        120,
			Footprint:          footprint,
		}},
	}
}

func TestCreateAndGetOperation(t *testing.T) {
	s := NewMemStore(nil, nil)
	ctx := context.Background()

	op := testOp("op-1", model.StateAccepted, squareAt(0, 0))
	if err := s.CreateOperation(ctx, op); err != nil {
		t.Fatalf("CreateOperation error: %v", err)
	}

	got, err := s.GetOperation(ctx, "op-1")
	if err != nil {
		t.Fatalf("GetOperation error: %v", err)
	}
	if got.State != model.StateAccepted || len(got.Volumes) != 1 {
		t.Fatalf("GetOperation returned %#v", got)
	}

	// The returned copy must not alias store internals.
	got.Volumes[0].MaxAltitude = 999
	again, _ := s.GetOperation(ctx, "op-1")
	if again.Volumes[0].MaxAltitude == 999 {
		t.Fatalf("GetOperation leaked mutable internals")
	}
}

func TestCreateOperationDuplicate(t *testing.T) {
	s := NewMemStore(nil, nil)
	ctx := context.Background()

	op := testOp("op-1", model.StateAccepted, squareAt(0, 0))
	if err := s.CreateOperation(ctx, op); err != nil {
		t.Fatalf("first CreateOperation error: %v", err)
	}
	err := s.CreateOperation(ctx, testOp("op-1", model.StateProposed, squareAt(5, 5)))
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("duplicate create returned %v, want ErrAlreadyExists", err)
	}
}

func TestGetOperationNotFound(t *testing.T) {
	s := NewMemStore(nil, nil)
	if _, err := s.GetOperation(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetOperation returned %v, want ErrNotFound", err)
	}
}

func TestTransitionOperation(t *testing.T) {
	s := NewMemStore(nil, nil)
	ctx := context.Background()

	if err := s.CreateOperation(ctx, testOp("op-1", model.StateAccepted, squareAt(0, 0))); err != nil {
		t.Fatalf("CreateOperation error: %v", err)
	}

	updated, err := s.TransitionOperation(ctx, "op-1", model.StateActivated, "time window open")
	if err != nil {
		t.Fatalf("TransitionOperation error: %v", err)
	}
	if updated.State != model.StateActivated {
		t.Fatalf("state = %s, want ACTIVATED", updated.State)
	}
	if updated.Comments != "time window open" {
		t.Fatalf("comment trail = %q", updated.Comments)
	}

	_, err = s.TransitionOperation(ctx, "op-1", model.StateAccepted, "")
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("illegal edge returned %v, want ErrIllegalTransition", err)
	}
}

func TestListOperationsByState(t *testing.T) {
	s := NewMemStore(nil, nil)
	ctx := context.Background()

	for i, st := range []model.OperationState{model.StateProposed, model.StateAccepted, model.StateClosed} {
		op := testOp(fmt.Sprintf("op-%d", i), st, squareAt(float64(i*5), 0))
		if st == model.StateClosed {
			// A closed operation cannot be created through normal flow but the
			// store itself does not police initial state.
			op.State = model.StateClosed
		}
		if err := s.CreateOperation(ctx, op); err != nil {
			t.Fatalf("CreateOperation error: %v", err)
		}
	}

	got, err := s.ListOperationsByState(ctx, model.SweepStates...)
	if err != nil {
		t.Fatalf("ListOperationsByState error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("sweep states matched %d operations, want 2", len(got))
	}
}

func TestOperationsIntersecting(t *testing.T) {
	s := NewMemStore(nil, nil)
	ctx := context.Background()

	if err := s.CreateOperation(ctx, testOp("live", model.StateActivated, squareAt(0, 0))); err != nil {
		t.Fatalf("CreateOperation error: %v", err)
	}
	if err := s.CreateOperation(ctx, testOp("far", model.StateActivated, squareAt(50, 50))); err != nil {
		t.Fatalf("CreateOperation error: %v", err)
	}
	closed := testOp("closed", model.StateClosed, squareAt(0, 0))
	if err := s.CreateOperation(ctx, closed); err != nil {
		t.Fatalf("CreateOperation error: %v", err)
	}

	f := VolumeFilter{
		Time:      geo.TimeRange{Begin: testBegin, End: testBegin.Add(time.Hour)},
		Altitude:  geo.AltitudeRange{Min: 0, Max: 100},
		Footprint: squareAt(0.5, 0.5),
	}
	got, err := s.OperationsIntersecting(ctx, f, model.LiveStates, "")
	if err != nil {
		t.Fatalf("OperationsIntersecting error: %v", err)
	}
	if len(got) != 1 || got[0].Gufi != "live" {
		t.Fatalf("OperationsIntersecting = %v, want [live]", gufis(got))
	}

	// Excluding the only match empties the result.
	got, err = s.OperationsIntersecting(ctx, f, model.LiveStates, "live")
	if err != nil {
		t.Fatalf("OperationsIntersecting error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("exclusion ignored: %v", gufis(got))
	}

	// A time-disjoint filter misses even a spatially overlapping operation.
	f.Time = geo.TimeRange{Begin: testBegin.Add(3 * time.Hour), End: testBegin.Add(4 * time.Hour)}
	got, err = s.OperationsIntersecting(ctx, f, model.LiveStates, "")
	if err != nil {
		t.Fatalf("OperationsIntersecting error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("time-disjoint filter matched %v", gufis(got))
	}
}

func TestActivatedOperationsAt(t *testing.T) {
	s := NewMemStore(nil, nil)
	ctx := context.Background()

	if err := s.CreateOperation(ctx, testOp("flying", model.StateActivated, squareAt(0, 0))); err != nil {
		t.Fatalf("CreateOperation error: %v", err)
	}
	if err := s.CreateOperation(ctx, testOp("waiting", model.StateAccepted, squareAt(0, 0))); err != nil {
		t.Fatalf("CreateOperation error: %v", err)
	}

	got, err := s.ActivatedOperationsAt(ctx, geo.Point{Lng: 0.5, Lat: 0.5}, 60, testBegin.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("ActivatedOperationsAt error: %v", err)
	}
	if len(got) != 1 || got[0].Gufi != "flying" {
		t.Fatalf("ActivatedOperationsAt = %v, want [flying]", gufis(got))
	}

	// Outside the altitude window.
	got, err = s.ActivatedOperationsAt(ctx, geo.Point{Lng: 0.5, Lat: 0.5}, 500, testBegin.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("ActivatedOperationsAt error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("altitude miss matched %v", gufis(got))
	}
}

func TestReservationSoftDelete(t *testing.T) {
	s := NewMemStore(nil, nil)
	ctx := context.Background()

	r := &model.VolumeReservation{
		ID:                 "uvr-1",
		Type:               model.DynamicRestriction,
		EffectiveTimeBegin: testBegin,
		EffectiveTimeEnd:   testBegin.Add(time.Hour),
		MinAltitude:        0,
		MaxAltitude:        120,
		Footprint:          squareAt(0, 0),
	}
	if err := s.CreateReservation(ctx, r); err != nil {
		t.Fatalf("CreateReservation error: %v", err)
	}

	f := VolumeFilter{
		Time:      geo.TimeRange{Begin: testBegin, End: testBegin.Add(time.Hour)},
		Altitude:  geo.AltitudeRange{Min: 0, Max: 100},
		Footprint: squareAt(0.5, 0.5),
	}
	got, err := s.ReservationsIntersecting(ctx, f)
	if err != nil {
		t.Fatalf("ReservationsIntersecting error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 reservation, got %d", len(got))
	}

	if err := s.SoftDeleteReservation(ctx, "uvr-1"); err != nil {
		t.Fatalf("SoftDeleteReservation error: %v", err)
	}
	got, err = s.ReservationsIntersecting(ctx, f)
	if err != nil {
		t.Fatalf("ReservationsIntersecting error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("soft-deleted reservation still matches")
	}

	if err := s.SoftDeleteReservation(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("SoftDeleteReservation(missing) = %v, want ErrNotFound", err)
	}
}

func TestRestrictedVolumeQueriesIgnoreTime(t *testing.T) {
	s := NewMemStore(nil, nil)
	ctx := context.Background()

	r := &model.RestrictedFlightVolume{
		ID:          "rfv-1",
		Reason:      "airport",
		MinAltitude: 0,
		MaxAltitude: 5000,
		Footprint:   squareAt(0, 0),
	}
	if err := s.CreateRestrictedVolume(ctx, r); err != nil {
		t.Fatalf("CreateRestrictedVolume error: %v", err)
	}

	got, err := s.RestrictedVolumesIntersecting(ctx, geo.AltitudeRange{Min: 0, Max: 120}, squareAt(0.5, 0.5))
	if err != nil {
		t.Fatalf("RestrictedVolumesIntersecting error: %v", err)
	}
	if len(got) != 1 || got[0].ID != "rfv-1" {
		t.Fatalf("RestrictedVolumesIntersecting = %#v", got)
	}

	if err := s.SoftDeleteRestrictedVolume(ctx, "rfv-1"); err != nil {
		t.Fatalf("SoftDeleteRestrictedVolume error: %v", err)
	}
	got, err = s.RestrictedVolumesIntersecting(ctx, geo.AltitudeRange{Min: 0, Max: 120}, squareAt(0.5, 0.5))
	if err != nil {
		t.Fatalf("RestrictedVolumesIntersecting error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("soft-deleted restricted volume still matches")
	}
}

func TestAtomicallyCommitsAndRollsBack(t *testing.T) {
	s := NewMemStore(nil, nil)
	ctx := context.Background()

	err := s.Atomically(ctx, func(tx Store) error {
		return tx.CreateOperation(ctx, testOp("kept", model.StateAccepted, squareAt(0, 0)))
	})
	if err != nil {
		t.Fatalf("Atomically commit error: %v", err)
	}
	if _, err := s.GetOperation(ctx, "kept"); err != nil {
		t.Fatalf("committed operation missing: %v", err)
	}

	boom := errors.New("boom")
	err = s.Atomically(ctx, func(tx Store) error {
		if err := tx.CreateOperation(ctx, testOp("lost", model.StateAccepted, squareAt(5, 5))); err != nil {
			return err
		}
		if _, err := tx.TransitionOperation(ctx, "kept", model.StateActivated, ""); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Atomically returned %v, want boom", err)
	}

	if _, err := s.GetOperation(ctx, "lost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("rolled-back insert survived: %v", err)
	}
	kept, err := s.GetOperation(ctx, "kept")
	if err != nil {
		t.Fatalf("GetOperation error: %v", err)
	}
	if kept.State != model.StateAccepted {
		t.Fatalf("rolled-back transition survived: state=%s", kept.State)
	}
}

func TestAtomicallyEvaluateThenInsert(t *testing.T) {
	// The admission pattern: query for conflicts and insert in one unit.
	s := NewMemStore(nil, nil)
	ctx := context.Background()

	f := VolumeFilter{
		Time:      geo.TimeRange{Begin: testBegin, End: testBegin.Add(time.Hour)},
		Altitude:  geo.AltitudeRange{Min: 0, Max: 120},
		Footprint: squareAt(0, 0),
	}
	err := s.Atomically(ctx, func(tx Store) error {
		ops, err := tx.OperationsIntersecting(ctx, f, model.LiveStates, "")
		if err != nil {
			return err
		}
		if len(ops) != 0 {
			t.Fatalf("unexpected conflicts: %v", gufis(ops))
		}
		return tx.CreateOperation(ctx, testOp("first", model.StateActivated, squareAt(0, 0)))
	})
	if err != nil {
		t.Fatalf("Atomically error: %v", err)
	}

	// A second evaluation now sees the committed volume.
	ops, err := s.OperationsIntersecting(ctx, f, model.LiveStates, "")
	if err != nil {
		t.Fatalf("OperationsIntersecting error: %v", err)
	}
	if len(ops) != 1 || ops[0].Gufi != "first" {
		t.Fatalf("committed volume not visible: %v", gufis(ops))
	}
}

func TestSavePositionReport(t *testing.T) {
	s := NewMemStore(nil, nil)
	ctx := context.Background()

	pr := &model.PositionReport{VehicleID: "drone-1", Altitude: 50, Timestamp: testBegin}
	if err := s.SavePositionReport(ctx, pr); err != nil {
		t.Fatalf("SavePositionReport error: %v", err)
	}
	if err := s.SavePositionReport(ctx, nil); err == nil {
		t.Fatalf("nil report accepted")
	}
}

func gufis(ops []*model.Operation) []string {
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = op.Gufi
	}
	return out
}
