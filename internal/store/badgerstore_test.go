package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/u-space/utm-core/geo"
	"github.com/u-space/utm-core/model"
)

func openTestBadger(t *testing.T, path string) *BadgerStore {
	t.Helper()
	s, err := OpenBadgerStore(path, geo.Planar{}, nil)
	if err != nil {
		t.Fatalf("OpenBadgerStore error: %v", err)
	}
	return s
}

func TestBadgerPersistsOperationsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s := openTestBadger(t, dir)
	op := testOp("op-1", model.StateAccepted, squareAt(0, 0))
	if err := s.CreateOperation(ctx, op); err != nil {
		t.Fatalf("CreateOperation error: %v", err)
	}
	if _, err := s.TransitionOperation(ctx, "op-1", model.StateActivated, "time window open"); err != nil {
		t.Fatalf("TransitionOperation error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	s = openTestBadger(t, dir)
	defer s.Close()

	got, err := s.GetOperation(ctx, "op-1")
	if err != nil {
		t.Fatalf("GetOperation after reopen error: %v", err)
	}
	if got.State != model.StateActivated {
		t.Fatalf("state after reopen = %s, want ACTIVATED", got.State)
	}
	if got.Comments != "time window open" {
		t.Fatalf("comment trail lost: %q", got.Comments)
	}
}

func TestBadgerPersistsReservationsAndRestricted(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s := openTestBadger(t, dir)
	uvr := &model.VolumeReservation{
		ID:                 "uvr-1",
		Type:               model.DynamicRestriction,
		EffectiveTimeBegin: testBegin,
		EffectiveTimeEnd:   testBegin.Add(time.Hour),
		MaxAltitude:        120,
		Footprint:          squareAt(0, 0),
	}
	if err := s.CreateReservation(ctx, uvr); err != nil {
		t.Fatalf("CreateReservation error: %v", err)
	}
	rfv := &model.RestrictedFlightVolume{
		ID:          "rfv-1",
		Reason:      "airport",
		MaxAltitude: 5000,
		Footprint:   squareAt(10, 10),
	}
	if err := s.CreateRestrictedVolume(ctx, rfv); err != nil {
		t.Fatalf("CreateRestrictedVolume error: %v", err)
	}
	if err := s.SoftDeleteReservation(ctx, "uvr-1"); err != nil {
		t.Fatalf("SoftDeleteReservation error: %v", err)
	}
	s.Close()

	s = openTestBadger(t, dir)
	defer s.Close()

	f := VolumeFilter{
		Time:      geo.TimeRange{Begin: testBegin, End: testBegin.Add(time.Hour)},
		Altitude:  geo.AltitudeRange{Min: 0, Max: 100},
		Footprint: squareAt(0.5, 0.5),
	}
	uvrs, err := s.ReservationsIntersecting(ctx, f)
	if err != nil {
		t.Fatalf("ReservationsIntersecting error: %v", err)
	}
	if len(uvrs) != 0 {
		t.Fatalf("soft delete not persisted: %d matches", len(uvrs))
	}

	rfvs, err := s.RestrictedVolumesIntersecting(ctx, geo.AltitudeRange{Min: 0, Max: 120}, squareAt(10.5, 10.5))
	if err != nil {
		t.Fatalf("RestrictedVolumesIntersecting error: %v", err)
	}
	if len(rfvs) != 1 || rfvs[0].ID != "rfv-1" {
		t.Fatalf("restricted volume not persisted: %#v", rfvs)
	}
}

func TestBadgerAtomicallyRollsBackIndex(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s := openTestBadger(t, dir)
	defer s.Close()

	boom := errors.New("boom")
	err := s.Atomically(ctx, func(tx Store) error {
		if err := tx.CreateOperation(ctx, testOp("lost", model.StateAccepted, squareAt(0, 0))); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Atomically returned %v, want boom", err)
	}
	if _, err := s.GetOperation(ctx, "lost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("aborted insert visible in index: %v", err)
	}
}

func TestBadgerJournalsPositionReports(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s := openTestBadger(t, dir)
	pr := &model.PositionReport{VehicleID: "drone-1", Altitude: 40, Timestamp: testBegin}
	if err := s.SavePositionReport(ctx, pr); err != nil {
		t.Fatalf("SavePositionReport error: %v", err)
	}
	s.Close()

	// Reopening must not choke on the journal keys.
	s = openTestBadger(t, dir)
	s.Close()
}
