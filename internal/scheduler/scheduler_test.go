package scheduler

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/u-space/utm-core/geo"
	"github.com/u-space/utm-core/internal/clock"
	"github.com/u-space/utm-core/internal/store"
	"github.com/u-space/utm-core/model"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeNotifier struct {
	mu     sync.Mutex
	states []string
	admin  []string
}

func (f *fakeNotifier) NotifyStateChange(_ context.Context, gufi string, _, newState model.OperationState, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, gufi+":"+string(newState))
	return nil
}

func (f *fakeNotifier) NotifyAdmin(_ context.Context, subject, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.admin = append(f.admin, subject)
	return nil
}

func squareAt(lng, lat float64) geo.Polygon {
	return geo.Polygon{
		{Lng: lng, Lat: lat},
		{Lng: lng + 1, Lat: lat},
		{Lng: lng + 1, Lat: lat + 1},
		{Lng: lng, Lat: lat + 1},
	}
}

func seedOp(t *testing.T, s store.Store, gufi string, state model.OperationState, begin time.Time, d time.Duration, footprint geo.Polygon) {
	t.Helper()
	op := &model.Operation{
		Gufi:  gufi,
		State: state,
		Volumes: []model.OperationVolume{{
			EffectiveTimeBegin: begin,
			EffectiveTimeEnd:   begin.Add(d),
			MinAltitude:        0,
			MaxAltitude:        120,
			Footprint:          footprint,
		}},
	}
	if err := s.CreateOperation(context.Background(), op); err != nil {
		t.Fatalf("CreateOperation(%s) error: %v", gufi, err)
	}
}

func newScheduler(t *testing.T, cfg Config) (*Scheduler, *store.MemStore, *clock.Fake, *fakeNotifier) {
	t.Helper()
	s := store.NewMemStore(nil, nil)
	clk := clock.NewFake(testNow)
	n := &fakeNotifier{}
	if cfg.Interval == 0 {
		cfg.Interval = time.Second
	}
	return New(s, n, clk, nil, cfg), s, clk, n
}

func mustState(t *testing.T, s store.Store, gufi string, want model.OperationState) {
	t.Helper()
	op, err := s.GetOperation(context.Background(), gufi)
	if err != nil {
		t.Fatalf("GetOperation(%s) error: %v", gufi, err)
	}
	if op.State != want {
		t.Fatalf("operation %s state = %s, want %s", gufi, op.State, want)
	}
}

func TestSweepActivatesAcceptedInWindow(t *testing.T) {
	sched, s, _, _ := newScheduler(t, DefaultConfig())
	seedOp(t, s, "op-1", model.StateAccepted, testNow.Add(-10*time.Minute), time.Hour, squareAt(0, 0))

	if err := sched.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep error: %v", err)
	}
	mustState(t, s, "op-1", model.StateActivated)
}

func TestSweepClosesAcceptedPastEnd(t *testing.T) {
	sched, s, _, _ := newScheduler(t, DefaultConfig())
	seedOp(t, s, "op-1", model.StateAccepted, testNow.Add(-3*time.Hour), time.Hour, squareAt(0, 0))

	if err := sched.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep error: %v", err)
	}
	mustState(t, s, "op-1", model.StateClosed)
}

func TestSweepClosesActivatedAtBoundary(t *testing.T) {
	// end == now counts as elapsed.
	sched, s, _, _ := newScheduler(t, DefaultConfig())
	seedOp(t, s, "op-1", model.StateActivated, testNow.Add(-time.Hour), time.Hour, squareAt(0, 0))

	if err := sched.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep error: %v", err)
	}
	mustState(t, s, "op-1", model.StateClosed)
}

func TestSweepClosesRoguePastEnd(t *testing.T) {
	sched, s, clk, _ := newScheduler(t, DefaultConfig())
	seedOp(t, s, "op-1", model.StateActivated, testNow.Add(-30*time.Minute), time.Hour, squareAt(0, 0))
	if _, err := s.TransitionOperation(context.Background(), "op-1", model.StateRogue, "test"); err != nil {
		t.Fatalf("TransitionOperation error: %v", err)
	}

	clk.Advance(2 * time.Hour)
	if err := sched.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep error: %v", err)
	}
	mustState(t, s, "op-1", model.StateClosed)
}

func TestSweepAutoClosesExpiredPending(t *testing.T) {
	sched, s, _, _ := newScheduler(t, DefaultConfig())
	seedOp(t, s, "op-1", model.StatePending, testNow.Add(-3*time.Hour), time.Hour, squareAt(0, 0))

	if err := sched.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep error: %v", err)
	}
	mustState(t, s, "op-1", model.StateClosed)

	op, _ := s.GetOperation(context.Background(), "op-1")
	if !strings.Contains(op.Comments, "expired while pending") {
		t.Fatalf("comment trail = %q", op.Comments)
	}
}

func TestSweepKeepsExpiredPendingWhenDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AutoClosePending = false
	sched, s, _, _ := newScheduler(t, cfg)
	seedOp(t, s, "op-1", model.StatePending, testNow.Add(-3*time.Hour), time.Hour, squareAt(0, 0))

	if err := sched.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep error: %v", err)
	}
	mustState(t, s, "op-1", model.StatePending)
}

func TestSweepProposedClearCascadesToActivated(t *testing.T) {
	sched, s, _, n := newScheduler(t, DefaultConfig())
	seedOp(t, s, "op-1", model.StateProposed, testNow.Add(-10*time.Minute), time.Hour, squareAt(0, 0))

	if err := sched.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep error: %v", err)
	}
	// PROPOSED -> ACCEPTED -> ACTIVATED within one cycle.
	mustState(t, s, "op-1", model.StateActivated)
	if len(n.states) != 2 {
		t.Fatalf("notifications = %v, want accept then activate", n.states)
	}
}

func TestSweepProposedClearFutureWindow(t *testing.T) {
	sched, s, _, _ := newScheduler(t, DefaultConfig())
	seedOp(t, s, "op-1", model.StateProposed, testNow.Add(time.Hour), time.Hour, squareAt(0, 0))

	if err := sched.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep error: %v", err)
	}
	mustState(t, s, "op-1", model.StateAccepted)
}

func TestSweepProposedParksWithoutDefaultAccept(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DefaultAccept = false
	sched, s, _, _ := newScheduler(t, cfg)
	seedOp(t, s, "op-1", model.StateProposed, testNow.Add(-10*time.Minute), time.Hour, squareAt(0, 0))

	if err := sched.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep error: %v", err)
	}
	mustState(t, s, "op-1", model.StatePending)
}

func TestSweepProposedConflictParksPending(t *testing.T) {
	sched, s, _, n := newScheduler(t, DefaultConfig())
	seedOp(t, s, "blocker", model.StateActivated, testNow.Add(-10*time.Minute), time.Hour, squareAt(0, 0))
	seedOp(t, s, "op-1", model.StateProposed, testNow.Add(-5*time.Minute), time.Hour, squareAt(0.5, 0.5))

	if err := sched.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep error: %v", err)
	}
	mustState(t, s, "op-1", model.StatePending)
	mustState(t, s, "blocker", model.StateActivated)

	op, _ := s.GetOperation(context.Background(), "op-1")
	if !strings.Contains(op.Comments, "blocker") {
		t.Fatalf("conflict comment does not name the blocker: %q", op.Comments)
	}
	if len(n.admin) == 0 {
		t.Fatalf("no admin alert for pending operation")
	}
}

func TestSweepProposedRestrictedHitParksPending(t *testing.T) {
	sched, s, _, _ := newScheduler(t, DefaultConfig())
	rfv := &model.RestrictedFlightVolume{ID: "rfv-1", MaxAltitude: 5000, Footprint: squareAt(0, 0)}
	if err := s.CreateRestrictedVolume(context.Background(), rfv); err != nil {
		t.Fatalf("CreateRestrictedVolume error: %v", err)
	}
	seedOp(t, s, "op-1", model.StateProposed, testNow.Add(time.Hour), time.Hour, squareAt(0.5, 0.5))

	if err := sched.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep error: %v", err)
	}
	mustState(t, s, "op-1", model.StatePending)
}

func TestSweepIsIdempotent(t *testing.T) {
	sched, s, _, n := newScheduler(t, DefaultConfig())
	seedOp(t, s, "op-1", model.StateAccepted, testNow.Add(-10*time.Minute), time.Hour, squareAt(0, 0))

	ctx := context.Background()
	if err := sched.Sweep(ctx); err != nil {
		t.Fatalf("first Sweep error: %v", err)
	}
	before := len(n.states)
	if err := sched.Sweep(ctx); err != nil {
		t.Fatalf("second Sweep error: %v", err)
	}
	mustState(t, s, "op-1", model.StateActivated)
	if len(n.states) != before {
		t.Fatalf("second sweep produced transitions: %v", n.states[before:])
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	sched, _, _, _ := newScheduler(t, Config{Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Run did not stop after cancel")
	}
}
