package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/u-space/utm-core/geo"
	"github.com/u-space/utm-core/internal/logging"
	"github.com/u-space/utm-core/model"
)

// MemStore is an in-memory, thread-safe reservation store. A single write
// lock serialises every mutation and Atomically unit, which is what gives
// the admission protocol its no-phantom guarantee: the evaluate-then-insert
// sequence runs under one exclusive critical section.
type MemStore struct {
	// mu is the store-level lock. Atomically holds the write lock for the
	// whole unit of work.
	mu sync.RWMutex

	preds geo.Predicates
	log   logging.Logger

	ops          map[string]*model.Operation
	reservations map[string]*model.VolumeReservation
	restricted   map[string]*model.RestrictedFlightVolume
	positions    []*model.PositionReport

	// metrics is an optional recorder for state-count gauges.
	metrics StateCountsRecorder
}

// MemStoreOption customises MemStore construction.
type MemStoreOption func(*MemStore)

// WithMetricsRecorder attaches an optional recorder driven on every
// operation mutation.
func WithMetricsRecorder(m StateCountsRecorder) MemStoreOption {
	return func(s *MemStore) {
		s.metrics = m
	}
}

// NewMemStore constructs an empty store using the given geospatial
// predicates for its filtered queries.
func NewMemStore(preds geo.Predicates, log logging.Logger, opts ...MemStoreOption) *MemStore {
	if log == nil {
		log = logging.Noop()
	}
	if preds == nil {
		preds = geo.Planar{}
	}
	s := &MemStore{
		preds:        preds,
		log:          log,
		ops:          make(map[string]*model.Operation),
		reservations: make(map[string]*model.VolumeReservation),
		restricted:   make(map[string]*model.RestrictedFlightVolume),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *MemStore) CreateOperation(ctx context.Context, op *model.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createOperationLocked(ctx, op)
}

func (s *MemStore) createOperationLocked(ctx context.Context, op *model.Operation) error {
	if op == nil || op.Gufi == "" {
		return fmt.Errorf("operation missing gufi: %w", ErrNotFound)
	}
	if err := op.Validate(); err != nil {
		return err
	}
	if _, exists := s.ops[op.Gufi]; exists {
		return fmt.Errorf("operation %q: %w", op.Gufi, ErrAlreadyExists)
	}
	s.ops[op.Gufi] = op.Clone()
	s.updateMetricsLocked()
	return nil
}

func (s *MemStore) GetOperation(ctx context.Context, gufi string) (*model.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getOperationLocked(ctx, gufi)
}

func (s *MemStore) getOperationLocked(_ context.Context, gufi string) (*model.Operation, error) {
	op, ok := s.ops[gufi]
	if !ok {
		return nil, fmt.Errorf("operation %q: %w", gufi, ErrNotFound)
	}
	return op.Clone(), nil
}

func (s *MemStore) TransitionOperation(ctx context.Context, gufi string, next model.OperationState, comment string) (*model.Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionOperationLocked(ctx, gufi, next, comment)
}

func (s *MemStore) transitionOperationLocked(_ context.Context, gufi string, next model.OperationState, comment string) (*model.Operation, error) {
	op, ok := s.ops[gufi]
	if !ok {
		return nil, fmt.Errorf("operation %q: %w", gufi, ErrNotFound)
	}
	if !op.State.CanTransitionTo(next) {
		return nil, fmt.Errorf("%s -> %s: %w", op.State, next, ErrIllegalTransition)
	}
	updated := op.Clone()
	updated.State = next
	if comment != "" {
		updated.AppendComment(comment)
	}
	updated.UpdatedAt = time.Now().UTC()
	s.ops[gufi] = updated
	s.updateMetricsLocked()
	return updated.Clone(), nil
}

func (s *MemStore) ListOperationsByState(ctx context.Context, states ...model.OperationState) ([]*model.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listOperationsByStateLocked(ctx, states...)
}

func (s *MemStore) listOperationsByStateLocked(_ context.Context, states ...model.OperationState) ([]*model.Operation, error) {
	wanted := make(map[model.OperationState]bool, len(states))
	for _, st := range states {
		wanted[st] = true
	}
	res := make([]*model.Operation, 0)
	for _, op := range s.ops {
		if wanted[op.State] {
			res = append(res, op.Clone())
		}
	}
	sortOperations(res)
	return res, nil
}

func (s *MemStore) OperationsIntersecting(ctx context.Context, f VolumeFilter, states []model.OperationState, excludeGufi string) ([]*model.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.operationsIntersectingLocked(ctx, f, states, excludeGufi)
}

func (s *MemStore) operationsIntersectingLocked(_ context.Context, f VolumeFilter, states []model.OperationState, excludeGufi string) ([]*model.Operation, error) {
	wanted := make(map[model.OperationState]bool, len(states))
	for _, st := range states {
		wanted[st] = true
	}
	res := make([]*model.Operation, 0)
	for _, op := range s.ops {
		if op.Gufi == excludeGufi || !wanted[op.State] {
			continue
		}
		for i := range op.Volumes {
			v := &op.Volumes[i]
			if s.preds.Overlaps(f.Time, v.TimeRange(), f.Altitude, v.AltitudeRange(), f.Footprint, v.Footprint) {
				res = append(res, op.Clone())
				break
			}
		}
	}
	sortOperations(res)
	return res, nil
}

func (s *MemStore) OperationsIntersectingFootprint(ctx context.Context, alt geo.AltitudeRange, footprint geo.Polygon, states []model.OperationState) ([]*model.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.operationsIntersectingFootprintLocked(ctx, alt, footprint, states)
}

func (s *MemStore) operationsIntersectingFootprintLocked(_ context.Context, alt geo.AltitudeRange, footprint geo.Polygon, states []model.OperationState) ([]*model.Operation, error) {
	wanted := make(map[model.OperationState]bool, len(states))
	for _, st := range states {
		wanted[st] = true
	}
	res := make([]*model.Operation, 0)
	for _, op := range s.ops {
		if !wanted[op.State] {
			continue
		}
		for i := range op.Volumes {
			v := &op.Volumes[i]
			if alt.Overlaps(v.AltitudeRange()) && s.preds.Intersects(footprint, v.Footprint) {
				res = append(res, op.Clone())
				break
			}
		}
	}
	sortOperations(res)
	return res, nil
}

func (s *MemStore) ActivatedOperationsAt(ctx context.Context, pt geo.Point, alt float64, t time.Time) ([]*model.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activatedOperationsAtLocked(ctx, pt, alt, t)
}

func (s *MemStore) activatedOperationsAtLocked(_ context.Context, pt geo.Point, alt float64, t time.Time) ([]*model.Operation, error) {
	res := make([]*model.Operation, 0)
	for _, op := range s.ops {
		if op.State != model.StateActivated {
			continue
		}
		for i := range op.Volumes {
			v := &op.Volumes[i]
			if v.TimeRange().Contains(t) && v.AltitudeRange().Contains(alt) && s.preds.Contains(v.Footprint, pt) {
				res = append(res, op.Clone())
				break
			}
		}
	}
	sortOperations(res)
	return res, nil
}

func (s *MemStore) CreateReservation(ctx context.Context, r *model.VolumeReservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createReservationLocked(ctx, r)
}

func (s *MemStore) createReservationLocked(_ context.Context, r *model.VolumeReservation) error {
	if r == nil || r.ID == "" {
		return fmt.Errorf("reservation missing id: %w", ErrNotFound)
	}
	if _, exists := s.reservations[r.ID]; exists {
		return fmt.Errorf("reservation %q: %w", r.ID, ErrAlreadyExists)
	}
	cp := *r
	s.reservations[r.ID] = &cp
	return nil
}

func (s *MemStore) SoftDeleteReservation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.softDeleteReservationLocked(ctx, id)
}

func (s *MemStore) softDeleteReservationLocked(_ context.Context, id string) error {
	r, ok := s.reservations[id]
	if !ok {
		return fmt.Errorf("reservation %q: %w", id, ErrNotFound)
	}
	cp := *r
	cp.Deleted = true
	s.reservations[id] = &cp
	return nil
}

func (s *MemStore) ReservationsIntersecting(ctx context.Context, f VolumeFilter) ([]*model.VolumeReservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reservationsIntersectingLocked(ctx, f)
}

func (s *MemStore) reservationsIntersectingLocked(_ context.Context, f VolumeFilter) ([]*model.VolumeReservation, error) {
	res := make([]*model.VolumeReservation, 0)
	for _, r := range s.reservations {
		if r.Deleted {
			continue
		}
		if s.preds.Overlaps(f.Time, r.TimeRange(), f.Altitude, r.AltitudeRange(), f.Footprint, r.Footprint) {
			cp := *r
			res = append(res, &cp)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (s *MemStore) CreateRestrictedVolume(ctx context.Context, r *model.RestrictedFlightVolume) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createRestrictedVolumeLocked(ctx, r)
}

func (s *MemStore) createRestrictedVolumeLocked(_ context.Context, r *model.RestrictedFlightVolume) error {
	if r == nil || r.ID == "" {
		return fmt.Errorf("restricted volume missing id: %w", ErrNotFound)
	}
	if _, exists := s.restricted[r.ID]; exists {
		return fmt.Errorf("restricted volume %q: %w", r.ID, ErrAlreadyExists)
	}
	cp := *r
	s.restricted[r.ID] = &cp
	return nil
}

func (s *MemStore) SoftDeleteRestrictedVolume(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.softDeleteRestrictedVolumeLocked(ctx, id)
}

func (s *MemStore) softDeleteRestrictedVolumeLocked(_ context.Context, id string) error {
	r, ok := s.restricted[id]
	if !ok {
		return fmt.Errorf("restricted volume %q: %w", id, ErrNotFound)
	}
	cp := *r
	cp.Deleted = true
	s.restricted[id] = &cp
	return nil
}

func (s *MemStore) RestrictedVolumesIntersecting(ctx context.Context, alt geo.AltitudeRange, footprint geo.Polygon) ([]*model.RestrictedFlightVolume, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.restrictedVolumesIntersectingLocked(ctx, alt, footprint)
}

func (s *MemStore) restrictedVolumesIntersectingLocked(_ context.Context, alt geo.AltitudeRange, footprint geo.Polygon) ([]*model.RestrictedFlightVolume, error) {
	res := make([]*model.RestrictedFlightVolume, 0)
	for _, r := range s.restricted {
		if r.Deleted {
			continue
		}
		if alt.Overlaps(r.AltitudeRange()) && s.preds.Intersects(footprint, r.Footprint) {
			cp := *r
			res = append(res, &cp)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (s *MemStore) SavePositionReport(ctx context.Context, pr *model.PositionReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.savePositionReportLocked(ctx, pr)
}

func (s *MemStore) savePositionReportLocked(_ context.Context, pr *model.PositionReport) error {
	if pr == nil {
		return fmt.Errorf("position report is nil: %w", ErrNotFound)
	}
	cp := *pr
	s.positions = append(s.positions, &cp)
	return nil
}

// Atomically takes the write lock for the whole unit of work and hands fn a
// view that reads and writes the store directly. Because mutations replace
// cloned entries, a failed unit rolls back by restoring the entry maps
// captured at entry.
func (s *MemStore) Atomically(ctx context.Context, fn func(tx Store) error) error {
	if fn == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapOps := copyMap(s.ops)
	snapRes := copyMap(s.reservations)
	snapRfv := copyMap(s.restricted)
	snapPos := s.positions

	if err := fn(&memTx{s: s}); err != nil {
		s.ops = snapOps
		s.reservations = snapRes
		s.restricted = snapRfv
		s.positions = snapPos
		return err
	}
	s.updateMetricsLocked()
	return nil
}

func (s *MemStore) Close() error { return nil }

// updateMetricsLocked pushes per-state operation counts to the recorder.
func (s *MemStore) updateMetricsLocked() {
	if s.metrics == nil {
		return
	}
	counts := make(map[model.OperationState]int)
	for _, op := range s.ops {
		counts[op.State]++
	}
	s.metrics.SetOperationStateCounts(counts)
}

// memTx is the transactional view handed to Atomically callbacks. The
// enclosing call already holds the write lock, so it dispatches straight to
// the unlocked internals.
type memTx struct {
	s *MemStore
}

func (t *memTx) CreateOperation(ctx context.Context, op *model.Operation) error {
	return t.s.createOperationLocked(ctx, op)
}

func (t *memTx) GetOperation(ctx context.Context, gufi string) (*model.Operation, error) {
	return t.s.getOperationLocked(ctx, gufi)
}

func (t *memTx) TransitionOperation(ctx context.Context, gufi string, next model.OperationState, comment string) (*model.Operation, error) {
	return t.s.transitionOperationLocked(ctx, gufi, next, comment)
}

func (t *memTx) ListOperationsByState(ctx context.Context, states ...model.OperationState) ([]*model.Operation, error) {
	return t.s.listOperationsByStateLocked(ctx, states...)
}

func (t *memTx) OperationsIntersecting(ctx context.Context, f VolumeFilter, states []model.OperationState, excludeGufi string) ([]*model.Operation, error) {
	return t.s.operationsIntersectingLocked(ctx, f, states, excludeGufi)
}

func (t *memTx) OperationsIntersectingFootprint(ctx context.Context, alt geo.AltitudeRange, footprint geo.Polygon, states []model.OperationState) ([]*model.Operation, error) {
	return t.s.operationsIntersectingFootprintLocked(ctx, alt, footprint, states)
}

func (t *memTx) ActivatedOperationsAt(ctx context.Context, pt geo.Point, alt float64, ts time.Time) ([]*model.Operation, error) {
	return t.s.activatedOperationsAtLocked(ctx, pt, alt, ts)
}

func (t *memTx) CreateReservation(ctx context.Context, r *model.VolumeReservation) error {
	return t.s.createReservationLocked(ctx, r)
}

func (t *memTx) SoftDeleteReservation(ctx context.Context, id string) error {
	return t.s.softDeleteReservationLocked(ctx, id)
}

func (t *memTx) ReservationsIntersecting(ctx context.Context, f VolumeFilter) ([]*model.VolumeReservation, error) {
	return t.s.reservationsIntersectingLocked(ctx, f)
}

func (t *memTx) CreateRestrictedVolume(ctx context.Context, r *model.RestrictedFlightVolume) error {
	return t.s.createRestrictedVolumeLocked(ctx, r)
}

func (t *memTx) SoftDeleteRestrictedVolume(ctx context.Context, id string) error {
	return t.s.softDeleteRestrictedVolumeLocked(ctx, id)
}

func (t *memTx) RestrictedVolumesIntersecting(ctx context.Context, alt geo.AltitudeRange, footprint geo.Polygon) ([]*model.RestrictedFlightVolume, error) {
	return t.s.restrictedVolumesIntersectingLocked(ctx, alt, footprint)
}

func (t *memTx) SavePositionReport(ctx context.Context, pr *model.PositionReport) error {
	return t.s.savePositionReportLocked(ctx, pr)
}

// Atomically on a transactional view runs fn in the same unit of work.
func (t *memTx) Atomically(ctx context.Context, fn func(tx Store) error) error {
	if fn == nil {
		return nil
	}
	return fn(t)
}

func (t *memTx) Close() error { return nil }

func sortOperations(ops []*model.Operation) {
	sort.Slice(ops, func(i, j int) bool { return ops[i].Gufi < ops[j].Gufi })
}

func copyMap[V any](m map[string]V) map[string]V {
	cp := make(map[string]V, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
