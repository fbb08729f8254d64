package store

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/u-space/utm-core/geo"
	"github.com/u-space/utm-core/internal/logging"
	"github.com/u-space/utm-core/model"
)

const (
	opKeyPrefix  = "op:"
	uvrKeyPrefix = "uvr:"
	rfvKeyPrefix = "rfv:"
	posKeyPrefix = "pos:"
)

// BadgerStore persists the reservation store in Badger while serving all
// queries from an in-memory index. Every mutation routes through Atomically,
// which applies the change to the index and flushes the touched records in
// one Badger update; the index write lock is held across both, so a flush
// failure rolls the index back and readers never observe an unflushed state.
type BadgerStore struct {
	db  *badger.DB
	mem *MemStore
	log logging.Logger
}

// OpenBadgerStore opens (or creates) the database at path and loads every
// stored operation, reservation, and restricted volume into the index.
func OpenBadgerStore(path string, preds geo.Predicates, log logging.Logger, opts ...MemStoreOption) (*BadgerStore, error) {
	if log == nil {
		log = logging.Noop()
	}

	bopts := badger.DefaultOptions(filepath.Clean(path))
	bopts.Logger = nil // badger's own logging is too chatty alongside slog
	bopts = bopts.WithValueLogFileSize(1 << 20)
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", path, err)
	}

	s := &BadgerStore{
		db:  db,
		mem: NewMemStore(preds, log, opts...),
		log: log,
	}
	if err := s.load(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *BadgerStore) load() error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key())
			err := item.Value(func(v []byte) error {
				switch {
				case len(key) > len(opKeyPrefix) && key[:len(opKeyPrefix)] == opKeyPrefix:
					var op model.Operation
					if err := json.Unmarshal(v, &op); err != nil {
						return fmt.Errorf("decode %s: %w", key, err)
					}
					s.mem.ops[op.Gufi] = &op
				case len(key) > len(uvrKeyPrefix) && key[:len(uvrKeyPrefix)] == uvrKeyPrefix:
					var r model.VolumeReservation
					if err := json.Unmarshal(v, &r); err != nil {
						return fmt.Errorf("decode %s: %w", key, err)
					}
					s.mem.reservations[r.ID] = &r
				case len(key) > len(rfvKeyPrefix) && key[:len(rfvKeyPrefix)] == rfvKeyPrefix:
					var r model.RestrictedFlightVolume
					if err := json.Unmarshal(v, &r); err != nil {
						return fmt.Errorf("decode %s: %w", key, err)
					}
					s.mem.restricted[r.ID] = &r
				}
				// Position reports are journal-only; they are not read back
				// into memory.
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerStore) CreateOperation(ctx context.Context, op *model.Operation) error {
	return s.Atomically(ctx, func(tx Store) error { return tx.CreateOperation(ctx, op) })
}

func (s *BadgerStore) GetOperation(ctx context.Context, gufi string) (*model.Operation, error) {
	return s.mem.GetOperation(ctx, gufi)
}

func (s *BadgerStore) TransitionOperation(ctx context.Context, gufi string, next model.OperationState, comment string) (*model.Operation, error) {
	var out *model.Operation
	err := s.Atomically(ctx, func(tx Store) error {
		op, err := tx.TransitionOperation(ctx, gufi, next, comment)
		if err != nil {
			return err
		}
		out = op
		return nil
	})
	return out, err
}

func (s *BadgerStore) ListOperationsByState(ctx context.Context, states ...model.OperationState) ([]*model.Operation, error) {
	return s.mem.ListOperationsByState(ctx, states...)
}

func (s *BadgerStore) OperationsIntersecting(ctx context.Context, f VolumeFilter, states []model.OperationState, excludeGufi string) ([]*model.Operation, error) {
	return s.mem.OperationsIntersecting(ctx, f, states, excludeGufi)
}

func (s *BadgerStore) OperationsIntersectingFootprint(ctx context.Context, alt geo.AltitudeRange, footprint geo.Polygon, states []model.OperationState) ([]*model.Operation, error) {
	return s.mem.OperationsIntersectingFootprint(ctx, alt, footprint, states)
}

func (s *BadgerStore) ActivatedOperationsAt(ctx context.Context, pt geo.Point, alt float64, t time.Time) ([]*model.Operation, error) {
	return s.mem.ActivatedOperationsAt(ctx, pt, alt, t)
}

func (s *BadgerStore) CreateReservation(ctx context.Context, r *model.VolumeReservation) error {
	return s.Atomically(ctx, func(tx Store) error { return tx.CreateReservation(ctx, r) })
}

func (s *BadgerStore) SoftDeleteReservation(ctx context.Context, id string) error {
	return s.Atomically(ctx, func(tx Store) error { return tx.SoftDeleteReservation(ctx, id) })
}

func (s *BadgerStore) ReservationsIntersecting(ctx context.Context, f VolumeFilter) ([]*model.VolumeReservation, error) {
	return s.mem.ReservationsIntersecting(ctx, f)
}

func (s *BadgerStore) CreateRestrictedVolume(ctx context.Context, r *model.RestrictedFlightVolume) error {
	return s.Atomically(ctx, func(tx Store) error { return tx.CreateRestrictedVolume(ctx, r) })
}

func (s *BadgerStore) SoftDeleteRestrictedVolume(ctx context.Context, id string) error {
	return s.Atomically(ctx, func(tx Store) error { return tx.SoftDeleteRestrictedVolume(ctx, id) })
}

func (s *BadgerStore) RestrictedVolumesIntersecting(ctx context.Context, alt geo.AltitudeRange, footprint geo.Polygon) ([]*model.RestrictedFlightVolume, error) {
	return s.mem.RestrictedVolumesIntersecting(ctx, alt, footprint)
}

func (s *BadgerStore) SavePositionReport(ctx context.Context, pr *model.PositionReport) error {
	return s.Atomically(ctx, func(tx Store) error { return tx.SavePositionReport(ctx, pr) })
}

// Atomically runs fn against the in-memory index under its write lock, then
// flushes every touched record to Badger in a single update before the lock
// is released. Any error from fn or from the flush aborts the index changes
// as well.
func (s *BadgerStore) Atomically(ctx context.Context, fn func(tx Store) error) error {
	if fn == nil {
		return nil
	}
	return s.mem.Atomically(ctx, func(memtx Store) error {
		btx := &badgerTx{inner: memtx, store: s}
		if err := fn(btx); err != nil {
			return err
		}
		return btx.flush()
	})
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// badgerTx tracks which records a unit of work touched so flush can persist
// just those. It reads current values straight from the index maps, which is
// safe because the enclosing Atomically holds the write lock.
type badgerTx struct {
	inner Store
	store *BadgerStore

	dirtyOps  []string
	dirtyUvrs []string
	dirtyRfvs []string
	positions []*model.PositionReport
}

func (t *badgerTx) flush() error {
	return t.store.db.Update(func(txn *badger.Txn) error {
		for _, gufi := range t.dirtyOps {
			op := t.store.mem.ops[gufi]
			if op == nil {
				continue
			}
			data, err := json.Marshal(op)
			if err != nil {
				return err
			}
			if err := txn.Set([]byte(opKeyPrefix+gufi), data); err != nil {
				return err
			}
		}
		for _, id := range t.dirtyUvrs {
			r := t.store.mem.reservations[id]
			if r == nil {
				continue
			}
			data, err := json.Marshal(r)
			if err != nil {
				return err
			}
			if err := txn.Set([]byte(uvrKeyPrefix+id), data); err != nil {
				return err
			}
		}
		for _, id := range t.dirtyRfvs {
			r := t.store.mem.restricted[id]
			if r == nil {
				continue
			}
			data, err := json.Marshal(r)
			if err != nil {
				return err
			}
			if err := txn.Set([]byte(rfvKeyPrefix+id), data); err != nil {
				return err
			}
		}
		for _, pr := range t.positions {
			data, err := json.Marshal(pr)
			if err != nil {
				return err
			}
			key := posKeyPrefix + pr.VehicleID + ":" + strconv.FormatInt(pr.Timestamp.UnixNano(), 10)
			if err := txn.Set([]byte(key), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (t *badgerTx) CreateOperation(ctx context.Context, op *model.Operation) error {
	if err := t.inner.CreateOperation(ctx, op); err != nil {
		return err
	}
	t.dirtyOps = append(t.dirtyOps, op.Gufi)
	return nil
}

func (t *badgerTx) GetOperation(ctx context.Context, gufi string) (*model.Operation, error) {
	return t.inner.GetOperation(ctx, gufi)
}

func (t *badgerTx) TransitionOperation(ctx context.Context, gufi string, next model.OperationState, comment string) (*model.Operation, error) {
	op, err := t.inner.TransitionOperation(ctx, gufi, next, comment)
	if err != nil {
		return nil, err
	}
	t.dirtyOps = append(t.dirtyOps, gufi)
	return op, nil
}

func (t *badgerTx) ListOperationsByState(ctx context.Context, states ...model.OperationState) ([]*model.Operation, error) {
	return t.inner.ListOperationsByState(ctx, states...)
}

func (t *badgerTx) OperationsIntersecting(ctx context.Context, f VolumeFilter, states []model.OperationState, excludeGufi string) ([]*model.Operation, error) {
	return t.inner.OperationsIntersecting(ctx, f, states, excludeGufi)
}

func (t *badgerTx) OperationsIntersectingFootprint(ctx context.Context, alt geo.AltitudeRange, footprint geo.Polygon, states []model.OperationState) ([]*model.Operation, error) {
	return t.inner.OperationsIntersectingFootprint(ctx, alt, footprint, states)
}

func (t *badgerTx) ActivatedOperationsAt(ctx context.Context, pt geo.Point, alt float64, ts time.Time) ([]*model.Operation, error) {
	return t.inner.ActivatedOperationsAt(ctx, pt, alt, ts)
}

func (t *badgerTx) CreateReservation(ctx context.Context, r *model.VolumeReservation) error {
	if err := t.inner.CreateReservation(ctx, r); err != nil {
		return err
	}
	t.dirtyUvrs = append(t.dirtyUvrs, r.ID)
	return nil
}

func (t *badgerTx) SoftDeleteReservation(ctx context.Context, id string) error {
	if err := t.inner.SoftDeleteReservation(ctx, id); err != nil {
		return err
	}
	t.dirtyUvrs = append(t.dirtyUvrs, id)
	return nil
}

func (t *badgerTx) ReservationsIntersecting(ctx context.Context, f VolumeFilter) ([]*model.VolumeReservation, error) {
	return t.inner.ReservationsIntersecting(ctx, f)
}

func (t *badgerTx) CreateRestrictedVolume(ctx context.Context, r *model.RestrictedFlightVolume) error {
	if err := t.inner.CreateRestrictedVolume(ctx, r); err != nil {
		return err
	}
	t.dirtyRfvs = append(t.dirtyRfvs, r.ID)
	return nil
}

func (t *badgerTx) SoftDeleteRestrictedVolume(ctx context.Context, id string) error {
	if err := t.inner.SoftDeleteRestrictedVolume(ctx, id); err != nil {
		return err
	}
	t.dirtyRfvs = append(t.dirtyRfvs, id)
	return nil
}

func (t *badgerTx) RestrictedVolumesIntersecting(ctx context.Context, alt geo.AltitudeRange, footprint geo.Polygon) ([]*model.RestrictedFlightVolume, error) {
	return t.inner.RestrictedVolumesIntersecting(ctx, alt, footprint)
}

func (t *badgerTx) SavePositionReport(ctx context.Context, pr *model.PositionReport) error {
	if err := t.inner.SavePositionReport(ctx, pr); err != nil {
		return err
	}
	cp := *pr
	t.positions = append(t.positions, &cp)
	return nil
}

func (t *badgerTx) Atomically(ctx context.Context, fn func(tx Store) error) error {
	if fn == nil {
		return nil
	}
	return fn(t)
}

func (t *badgerTx) Close() error { return nil }
