// Package registry exposes the authorization data the engine reads from the
// external vehicle/operator registry: which vehicles an operation may fly,
// and which operation a vehicle is currently bound to. The engine never
// writes this data.
package registry

import "sync"

// Registry is the read-only view of the external registry.
type Registry interface {
	// IsAuthorized reports whether the vehicle appears on the operation's
	// authorized-vehicle list.
	IsAuthorized(gufi, vehicleID string) bool
	// BoundOperation returns the operation the vehicle is currently flying
	// under, when the registry knows one.
	BoundOperation(vehicleID string) (string, bool)
	// OperatorOf returns the operator owning the vehicle.
	OperatorOf(vehicleID string) (string, bool)
}

// Static is an in-memory registry fed by the deployment at startup or by
// administrative updates. It is safe for concurrent use.
type Static struct {
	mu         sync.RWMutex
	operators  map[string]string   // vehicle -> operator
	authorized map[string][]string // gufi -> vehicles
	bound      map[string]string   // vehicle -> gufi
}

// NewStatic constructs an empty registry.
func NewStatic() *Static {
	return &Static{
		operators:  make(map[string]string),
		authorized: make(map[string][]string),
		bound:      make(map[string]string),
	}
}

// AddVehicle registers a vehicle with its operator.
func (r *Static) AddVehicle(vehicleID, operator string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.operators[vehicleID] = operator
}

// Authorize adds a vehicle to an operation's authorized list and binds the
// vehicle to that operation.
func (r *Static) Authorize(gufi, vehicleID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.authorized[gufi] {
		if v == vehicleID {
			return
		}
	}
	r.authorized[gufi] = append(r.authorized[gufi], vehicleID)
	r.bound[vehicleID] = gufi
}

func (r *Static) IsAuthorized(gufi, vehicleID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, v := range r.authorized[gufi] {
		if v == vehicleID {
			return true
		}
	}
	return false
}

func (r *Static) BoundOperation(vehicleID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	gufi, ok := r.bound[vehicleID]
	return gufi, ok
}

func (r *Static) OperatorOf(vehicleID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	op, ok := r.operators[vehicleID]
	return op, ok
}
