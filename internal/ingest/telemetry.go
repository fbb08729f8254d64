// Package ingest subscribes the engine to its NATS surfaces: the telemetry
// stream feeding the conformance monitor and the administrative command
// subjects.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"golang.org/x/time/rate"

	"github.com/u-space/utm-core/internal/conformance"
	"github.com/u-space/utm-core/internal/logging"
	"github.com/u-space/utm-core/model"
)

// SubjectPosition carries inbound vehicle position reports.
const SubjectPosition = "utm.telemetry.position"

// limiterPool hands out one token bucket per vehicle so a chatty transmitter
// cannot starve the monitor.
type limiterPool struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func newLimiterPool(rps float64, burst int) *limiterPool {
	return &limiterPool{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

func (p *limiterPool) allow(vehicleID string) bool {
	p.mu.Lock()
	lim, ok := p.limiters[vehicleID]
	if !ok {
		lim = rate.NewLimiter(p.rps, p.burst)
		p.limiters[vehicleID] = lim
	}
	p.mu.Unlock()
	return lim.Allow()
}

// Telemetry consumes position reports from NATS and hands them to the
// conformance monitor.
type Telemetry struct {
	nc      *nats.Conn
	monitor *conformance.Monitor
	limits  *limiterPool
	log     logging.Logger

	sub *nats.Subscription
}

// NewTelemetry constructs the telemetry consumer. rps and burst bound the
// per-vehicle report rate.
func NewTelemetry(nc *nats.Conn, monitor *conformance.Monitor, rps float64, burst int, log logging.Logger) *Telemetry {
	if log == nil {
		log = logging.Noop()
	}
	return &Telemetry{
		nc:      nc,
		monitor: monitor,
		limits:  newLimiterPool(rps, burst),
		log:     log,
	}
}

// Start subscribes to the position subject. Reports are processed on the
// NATS delivery goroutine; the monitor is fast enough that no worker pool is
// needed at current ingest rates.
func (t *Telemetry) Start(ctx context.Context) error {
	sub, err := t.nc.Subscribe(SubjectPosition, func(msg *nats.Msg) {
		t.handle(ctx, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", SubjectPosition, err)
	}
	t.sub = sub
	t.log.Info(ctx, "telemetry consumer started", logging.String("subject", SubjectPosition))
	return nil
}

func (t *Telemetry) handle(ctx context.Context, data []byte) {
	var pr model.PositionReport
	if err := json.Unmarshal(data, &pr); err != nil {
		t.log.Warn(ctx, "malformed position report dropped", logging.Err(err))
		return
	}
	if pr.VehicleID == "" {
		t.log.Warn(ctx, "position report without vehicle id dropped")
		return
	}
	if !t.limits.allow(pr.VehicleID) {
		t.log.Debug(ctx, "position report rate limited",
			logging.String("vehicle_id", pr.VehicleID),
		)
		return
	}

	if err := t.monitor.HandlePositionReport(ctx, &pr); err != nil {
		t.log.Error(ctx, "position report handling failed",
			logging.String("vehicle_id", pr.VehicleID),
			logging.Err(err),
		)
	}
}

// Stop unsubscribes from the position subject.
func (t *Telemetry) Stop() {
	if t.sub != nil {
		t.sub.Unsubscribe()
		t.sub = nil
	}
}
