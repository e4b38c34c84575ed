package failuredetector

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/agentmail/coordinator/cluster"
	agentlogger "github.com/agentmail/coordinator/logger"
)

// Clock abstracts wall-clock time so tests can drive the scan loop without
// sleeping for real intervals.
type Clock func() time.Time

// Detector tracks peer liveness and drives the suspect/failed state
// machine. Its table is read concurrently but mutated only by heartbeat
// ingress and the periodic Scan, as required by the concurrency model.
type Detector struct {
	healthyInterval  time.Duration
	failureThreshold int
	now              Clock
	log              *slog.Logger
	tracer           trace.Tracer

	mu    sync.RWMutex
	peers map[cluster.NodeID]*PeerHealth

	onFailed func(cluster.NodeID)
}

// Option configures a Detector at construction.
type Option func(*Detector)

func WithClock(now Clock) Option {
	return func(d *Detector) { d.now = now }
}

// WithTracer wraps each Scan pass in a "failuredetector.scan" span and adds
// a peer_failed event to it for every FAILED transition; SUSPECTED and
// RECOVERING transitions are logged but not recorded on the span.
func WithTracer(t trace.Tracer) Option {
	return func(d *Detector) { d.tracer = t }
}

// WithOnFailed registers the callback invoked at-most-once per FAILED
// transition. Typically wired to the dispatcher's on_peer_failed.
func WithOnFailed(f func(cluster.NodeID)) Option {
	return func(d *Detector) { d.onFailed = f }
}

// SetOnFailed wires the peer_failed callback after construction, for
// callers that must build the callback from the Detector's own owner
// (coordinator.New builds the Coordinator after the Detector exists).
func (d *Detector) SetOnFailed(f func(cluster.NodeID)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onFailed = f
}

func New(healthyInterval time.Duration, failureThreshold int, log *slog.Logger, opts ...Option) *Detector {
	if log == nil {
		log = slog.Default()
	}
	d := &Detector{
		healthyInterval:  healthyInterval,
		failureThreshold: failureThreshold,
		now:              time.Now,
		log:              log,
		tracer:           nooptrace.NewTracerProvider().Tracer("failuredetector"),
		peers:            make(map[cluster.NodeID]*PeerHealth),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Seed registers peers known from static membership at Healthy status with
// a last heartbeat of the current time, so a Scan before any heartbeat
// arrives ages them from startup rather than finding no entry.
func (d *Detector) Seed(peers []cluster.NodeID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range peers {
		if _, ok := d.peers[id]; !ok {
			ph := newPeerHealth(id)
			ph.LastHeartbeat = d.now()
			d.peers[id] = ph
		}
	}
}

// RecordHeartbeat ingests a heartbeat from node, updating its advertised
// load (as an EMA, see PeerHealth) and specializations and resetting its
// failure count. A peer transitioning out of SUSPECTED/FAILED moves to
// RECOVERING; Scan promotes it to HEALTHY after one clean interval.
func (d *Detector) RecordHeartbeat(node cluster.NodeID, load float64, specializations []cluster.Specialization) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ph, ok := d.peers[node]
	if !ok {
		ph = newPeerHealth(node)
		d.peers[node] = ph
	}

	now := d.now()
	ph.updateLoad(load)
	ph.LastHeartbeat = now
	ph.FailureCount = 0
	specs := make(map[cluster.Specialization]struct{}, len(specializations))
	for _, s := range specializations {
		specs[s] = struct{}{}
	}
	ph.Specializations = specs

	if ph.Status == Suspected || ph.Status == Failed {
		ph.Status = Recovering
		ph.recoveringSince = now
	}
}

// Scan runs one failure-detection pass over every known peer, per §4.2.
// peer_failed events are delivered through onFailed at most once per FAILED
// transition.
func (d *Detector) Scan(ctx context.Context) {
	ctx, span := d.tracer.Start(ctx, "failuredetector.scan")
	defer span.End()

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	window := 2 * d.healthyInterval
	for id, ph := range d.peers {
		elapsed := now.Sub(ph.LastHeartbeat)
		switch {
		case elapsed > window:
			ph.FailureCount++
			if ph.FailureCount >= d.failureThreshold && ph.Status != Failed {
				ph.Status = Failed
				if !ph.failedEmitted {
					ph.failedEmitted = true
					d.log.Warn("peer failed", agentlogger.Peer(string(id)), slog.Int("failure_count", ph.FailureCount))
					span.AddEvent("peer_failed", trace.WithAttributes(attribute.String("peer", string(id))))
					if d.onFailed != nil {
						go d.onFailed(id)
					}
				}
			} else if ph.Status == Healthy {
				ph.Status = Suspected
				d.log.Debug("peer suspected", agentlogger.Peer(string(id)))
			}
		case ph.Status == Recovering && now.Sub(ph.recoveringSince) >= d.healthyInterval:
			ph.Status = Healthy
			ph.failedEmitted = false
			d.log.Info("peer recovered", agentlogger.Peer(string(id)))
		}
	}
}

// Get returns a snapshot copy of one peer's health record.
func (d *Detector) Get(id cluster.NodeID) (PeerHealth, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ph, ok := d.peers[id]
	if !ok {
		return PeerHealth{}, false
	}
	return *ph, true
}

// Table returns a snapshot of every peer's health record, for the status
// surface and for dispatcher candidate selection.
func (d *Detector) Table() map[cluster.NodeID]PeerHealth {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[cluster.NodeID]PeerHealth, len(d.peers))
	for id, ph := range d.peers {
		out[id] = *ph
	}
	return out
}

// Run launches the periodic scan loop on healthyInterval, until ctx is
// cancelled.
func (d *Detector) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.healthyInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.Scan(ctx)
		}
	}
}
