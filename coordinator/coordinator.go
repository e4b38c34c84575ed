package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/agentmail/coordinator/cluster"
	"github.com/agentmail/coordinator/consensus"
	"github.com/agentmail/coordinator/dispatch"
	"github.com/agentmail/coordinator/external"
	"github.com/agentmail/coordinator/failuredetector"
	agentlogger "github.com/agentmail/coordinator/logger"
	"github.com/agentmail/coordinator/observability"
	"github.com/agentmail/coordinator/replication"
	"github.com/agentmail/coordinator/store"
	"github.com/agentmail/coordinator/transport"
)

// LoadFunc reports this node's current advertised load for heartbeats.
type LoadFunc func() float64

// Status is the read-only observation surface from spec.md §6.
type Status struct {
	NodeID                     cluster.NodeID
	Running                    bool
	PeerHealth                 map[cluster.NodeID]failuredetector.PeerHealth
	ConversationCount          int
	AssignmentsBySpecialization map[cluster.Specialization]int
}

// Coordinator is one running cluster node: the consensus engine, failure
// detector, conversation store, replication layer and dispatcher wired
// together behind one explicit handle, per §9's "replace the global
// coordinator singleton with an explicit context" design note.
type Coordinator struct {
	cfg        *Config
	membership *cluster.Membership
	obs        observability.Observability
	log        *slog.Logger
	tracer     trace.Tracer

	acceptors *consensus.Registry
	detector  *failuredetector.Detector
	store     *store.Store
	repl      *replication.Layer
	router    *transport.Router
	proposer  *consensus.Proposer
	dispatch  *dispatch.Dispatcher

	replyHandler external.ReplyHandler
	loadFn       LoadFunc

	running atomic.Bool

	assignDuration metric.Float64Histogram
	peerFailedCnt  metric.Int64Counter
}

// New assembles a Coordinator. wire is the Peer Transport's over-the-network
// half (nil is valid only if every peer is self, e.g. single-node tests
// using transport.NewMemoryBus().ForNode).
func New(cfg *Config, wire transport.Wire, classifier external.Classifier, replyHandler external.ReplyHandler, obs observability.Observability, loadFn LoadFunc) (*Coordinator, error) {
	membership, err := cluster.New(cfg.NodeID, cfg.ClusterNodes)
	if err != nil {
		return nil, fmt.Errorf("coordinator: %w", err)
	}
	if loadFn == nil {
		loadFn = func() float64 { return 0 }
	}

	log := obs.Logger().With(agentlogger.NodeID(string(cfg.NodeID)))

	acceptors := consensus.NewRegistry(cfg.NodeID, log)
	detector := failuredetector.New(cfg.HealthyInterval, cfg.FailureThreshold, log, failuredetector.WithTracer(obs.Tracer("coordinator")))
	detector.Seed(membership.Members())

	st := store.New(cfg.NodeID, nil, nil, log) // replica selector/onLocal wired below, after repl exists

	handlers := &nodeHandlers{acceptors: acceptors, detector: detector, store: st}
	router := transport.NewRouter(cfg.NodeID, handlers, wire)

	repl := replication.New(cfg.NodeID, router, cfg.RPCTimeout, log)
	st.SetHooks(func(threadID string) map[cluster.NodeID]struct{} {
		return replication.SelectReplicas(threadID, cfg.NodeID, healthyNodeIDs(detector), cfg.ReplicationFactor)
	}, repl.Push)

	meter := obs.Meter("coordinator")
	tracer := obs.Tracer("coordinator")
	proposer := consensus.NewProposer(cfg.NodeID, membership.Members(), membership.Quorum(), router, consensus.NewIDGenerator(cfg.NodeID, nil), cfg.RPCTimeout, log,
		consensus.WithTracer(tracer), consensus.WithMeter(meter))

	assignDuration, _ := meter.Float64Histogram("assign_duration_seconds")
	peerFailedCnt, _ := meter.Int64Counter("peer_failed_total")

	c := &Coordinator{
		cfg:            cfg,
		membership:     membership,
		obs:            obs,
		log:            log,
		tracer:         tracer,
		acceptors:      acceptors,
		detector:       detector,
		store:          st,
		repl:           repl,
		router:         router,
		proposer:       proposer,
		replyHandler:   replyHandler,
		loadFn:         loadFn,
		assignDuration: assignDuration,
		peerFailedCnt:  peerFailedCnt,
	}

	c.dispatch = dispatch.New(cfg.NodeID, detector, classifier, proposer, st, log)

	// Wire the failure detector's at-most-once peer_failed delivery to the
	// dispatcher's reassignment path now that the Coordinator exists.
	detector.SetOnFailed(c.onPeerFailed)
	return c, nil
}

func healthyNodeIDs(d *failuredetector.Detector) []cluster.NodeID {
	table := d.Table()
	out := make([]cluster.NodeID, 0, len(table))
	for id, ph := range table {
		if ph.Status == failuredetector.Healthy {
			out = append(out, id)
		}
	}
	return out
}

// HandleInboundEvent is the Transport's entry point into the core: it
// drives assignment and, when this node decided it owns the assignment,
// hands the event to the reply path.
func (c *Coordinator) HandleInboundEvent(ctx context.Context, event external.InboundEvent) (cluster.NodeID, error) {
	if event.MessageID == "" {
		event.MessageID = uuid.NewString()
	}
	ctx, span := c.tracer.Start(ctx, "assign")
	span.SetAttributes(attribute.String("message_id", event.MessageID))
	defer span.End()
	start := time.Now()

	decided, err := c.dispatch.Assign(ctx, event)

	c.assignDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.String("thread_id", event.ThreadID)))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	if decided == c.cfg.NodeID && c.replyHandler != nil {
		if _, err := c.replyHandler.HandleAssigned(ctx, event.ThreadID, event.InboxID, event); err != nil {
			c.log.Warn("reply handler returned an error", agentlogger.ThreadID(event.ThreadID), slog.String("message_id", event.MessageID), agentlogger.Error(err))
		}
	}
	return decided, nil
}

// Run launches the coordinator's background loops — the failure-detector
// scan and the outbound heartbeat tick — inside one errgroup, returning
// when ctx is cancelled and every loop has drained.
func (c *Coordinator) Run(ctx context.Context) error {
	c.running.Store(true)
	defer c.running.Store(false)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCancel(c.detector.Run(ctx)) })
	g.Go(func() error { return ignoreCancel(c.heartbeatLoop(ctx)) })
	return g.Wait()
}

func (c *Coordinator) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.HealthyInterval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.broadcastHeartbeat(ctx)
		}
	}
}

func (c *Coordinator) broadcastHeartbeat(ctx context.Context) {
	load := c.loadFn()
	for _, id := range c.membership.Members() {
		hctx, cancel := context.WithTimeout(ctx, c.cfg.RPCTimeout)
		if err := c.router.SendHeartbeat(hctx, id, c.cfg.NodeID, load, c.cfg.Specializations); err != nil {
			c.log.Debug("heartbeat send failed", agentlogger.Peer(string(id)), agentlogger.Error(err))
		}
		cancel()
	}
}

// onPeerFailed is registered with the failure detector at construction and
// fans failed-node reassignment out to the dispatcher.
func (c *Coordinator) onPeerFailed(id cluster.NodeID) {
	c.peerFailedCnt.Add(context.Background(), 1, metric.WithAttributes(attribute.String("node_id", string(id))))
	c.dispatch.OnPeerFailed(context.Background(), id)
}

// Handlers exposes the inbound dispatch surface this Coordinator's Router
// serves self-addressed calls against, for Wire implementations (such as
// transport.LibP2PWire) that must be constructed after the Router exists
// but need to register stream handlers against the same logic.
func (c *Coordinator) Handlers() transport.Handlers { return c.router.Handlers() }

// SetWire installs the over-the-network transport once it has been built
// from this Coordinator's Handlers. Must be called before Run for any
// deployment with more than one node.
func (c *Coordinator) SetWire(wire transport.Wire) { c.router.SetWire(wire) }

// Status returns the read-only observation surface from spec.md §6.
func (c *Coordinator) Status() Status {
	return Status{
		NodeID:                      c.cfg.NodeID,
		Running:                     c.running.Load(),
		PeerHealth:                  c.detector.Table(),
		ConversationCount:           c.store.Count(),
		AssignmentsBySpecialization: c.store.AssignmentsBySpecialization(),
	}
}
