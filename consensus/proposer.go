package consensus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/agentmail/coordinator/cluster"
	agentlogger "github.com/agentmail/coordinator/logger"
)

// PeerRPC is the subset of the Peer Transport the proposer drives. A single
// implementation is expected to route a call addressed to self in-process
// (the local-loopback optimization, §4.6) and every other call over the
// wire.
type PeerRPC interface {
	SendPrepare(ctx context.Context, to cluster.NodeID, threadID string, n ProposalId) (PrepareReply, error)
	SendAccept(ctx context.Context, to cluster.NodeID, threadID string, n ProposalId, v Value) (AcceptReply, error)
}

// Proposer drives Phase 1 / Phase 2 for one node. It holds no state across
// calls; all per-call bookkeeping (pending promises/acceptances) is local
// to Propose, per the concurrency model.
type Proposer struct {
	self    cluster.NodeID
	members []cluster.NodeID
	quorum  int
	rpc     PeerRPC
	ids     *IDGenerator
	timeout time.Duration
	log     *slog.Logger
	tracer  trace.Tracer

	proposeTotal    metric.Int64Counter
	proposeDuration metric.Float64Histogram
}

// Option configures a Proposer's observability wiring at construction. The
// zero value (no options) still works: Propose falls back to a no-op
// tracer and records metrics through a no-op meter's instruments.
type Option func(*Proposer)

// WithTracer wraps every Propose call in a span named "consensus.propose".
func WithTracer(t trace.Tracer) Option {
	return func(p *Proposer) { p.tracer = t }
}

// WithMeter registers propose_total and propose_duration_seconds
// instruments against m, mirroring the teacher's per-node counters/
// histograms for consensus rounds.
func WithMeter(m metric.Meter) Option {
	return func(p *Proposer) {
		if total, err := m.Int64Counter("propose_total"); err == nil {
			p.proposeTotal = total
		}
		if dur, err := m.Float64Histogram("propose_duration_seconds"); err == nil {
			p.proposeDuration = dur
		}
	}
}

func NewProposer(self cluster.NodeID, members []cluster.NodeID, quorum int, rpc PeerRPC, ids *IDGenerator, timeout time.Duration, log *slog.Logger, opts ...Option) *Proposer {
	if log == nil {
		log = slog.Default()
	}
	noopMeter := noop.NewMeterProvider().Meter("consensus")
	proposeTotal, _ := noopMeter.Int64Counter("propose_total")
	proposeDuration, _ := noopMeter.Float64Histogram("propose_duration_seconds")
	p := &Proposer{
		self: self, members: members, quorum: quorum, rpc: rpc, ids: ids, timeout: timeout, log: log,
		tracer:          nooptrace.NewTracerProvider().Tracer("consensus"),
		proposeTotal:    proposeTotal,
		proposeDuration: proposeDuration,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Propose drives one full instance of single-decree Paxos for threadID,
// proposing value. It returns the decided value (which may differ from
// value if another proposer's accepted value won Phase 1) and nil, or a
// zero Value and ErrConsensusTimeout if quorum could not be reached in
// either phase.
func (p *Proposer) Propose(ctx context.Context, threadID string, value Value) (Value, error) {
	ctx, span := p.tracer.Start(ctx, "consensus.propose")
	span.SetAttributes(attribute.String("thread_id", threadID))
	start := time.Now()
	defer func() {
		p.proposeDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.String("thread_id", threadID)))
		span.End()
	}()

	decided, err := p.propose(ctx, threadID, value)

	outcome := "ok"
	if err != nil {
		outcome = "error"
		span.SetStatus(codes.Error, err.Error())
	}
	p.proposeTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	return decided, err
}

func (p *Proposer) propose(ctx context.Context, threadID string, value Value) (Value, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	n := p.ids.Next()

	promises, err := p.preparePhase(ctx, threadID, n)
	if err != nil {
		return Value{}, err
	}

	chosen := highestAccepted(promises, value)

	if err := p.acceptPhase(ctx, threadID, n, chosen); err != nil {
		return Value{}, err
	}

	return chosen, nil
}

func (p *Proposer) preparePhase(ctx context.Context, threadID string, n ProposalId) ([]Promise, error) {
	type result struct {
		reply PrepareReply
		err   error
	}
	results := make(chan result, len(p.members))

	var wg sync.WaitGroup
	for _, member := range p.members {
		member := member
		wg.Add(1)
		go func() {
			defer wg.Done()
			reply, err := p.rpc.SendPrepare(ctx, member, threadID, n)
			select {
			case results <- result{reply, err}:
			case <-ctx.Done():
			}
		}()
	}
	go func() { wg.Wait(); close(results) }()

	var promises []Promise
	for r := range results {
		if r.err != nil {
			continue // timed-out / unreachable peer: neither Promise nor Nack
		}
		if promise, ok := r.reply.(Promise); ok {
			promises = append(promises, promise)
			if len(promises) >= p.quorum {
				// Quorum reached; remaining in-flight replies are drained
				// by the goroutine closing results, we just stop waiting.
				return promises, nil
			}
		}
	}
	if len(promises) < p.quorum {
		p.log.Debug("prepare phase failed to reach quorum", agentlogger.ThreadID(threadID), slog.Int("promises", len(promises)), slog.Int("quorum", p.quorum))
		return nil, ErrConsensusTimeout
	}
	return promises, nil
}

func (p *Proposer) acceptPhase(ctx context.Context, threadID string, n ProposalId, v Value) error {
	type result struct {
		reply AcceptReply
		err   error
	}
	results := make(chan result, len(p.members))

	var wg sync.WaitGroup
	for _, member := range p.members {
		member := member
		wg.Add(1)
		go func() {
			defer wg.Done()
			reply, err := p.rpc.SendAccept(ctx, member, threadID, n, v)
			select {
			case results <- result{reply, err}:
			case <-ctx.Done():
			}
		}()
	}
	go func() { wg.Wait(); close(results) }()

	accepted := 0
	for r := range results {
		if r.err != nil {
			continue
		}
		if _, ok := r.reply.(Accepted); ok {
			accepted++
			if accepted >= p.quorum {
				return nil
			}
		}
	}
	if accepted < p.quorum {
		p.log.Debug("accept phase failed to reach quorum", agentlogger.ThreadID(threadID), slog.Int("accepted", accepted), slog.Int("quorum", p.quorum))
		return ErrConsensusTimeout
	}
	return nil
}

// highestAccepted selects, among promises, the accepted_value associated
// with the highest non-bottom accepted_id; falls back to fallback when no
// promise reported an accepted value.
func highestAccepted(promises []Promise, fallback Value) Value {
	var best *ProposalId
	var bestValue Value
	for _, promise := range promises {
		if promise.AcceptedId == nil {
			continue
		}
		if best == nil || promise.AcceptedId.Compare(*best) > 0 {
			best = promise.AcceptedId
			bestValue = *promise.AcceptedValue
		}
	}
	if best == nil {
		return fallback
	}
	return bestValue
}
