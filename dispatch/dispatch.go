// Package dispatch implements the assignment logic that ties classification,
// candidate selection, consensus and the conversation store together, per
// spec.md §4.3.
package dispatch

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/agentmail/coordinator/cluster"
	"github.com/agentmail/coordinator/consensus"
	"github.com/agentmail/coordinator/external"
	"github.com/agentmail/coordinator/failuredetector"
	agentlogger "github.com/agentmail/coordinator/logger"
	"github.com/agentmail/coordinator/store"
)

// HealthTable is the candidate-selection view the Dispatcher needs from the
// failure detector: every peer's current status, load and advertised
// specializations. The local node is a candidate only through its own
// entry in this table, on the same terms as any remote peer.
type HealthTable interface {
	Table() map[cluster.NodeID]failuredetector.PeerHealth
}

// Proposer is the consensus capability the Dispatcher drives.
type Proposer interface {
	Propose(ctx context.Context, threadID string, value consensus.Value) (consensus.Value, error)
}

// Dispatcher implements assign/on_peer_failed. At most one assign is
// in-flight per thread_id at a time; concurrent callers for the same
// thread_id are coalesced onto one consensus instance via a single-flight
// group, per §4.3's concurrency requirement.
type Dispatcher struct {
	self       cluster.NodeID
	health     HealthTable
	classifier external.Classifier
	proposer   Proposer
	store      *store.Store
	log        *slog.Logger

	maxRetries int
	backoff    time.Duration

	sf singleflight.Group
}

// Option configures a Dispatcher at construction.
type Option func(*Dispatcher)

func WithRetryBudget(maxRetries int, backoff time.Duration) Option {
	return func(d *Dispatcher) { d.maxRetries = maxRetries; d.backoff = backoff }
}

func New(self cluster.NodeID, health HealthTable, classifier external.Classifier, proposer Proposer, st *store.Store, log *slog.Logger, opts ...Option) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	d := &Dispatcher{
		self:       self,
		health:     health,
		classifier: classifier,
		proposer:   proposer,
		store:      st,
		log:        log,
		maxRetries: 3,
		backoff:    50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Assign classifies event, selects the least-loaded eligible candidate,
// drives consensus to bind (thread_id, candidate), and records the decided
// binding in the conversation store. Concurrent calls for the same
// thread_id observe the same decided value.
func (d *Dispatcher) Assign(ctx context.Context, event external.InboundEvent) (cluster.NodeID, error) {
	v, err, _ := d.sf.Do(event.ThreadID, func() (any, error) {
		return d.assignOnce(ctx, event)
	})
	if err != nil {
		return "", err
	}
	return v.(cluster.NodeID), nil
}

func (d *Dispatcher) assignOnce(ctx context.Context, event external.InboundEvent) (cluster.NodeID, error) {
	specialization, err := d.classifier.Classify(ctx, event.Subject+"\n"+event.Body, event.Sender)
	if err != nil {
		return "", err
	}

	best, err := d.selectCandidate(specialization)
	if err != nil {
		return "", err
	}

	decided, err := d.proposeWithRetry(ctx, event.ThreadID, consensus.Value{ThreadID: event.ThreadID, Node: best})
	if err != nil {
		return "", err
	}

	digest := store.Digest(event.Subject, event.Body)
	st := d.store.Upsert(event.ThreadID, decided.Node, store.Context{
		Classification: specialization,
		Sender:         event.Sender,
		ContentDigest:  digest,
		Extra:          event.Extra,
	}, time.Now())

	d.log.Info("assigned conversation",
		agentlogger.ThreadID(event.ThreadID),
		agentlogger.Peer(string(st.AssignedNode)),
		slog.String("specialization", string(specialization)),
		slog.Uint64("version", st.Version))

	return decided.Node, nil
}

// OnPeerFailed re-assigns every conversation this node believes was owned
// by failedNode, preserving the original classification and sender in the
// reassignment context.
func (d *Dispatcher) OnPeerFailed(ctx context.Context, failedNode cluster.NodeID) {
	for _, cs := range d.store.ListByAssignee(failedNode) {
		event := external.InboundEvent{
			ThreadID: cs.ThreadID,
			Sender:   cs.Context.Sender,
			Extra:    cs.Context.Extra,
		}
		best, err := d.selectCandidate(cs.Context.Classification)
		if err != nil {
			d.log.Warn("cannot reassign conversation, no eligible candidate",
				agentlogger.ThreadID(cs.ThreadID), agentlogger.Peer(string(failedNode)))
			continue
		}
		decided, err := d.proposeWithRetry(ctx, event.ThreadID, consensus.Value{ThreadID: event.ThreadID, Node: best})
		if err != nil {
			d.log.Warn("reassignment consensus failed", agentlogger.ThreadID(event.ThreadID), agentlogger.Error(err))
			continue
		}
		d.store.Upsert(event.ThreadID, decided.Node, cs.Context, time.Now())
		d.log.Info("reassigned conversation after peer failure",
			agentlogger.ThreadID(event.ThreadID), agentlogger.Peer(string(failedNode)), slog.String("new_owner", string(decided.Node)))
	}
}

// selectCandidate builds the candidate set of HEALTHY nodes advertising
// specialization and returns the one with minimum load, ties broken by
// stable NodeId ordering.
func (d *Dispatcher) selectCandidate(specialization cluster.Specialization) (cluster.NodeID, error) {
	table := d.health.Table()

	type candidate struct {
		id   cluster.NodeID
		load float64
	}
	var candidates []candidate
	for id, ph := range table {
		if ph.Status != failuredetector.Healthy {
			continue
		}
		if !ph.HasSpecialization(specialization) {
			continue
		}
		candidates = append(candidates, candidate{id: id, load: ph.Load})
	}

	if len(candidates) == 0 {
		return "", ErrNoEligibleCandidate
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].load != candidates[j].load {
			return candidates[i].load < candidates[j].load
		}
		return candidates[i].id < candidates[j].id
	})
	return candidates[0].id, nil
}

// proposeWithRetry drives consensus, retrying up to maxRetries times with an
// exponential backoff (backoff, 2*backoff, ...) on a failed Propose, per
// §7's ConsensusTimeout -> (retry) ->
// ConsensusUnavailable policy.
func (d *Dispatcher) proposeWithRetry(ctx context.Context, threadID string, value consensus.Value) (consensus.Value, error) {
	var lastErr error
	for attempt := 0; attempt <= d.maxRetries; attempt++ {
		decided, err := d.proposer.Propose(ctx, threadID, value)
		if err == nil {
			return decided, nil
		}
		lastErr = err
		if attempt < d.maxRetries {
			select {
			case <-ctx.Done():
				return consensus.Value{}, ctx.Err()
			case <-time.After(d.backoff * time.Duration(1<<attempt)):
			}
		}
	}
	d.log.Warn("consensus unavailable after retries", agentlogger.ThreadID(threadID), agentlogger.Error(lastErr))
	return consensus.Value{}, ErrConsensusUnavailable
}
