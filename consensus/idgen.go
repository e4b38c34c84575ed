package consensus

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/agentmail/coordinator/cluster"
)

// Clock abstracts wall-clock time so tests can inject a non-monotone clock
// to exercise the regression-handling path in IDGenerator.
type Clock func() time.Time

// IDGenerator issues strictly increasing ProposalIds for one node. It
// caches the last issued id and bumps the sequence on a tie or a backwards
// clock step, so monotonicity holds across a single node's proposals even
// under clock non-regressions.
type IDGenerator struct {
	mu       sync.Mutex
	tiebreak uint32
	last     ProposalId
	now      Clock
}

// NewIDGenerator derives a stable tiebreaker from nodeID (FNV-1a of the
// node id string) so that ids from distinct nodes at the same millisecond
// still compare strictly almost always; a residual tie is broken by Seq,
// which starts independently per node and therefore cannot by itself
// guarantee cross-node uniqueness — proposers additionally lean on Compare
// being a total order, not on Tiebreak alone, for correctness.
func NewIDGenerator(nodeID cluster.NodeID, now Clock) *IDGenerator {
	if now == nil {
		now = time.Now
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(nodeID))
	return &IDGenerator{tiebreak: h.Sum32(), now: now}
}

// Next returns the next ProposalId for this node, strictly greater than
// every id this generator has previously returned.
func (g *IDGenerator) Next() ProposalId {
	g.mu.Lock()
	defer g.mu.Unlock()

	ts := g.now().UnixMilli()
	next := ProposalId{Ts: ts, Tiebreak: g.tiebreak, Seq: 0}
	if next.Compare(g.last) <= 0 {
		// Clock regression or same-millisecond call: hold the last
		// timestamp and bump the sequence instead of going backwards.
		next = ProposalId{Ts: g.last.Ts, Tiebreak: g.tiebreak, Seq: g.last.Seq + 1}
	}
	g.last = next
	return next
}
