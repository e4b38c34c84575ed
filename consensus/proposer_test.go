package consensus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/agentmail/coordinator/cluster"
	"github.com/stretchr/testify/require"
)

// fakeCluster wires N independent Registries together behind one PeerRPC,
// so Proposer.Propose exercises the real acceptor logic without any
// network layer.
type fakeCluster struct {
	mu        sync.Mutex
	acceptors map[cluster.NodeID]*Registry
	unreachable map[cluster.NodeID]bool
}

func newFakeCluster(members []cluster.NodeID) *fakeCluster {
	fc := &fakeCluster{acceptors: make(map[cluster.NodeID]*Registry), unreachable: make(map[cluster.NodeID]bool)}
	for _, m := range members {
		fc.acceptors[m] = NewRegistry(m, nil)
	}
	return fc
}

func (fc *fakeCluster) setUnreachable(id cluster.NodeID, v bool) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.unreachable[id] = v
}

func (fc *fakeCluster) SendPrepare(ctx context.Context, to cluster.NodeID, threadID string, n ProposalId) (PrepareReply, error) {
	fc.mu.Lock()
	unreachable := fc.unreachable[to]
	fc.mu.Unlock()
	if unreachable {
		return nil, errors.New("unreachable")
	}
	return fc.acceptors[to].HandlePrepare(threadID, n), nil
}

func (fc *fakeCluster) SendAccept(ctx context.Context, to cluster.NodeID, threadID string, n ProposalId, v Value) (AcceptReply, error) {
	fc.mu.Lock()
	unreachable := fc.unreachable[to]
	fc.mu.Unlock()
	if unreachable {
		return nil, errors.New("unreachable")
	}
	return fc.acceptors[to].HandleAccept(threadID, n, v), nil
}

func threeNodeCluster() []cluster.NodeID {
	return []cluster.NodeID{"node-a", "node-b", "node-c"}
}

func TestProposer_ThreeNodesNoFailure(t *testing.T) {
	members := threeNodeCluster()
	fc := newFakeCluster(members)
	p := NewProposer("node-a", members, 2, fc, NewIDGenerator("node-a", nil), time.Second, nil)

	decided, err := p.Propose(context.Background(), "thread-1", Value{ThreadID: "thread-1", Node: "node-a"})
	require.NoError(t, err)
	require.Equal(t, Value{ThreadID: "thread-1", Node: "node-a"}, decided)
}

func TestProposer_NoQuorumReturnsTimeout(t *testing.T) {
	members := threeNodeCluster()
	fc := newFakeCluster(members)
	fc.setUnreachable("node-b", true)
	fc.setUnreachable("node-c", true)

	p := NewProposer("node-a", members, 2, fc, NewIDGenerator("node-a", nil), 50*time.Millisecond, nil)
	_, err := p.Propose(context.Background(), "thread-1", Value{ThreadID: "thread-1", Node: "node-a"})
	require.ErrorIs(t, err, ErrConsensusTimeout)
}

func TestProposer_DuelingProposersConverge(t *testing.T) {
	members := threeNodeCluster()
	fc := newFakeCluster(members)

	// node-b drives a lower-numbered prepare/accept on thread-1 first, so
	// by the time node-a's proposal is prepared, an already-accepted value
	// exists that node-a's Phase 1 must see and preserve.
	pb := NewProposer("node-b", members, 2, fc, NewIDGenerator("node-b", func() time.Time { return time.UnixMilli(1000) }), time.Second, nil)
	decidedB, err := pb.Propose(context.Background(), "thread-1", Value{ThreadID: "thread-1", Node: "node-b"})
	require.NoError(t, err)
	require.Equal(t, cluster.NodeID("node-b"), decidedB.Node)

	pa := NewProposer("node-a", members, 2, fc, NewIDGenerator("node-a", func() time.Time { return time.UnixMilli(2000) }), time.Second, nil)
	decidedA, err := pa.Propose(context.Background(), "thread-1", Value{ThreadID: "thread-1", Node: "node-a"})
	require.NoError(t, err)

	// Safety: the second proposer's higher-numbered round must still
	// surface node-b's already-chosen value rather than overwriting it.
	require.Equal(t, decidedB, decidedA)
}
