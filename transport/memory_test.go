package transport

import (
	"context"
	"testing"
	"time"

	"github.com/agentmail/coordinator/cluster"
	"github.com/agentmail/coordinator/consensus"
	"github.com/agentmail/coordinator/failuredetector"
	"github.com/agentmail/coordinator/store"
	"github.com/stretchr/testify/require"
)

type testNode struct {
	id       cluster.NodeID
	handlers Handlers
	router   *Router
}

func newTestCluster(bus *MemoryBus, ids ...cluster.NodeID) map[cluster.NodeID]*testNode {
	nodes := make(map[cluster.NodeID]*testNode, len(ids))
	for _, id := range ids {
		h := &fakeHandlers{
			acceptors: consensus.NewRegistry(id, nil),
			detector:  failuredetector.New(time.Second, 3, nil),
			store:     store.New(id, nil, nil, nil),
		}
		nodes[id] = &testNode{id: id, handlers: h}
		bus.Register(id, h)
	}
	for _, n := range nodes {
		n.router = NewRouter(n.id, n.handlers, bus.ForNode(n.id))
	}
	return nodes
}

type fakeHandlers struct {
	acceptors *consensus.Registry
	detector  *failuredetector.Detector
	store     *store.Store
}

func (h *fakeHandlers) HandlePrepare(threadID string, n consensus.ProposalId) consensus.PrepareReply {
	return h.acceptors.HandlePrepare(threadID, n)
}
func (h *fakeHandlers) HandleAccept(threadID string, n consensus.ProposalId, v consensus.Value) consensus.AcceptReply {
	return h.acceptors.HandleAccept(threadID, n, v)
}
func (h *fakeHandlers) RecordHeartbeat(node cluster.NodeID, load float64, specs []cluster.Specialization) {
	h.detector.RecordHeartbeat(node, load, specs)
}
func (h *fakeHandlers) ApplyRemote(state store.ConversationState) bool { return h.store.ApplyRemote(state) }

func TestRouter_SelfAddressedCallsBypassWire(t *testing.T) {
	bus := NewMemoryBus()
	nodes := newTestCluster(bus, "node-a")
	a := nodes["node-a"]

	reply, err := a.router.SendPrepare(context.Background(), "node-a", "thread-1", consensus.ProposalId{Ts: 1})
	require.NoError(t, err)
	require.IsType(t, consensus.Promise{}, reply)
}

func TestRouter_RemoteCallRoundTripsThroughBus(t *testing.T) {
	bus := NewMemoryBus()
	nodes := newTestCluster(bus, "node-a", "node-b")
	a, b := nodes["node-a"], nodes["node-b"]

	reply, err := a.router.SendPrepare(context.Background(), "node-b", "thread-1", consensus.ProposalId{Ts: 1})
	require.NoError(t, err)
	require.IsType(t, consensus.Promise{}, reply)

	_, ok := b.handlers.(*fakeHandlers).acceptors.For("thread-1").HandlePrepare(consensus.ProposalId{Ts: 0}).(consensus.Nack)
	require.True(t, ok, "node-b's acceptor must have recorded the promise from node-a's call")
}

func TestMemoryBus_SetUnreachableSimulatesPartition(t *testing.T) {
	bus := NewMemoryBus()
	nodes := newTestCluster(bus, "node-a", "node-b")
	a := nodes["node-a"]

	bus.SetUnreachable("node-b", true)
	_, err := a.router.SendPrepare(context.Background(), "node-b", "thread-1", consensus.ProposalId{Ts: 1})
	require.ErrorIs(t, err, ErrPeerUnreachable)

	bus.SetUnreachable("node-b", false)
	_, err = a.router.SendPrepare(context.Background(), "node-b", "thread-1", consensus.ProposalId{Ts: 1})
	require.NoError(t, err)
}

func TestRouter_StateSyncAndHeartbeatRoundTrip(t *testing.T) {
	bus := NewMemoryBus()
	nodes := newTestCluster(bus, "node-a", "node-b")
	a, b := nodes["node-a"], nodes["node-b"]

	err := a.router.SendHeartbeat(context.Background(), "node-b", "node-a", 0.4, []cluster.Specialization{"billing"})
	require.NoError(t, err)
	ph, ok := b.handlers.(*fakeHandlers).detector.Get("node-a")
	require.True(t, ok)
	require.Equal(t, 0.4, ph.Load)

	state := store.ConversationState{ThreadID: "thread-1", Version: 1, Origin: "node-a", AssignedNode: "node-a"}
	err = a.router.SendStateSync(context.Background(), "node-b", state)
	require.NoError(t, err)
	got, ok := b.handlers.(*fakeHandlers).store.Get("thread-1")
	require.True(t, ok)
	require.EqualValues(t, 1, got.Version)
}
