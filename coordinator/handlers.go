package coordinator

import (
	"github.com/agentmail/coordinator/cluster"
	"github.com/agentmail/coordinator/consensus"
	"github.com/agentmail/coordinator/failuredetector"
	"github.com/agentmail/coordinator/store"
)

// nodeHandlers satisfies transport.Handlers by delegating each of the three
// inbound RPC endpoints to the component that actually owns that state,
// per spec.md §6's "one endpoint accepting consensus messages, one
// accepting heartbeats, one accepting state-sync pushes".
type nodeHandlers struct {
	acceptors *consensus.Registry
	detector  *failuredetector.Detector
	store     *store.Store
}

func (h *nodeHandlers) HandlePrepare(threadID string, n consensus.ProposalId) consensus.PrepareReply {
	return h.acceptors.HandlePrepare(threadID, n)
}

func (h *nodeHandlers) HandleAccept(threadID string, n consensus.ProposalId, v consensus.Value) consensus.AcceptReply {
	return h.acceptors.HandleAccept(threadID, n, v)
}

func (h *nodeHandlers) RecordHeartbeat(node cluster.NodeID, load float64, specializations []cluster.Specialization) {
	h.detector.RecordHeartbeat(node, load, specializations)
}

func (h *nodeHandlers) ApplyRemote(state store.ConversationState) bool {
	return h.store.ApplyRemote(state)
}
