package transport

import (
	"github.com/agentmail/coordinator/cluster"
	"github.com/agentmail/coordinator/consensus"
	"github.com/agentmail/coordinator/store"
)

// Handlers is the inbound side of the Peer Transport: the three endpoints
// named in spec.md §6, implemented in-process by the consensus registry,
// failure detector and conversation store respectively. Every method here
// is non-suspending beyond its own single mutex-protected critical
// section, per the concurrency model.
type Handlers interface {
	HandlePrepare(threadID string, n consensus.ProposalId) consensus.PrepareReply
	HandleAccept(threadID string, n consensus.ProposalId, v consensus.Value) consensus.AcceptReply
	RecordHeartbeat(node cluster.NodeID, load float64, specializations []cluster.Specialization)
	ApplyRemote(state store.ConversationState) bool
}
