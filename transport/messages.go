// Package transport implements the Peer Transport described in spec.md
// §4.6: a request/response RPC channel carrying Prepare, Promise, Accept,
// Accepted, Heartbeat and StateSync messages, with a local-loopback
// optimization for calls addressed to self.
package transport

import (
	"time"

	"github.com/agentmail/coordinator/cluster"
	"github.com/agentmail/coordinator/consensus"
	"github.com/agentmail/coordinator/store"
)

// Kind identifies the message family carried by one RPC call.
type Kind string

const (
	KindPrepare   Kind = "prepare"
	KindPromise   Kind = "promise"
	KindAccept    Kind = "accept"
	KindAccepted  Kind = "accepted"
	KindHeartbeat Kind = "heartbeat"
	KindStateSync Kind = "statesync"
)

// Envelope is the self-describing wire object every call carries, per §6:
// {kind, sender, ts} plus a kind-specific payload. Timestamps are advisory
// only and never used for safety decisions. CorrelationID ties a request
// envelope to its response in logs; it plays no role in consensus safety.
type Envelope struct {
	Kind          Kind
	Sender        cluster.NodeID
	Ts            time.Time
	CorrelationID string

	PrepareReq *PrepareRequest `json:",omitempty"`
	AcceptReq  *AcceptRequest  `json:",omitempty"`
	Heartbeat  *HeartbeatMsg   `json:",omitempty"`
	StateSync  *StateSyncMsg   `json:",omitempty"`

	PrepareResp *PrepareResponse `json:",omitempty"`
	AcceptResp  *AcceptResponse  `json:",omitempty"`
}

type PrepareRequest struct {
	ThreadID string
	Id       consensus.ProposalId
}

// PrepareResponse carries either a granted Promise or a Nack; Granted is
// the tag distinguishing the two, modeled explicitly rather than relying on
// zero-valued pointer fields to mean "this is a Nack".
type PrepareResponse struct {
	Granted       bool
	PromisedId    consensus.ProposalId
	AcceptedId    *consensus.ProposalId
	AcceptedValue *consensus.Value
}

type AcceptRequest struct {
	ThreadID string
	Id       consensus.ProposalId
	Value    consensus.Value
}

type AcceptResponse struct {
	Granted    bool
	PromisedId consensus.ProposalId
}

type HeartbeatMsg struct {
	NodeID          cluster.NodeID
	Load            float64
	Specializations []cluster.Specialization
	Ts              time.Time
}

type StateSyncMsg struct {
	State store.ConversationState
}
