package transport

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/agentmail/coordinator/cluster"
	"github.com/agentmail/coordinator/consensus"
	"github.com/agentmail/coordinator/store"
)

// Wire is the over-the-network half of the Peer Transport: everything that
// is NOT addressed to self. Implementations must not retry internally —
// retry is the Dispatcher's responsibility, per §4.6.
type Wire interface {
	SendPrepare(ctx context.Context, to cluster.NodeID, env Envelope) (Envelope, error)
	SendAccept(ctx context.Context, to cluster.NodeID, env Envelope) (Envelope, error)
	SendHeartbeat(ctx context.Context, to cluster.NodeID, env Envelope) error
	SendStateSync(ctx context.Context, to cluster.NodeID, env Envelope) error
}

// Router is the Peer Transport entry point used by every component in this
// node. A call addressed to self is served in-process against Handlers,
// bypassing Wire entirely but still going through the acceptor's normal
// mutex discipline; every other call is handed to Wire.
type Router struct {
	self     cluster.NodeID
	handlers Handlers
	wire     Wire
}

func NewRouter(self cluster.NodeID, handlers Handlers, wire Wire) *Router {
	return &Router{self: self, handlers: handlers, wire: wire}
}

// SetWire installs the over-the-network half after construction, for
// callers whose Wire implementation needs the Router's own Handlers to
// build its inbound stream handlers (transport.NewLibP2PWire) and so can't
// exist before the Router does.
func (r *Router) SetWire(wire Wire) { r.wire = wire }

// Handlers returns the Handlers this Router dispatches self-addressed
// calls against, for constructing a Wire that serves the same handlers.
func (r *Router) Handlers() Handlers { return r.handlers }

// SendPrepare implements consensus.PeerRPC.
func (r *Router) SendPrepare(ctx context.Context, to cluster.NodeID, threadID string, n consensus.ProposalId) (consensus.PrepareReply, error) {
	if to == r.self {
		return r.handlers.HandlePrepare(threadID, n), nil
	}
	req := Envelope{Kind: KindPrepare, Sender: r.self, Ts: time.Now(), CorrelationID: uuid.NewString(), PrepareReq: &PrepareRequest{ThreadID: threadID, Id: n}}
	resp, err := r.wire.SendPrepare(ctx, to, req)
	if err != nil {
		return nil, err
	}
	return decodePrepareReply(to, resp)
}

// SendAccept implements consensus.PeerRPC.
func (r *Router) SendAccept(ctx context.Context, to cluster.NodeID, threadID string, n consensus.ProposalId, v consensus.Value) (consensus.AcceptReply, error) {
	if to == r.self {
		return r.handlers.HandleAccept(threadID, n, v), nil
	}
	req := Envelope{Kind: KindAccept, Sender: r.self, Ts: time.Now(), CorrelationID: uuid.NewString(), AcceptReq: &AcceptRequest{ThreadID: threadID, Id: n, Value: v}}
	resp, err := r.wire.SendAccept(ctx, to, req)
	if err != nil {
		return nil, err
	}
	return decodeAcceptReply(to, resp)
}

// SendHeartbeat pushes this node's liveness advertisement to a peer.
func (r *Router) SendHeartbeat(ctx context.Context, to cluster.NodeID, node cluster.NodeID, load float64, specializations []cluster.Specialization) error {
	if to == r.self {
		r.handlers.RecordHeartbeat(node, load, specializations)
		return nil
	}
	env := Envelope{Kind: KindHeartbeat, Sender: r.self, Ts: time.Now(), CorrelationID: uuid.NewString(), Heartbeat: &HeartbeatMsg{
		NodeID: node, Load: load, Specializations: specializations, Ts: time.Now(),
	}}
	return r.wire.SendHeartbeat(ctx, to, env)
}

// SendStateSync implements replication.Pusher.
func (r *Router) SendStateSync(ctx context.Context, to cluster.NodeID, state store.ConversationState) error {
	if to == r.self {
		r.handlers.ApplyRemote(state)
		return nil
	}
	env := Envelope{Kind: KindStateSync, Sender: r.self, Ts: time.Now(), CorrelationID: uuid.NewString(), StateSync: &StateSyncMsg{State: state}}
	return r.wire.SendStateSync(ctx, to, env)
}

func decodePrepareReply(from cluster.NodeID, env Envelope) (consensus.PrepareReply, error) {
	resp := env.PrepareResp
	if resp == nil {
		return nil, ErrMalformedResponse
	}
	if !resp.Granted {
		return consensus.Nack{From: from, PromisedId: resp.PromisedId}, nil
	}
	return consensus.Promise{From: from, Id: resp.PromisedId, AcceptedId: resp.AcceptedId, AcceptedValue: resp.AcceptedValue}, nil
}

func decodeAcceptReply(from cluster.NodeID, env Envelope) (consensus.AcceptReply, error) {
	resp := env.AcceptResp
	if resp == nil {
		return nil, ErrMalformedResponse
	}
	if !resp.Granted {
		return consensus.Nack{From: from, PromisedId: resp.PromisedId}, nil
	}
	return consensus.Accepted{From: from, Id: resp.PromisedId}, nil
}

// HandleEnvelope dispatches an inbound wire envelope to Handlers and builds
// the corresponding response envelope. Used by both the libp2p stream
// handler and the in-memory test wire, so the translation between
// Envelope and the typed Handlers calls lives in exactly one place.
func HandleEnvelope(h Handlers, self cluster.NodeID, req Envelope) Envelope {
	switch req.Kind {
	case KindPrepare:
		reply := h.HandlePrepare(req.PrepareReq.ThreadID, req.PrepareReq.Id)
		return Envelope{Kind: KindPromise, Sender: self, Ts: time.Now(), CorrelationID: req.CorrelationID, PrepareResp: prepareResponseOf(reply)}
	case KindAccept:
		reply := h.HandleAccept(req.AcceptReq.ThreadID, req.AcceptReq.Id, req.AcceptReq.Value)
		return Envelope{Kind: KindAccepted, Sender: self, Ts: time.Now(), CorrelationID: req.CorrelationID, AcceptResp: acceptResponseOf(reply)}
	case KindHeartbeat:
		h.RecordHeartbeat(req.Heartbeat.NodeID, req.Heartbeat.Load, req.Heartbeat.Specializations)
		return Envelope{Kind: KindHeartbeat, Sender: self, Ts: time.Now(), CorrelationID: req.CorrelationID}
	case KindStateSync:
		h.ApplyRemote(req.StateSync.State)
		return Envelope{Kind: KindStateSync, Sender: self, Ts: time.Now(), CorrelationID: req.CorrelationID}
	default:
		return Envelope{Kind: req.Kind, Sender: self, Ts: time.Now(), CorrelationID: req.CorrelationID}
	}
}

func prepareResponseOf(reply consensus.PrepareReply) *PrepareResponse {
	switch r := reply.(type) {
	case consensus.Promise:
		return &PrepareResponse{Granted: true, PromisedId: r.Id, AcceptedId: r.AcceptedId, AcceptedValue: r.AcceptedValue}
	case consensus.Nack:
		return &PrepareResponse{Granted: false, PromisedId: r.PromisedId}
	default:
		return &PrepareResponse{Granted: false}
	}
}

func acceptResponseOf(reply consensus.AcceptReply) *AcceptResponse {
	switch r := reply.(type) {
	case consensus.Accepted:
		return &AcceptResponse{Granted: true, PromisedId: r.Id}
	case consensus.Nack:
		return &AcceptResponse{Granted: false, PromisedId: r.PromisedId}
	default:
		return &AcceptResponse{Granted: false}
	}
}
