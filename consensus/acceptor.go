package consensus

import (
	"log/slog"
	"sync"

	"github.com/agentmail/coordinator/cluster"
	agentlogger "github.com/agentmail/coordinator/logger"
)

// Acceptor holds the promised/accepted state for one consensus instance
// (one conversation thread). Its mutex is held only across a single
// message's handling, never across I/O, per the concurrency model.
type Acceptor struct {
	self cluster.NodeID
	log  *slog.Logger

	mu            sync.Mutex
	promisedId    *ProposalId
	acceptedId    *ProposalId
	acceptedValue *Value
}

func newAcceptor(self cluster.NodeID, log *slog.Logger) *Acceptor {
	if log == nil {
		log = slog.Default()
	}
	return &Acceptor{self: self, log: log}
}

// HandlePrepare implements the acceptor side of Phase 1. It never forgets
// accepted_id/accepted_value across calls: a Promise always reports them,
// even when this call also advances promised_id.
func (a *Acceptor) HandlePrepare(n ProposalId) PrepareReply {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.promisedId != nil && n.Compare(*a.promisedId) <= 0 {
		return Nack{From: a.self, PromisedId: *a.promisedId}
	}
	a.promisedId = &n
	return Promise{From: a.self, Id: n, AcceptedId: a.acceptedId, AcceptedValue: a.acceptedValue}
}

// HandleAccept implements the acceptor side of Phase 2.
func (a *Acceptor) HandleAccept(n ProposalId, v Value) AcceptReply {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.promisedId != nil && n.Compare(*a.promisedId) < 0 {
		return Nack{From: a.self, PromisedId: *a.promisedId}
	}
	a.promisedId = &n
	a.acceptedId = &n
	a.acceptedValue = &v
	a.log.Debug("accepted value", agentlogger.ThreadID(v.ThreadID), slog.String("proposal_id", n.String()))
	return Accepted{From: a.self, Id: n}
}

// Registry owns one Acceptor per conversation thread, created lazily. The
// registry's own mutex protects only the map; it is released before the
// returned Acceptor's mutex is ever taken, so the two are never held
// together.
type Registry struct {
	self cluster.NodeID
	log  *slog.Logger

	mu        sync.Mutex
	acceptors map[string]*Acceptor
}

func NewRegistry(self cluster.NodeID, log *slog.Logger) *Registry {
	return &Registry{self: self, log: log, acceptors: make(map[string]*Acceptor)}
}

// For returns the Acceptor instance for threadID, creating it on first use.
func (r *Registry) For(threadID string) *Acceptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.acceptors[threadID]
	if !ok {
		a = newAcceptor(r.self, r.log)
		r.acceptors[threadID] = a
	}
	return a
}

// HandlePrepare and HandleAccept let Registry itself satisfy the acceptor
// side of the transport's Handlers interface, dispatching to the
// thread-scoped instance.
func (r *Registry) HandlePrepare(threadID string, n ProposalId) PrepareReply {
	return r.For(threadID).HandlePrepare(n)
}

func (r *Registry) HandleAccept(threadID string, n ProposalId, v Value) AcceptReply {
	return r.For(threadID).HandleAccept(n, v)
}
