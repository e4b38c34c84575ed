// Package replication selects replica sets and pushes conversation-state
// mutations to them, per spec.md §4.5.
package replication

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sort"
	"time"

	"github.com/agentmail/coordinator/cluster"
	agentlogger "github.com/agentmail/coordinator/logger"
	"github.com/agentmail/coordinator/store"
)

// HealthyPeers reports the currently healthy peer set (including self),
// for deterministic replica selection.
type HealthyPeers func() []cluster.NodeID

// SelectReplicas deterministically picks up to factor nodes for threadID:
// self, followed by other healthy peers ordered by a hash of
// (threadID, nodeID), per §4.5's reference implementation.
func SelectReplicas(threadID string, self cluster.NodeID, healthy []cluster.NodeID, factor int) map[cluster.NodeID]struct{} {
	others := make([]cluster.NodeID, 0, len(healthy))
	for _, id := range healthy {
		if id != self {
			others = append(others, id)
		}
	}
	sort.Slice(others, func(i, j int) bool {
		return replicaHash(threadID, others[i]) < replicaHash(threadID, others[j])
	})

	out := map[cluster.NodeID]struct{}{self: {}}
	for _, id := range others {
		if len(out) >= factor {
			break
		}
		out[id] = struct{}{}
	}
	return out
}

func replicaHash(threadID string, id cluster.NodeID) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(threadID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(id))
	return h.Sum32()
}

// Pusher is the transport-facing capability the replication layer needs: a
// best-effort, fire-and-forget push of one ConversationState to one peer.
type Pusher interface {
	SendStateSync(ctx context.Context, to cluster.NodeID, state store.ConversationState) error
}

// Layer pushes local mutations out to their replica sets. Pushes never
// fail the originating Upsert; failures are logged only.
type Layer struct {
	self    cluster.NodeID
	pusher  Pusher
	timeout time.Duration
	log     *slog.Logger
}

func New(self cluster.NodeID, pusher Pusher, timeout time.Duration, log *slog.Logger) *Layer {
	if log == nil {
		log = slog.Default()
	}
	return &Layer{self: self, pusher: pusher, timeout: timeout, log: log}
}

// Push sends state to every replica other than self, each with its own
// short deadline, without waiting for the pushes to complete. It is safe to
// call directly as a store.Store onLocal callback.
func (l *Layer) Push(state store.ConversationState) {
	for replica := range state.Replicas {
		if replica == l.self {
			continue
		}
		replica := replica
		go func() {
			pctx, cancel := context.WithTimeout(context.Background(), l.timeout)
			defer cancel()
			if err := l.pusher.SendStateSync(pctx, replica, state); err != nil {
				l.log.Debug("replication push failed", agentlogger.ThreadID(state.ThreadID), agentlogger.Peer(string(replica)), agentlogger.Error(err))
			}
		}()
	}
}
