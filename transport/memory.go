package transport

import (
	"context"
	"sync"

	"github.com/agentmail/coordinator/cluster"
)

// MemoryBus is an in-process Wire shared by every node in a test cluster,
// mirroring the teacher's internal/testutils/network.MockNet: no real
// sockets, direct handler invocation, with injectable per-node reachability
// so tests can simulate partitions and peer failure.
type MemoryBus struct {
	mu        sync.RWMutex
	nodes     map[cluster.NodeID]Handlers
	unreachable map[cluster.NodeID]bool
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		nodes:       make(map[cluster.NodeID]Handlers),
		unreachable: make(map[cluster.NodeID]bool),
	}
}

// Register attaches a node's Handlers to the bus so other nodes' Wire calls
// addressed to it are served.
func (b *MemoryBus) Register(id cluster.NodeID, h Handlers) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nodes[id] = h
}

// SetUnreachable simulates a partition: calls to and from id fail with
// ErrPeerUnreachable until SetUnreachable(id, false).
func (b *MemoryBus) SetUnreachable(id cluster.NodeID, unreachable bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unreachable[id] = unreachable
}

// ForNode returns a Wire scoped to one caller. A call fails when either the
// caller or the recipient is marked unreachable, so a partition on this bus
// is always symmetric.
func (b *MemoryBus) ForNode(self cluster.NodeID) Wire {
	return &busWire{bus: b, self: self}
}

type busWire struct {
	bus  *MemoryBus
	self cluster.NodeID
}

func (w *busWire) handlers(to cluster.NodeID) (Handlers, error) {
	w.bus.mu.RLock()
	defer w.bus.mu.RUnlock()
	if w.bus.unreachable[to] || w.bus.unreachable[w.self] {
		return nil, ErrPeerUnreachable
	}
	h, ok := w.bus.nodes[to]
	if !ok {
		return nil, ErrPeerUnreachable
	}
	return h, nil
}

func (w *busWire) SendPrepare(ctx context.Context, to cluster.NodeID, env Envelope) (Envelope, error) {
	h, err := w.handlers(to)
	if err != nil {
		return Envelope{}, err
	}
	select {
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	default:
	}
	return HandleEnvelope(h, to, env), nil
}

func (w *busWire) SendAccept(ctx context.Context, to cluster.NodeID, env Envelope) (Envelope, error) {
	h, err := w.handlers(to)
	if err != nil {
		return Envelope{}, err
	}
	select {
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	default:
	}
	return HandleEnvelope(h, to, env), nil
}

func (w *busWire) SendHeartbeat(ctx context.Context, to cluster.NodeID, env Envelope) error {
	h, err := w.handlers(to)
	if err != nil {
		return err
	}
	HandleEnvelope(h, to, env)
	return nil
}

func (w *busWire) SendStateSync(ctx context.Context, to cluster.NodeID, env Envelope) error {
	h, err := w.handlers(to)
	if err != nil {
		return err
	}
	HandleEnvelope(h, to, env)
	return nil
}
