// Package cluster holds the static membership model: node identity,
// specializations, and quorum arithmetic. Membership is read-only after
// startup, per the concurrency model — nothing in this package mutates
// after New returns.
package cluster

import (
	"errors"
	"fmt"
	"sort"
)

// NodeID identifies a cluster member. Comparison is by ordinary string
// ordering, which is what candidate-selection tie-breaking relies on.
type NodeID string

// Specialization is an opaque capability tag a node advertises.
type Specialization string

// Node describes one static cluster member as known to every node at
// startup.
type Node struct {
	ID      NodeID
	Addr    string // libp2p multiaddr string, dialed by the transport layer
	PeerKey string // libp2p peer ID encoded as a string, empty if not configured
}

var (
	ErrEmptyMembership = errors.New("cluster: membership list is empty")
	ErrDuplicateNodeID = errors.New("cluster: duplicate node id in membership")
	ErrUnknownNodeID   = errors.New("cluster: unknown node id")
)

// Membership is the ordered, static set of cluster nodes known at startup.
type Membership struct {
	self  NodeID
	order []NodeID
	nodes map[NodeID]Node
}

// New validates and builds a Membership from the configured node list. self
// must be present in nodes.
func New(self NodeID, nodes []Node) (*Membership, error) {
	if len(nodes) == 0 {
		return nil, ErrEmptyMembership
	}
	m := &Membership{self: self, nodes: make(map[NodeID]Node, len(nodes))}
	for _, n := range nodes {
		if _, dup := m.nodes[n.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateNodeID, n.ID)
		}
		m.nodes[n.ID] = n
		m.order = append(m.order, n.ID)
	}
	if _, ok := m.nodes[self]; !ok {
		return nil, fmt.Errorf("%w: self node %q not present in cluster_nodes", ErrUnknownNodeID, self)
	}
	sort.Slice(m.order, func(i, j int) bool { return m.order[i] < m.order[j] })
	return m, nil
}

// Self returns this node's identity.
func (m *Membership) Self() NodeID { return m.self }

// Size returns the total number of cluster members, N.
func (m *Membership) Size() int { return len(m.order) }

// Quorum returns Q = floor(N/2) + 1.
func (m *Membership) Quorum() int { return m.Size()/2 + 1 }

// Members returns every node id in stable, ascending order.
func (m *Membership) Members() []NodeID {
	out := make([]NodeID, len(m.order))
	copy(out, m.order)
	return out
}

// Peers returns every node id other than self, in stable ascending order.
func (m *Membership) Peers() []NodeID {
	out := make([]NodeID, 0, len(m.order)-1)
	for _, id := range m.order {
		if id != m.self {
			out = append(out, id)
		}
	}
	return out
}

// Node returns the static record for id.
func (m *Membership) Node(id NodeID) (Node, bool) {
	n, ok := m.nodes[id]
	return n, ok
}
