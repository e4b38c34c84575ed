package transport

import (
	"fmt"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	"github.com/multiformats/go-multiaddr"

	"github.com/agentmail/coordinator/cluster"
)

// StaticResolver resolves a cluster.NodeID to a libp2p peer.ID from the
// static membership list loaded at startup. Construction seeds h's
// peerstore with every peer's advertised multiaddr, since host.NewStream
// only dials peer.IDs the peerstore already has an address for.
type StaticResolver struct {
	members *cluster.Membership
}

// NewStaticResolver parses every non-self member's cluster.Node.Addr as a
// multiaddr and registers it against that peer's decoded peer.ID in h's
// peerstore, mirroring how the teacher's validator network seeds peer
// addresses from static genesis data before the first dial. Members with an
// empty Addr or PeerKey are skipped.
func NewStaticResolver(h host.Host, members *cluster.Membership) (*StaticResolver, error) {
	for _, id := range members.Members() {
		if id == members.Self() {
			continue
		}
		node, _ := members.Node(id)
		if node.Addr == "" || node.PeerKey == "" {
			continue
		}
		peerID, err := peer.Decode(node.PeerKey)
		if err != nil {
			return nil, fmt.Errorf("transport: peer key for %s: %w", id, err)
		}
		addr, err := multiaddr.NewMultiaddr(node.Addr)
		if err != nil {
			return nil, fmt.Errorf("transport: multiaddr for %s: %w", id, err)
		}
		h.Peerstore().AddAddr(peerID, addr, peerstore.PermanentAddrTTL)
	}
	return &StaticResolver{members: members}, nil
}

func (r *StaticResolver) Resolve(id cluster.NodeID) (peer.ID, error) {
	node, ok := r.members.Node(id)
	if !ok {
		return "", fmt.Errorf("transport: unknown node %q", id)
	}
	return peer.Decode(node.PeerKey)
}
