package cmd

import (
	"fmt"
	"strings"

	"github.com/agentmail/coordinator/cluster"
)

// peerSpec is one --peer flag value: "id=multiaddr[/p2p/peerID]". The peer ID
// suffix is optional for self (libp2p derives it from the local identity
// key) and required for every remote peer, since the Peer Transport dials
// by libp2p peer.ID rather than by bare multiaddr.
type peerSpec struct {
	node cluster.Node
}

// parsePeers turns the repeated --peer flag into a cluster.Node list,
// mirroring the way the teacher's shard_conf.go assembles a validator list
// from repeated genesis-file flags.
func parsePeers(raw []string) ([]cluster.Node, error) {
	nodes := make([]cluster.Node, 0, len(raw))
	for _, spec := range raw {
		idAndRest := strings.SplitN(spec, "=", 2)
		if len(idAndRest) != 2 {
			return nil, fmt.Errorf("invalid --peer %q: want id=multiaddr/p2p/peerID", spec)
		}
		id := cluster.NodeID(idAndRest[0])
		addr, peerKey := idAndRest[1], ""
		if i := strings.LastIndex(idAndRest[1], "/p2p/"); i >= 0 {
			addr, peerKey = idAndRest[1][:i], idAndRest[1][i+len("/p2p/"):]
		}
		nodes = append(nodes, cluster.Node{ID: id, Addr: addr, PeerKey: peerKey})
	}
	return nodes, nil
}

func parseSpecializations(raw []string) []cluster.Specialization {
	out := make([]cluster.Specialization, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, cluster.Specialization(s))
		}
	}
	return out
}
