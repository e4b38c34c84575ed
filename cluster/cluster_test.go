package cluster

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func threeNodes() []Node {
	return []Node{{ID: "node-a"}, {ID: "node-b"}, {ID: "node-c"}}
}

func TestNew_RejectsEmptyMembership(t *testing.T) {
	_, err := New("node-a", nil)
	require.ErrorIs(t, err, ErrEmptyMembership)
}

func TestNew_RejectsSelfNotInMembership(t *testing.T) {
	_, err := New("node-z", threeNodes())
	require.ErrorIs(t, err, ErrUnknownNodeID)
}

func TestNew_RejectsDuplicateNodeID(t *testing.T) {
	_, err := New("node-a", []Node{{ID: "node-a"}, {ID: "node-a"}})
	require.ErrorIs(t, err, ErrDuplicateNodeID)
}

func TestMembership_QuorumAndSize(t *testing.T) {
	m, err := New("node-a", threeNodes())
	require.NoError(t, err)
	require.Equal(t, 3, m.Size())
	require.Equal(t, 2, m.Quorum())
}

func TestMembership_PeersExcludesSelf(t *testing.T) {
	m, err := New("node-a", threeNodes())
	require.NoError(t, err)
	peers := m.Peers()
	require.Len(t, peers, 2)
	require.NotContains(t, peers, NodeID("node-a"))
}

func TestMembership_MembersIsStableOrder(t *testing.T) {
	m, err := New("node-b", []Node{{ID: "node-c"}, {ID: "node-a"}, {ID: "node-b"}})
	require.NoError(t, err)
	require.Equal(t, []NodeID{"node-a", "node-b", "node-c"}, m.Members())
}
