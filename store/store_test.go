package store

import (
	"testing"
	"time"

	"github.com/agentmail/coordinator/cluster"
	"github.com/stretchr/testify/require"
)

func TestStore_UpsertVersionsIncrement(t *testing.T) {
	s := New("node-a", nil, nil, nil)

	first := s.Upsert("thread-1", "node-a", Context{}, time.Now())
	require.EqualValues(t, 1, first.Version)

	second := s.Upsert("thread-1", "node-b", Context{}, time.Now())
	require.EqualValues(t, 2, second.Version)

	got, ok := s.Get("thread-1")
	require.True(t, ok)
	require.Equal(t, cluster.NodeID("node-b"), got.AssignedNode)
}

func TestStore_UpsertWithNilSelectorStillSelfReplicates(t *testing.T) {
	s := New("node-a", nil, nil, nil)
	state := s.Upsert("thread-1", "node-a", Context{}, time.Now())
	_, self := state.Replicas["node-a"]
	require.True(t, self, "a node always replicates to itself even with no selector configured")
}

func TestStore_ApplyRemote_LastWriterWinsByVersion(t *testing.T) {
	s := New("node-a", nil, nil, nil)
	s.conversations["thread-1"] = ConversationState{ThreadID: "thread-1", Version: 1, Origin: "node-a"}

	applied := s.ApplyRemote(ConversationState{ThreadID: "thread-1", Version: 2, Origin: "node-b", AssignedNode: "node-b"})
	require.True(t, applied)

	got, _ := s.Get("thread-1")
	require.EqualValues(t, 2, got.Version)
	require.Equal(t, cluster.NodeID("node-b"), got.AssignedNode)
}

func TestStore_ApplyRemote_StaleVersionRejected(t *testing.T) {
	s := New("node-a", nil, nil, nil)
	s.conversations["thread-1"] = ConversationState{ThreadID: "thread-1", Version: 3, Origin: "node-a"}

	applied := s.ApplyRemote(ConversationState{ThreadID: "thread-1", Version: 2, Origin: "node-b"})
	require.False(t, applied)

	got, _ := s.Get("thread-1")
	require.EqualValues(t, 3, got.Version)
}

func TestStore_ApplyRemote_TieBrokenByOrigin(t *testing.T) {
	s := New("node-a", nil, nil, nil)
	s.conversations["thread-1"] = ConversationState{ThreadID: "thread-1", Version: 2, Origin: "node-a"}

	applied := s.ApplyRemote(ConversationState{ThreadID: "thread-1", Version: 2, Origin: "node-z"})
	require.True(t, applied, "equal version must be broken by the higher origin id")
}

func TestStore_ListByAssigneeAndCount(t *testing.T) {
	s := New("node-a", nil, nil, nil)
	s.Upsert("thread-1", "node-b", Context{}, time.Now())
	s.Upsert("thread-2", "node-b", Context{}, time.Now())
	s.Upsert("thread-3", "node-c", Context{}, time.Now())

	require.Equal(t, 3, s.Count())
	require.Len(t, s.ListByAssignee("node-b"), 2)
	require.Len(t, s.ListByAssignee("node-c"), 1)
}

func TestStore_AssignmentsBySpecializationCountsLocalOrigin(t *testing.T) {
	s := New("node-a", nil, nil, nil)
	s.Upsert("thread-1", "node-a", Context{Classification: "billing"}, time.Now())
	s.Upsert("thread-2", "node-a", Context{Classification: "billing"}, time.Now())

	counts := s.AssignmentsBySpecialization()
	require.Equal(t, 2, counts["billing"])
}

func TestDigest_IsStableAndContentSensitive(t *testing.T) {
	d1 := Digest("subject", "body")
	d2 := Digest("subject", "body")
	d3 := Digest("subject", "different body")

	require.Equal(t, d1, d2)
	require.NotEqual(t, d1, d3)
}
