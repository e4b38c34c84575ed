package failuredetector

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentmail/coordinator/cluster"
	"github.com/stretchr/testify/require"
)

func TestDetector_SeedStartsHealthy(t *testing.T) {
	d := New(time.Second, 3, nil)
	d.Seed([]cluster.NodeID{"node-a", "node-b"})

	ph, ok := d.Get("node-a")
	require.True(t, ok)
	require.Equal(t, Healthy, ph.Status)
}

func TestDetector_MissedHeartbeatsSuspectThenFail(t *testing.T) {
	now := time.UnixMilli(0)
	clock := func() time.Time { return now }
	var failedCount int32
	d := New(time.Second, 2, nil, WithClock(clock), WithOnFailed(func(cluster.NodeID) {
		atomic.AddInt32(&failedCount, 1)
	}))
	d.Seed([]cluster.NodeID{"node-a"})

	now = now.Add(3 * time.Second) // past the 2*healthyInterval suspicion window
	d.Scan(context.Background())
	ph, _ := d.Get("node-a")
	require.Equal(t, Suspected, ph.Status)
	require.EqualValues(t, 0, atomic.LoadInt32(&failedCount))

	now = now.Add(3 * time.Second)
	d.Scan(context.Background())
	ph, _ = d.Get("node-a")
	require.Equal(t, Failed, ph.Status)

	// give the async onFailed callback a moment to land
	require.Eventually(t, func() bool { return atomic.LoadInt32(&failedCount) == 1 }, time.Second, time.Millisecond)

	// a further scan while still failed must not re-deliver peer_failed.
	now = now.Add(3 * time.Second)
	d.Scan(context.Background())
	time.Sleep(10 * time.Millisecond)
	require.EqualValues(t, 1, atomic.LoadInt32(&failedCount), "peer_failed must be delivered at most once per FAILED transition")
}

func TestDetector_RecoversAfterOneCleanInterval(t *testing.T) {
	now := time.UnixMilli(0)
	clock := func() time.Time { return now }
	d := New(time.Second, 1, nil, WithClock(clock))
	d.Seed([]cluster.NodeID{"node-a"})

	now = now.Add(5 * time.Second)
	d.Scan(context.Background())
	ph, _ := d.Get("node-a")
	require.Equal(t, Failed, ph.Status)

	now = now.Add(time.Millisecond)
	d.RecordHeartbeat("node-a", 0.1, nil)
	ph, _ = d.Get("node-a")
	require.Equal(t, Recovering, ph.Status, "a heartbeat from a FAILED peer moves it to RECOVERING, not straight to HEALTHY")

	now = now.Add(time.Second)
	d.Scan(context.Background())
	ph, _ = d.Get("node-a")
	require.Equal(t, Healthy, ph.Status)
}

func TestDetector_HeartbeatTracksLoadAndSpecializations(t *testing.T) {
	d := New(time.Second, 3, nil)
	d.RecordHeartbeat("node-a", 0.5, []cluster.Specialization{"billing"})

	ph, ok := d.Get("node-a")
	require.True(t, ok)
	require.Equal(t, 0.5, ph.Load)
	require.True(t, ph.HasSpecialization("billing"))
	require.False(t, ph.HasSpecialization("support"))
}

func TestDetector_TableSnapshotIsIndependent(t *testing.T) {
	d := New(time.Second, 3, nil)
	d.Seed([]cluster.NodeID{"node-a"})

	table := d.Table()
	table["node-a"] = PeerHealth{Status: Failed}

	ph, _ := d.Get("node-a")
	require.Equal(t, Healthy, ph.Status, "mutating a Table() snapshot must not affect the detector's own state")
}
