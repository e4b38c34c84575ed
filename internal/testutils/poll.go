// Package testutils holds small test helpers for this module, starting
// with an eventual-consistency poll for background-loop tests (failure
// detection, replication convergence, consensus retries) as an alternative
// to a fixed sleep.
package testutils

import (
	"testing"
	"time"
)

// ShortTick is the default poll interval for Eventually.
const ShortTick = 10 * time.Millisecond

// Eventually polls cond every tick until it returns true or waitFor
// elapses, failing the test with msg on timeout. It never sleeps longer
// than necessary, so passing tests run fast regardless of waitFor.
func Eventually(t *testing.T, cond func() bool, waitFor, tick time.Duration, msg string) {
	t.Helper()
	deadline := time.Now().Add(waitFor)
	for {
		if cond() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting: %s", msg)
		}
		time.Sleep(tick)
	}
}
