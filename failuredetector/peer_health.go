package failuredetector

import (
	"time"

	"github.com/agentmail/coordinator/cluster"
)

// PeerHealth is the liveness record for one remote node. Load is an
// exponential moving average of heartbeat samples, smoothing a single
// noisy gauge reading that would otherwise thrash candidate selection in
// the dispatcher.
type PeerHealth struct {
	NodeID          cluster.NodeID
	LastHeartbeat   time.Time
	Status          Status
	FailureCount    int
	Load            float64
	Specializations map[cluster.Specialization]struct{}

	recoveringSince time.Time
	failedEmitted   bool
}

// loadEMASmoothing weights the newest sample against the running average.
const loadEMASmoothing = 0.3

func newPeerHealth(id cluster.NodeID) *PeerHealth {
	return &PeerHealth{NodeID: id, Status: Healthy}
}

// HasSpecialization reports whether this peer currently advertises tag.
func (p *PeerHealth) HasSpecialization(tag cluster.Specialization) bool {
	_, ok := p.Specializations[tag]
	return ok
}

func (p *PeerHealth) updateLoad(sample float64) {
	if p.LastHeartbeat.IsZero() {
		p.Load = sample
		return
	}
	p.Load = loadEMASmoothing*sample + (1-loadEMASmoothing)*p.Load
}
