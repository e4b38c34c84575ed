package dispatch

import "errors"

var (
	// ErrNoEligibleCandidate is returned when no HEALTHY peer advertises
	// the required specialization. The inbound event is dropped from the
	// coordination path; handling it further is the transport's concern.
	ErrNoEligibleCandidate = errors.New("dispatch: no healthy node advertises the required specialization")

	// ErrConsensusUnavailable is surfaced after persistent consensus
	// failure across the Dispatcher's retry budget.
	ErrConsensusUnavailable = errors.New("dispatch: consensus unavailable after retries")
)
