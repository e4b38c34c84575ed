package consensus

import "errors"

// ErrConsensusTimeout is returned when Prepare or Accept fails to gather Q
// positive responses before its deadline.
var ErrConsensusTimeout = errors.New("consensus: failed to reach quorum before deadline")
