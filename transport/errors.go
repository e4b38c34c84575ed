package transport

import "errors"

// ErrPeerUnreachable is returned by a Wire implementation when a call could
// not be completed — connection refused, dial failure, or deadline
// exceeded. It never fails the caller fatally; it contributes to the
// failure detector's failure_count like any other missed contact.
var ErrPeerUnreachable = errors.New("transport: peer unreachable")

// ErrMalformedResponse is returned when a peer's reply envelope is missing
// the payload its Kind promised.
var ErrMalformedResponse = errors.New("transport: malformed response envelope")
