package coordinator

import (
	"context"
	"errors"
)

// ignoreCancel turns a context.Canceled/DeadlineExceeded return from a
// background loop into a clean nil, so a normal shutdown doesn't make
// errgroup.Wait report an error.
func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}
