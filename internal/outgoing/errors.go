package outgoing

import (
	"errors"
	"fmt"

	pkgerrors "github.com/edihub/edi-backend/pkg/errors"
)

var (
	// ErrOpenBundleConflict is returned when a concurrent transaction created
	// the open bundle for the same key first. The whole transaction is retried.
	ErrOpenBundleConflict = errors.New("open bundle already exists for key")
	// ErrBundleClosed is returned when a bundle closed between lookup and increment.
	ErrBundleClosed = errors.New("bundle is closed")
	// ErrMessageAlreadyAssigned is returned when a pending message was assigned by another run.
	ErrMessageAlreadyAssigned = errors.New("message already assigned to a bundle")
	// ErrInvariantViolation marks state that must never occur.
	ErrInvariantViolation = errors.New("bundle invariant violated")
)

func invariantf(format string, args ...any) error {
	return pkgerrors.Wrap(pkgerrors.CodeInvariant, ErrInvariantViolation, fmt.Sprintf(format, args...))
}

func isTransientConflict(err error) bool {
	return errors.Is(err, ErrOpenBundleConflict) || errors.Is(err, ErrBundleClosed)
}
