package escrow

import (
	"github.com/pkg/errors"
)

// Rejection kinds. Every rejected invocation wraps exactly one of these.
var (
	ErrUnauthorized      = errors.New("caller not authorized")
	ErrStateMismatch     = errors.New("escrow status does not allow operation")
	ErrPaymentMismatch   = errors.New("paired transfer mismatch")
	ErrTimeoutNotElapsed = errors.New("timeout not elapsed")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrConfiguration     = errors.New("escrow misconfigured")
)

var (
	ErrAlreadyPaid      = errors.Wrap(ErrStateMismatch, "payout already emitted")
	ErrNoRecord         = errors.Wrap(ErrStateMismatch, "no escrow record")
	ErrUnknownOperation = errors.Wrap(ErrInvalidArgument, "unknown operation")
)

// ErrReleasePending reports a committed payout that custody has not confirmed.
// It is not a rejection: the record keeps the payout and the next invocation
// on the session retries it under the same reference.
var ErrReleasePending = errors.New("payout committed, release pending")

var rejectionKinds = []error{
	ErrUnauthorized,
	ErrStateMismatch,
	ErrPaymentMismatch,
	ErrTimeoutNotElapsed,
	ErrInvalidArgument,
	ErrConfiguration,
}

// IsRejection reports whether err is a precondition failure, as opposed to an
// infrastructure failure (store, custody).
func IsRejection(err error) bool {
	return RejectionKind(err) != nil
}

// RejectionKind returns the sentinel kind err wraps, or nil.
func RejectionKind(err error) error {
	for _, kind := range rejectionKinds {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

func kindLabel(err error) string {
	switch RejectionKind(err) {
	case ErrUnauthorized:
		return "unauthorized"
	case ErrStateMismatch:
		return "state_mismatch"
	case ErrPaymentMismatch:
		return "payment_mismatch"
	case ErrTimeoutNotElapsed:
		return "timeout_not_elapsed"
	case ErrInvalidArgument:
		return "invalid_argument"
	case ErrConfiguration:
		return "configuration"
	}
	return "internal"
}
