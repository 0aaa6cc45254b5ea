package training

import "errors"

var (
	// ErrPreconditionFailed is returned when an operation targets a dataset or
	// job in the wrong state. Nothing is written.
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrTransport wraps failures to reach the remote trainer.
	ErrTransport = errors.New("trainer transport error")

	// ErrInvariantViolation marks registry states that locking should rule
	// out, such as two active jobs for one dataset.
	ErrInvariantViolation = errors.New("internal invariant violation")

	// ErrInvalidReport is returned for status reports that cannot be applied
	// to any job: unknown status, progress outside [0,1], or a completion
	// without a model reference.
	ErrInvalidReport = errors.New("invalid status report")
)
