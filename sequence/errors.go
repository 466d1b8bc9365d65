package sequence

import "errors"

var (
	// ErrNotFound is returned when the recipient id does not resolve to a record
	ErrNotFound = errors.New("recipient not found")
	// ErrMissingContact is returned when a send is attempted without a destination address
	ErrMissingContact = errors.New("recipient has no contact address")
	// ErrInvalidState is returned when the action is not legal from the current status
	ErrInvalidState = errors.New("action not allowed in current sequence state")
	// ErrSequenceComplete is returned by skip once the catalog is exhausted
	ErrSequenceComplete = errors.New("sequence already complete")
	// ErrInvalidAction is returned for action names outside start, pause, resume and skip
	ErrInvalidAction = errors.New("invalid sequence action")
	// ErrBusy is returned when the per-recipient lock could not be taken in time
	ErrBusy = errors.New("recipient is busy, try again")
)
