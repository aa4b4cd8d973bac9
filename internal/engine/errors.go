package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidState rejects a trigger against a campaign that is not
	// ACTIVE (or DRAFT with a manual override).
	ErrInvalidState = errors.New("campaign is not in a triggerable state")

	// ErrClaimRace is internal: the collision claim raced more times
	// than the resolver tolerates. Callers re-evaluate; it never
	// reaches the user.
	ErrClaimRace = errors.New("collision claim race")
)

// RunFatalError aborts the whole run. Per-recipient failures never carry
// this type.
type RunFatalError struct {
	Reason string
	Err    error
}

func (e *RunFatalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("run aborted: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("run aborted: %s", e.Reason)
}

func (e *RunFatalError) Unwrap() error { return e.Err }
