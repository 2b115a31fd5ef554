package durablesaga

import (
	"errors"
	"fmt"
)

var (
	// ErrActivityNotFound is returned when no activity is registered under a name.
	ErrActivityNotFound = errors.New("activity not found")
	// ErrInstanceNotFound is returned for an unknown saga instance.
	ErrInstanceNotFound = errors.New("saga instance not found")
	// ErrPending is returned by GetOutcome while an instance has not reached
	// a terminal state.
	ErrPending = errors.New("saga instance has not finished")
	// ErrTerminated is returned by GetOutcome for an instance that was
	// terminated externally. Terminated instances have no outcome.
	ErrTerminated = errors.New("saga instance was terminated")
)

// ActivityError is what a failed activity looks like to workflow code. Only
// the message survives, because that is all a replay can reproduce from
// history.
type ActivityError struct {
	Activity ActivityName
	Message  string
}

func (e *ActivityError) Error() string {
	return fmt.Sprintf("activity %s failed: %s", e.Activity, e.Message)
}

// ForwardStepError reports the forward step whose failure triggered rollback.
type ForwardStepError struct {
	Step     StepName
	Activity ActivityName
	Err      error
}

func (e *ForwardStepError) Error() string {
	return fmt.Sprintf("forward step %s failed: %v", e.Step, e.Err)
}

func (e *ForwardStepError) Unwrap() error {
	return e.Err
}

// RegistrationError reports an invalid call to CompensationRegistry.Register.
// It is a programming error and is never retried.
type RegistrationError struct {
	error
}

func registrationFailed(format string, args ...any) error {
	return &RegistrationError{fmt.Errorf("register compensation: "+format, args...)}
}

func (e *RegistrationError) Unwrap() error {
	return e.error
}

// NondeterminismError is raised when a replayed workflow body asks for an
// activity that does not match what history recorded at the same position.
type NondeterminismError struct {
	Seq      int64
	Expected ActivityName
	Got      ActivityName
}

func (e *NondeterminismError) Error() string {
	if e.Expected == "" {
		return fmt.Sprintf("nondeterministic replay at call %d: %s is not in history", e.Seq, e.Got)
	}
	return fmt.Sprintf("nondeterministic replay at call %d: history has %s, body asked for %s",
		e.Seq, e.Expected, e.Got)
}

// nonRetryableError marks an activity failure that retrying cannot fix.
type nonRetryableError struct {
	error
}

func (e *nonRetryableError) Unwrap() error {
	return e.error
}

// NonRetryable wraps err so that RetryPolicy gives up after this attempt.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetryableError{err}
}

// IsNonRetryable reports whether err was marked with NonRetryable.
func IsNonRetryable(err error) bool {
	var nr *nonRetryableError
	return errors.As(err, &nr)
}
