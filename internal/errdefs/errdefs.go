// Package errdefs defines the error taxonomy shared by the signaling layer,
// the media engines, the sessions and the transmission state machine.
//
// Callers classify errors with the Is* helpers rather than by type switching,
// so errors wrapped with github.com/pkg/errors still classify correctly.
package errdefs

import (
	"fmt"

	"github.com/pkg/errors"
)

// ValidationError reports malformed user input. It is raised before any
// connection attempt and never reaches the signaling layer.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// ConnectionError reports a control channel failure (dial, listen, accept,
// transport).
type ConnectionError struct {
	Op   string
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// PipelineError reports a media engine failure: element construction, a
// refused state transition or an error posted on the pipeline bus.
type PipelineError struct {
	Op  string
	Err error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline %s: %v", e.Op, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// FatalSessionError wraps any error raised after a session went live. The
// state machine always collapses to Idle when it sees one.
type FatalSessionError struct {
	SessionID string
	Err       error
}

func (e *FatalSessionError) Error() string {
	return fmt.Sprintf("session %s failed: %v", e.SessionID, e.Err)
}

func (e *FatalSessionError) Unwrap() error { return e.Err }

// TransitionError reports an intent that is not valid in the current state.
type TransitionError struct {
	State  string
	Intent string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s while %s", e.Intent, e.State)
}

// Validation builds a ValidationError.
func Validation(field, value, reason string) error {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}

// Connection builds a ConnectionError.
func Connection(op, addr string, err error) error {
	return &ConnectionError{Op: op, Addr: addr, Err: err}
}

// Pipeline builds a PipelineError. A nil err yields nil.
func Pipeline(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PipelineError{Op: op, Err: err}
}

// Fatal marks err as fatal to the given session. A nil err yields nil.
func Fatal(sessionID string, err error) error {
	if err == nil {
		return nil
	}
	var fatal *FatalSessionError
	if errors.As(err, &fatal) {
		return err
	}
	return &FatalSessionError{SessionID: sessionID, Err: err}
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsConnection(err error) bool {
	var target *ConnectionError
	return errors.As(err, &target)
}

func IsPipeline(err error) bool {
	var target *PipelineError
	return errors.As(err, &target)
}

func IsFatal(err error) bool {
	var target *FatalSessionError
	return errors.As(err, &target)
}

func IsTransition(err error) bool {
	var target *TransitionError
	return errors.As(err, &target)
}
