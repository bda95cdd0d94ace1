package engine

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ElementNotFound means no element matched Selector before the primitive
// timed out.
type ElementNotFound struct {
	Selector string
	Err      error
}

func (e *ElementNotFound) Error() string {
	return fmt.Sprintf("element not found: %s", e.Selector)
}

func (e *ElementNotFound) Unwrap() error { return e.Err }

// Timeout reports whether the lookup ran out of time.
func (e *ElementNotFound) Timeout() bool { return errors.Is(e.Err, context.DeadlineExceeded) }

// NavigationTimeout means URL did not finish loading in time.
type NavigationTimeout struct {
	URL   string
	After time.Duration
	Err   error
}

func (e *NavigationTimeout) Error() string {
	return fmt.Sprintf("navigation to %s timed out after %s", e.URL, e.After)
}

func (e *NavigationTimeout) Unwrap() error { return e.Err }
func (e *NavigationTimeout) Timeout() bool { return true }

// StepTimeout means a wait or script primitive exceeded its time budget.
type StepTimeout struct {
	Op     string
	Target string
	After  time.Duration
	Err    error
}

func (e *StepTimeout) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("%s timed out after %s", e.Op, e.After)
	}
	return fmt.Sprintf("%s %s timed out after %s", e.Op, e.Target, e.After)
}

func (e *StepTimeout) Unwrap() error { return e.Err }
func (e *StepTimeout) Timeout() bool { return true }

// ScriptExecutionError wraps a failure thrown by evaluated page script.
type ScriptExecutionError struct {
	Err error
}

func (e *ScriptExecutionError) Error() string {
	return fmt.Sprintf("script execution failed: %v", e.Err)
}

func (e *ScriptExecutionError) Unwrap() error { return e.Err }

// SessionInitError means the browser could not be started or connected.
// It is fatal for the session and never retried.
type SessionInitError struct {
	Err error
}

func (e *SessionInitError) Error() string {
	return fmt.Sprintf("browser session init failed: %v", e.Err)
}

func (e *SessionInitError) Unwrap() error { return e.Err }

// IsFatal reports whether err must abort the whole session.
func IsFatal(err error) bool {
	var init *SessionInitError
	return errors.As(err, &init)
}

// timedOut reports whether opCtx hit its own deadline, as opposed to the
// caller cancelling.
func timedOut(parent, opCtx context.Context, err error) bool {
	if parent.Err() != nil {
		return false
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(opCtx.Err(), context.DeadlineExceeded)
}
