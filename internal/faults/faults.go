// Package faults defines the error taxonomy shared by the verification
// harness. Callers classify failures with errors.Is against the
// sentinels below; packages wrap them with context via pkg/errors.
package faults

import "github.com/pkg/errors"

var (
	// ErrTimeout indicates that an expected asynchronous event did not
	// occur within its budget. Timeouts are never retried; they abort
	// the current scenario.
	ErrTimeout = errors.New("timed out")

	// ErrMalformedHeader indicates that a captured frame could not be
	// decoded at an expected protocol layer.
	ErrMalformedHeader = errors.New("malformed protocol header")

	// ErrProtocolViolation indicates that the control service delivered
	// a notification of the wrong shape. It is always fatal.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrInvalidConfiguration indicates a self-contradictory tethering
	// configuration. It is reported synchronously, before any
	// asynchronous wait begins.
	ErrInvalidConfiguration = errors.New("invalid configuration")
)
