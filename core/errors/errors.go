// Package iriserr defines the error taxonomy shared by all iris packages.
//
// Each sentinel classifies one failure domain. Call sites wrap them with
// fmt.Errorf("...: %w", ...) so callers can classify with errors.Is while
// still seeing the underlying OS error.
package iriserr

import "errors"

var (
	// ErrInvalidArgument is returned when a required parameter is absent or nil.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrResolution is returned when a (host, service) pair cannot be
	// resolved to any candidate address.
	ErrResolution = errors.New("address resolution failed")

	// ErrBind is returned when no candidate address could be bound for a server.
	ErrBind = errors.New("no candidate address could be bound")

	// ErrConnect is returned when no candidate address could be connected for a client.
	ErrConnect = errors.New("no candidate address could be connected")

	// ErrRegistration is returned when a descriptor cannot be added to the
	// readiness set.
	ErrRegistration = errors.New("readiness registration failed")

	// ErrWait is returned when the readiness wait fails for a reason other
	// than signal interruption. The engine is unusable afterwards.
	ErrWait = errors.New("readiness wait failed")

	// ErrIO is returned for send, receive and close failures.
	ErrIO = errors.New("i/o failure")
)
