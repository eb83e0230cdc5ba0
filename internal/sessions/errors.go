package sessions

import "errors"

var (
	// ErrInvalidInput marks client errors: an empty cookie string or a bad send request.
	ErrInvalidInput = errors.New("sessions: invalid input")
	// ErrSessionNotFound is returned for ids absent from the registry.
	ErrSessionNotFound = errors.New("sessions: session not found")
	// ErrBrowserCrash is returned when a session's browser became unreachable.
	// The session has already been evicted when the caller sees it.
	ErrBrowserCrash = errors.New("sessions: browser crashed")
	// ErrCreateFailed wraps factory failures. Partial resources are released before it is returned.
	ErrCreateFailed = errors.New("sessions: create failed")
	// ErrRegistryClosed is returned once shutdown has begun.
	ErrRegistryClosed = errors.New("sessions: registry closed")
	// ErrCapacity is returned when sessions.max sessions already exist.
	ErrCapacity = errors.New("sessions: capacity reached")
	// ErrSessionExists is returned when a supplied id is already live or being created.
	ErrSessionExists = errors.New("sessions: session already exists")
)
