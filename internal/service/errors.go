package service

import "errors"

// Error kinds returned by the orchestrator. Match them with errors.Is.
var (
	ErrValidation          = errors.New("validation failed")
	ErrSessionNotFound     = errors.New("session not found")
	ErrSessionNotConnected = errors.New("session not connected")
	ErrQRNotAvailable      = errors.New("qr code not available")
	ErrUpstream            = errors.New("upstream failure")
)

// errSessionStopped is returned to operations queued on a session whose
// worker has already exited.
var errSessionStopped = errors.New("session stopped")

type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Is(target error) bool { return target == e.Kind }

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of err, or nil when err is not an *Error.
func KindOf(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return nil
}

func validationError(msg string) error {
	return &Error{Kind: ErrValidation, Message: msg}
}

func notFoundError(sessionID string) error {
	return &Error{Kind: ErrSessionNotFound, Message: "session " + sessionID + " not found"}
}

func notConnectedError(sessionID string) error {
	return &Error{Kind: ErrSessionNotConnected, Message: "session " + sessionID + " is not connected"}
}

func upstreamError(msg string, err error) error {
	return &Error{Kind: ErrUpstream, Message: msg, Err: err}
}
