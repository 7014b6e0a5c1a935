package pairux

import "fmt"

// ============================================================================
// Error Taxonomy
// ============================================================================

// ErrorKind classifies failures surfaced by the realtime core.
type ErrorKind string

const (
	KindAuth    ErrorKind = "auth"
	KindNetwork ErrorKind = "network"
	KindConfig  ErrorKind = "config"
	KindDecode  ErrorKind = "decode"
	KindSession ErrorKind = "session"
	KindSend    ErrorKind = "send"
)

// Error is the error type returned by every operation in this package.
// Use errors.Is against the sentinel values below to branch on the kind.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Kind) + " error"
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind. A target with a non-empty
// Message only matches errors carrying that exact message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Message == "" || t.Message == e.Message
}

var (
	ErrAuth    = &Error{Kind: KindAuth}
	ErrNetwork = &Error{Kind: KindNetwork}
	ErrConfig  = &Error{Kind: KindConfig}
	ErrDecode  = &Error{Kind: KindDecode}
	ErrSession = &Error{Kind: KindSession}
	ErrSend    = &Error{Kind: KindSend}

	// ErrQueueFull is returned when the outgoing queue is saturated.
	ErrQueueFull = &Error{Kind: KindSend, Message: "outgoing queue full"}

	// ErrUnknownMessage is returned when a payload carries an unrecognized
	// discriminator.
	ErrUnknownMessage = &Error{Kind: KindDecode, Message: "unknown message type"}
)

func newError(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func authError(format string, args ...any) *Error {
	return newError(KindAuth, nil, format, args...)
}

func configError(format string, args ...any) *Error {
	return newError(KindConfig, nil, format, args...)
}

func sessionError(format string, args ...any) *Error {
	return newError(KindSession, nil, format, args...)
}

func networkError(err error, format string, args ...any) *Error {
	return newError(KindNetwork, err, format, args...)
}

func decodeError(err error, format string, args ...any) *Error {
	return newError(KindDecode, err, format, args...)
}
