package services

import (
	"errors"
	"fmt"
)

// ErrorKind classifies service failures so the HTTP boundary can perform a
// single mechanical translation to status codes.
type ErrorKind int

const (
	// KindUnknown is the zero kind for errors that did not come from this
	// package.
	KindUnknown ErrorKind = iota
	// KindInvalidArgument marks malformed or out-of-range input.
	KindInvalidArgument
	// KindNotFound marks a single-entity lookup miss on paths where absence
	// is an error (the single-key delete only).
	KindNotFound
	// KindGenerationExhausted marks a key generation loop that ran out of
	// attempts.
	KindGenerationExhausted
	// KindStoreFailure marks any persistence failure not otherwise handled.
	KindStoreFailure
)

// Error is the typed error returned by the key lifecycle service.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the ErrorKind of err, or KindUnknown if err is not a
// service error.
func KindOf(err error) ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}

func invalidArgument(message string) *Error {
	return &Error{Kind: KindInvalidArgument, Message: message}
}

func notFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

func generationExhausted(message string) *Error {
	return &Error{Kind: KindGenerationExhausted, Message: message}
}

func storeFailure(message string, err error) *Error {
	return &Error{Kind: KindStoreFailure, Message: message, Err: err}
}
