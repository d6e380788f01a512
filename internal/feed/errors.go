package feed

import (
	"errors"
	"fmt"
)

var (
	// ErrDisconnected covers dial failures, read failures and remote closes.
	ErrDisconnected = errors.New("feed disconnected")
	// ErrMalformed is returned when a payload cannot be decoded.
	ErrMalformed = errors.New("malformed feed message")
	// ErrClosed is returned by Next after Close.
	ErrClosed = errors.New("feed stream closed")
)

// FeedError ends the current connection of a stream. Kind is ErrDisconnected
// or ErrMalformed and Err is the underlying cause.
type FeedError struct {
	Feed   string
	Symbol string
	Kind   error
	Err    error
}

func (e *FeedError) Error() string {
	return fmt.Sprintf("%s feed %s: %v: %v", e.Feed, e.Symbol, e.Kind, e.Err)
}

func (e *FeedError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}
