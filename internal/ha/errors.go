package ha

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by Send and Request while no connection is open.
	ErrNotConnected = errors.New("send while closed")

	// ErrAlreadyConnected is returned by Connect when a connection is already open.
	ErrAlreadyConnected = errors.New("already connected")

	// ErrConnectionClosed resolves requests that were in flight when the connection went away.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrRequestTimeout resolves requests that received no result in time.
	ErrRequestTimeout = errors.New("timeout waiting for response")

	// ErrAuthInvalid marks a connection torn down because the token was rejected.
	ErrAuthInvalid = errors.New("authentication failed")
)

// RequestError is a result frame with success=false.
type RequestError struct {
	Code    string
	Message string
}

func (e *RequestError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("HA error: %s", e.Message)
	}
	return fmt.Sprintf("HA error: %s - %s", e.Code, e.Message)
}
