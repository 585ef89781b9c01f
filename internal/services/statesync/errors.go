package statesync

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownCabinet is returned for an IP that is not in the local mirror.
	ErrUnknownCabinet = errors.New("cabinet is not known")
	// ErrUnreachable is returned by QueryInfo when the cabinet's status says
	// it cannot answer.
	ErrUnreachable = errors.New("cabinet is not reachable in its current state")
)

// TransportError means the request itself failed: the server could not be
// reached or did not answer with an envelope.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// APIError means the server answered with error=true.
type APIError struct {
	Status  int
	Code    string
	Message string
	Field   string
	Fields  map[string]string
}

func (e *APIError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s (%s): %s", e.Code, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsCode reports whether err is an APIError with the given code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// IsTransport reports whether err is a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
