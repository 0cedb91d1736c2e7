package sdk

import (
	"errors"
	"fmt"
)

// ErrClosed is returned when the client connection is gone.
var ErrClosed = errors.New("testdeck: connection closed")

// ServerError is a caller fault reported by the coordinator.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("testdeck: %s", e.Message)
}
