package bus

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadySubscribed is returned by a second Subscribe.
	ErrAlreadySubscribed = errors.New("bus: already subscribed")
	// ErrNilEvent is returned when publishing a nil event.
	ErrNilEvent = errors.New("bus: nil event")
	// ErrUnknownChannel is wrapped by DecodeError for a channel outside the set.
	ErrUnknownChannel = errors.New("bus: unknown channel")
	// ErrMissingWorkerID is wrapped by DecodeError for payloads without origin.
	ErrMissingWorkerID = errors.New("bus: payload has no workerId")
)

// DecodeError reports an inbound payload that was dropped.
type DecodeError struct {
	Channel string
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("bus: decode %s: %v", e.Channel, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
