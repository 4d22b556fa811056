package boundary

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned once either side of the boundary has shut down.
	ErrClosed = errors.New("boundary closed")

	ErrUnknownChannel = errors.New("unknown channel")

	// ErrFrameTooLarge is wrapped by FrameTooLargeError.
	ErrFrameTooLarge = errors.New("frame too large")
)

// RemoteError is a command rejected by the host. Message is the host's
// human-readable description.
type RemoteError struct {
	Channel string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Channel, e.Message)
}

// FrameTooLargeError reports a frame over the transport's size limit. The
// routing fields are filled in when they could be read, so the receiver can
// reject the command instead of dropping it silently.
type FrameTooLargeError struct {
	Type    Kind
	ID      string
	Channel string
	Size    int
	Limit   int
}

func (e *FrameTooLargeError) Error() string {
	return fmt.Sprintf("%v: %s frame on %q is %d bytes, limit %d", ErrFrameTooLarge, e.Type, e.Channel, e.Size, e.Limit)
}

func (e *FrameTooLargeError) Unwrap() error {
	return ErrFrameTooLarge
}
