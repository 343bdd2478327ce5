package comms

import "errors"

var (
	// ErrBusClosed is returned by Publish and Subscribe after Close.
	ErrBusClosed = errors.New("comms: bus closed")

	// ErrTimeout is returned by SendRequest when the exchange deadline
	// elapses before a matching response arrives. The bus never retries;
	// retrying is the caller's decision.
	ErrTimeout = errors.New("comms: exchange timed out")

	// ErrCanceled is returned by SendRequest when the caller's context is
	// canceled while the exchange is pending.
	ErrCanceled = errors.New("comms: exchange canceled")
)
