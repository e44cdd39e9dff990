package realtime

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrConnectionClosed = errors.New("connection has been closed")
	ErrCannotConnect    = errors.New("connection cannot be established")
	ErrTerminated       = errors.New("program exit")
	ErrRateLimit        = errors.New("rate limit exceeded")
	ErrNotConnected     = errors.New("not connected")
	ErrNoTransport      = errors.New("no transport could be opened")
	ErrInvalidEnvelope  = errors.New("invalid event envelope")
	ErrUnknownEvent     = errors.New("unknown event")
	ErrServerDisconnect = errors.New("server requested disconnect")
)

// ErrUnrecoverableConnection is returned by a transport when retrying the same endpoint is pointless,
// e.g. the server rejected the handshake with a client error.
type ErrUnrecoverableConnection struct {
	err error
	url url.URL
}

func (e ErrUnrecoverableConnection) Error() string {
	return fmt.Sprintf("Unrecoverable connection error: %s to %s", e.err, e.url.String())
}

func (e ErrUnrecoverableConnection) Unwrap() error { return e.err }

func WrapErrorUnrecoverableConnection(err error, url url.URL) error {
	if err == nil {
		return nil
	}
	return &ErrUnrecoverableConnection{
		err: err,
		url: url,
	}
}

// OpenError is the cause reported when no transport could be opened. It matches ErrNoTransport and
// every per-transport failure, so errors.Is(err, ErrRateLimit) holds when a transport was rate limited.
type OpenError struct {
	Errs []error
}

func (e *OpenError) Error() string {
	causes := make([]string, 0, len(e.Errs))
	for _, err := range e.Errs {
		causes = append(causes, err.Error())
	}
	return fmt.Sprintf("%s: %s", ErrNoTransport, strings.Join(causes, "; "))
}

func (e *OpenError) Unwrap() []error {
	return append([]error{ErrNoTransport}, e.Errs...)
}

// Unrecoverable reports whether every transport was rejected in a way a retry cannot fix.
func (e *OpenError) Unrecoverable() bool {
	if len(e.Errs) == 0 {
		return false
	}
	for _, err := range e.Errs {
		var unrecoverable *ErrUnrecoverableConnection
		if !errors.As(err, &unrecoverable) {
			return false
		}
	}
	return true
}
