package reader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// ErrRetryExhausted is returned by Fetcher.Fetch when every attempt failed
// with a connectivity error. The poll cycle is skipped, nothing is fatal.
var ErrRetryExhausted = errors.New("retry attempts exhausted")

// StatusError is a response with a non-2xx status code.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("depth request to %s returned status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("depth request to %s returned status %d: %s", e.URL, e.StatusCode, e.Body)
}

// MalformedResponseError is a response body that does not have the depth
// shape. Field names the offending key, empty for the body as a whole.
type MalformedResponseError struct {
	Field  string
	Reason string
	Err    error
}

func (e *MalformedResponseError) Error() string {
	msg := "malformed depth response"
	if e.Field != "" {
		msg += fmt.Sprintf(" field %q", e.Field)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

func malformed(field, reason string, err error) error {
	return &MalformedResponseError{Field: field, Reason: reason, Err: err}
}

// IsConnectivity reports whether err is a transient network failure worth
// retrying: refused or reset connections, dial and DNS failures (timeouts
// while dialing included) and a connection closed before the response was
// complete. Timeouts after the connection is established, cancellation,
// status and payload errors are not connectivity errors.
func IsConnectivity(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return false
	}
	var malformedErr *MalformedResponseError
	if errors.As(err, &malformedErr) {
		return false
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "dial"
	}
	return false
}
