package shared

import (
	"errors"
	"fmt"
	"strings"
)

// ConfigurationError is returned while resolving the application at startup.
// A process holding one of these must not begin serving requests.
type ConfigurationError struct {
	Kind      string
	Reference string
	Err       error
}

func (c *ConfigurationError) Error() string {
	if c.Reference == "" {
		return fmt.Sprintf("configuration error: %s: %v", c.Kind, c.Err)
	}
	return fmt.Sprintf("configuration error: %s (%s): %v", c.Kind, c.Reference, c.Err)
}

func (c *ConfigurationError) Unwrap() error {
	return c.Err
}

// Configuration error kinds
const (
	KindBadReference      = "bad reference format"
	KindNoSuchNamespace   = "no such namespace"
	KindNoSuchCallable    = "no such callable in namespace"
	KindMalformedActivate = "activation descriptor present but malformed"
	KindFactoryFailed     = "application factory failed"
)

var (
	ErrBadReference     = errors.New("reference must contain exactly one separator")
	ErrDuplicateEntry   = errors.New("callable already registered")
	ErrMissingBoundary  = errors.New("missing multipart boundary")
	ErrInvalidBoundary  = errors.New("invalid multipart boundary")
	ErrTruncated        = errors.New("stream ended before terminal boundary")
	ErrMalformedHeader  = errors.New("part header line missing ':' delimiter")
	ErrHeaderTooLong    = errors.New("part header line too long")
	ErrMissingFieldName = errors.New("part missing content-disposition name")
	ErrValueTooLarge    = errors.New("value part exceeds size limit")
	ErrNoSinks          = errors.New("file part received but no sink configured")
)

// DecodeError is returned by the multipart decoder. It is recovered per
// request; Summary is the text restated to the application or the host.
type DecodeError struct {
	Part int
	Err  error
}

func (d *DecodeError) Error() string {
	return "decode error: " + d.Summary()
}

func (d *DecodeError) Unwrap() error {
	return d.Err
}

// Summary is a best effort, single line description of the failure.
func (d *DecodeError) Summary() string {
	msg := "unknown failure"
	if d.Err != nil {
		msg = strings.ReplaceAll(d.Err.Error(), "\n", " ")
	}
	if d.Part > 0 {
		return fmt.Sprintf("multipart part %d: %s", d.Part, msg)
	}
	return "multipart body: " + msg
}

// InvocationError wraps a failure raised by an application, either as a
// returned error or a recovered panic, during the call or while its body
// was being drained.
type InvocationError struct {
	Phase string
	Err   error
	Stack []byte
}

func (i *InvocationError) Error() string {
	return fmt.Sprintf("application failed during %s: %v", i.Phase, i.Err)
}

func (i *InvocationError) Unwrap() error {
	return i.Err
}

// Invocation phases
const (
	PhaseCall    = "call"
	PhaseDrain   = "drain"
	PhaseRelease = "release"
	PhaseStart   = "start_response"
)

// RequestError is used when we want a specific error message and StatusCode
// returned by the host itself, outside of any application.
type RequestError struct {
	StatusCode int
	Err        error
}

func (r *RequestError) Error() string {
	return fmt.Sprintf("status %d: err %v", r.StatusCode, r.Err)
}

var (
	ErrMissingAuth   = &RequestError{Err: errors.New("missing authorization header"), StatusCode: 401}
	ErrInvalidFormat = &RequestError{Err: errors.New("invalid authentication format"), StatusCode: 401}
	ErrInvalidKeyLen = &RequestError{Err: errors.New("invalid API key length"), StatusCode: 401}
	ErrUnauthorized  = &RequestError{Err: errors.New("unauthorized"), StatusCode: 401}

	ErrTooManyRequests     = &RequestError{Err: errors.New("too many requests"), StatusCode: 429}
	ErrInternalServerError = &RequestError{Err: errors.New("internal server error"), StatusCode: 500}
)
