// Package errs defines the error taxonomy shared across the notification
// hub: configuration, Postgres, and HTTP-facing errors that carry enough
// shape for logging and exit-code decisions without leaking details to
// SSE clients.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error for logging and exit-code purposes.
type Kind int

const (
	KindIO Kind = iota
	KindConfigFormat
	KindConfig
	KindPostgresConnection
	KindPostgres
	KindSubscriptionNotFound
	KindPostgresTLS
	KindServerTLS
	KindSystemTime
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindConfigFormat:
		return "config_format"
	case KindConfig:
		return "config"
	case KindPostgresConnection:
		return "postgres_connection"
	case KindPostgres:
		return "postgres"
	case KindSubscriptionNotFound:
		return "subscription_not_found"
	case KindPostgresTLS:
		return "postgres_tls"
	case KindServerTLS:
		return "server_tls"
	case KindSystemTime:
		return "system_time"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind for dispatch on error type
// without resorting to string matching.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a Kind-tagged error.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap tags an existing error with a Kind.
func Wrap(kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Is reports whether err (or any error it wraps) has the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// ErrSubscriptionNotFound is returned when a subscribe request names an
// id that is not in the configured logical channels.
var ErrSubscriptionNotFound = New(KindSubscriptionNotFound, "subscription not found")

// MultiError holds multiple errors accumulated during a single pass, such
// as validating every field of a configuration file before giving up.
type MultiError struct {
	Errors []error
}

func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	msgs := make([]string, len(m.Errors))
	for i, err := range m.Errors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%d error(s) occurred:\n- %s", len(m.Errors), strings.Join(msgs, "\n- "))
}

// Unwrap supports errors.Is/As over the accumulated errors.
func (m *MultiError) Unwrap() []error { return m.Errors }

// OrNil returns nil if m holds no errors, otherwise m itself.
func (m *MultiError) OrNil() error {
	if m == nil || len(m.Errors) == 0 {
		return nil
	}
	return m
}
