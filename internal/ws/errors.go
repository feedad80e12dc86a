package ws

import "fmt"

// ConfigError is returned by NewSupervisor for a configuration that can
// never work. No connection is attempted.
type ConfigError struct {
	Field  string
	Value  string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("invalid config %s=%q: %s", e.Field, e.Value, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ConnectError is a failed dial or handshake. StatusCode is the HTTP status
// of the upgrade response when the server answered at all.
type ConnectError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *ConnectError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("connect %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("connect %s: %v", e.URL, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// IOError is a transport failure on an established connection.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *IOError) Unwrap() error { return e.Err }

// ServerClosedError reports a close frame received from the server.
type ServerClosedError struct {
	Code   int
	Reason string
}

func (e *ServerClosedError) Error() string {
	return fmt.Sprintf("connection closed by server: code %d %q", e.Code, e.Reason)
}

// RetriesExhaustedError is returned by Run once MaxRetries consecutive
// attempts have failed. Err is the last failure.
type RetriesExhaustedError struct {
	Attempts int
	Err      error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetriesExhaustedError) Unwrap() error { return e.Err }
