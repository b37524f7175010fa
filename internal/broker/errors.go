package broker

import (
	"errors"
	"fmt"
)

// ErrorKind classifies Gateway failures so retry policy can be driven by
// kind instead of a generic catch-all.
type ErrorKind string

const (
	KindTimeout      ErrorKind = "timeout"
	KindConnectivity ErrorKind = "connectivity"
	KindRejected     ErrorKind = "rejected"
	KindData         ErrorKind = "data"
)

// GatewayError wraps any failure surfaced by the Gateway connection.
type GatewayError struct {
	Kind   ErrorKind
	Op     string
	Symbol string
	Err    error
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s %s: %v", e.Kind, e.Op, e.Symbol, e.Err)
	}
	return fmt.Sprintf("%s: %s %s", e.Kind, e.Op, e.Symbol)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Retryable reports whether the failure is a transient transport condition
// worth retrying with backoff.
func (e *GatewayError) Retryable() bool {
	return e.Kind == KindTimeout || e.Kind == KindConnectivity
}

// IsRetryable reports whether err is (or wraps) a retryable GatewayError.
// Unknown errors are treated as non-retryable logic errors.
func IsRetryable(err error) bool {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Retryable()
	}
	return false
}

func NewTimeoutError(op, symbol string, err error) *GatewayError {
	return &GatewayError{Kind: KindTimeout, Op: op, Symbol: symbol, Err: err}
}

func NewConnectivityError(op, symbol string, err error) *GatewayError {
	return &GatewayError{Kind: KindConnectivity, Op: op, Symbol: symbol, Err: err}
}

func NewRejectedError(op, symbol string, err error) *GatewayError {
	return &GatewayError{Kind: KindRejected, Op: op, Symbol: symbol, Err: err}
}

func NewDataError(op, symbol string, err error) *GatewayError {
	return &GatewayError{Kind: KindData, Op: op, Symbol: symbol, Err: err}
}
