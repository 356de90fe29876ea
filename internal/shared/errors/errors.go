// Package errors defines agentcore's typed error taxonomy (spec.md §7) and
// a small circuit breaker; no call site in this module creates one, so
// LLM and worker-submit calls run without it. Grounded on
// internal/shared/errors/circuit_breaker_test.go and types_test.go.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors mapped to RPC error codes by internal/rpc's error mapper.
var (
	ErrValidation       = errors.New("validation error")
	ErrMethodNotFound   = errors.New("method not found")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrLockNotAcquired  = errors.New("lock not acquired")
	ErrThreadBusy       = errors.New("thread busy")
	ErrSessionNotFound  = errors.New("session not found")
	ErrThreadNotFound   = errors.New("thread not found")
	ErrTaskNotFound     = errors.New("task not found")
	ErrExecutionMissing = errors.New("execution not found")
	ErrLLMTransient     = errors.New("llm transient error")
	ErrLLMPersistent    = errors.New("llm persistent error")
	ErrCircuitOpen      = errors.New("circuit breaker open")
	ErrDuplicateLPT     = errors.New("duplicate lpt callback")
)

// RPCCode is one of the error codes named in spec.md §6.
type RPCCode string

const (
	CodeMethodNotFound RPCCode = "METHOD_NOT_FOUND"
	CodeInvalidArgs    RPCCode = "INVALID_ARGS"
	CodeInternal       RPCCode = "INTERNAL"
	CodeThreadBusy     RPCCode = "THREAD_BUSY"
	CodeRateLimited    RPCCode = "RATE_LIMITED"
)

// CodeFor maps a Go error to the RPC error code spec.md expects.
func CodeFor(err error) RPCCode {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return CodeInvalidArgs
	case errors.Is(err, ErrMethodNotFound):
		return CodeMethodNotFound
	case errors.Is(err, ErrThreadBusy):
		return CodeThreadBusy
	default:
		return CodeInternal
	}
}

// Wrapf wraps err with additional context, mirroring the teacher's
// fmt.Errorf("...: %w", err) idiom used throughout session_manager.go.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}
