package agent

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies worker failures so the UI and coordinator can react
// without inspecting provider-specific errors.
type ErrorKind string

const (
	ErrKindTimeout         ErrorKind = "TIMEOUT"
	ErrKindCancelled       ErrorKind = "CANCELLED"
	ErrKindWorker          ErrorKind = "WORKER_EXECUTION"
	ErrKindSessionNotFound ErrorKind = "SESSION_NOT_FOUND"
	ErrKindAuthFailed      ErrorKind = "AUTH_FAILED"
	ErrKindProvider        ErrorKind = "PROVIDER_ERROR"
)

type AgentError struct {
	Kind ErrorKind
	Err  error
}

func (e *AgentError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *AgentError) Unwrap() error {
	return e.Err
}

func Errorf(kind ErrorKind, format string, args ...any) error {
	return &AgentError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// ErrUserCancelled is returned when a run is cancelled via context cancellation.
var ErrUserCancelled = &AgentError{Kind: ErrKindCancelled, Err: errors.New("user cancelled run")}

// ErrIdleTimeout is returned when a worker goes silent past its idle budget.
var ErrIdleTimeout = &AgentError{Kind: ErrKindTimeout, Err: errors.New("worker idle timeout exceeded")}

func normalizeCancellationErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUserCancelled) || errors.Is(err, context.Canceled) {
		return ErrUserCancelled
	}
	return err
}

func checkContextCancelled(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return normalizeCancellationErr(err)
	}
	return nil
}

func IsUserCancelled(err error) bool {
	return KindOf(err) == ErrKindCancelled
}

func IsTimeout(err error) bool {
	return KindOf(err) == ErrKindTimeout
}

// KindOf extracts the error kind, classifying untyped errors as
// WORKER_EXECUTION and nil as the empty kind.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	err = normalizeCancellationErr(err)
	var agentErr *AgentError
	if errors.As(err, &agentErr) {
		return agentErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrKindTimeout
	}
	return ErrKindWorker
}

// Retryable reports whether a collaborator adapter may retry a failure
// internally. Cancellation and auth failures are terminal by policy.
func Retryable(kind ErrorKind) bool {
	switch kind {
	case ErrKindCancelled, ErrKindAuthFailed:
		return false
	default:
		return true
	}
}
