// Package fault defines the error taxonomy shared by the sandbox runtime.
//
// Every failure that crosses the plugin boundary is classified into a Kind.
// Scripts only ever see a message; the host can recover the structured Kind
// with errors.As or the Is* helpers for alerting and metrics.
package fault

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a fault.
type Kind int

const (
	// KindUnknown is the zero value and is never produced by this module.
	KindUnknown Kind = iota

	// KindAuthorizationDenied means a required capability is absent.
	// Permanent for the context that produced it.
	KindAuthorizationDenied

	// KindRateLimited means a quota is exhausted. Transient; RetryAfter
	// carries the wait hint.
	KindRateLimited

	// KindProviderUnavailable means the context has no provider for the
	// requested subsystem and scope.
	KindProviderUnavailable

	// KindDomainError means the provider operation itself failed.
	KindDomainError

	// KindRuntimeBroken means the underlying VM faulted or was shut down.
	KindRuntimeBroken

	// KindInvariantViolation signals a host integration bug. Raised with panic.
	KindInvariantViolation
)

var kindNames = map[Kind]string{
	KindUnknown:             "unknown",
	KindAuthorizationDenied: "authorization_denied",
	KindRateLimited:         "rate_limited",
	KindProviderUnavailable: "provider_unavailable",
	KindDomainError:         "domain_error",
	KindRuntimeBroken:       "runtime_broken",
	KindInvariantViolation:  "invariant_violation",
}

// String returns the snake_case name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Retryable reports whether an operation failing with this kind may succeed
// if repeated later.
func (k Kind) Retryable() bool {
	return k == KindRateLimited
}

// Kinds returns every kind produced by this module in declaration order.
func Kinds() []Kind {
	return []Kind{
		KindAuthorizationDenied,
		KindRateLimited,
		KindProviderUnavailable,
		KindDomainError,
		KindRuntimeBroken,
		KindInvariantViolation,
	}
}

// Sentinel errors, one per kind, usable with errors.Is.
var (
	ErrAuthorizationDenied = &Error{Kind: KindAuthorizationDenied}
	ErrRateLimited         = &Error{Kind: KindRateLimited}
	ErrProviderUnavailable = &Error{Kind: KindProviderUnavailable}
	ErrDomain              = &Error{Kind: KindDomainError}
	ErrRuntimeBroken       = &Error{Kind: KindRuntimeBroken}
	ErrInvariantViolation  = &Error{Kind: KindInvariantViolation}
)

// Error is a classified failure.
type Error struct {
	Kind Kind

	// Op is the operation that failed, e.g. "lockdown.qsl".
	Op string

	// Bucket is the rate-limit bucket, set for KindRateLimited.
	Bucket string

	// Tier names the limiter tier that denied ("global" or "bucket").
	Tier string

	// RetryAfter is the wait hint for KindRateLimited.
	RetryAfter time.Duration

	// Message is a human-readable description shown to scripts.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = e.Kind.String()
	}

	if e.Kind == KindRateLimited && e.Bucket != "" {
		msg = fmt.Sprintf("%s (bucket %q, retry after %s)", msg, e.Bucket, e.RetryAfter)
	}

	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same Kind, so the sentinels work with
// errors.Is regardless of the other fields.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New creates an error of the given kind.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap classifies err under kind. A nil err yields nil.
func Wrap(kind Kind, op string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Denied returns an AuthorizationDenied error for the capability.
func Denied(op, capability string) *Error {
	return &Error{
		Kind:    KindAuthorizationDenied,
		Op:      op,
		Message: fmt.Sprintf("capability %q is required", capability),
	}
}

// RateLimited returns a RateLimited error.
func RateLimited(bucket, tier string, wait time.Duration) *Error {
	return &Error{
		Kind:       KindRateLimited,
		Bucket:     bucket,
		Tier:       tier,
		RetryAfter: wait,
		Message:    "rate limit exceeded",
	}
}

// Unavailable returns a ProviderUnavailable error for the subsystem.
func Unavailable(subsystem, scope string) *Error {
	return &Error{
		Kind:    KindProviderUnavailable,
		Op:      subsystem,
		Message: fmt.Sprintf("no %s provider is available for scope %s", subsystem, scope),
	}
}

// Domain wraps a provider failure.
func Domain(op string, err error) *Error {
	return Wrap(KindDomainError, op, err)
}

// Broken returns a RuntimeBroken error.
func Broken(reason string) *Error {
	return &Error{Kind: KindRuntimeBroken, Message: "runtime is broken: " + reason}
}

// Invariant panics with an InvariantViolation error.
func Invariant(op, message string) {
	panic(&Error{Kind: KindInvariantViolation, Op: op, Message: message})
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// Retryable reports whether err is a transient fault.
func Retryable(err error) bool {
	return KindOf(err).Retryable()
}

// IsAuthorizationDenied reports whether err is an AuthorizationDenied fault.
func IsAuthorizationDenied(err error) bool {
	return KindOf(err) == KindAuthorizationDenied
}

// IsRateLimited reports whether err is a RateLimited fault.
func IsRateLimited(err error) bool {
	return KindOf(err) == KindRateLimited
}

// IsProviderUnavailable reports whether err is a ProviderUnavailable fault.
func IsProviderUnavailable(err error) bool {
	return KindOf(err) == KindProviderUnavailable
}

// IsDomain reports whether err is a DomainError fault.
func IsDomain(err error) bool {
	return KindOf(err) == KindDomainError
}

// IsRuntimeBroken reports whether err is a RuntimeBroken fault.
func IsRuntimeBroken(err error) bool {
	return KindOf(err) == KindRuntimeBroken
}

// RetryAfter returns the wait hint carried by a RateLimited fault.
func RetryAfter(err error) (time.Duration, bool) {
	fe, ok := As(err)
	if !ok || fe.Kind != KindRateLimited {
		return 0, false
	}
	return fe.RetryAfter, true
}
