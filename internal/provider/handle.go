package provider

import (
	"errors"

	"github.com/dshills/warden/internal/fault"
	"github.com/dshills/warden/internal/security"
)

// Lookup returns the provider of one subsystem from a Context.
type Lookup[P Limited] func(ctx Context, scope ExecutorScope) (P, bool)

// Handle pairs a capability-checked front end with a provider. It carries
// only the capability set and scope; all state lives in the provider.
type Handle[P Limited] struct {
	subsystem string
	scope     ExecutorScope
	caps      security.Set
	provider  P
}

// NewHandle resolves the provider for subsystem in ctx. It fails with a
// ProviderUnavailable fault when ctx has no provider for scope.
func NewHandle[P Limited](ctx Context, caps security.Set, subsystem string, scope ExecutorScope, lookup Lookup[P]) (*Handle[P], error) {
	p, ok := lookup(ctx, scope)
	if !ok {
		return nil, fault.Unavailable(subsystem, scope.String())
	}
	return &Handle[P]{
		subsystem: subsystem,
		scope:     scope,
		caps:      caps,
		provider:  p,
	}, nil
}

// Subsystem returns the capability namespace of the handle.
func (h *Handle[P]) Subsystem() string { return h.subsystem }

// Scope returns the scope the handle was resolved for.
func (h *Handle[P]) Scope() ExecutorScope { return h.scope }

// Provider returns the underlying provider. Callers must have passed
// Authorize first.
func (h *Handle[P]) Provider() P { return h.provider }

// Op returns the operation name used in faults, e.g. "lockdown.qsl".
func (h *Handle[P]) Op(action string) string {
	return h.subsystem + "." + action
}

// Authorize admits one call of action. The capability check runs first:
// "<subsystem>:<action>" or any of the alternatives must be present. Only
// then is the action's rate-limit bucket charged, so an unauthorized call
// never consumes quota.
func (h *Handle[P]) Authorize(action string, alternatives ...security.Capability) error {
	caps := append([]security.Capability{security.Of(h.subsystem, action)}, alternatives...)
	return h.AuthorizeExact(action, action, caps...)
}

// AuthorizeExact is Authorize with an explicit bucket and capability list.
func (h *Handle[P]) AuthorizeExact(action, bucket string, caps ...security.Capability) error {
	op := h.Op(action)
	if err := h.caps.Require(op, caps...); err != nil {
		return err
	}
	if err := h.provider.AttemptAction(bucket); err != nil {
		return asRateLimited(op, bucket, err)
	}
	return nil
}

func asRateLimited(op, bucket string, err error) error {
	var fe *fault.Error
	if errors.As(err, &fe) {
		if fe.Op == "" {
			cp := *fe
			cp.Op = op
			return &cp
		}
		return fe
	}
	return &fault.Error{
		Kind:    fault.KindRateLimited,
		Op:      op,
		Bucket:  bucket,
		Message: "rate limit exceeded",
		Err:     err,
	}
}
