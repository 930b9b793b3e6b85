package provider

import "fmt"

// ExecutorScope selects which upstream target a scoped provider call applies
// to. It is resolved once when a handle is built and never changes.
type ExecutorScope int

const (
	// ScopeThisTenant targets the tenant the script runs for.
	ScopeThisTenant ExecutorScope = iota

	// ScopeOwnerTenant targets the tenant that owns the template.
	ScopeOwnerTenant
)

// String returns the script-facing name of the scope.
func (s ExecutorScope) String() string {
	switch s {
	case ScopeThisTenant:
		return "this_tenant"
	case ScopeOwnerTenant:
		return "owner_tenant"
	default:
		return fmt.Sprintf("scope(%d)", int(s))
	}
}

// ParseScope parses a scope name as written by a script. The empty string
// selects ScopeThisTenant.
func ParseScope(s string) (ExecutorScope, error) {
	switch s {
	case "", "this_tenant":
		return ScopeThisTenant, nil
	case "owner_tenant":
		return ScopeOwnerTenant, nil
	default:
		return 0, fmt.Errorf("unknown executor scope %q: expected this_tenant or owner_tenant", s)
	}
}

// TenantID returns the tenant the scope resolves to within ctx. A context
// without an owner tenant resolves ScopeOwnerTenant to its own tenant.
func (s ExecutorScope) TenantID(ctx Context) string {
	if s == ScopeOwnerTenant {
		if owner := ctx.OwnerTenantID(); owner != "" {
			return owner
		}
	}
	return ctx.TenantID()
}
