package host

import (
	"maps"
	"slices"

	"github.com/dshills/warden/internal/provider"
)

// Subsystem names accepted by WithoutSubsystems.
const (
	SubsystemKV            = "kv"
	SubsystemGlobalKV      = "globalkv"
	SubsystemDiscord       = "discord"
	SubsystemLockdown      = "lockdown"
	SubsystemUserInfo      = "userinfo"
	SubsystemSting         = "sting"
	SubsystemScheduledExec = "scheduledexec"
	SubsystemPage          = "page"
	SubsystemObjectStorage = "objectstorage"
	SubsystemRuntime       = "runtime"
)

// Context is the provider.Context of one script invocation. Scoped lookups
// resolve to the tenant the scope names.
type Context struct {
	host   *Host
	tenant string
	owner  string
	user   string
	caps   []string
	data   map[string]any
	absent map[string]bool
}

// ContextOption configures a Context.
type ContextOption func(*Context)

// WithOwner sets the tenant owning the template being run.
func WithOwner(tenantID string) ContextOption {
	return func(c *Context) {
		c.owner = tenantID
	}
}

// WithUser sets the actor who triggered the run.
func WithUser(userID string) ContextOption {
	return func(c *Context) {
		c.user = userID
	}
}

// WithCaps sets the capabilities granted to the run.
func WithCaps(caps ...string) ContextOption {
	return func(c *Context) {
		c.caps = slices.Clone(caps)
	}
}

// WithData sets the data exposed to the script as ctx.data.
func WithData(data map[string]any) ContextOption {
	return func(c *Context) {
		c.data = maps.Clone(data)
	}
}

// WithoutSubsystems hides the named subsystems from the run.
func WithoutSubsystems(names ...string) ContextOption {
	return func(c *Context) {
		for _, n := range names {
			c.absent[n] = true
		}
	}
}

// NewContext builds the context of a run for tenantID.
func (h *Host) NewContext(tenantID string, opts ...ContextOption) *Context {
	c := &Context{
		host:   h,
		tenant: tenantID,
		absent: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Context) Data() map[string]any  { return c.data }
func (c *Context) AllowedCaps() []string { return c.caps }
func (c *Context) TenantID() string      { return c.tenant }
func (c *Context) OwnerTenantID() string { return c.owner }
func (c *Context) CurrentUser() string   { return c.user }

func (c *Context) resolve(subsystem string, scope provider.ExecutorScope) (*Tenant, bool) {
	if c.absent[subsystem] {
		return nil, false
	}
	id := scope.TenantID(c)
	if id == "" {
		return nil, false
	}
	return c.host.Tenant(id), true
}

func (c *Context) KVProvider(scope provider.ExecutorScope) (provider.KVProvider, bool) {
	t, ok := c.resolve(SubsystemKV, scope)
	if !ok {
		return nil, false
	}
	return t.kv, true
}

func (c *Context) GlobalKVProvider(scope provider.ExecutorScope) (provider.GlobalKVProvider, bool) {
	t, ok := c.resolve(SubsystemGlobalKV, scope)
	if !ok {
		return nil, false
	}
	return t.globalKV, true
}

func (c *Context) DiscordProvider(scope provider.ExecutorScope) (provider.DiscordProvider, bool) {
	t, ok := c.resolve(SubsystemDiscord, scope)
	if !ok {
		return nil, false
	}
	return t.discord, true
}

func (c *Context) LockdownProvider(scope provider.ExecutorScope) (provider.LockdownProvider, bool) {
	t, ok := c.resolve(SubsystemLockdown, scope)
	if !ok {
		return nil, false
	}
	return t.lockdowns, true
}

func (c *Context) UserInfoProvider(scope provider.ExecutorScope) (provider.UserInfoProvider, bool) {
	t, ok := c.resolve(SubsystemUserInfo, scope)
	if !ok {
		return nil, false
	}
	return t.userInfo, true
}

func (c *Context) StingProvider(scope provider.ExecutorScope) (provider.StingProvider, bool) {
	t, ok := c.resolve(SubsystemSting, scope)
	if !ok {
		return nil, false
	}
	return t.stings, true
}

func (c *Context) ScheduledExecProvider(scope provider.ExecutorScope) (provider.ScheduledExecProvider, bool) {
	t, ok := c.resolve(SubsystemScheduledExec, scope)
	if !ok {
		return nil, false
	}
	return t.sched, true
}

func (c *Context) PageProvider(scope provider.ExecutorScope) (provider.PageProvider, bool) {
	t, ok := c.resolve(SubsystemPage, scope)
	if !ok {
		return nil, false
	}
	return t.pages, true
}

func (c *Context) ObjectStorageProvider(scope provider.ExecutorScope) (provider.ObjectStorageProvider, bool) {
	t, ok := c.resolve(SubsystemObjectStorage, scope)
	if !ok {
		return nil, false
	}
	return t.objects, true
}

func (c *Context) RuntimeProvider(scope provider.ExecutorScope) (provider.RuntimeProvider, bool) {
	t, ok := c.resolve(SubsystemRuntime, scope)
	if !ok {
		return nil, false
	}
	return t.runtime, true
}

var _ provider.Context = (*Context)(nil)
