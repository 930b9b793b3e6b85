// Package host is a reference implementation of the provider contracts.
//
// Tenant key-value data, global key-value data and scheduled executions
// live in SQLite; everything else is kept in memory per tenant. Each
// tenant has its own rate limiter built from the host's quotas. A
// Dispatcher runs scheduled executions when they come due.
package host

import (
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/warden/internal/fault"
	"github.com/dshills/warden/internal/logging"
	"github.com/dshills/warden/internal/metrics"
	"github.com/dshills/warden/internal/provider"
	"github.com/dshills/warden/internal/ratelimit"
)

// DefaultBucketURL is the base of object storage URLs.
const DefaultBucketURL = "https://files.warden.local"

// Option configures a Host.
type Option func(*Host)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(h *Host) {
		h.logger = l
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Host) {
		h.metrics = m
	}
}

// WithQuotas sets the per-tenant rate-limit quotas. Without it tenants are
// not rate limited.
func WithQuotas(cfg ratelimit.Config) Option {
	return func(h *Host) {
		h.quotas = &cfg
	}
}

// WithLinks sets the links reported to scripts.
func WithLinks(links provider.RuntimeLinks) Option {
	return func(h *Host) {
		h.links = links
	}
}

// WithEvents sets the event list reported to scripts.
func WithEvents(events ...string) Option {
	return func(h *Host) {
		h.events = events
	}
}

// WithBucketURL sets the base of object storage URLs.
func WithBucketURL(url string) Option {
	return func(h *Host) {
		h.bucketURL = url
	}
}

// Host owns the tenants and the store.
type Host struct {
	store     *Store
	quotas    *ratelimit.Config
	logger    *zap.Logger
	metrics   *metrics.Metrics
	links     provider.RuntimeLinks
	events    []string
	bucketURL string
	started   time.Time

	mu      sync.RWMutex
	tenants map[string]*Tenant
}

// New creates a host backed by store. Quotas are validated up front so
// tenant creation cannot fail later.
func New(store *Store, opts ...Option) (*Host, error) {
	if store == nil {
		return nil, errors.New("host requires a store")
	}
	h := &Host{
		store:     store,
		events:    DefaultEvents,
		bucketURL: DefaultBucketURL,
		started:   time.Now().UTC(),
		tenants:   make(map[string]*Tenant),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = logging.OrNop(h.logger).Named("host")

	if h.quotas != nil {
		if _, err := ratelimit.New(*h.quotas); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// Store returns the host's store.
func (h *Host) Store() *Store { return h.store }

// Tenant returns the tenant with id, creating it on first use.
func (h *Host) Tenant(id string) *Tenant {
	h.mu.RLock()
	t, ok := h.tenants[id]
	h.mu.RUnlock()
	if ok {
		return t
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.tenants[id]; ok {
		return t
	}
	t = h.newTenant(id)
	h.tenants[id] = t
	h.logger.Debug("tenant created", zap.String("tenant", id))
	return t
}

// Tenants returns the ids of known tenants, sorted.
func (h *Host) Tenants() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.tenants))
	for id := range h.tenants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stats reports process-wide counters.
func (h *Host) Stats() provider.RuntimeStats {
	h.mu.RLock()
	tenants := make([]*Tenant, 0, len(h.tenants))
	for _, t := range h.tenants {
		tenants = append(tenants, t)
	}
	h.mu.RUnlock()

	var users uint64
	for _, t := range tenants {
		users += uint64(t.memberCount())
	}
	return provider.RuntimeStats{
		TotalCachedTenants: uint64(len(tenants)),
		TotalTenants:       uint64(len(tenants)),
		TotalUsers:         users,
		LastStartedAt:      h.started,
	}
}

func (h *Host) newTenant(id string) *Tenant {
	var lim limits
	if h.quotas != nil {
		l, err := newLimiter(*h.quotas, id, h.metrics, h.logger)
		if err != nil {
			fault.Invariant("host.tenant", "quotas passed validation but failed for tenant "+id+": "+err.Error())
		}
		lim.lim = l
	}

	t := &Tenant{
		ID:      id,
		limiter: lim.lim,
		guild:   newGuild(id),
		mod:     newModeration(),
	}
	t.kv = &KV{limits: lim, store: h.store, tenant: id}
	t.globalKV = &GlobalKV{limits: lim, store: h.store}
	t.sched = &ScheduledExec{limits: lim, store: h.store, tenant: id}
	t.discord = &Discord{limits: lim, g: t.guild}
	t.userInfo = &UserInfo{limits: lim, g: t.guild}
	t.lockdowns = &Lockdowns{limits: lim, m: t.mod}
	t.stings = &Stings{limits: lim, m: t.mod}
	t.pages = &Pages{limits: lim}
	t.objects = newObjectStorage("tenant-"+id, h.bucketURL)
	t.objects.limits = lim
	t.runtime = &RuntimeInfo{limits: lim, host: h}
	return t
}

// Tenant is the provider state of one tenant.
type Tenant struct {
	ID string

	limiter *ratelimit.Limiter
	guild   *guild
	mod     *moderation

	kv        *KV
	globalKV  *GlobalKV
	sched     *ScheduledExec
	discord   *Discord
	userInfo  *UserInfo
	lockdowns *Lockdowns
	stings    *Stings
	pages     *Pages
	objects   *ObjectStorage
	runtime   *RuntimeInfo
}

// Limiter returns the tenant's rate limiter, or nil when the host has no
// quotas.
func (t *Tenant) Limiter() *ratelimit.Limiter { return t.limiter }
