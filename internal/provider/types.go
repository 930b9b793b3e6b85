package provider

import (
	"time"

	"github.com/google/uuid"
)

// KVRecord is one entry of tenant key-value storage.
type KVRecord struct {
	ID            string
	Key           string
	Value         any
	Scopes        []string
	Exists        bool
	CreatedAt     *time.Time
	LastUpdatedAt *time.Time
}

// KVSetResult reports the outcome of a KV write.
type KVSetResult struct {
	// Exists is true if the key existed before the write.
	Exists bool
	ID     string
}

// GlobalKVRecord is one versioned entry of global key-value storage.
type GlobalKVRecord struct {
	Key           string
	Version       int
	OwnerID       string
	Scope         string
	Public        bool
	Data          any
	CreatedAt     time.Time
	LastUpdatedAt time.Time
}

// Lockdown types.
const (
	LockdownQuickServer = "qsl"
	LockdownTraditional = "tsl"
	LockdownChannel     = "scl"
	LockdownRole        = "role"
)

// Lockdown is an active lockdown.
type Lockdown struct {
	ID        uuid.UUID
	Type      string
	Target    string
	Reason    string
	CreatedAt time.Time
}

// Sting is an entry of the moderation ledger.
type Sting struct {
	ID         uuid.UUID
	SrcID      string
	Stings     int
	Reason     string
	VoidReason string
	Creator    string
	Target     string
	State      string
	CreatedAt  time.Time
	ExpiresAt  *time.Time
	Data       any
}

// StingCreate describes a sting to add.
type StingCreate struct {
	SrcID     string
	Stings    int
	Reason    string
	Creator   string
	Target    string
	State     string
	ExpiresAt *time.Time
	Data      any
}

// UserInfo describes a member of a tenant.
type UserInfo struct {
	UserID      string
	DisplayName string
	Roles       []string
	Permissions []string
}

// ScheduledExecution is a template run requested for a later time.
type ScheduledExecution struct {
	ID           string
	TemplateName string
	Data         any
	RunAt        time.Time
}

// Page is a template's settings page.
type Page struct {
	TemplateID  string
	Title       string
	Description string
	Settings    any
}

// ObjectMetadata describes a stored object.
type ObjectMetadata struct {
	Key          string
	LastModified *time.Time
	Size         int64
	ETag         string
}

// TenantState is runtime-level state kept per tenant.
type TenantState struct {
	Events []string
	Banned bool
	Data   any
}

// RuntimeStats are process-wide counters.
type RuntimeStats struct {
	TotalCachedTenants uint64
	TotalTenants       uint64
	TotalUsers         uint64
	LastStartedAt      time.Time
}

// RuntimeLinks are public URLs of the hosting service.
type RuntimeLinks struct {
	SupportServer string
	APIURL        string
	FrontendURL   string
	DocsURL       string
}

// Guild is a tenant as seen by the outbound platform.
type Guild struct {
	ID          string
	Name        string
	OwnerID     string
	MemberCount int
}

// Member is a user within a guild.
type Member struct {
	UserID   string
	Nick     string
	Roles    []string
	JoinedAt time.Time
}

// Channel is a guild channel.
type Channel struct {
	ID       string
	Name     string
	Type     string
	ParentID string
}

// Message is a sent message.
type Message struct {
	ID        string
	ChannelID string
	Content   string
}
