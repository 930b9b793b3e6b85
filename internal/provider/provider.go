// Package provider defines the contracts between the sandbox and the host's
// backend services.
//
// Each subsystem is a narrow interface. Every interface embeds Limited:
// AttemptAction(bucket) is called after the capability check and before the
// operation, and must fail without side effects when the bucket's quota is
// exhausted. The host decides, per Context and ExecutorScope, whether a
// subsystem exists at all.
package provider

import (
	"context"

	"github.com/google/uuid"
)

// Limited is implemented by every provider.
type Limited interface {
	// AttemptAction charges one call against bucket. A non-nil error means
	// the operation must not run.
	AttemptAction(bucket string) error
}

// Context is the host-supplied view of one script invocation.
type Context interface {
	// Data returns host data exposed to the script as ctx.data.
	Data() map[string]any

	// AllowedCaps returns the capabilities granted to this invocation.
	AllowedCaps() []string

	// TenantID identifies the tenant the script runs for.
	TenantID() string

	// OwnerTenantID identifies the tenant owning the template. It may be
	// empty when the template is not shared.
	OwnerTenantID() string

	// CurrentUser identifies the actor who triggered the invocation, if any.
	CurrentUser() string

	KVProvider(scope ExecutorScope) (KVProvider, bool)
	GlobalKVProvider(scope ExecutorScope) (GlobalKVProvider, bool)
	DiscordProvider(scope ExecutorScope) (DiscordProvider, bool)
	LockdownProvider(scope ExecutorScope) (LockdownProvider, bool)
	UserInfoProvider(scope ExecutorScope) (UserInfoProvider, bool)
	StingProvider(scope ExecutorScope) (StingProvider, bool)
	ScheduledExecProvider(scope ExecutorScope) (ScheduledExecProvider, bool)
	PageProvider(scope ExecutorScope) (PageProvider, bool)
	ObjectStorageProvider(scope ExecutorScope) (ObjectStorageProvider, bool)
	RuntimeProvider(scope ExecutorScope) (RuntimeProvider, bool)
}

// KVProvider is tenant key-value storage. An empty scopes slice means the
// unscoped keyspace.
type KVProvider interface {
	Limited
	ListScopes(ctx context.Context) ([]string, error)
	Keys(ctx context.Context, scopes []string) ([]string, error)
	Find(ctx context.Context, scopes []string, query string) ([]KVRecord, error)
	Exists(ctx context.Context, scopes []string, key string) (bool, error)
	Get(ctx context.Context, scopes []string, key string) (KVRecord, error)
	Set(ctx context.Context, scopes []string, key string, value any) (KVSetResult, error)
	Delete(ctx context.Context, scopes []string, key string) error
}

// GlobalKVProvider is read-only storage shared by every tenant.
type GlobalKVProvider interface {
	Limited
	List(ctx context.Context, query, scope string) ([]GlobalKVRecord, error)
	Get(ctx context.Context, key string, version int, scope string) (*GlobalKVRecord, error)
}

// DiscordProvider performs outbound platform actions.
type DiscordProvider interface {
	Limited
	GetGuild(ctx context.Context) (Guild, error)
	GetMember(ctx context.Context, userID string) (*Member, error)
	GetChannel(ctx context.Context, channelID string) (Channel, error)
	CreateMessage(ctx context.Context, channelID, content string) (Message, error)
	BanMember(ctx context.Context, userID, reason string, deleteMessageSeconds int) error
	KickMember(ctx context.Context, userID, reason string) error
	BulkDeleteMessages(ctx context.Context, channelID string, messageIDs []string) error
}

// LockdownProvider controls lockdowns.
type LockdownProvider interface {
	Limited
	List(ctx context.Context) ([]Lockdown, error)
	QSL(ctx context.Context, reason string) (uuid.UUID, error)
	TSL(ctx context.Context, reason string) (uuid.UUID, error)
	SCL(ctx context.Context, channelID, reason string) (uuid.UUID, error)
	Role(ctx context.Context, roleID, reason string) (uuid.UUID, error)
	Remove(ctx context.Context, id uuid.UUID) error
}

// UserInfoProvider looks up members.
type UserInfoProvider interface {
	Limited
	Get(ctx context.Context, userID string) (UserInfo, error)
}

// StingProvider is the moderation ledger.
type StingProvider interface {
	Limited
	List(ctx context.Context, page int) ([]Sting, error)
	Get(ctx context.Context, id uuid.UUID) (*Sting, error)
	Create(ctx context.Context, sting StingCreate) (uuid.UUID, error)
	Update(ctx context.Context, sting Sting) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// ScheduledExecProvider manages deferred template runs.
type ScheduledExecProvider interface {
	Limited
	// List returns all executions, or only those with the given id when id
	// is non-empty.
	List(ctx context.Context, id string) ([]ScheduledExecution, error)
	Add(ctx context.Context, exec ScheduledExecution) error
	Remove(ctx context.Context, id string) error
}

// PageProvider stores a template's settings page.
type PageProvider interface {
	Limited
	Get(ctx context.Context) (*Page, error)
	Set(ctx context.Context, page Page) error
	Delete(ctx context.Context) error
}

// ObjectStorageProvider stores tenant files.
type ObjectStorageProvider interface {
	Limited
	BucketName() string
	ListFiles(ctx context.Context, prefix string) ([]ObjectMetadata, error)
	FileExists(ctx context.Context, key string) (bool, error)
	DownloadFile(ctx context.Context, key string) ([]byte, error)
	GetFileURL(ctx context.Context, key string) (string, error)
	UploadFile(ctx context.Context, key string, data []byte) error
	DeleteFile(ctx context.Context, key string) error
}

// RuntimeProvider exposes hosting-service information and tenant state.
type RuntimeProvider interface {
	Limited
	GetTenantState(ctx context.Context) (TenantState, error)
	SetTenantState(ctx context.Context, state TenantState) error
	Stats(ctx context.Context) (RuntimeStats, error)
	Links() RuntimeLinks
	EventList(ctx context.Context) ([]string, error)
}
