package api

import (
	"context"
	"unicode/utf8"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/warden/internal/provider"
)

// Discord request limits.
const (
	maxMessageLength       = 2000
	maxBulkDelete          = 100
	minBulkDelete          = 2
	maxDeleteMessageWindow = 7 * 24 * 60 * 60
)

// DiscordModule implements @warden/discord.
type DiscordModule struct{}

// NewDiscordModule creates the discord module.
func NewDiscordModule() *DiscordModule {
	return &DiscordModule{}
}

// Name returns the module name.
func (m *DiscordModule) Name() string {
	return "discord"
}

// Open builds the module table.
func (m *DiscordModule) Open(L *lua.LState) *lua.LTable {
	mod := L.NewTable()
	L.SetField(mod, "new", L.NewFunction(m.new))
	return mod
}

// new(ctx[, scope]) -> executor
func (m *DiscordModule) new(L *lua.LState) int {
	h := newHandle[provider.DiscordProvider](L, "discord", provider.Context.DiscordProvider)
	p := h.Provider()

	L.Push(executor(L, h, map[string]lua.LGFunction{
		// discord:get_guild() -> promise<guild>
		"get_guild": func(L *lua.LState) int {
			authorize(L, h, "get_guild")
			return push(L, h.Op("get_guild"), value(p.GetGuild))
		},

		// discord:get_member(user_id) -> promise<member|nil>
		"get_member": func(L *lua.LState) int {
			user := checkID(L, 2)
			authorize(L, h, "get_member")
			return push(L, h.Op("get_member"), value(func(ctx context.Context) (*provider.Member, error) {
				return p.GetMember(ctx, user)
			}))
		},

		// discord:get_channel(channel_id) -> promise<channel>
		"get_channel": func(L *lua.LState) int {
			channel := checkID(L, 2)
			authorize(L, h, "get_channel")
			return push(L, h.Op("get_channel"), value(func(ctx context.Context) (provider.Channel, error) {
				return p.GetChannel(ctx, channel)
			}))
		},

		// discord:create_message(channel_id, content) -> promise<message>
		"create_message": func(L *lua.LState) int {
			channel := checkID(L, 2)
			content := L.CheckString(3)
			if content == "" || utf8.RuneCountInString(content) > maxMessageLength {
				L.ArgError(3, "content must be 1 to 2000 characters")
			}
			authorize(L, h, "create_message")
			return push(L, h.Op("create_message"), value(func(ctx context.Context) (provider.Message, error) {
				return p.CreateMessage(ctx, channel, content)
			}))
		},

		// discord:ban_member(user_id, reason[, delete_message_seconds]) -> promise<nil>
		"ban_member": func(L *lua.LState) int {
			user := checkID(L, 2)
			reason := L.CheckString(3)
			seconds := L.OptInt(4, 0)
			if seconds < 0 || seconds > maxDeleteMessageWindow {
				L.ArgError(4, "delete_message_seconds must be between 0 and 604800")
			}
			authorize(L, h, "ban_member")
			return push(L, h.Op("ban_member"), done(func(ctx context.Context) error {
				return p.BanMember(ctx, user, reason, seconds)
			}))
		},

		// discord:kick_member(user_id, reason) -> promise<nil>
		"kick_member": func(L *lua.LState) int {
			user := checkID(L, 2)
			reason := L.CheckString(3)
			authorize(L, h, "kick_member")
			return push(L, h.Op("kick_member"), done(func(ctx context.Context) error {
				return p.KickMember(ctx, user, reason)
			}))
		},

		// discord:bulk_delete_messages(channel_id, {message_id}) -> promise<nil>
		"bulk_delete_messages": func(L *lua.LState) int {
			channel := checkID(L, 2)
			ids := optStrings(L, 3)
			if len(ids) < minBulkDelete || len(ids) > maxBulkDelete {
				L.ArgError(3, "between 2 and 100 message ids are required")
			}
			authorize(L, h, "bulk_delete_messages")
			return push(L, h.Op("bulk_delete_messages"), done(func(ctx context.Context) error {
				return p.BulkDeleteMessages(ctx, channel, ids)
			}))
		},
	}))
	return 1
}
