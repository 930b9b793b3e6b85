package host

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/warden/internal/provider"
)

// guild is the in-memory platform state of a tenant.
type guild struct {
	mu       sync.Mutex
	info     provider.Guild
	members  map[string]provider.Member
	channels map[string]provider.Channel
	messages map[string]provider.Message
	bans     map[string]string
}

func newGuild(id string) *guild {
	return &guild{
		info:     provider.Guild{ID: id, Name: id},
		members:  make(map[string]provider.Member),
		channels: make(map[string]provider.Channel),
		messages: make(map[string]provider.Message),
		bans:     make(map[string]string),
	}
}

// Discord performs platform actions against a tenant's in-memory guild.
type Discord struct {
	limits
	g *guild
}

func (d *Discord) GetGuild(context.Context) (provider.Guild, error) {
	d.g.mu.Lock()
	defer d.g.mu.Unlock()
	info := d.g.info
	info.MemberCount = len(d.g.members)
	return info, nil
}

func (d *Discord) GetMember(_ context.Context, userID string) (*provider.Member, error) {
	d.g.mu.Lock()
	defer d.g.mu.Unlock()
	m, ok := d.g.members[userID]
	if !ok {
		return nil, nil
	}
	m.Roles = slices.Clone(m.Roles)
	return &m, nil
}

func (d *Discord) GetChannel(_ context.Context, channelID string) (provider.Channel, error) {
	d.g.mu.Lock()
	defer d.g.mu.Unlock()
	ch, ok := d.g.channels[channelID]
	if !ok {
		return provider.Channel{}, fmt.Errorf("unknown channel %q", channelID)
	}
	return ch, nil
}

func (d *Discord) CreateMessage(_ context.Context, channelID, content string) (provider.Message, error) {
	d.g.mu.Lock()
	defer d.g.mu.Unlock()
	if _, ok := d.g.channels[channelID]; !ok {
		return provider.Message{}, fmt.Errorf("unknown channel %q", channelID)
	}
	msg := provider.Message{ID: uuid.NewString(), ChannelID: channelID, Content: content}
	d.g.messages[msg.ID] = msg
	return msg, nil
}

func (d *Discord) BanMember(_ context.Context, userID, reason string, deleteMessageSeconds int) error {
	d.g.mu.Lock()
	defer d.g.mu.Unlock()
	delete(d.g.members, userID)
	d.g.bans[userID] = reason
	return nil
}

func (d *Discord) KickMember(_ context.Context, userID, _ string) error {
	d.g.mu.Lock()
	defer d.g.mu.Unlock()
	if _, ok := d.g.members[userID]; !ok {
		return fmt.Errorf("user %q is not a member", userID)
	}
	delete(d.g.members, userID)
	return nil
}

func (d *Discord) BulkDeleteMessages(_ context.Context, channelID string, messageIDs []string) error {
	d.g.mu.Lock()
	defer d.g.mu.Unlock()
	for _, id := range messageIDs {
		if msg, ok := d.g.messages[id]; ok && msg.ChannelID == channelID {
			delete(d.g.messages, id)
		}
	}
	return nil
}

// UserInfo looks members up in a tenant's in-memory guild.
type UserInfo struct {
	limits
	g *guild
}

func (u *UserInfo) Get(_ context.Context, userID string) (provider.UserInfo, error) {
	u.g.mu.Lock()
	defer u.g.mu.Unlock()
	m, ok := u.g.members[userID]
	if !ok {
		return provider.UserInfo{}, fmt.Errorf("user %q is not a member", userID)
	}
	name := m.Nick
	if name == "" {
		name = m.UserID
	}
	perms := []string{}
	if m.UserID == u.g.info.OwnerID {
		perms = append(perms, "administrator")
	}
	return provider.UserInfo{
		UserID:      m.UserID,
		DisplayName: name,
		Roles:       slices.Clone(m.Roles),
		Permissions: perms,
	}, nil
}

// AddMember adds or replaces a member of the tenant's guild.
func (t *Tenant) AddMember(m provider.Member) {
	t.guild.mu.Lock()
	defer t.guild.mu.Unlock()
	if m.JoinedAt.IsZero() {
		m.JoinedAt = time.Now().UTC()
	}
	t.guild.members[m.UserID] = m
}

// AddChannel adds or replaces a channel of the tenant's guild.
func (t *Tenant) AddChannel(ch provider.Channel) {
	t.guild.mu.Lock()
	defer t.guild.mu.Unlock()
	t.guild.channels[ch.ID] = ch
}

// SetGuild sets the guild's name and owner.
func (t *Tenant) SetGuild(name, ownerID string) {
	t.guild.mu.Lock()
	defer t.guild.mu.Unlock()
	t.guild.info.Name = name
	t.guild.info.OwnerID = ownerID
}

// Messages returns the messages of channelID, sorted by id.
func (t *Tenant) Messages(channelID string) []provider.Message {
	t.guild.mu.Lock()
	defer t.guild.mu.Unlock()
	var out []provider.Message
	for _, m := range t.guild.messages {
		if m.ChannelID == channelID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Banned reports whether userID is banned and with which reason.
func (t *Tenant) Banned(userID string) (string, bool) {
	t.guild.mu.Lock()
	defer t.guild.mu.Unlock()
	reason, ok := t.guild.bans[userID]
	return reason, ok
}

func (t *Tenant) memberCount() int {
	t.guild.mu.Lock()
	defer t.guild.mu.Unlock()
	return len(t.guild.members)
}

var (
	_ provider.DiscordProvider  = (*Discord)(nil)
	_ provider.UserInfoProvider = (*UserInfo)(nil)
)
