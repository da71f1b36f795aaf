package handlers

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"modbot/config"
	"modbot/events"
	"modbot/lang"
	"modbot/storage"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/require"
)

const (
	testGuild   = "100"
	testChannel = "200"
	botID       = "900"
	modID       = "300"
	memberID    = "400"
)

func restErr(code int) error {
	return &discordgo.RESTError{Message: &discordgo.APIErrorMessage{Code: code, Message: "test"}}
}

// fakeSession records every call the handlers make and serves members,
// roles, channels and message history from maps.
type fakeSession struct {
	mu sync.Mutex

	Calls     []string
	Responses []*discordgo.InteractionResponse
	Followups []*discordgo.WebhookParams
	Sent      map[string][]*discordgo.MessageSend
	Edits     []*discordgo.MessageEdit

	Members  map[string]*discordgo.Member
	Roles    []*discordgo.Role
	Channels map[string]*discordgo.Channel
	History  map[string][]*discordgo.Message
	Guild    *discordgo.Guild

	Bans            []string
	Unbans          []string
	Kicks           []string
	Timeouts        map[string]*time.Time
	DeletedChannels []string
	DeletedMessages []string
	BulkDeleted     [][]string
	RoleAdds        []string
	Created         []discordgo.GuildChannelCreateData
	PermSets        []string
	PermDeletes     []string
	ChannelEdits    []*discordgo.ChannelEdit

	AutoModRules []*discordgo.AutoModerationRule
	Raw          []string

	RespondErr error
	BanErr     error
	nextID     int
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		Sent:     make(map[string][]*discordgo.MessageSend),
		Members:  make(map[string]*discordgo.Member),
		Channels: make(map[string]*discordgo.Channel),
		History:  make(map[string][]*discordgo.Message),
		Timeouts: make(map[string]*time.Time),
		Guild:    &discordgo.Guild{ID: testGuild, Name: "Test Server", ApproximateMemberCount: 42},
	}
}

func (f *fakeSession) call(name string) {
	f.Calls = append(f.Calls, name)
}

func (f *fakeSession) id() string {
	f.nextID++
	return fmt.Sprintf("%d", 5000+f.nextID)
}

func (f *fakeSession) lastResponse() *discordgo.InteractionResponse {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Responses) == 0 {
		return nil
	}
	return f.Responses[len(f.Responses)-1]
}

func (f *fakeSession) lastFollowup() *discordgo.WebhookParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Followups) == 0 {
		return nil
	}
	return f.Followups[len(f.Followups)-1]
}

func (f *fakeSession) sentTo(channelID string) []*discordgo.MessageSend {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Sent[channelID]
}

func (f *fakeSession) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.call("InteractionRespond")
	if f.RespondErr != nil {
		return f.RespondErr
	}
	f.Responses = append(f.Responses, resp)
	return nil
}

func (f *fakeSession) FollowupMessageCreate(_ *discordgo.Interaction, _ bool, data *discordgo.WebhookParams, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.call("FollowupMessageCreate")
	f.Followups = append(f.Followups, data)
	return &discordgo.Message{ID: f.id()}, nil
}

func (f *fakeSession) send(channelID string, data *discordgo.MessageSend) (*discordgo.Message, error) {
	f.Sent[channelID] = append(f.Sent[channelID], data)
	return &discordgo.Message{ID: f.id(), ChannelID: channelID, Content: data.Content, Embeds: data.Embeds}, nil
}

func (f *fakeSession) ChannelMessageSend(channelID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.call("ChannelMessageSend")
	return f.send(channelID, &discordgo.MessageSend{Content: content})
}

func (f *fakeSession) ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.call("ChannelMessageSendEmbed")
	return f.send(channelID, &discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{embed}})
}

func (f *fakeSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.call("ChannelMessageSendComplex")
	return f.send(channelID, data)
}

func (f *fakeSession) ChannelMessageEditComplex(m *discordgo.MessageEdit, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.call("ChannelMessageEditComplex")
	f.Edits = append(f.Edits, m)
	return &discordgo.Message{ID: m.ID, ChannelID: m.Channel}, nil
}

func (f *fakeSession) ChannelMessage(channelID, messageID string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.call("ChannelMessage")
	for _, m := range f.History[channelID] {
		if m.ID == messageID {
			return m, nil
		}
	}
	return nil, restErr(discordgo.ErrCodeUnknownMessage)
}

// ChannelMessages serves History newest first, honouring limit and beforeID.
func (f *fakeSession) ChannelMessages(channelID string, limit int, beforeID, _, _ string, _ ...discordgo.RequestOption) ([]*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.call("ChannelMessages")
	all := f.History[channelID]
	start := 0
	if beforeID != "" {
		for n, m := range all {
			if m.ID == beforeID {
				start = n + 1
				break
			}
		}
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	if start > end {
		return nil, nil
	}
	return append([]*discordgo.Message(nil), all[start:end]...), nil
}

func (f *fakeSession) ChannelMessageDelete(_, messageID string, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.call("ChannelMessageDelete")
	f.DeletedMessages = append(f.DeletedMessages, messageID)
	return nil
}

func (f *fakeSession) ChannelMessagesBulkDelete(_ string, messages []string, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.call("ChannelMessagesBulkDelete")
	f.BulkDeleted = append(f.BulkDeleted, messages)
	return nil
}

func (f *fakeSession) Channel(channelID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.call("Channel")
	if ch, ok := f.Channels[channelID]; ok {
		return ch, nil
	}
	return nil, restErr(discordgo.ErrCodeUnknownChannel)
}

func (f *fakeSession) ChannelEdit(channelID string, data *discordgo.ChannelEdit, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.call("ChannelEdit")
	f.ChannelEdits = append(f.ChannelEdits, data)
	ch, ok := f.Channels[channelID]
	if !ok {
		ch = &discordgo.Channel{ID: channelID}
	}
	if data.Name != "" {
		ch.Name = data.Name
	}
	return ch, nil
}

func (f *fakeSession) ChannelDelete(channelID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.call("ChannelDelete")
	f.DeletedChannels = append(f.DeletedChannels, channelID)
	ch := f.Channels[channelID]
	delete(f.Channels, channelID)
	return ch, nil
}

func (f *fakeSession) ChannelPermissionSet(channelID, targetID string, _ discordgo.PermissionOverwriteType, allow, deny int64, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.call("ChannelPermissionSet")
	f.PermSets = append(f.PermSets, fmt.Sprintf("%s:%s:%d:%d", channelID, targetID, allow, deny))
	return nil
}

func (f *fakeSession) ChannelPermissionDelete(channelID, targetID string, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.call("ChannelPermissionDelete")
	f.PermDeletes = append(f.PermDeletes, channelID+":"+targetID)
	return nil
}

func (f *fakeSession) GuildChannelCreateComplex(guildID string, data discordgo.GuildChannelCreateData, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.call("GuildChannelCreateComplex")
	f.Created = append(f.Created, data)
	ch := &discordgo.Channel{ID: f.id(), GuildID: guildID, Name: data.Name, ParentID: data.ParentID, Type: data.Type}
	f.Channels[ch.ID] = ch
	return ch, nil
}

func (f *fakeSession) GuildWithCounts(string, ...discordgo.RequestOption) (*discordgo.Guild, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.call("GuildWithCounts")
	return f.Guild, nil
}

func (f *fakeSession) GuildRoles(string, ...discordgo.RequestOption) ([]*discordgo.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.call("GuildRoles")
	return f.Roles, nil
}

func (f *fakeSession) GuildMember(_, userID string, _ ...discordgo.RequestOption) (*discordgo.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.call("GuildMember")
	if m, ok := f.Members[userID]; ok {
		return m, nil
	}
	return nil, restErr(discordgo.ErrCodeUnknownMember)
}

func (f *fakeSession) GuildMemberRoleAdd(_, userID, roleID string, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.call("GuildMemberRoleAdd")
	f.RoleAdds = append(f.RoleAdds, userID+":"+roleID)
	return nil
}

func (f *fakeSession) GuildMemberTimeout(_, userID string, until *time.Time, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.call("GuildMemberTimeout")
	f.Timeouts[userID] = until
	return nil
}

func (f *fakeSession) GuildMemberDeleteWithReason(_, userID, _ string, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.call("GuildMemberDeleteWithReason")
	f.Kicks = append(f.Kicks, userID)
	return nil
}

func (f *fakeSession) GuildBanCreateWithReason(_, userID, _ string, _ int, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.call("GuildBanCreateWithReason")
	if f.BanErr != nil {
		return f.BanErr
	}
	f.Bans = append(f.Bans, userID)
	return nil
}

func (f *fakeSession) GuildBanDelete(_, userID string, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.call("GuildBanDelete")
	for n, id := range f.Bans {
		if id == userID {
			f.Bans = append(f.Bans[:n], f.Bans[n+1:]...)
			f.Unbans = append(f.Unbans, userID)
			return nil
		}
	}
	return restErr(discordgo.ErrCodeUnknownBan)
}

func (f *fakeSession) User(userID string, _ ...discordgo.RequestOption) (*discordgo.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.call("User")
	if m, ok := f.Members[userID]; ok {
		return m.User, nil
	}
	return nil, restErr(discordgo.ErrCodeUnknownUser)
}

// UserChannelCreate opens a DM channel "dm:<user>" for known members.
func (f *fakeSession) UserChannelCreate(recipientID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.call("UserChannelCreate")
	if _, ok := f.Members[recipientID]; !ok {
		return nil, restErr(discordgo.ErrCodeCannotSendMessagesToThisUser)
	}
	return &discordgo.Channel{ID: "dm:" + recipientID, Type: discordgo.ChannelTypeDM}, nil
}

func (f *fakeSession) HeartbeatLatency() time.Duration {
	return 42 * time.Millisecond
}

func (f *fakeSession) AutoModerationRules(string, ...discordgo.RequestOption) ([]*discordgo.AutoModerationRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.call("AutoModerationRules")
	return f.AutoModRules, nil
}

func (f *fakeSession) AutoModerationRuleDelete(_, ruleID string, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.call("AutoModerationRuleDelete")
	for n, r := range f.AutoModRules {
		if r.ID == ruleID {
			f.AutoModRules = append(f.AutoModRules[:n], f.AutoModRules[n+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeSession) RequestWithBucketID(method, urlStr string, _ interface{}, _ string, _ ...discordgo.RequestOption) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.call("RequestWithBucketID")
	f.Raw = append(f.Raw, method+" "+urlStr)
	return []byte(`{"id":"` + f.id() + `"}`), nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) kinds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Kind)
	}
	return out
}

// setupTest installs a fresh config, in-memory database, guild state dir and
// bot identity. The returned config may be tweaked before calling handlers.
func setupTest(t *testing.T) (*fakeSession, *config.Config, *recordingPublisher) {
	t.Helper()
	require.NoError(t, lang.Load(""))

	config.GuildDataDir = t.TempDir()
	storage.ResetGuilds()

	cfg := &config.Config{}
	cfg.ApplyDefaults()
	pub := &recordingPublisher{}
	Setup(cfg, pub)
	storage.DB = storage.NewMemoryDB()
	SetSelf(&discordgo.User{ID: botID, Username: "modbot", Discriminator: "0", Bot: true})

	prevDelete := scheduleDelete
	scheduleDelete = func(_ time.Duration, f func()) { f() }
	t.Cleanup(func() {
		scheduleDelete = prevDelete
		storage.ResetGuilds()
	})

	s := newFakeSession()
	s.Members[botID] = &discordgo.Member{User: botUser(), Roles: []string{"r-bot"}}
	s.Members[modID] = &discordgo.Member{User: testUser(modID, "mod"), Roles: []string{"r-mod"}}
	s.Members[memberID] = &discordgo.Member{User: testUser(memberID, "member"), Roles: []string{"r-member"}}
	s.Roles = []*discordgo.Role{
		{ID: "r-member", Name: "Member", Position: 1},
		{ID: "r-mod", Name: "Moderator", Position: 5},
		{ID: "r-bot", Name: "Bot", Position: 10},
		{ID: "r-owner", Name: "Owner", Position: 20},
	}
	return s, cfg, pub
}

func testUser(id, name string) *discordgo.User {
	return &discordgo.User{ID: id, Username: name, Discriminator: "0"}
}

func invokerMember(perms int64) *discordgo.Member {
	return &discordgo.Member{User: testUser(modID, "mod"), Roles: []string{"r-mod"}, Permissions: perms}
}

func strOpt(name, v string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{Name: name, Type: discordgo.ApplicationCommandOptionString, Value: v}
}

func intOpt(name string, v int) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{Name: name, Type: discordgo.ApplicationCommandOptionInteger, Value: float64(v)}
}

func userOpt(name, id string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{Name: name, Type: discordgo.ApplicationCommandOptionUser, Value: id}
}

func channelOpt(name, id string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{Name: name, Type: discordgo.ApplicationCommandOptionChannel, Value: id}
}

func roleOpt(name, id string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{Name: name, Type: discordgo.ApplicationCommandOptionRole, Value: id}
}

func subCmd(name string, opts ...*discordgo.ApplicationCommandInteractionDataOption) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{Name: name, Type: discordgo.ApplicationCommandOptionSubCommand, Options: opts}
}

// command builds a slash command interaction invoked by the moderator with perms.
func command(perms int64, name string, resolved map[string]*discordgo.User, opts ...*discordgo.ApplicationCommandInteractionDataOption) *discordgo.InteractionCreate {
	data := discordgo.ApplicationCommandInteractionData{Name: name, Options: opts}
	if resolved != nil {
		data.Resolved = &discordgo.ApplicationCommandInteractionDataResolved{Users: resolved}
	}
	return &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type:      discordgo.InteractionApplicationCommand,
		GuildID:   testGuild,
		ChannelID: testChannel,
		Member:    invokerMember(perms),
		Data:      data,
	}}
}

func component(member *discordgo.Member, channelID, customID string, values ...string) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type:      discordgo.InteractionMessageComponent,
		GuildID:   testGuild,
		ChannelID: channelID,
		Member:    member,
		Data:      discordgo.MessageComponentInteractionData{CustomID: customID, Values: values},
	}}
}

func modal(member *discordgo.Member, channelID, customID string, fields map[string]string) *discordgo.InteractionCreate {
	var rows []discordgo.MessageComponent
	for id, v := range fields {
		rows = append(rows, &discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			&discordgo.TextInput{CustomID: id, Value: v},
		}})
	}
	return &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type:      discordgo.InteractionModalSubmit,
		GuildID:   testGuild,
		ChannelID: channelID,
		Member:    member,
		Data:      discordgo.ModalSubmitInteractionData{CustomID: customID, Components: rows},
	}}
}

func responseEmbed(t *testing.T, resp *discordgo.InteractionResponse) *discordgo.MessageEmbed {
	t.Helper()
	require.NotNil(t, resp)
	require.NotNil(t, resp.Data)
	require.NotEmpty(t, resp.Data.Embeds)
	return resp.Data.Embeds[0]
}

func readFile(t *testing.T, f *discordgo.File) string {
	t.Helper()
	b, err := io.ReadAll(f.Reader)
	require.NoError(t, err)
	return string(b)
}
