package handlers

import (
	"testing"

	"modbot/config"
	"modbot/storage"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFillPlaceholders(t *testing.T) {
	u := testUser("1", "alice")
	text := "Welcome %joined_user% (%username%) to %server%, member #%member_count%!"

	assert.Equal(t, "Welcome <@1> (alice) to Cafe, member #7!", fillPlaceholders(text, u, "Cafe", 7, true))
	assert.Equal(t, "Welcome alice (alice) to Cafe, member #7!", fillPlaceholders(text, u, "Cafe", 7, false))
	assert.Equal(t, "no placeholders", fillPlaceholders("no placeholders", u, "Cafe", 7, true))
}

func TestBuildWelcomeLeaveEmbed(t *testing.T) {
	s, _, _ := setupTest(t)
	u := testUser(memberID, "member")
	wc := &config.WelcomeConfig{Embed: config.EmbedMessage{
		Title:        "Hi %joined_user%",
		Message:      "%joined_user% joined %server% (%member_count%)",
		Colour:       "#00FF00",
		Thumbnail:    "USER",
		ImageEnabled: true,
		ImageURL:     "https://example.com/banner.png",
	}}

	e := buildWelcomeLeaveEmbed(s, wc, u, testGuild)
	assert.Equal(t, "Hi member", e.Title)
	assert.Equal(t, "<@400> joined Test Server (42)", e.Description)
	assert.Equal(t, 0x00FF00, e.Color)
	require.NotNil(t, e.Thumbnail)
	assert.Equal(t, u.AvatarURL("256"), e.Thumbnail.URL)
	require.NotNil(t, e.Image)

	wc.Embed.Thumbnail = "bot"
	wc.Embed.Colour = "not a colour"
	wc.Embed.ImageEnabled = false
	e = buildWelcomeLeaveEmbed(s, wc, u, testGuild)
	assert.Equal(t, botUser().AvatarURL("256"), e.Thumbnail.URL)
	assert.Equal(t, colorMain, e.Color)
	assert.Nil(t, e.Image)

	wc.Embed.Thumbnail = "https://example.com/t.png"
	e = buildWelcomeLeaveEmbed(s, wc, u, testGuild)
	assert.Equal(t, "https://example.com/t.png", e.Thumbnail.URL)
}

func TestMemberJoinSendsWelcomeAndRole(t *testing.T) {
	s, cfg, _ := setupTest(t)
	cfg.Welcome = config.WelcomeConfig{Enabled: true, ChannelID: "welcome", Embed: config.EmbedMessage{Title: "Welcome", Message: "%joined_user%"}}
	cfg.JoinRole = config.JoinRoleConfig{Enabled: true, RoleID: "r-new"}

	handleMemberJoin(s, &discordgo.Member{GuildID: testGuild, User: testUser(memberID, "member")})

	sent := s.sentTo("welcome")
	require.Len(t, sent, 1)
	assert.Equal(t, "<@400>", sent[0].Embeds[0].Description)
	assert.Equal(t, []string{memberID + ":r-new"}, s.RoleAdds)
}

func TestMemberJoinSkipsRoleForBots(t *testing.T) {
	s, cfg, _ := setupTest(t)
	cfg.JoinRole = config.JoinRoleConfig{Enabled: true, RoleID: "r-new"}
	bot := testUser("777", "otherbot")
	bot.Bot = true

	handleMemberJoin(s, &discordgo.Member{GuildID: testGuild, User: bot})

	assert.Empty(t, s.RoleAdds)
	assert.Empty(t, s.Sent, "welcome is disabled")
}

func TestMemberLeave(t *testing.T) {
	s, cfg, _ := setupTest(t)
	cfg.Leave = config.WelcomeConfig{ChannelID: "bye", Embed: config.EmbedMessage{Title: "Bye %username%"}}
	m := &discordgo.Member{GuildID: testGuild, User: testUser(memberID, "member")}

	handleMemberLeave(s, m)
	assert.Empty(t, s.sentTo("bye"))

	cfg.Leave.Enabled = true
	handleMemberLeave(s, m)
	sent := s.sentTo("bye")
	require.Len(t, sent, 1)
	assert.Equal(t, "Bye member", sent[0].Embeds[0].Title)
}

func TestWelcomeCommandOverridesChannel(t *testing.T) {
	s, cfg, _ := setupTest(t)
	cfg.Welcome = config.WelcomeConfig{Enabled: true, ChannelID: "welcome", Embed: config.EmbedMessage{Title: "Welcome"}}

	handleWelcomeCommand(s, command(0, "welcome", nil, subCmd("channel", channelOpt("channel", "new-welcome"))))
	assert.Contains(t, responseEmbed(t, s.lastResponse()).Description, "permission")

	admin := discordgo.PermissionAdministrator
	handleWelcomeCommand(s, command(int64(admin), "welcome", nil, subCmd("channel", channelOpt("channel", "new-welcome"))))
	handleWelcomeCommand(s, command(int64(admin), "welcome", nil, subCmd("leave-channel", channelOpt("channel", "new-bye"))))

	gs := storage.GetGuild(testGuild)
	gs.RLock()
	assert.Equal(t, "new-welcome", config.EffectiveWelcomeChannel(cfg, gs))
	assert.Equal(t, "new-bye", config.EffectiveLeaveChannel(cfg, gs))
	gs.RUnlock()

	handleWelcomeCommand(s, command(int64(admin), "welcome", nil, subCmd("test")))
	assert.Len(t, s.sentTo("new-welcome"), 1)
	assert.Equal(t, "✅ Test sent", responseEmbed(t, s.lastResponse()).Title)
}

func TestWelcomeTestWithoutChannelPreviewsEphemerally(t *testing.T) {
	s, cfg, _ := setupTest(t)
	cfg.Welcome.Embed = config.EmbedMessage{Title: "Hello %username%"}

	handleWelcomeCommand(s, command(discordgo.PermissionAdministrator, "welcome", nil, subCmd("test")))

	resp := s.lastResponse()
	assert.Equal(t, "Hello mod", responseEmbed(t, resp).Title)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, resp.Data.Flags)
	assert.Empty(t, s.Sent)
}

func TestJoinRoleCommand(t *testing.T) {
	s, cfg, _ := setupTest(t)
	cfg.JoinRole = config.JoinRoleConfig{Enabled: true, RoleID: "r-config"}
	admin := int64(discordgo.PermissionAdministrator)

	handleJoinRoleCommand(s, command(admin, "joinrole", nil, subCmd("status")))
	assert.Contains(t, responseEmbed(t, s.lastResponse()).Description, "<@&r-config>")

	handleJoinRoleCommand(s, command(admin, "joinrole", nil, subCmd("set", roleOpt("role", "r-new"))))
	handleJoinRoleCommand(s, command(admin, "joinrole", nil, subCmd("status")))
	assert.Contains(t, responseEmbed(t, s.lastResponse()).Description, "<@&r-new>")

	handleJoinRoleCommand(s, command(admin, "joinrole", nil, subCmd("disable")))
	handleJoinRoleCommand(s, command(admin, "joinrole", nil, subCmd("status")))
	assert.Contains(t, responseEmbed(t, s.lastResponse()).Description, "**disabled**")

	assignJoinRole(s, testGuild, memberID)
	assert.Empty(t, s.RoleAdds)

	// setting a role again re-enables it
	handleJoinRoleCommand(s, command(admin, "joinrole", nil, subCmd("set", roleOpt("role", "r-new"))))
	assignJoinRole(s, testGuild, memberID)
	assert.Equal(t, []string{memberID + ":r-new"}, s.RoleAdds)
}
