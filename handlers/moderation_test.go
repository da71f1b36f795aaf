package handlers

import (
	"context"
	"testing"
	"time"

	"modbot/storage"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "10", want: 10 * time.Minute},
		{in: "90m", want: 90 * time.Minute},
		{in: "2h", want: 2 * time.Hour},
		{in: " 1D ", want: 24 * time.Hour},
		{in: "28d", want: 28 * 24 * time.Hour},
		{in: "1h30m", want: 90 * time.Minute},
		{in: "", wantErr: true},
		{in: "soon", wantErr: true},
		{in: "xd", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseDuration(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHighestRole(t *testing.T) {
	roles := []*discordgo.Role{{ID: "a", Position: 3}, {ID: "b", Position: 7}}
	assert.Equal(t, 7, highestRole(&discordgo.Member{Roles: []string{"a", "b"}}, roles))
	assert.Equal(t, 3, highestRole(&discordgo.Member{Roles: []string{"a", "gone"}}, roles))
	assert.Equal(t, 0, highestRole(&discordgo.Member{}, roles))
}

func TestSnowflakeTime(t *testing.T) {
	// 175928847299117063 is the example id from the Discord docs.
	got := snowflakeTime("175928847299117063")
	assert.Equal(t, int64(1462015105796), got.UnixMilli())
}

func TestCheckTarget(t *testing.T) {
	s, _, _ := setupTest(t)
	s.Members["500"] = &discordgo.Member{User: testUser("500", "owner"), Roles: []string{"r-owner"}}
	i := command(0, "ban", nil)

	assert.Contains(t, checkTarget(s, i, testUser(modID, "mod"), "ban"), "yourself")
	assert.Contains(t, checkTarget(s, i, botUser(), "ban"), "myself")
	assert.Contains(t, checkTarget(s, i, testUser("500", "owner"), "ban"), "not below mine")
	assert.Empty(t, checkTarget(s, i, testUser(memberID, "member"), "ban"))
	// users who already left are not subject to the hierarchy check
	assert.Empty(t, checkTarget(s, i, testUser("777", "ghost"), "ban"))
}

func TestHandleBan(t *testing.T) {
	s, cfg, pub := setupTest(t)
	cfg.Moderation.LogChannel = "log"
	target := testUser(memberID, "member")

	handleBan(s, command(discordgo.PermissionBanMembers, "ban",
		map[string]*discordgo.User{memberID: target},
		userOpt("user", memberID), strOpt("reason", "spam"), intOpt("days", 30)))

	assert.Equal(t, []string{memberID}, s.Bans)
	embed := responseEmbed(t, s.lastResponse())
	assert.Contains(t, embed.Title, "banned")
	assert.Equal(t, "spam", embed.Fields[0].Value)

	dms := s.sentTo("dm:" + memberID)
	require.Len(t, dms, 1)
	assert.Contains(t, dms[0].Content, "Test Server")

	cases, err := storage.DB.GetModCases(context.Background(), testGuild, memberID, 10)
	require.NoError(t, err)
	require.Len(t, cases, 1)
	assert.Equal(t, "Ban", cases[0].Action)
	assert.Equal(t, modID, cases[0].ModID)

	assert.Equal(t, []string{"ban"}, pub.kinds())
	require.Len(t, s.sentTo("log"), 1)
	assert.Equal(t, "Moderation: Ban", s.sentTo("log")[0].Embeds[0].Title)
}

func TestHandleBanRefusesSelf(t *testing.T) {
	s, _, pub := setupTest(t)

	handleBan(s, command(discordgo.PermissionBanMembers, "ban", nil, userOpt("user", modID)))

	assert.Empty(t, s.Bans)
	assert.Contains(t, responseEmbed(t, s.lastResponse()).Description, "yourself")
	assert.Empty(t, pub.kinds())
}

func TestHandleBanMissingPermissions(t *testing.T) {
	s, _, _ := setupTest(t)
	s.BanErr = restErr(discordgo.ErrCodeMissingPermissions)

	handleBan(s, command(discordgo.PermissionBanMembers, "ban", nil, userOpt("user", memberID)))

	assert.Equal(t, "I don't have the permissions needed to do that.", responseEmbed(t, s.lastResponse()).Description)
}

func TestHandleUnban(t *testing.T) {
	s, _, _ := setupTest(t)

	handleUnban(s, command(discordgo.PermissionBanMembers, "unban", nil, strOpt("user-id", "not-a-number")))
	assert.Equal(t, "Invalid ID.", responseEmbed(t, s.lastResponse()).Description)

	handleUnban(s, command(discordgo.PermissionBanMembers, "unban", nil, strOpt("user-id", memberID)))
	assert.Equal(t, "User not found or not banned.", responseEmbed(t, s.lastResponse()).Description)

	s.Bans = []string{memberID}
	handleUnban(s, command(discordgo.PermissionBanMembers, "unban", nil, strOpt("user-id", memberID)))
	assert.Equal(t, []string{memberID}, s.Unbans)
	assert.Contains(t, responseEmbed(t, s.lastResponse()).Description, "**member**")
}

func TestHandleKick(t *testing.T) {
	s, _, pub := setupTest(t)

	handleKick(s, command(discordgo.PermissionKickMembers, "kick", nil, userOpt("user", memberID)))

	assert.Equal(t, []string{memberID}, s.Kicks)
	assert.Equal(t, []string{"kick"}, pub.kinds())
}

func TestHandleMute(t *testing.T) {
	s, _, _ := setupTest(t)

	handleMute(s, command(discordgo.PermissionModerateMembers, "mute", nil, userOpt("user", memberID), strOpt("duration", "later")))
	assert.Contains(t, responseEmbed(t, s.lastResponse()).Description, "Invalid duration")

	handleMute(s, command(discordgo.PermissionModerateMembers, "mute", nil, userOpt("user", memberID), strOpt("duration", "29d")))
	assert.Contains(t, responseEmbed(t, s.lastResponse()).Description, "between 1 minute and 28 days")
	assert.Empty(t, s.Timeouts)

	before := time.Now()
	handleMute(s, command(discordgo.PermissionModerateMembers, "mute", nil, userOpt("user", memberID), strOpt("duration", "1h")))
	until := s.Timeouts[memberID]
	require.NotNil(t, until)
	assert.WithinDuration(t, before.Add(time.Hour), *until, 5*time.Second)
	assert.Contains(t, responseEmbed(t, s.lastResponse()).Description, "<t:")
}

func TestHandleUnmute(t *testing.T) {
	s, _, _ := setupTest(t)

	handleUnmute(s, command(discordgo.PermissionModerateMembers, "unmute", nil, userOpt("user", memberID)))
	assert.Contains(t, responseEmbed(t, s.lastResponse()).Description, "is not muted")

	future := time.Now().Add(time.Hour)
	s.Members[memberID].CommunicationDisabledUntil = &future
	handleUnmute(s, command(discordgo.PermissionModerateMembers, "unmute", nil, userOpt("user", memberID)))
	until, ok := s.Timeouts[memberID]
	assert.True(t, ok)
	assert.Nil(t, until)
}

func TestWarnFlow(t *testing.T) {
	s, _, pub := setupTest(t)
	target := map[string]*discordgo.User{memberID: testUser(memberID, "member")}

	for _, reason := range []string{"spam", "caps"} {
		handleWarn(s, command(discordgo.PermissionModerateMembers, "warn", target, userOpt("user", memberID), strOpt("reason", reason)))
	}
	embed := responseEmbed(t, s.lastResponse())
	assert.Equal(t, "2", embed.Fields[1].Value)
	dms := s.sentTo("dm:" + memberID)
	require.Len(t, dms, 2)
	assert.Contains(t, dms[1].Content, "You now have 2 warning(s).")
	assert.Equal(t, []string{"warn", "warn"}, pub.kinds())

	handleWarnings(s, command(discordgo.PermissionModerateMembers, "warnings", target, userOpt("user", memberID)))
	embed = responseEmbed(t, s.lastResponse())
	assert.Contains(t, embed.Description, "spam")
	assert.Contains(t, embed.Description, "caps")
	assert.Equal(t, "2 total", embed.Footer.Text)

	// moderators without administrator rights may not clear
	handleClearWarnings(s, command(discordgo.PermissionModerateMembers, "clearwarnings", target, userOpt("user", memberID)))
	assert.Equal(t, "You don't have permission to use this command.", responseEmbed(t, s.lastResponse()).Description)

	handleClearWarnings(s, command(discordgo.PermissionAdministrator, "clearwarnings", target, userOpt("user", memberID)))
	assert.Contains(t, responseEmbed(t, s.lastResponse()).Description, "Removed 2 warning(s)")

	warns, err := storage.DB.GetWarnings(context.Background(), testGuild, memberID)
	require.NoError(t, err)
	assert.Empty(t, warns)
}

func TestWarnRejectsBots(t *testing.T) {
	s, _, _ := setupTest(t)
	bot := &discordgo.User{ID: "555", Username: "otherbot", Bot: true}

	handleWarn(s, command(discordgo.PermissionModerateMembers, "warn", map[string]*discordgo.User{"555": bot}, userOpt("user", "555"), strOpt("reason", "x")))

	assert.Equal(t, "Bots can't be warned.", responseEmbed(t, s.lastResponse()).Description)
}

func TestHandleClear(t *testing.T) {
	s, _, _ := setupTest(t)
	s.History[testChannel] = []*discordgo.Message{
		{ID: "3", Author: testUser(memberID, "member")},
		{ID: "2", Author: testUser(modID, "mod")},
		{ID: "1", Author: testUser(memberID, "member")},
	}

	handleClear(s, command(discordgo.PermissionManageMessages, "clear", nil, intOpt("count", 0)))
	assert.Contains(t, responseEmbed(t, s.lastResponse()).Description, "between 1 and 100")

	handleClear(s, command(discordgo.PermissionManageMessages, "clear", nil, intOpt("count", 3), userOpt("user", memberID)))
	require.Len(t, s.BulkDeleted, 1)
	assert.Equal(t, []string{"3", "1"}, s.BulkDeleted[0])

	handleClear(s, command(discordgo.PermissionManageMessages, "clear", nil, intOpt("count", 3), userOpt("user", modID)))
	assert.Equal(t, []string{"2"}, s.DeletedMessages)

	handleClear(s, command(discordgo.PermissionManageMessages, "clear", nil, intOpt("count", 3), userOpt("user", "999")))
	assert.Equal(t, "No messages found matching criteria.", s.lastFollowup().Content)
}

func TestHandleSlowmode(t *testing.T) {
	s, _, _ := setupTest(t)

	handleSlowmode(s, command(discordgo.PermissionManageChannels, "slowmode", nil, intOpt("seconds", 30000)))
	assert.Empty(t, s.ChannelEdits)

	handleSlowmode(s, command(discordgo.PermissionManageChannels, "slowmode", nil, intOpt("seconds", 30)))
	require.Len(t, s.ChannelEdits, 1)
	assert.Equal(t, 30, *s.ChannelEdits[0].RateLimitPerUser)
	assert.Contains(t, responseEmbed(t, s.lastResponse()).Description, "30 seconds")
}

func TestLockUnlock(t *testing.T) {
	s, _, pub := setupTest(t)

	handleLock(s, command(discordgo.PermissionManageChannels, "lock", nil))
	handleUnlock(s, command(discordgo.PermissionManageChannels, "unlock", nil))

	assert.Equal(t, []string{
		testChannel + ":" + testGuild + ":0:2048",
		testChannel + ":" + testGuild + ":2048:0",
	}, s.PermSets)
	assert.Equal(t, []string{"locked", "unlocked"}, pub.kinds())
}

func TestSetupLogAndCases(t *testing.T) {
	s, _, _ := setupTest(t)

	handleSetupLog(s, command(discordgo.PermissionAdministrator, "setup", nil, channelOpt("channel", "modlog")))
	gs := storage.GetGuild(testGuild)
	assert.Equal(t, "modlog", gs.LogChannelOverride)
	require.Len(t, s.sentTo("modlog"), 1)

	handleCases(s, command(discordgo.PermissionModerateMembers, "cases", nil, userOpt("user", memberID)))
	assert.Contains(t, responseEmbed(t, s.lastResponse()).Title, "No cases")

	handleKick(s, command(discordgo.PermissionKickMembers, "kick", nil, userOpt("user", memberID), strOpt("reason", "rude")))
	handleCases(s, command(discordgo.PermissionModerateMembers, "cases", nil, userOpt("user", memberID)))
	desc := responseEmbed(t, s.lastResponse()).Description
	assert.Contains(t, desc, "**Kick**")
	assert.Contains(t, desc, "> rude")
}
