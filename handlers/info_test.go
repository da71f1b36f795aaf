package handlers

import (
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
)

func TestPing(t *testing.T) {
	s, _, _ := setupTest(t)

	handlePing(s, command(0, "ping", nil))

	assert.Equal(t, "Gateway latency: **42 ms**", responseEmbed(t, s.lastResponse()).Description)
}

func TestAvatarLinks(t *testing.T) {
	u := &discordgo.User{ID: "1", Username: "alice", Avatar: "abc"}
	assert.Equal(t,
		"[PNG](https://cdn.discordapp.com/avatars/1/abc.png?size=1024) | "+
			"[JPG](https://cdn.discordapp.com/avatars/1/abc.jpg?size=1024) | "+
			"[WEBP](https://cdn.discordapp.com/avatars/1/abc.webp?size=1024)",
		avatarLinks(u))

	plain := testUser("2", "bob")
	assert.Equal(t, "[PNG]("+plain.AvatarURL("")+")", avatarLinks(plain))
}

func TestUserinfo(t *testing.T) {
	s, _, _ := setupTest(t)
	s.Members[memberID].Nick = "Membby"

	handleUserinfo(s, command(0, "userinfo", nil, userOpt("member", memberID)))

	e := responseEmbed(t, s.lastResponse())
	assert.Equal(t, "👤 member", e.Title)
	fields := map[string]string{}
	for _, f := range e.Fields {
		fields[f.Name] = f.Value
	}
	assert.Equal(t, "Membby", fields["Nickname"])
	assert.Equal(t, "No", fields["Bot"])
	assert.Equal(t, "<@&r-member>", fields["Roles (1)"])
	assert.Equal(t, "0", fields["Warnings"])
	assert.Equal(t, "unknown", fields["Joined server"])
}

func TestUserinfoUnknownMember(t *testing.T) {
	s, _, _ := setupTest(t)

	handleUserinfo(s, command(0, "userinfo", nil, userOpt("member", "12345")))

	assert.Equal(t, "User not found.", responseEmbed(t, s.lastResponse()).Description)
}

func TestServerinfo(t *testing.T) {
	s, _, _ := setupTest(t)

	handleServerinfo(s, command(0, "serverinfo", nil))

	e := responseEmbed(t, s.lastResponse())
	assert.Equal(t, "🏠 Test Server", e.Title)
	for _, f := range e.Fields {
		if f.Name == "Members" {
			assert.Equal(t, "42", f.Value)
		}
	}
}
