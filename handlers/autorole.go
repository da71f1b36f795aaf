package handlers

import (
	"fmt"
	"log/slog"

	"modbot/config"
	"modbot/lang"
	"modbot/storage"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

func joinRoleCommand() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:                     "joinrole",
		Description:              "Configure the role automatically given to new members",
		DefaultMemberPermissions: &adminPerm,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Name:        "set",
				Description: "Set the role given on join",
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Options: []*discordgo.ApplicationCommandOption{
					{Type: discordgo.ApplicationCommandOptionRole, Name: "role", Description: "Role to assign when someone joins", Required: true},
				},
			},
			{
				Name:        "disable",
				Description: "Disable the join role",
				Type:        discordgo.ApplicationCommandOptionSubCommand,
			},
			{
				Name:        "status",
				Description: "Show the current join role configuration",
				Type:        discordgo.ApplicationCommandOptionSubCommand,
			},
		},
	}
}

func handleJoinRoleCommand(s Session, i *discordgo.InteractionCreate) {
	if !isAdmin(s, i) {
		replyError(s, i, lang.T("no_permission"))
		return
	}
	data := i.ApplicationCommandData()
	if len(data.Options) == 0 {
		return
	}
	sub := data.Options[0]
	gs := storage.GetGuild(i.GuildID)

	switch sub.Name {
	case "set":
		roleID := optID(subOptMap(sub.Options), "role")
		gs.Lock()
		gs.JoinRoleOverride = roleID
		gs.JoinRoleDisabled = false
		gs.Unlock()
		saveGuild(gs)
		respondEmbed(s, i, successEmbed("Join role set", fmt.Sprintf("Every new member will receive <@&%s>.", roleID)), true)

	case "disable":
		gs.Lock()
		gs.JoinRoleDisabled = true
		gs.Unlock()
		saveGuild(gs)
		respondEmbed(s, i, successEmbed("Join role disabled", "New members no longer receive a role."), true)

	case "status":
		gs.RLock()
		roleID := config.EffectiveJoinRole(storage.Cfg, gs)
		gs.RUnlock()
		if roleID == "" {
			respondEmbed(s, i, modEmbed("🎭 Join role", "The join role is **disabled**."), true)
			return
		}
		respondEmbed(s, i, modEmbed("🎭 Join role", fmt.Sprintf("The join role is **enabled**. New members receive <@&%s>.", roleID)), true)
	}
}

// assignJoinRole gives a new member the guild's join role, if any.
func assignJoinRole(s Session, guildID, userID string) {
	gs := storage.GetGuild(guildID)
	gs.RLock()
	roleID := config.EffectiveJoinRole(storage.Cfg, gs)
	gs.RUnlock()
	if roleID == "" {
		return
	}
	if err := s.GuildMemberRoleAdd(guildID, userID, roleID, discordgo.WithAuditLogReason("Join role")); err != nil {
		slog.Warn("failed to assign join role", tint.Err(err), "guild_id", guildID, "user_id", userID, "role_id", roleID)
	}
}

func saveGuild(gs *config.GuildState) {
	if err := gs.Save(); err != nil {
		slog.Error("failed to save guild state", tint.Err(err), "guild_id", gs.GuildID)
	}
}
