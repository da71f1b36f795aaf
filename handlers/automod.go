package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"modbot/automod"
	"modbot/storage"

	"github.com/bwmarrin/discordgo"
)

// automodTimeout bounds a full setup or reset run.
const automodTimeout = 2 * time.Minute

func automodCommands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:                     "automod",
			Description:              "Manage the bot's AutoMod rules",
			DefaultMemberPermissions: &adminPerm,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Name: "setup", Description: "Create the AutoMod rules",
					Type: discordgo.ApplicationCommandOptionSubCommand,
					Options: []*discordgo.ApplicationCommandOption{
						{Type: discordgo.ApplicationCommandOptionChannel, Name: "log-channel", Description: "Channel that receives AutoMod alerts", ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText}},
					},
				},
				{Name: "status", Description: "Show the active AutoMod rules", Type: discordgo.ApplicationCommandOptionSubCommand},
				{Name: "reset", Description: "Delete and recreate the bot's AutoMod rules", Type: discordgo.ApplicationCommandOptionSubCommand},
			},
		},
	}
}

func newAutomodService(s Session) *automod.Service {
	return automod.NewService(s, storage.Cfg.AutoMod.RulePrefix)
}

func handleAutomodCommand(s Session, i *discordgo.InteractionCreate) {
	data := i.ApplicationCommandData()
	if len(data.Options) == 0 {
		return
	}
	sub := data.Options[0]
	switch sub.Name {
	case "setup":
		handleAutomodSetup(s, i, subOptMap(sub.Options))
	case "status":
		handleAutomodStatus(s, i)
	case "reset":
		handleAutomodReset(s, i)
	}
}

func handleAutomodSetup(s Session, i *discordgo.InteractionCreate, om optMap) {
	alert := optID(om, "log-channel")
	deferEphemeral(s, i)

	svc := newAutomodService(s)
	existing, _, err := svc.Status(i.GuildID)
	if err != nil {
		followupEmbed(s, i, errorEmbed("AutoMod", restErrorMessage(err)))
		return
	}
	if len(existing) > 0 {
		followupEmbed(s, i, errorEmbed("AutoMod already configured",
			fmt.Sprintf("%d bot rule(s) already exist. Use `/automod reset` to recreate them.", len(existing))))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), automodTimeout)
	defer cancel()
	created, failed := svc.Create(ctx, i.GuildID, alert)

	alertText := "Not set"
	if alert != "" {
		alertText = "<#" + alert + ">"
	}
	embed := successEmbed("AutoMod configured", fmt.Sprintf("**Rules created:** %d\n**Failed:** %d\n**Alerts:** %s", created, failed, alertText))
	if created == 0 {
		embed = errorEmbed("AutoMod", "No rule could be created. Check that I have the **Manage Server** permission.")
	}
	followupEmbed(s, i, embed)
	logAction(s, i.GuildID, "automod_setup", "🛡️ AutoMod configured",
		fmt.Sprintf("%s ran AutoMod setup.", invoker(i).Mention()),
		logField{name: "Created", value: fmt.Sprint(created), inline: true},
		logField{name: "Failed", value: fmt.Sprint(failed), inline: true},
	)
}

func handleAutomodStatus(s Session, i *discordgo.InteractionCreate) {
	deferEphemeral(s, i)

	names, total, err := newAutomodService(s).Status(i.GuildID)
	if err != nil {
		followupEmbed(s, i, errorEmbed("AutoMod", restErrorMessage(err)))
		return
	}

	list := "None. Run `/automod setup`."
	if len(names) > 0 {
		list = "• " + strings.Join(names, "\n• ")
	}
	followupEmbed(s, i, modEmbed("🛡️ AutoMod status",
		fmt.Sprintf("**Bot rules:** %d\n**Total rules in server:** %d\n\n%s", len(names), total, list)))
}

func handleAutomodReset(s Session, i *discordgo.InteractionCreate) {
	deferEphemeral(s, i)

	ctx, cancel := context.WithTimeout(context.Background(), automodTimeout)
	defer cancel()
	deleted, created, failed, err := newAutomodService(s).Reset(ctx, i.GuildID, "")
	if err != nil {
		followupEmbed(s, i, errorEmbed("AutoMod", restErrorMessage(err)))
		return
	}

	followupEmbed(s, i, successEmbed("AutoMod reset",
		fmt.Sprintf("**Deleted:** %d\n**Created:** %d\n**Failed:** %d", deleted, created, failed)))
	logAction(s, i.GuildID, "automod_reset", "🛡️ AutoMod reset",
		fmt.Sprintf("%s reset the AutoMod rules.", invoker(i).Mention()),
		logField{name: "Deleted", value: fmt.Sprint(deleted), inline: true},
		logField{name: "Created", value: fmt.Sprint(created), inline: true},
	)
}
