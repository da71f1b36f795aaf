package handlers

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"modbot/lang"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	embedTitleMax       = 256
	embedDescriptionMax = 4000
	embedFooterMax      = 2048
	embedImageMax       = 512
)

func embedCommands() []*discordgo.ApplicationCommand {
	textChannel := []discordgo.ChannelType{discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews}
	return []*discordgo.ApplicationCommand{
		{
			Name:                     "embed",
			Description:              "Open the embed builder for a channel",
			DefaultMemberPermissions: &messagesPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionChannel, Name: "channel", Description: "Channel to post in", Required: true, ChannelTypes: textChannel},
			},
		},
		{
			Name:                     "embed-quick",
			Description:              "Send a simple embed in a channel",
			DefaultMemberPermissions: &messagesPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionChannel, Name: "channel", Description: "Channel to post in", Required: true, ChannelTypes: textChannel},
				{Type: discordgo.ApplicationCommandOptionString, Name: "title", Description: "Embed title", Required: true, MaxLength: embedTitleMax},
				{Type: discordgo.ApplicationCommandOptionString, Name: "description", Description: "Embed description (use \\n for new lines)", Required: true, MaxLength: embedDescriptionMax},
				{Type: discordgo.ApplicationCommandOptionString, Name: "color", Description: "Hex colour (e.g. #590CEA)"},
			},
		},
		{
			Name:                     "embed-edit",
			Description:              "Edit an embed previously sent by the bot",
			DefaultMemberPermissions: &messagesPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionChannel, Name: "channel", Description: "Channel holding the message", Required: true, ChannelTypes: textChannel},
				{Type: discordgo.ApplicationCommandOptionString, Name: "message-id", Description: "ID of the message to edit", Required: true},
			},
		},
	}
}

// parseColour reads "#RRGGBB", "RRGGBB" or "0xRRGGBB".
func parseColour(s string) (int, error) {
	hex := strings.TrimSpace(s)
	hex = strings.TrimPrefix(hex, "#")
	hex = strings.TrimPrefix(strings.ToLower(hex), "0x")
	if hex == "" {
		return 0, fmt.Errorf("empty colour")
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil || v > 0xFFFFFF {
		return 0, fmt.Errorf("invalid colour %q", s)
	}
	return int(v), nil
}

func formatColour(c int) string {
	return fmt.Sprintf("#%06X", c)
}

func handleEmbedPanel(s Session, i *discordgo.InteractionCreate) {
	opts := optionMap(i)
	channelID := optID(opts, "channel")
	args := channelID + ":" + invoker(i).ID

	embed := modEmbed("🧱 Embed builder", fmt.Sprintf("Target channel: <#%s>\nPick what you want to send.", channelID))
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
			Flags:  discordgo.MessageFlagsEphemeral,
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{Components: []discordgo.MessageComponent{
					discordgo.Button{Label: "Create", Style: discordgo.PrimaryButton, CustomID: "embed_create:" + args, Emoji: &discordgo.ComponentEmoji{Name: "✏️"}},
					discordgo.Button{Label: "Announce", Style: discordgo.SecondaryButton, CustomID: "embed_announce:" + args, Emoji: &discordgo.ComponentEmoji{Name: "📢"}},
					discordgo.Button{Label: "Rules", Style: discordgo.SecondaryButton, CustomID: "embed_rules:" + args, Emoji: &discordgo.ComponentEmoji{Name: "📜"}},
					discordgo.Button{Label: "Cancel", Style: discordgo.DangerButton, CustomID: "embed_cancel:" + args},
				}},
			},
		},
	})
	if err != nil {
		slog.Warn("failed to open embed builder", tint.Err(err), "guild_id", i.GuildID)
	}
}

// builderArgs returns the target channel of a builder button and whether
// the presser is the member who opened the builder.
func builderArgs(i *discordgo.InteractionCreate) (channelID string, owner bool) {
	args := customIDArgs(i.MessageComponentData().CustomID)
	if len(args) < 2 {
		return "", false
	}
	return args[0], args[1] == invoker(i).ID
}

func handleEmbedCreateButton(s Session, i *discordgo.InteractionCreate) {
	channelID, owner := builderArgs(i)
	if !owner {
		replyError(s, i, "Only the member who opened this builder can use it.")
		return
	}
	respondModal(s, i, "embed_create_modal:"+channelID, "Create embed",
		discordgo.TextInput{CustomID: "title", Label: "Title", Style: discordgo.TextInputShort, MaxLength: embedTitleMax},
		discordgo.TextInput{CustomID: "description", Label: "Description", Style: discordgo.TextInputParagraph, Required: true, MaxLength: embedDescriptionMax},
		discordgo.TextInput{CustomID: "colour", Label: "Colour (#RRGGBB)", Style: discordgo.TextInputShort, Placeholder: "#590CEA", MaxLength: 8},
		discordgo.TextInput{CustomID: "footer", Label: "Footer", Style: discordgo.TextInputShort, MaxLength: embedFooterMax},
		discordgo.TextInput{CustomID: "image", Label: "Image URL", Style: discordgo.TextInputShort, MaxLength: embedImageMax},
	)
}

func embedTemplate(kind, guild string) *discordgo.MessageEmbed {
	if kind == "embed_rules" {
		return &discordgo.MessageEmbed{
			Title: "📜 Server rules",
			Description: "1. Be respectful to everyone.\n" +
				"2. No spam, flooding or self-promotion.\n" +
				"3. No NSFW or offensive content.\n" +
				"4. Keep topics in their channels.\n" +
				"5. Follow Discord's Terms of Service.\n\n" +
				"Breaking the rules leads to warnings, mutes or bans.",
			Color:     colorMain,
			Footer:    &discordgo.MessageEmbedFooter{Text: guild},
			Timestamp: now(),
		}
	}
	return &discordgo.MessageEmbed{
		Title:       "📢 Announcement",
		Description: "Write your announcement here.\nUse `/embed-edit` to change this text.",
		Color:       colorMain,
		Footer:      &discordgo.MessageEmbedFooter{Text: guild},
		Timestamp:   now(),
	}
}

func handleEmbedTemplateButton(s Session, i *discordgo.InteractionCreate) {
	channelID, owner := builderArgs(i)
	if !owner {
		replyError(s, i, "Only the member who opened this builder can use it.")
		return
	}
	kind := customIDKey(i.MessageComponentData().CustomID)

	msg, err := s.ChannelMessageSendEmbed(channelID, embedTemplate(kind, guildName(s, i.GuildID)))
	if err != nil {
		replyError(s, i, restErrorMessage(err))
		return
	}
	updatePanel(s, i, successEmbed("Embed sent", fmt.Sprintf("Template posted in <#%s>. Message ID: `%s`", channelID, msg.ID)))
}

func handleEmbedCancelButton(s Session, i *discordgo.InteractionCreate) {
	if _, owner := builderArgs(i); !owner {
		replyError(s, i, "Only the member who opened this builder can use it.")
		return
	}
	updatePanel(s, i, modEmbed("Embed builder closed", "Nothing was sent."))
}

// updatePanel replaces the builder message and removes its buttons.
func updatePanel(s Session, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: &discordgo.InteractionResponseData{
			Embeds:     []*discordgo.MessageEmbed{embed},
			Components: []discordgo.MessageComponent{},
		},
	})
	if err != nil {
		slog.Warn("failed to update builder", tint.Err(err), "guild_id", i.GuildID)
	}
}

// buildEmbed applies modal values on top of base. Blank values keep what base has.
func buildEmbed(base *discordgo.MessageEmbed, values map[string]string) (*discordgo.MessageEmbed, error) {
	e := &discordgo.MessageEmbed{Color: colorMain}
	if base != nil {
		cp := *base
		e = &cp
	}

	if v := strings.TrimSpace(values["title"]); v != "" {
		e.Title = v
	}
	if v := strings.TrimSpace(values["description"]); v != "" {
		e.Description = v
	}
	if v := strings.TrimSpace(values["colour"]); v != "" {
		c, err := parseColour(v)
		if err != nil {
			return nil, err
		}
		e.Color = c
	}
	if v := strings.TrimSpace(values["footer"]); v != "" {
		e.Footer = &discordgo.MessageEmbedFooter{Text: v}
	}
	if v := strings.TrimSpace(values["image"]); v != "" {
		e.Image = &discordgo.MessageEmbedImage{URL: v}
	}
	if e.Title == "" && e.Description == "" {
		return nil, fmt.Errorf("embed needs a title or a description")
	}
	return e, nil
}

func handleEmbedCreateModal(s Session, i *discordgo.InteractionCreate) {
	args := customIDArgs(i.ModalSubmitData().CustomID)
	if len(args) < 1 {
		replyError(s, i, lang.T("generic_error"))
		return
	}
	channelID := args[0]

	embed, err := buildEmbed(nil, modalValues(i))
	if err != nil {
		replyError(s, i, embedErrorMessage(err))
		return
	}
	embed.Timestamp = now()

	msg, err := s.ChannelMessageSendEmbed(channelID, embed)
	if err != nil {
		replyError(s, i, restErrorMessage(err))
		return
	}
	respondEmbed(s, i, successEmbed("Embed sent", fmt.Sprintf("Posted in <#%s>. Message ID: `%s`", channelID, msg.ID)), true)
	logAction(s, i.GuildID, "embed", "Embed created",
		fmt.Sprintf("%s posted an embed in <#%s>", invoker(i).Mention(), channelID))
}

func embedErrorMessage(err error) string {
	if strings.Contains(err.Error(), "colour") {
		return "Invalid colour, use `#RRGGBB`."
	}
	return "The embed needs at least a title or a description."
}

func handleEmbedQuick(s Session, i *discordgo.InteractionCreate) {
	opts := optionMap(i)
	channelID := optID(opts, "channel")
	title := strings.ReplaceAll(optStr(opts, "title", ""), "\\n", "\n")
	desc := strings.ReplaceAll(optStr(opts, "description", ""), "\\n", "\n")

	colour := colorMain
	if c := optStr(opts, "color", ""); c != "" {
		v, err := parseColour(c)
		if err != nil {
			replyError(s, i, "Invalid colour, use `#RRGGBB`.")
			return
		}
		colour = v
	}

	embed := &discordgo.MessageEmbed{Title: title, Description: desc, Color: colour, Timestamp: now()}
	msg, err := s.ChannelMessageSendEmbed(channelID, embed)
	if err != nil {
		replyError(s, i, restErrorMessage(err))
		return
	}
	respondEmbed(s, i, successEmbed("Embed sent", fmt.Sprintf("Posted in <#%s>. Message ID: `%s`", channelID, msg.ID)), true)
}

func handleEmbedEdit(s Session, i *discordgo.InteractionCreate) {
	opts := optionMap(i)
	channelID := optID(opts, "channel")
	messageID := optStr(opts, "message-id", "")

	msg, err := s.ChannelMessage(channelID, messageID)
	if err != nil {
		replyError(s, i, restErrorMessage(err))
		return
	}
	if msg.Author == nil || msg.Author.ID != botUser().ID {
		replyError(s, i, "I can only edit messages I sent.")
		return
	}
	if len(msg.Embeds) == 0 {
		replyError(s, i, "That message has no embed.")
		return
	}

	cur := msg.Embeds[0]
	footer, image := "", ""
	if cur.Footer != nil {
		footer = cur.Footer.Text
	}
	if cur.Image != nil {
		image = cur.Image.URL
	}

	respondModal(s, i, "embed_edit_modal:"+channelID+":"+messageID, "Edit embed",
		discordgo.TextInput{CustomID: "title", Label: "Title", Style: discordgo.TextInputShort, Value: cur.Title, MaxLength: embedTitleMax},
		discordgo.TextInput{CustomID: "description", Label: "Description", Style: discordgo.TextInputParagraph, Value: truncate(cur.Description, embedDescriptionMax), MaxLength: embedDescriptionMax},
		discordgo.TextInput{CustomID: "colour", Label: "Colour (#RRGGBB)", Style: discordgo.TextInputShort, Value: formatColour(cur.Color), MaxLength: 8},
		discordgo.TextInput{CustomID: "footer", Label: "Footer", Style: discordgo.TextInputShort, Value: footer, MaxLength: embedFooterMax},
		discordgo.TextInput{CustomID: "image", Label: "Image URL", Style: discordgo.TextInputShort, Value: truncate(image, embedImageMax), MaxLength: embedImageMax},
	)
}

func handleEmbedEditModal(s Session, i *discordgo.InteractionCreate) {
	args := customIDArgs(i.ModalSubmitData().CustomID)
	if len(args) < 2 {
		replyError(s, i, lang.T("generic_error"))
		return
	}
	channelID, messageID := args[0], args[1]

	msg, err := s.ChannelMessage(channelID, messageID)
	if err != nil {
		replyError(s, i, restErrorMessage(err))
		return
	}
	var base *discordgo.MessageEmbed
	if len(msg.Embeds) > 0 {
		base = msg.Embeds[0]
	}

	embed, err := buildEmbed(base, modalValues(i))
	if err != nil {
		replyError(s, i, embedErrorMessage(err))
		return
	}

	if _, err := s.ChannelMessageEditComplex(discordgo.NewMessageEdit(channelID, messageID).SetEmbed(embed)); err != nil {
		replyError(s, i, restErrorMessage(err))
		return
	}
	respondEmbed(s, i, successEmbed("Embed updated", fmt.Sprintf("[Jump to message](https://discord.com/channels/%s/%s/%s)", i.GuildID, channelID, messageID)), true)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
