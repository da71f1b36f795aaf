package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"modbot/config"
	"modbot/events"
	"modbot/lang"
	"modbot/storage"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	ticketReasonMax     = 500
	ticketNameMax       = 50
	transcriptLimit     = 200
	silentCloseDelay    = 3 * time.Second
	ticketOpenerAllow   = discordgo.PermissionViewChannel | discordgo.PermissionSendMessages | discordgo.PermissionReadMessageHistory | discordgo.PermissionAttachFiles
	ticketStaffAllow    = discordgo.PermissionViewChannel | discordgo.PermissionSendMessages | discordgo.PermissionReadMessageHistory | discordgo.PermissionManageMessages
	ticketBotAllow      = discordgo.PermissionViewChannel | discordgo.PermissionSendMessages | discordgo.PermissionReadMessageHistory | discordgo.PermissionManageMessages | discordgo.PermissionManageChannels
	ticketMemberAllow   = discordgo.PermissionViewChannel | discordgo.PermissionSendMessages | discordgo.PermissionReadMessageHistory
	defaultPanelTitle   = "Support | Ticket"
	defaultPanelMessage = "Open a ticket by choosing the option that best fits your case."
)

// scheduleDelete runs f after d. Tests replace it to run f immediately.
var scheduleDelete = func(d time.Duration, f func()) {
	time.AfterFunc(d, f)
}

// pendingTickets holds guild:user keys whose ticket channel is being created.
var pendingTickets sync.Map

func ticketCommands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:                     "ticket",
			Description:              "Ticket system management",
			DefaultMemberPermissions: &adminPerm,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Name: "setup", Description: "Configure where tickets are created and who handles them",
					Type: discordgo.ApplicationCommandOptionSubCommand,
					Options: []*discordgo.ApplicationCommandOption{
						{Type: discordgo.ApplicationCommandOptionChannel, Name: "category", Description: "Category for ticket channels", Required: true, ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildCategory}},
						{Type: discordgo.ApplicationCommandOptionRole, Name: "staff-role", Description: "Role that handles tickets", Required: true},
						{Type: discordgo.ApplicationCommandOptionChannel, Name: "log-channel", Description: "Channel for ticket logs", ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText}},
						{Type: discordgo.ApplicationCommandOptionString, Name: "banner-url", Description: "Image shown inside new tickets"},
					},
				},
				{
					Name: "panel", Description: "Post the ticket panel in a channel",
					Type: discordgo.ApplicationCommandOptionSubCommand,
					Options: []*discordgo.ApplicationCommandOption{
						{Type: discordgo.ApplicationCommandOptionChannel, Name: "channel", Description: "Channel to post the panel in", Required: true, ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText}},
						{Type: discordgo.ApplicationCommandOptionString, Name: "title", Description: "Panel title"},
						{Type: discordgo.ApplicationCommandOptionString, Name: "description", Description: "Panel description"},
						{Type: discordgo.ApplicationCommandOptionString, Name: "image", Description: "Panel image URL"},
					},
				},
			},
		},
		{Name: "close", Description: "Close the current ticket"},
		{
			Name: "add", Description: "Add a user to the current ticket",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "User to add", Required: true},
			},
		},
		{
			Name: "remove", Description: "Remove a user from the current ticket",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "User to remove", Required: true},
			},
		},
	}
}

func handleTicketCommand(s Session, i *discordgo.InteractionCreate) {
	data := i.ApplicationCommandData()
	if len(data.Options) == 0 {
		return
	}
	sub := data.Options[0]
	switch sub.Name {
	case "setup":
		handleTicketSetup(s, i, subOptMap(sub.Options))
	case "panel":
		handleTicketPanel(s, i, subOptMap(sub.Options))
	}
}

func handleTicketSetup(s Session, i *discordgo.InteractionCreate, om optMap) {
	if !isAdmin(s, i) {
		replyError(s, i, lang.T("no_permission"))
		return
	}
	category := optID(om, "category")
	staffRole := optID(om, "staff-role")
	logChannel := optID(om, "log-channel")
	banner := optStr(om, "banner-url", "")

	gs := storage.GetGuild(i.GuildID)
	gs.Lock()
	gs.TicketRuntime.DiscordCategoryOverride = category
	gs.TicketRuntime.StaffRoleOverride = staffRole
	if logChannel != "" {
		gs.TicketRuntime.LogChannelOverride = logChannel
		gs.LogChannelOverride = logChannel
	}
	if banner != "" {
		gs.TicketRuntime.BannerURLOverride = banner
	}
	gs.Unlock()
	if err := gs.Save(); err != nil {
		slog.Error("failed to save guild state", tint.Err(err), "guild_id", i.GuildID)
	}

	logText := "Not set"
	if logChannel != "" {
		logText = "<#" + logChannel + ">"
	}
	bannerText := "Not set"
	if banner != "" {
		bannerText = "Configured ✅"
	}
	respondEmbed(s, i, successEmbed("Tickets configured",
		fmt.Sprintf("**Category:** <#%s>\n**Staff role:** <@&%s>\n**Log:** %s\n**Banner:** %s\n\nUse `/ticket panel` to post the ticket panel.",
			category, staffRole, logText, bannerText)), true)
}

func handleTicketPanel(s Session, i *discordgo.InteractionCreate, om optMap) {
	channelID := optID(om, "channel")
	title := optStr(om, "title", defaultPanelTitle)
	desc := optStr(om, "description", defaultPanelMessage)
	image := optStr(om, "image", "")

	categories := storage.Cfg.Tickets.Categories
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\n\n**Available categories:**\n", desc)
	for _, c := range categories {
		fmt.Fprintf(&sb, "%s **%s**: %s\n", c.Emoji, c.Name, c.Description)
	}
	sb.WriteString("\nPick one below and wait for our team!")

	embed := modEmbed("🎫 "+title, sb.String())
	embed.Footer = &discordgo.MessageEmbedFooter{Text: guildName(s, i.GuildID) + " • Ticket"}
	if image != "" {
		embed.Image = &discordgo.MessageEmbedImage{URL: image}
	}

	menuOpts := make([]discordgo.SelectMenuOption, 0, len(categories))
	for _, c := range categories {
		menuOpts = append(menuOpts, discordgo.SelectMenuOption{
			Label:       c.Name,
			Value:       c.ID,
			Description: c.Description,
			Emoji:       parseComponentEmoji(c.Emoji),
		})
	}

	_, err := s.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{embed},
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{
				Components: []discordgo.MessageComponent{
					discordgo.SelectMenu{
						MenuType:    discordgo.StringSelectMenu,
						CustomID:    "ticket_category_select",
						Placeholder: "Select the reason for your ticket...",
						Options:     menuOpts,
					},
				},
			},
		},
	})
	if err != nil {
		replyError(s, i, restErrorMessage(err))
		return
	}
	respondEmbed(s, i, successEmbed("Panel sent", fmt.Sprintf("Ticket panel posted in <#%s>.", channelID)), true)
}

// openTicketChannels returns the open tickets of userID whose channels
// still exist, dropping entries for channels that are gone.
func openTicketChannels(s Session, guildID, userID string) []config.Ticket {
	gs := storage.GetGuild(guildID)
	gs.RLock()
	tickets := gs.TicketsOf(userID)
	gs.RUnlock()

	var live []config.Ticket
	stale := false
	for _, t := range tickets {
		if _, err := s.Channel(t.ChannelID); err != nil {
			gs.Lock()
			gs.CloseTicket(t.ChannelID)
			gs.Unlock()
			stale = true
			continue
		}
		live = append(live, t)
	}
	if stale {
		if err := gs.Save(); err != nil {
			slog.Error("failed to save guild state", tint.Err(err), "guild_id", guildID)
		}
	}
	return live
}

func handleTicketCategorySelect(s Session, i *discordgo.InteractionCreate) {
	data := i.MessageComponentData()
	if len(data.Values) == 0 {
		return
	}
	catID := data.Values[0]
	user := invoker(i)

	if live := openTicketChannels(s, i.GuildID, user.ID); len(live) >= storage.Cfg.Tickets.MaxOpenPerUser {
		replyError(s, i, fmt.Sprintf("You already have an open ticket: <#%s>\nClose it before opening another one.", live[0].ChannelID))
		return
	}

	gs := storage.GetGuild(i.GuildID)
	gs.RLock()
	category := config.EffectiveTicketCategory(storage.Cfg, gs)
	gs.RUnlock()
	if category == "" {
		replyError(s, i, "The ticket system is not configured.\nAn administrator needs to run `/ticket setup`.")
		return
	}

	respondModal(s, i, "ticket_reason_modal:"+catID, "Describe your ticket",
		discordgo.TextInput{
			CustomID:    "reason",
			Label:       "What is your ticket about?",
			Placeholder: "Briefly explain what you need...",
			Style:       discordgo.TextInputParagraph,
			Required:    true,
			MaxLength:   ticketReasonMax,
		},
	)
}

// ticketChannelName derives the channel name of a new ticket.
func ticketChannelName(username string) string {
	name := strings.ReplaceAll(strings.ToLower("ticket-"+username), " ", "-")
	return truncate(name, ticketNameMax)
}

func categoryLabel(id string) (emoji, label string) {
	if c, ok := config.FindTicketCategory(storage.Cfg, id); ok {
		return c.Emoji, c.Name
	}
	return "💬", "Ticket"
}

func ticketButtons() []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.Button{Label: "Claim", Style: discordgo.SuccessButton, CustomID: "ticket_claim", Emoji: &discordgo.ComponentEmoji{Name: "✅"}},
			discordgo.Button{Label: "Admin Panel", Style: discordgo.PrimaryButton, CustomID: "ticket_admin", Emoji: &discordgo.ComponentEmoji{Name: "⚙️"}},
		}},
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.Button{Label: "Close", Style: discordgo.DangerButton, CustomID: "ticket_close", Emoji: &discordgo.ComponentEmoji{Name: "🔒"}},
			discordgo.Button{Label: "Notify Staff", Style: discordgo.SecondaryButton, CustomID: "ticket_notify", Emoji: &discordgo.ComponentEmoji{Name: "🔔"}},
		}},
	}
}

func handleTicketReasonModal(s Session, i *discordgo.InteractionCreate) {
	args := customIDArgs(i.ModalSubmitData().CustomID)
	catID := ""
	if len(args) > 0 {
		catID = args[0]
	}
	reason := truncate(strings.TrimSpace(modalValues(i)["reason"]), ticketReasonMax)
	user := invoker(i)

	key := i.GuildID + ":" + user.ID
	if _, busy := pendingTickets.LoadOrStore(key, struct{}{}); busy {
		replyError(s, i, "Your ticket is already being created.")
		return
	}
	defer pendingTickets.Delete(key)

	deferEphemeral(s, i)

	if live := openTicketChannels(s, i.GuildID, user.ID); len(live) >= storage.Cfg.Tickets.MaxOpenPerUser {
		followupEmbed(s, i, errorEmbed("Ticket already open", fmt.Sprintf("You already have an open ticket: <#%s>", live[0].ChannelID)))
		return
	}

	gs := storage.GetGuild(i.GuildID)
	gs.RLock()
	category := config.EffectiveTicketCategory(storage.Cfg, gs)
	staffRole := config.EffectiveTicketStaffRole(storage.Cfg, gs)
	banner := config.EffectiveTicketBanner(storage.Cfg, gs)
	gs.RUnlock()

	emoji, label := categoryLabel(catID)

	overwrites := []*discordgo.PermissionOverwrite{
		{ID: i.GuildID, Type: discordgo.PermissionOverwriteTypeRole, Deny: discordgo.PermissionViewChannel},
		{ID: user.ID, Type: discordgo.PermissionOverwriteTypeMember, Allow: ticketOpenerAllow},
	}
	if me := botUser(); me.ID != "" {
		overwrites = append(overwrites, &discordgo.PermissionOverwrite{ID: me.ID, Type: discordgo.PermissionOverwriteTypeMember, Allow: ticketBotAllow})
	}
	if staffRole != "" {
		overwrites = append(overwrites, &discordgo.PermissionOverwrite{ID: staffRole, Type: discordgo.PermissionOverwriteTypeRole, Allow: ticketStaffAllow})
	}

	ch, err := s.GuildChannelCreateComplex(i.GuildID, discordgo.GuildChannelCreateData{
		Name:                 ticketChannelName(user.Username),
		Type:                 discordgo.ChannelTypeGuildText,
		ParentID:             category,
		PermissionOverwrites: overwrites,
	}, discordgo.WithAuditLogReason(fmt.Sprintf("Ticket opened by %s (%s)", user.String(), label)))
	if err != nil {
		followupEmbed(s, i, errorEmbed(lang.T("error_title"), restErrorMessage(err)))
		return
	}

	gs.Lock()
	ticket := gs.OpenTicket(config.Ticket{ChannelID: ch.ID, UserID: user.ID, CategoryID: catID, Reason: reason})
	gs.Unlock()
	if err := gs.Save(); err != nil {
		slog.Error("failed to save guild state", tint.Err(err), "guild_id", i.GuildID)
	}

	welcome := modEmbed(emoji+" "+label, fmt.Sprintf(
		"**Opened by:** %s\n**Category:** %s\n**Reason:** %s\n\nHello, %s!\nTell us more while you wait for the team.\n\nOur staff will be with you shortly 💜",
		user.Mention(), label, reason, user.Mention()))
	welcome.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: user.AvatarURL("256")}
	welcome.Footer = &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("Ticket #%d • User ID: %s", ticket.Number, user.ID)}
	if banner != "" {
		welcome.Image = &discordgo.MessageEmbedImage{URL: banner}
	}

	content := user.Mention()
	if staffRole != "" {
		content += " <@&" + staffRole + ">"
	}
	if _, err := s.ChannelMessageSendComplex(ch.ID, &discordgo.MessageSend{
		Content:    content,
		Embeds:     []*discordgo.MessageEmbed{welcome},
		Components: ticketButtons(),
	}); err != nil {
		slog.Warn("failed to send ticket welcome", tint.Err(err), "channel_id", ch.ID)
	}

	followupEmbed(s, i, successEmbed("Ticket created", fmt.Sprintf("Your ticket was opened in <#%s>.", ch.ID)))
	logTicket(s, i.GuildID, "ticket_open", emoji+" Ticket opened",
		fmt.Sprintf("%s opened a **%s** ticket.", user.String(), label), nil,
		logField{name: "Channel", value: "<#" + ch.ID + ">", inline: true},
		logField{name: "Category", value: label, inline: true},
		logField{name: "User ID", value: user.ID, inline: true},
		logField{name: "Reason", value: truncate(reason, 200)},
	)
	slog.Info("ticket created", "guild_id", i.GuildID, "channel_id", ch.ID, "user_id", user.ID, "category", catID)
}

// logTicket publishes a ticket event and posts it to the ticket log channel,
// with an optional attachment.
func logTicket(s Session, guildID, kind, title, description string, file *discordgo.File, fields ...logField) {
	ev := events.Event{Kind: kind, GuildID: guildID, Title: title, Description: description, Timestamp: time.Now().UTC()}
	for _, f := range fields {
		ev.Fields = append(ev.Fields, events.Field{Name: f.name, Value: f.value})
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := Events.Publish(ctx, ev); err != nil {
		slog.Warn("event publish failed", tint.Err(err), "guild_id", guildID, "kind", kind)
	}
	cancel()

	gs := storage.GetGuild(guildID)
	gs.RLock()
	logCh := config.EffectiveTicketLogChannel(storage.Cfg, gs)
	gs.RUnlock()
	if logCh == "" {
		return
	}
	if file == nil {
		sendLog(s, logCh, title, description, fields...)
		return
	}

	embed := modEmbed(title, description)
	for _, f := range fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: f.name, Value: orDash(f.value), Inline: f.inline})
	}
	if _, err := s.ChannelMessageSendComplex(logCh, &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{embed},
		Files:  []*discordgo.File{file},
	}); err != nil {
		slog.Warn("failed to send ticket log", tint.Err(err), "channel_id", logCh)
	}
}

func currentTicket(guildID, channelID string) (config.Ticket, bool) {
	gs := storage.GetGuild(guildID)
	gs.RLock()
	defer gs.RUnlock()
	t, ok := gs.TicketRuntime.OpenTickets[channelID]
	return t, ok
}

func handleTicketClaim(s Session, i *discordgo.InteractionCreate) {
	if !isStaff(s, i) {
		replyError(s, i, "Only staff can claim tickets.")
		return
	}
	user := invoker(i)

	gs := storage.GetGuild(i.GuildID)
	gs.Lock()
	t, ok := gs.TicketRuntime.OpenTickets[i.ChannelID]
	if ok {
		t.ClaimedBy = user.ID
		gs.TicketRuntime.OpenTickets[i.ChannelID] = t
	}
	gs.Unlock()
	if !ok {
		replyError(s, i, "This is not an open ticket.")
		return
	}
	if err := gs.Save(); err != nil {
		slog.Error("failed to save guild state", tint.Err(err), "guild_id", i.GuildID)
	}

	embed := modEmbed("✅ Ticket claimed", fmt.Sprintf("**Handled by:** %s\n\nHi! I'm here to help.\nWhat can I do for you?", user.Mention()))
	embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: user.AvatarURL("256")}
	respondEmbed(s, i, embed, false)
	logTicket(s, i.GuildID, "ticket_claim", "✅ Ticket claimed",
		fmt.Sprintf("%s claimed ticket <#%s>.", user.Mention(), i.ChannelID), nil)
}

func handleTicketAdminPanel(s Session, i *discordgo.InteractionCreate) {
	if !isStaff(s, i) {
		replyError(s, i, "Only staff can open the admin panel.")
		return
	}
	embed := modEmbed("⚙️ Admin Panel",
		"Use the buttons below to manage this ticket.\n\n"+
			"**Add member**: give someone access to the channel\n"+
			"**Remove member**: revoke someone's access\n"+
			"**Rename**: change the ticket name\n"+
			"**Transcript**: export the messages\n"+
			"**Silent close**: delete without notice")
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
			Flags:  discordgo.MessageFlagsEphemeral,
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{Components: []discordgo.MessageComponent{
					discordgo.Button{Label: "Add member", Style: discordgo.PrimaryButton, CustomID: "ticket_admin_add", Emoji: &discordgo.ComponentEmoji{Name: "➕"}},
					discordgo.Button{Label: "Remove member", Style: discordgo.SecondaryButton, CustomID: "ticket_admin_remove", Emoji: &discordgo.ComponentEmoji{Name: "➖"}},
					discordgo.Button{Label: "Rename", Style: discordgo.SecondaryButton, CustomID: "ticket_admin_rename", Emoji: &discordgo.ComponentEmoji{Name: "✏️"}},
				}},
				discordgo.ActionsRow{Components: []discordgo.MessageComponent{
					discordgo.Button{Label: "Transcript", Style: discordgo.SuccessButton, CustomID: "ticket_admin_transcript", Emoji: &discordgo.ComponentEmoji{Name: "📄"}},
					discordgo.Button{Label: "Silent close", Style: discordgo.DangerButton, CustomID: "ticket_admin_silent", Emoji: &discordgo.ComponentEmoji{Name: "🗑️"}},
				}},
			},
		},
	})
	if err != nil {
		slog.Warn("failed to open ticket admin panel", tint.Err(err), "channel_id", i.ChannelID)
	}
}

func handleTicketAdminModalButton(s Session, i *discordgo.InteractionCreate) {
	if !isStaff(s, i) {
		replyError(s, i, "Only staff can use this.")
		return
	}
	switch customIDKey(i.MessageComponentData().CustomID) {
	case "ticket_admin_add":
		respondModal(s, i, "ticket_add_modal", "Add member to ticket",
			discordgo.TextInput{CustomID: "user_id", Label: "ID of the user to add", Placeholder: "123456789012345678", Style: discordgo.TextInputShort, Required: true, MaxLength: 20})
	case "ticket_admin_remove":
		respondModal(s, i, "ticket_remove_modal", "Remove member from ticket",
			discordgo.TextInput{CustomID: "user_id", Label: "ID of the user to remove", Placeholder: "123456789012345678", Style: discordgo.TextInputShort, Required: true, MaxLength: 20})
	case "ticket_admin_rename":
		respondModal(s, i, "ticket_rename_modal", "Rename ticket channel",
			discordgo.TextInput{CustomID: "name", Label: "New channel name", Placeholder: "ticket-vip-alex", Style: discordgo.TextInputShort, Required: true, MaxLength: ticketNameMax})
	}
}

// modalMember parses the user_id field of a modal and fetches the member.
func modalMember(s Session, i *discordgo.InteractionCreate) (*discordgo.Member, string) {
	raw := strings.TrimSpace(modalValues(i)["user_id"])
	if _, err := strconv.ParseUint(raw, 10, 64); err != nil {
		return nil, "Invalid ID: enter a numeric user ID."
	}
	m, err := s.GuildMember(i.GuildID, raw)
	if err != nil {
		return nil, "That member is not in the server."
	}
	if m.User == nil {
		m.User = &discordgo.User{ID: raw}
	}
	return m, ""
}

func addTicketMember(s Session, i *discordgo.InteractionCreate, userID string) {
	err := s.ChannelPermissionSet(i.ChannelID, userID, discordgo.PermissionOverwriteTypeMember, ticketMemberAllow, 0)
	if err != nil {
		replyError(s, i, restErrorMessage(err))
		return
	}
	respondEmbed(s, i, successEmbed("Member added", fmt.Sprintf("<@%s> was added to the ticket.", userID)), true)
	if _, err := s.ChannelMessageSendEmbed(i.ChannelID, modEmbed("➕ Member added",
		fmt.Sprintf("<@%s> was added to the ticket by %s.", userID, invoker(i).Mention()))); err != nil {
		slog.Warn("failed to announce ticket member", tint.Err(err), "channel_id", i.ChannelID)
	}
}

func removeTicketMember(s Session, i *discordgo.InteractionCreate, userID string) {
	if err := s.ChannelPermissionDelete(i.ChannelID, userID); err != nil {
		replyError(s, i, restErrorMessage(err))
		return
	}
	respondEmbed(s, i, successEmbed("Member removed", fmt.Sprintf("<@%s> was removed from the ticket.", userID)), true)
	if _, err := s.ChannelMessageSendEmbed(i.ChannelID, modEmbed("➖ Member removed",
		fmt.Sprintf("<@%s> was removed from the ticket by %s.", userID, invoker(i).Mention()))); err != nil {
		slog.Warn("failed to announce ticket member", tint.Err(err), "channel_id", i.ChannelID)
	}
}

func handleTicketAddModal(s Session, i *discordgo.InteractionCreate) {
	m, msg := modalMember(s, i)
	if m == nil {
		replyError(s, i, msg)
		return
	}
	addTicketMember(s, i, m.User.ID)
}

func handleTicketRemoveModal(s Session, i *discordgo.InteractionCreate) {
	m, msg := modalMember(s, i)
	if m == nil {
		replyError(s, i, msg)
		return
	}
	removeTicketMember(s, i, m.User.ID)
}

func handleTicketRenameModal(s Session, i *discordgo.InteractionCreate) {
	name := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(modalValues(i)["name"])), " ", "-")
	name = truncate(name, ticketNameMax)
	if name == "" {
		replyError(s, i, "The name can't be empty.")
		return
	}
	if _, err := s.ChannelEdit(i.ChannelID, &discordgo.ChannelEdit{Name: name}); err != nil {
		replyError(s, i, restErrorMessage(err))
		return
	}
	respondEmbed(s, i, successEmbed("Channel renamed", fmt.Sprintf("Channel renamed to `%s`.", name)), true)
}

// fetchHistory returns up to limit messages of a channel, oldest first.
func fetchHistory(s Session, channelID string, limit int) ([]*discordgo.Message, error) {
	var all []*discordgo.Message
	before := ""
	for len(all) < limit {
		n := limit - len(all)
		if n > 100 {
			n = 100
		}
		batch, err := s.ChannelMessages(channelID, n, before, "", "")
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < n {
			break
		}
		before = batch[len(batch)-1].ID
	}
	for l, r := 0, len(all)-1; l < r; l, r = l+1, r-1 {
		all[l], all[r] = all[r], all[l]
	}
	return all, nil
}

func formatTranscript(msgs []*discordgo.Message) string {
	if len(msgs) == 0 {
		return "No messages found."
	}
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		content := m.Content
		if content == "" {
			content = "[embed/attachment]"
		}
		author := "unknown"
		authorID := ""
		if m.Author != nil {
			author, authorID = m.Author.String(), m.Author.ID
		}
		lines = append(lines, fmt.Sprintf("[%s] %s (%s): %s", m.Timestamp.UTC().Format("02/01/2006 15:04"), author, authorID, content))
	}
	return strings.Join(lines, "\n")
}

func transcriptFile(s Session, channelID string) (*discordgo.File, string) {
	name := channelID
	if ch, err := s.Channel(channelID); err == nil && ch.Name != "" {
		name = ch.Name
	}
	msgs, err := fetchHistory(s, channelID, transcriptLimit)
	if err != nil {
		slog.Warn("failed to fetch transcript", tint.Err(err), "channel_id", channelID)
	}
	return &discordgo.File{
		Name:        "transcript-" + name + ".txt",
		ContentType: "text/plain",
		Reader:      strings.NewReader(formatTranscript(msgs)),
	}, name
}

func handleTicketTranscriptButton(s Session, i *discordgo.InteractionCreate) {
	if !isStaff(s, i) {
		replyError(s, i, "Only staff can use this.")
		return
	}
	deferEphemeral(s, i)
	file, name := transcriptFile(s, i.ChannelID)
	_, err := s.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
		Embeds: []*discordgo.MessageEmbed{successEmbed("Transcript ready", fmt.Sprintf("Log of `%s`.", name))},
		Files:  []*discordgo.File{file},
		Flags:  discordgo.MessageFlagsEphemeral,
	})
	if err != nil {
		slog.Warn("failed to send transcript", tint.Err(err), "channel_id", i.ChannelID)
	}
}

// closeTicket announces the close, drops the registry entry, logs with a
// transcript and deletes the channel after delay.
func closeTicket(s Session, i *discordgo.InteractionCreate, delay time.Duration, silent bool) {
	user := invoker(i)
	secs := int(delay / time.Second)
	if silent {
		respondEmbed(s, i, modEmbed("🗑️ Closing...", fmt.Sprintf("This channel will be deleted in **%d seconds**.", secs)), false)
	} else {
		respondEmbed(s, i, modEmbed("🔒 Closing ticket...", fmt.Sprintf("This channel will be deleted in **%d seconds**.", secs)), false)
	}

	gs := storage.GetGuild(i.GuildID)
	gs.Lock()
	t, _ := gs.CloseTicket(i.ChannelID)
	gs.Unlock()
	if err := gs.Save(); err != nil {
		slog.Error("failed to save guild state", tint.Err(err), "guild_id", i.GuildID)
	}

	file, name := transcriptFile(s, i.ChannelID)
	title, kind := "🔒 Ticket closed", "ticket_close"
	if silent {
		title, kind = "🗑️ Ticket closed (admin)", "ticket_close_silent"
	}
	fields := []logField{{name: "Channel", value: name, inline: true}}
	if t.UserID != "" {
		fields = append(fields, logField{name: "Opened by", value: "<@" + t.UserID + ">", inline: true})
	}
	if t.ClaimedBy != "" {
		fields = append(fields, logField{name: "Claimed by", value: "<@" + t.ClaimedBy + ">", inline: true})
	}
	logTicket(s, i.GuildID, kind, title, fmt.Sprintf("Ticket `%s` closed by %s.", name, user.Mention()), file, fields...)

	channelID := i.ChannelID
	scheduleDelete(delay, func() {
		if _, err := s.ChannelDelete(channelID, discordgo.WithAuditLogReason("Ticket closed by "+user.String())); err != nil {
			slog.Warn("failed to delete ticket channel", tint.Err(err), "channel_id", channelID)
		}
	})
}

func handleTicketCloseButton(s Session, i *discordgo.InteractionCreate) {
	t, ok := currentTicket(i.GuildID, i.ChannelID)
	if !ok {
		replyError(s, i, "This channel is not an open ticket.")
		return
	}
	if !isStaff(s, i) && invoker(i).ID != t.UserID {
		replyError(s, i, "Only staff or the ticket opener can close it.")
		return
	}
	closeTicket(s, i, storage.Cfg.Tickets.CloseDelay.Duration, false)
}

func handleTicketSilentClose(s Session, i *discordgo.InteractionCreate) {
	if !isStaff(s, i) {
		replyError(s, i, "Only staff can use this.")
		return
	}
	if _, ok := currentTicket(i.GuildID, i.ChannelID); !ok {
		replyError(s, i, "This channel is not an open ticket.")
		return
	}
	closeTicket(s, i, silentCloseDelay, true)
}

func handleTicketNotify(s Session, i *discordgo.InteractionCreate) {
	t, ok := currentTicket(i.GuildID, i.ChannelID)
	if !ok {
		replyError(s, i, "This channel is not an open ticket.")
		return
	}
	user := invoker(i)

	gs := storage.GetGuild(i.GuildID)
	gs.RLock()
	staffRole := config.EffectiveTicketStaffRole(storage.Cfg, gs)
	gs.RUnlock()

	var content string
	var embed *discordgo.MessageEmbed
	switch {
	case t.ClaimedBy != "":
		content = "<@" + t.ClaimedBy + ">"
		embed = modEmbed("🔔 Staff member notified", fmt.Sprintf("%s is waiting for your attention in this ticket!", user.Mention()))
	case staffRole != "":
		content = "<@&" + staffRole + ">"
		embed = modEmbed("🔔 Staff notified", fmt.Sprintf("%s is waiting for help in this ticket!", user.Mention()))
	default:
		replyError(s, i, "No staff role is configured. Use `/ticket setup` to set one.")
		return
	}

	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: content, Embeds: []*discordgo.MessageEmbed{embed}},
	})
	if err != nil {
		slog.Warn("failed to notify staff", tint.Err(err), "channel_id", i.ChannelID)
	}
}

func handleCloseCommand(s Session, i *discordgo.InteractionCreate) {
	handleTicketCloseButton(s, i)
}

func handleAddUser(s Session, i *discordgo.InteractionCreate) {
	if _, ok := currentTicket(i.GuildID, i.ChannelID); !ok {
		replyError(s, i, "This channel is not an open ticket.")
		return
	}
	if !isStaff(s, i) {
		replyError(s, i, "Only staff can use this.")
		return
	}
	target := optUser(i, optionMap(i), "user")
	addTicketMember(s, i, target.ID)
}

func handleRemoveUser(s Session, i *discordgo.InteractionCreate) {
	if _, ok := currentTicket(i.GuildID, i.ChannelID); !ok {
		replyError(s, i, "This channel is not an open ticket.")
		return
	}
	if !isStaff(s, i) {
		replyError(s, i, "Only staff can use this.")
		return
	}
	target := optUser(i, optionMap(i), "user")
	removeTicketMember(s, i, target.ID)
}

// handleChannelDelete drops the ticket bound to a deleted channel.
func handleChannelDelete(c *discordgo.ChannelDelete) {
	if c.Channel == nil || c.GuildID == "" {
		return
	}
	gs := storage.GetGuild(c.GuildID)
	gs.Lock()
	_, ok := gs.CloseTicket(c.ID)
	gs.Unlock()
	if !ok {
		return
	}
	if err := gs.Save(); err != nil {
		slog.Error("failed to save guild state", tint.Err(err), "guild_id", c.GuildID)
	}
	slog.Debug("ticket channel deleted", "guild_id", c.GuildID, "channel_id", c.ID)
}

func parseComponentEmoji(emoji string) *discordgo.ComponentEmoji {
	if emoji == "" {
		return nil
	}
	return &discordgo.ComponentEmoji{Name: emoji}
}
