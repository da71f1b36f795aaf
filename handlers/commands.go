package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"modbot/config"
	"modbot/events"
	"modbot/lang"
	"modbot/latex"
	"modbot/leveling"
	"modbot/storage"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"
)

// Session is the subset of *discordgo.Session the handlers call, so tests can
// substitute a fake.
type Session interface {
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	FollowupMessageCreate(interaction *discordgo.Interaction, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)

	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessage(channelID, messageID string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
	ChannelMessagesBulkDelete(channelID string, messages []string, options ...discordgo.RequestOption) error

	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelEdit(channelID string, data *discordgo.ChannelEdit, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelDelete(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelPermissionSet(channelID, targetID string, targetType discordgo.PermissionOverwriteType, allow, deny int64, options ...discordgo.RequestOption) error
	ChannelPermissionDelete(channelID, targetID string, options ...discordgo.RequestOption) error
	GuildChannelCreateComplex(guildID string, data discordgo.GuildChannelCreateData, options ...discordgo.RequestOption) (*discordgo.Channel, error)

	GuildWithCounts(guildID string, options ...discordgo.RequestOption) (*discordgo.Guild, error)
	GuildRoles(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Role, error)
	GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)
	GuildMemberRoleAdd(guildID, userID, roleID string, options ...discordgo.RequestOption) error
	GuildMemberTimeout(guildID, userID string, until *time.Time, options ...discordgo.RequestOption) error
	GuildMemberDeleteWithReason(guildID, userID, reason string, options ...discordgo.RequestOption) error
	GuildBanCreateWithReason(guildID, userID, reason string, days int, options ...discordgo.RequestOption) error
	GuildBanDelete(guildID, userID string, options ...discordgo.RequestOption) error

	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	HeartbeatLatency() time.Duration

	AutoModerationRules(guildID string, options ...discordgo.RequestOption) ([]*discordgo.AutoModerationRule, error)
	AutoModerationRuleDelete(guildID, ruleID string, options ...discordgo.RequestOption) error
	RequestWithBucketID(method, urlStr string, data interface{}, bucketID string, options ...discordgo.RequestOption) ([]byte, error)
}

type handlerFunc func(s Session, i *discordgo.InteractionCreate)

var (
	// Events receives every logged action.
	Events events.Publisher = events.Noop{}

	xp          *leveling.Tracker
	renderer    *latex.Renderer
	latexLimits *latex.Limiter
	cooldowns   *commandCooldowns

	self atomic.Pointer[discordgo.User]
)

// Setup builds the shared helpers handlers depend on. It must run before
// Register and again whenever the configuration is replaced.
func Setup(cfg *config.Config, pub events.Publisher) {
	storage.Cfg = cfg
	if pub != nil {
		Events = pub
	}
	if xp != nil {
		xp.Close()
	}
	xp = leveling.NewTracker(cfg.Leveling.MinXP, cfg.Leveling.MaxXP, cfg.Leveling.Cooldown.Duration)
	renderer = latex.NewRenderer(cfg.Latex.APIURL, cfg.Latex.DPI)
	latexLimits = latex.NewLimiter(cfg.Latex.PerUser.Duration)
	cooldowns = newCommandCooldowns(cfg.Discord.CommandCooldown.Duration)
}

// SetSelf records the bot's own user, taken from the READY event.
func SetSelf(u *discordgo.User) {
	self.Store(u)
}

func botUser() *discordgo.User {
	if u := self.Load(); u != nil {
		return u
	}
	return &discordgo.User{}
}

func commandTable() map[string]handlerFunc {
	return map[string]handlerFunc{
		"ban":           handleBan,
		"unban":         handleUnban,
		"kick":          handleKick,
		"mute":          handleMute,
		"unmute":        handleUnmute,
		"warn":          handleWarn,
		"warnings":      handleWarnings,
		"clearwarnings": handleClearWarnings,
		"clear":         handleClear,
		"slowmode":      handleSlowmode,
		"lock":          handleLock,
		"unlock":        handleUnlock,
		"setup":         handleSetupLog,
		"cases":         handleCases,

		"ping":       handlePing,
		"userinfo":   handleUserinfo,
		"serverinfo": handleServerinfo,
		"avatar":     handleAvatar,

		"embed":       handleEmbedPanel,
		"embed-quick": handleEmbedQuick,
		"embed-edit":  handleEmbedEdit,

		"ticket": handleTicketCommand,
		"close":  handleCloseCommand,
		"add":    handleAddUser,
		"remove": handleRemoveUser,

		"automod": handleAutomodCommand,

		"rank":         handleRank,
		"leaderboard":  handleLeaderboard,
		"levelchannel": handleLevelChannel,

		"welcome":  handleWelcomeCommand,
		"joinrole": handleJoinRoleCommand,

		"play":       handleMusicCommand,
		"skip":       handleMusicCommand,
		"stop":       handleMusicCommand,
		"queue":      handleMusicCommand,
		"volume":     handleMusicCommand,
		"nowplaying": handleMusicCommand,
		"pause":      handleMusicCommand,
		"resume":     handleMusicCommand,

		"latex": handleLatexCommand,
	}
}

// componentTable is keyed by the part of a custom id before the first ':'.
func componentTable() map[string]handlerFunc {
	return map[string]handlerFunc{
		"embed_create":   handleEmbedCreateButton,
		"embed_announce": handleEmbedTemplateButton,
		"embed_rules":    handleEmbedTemplateButton,
		"embed_cancel":   handleEmbedCancelButton,

		"ticket_category_select":  handleTicketCategorySelect,
		"ticket_claim":            handleTicketClaim,
		"ticket_admin":            handleTicketAdminPanel,
		"ticket_close":            handleTicketCloseButton,
		"ticket_notify":           handleTicketNotify,
		"ticket_admin_add":        handleTicketAdminModalButton,
		"ticket_admin_remove":     handleTicketAdminModalButton,
		"ticket_admin_rename":     handleTicketAdminModalButton,
		"ticket_admin_transcript": handleTicketTranscriptButton,
		"ticket_admin_silent":     handleTicketSilentClose,
	}
}

func modalTable() map[string]handlerFunc {
	return map[string]handlerFunc{
		"embed_create_modal": handleEmbedCreateModal,
		"embed_edit_modal":   handleEmbedEditModal,

		"ticket_reason_modal": handleTicketReasonModal,
		"ticket_add_modal":    handleTicketAddModal,
		"ticket_remove_modal": handleTicketRemoveModal,
		"ticket_rename_modal": handleTicketRenameModal,
	}
}

func Commands(cfg *config.Config) []*discordgo.ApplicationCommand {
	cmds := make([]*discordgo.ApplicationCommand, 0)
	cmds = append(cmds, moderationCommands()...)
	cmds = append(cmds, infoCommands()...)
	cmds = append(cmds, embedCommands()...)
	cmds = append(cmds, ticketCommands()...)
	cmds = append(cmds, automodCommands()...)
	cmds = append(cmds, welcomeCommands()...)
	if cfg.Leveling.Enabled {
		cmds = append(cmds, levelingCommands()...)
	}
	if cfg.Music.Enabled {
		cmds = append(cmds, musicCommands()...)
	}
	if cfg.Latex.Enabled {
		cmds = append(cmds, latexCommands()...)
	}
	return cmds
}

func Register(s *discordgo.Session) {
	commands := commandTable()
	components := componentTable()
	modals := modalTable()

	s.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		SetSelf(r.User)
	})
	s.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		dispatch(s, i, commands, components, modals)
	})
	s.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		handleMessageCreate(s, m)
	})
	s.AddHandler(func(s *discordgo.Session, c *discordgo.ChannelDelete) {
		handleChannelDelete(c)
	})
	RegisterWelcomeLeave(s)
}

func dispatch(s Session, i *discordgo.InteractionCreate, commands, components, modals map[string]handlerFunc) {
	if i.GuildID == "" || i.Member == nil {
		return
	}

	var (
		name string
		h    handlerFunc
	)
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		name = i.ApplicationCommandData().Name
		h = commands[name]
		if h != nil && !checkCooldown(s, i, name) {
			return
		}
	case discordgo.InteractionMessageComponent:
		name = customIDKey(i.MessageComponentData().CustomID)
		h = components[name]
	case discordgo.InteractionModalSubmit:
		name = customIDKey(i.ModalSubmitData().CustomID)
		h = modals[name]
	default:
		return
	}

	if h == nil {
		slog.Warn("unknown interaction", "name", name, "type", i.Type.String())
		return
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("interaction handler panic",
				"name", name,
				"guild_id", i.GuildID,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
			replyError(s, i, lang.T("generic_error"))
		}
	}()
	h(s, i)
}

func customIDKey(customID string) string {
	key, _, _ := strings.Cut(customID, ":")
	return key
}

// customIDArgs returns the ':'-separated values after the key.
func customIDArgs(customID string) []string {
	_, rest, ok := strings.Cut(customID, ":")
	if !ok || rest == "" {
		return nil
	}
	return strings.Split(rest, ":")
}

type commandCooldowns struct {
	mu       sync.Mutex
	every    rate.Limit
	limiters map[string]*rate.Limiter
}

func newCommandCooldowns(d time.Duration) *commandCooldowns {
	return &commandCooldowns{every: rate.Every(d), limiters: make(map[string]*rate.Limiter)}
}

// wait reports how long userID must wait before running command again.
func (c *commandCooldowns) wait(userID, command string, now time.Time) time.Duration {
	key := userID + ":" + command
	c.mu.Lock()
	lim, ok := c.limiters[key]
	if !ok {
		lim = rate.NewLimiter(c.every, 1)
		c.limiters[key] = lim
	}
	c.mu.Unlock()

	r := lim.ReserveN(now, 1)
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return d
	}
	return 0
}

func checkCooldown(s Session, i *discordgo.InteractionCreate, command string) bool {
	if cooldowns == nil {
		return true
	}
	d := cooldowns.wait(i.Member.User.ID, command, time.Now())
	if d <= 0 {
		return true
	}
	secs := fmt.Sprintf("%.1f", d.Seconds())
	respond(s, i, lang.T("cooldown", "seconds", secs), true)
	return false
}

func respond(s Session, i *discordgo.InteractionCreate, content string, ephemeral bool) {
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   flags,
		},
	})
	if err != nil {
		slog.Warn("failed to respond", tint.Err(err), "guild_id", i.GuildID)
	}
}

func respondEmbed(s Session, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, ephemeral bool) {
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
			Flags:  flags,
		},
	})
	if err != nil {
		slog.Warn("failed to respond", tint.Err(err), "guild_id", i.GuildID)
	}
}

func respondModal(s Session, i *discordgo.InteractionCreate, customID, title string, inputs ...discordgo.TextInput) {
	rows := make([]discordgo.MessageComponent, 0, len(inputs))
	for _, in := range inputs {
		rows = append(rows, discordgo.ActionsRow{Components: []discordgo.MessageComponent{in}})
	}
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID:   customID,
			Title:      title,
			Components: rows,
		},
	})
	if err != nil {
		slog.Warn("failed to open modal", tint.Err(err), "custom_id", customID)
	}
}

func deferEphemeral(s Session, i *discordgo.InteractionCreate) {
	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	})
}

func followup(s Session, i *discordgo.InteractionCreate, content string) {
	_, _ = s.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
		Content: content,
		Flags:   discordgo.MessageFlagsEphemeral,
	})
}

func followupEmbed(s Session, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) {
	_, _ = s.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
		Embeds: []*discordgo.MessageEmbed{embed},
		Flags:  discordgo.MessageFlagsEphemeral,
	})
}

// replyError answers with an ephemeral error embed, as a followup when the
// interaction was already acknowledged.
func replyError(s Session, i *discordgo.InteractionCreate, msg string) {
	embed := errorEmbed(lang.T("error_title"), msg)
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
			Flags:  discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		followupEmbed(s, i, embed)
	}
}

// restErrorMessage turns a Discord REST failure into a user-facing message.
func restErrorMessage(err error) string {
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Message != nil {
		switch rest.Message.Code {
		case discordgo.ErrCodeMissingPermissions, discordgo.ErrCodeMissingAccess:
			return lang.T("bot_missing_permissions")
		case discordgo.ErrCodeUnknownMessage:
			return lang.T("not_found_message")
		case discordgo.ErrCodeUnknownUser, discordgo.ErrCodeUnknownMember:
			return lang.T("not_found_user")
		case discordgo.ErrCodeUnknownBan:
			return lang.T("not_found_ban")
		case discordgo.ErrCodeUnknownChannel:
			return lang.T("not_found_channel")
		}
	}
	return lang.T("generic_error_detail", "error", err.Error())
}

type optMap = map[string]*discordgo.ApplicationCommandInteractionDataOption

func optionMap(i *discordgo.InteractionCreate) optMap {
	return subOptMap(i.ApplicationCommandData().Options)
}

func subOptMap(opts []*discordgo.ApplicationCommandInteractionDataOption) optMap {
	m := make(optMap, len(opts))
	for _, opt := range opts {
		m[opt.Name] = opt
	}
	return m
}

func optStr(m optMap, key, def string) string {
	if o, ok := m[key]; ok {
		if v := strings.TrimSpace(o.StringValue()); v != "" {
			return v
		}
	}
	return def
}

func optInt(m optMap, key string, def int64) int64 {
	if o, ok := m[key]; ok {
		return o.IntValue()
	}
	return def
}

// optID returns the snowflake of a user, channel or role option.
func optID(m optMap, key string) string {
	o, ok := m[key]
	if !ok {
		return ""
	}
	id, _ := o.Value.(string)
	return id
}

// optUser resolves a user option from the interaction payload.
func optUser(i *discordgo.InteractionCreate, m optMap, key string) *discordgo.User {
	id := optID(m, key)
	if id == "" {
		return nil
	}
	if r := i.ApplicationCommandData().Resolved; r != nil {
		if u, ok := r.Users[id]; ok {
			return u
		}
	}
	return &discordgo.User{ID: id}
}

func optMember(i *discordgo.InteractionCreate, m optMap, key string) *discordgo.Member {
	id := optID(m, key)
	if id == "" {
		return nil
	}
	r := i.ApplicationCommandData().Resolved
	if r == nil {
		return nil
	}
	member, ok := r.Members[id]
	if !ok {
		return nil
	}
	if member.User == nil {
		member.User = r.Users[id]
	}
	return member
}

func modalValues(i *discordgo.InteractionCreate) map[string]string {
	out := make(map[string]string)
	for _, c := range i.ModalSubmitData().Components {
		row, ok := c.(*discordgo.ActionsRow)
		if !ok {
			continue
		}
		for _, rc := range row.Components {
			if in, ok := rc.(*discordgo.TextInput); ok {
				out[in.CustomID] = in.Value
			}
		}
	}
	return out
}

func invoker(i *discordgo.InteractionCreate) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	if i.User != nil {
		return i.User
	}
	return &discordgo.User{}
}

func hasConfigRole(s Session, guildID string, member *discordgo.Member, allowedNames []string) bool {
	if member == nil || len(allowedNames) == 0 {
		return false
	}

	roles, err := s.GuildRoles(guildID)
	if err != nil {
		return false
	}

	nameSet := make(map[string]bool, len(allowedNames))
	for _, n := range allowedNames {
		nameSet[strings.ToLower(n)] = true
	}

	for _, role := range roles {
		if nameSet[strings.ToLower(role.Name)] && hasRole(member, role.ID) {
			return true
		}
	}
	return false
}

func hasRole(member *discordgo.Member, roleID string) bool {
	if member == nil || roleID == "" {
		return false
	}
	for _, id := range member.Roles {
		if id == roleID {
			return true
		}
	}
	return false
}

func isAdmin(s Session, i *discordgo.InteractionCreate) bool {
	if i.Member.Permissions&discordgo.PermissionAdministrator != 0 {
		return true
	}
	return hasConfigRole(s, i.GuildID, i.Member, storage.Cfg.Permissions.AdminRoles)
}

func isModerator(s Session, i *discordgo.InteractionCreate) bool {
	if isAdmin(s, i) {
		return true
	}
	if i.Member.Permissions&(discordgo.PermissionBanMembers|discordgo.PermissionModerateMembers) != 0 {
		return true
	}
	return hasConfigRole(s, i.GuildID, i.Member, storage.Cfg.Permissions.ModeratorRoles)
}

func isDJ(s Session, i *discordgo.InteractionCreate) bool {
	if isModerator(s, i) {
		return true
	}
	return hasConfigRole(s, i.GuildID, i.Member, storage.Cfg.Permissions.DJRoles)
}

// isStaff is true for administrators and holders of the guild's ticket staff role.
func isStaff(s Session, i *discordgo.InteractionCreate) bool {
	if isAdmin(s, i) {
		return true
	}
	gs := storage.GetGuild(i.GuildID)
	gs.RLock()
	role := config.EffectiveTicketStaffRole(storage.Cfg, gs)
	gs.RUnlock()
	return hasRole(i.Member, role)
}
