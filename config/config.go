package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// GuildDataDir is where per-guild runtime state is persisted.
var GuildDataDir = "data/guilds"

type Config struct {
	Discord     DiscordConfig     `json:"discord"`
	Logging     LoggingConfig     `json:"logging"`
	Database    DatabaseConfig    `json:"database"`
	Permissions PermissionsConfig `json:"permissions"`
	Moderation  ModerationConfig  `json:"moderation"`
	Tickets     TicketsConfig     `json:"tickets"`
	Welcome     WelcomeConfig     `json:"welcome"`
	Leave       WelcomeConfig     `json:"leave"`
	JoinRole    JoinRoleConfig    `json:"join_role"`
	Leveling    LevelingConfig    `json:"leveling"`
	AutoMod     AutoModConfig     `json:"automod"`
	Music       MusicConfig       `json:"music"`
	Latex       LatexConfig       `json:"latex"`
	Status      StatusConfig      `json:"status"`
	Events      EventsConfig      `json:"events"`
	Lang        LangConfig        `json:"lang"`
}

type DiscordConfig struct {
	Token   string `json:"token"`
	GuildID string `json:"guild_id"`
	// CommandCooldown is the minimum time between two uses of the same command by one user.
	CommandCooldown Duration `json:"command_cooldown"`
}

type LoggingConfig struct {
	Level   string `json:"level"`
	NoColor bool   `json:"no_color"`
}

type DatabaseConfig struct {
	Driver  string        `json:"driver"`
	SQLite  SQLiteConfig  `json:"sqlite"`
	MongoDB MongoDBConfig `json:"mongodb"`
}

type SQLiteConfig struct {
	Path string `json:"path"`
}

type MongoDBConfig struct {
	URI      string `json:"uri"`
	Database string `json:"database"`
}

type PermissionsConfig struct {
	AdminRoles     []string `json:"admin_roles"`
	ModeratorRoles []string `json:"moderator_roles"`
	DJRoles        []string `json:"dj_roles"`
}

type ModerationConfig struct {
	LogChannel string `json:"log_channel"`
}

type TicketsConfig struct {
	Enabled         bool             `json:"enabled"`
	LogChannel      string           `json:"log_channel"`
	StaffRole       string           `json:"staff_role"`
	DiscordCategory string           `json:"discord_category"`
	BannerURL       string           `json:"banner_url"`
	MaxOpenPerUser  int              `json:"max_open_per_user"`
	CloseDelay      Duration         `json:"close_delay"`
	Categories      []TicketCategory `json:"categories"`
}

type TicketCategory struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Emoji       string `json:"emoji"`
	Description string `json:"description"`
}

type WelcomeConfig struct {
	Enabled   bool         `json:"enabled"`
	ChannelID string       `json:"channel_id"`
	Embed     EmbedMessage `json:"embed"`
}

type EmbedMessage struct {
	Title        string `json:"title"`
	Message      string `json:"message"`
	Colour       string `json:"colour"`
	Thumbnail    string `json:"thumbnail"`
	ImageEnabled bool   `json:"image_enabled"`
	ImageURL     string `json:"image_url"`
}

type JoinRoleConfig struct {
	Enabled bool   `json:"enabled"`
	RoleID  string `json:"role_id"`
}

type LevelingConfig struct {
	Enabled         bool              `json:"enabled"`
	MinXP           int               `json:"min_xp"`
	MaxXP           int               `json:"max_xp"`
	XPPerLevel      int               `json:"xp_per_level"`
	Cooldown        Duration          `json:"cooldown"`
	AnnounceChannel string            `json:"announce_channel"`
	RoleRewards     map[string]string `json:"role_rewards"`
}

type AutoModConfig struct {
	RulePrefix string `json:"rule_prefix"`
}

type MusicConfig struct {
	Enabled         bool   `json:"enabled"`
	Backend         string `json:"backend"`
	MaxQueueSize    int    `json:"max_queue_size"`
	MaxSongDuration int    `json:"max_song_duration"`
	AllowPlaylists  bool   `json:"allow_playlists"`
	DefaultVolume   int    `json:"default_volume"`

	Direct   DirectMusicConfig   `json:"direct"`
	Lavalink LavalinkMusicConfig `json:"lavalink"`
}

type DirectMusicConfig struct {
	YTDLPPath  string `json:"ytdlp_path"`
	FFmpegPath string `json:"ffmpeg_path"`
}

type LavalinkMusicConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	Secure   bool   `json:"secure"`
}

type LatexConfig struct {
	Enabled        bool     `json:"enabled"`
	APIURL         string   `json:"api_url"`
	DPI            int      `json:"dpi"`
	MaxExpressions int      `json:"max_expressions"`
	PerUser        Duration `json:"per_user_interval"`
}

type StatusConfig struct {
	Messages []string `json:"messages"`
	Interval Duration `json:"interval"`
}

type EventsConfig struct {
	Enabled  bool   `json:"enabled"`
	AMQPURL  string `json:"amqp_url"`
	Exchange string `json:"exchange"`
}

type LangConfig struct {
	Path string `json:"path"`
}

// Duration reads either a Go duration string ("30s") or a number of seconds.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case float64:
		d.Duration = time.Duration(val * float64(time.Second))
	case string:
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", val, err)
		}
		d.Duration = parsed
	case nil:
		d.Duration = 0
	default:
		return fmt.Errorf("invalid duration %v", v)
	}
	return nil
}

var DefaultTicketCategories = []TicketCategory{
	{ID: "support", Name: "General Support", Emoji: "🛠️", Description: "Questions and general help"},
	{ID: "report", Name: "Reports", Emoji: "🚨", Description: "Report a member or a problem"},
	{ID: "vip", Name: "VIP Purchase", Emoji: "💎", Description: "Buying or activating VIP"},
	{ID: "prize", Name: "Prize Claim", Emoji: "🎁", Description: "Claim an event prize"},
	{ID: "sponsorship", Name: "Sponsorship", Emoji: "🤝", Description: "Partnerships and sponsorship"},
	{ID: "other", Name: "Other", Emoji: "📩", Description: "Anything else"},
}

var DefaultStatusMessages = []string{
	"Watching over the server 👀",
	"Open a ticket if you need help",
	"Counting everyone's XP",
	"Rendering some equations ∑",
	"Keeping the chat clean 🧹",
	"Playing music for the squad 🎶",
	"Reading the rules, again",
	"Handing out warnings fairly",
	"/rank to see your level",
	"Building pretty embeds ✨",
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

func (cfg *Config) ApplyDefaults() {
	if cfg.Discord.CommandCooldown.Duration <= 0 {
		cfg.Discord.CommandCooldown.Duration = 2 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Tickets.MaxOpenPerUser <= 0 {
		cfg.Tickets.MaxOpenPerUser = 1
	}
	if cfg.Tickets.CloseDelay.Duration <= 0 {
		cfg.Tickets.CloseDelay.Duration = 5 * time.Second
	}
	if len(cfg.Tickets.Categories) == 0 {
		cfg.Tickets.Categories = append([]TicketCategory(nil), DefaultTicketCategories...)
	}
	if cfg.Leveling.MinXP <= 0 {
		cfg.Leveling.MinXP = 15
	}
	if cfg.Leveling.MaxXP < cfg.Leveling.MinXP {
		cfg.Leveling.MaxXP = cfg.Leveling.MinXP + 10
	}
	if cfg.Leveling.XPPerLevel <= 0 {
		cfg.Leveling.XPPerLevel = 100
	}
	if cfg.Leveling.Cooldown.Duration <= 0 {
		cfg.Leveling.Cooldown.Duration = time.Minute
	}
	if cfg.AutoMod.RulePrefix == "" {
		cfg.AutoMod.RulePrefix = "[Bot]"
	}
	if cfg.Music.MaxQueueSize <= 0 {
		cfg.Music.MaxQueueSize = 100
	}
	if cfg.Music.DefaultVolume <= 0 {
		cfg.Music.DefaultVolume = 50
	}
	if cfg.Music.Backend == "" {
		cfg.Music.Backend = "direct"
	}
	if cfg.Music.Direct.YTDLPPath == "" {
		cfg.Music.Direct.YTDLPPath = "yt-dlp"
	}
	if cfg.Music.Direct.FFmpegPath == "" {
		cfg.Music.Direct.FFmpegPath = "ffmpeg"
	}
	if cfg.Music.Lavalink.Host == "" {
		cfg.Music.Lavalink.Host = "localhost"
	}
	if cfg.Music.Lavalink.Port == 0 {
		cfg.Music.Lavalink.Port = 2333
	}
	if cfg.Music.Lavalink.Password == "" {
		cfg.Music.Lavalink.Password = "youshallnotpass"
	}
	if cfg.Latex.APIURL == "" {
		cfg.Latex.APIURL = "https://latex.codecogs.com/png.image?"
	}
	if cfg.Latex.DPI <= 0 {
		cfg.Latex.DPI = 200
	}
	if cfg.Latex.MaxExpressions <= 0 {
		cfg.Latex.MaxExpressions = 3
	}
	if cfg.Latex.PerUser.Duration <= 0 {
		cfg.Latex.PerUser.Duration = 10 * time.Second
	}
	if len(cfg.Status.Messages) == 0 {
		cfg.Status.Messages = append([]string(nil), DefaultStatusMessages...)
	}
	if cfg.Status.Interval.Duration <= 0 {
		cfg.Status.Interval.Duration = 30 * time.Second
	}
	if cfg.Events.Exchange == "" {
		cfg.Events.Exchange = "modbot.events"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.SQLite.Path == "" {
		cfg.Database.SQLite.Path = "data/bot.db"
	}
	if cfg.Database.MongoDB.Database == "" {
		cfg.Database.MongoDB.Database = "modbot"
	}
}

func SaveConfig(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

type GuildState struct {
	mu       sync.RWMutex
	filePath string

	GuildID string `json:"guild_id"`

	LogChannelOverride     string `json:"log_channel_override,omitempty"`
	WelcomeChannelOverride string `json:"welcome_channel_override,omitempty"`
	LeaveChannelOverride   string `json:"leave_channel_override,omitempty"`
	LevelChannelOverride   string `json:"level_channel_override,omitempty"`
	JoinRoleOverride       string `json:"join_role_override,omitempty"`
	JoinRoleDisabled       bool   `json:"join_role_disabled,omitempty"`

	TicketRuntime TicketRuntime `json:"ticket_runtime"`
}

type TicketRuntime struct {
	LogChannelOverride      string `json:"log_channel_override,omitempty"`
	StaffRoleOverride       string `json:"staff_role_override,omitempty"`
	DiscordCategoryOverride string `json:"discord_category_override,omitempty"`
	BannerURLOverride       string `json:"banner_url_override,omitempty"`
	TicketCounter           int    `json:"ticket_counter"`
	// OpenTickets is keyed by channel id.
	OpenTickets map[string]Ticket `json:"open_tickets"`
}

type Ticket struct {
	ChannelID  string    `json:"channel_id"`
	UserID     string    `json:"user_id"`
	CategoryID string    `json:"category_id"`
	Reason     string    `json:"reason"`
	ClaimedBy  string    `json:"claimed_by,omitempty"`
	Number     int       `json:"number"`
	CreatedAt  time.Time `json:"created_at"`
}

func LoadGuildState(guildID string) *GuildState {
	_ = os.MkdirAll(GuildDataDir, 0755)
	path := filepath.Join(GuildDataDir, guildID+".json")

	gs := &GuildState{
		GuildID:  guildID,
		filePath: path,
		TicketRuntime: TicketRuntime{
			OpenTickets: make(map[string]Ticket),
		},
	}

	data, err := os.ReadFile(path)
	if err == nil {
		_ = json.Unmarshal(data, gs)
	}
	gs.filePath = path
	if gs.TicketRuntime.OpenTickets == nil {
		gs.TicketRuntime.OpenTickets = make(map[string]Ticket)
	}
	return gs
}

func (gs *GuildState) Save() error {
	gs.mu.RLock()
	defer gs.mu.RUnlock()
	data, err := json.MarshalIndent(gs, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(gs.filePath, data, 0644)
}

func (gs *GuildState) Lock()    { gs.mu.Lock() }
func (gs *GuildState) Unlock()  { gs.mu.Unlock() }
func (gs *GuildState) RLock()   { gs.mu.RLock() }
func (gs *GuildState) RUnlock() { gs.mu.RUnlock() }

// TicketsOf returns the open tickets owned by userID. Callers hold at least a read lock.
func (gs *GuildState) TicketsOf(userID string) []Ticket {
	var out []Ticket
	for _, t := range gs.TicketRuntime.OpenTickets {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out
}

// OpenTicket registers a new ticket and assigns it the next number. Callers hold the lock.
func (gs *GuildState) OpenTicket(t Ticket) Ticket {
	gs.TicketRuntime.TicketCounter++
	t.Number = gs.TicketRuntime.TicketCounter
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	gs.TicketRuntime.OpenTickets[t.ChannelID] = t
	return t
}

// CloseTicket removes the ticket bound to channelID. Callers hold the lock.
func (gs *GuildState) CloseTicket(channelID string) (Ticket, bool) {
	t, ok := gs.TicketRuntime.OpenTickets[channelID]
	if ok {
		delete(gs.TicketRuntime.OpenTickets, channelID)
	}
	return t, ok
}

func FindTicketCategory(cfg *Config, id string) (TicketCategory, bool) {
	for _, c := range cfg.Tickets.Categories {
		if c.ID == id {
			return c, true
		}
	}
	return TicketCategory{}, false
}

func EffectiveTicketLogChannel(cfg *Config, gs *GuildState) string {
	if gs.TicketRuntime.LogChannelOverride != "" {
		return gs.TicketRuntime.LogChannelOverride
	}
	if cfg.Tickets.LogChannel != "" {
		return cfg.Tickets.LogChannel
	}
	return EffectiveLogChannel(cfg, gs)
}

func EffectiveTicketStaffRole(cfg *Config, gs *GuildState) string {
	if gs.TicketRuntime.StaffRoleOverride != "" {
		return gs.TicketRuntime.StaffRoleOverride
	}
	return cfg.Tickets.StaffRole
}

func EffectiveTicketCategory(cfg *Config, gs *GuildState) string {
	if gs.TicketRuntime.DiscordCategoryOverride != "" {
		return gs.TicketRuntime.DiscordCategoryOverride
	}
	return cfg.Tickets.DiscordCategory
}

func EffectiveTicketBanner(cfg *Config, gs *GuildState) string {
	if gs.TicketRuntime.BannerURLOverride != "" {
		return gs.TicketRuntime.BannerURLOverride
	}
	return cfg.Tickets.BannerURL
}

func EffectiveLogChannel(cfg *Config, gs *GuildState) string {
	if gs.LogChannelOverride != "" {
		return gs.LogChannelOverride
	}
	return cfg.Moderation.LogChannel
}

func EffectiveWelcomeChannel(cfg *Config, gs *GuildState) string {
	if gs.WelcomeChannelOverride != "" {
		return gs.WelcomeChannelOverride
	}
	return cfg.Welcome.ChannelID
}

func EffectiveLeaveChannel(cfg *Config, gs *GuildState) string {
	if gs.LeaveChannelOverride != "" {
		return gs.LeaveChannelOverride
	}
	return cfg.Leave.ChannelID
}

func EffectiveLevelChannel(cfg *Config, gs *GuildState) string {
	if gs.LevelChannelOverride != "" {
		return gs.LevelChannelOverride
	}
	return cfg.Leveling.AnnounceChannel
}

// EffectiveJoinRole returns "" when no role should be assigned on join.
func EffectiveJoinRole(cfg *Config, gs *GuildState) string {
	if gs.JoinRoleDisabled {
		return ""
	}
	if gs.JoinRoleOverride != "" {
		return gs.JoinRoleOverride
	}
	if cfg.JoinRole.Enabled {
		return cfg.JoinRole.RoleID
	}
	return ""
}
