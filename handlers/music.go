package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"modbot/lang"
	"modbot/music"
	"modbot/storage"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

var MusicMgr *music.Manager

const (
	resolveTimeout = 30 * time.Second
	queuePageSize  = 15
)

func musicCommands() []*discordgo.ApplicationCommand {
	minVol, maxVol := float64(0), float64(100)
	return []*discordgo.ApplicationCommand{
		{
			Name: "play", Description: "Play a song or add it to the queue",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionString, Name: "query", Description: "Song name or URL", Required: true},
			},
		},
		{Name: "skip", Description: "Skip the current song"},
		{Name: "stop", Description: "Stop playback and clear the queue"},
		{Name: "queue", Description: "Show the current song queue"},
		{
			Name: "volume", Description: "Set the playback volume",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionInteger, Name: "level", Description: "Volume 0-100", Required: true, MinValue: &minVol, MaxValue: maxVol},
			},
		},
		{Name: "nowplaying", Description: "Show the currently playing song"},
		{Name: "pause", Description: "Pause playback"},
		{Name: "resume", Description: "Resume playback"},
	}
}

func handleMusicCommand(s Session, i *discordgo.InteractionCreate) {
	if !storage.Cfg.Music.Enabled {
		replyError(s, i, lang.T("music_disabled"))
		return
	}
	if MusicMgr == nil {
		replyError(s, i, lang.T("music_init_failed"))
		return
	}

	switch i.ApplicationCommandData().Name {
	case "play":
		handlePlay(s, i)
	case "skip":
		handleSkip(s, i)
	case "stop":
		handleStop(s, i)
	case "queue":
		handleQueue(s, i)
	case "volume":
		handleVolume(s, i)
	case "nowplaying":
		handleNowPlaying(s, i)
	case "pause":
		handlePauseResume(s, i, true)
	case "resume":
		handlePauseResume(s, i, false)
	}
}

func musicEmbed(title, description string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       colorMusic,
		Timestamp:   now(),
	}
}

func handlePlay(s Session, i *discordgo.InteractionCreate) {
	query := optStr(optionMap(i), "query", "")
	if query == "" {
		replyError(s, i, lang.T("music_song_not_found", "error", "empty query"))
		return
	}
	user := invoker(i)
	cfg := storage.Cfg.Music

	voiceChID := MusicMgr.VoiceChannelOf(i.GuildID, user.ID)
	if voiceChID == "" {
		replyError(s, i, lang.T("music_not_in_vc"))
		return
	}

	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	}); err != nil {
		slog.Warn("failed to defer play", tint.Err(err), "guild_id", i.GuildID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
	defer cancel()
	song, err := MusicMgr.ResolveSong(ctx, query)
	if err != nil {
		slog.Info("song lookup failed", tint.Err(err), "guild_id", i.GuildID, "query", query)
		followupEmbed(s, i, errorEmbed(lang.T("error_title"), lang.T("music_song_not_found", "error", err.Error())))
		return
	}

	if cfg.MaxSongDuration > 0 && song.Duration > cfg.MaxSongDuration {
		followupEmbed(s, i, errorEmbed(lang.T("error_title"), lang.T("music_song_too_long",
			"duration", song.Length(),
			"max_duration", music.FormatSeconds(cfg.MaxSongDuration),
		)))
		return
	}

	song.AddedBy = user.Username
	song.AddedByID = user.ID

	player := MusicMgr.GetPlayer(i.GuildID)
	if err := player.JoinChannel(voiceChID); err != nil {
		slog.Warn("failed to join voice", tint.Err(err), "guild_id", i.GuildID, "channel_id", voiceChID)
		followupEmbed(s, i, errorEmbed(lang.T("error_title"), lang.T("music_vc_join_failed", "error", err.Error())))
		return
	}

	pos, err := player.Enqueue(song)
	if err != nil {
		msg := err.Error()
		if errors.Is(err, music.ErrQueueFull) {
			msg = fmt.Sprintf("%d/%d", len(player.State().Queue), cfg.MaxQueueSize)
		}
		followupEmbed(s, i, errorEmbed(lang.T("error_title"), lang.T("music_queue_full", "error", msg)))
		return
	}

	if !player.State().Playing {
		player.PlayNext()
		sendMusicFollowup(s, i, musicEmbed(lang.T("music_now_playing_title"), lang.T("music_now_playing_desc",
			"title", song.Title,
			"url", song.URL,
			"duration", song.Length(),
			"added_by", song.AddedBy,
			"backend", MusicMgr.BackendName(),
		)))
		return
	}
	sendMusicFollowup(s, i, musicEmbed(lang.T("music_added_to_queue_title"), lang.T("music_added_to_queue_desc",
		"title", song.Title,
		"url", song.URL,
		"duration", song.Length(),
		"position", fmt.Sprint(pos),
		"added_by", song.AddedBy,
	)))
}

// sendMusicFollowup posts a public followup; play results are visible to the channel.
func sendMusicFollowup(s Session, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) {
	if _, err := s.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
		Embeds: []*discordgo.MessageEmbed{embed},
	}); err != nil {
		slog.Warn("failed to send music followup", tint.Err(err), "guild_id", i.GuildID)
	}
}

func handleSkip(s Session, i *discordgo.InteractionCreate) {
	if !isDJ(s, i) {
		replyError(s, i, lang.T("music_dj_required_skip"))
		return
	}
	player := MusicMgr.GetPlayer(i.GuildID)
	if !player.State().Playing {
		replyError(s, i, lang.T("music_nothing_playing"))
		return
	}

	if skipped := player.Skip(); skipped != nil {
		respondEmbed(s, i, musicEmbed("⏭️", lang.T("music_skipped_title", "title", skipped.Title)), false)
		return
	}
	respondEmbed(s, i, musicEmbed("⏭️", lang.T("music_skipped")), false)
}

func handleStop(s Session, i *discordgo.InteractionCreate) {
	if !isDJ(s, i) {
		replyError(s, i, lang.T("music_dj_required_stop"))
		return
	}
	MusicMgr.GetPlayer(i.GuildID).Stop()
	respondEmbed(s, i, musicEmbed("⏹️", lang.T("music_stopped")), false)
}

// queueText renders the now-playing line, up to queuePageSize entries and the footer.
func queueText(st music.PlayerState, backend string) string {
	var sb strings.Builder
	if np := st.NowPlaying; np != nil {
		sb.WriteString(lang.T("music_queue_now_playing",
			"title", np.Title,
			"url", np.URL,
			"duration", np.Length(),
			"added_by", np.AddedBy,
		))
	} else {
		sb.WriteString(lang.T("music_queue_nothing"))
	}

	if len(st.Queue) == 0 {
		sb.WriteString(lang.T("music_queue_empty"))
	} else {
		sb.WriteString(lang.T("music_queue_header", "count", fmt.Sprint(len(st.Queue))))
		for idx, song := range st.Queue {
			if idx == queuePageSize {
				sb.WriteString(lang.T("music_queue_more", "count", fmt.Sprint(len(st.Queue)-queuePageSize)))
				break
			}
			sb.WriteString(lang.T("music_queue_entry",
				"pos", fmt.Sprint(idx+1),
				"title", song.Title,
				"url", song.URL,
				"duration", song.Length(),
				"added_by", song.AddedBy,
			))
		}
	}

	sb.WriteString(lang.T("music_queue_footer",
		"volume", fmt.Sprint(st.Volume),
		"backend", backend,
	))
	return sb.String()
}

func handleQueue(s Session, i *discordgo.InteractionCreate) {
	st := MusicMgr.GetPlayer(i.GuildID).State()
	respondEmbed(s, i, musicEmbed(lang.T("music_queue_embed_title"), queueText(st, MusicMgr.BackendName())), true)
}

func handleVolume(s Session, i *discordgo.InteractionCreate) {
	if !isDJ(s, i) {
		replyError(s, i, lang.T("music_dj_required_vol"))
		return
	}
	level := int(optInt(optionMap(i), "level", 100))
	if level < 0 {
		level = 0
	}
	if level > 100 {
		level = 100
	}

	MusicMgr.GetPlayer(i.GuildID).SetVolume(level)
	respondEmbed(s, i, musicEmbed("🔊", lang.T("music_volume_set", "level", fmt.Sprint(level))), false)
}

func handleNowPlaying(s Session, i *discordgo.InteractionCreate) {
	st := MusicMgr.GetPlayer(i.GuildID).State()
	np := st.NowPlaying
	if np == nil {
		replyError(s, i, lang.T("music_nothing_playing"))
		return
	}

	respondEmbed(s, i, musicEmbed(lang.T("music_nowplaying_embed_title"), lang.T("music_nowplaying_embed_desc",
		"title", np.Title,
		"url", np.URL,
		"duration", np.Length(),
		"volume", fmt.Sprint(st.Volume),
		"added_by", np.AddedBy,
		"backend", MusicMgr.BackendName(),
	)), false)
}

func handlePauseResume(s Session, i *discordgo.InteractionCreate, pause bool) {
	player := MusicMgr.GetPlayer(i.GuildID)
	if !player.SetPaused(pause) {
		if pause {
			replyError(s, i, lang.T("music_nothing_to_pause"))
		} else {
			replyError(s, i, lang.T("music_not_paused"))
		}
		return
	}

	if pause {
		respondEmbed(s, i, musicEmbed("⏸️", lang.T("music_paused")), false)
		return
	}
	respondEmbed(s, i, musicEmbed("▶️", lang.T("music_resumed")), false)
}
