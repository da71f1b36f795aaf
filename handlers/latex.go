package handlers

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"modbot/latex"
	"modbot/storage"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const renderTimeout = 15 * time.Second

func latexCommands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        "latex",
			Description: "Render a LaTeX expression",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionString, Name: "expression", Description: "Expression, without delimiters", Required: true, MaxLength: 1000},
			},
		},
	}
}

func renderFiles(ctx context.Context, exprs []string) ([]*discordgo.File, []error) {
	var (
		files []*discordgo.File
		errs  []error
	)
	for n, expr := range exprs {
		img, err := renderer.Render(ctx, expr)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		files = append(files, &discordgo.File{
			Name:        fmt.Sprintf("latex-%d.png", n+1),
			ContentType: "image/png",
			Reader:      bytes.NewReader(img),
		})
	}
	return files, errs
}

func handleLatexMessage(s Session, m *discordgo.MessageCreate) {
	if renderer == nil {
		return
	}
	exprs := latex.Detect(m.Content, storage.Cfg.Latex.MaxExpressions)
	if len(exprs) == 0 {
		return
	}
	if !latexLimits.Allow(m.Author.ID) {
		slog.Debug("latex render throttled", "user_id", m.Author.ID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), renderTimeout)
	defer cancel()
	files, errs := renderFiles(ctx, exprs)
	for _, err := range errs {
		slog.Warn("latex render failed", tint.Err(err), "channel_id", m.ChannelID)
	}

	send := &discordgo.MessageSend{
		Files:           files,
		Reference:       m.Reference(),
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}
	if len(files) == 0 {
		send.Embeds = []*discordgo.MessageEmbed{errorEmbed("LaTeX", "I couldn't render that expression.")}
	}
	if _, err := s.ChannelMessageSendComplex(m.ChannelID, send); err != nil {
		slog.Warn("failed to send latex render", tint.Err(err), "channel_id", m.ChannelID)
	}
}

func handleLatexCommand(s Session, i *discordgo.InteractionCreate) {
	expr := optStr(optionMap(i), "expression", "")
	if expr == "" {
		replyError(s, i, "Give me an expression to render.")
		return
	}
	if !latexLimits.Allow(invoker(i).ID) {
		replyError(s, i, "You're rendering too fast, try again in a few seconds.")
		return
	}

	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	}); err != nil {
		slog.Warn("failed to defer latex", tint.Err(err), "guild_id", i.GuildID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), renderTimeout)
	defer cancel()
	files, errs := renderFiles(ctx, []string{expr})
	if len(files) == 0 {
		if len(errs) > 0 {
			slog.Warn("latex render failed", tint.Err(errs[0]), "guild_id", i.GuildID)
		}
		followupEmbed(s, i, errorEmbed("LaTeX", "I couldn't render that expression."))
		return
	}

	if _, err := s.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
		Content: fmt.Sprintf("`%s`", truncate(expr, 1900)),
		Files:   files,
	}); err != nil {
		slog.Warn("failed to send latex render", tint.Err(err), "guild_id", i.GuildID)
	}
}
