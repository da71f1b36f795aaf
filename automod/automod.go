// Package automod installs and maintains the bot's Discord AutoMod rules.
//
// Rules are sent as raw JSON because discordgo's typed rule structs have no
// member-profile trigger, no custom block message and no
// block-member-interaction action.
package automod

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// Trigger, event and action codes of the AutoMod API.
const (
	eventMessageSend  = 1
	eventMemberUpdate = 2

	triggerKeyword       = 1
	triggerSpam          = 3
	triggerKeywordPreset = 4
	triggerMentionSpam   = 5
	triggerMemberProfile = 6

	actionBlockMessage     = 1
	actionSendAlert        = 2
	actionTimeout          = 3
	actionBlockInteraction = 4
)

// KeywordBlocks are the keyword rules, one rule per block.
var KeywordBlocks = [][]string{
	{"idiot", "imbecile", "moron", "dumbass", "jackass", "stfu", "wtf", "shit", "bullshit", "asshole"},
	{"*retard*", "*faggot*", "*tranny*", "*monkey*", "*gypsy*", "*n1gg*"},
	{"*i will kill you*", "*gonna kill you*", "*blow up*", "*shoot up*"},
	{"discord.gg/*", "*discordapp.com/invite*", "bit.ly/*", "tinyurl.com/*", "*free nitro*"},
	{"*porn*", "*nude*", "*nudes*", "*leaks*", "onlyfans.com/*"},
	{"*win nitro*", "*free robux*", "*claim now*", "*click here*", "*exclusive giveaway*"},
}

// ProfileKeywords block members whose name or bio match.
var ProfileKeywords = []string{"*porn*", "*nude*", "*hack*", "*nazi*", "*shit*", "*fuck*", "*retard*", "*onlyfans*"}

// Rule is a rule creation payload.
type Rule struct {
	Name            string                 `json:"name"`
	EventType       int                    `json:"event_type"`
	TriggerType     int                    `json:"trigger_type"`
	TriggerMetadata map[string]interface{} `json:"trigger_metadata,omitempty"`
	Actions         []Action               `json:"actions"`
	Enabled         bool                   `json:"enabled"`
}

type Action struct {
	Type     int                    `json:"type"`
	Metadata map[string]interface{} `json:"metadata"`
}

func blockWith(msg string) Action {
	return Action{Type: actionBlockMessage, Metadata: map[string]interface{}{"custom_message": msg}}
}

// DefaultRules builds the bot rule set. Rule names start with prefix; every
// message rule also alerts alertChannel when it is set.
func DefaultRules(prefix, alertChannel string) []Rule {
	var rules []Rule
	for i, words := range KeywordBlocks {
		rules = append(rules, Rule{
			Name:            fmt.Sprintf("%s Blocked words #%d", prefix, i+1),
			EventType:       eventMessageSend,
			TriggerType:     triggerKeyword,
			TriggerMetadata: map[string]interface{}{"keyword_filter": words},
			Actions:         []Action{blockWith("Your message was blocked because it contains forbidden content.")},
			Enabled:         true,
		})
	}

	rules = append(rules,
		Rule{
			Name:        prefix + " Anti-Mention Spam",
			EventType:   eventMessageSend,
			TriggerType: triggerMentionSpam,
			TriggerMetadata: map[string]interface{}{
				"mention_total_limit":             5,
				"mention_raid_protection_enabled": true,
			},
			Actions: []Action{
				blockWith("Too many mentions in a single message."),
				{Type: actionTimeout, Metadata: map[string]interface{}{"duration_seconds": 600}},
			},
			Enabled: true,
		},
		Rule{
			Name:        prefix + " Anti-Spam",
			EventType:   eventMessageSend,
			TriggerType: triggerSpam,
			Actions:     []Action{blockWith("Message flagged as spam.")},
			Enabled:     true,
		},
		Rule{
			Name:            prefix + " Explicit Content (Preset)",
			EventType:       eventMessageSend,
			TriggerType:     triggerKeywordPreset,
			TriggerMetadata: map[string]interface{}{"presets": []int{1, 2, 3}},
			Actions:         []Action{blockWith("This content is not allowed on this server.")},
			Enabled:         true,
		},
		Rule{
			Name:            prefix + " Inappropriate Profile",
			EventType:       eventMemberUpdate,
			TriggerType:     triggerMemberProfile,
			TriggerMetadata: map[string]interface{}{"keyword_filter": ProfileKeywords},
			Actions:         []Action{{Type: actionBlockInteraction, Metadata: map[string]interface{}{}}},
			Enabled:         true,
		},
	)

	if alertChannel != "" {
		for i := range rules {
			if rules[i].EventType != eventMessageSend {
				continue
			}
			rules[i].Actions = append(rules[i].Actions, Action{
				Type:     actionSendAlert,
				Metadata: map[string]interface{}{"channel_id": alertChannel},
			})
		}
	}
	return rules
}

// API is the part of the discordgo session the service needs.
type API interface {
	AutoModerationRules(guildID string, options ...discordgo.RequestOption) ([]*discordgo.AutoModerationRule, error)
	AutoModerationRuleDelete(guildID, ruleID string, options ...discordgo.RequestOption) error
	RequestWithBucketID(method, urlStr string, data interface{}, bucketID string, options ...discordgo.RequestOption) ([]byte, error)
}

type Service struct {
	api    API
	prefix string
	// ResetPause is the wait between deleting and recreating rules.
	ResetPause time.Duration
}

func NewService(api API, prefix string) *Service {
	return &Service{api: api, prefix: prefix, ResetPause: 2 * time.Second}
}

// Status lists the bot's rule names and the total rule count of the guild.
func (s *Service) Status(guildID string) (botRules []string, total int, err error) {
	rules, err := s.api.AutoModerationRules(guildID)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch automod rules: %w", err)
	}
	for _, r := range rules {
		if strings.HasPrefix(r.Name, s.prefix) {
			botRules = append(botRules, r.Name)
		}
	}
	return botRules, len(rules), nil
}

// Create posts every default rule and counts successes and failures.
func (s *Service) Create(ctx context.Context, guildID, alertChannel string) (created, failed int) {
	endpoint := discordgo.EndpointGuildAutoModerationRules(guildID)
	for _, rule := range DefaultRules(s.prefix, alertChannel) {
		if ctx.Err() != nil {
			failed++
			continue
		}
		_, err := s.api.RequestWithBucketID(http.MethodPost, endpoint, rule, endpoint,
			discordgo.WithAuditLogReason("AutoMod setup by bot"), discordgo.WithContext(ctx))
		if err != nil {
			slog.Warn("automod rule creation failed", "guild_id", guildID, "rule", rule.Name, tint.Err(err))
			failed++
			continue
		}
		created++
	}
	return created, failed
}

// Reset deletes the bot's rules, waits ResetPause and recreates them.
func (s *Service) Reset(ctx context.Context, guildID, alertChannel string) (deleted, created, failed int, err error) {
	rules, err := s.api.AutoModerationRules(guildID)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("fetch automod rules: %w", err)
	}
	for _, r := range rules {
		if !strings.HasPrefix(r.Name, s.prefix) {
			continue
		}
		if err := s.api.AutoModerationRuleDelete(guildID, r.ID, discordgo.WithAuditLogReason("AutoMod reset by bot")); err != nil {
			slog.Warn("automod rule delete failed", "guild_id", guildID, "rule", r.Name, tint.Err(err))
			continue
		}
		deleted++
	}

	select {
	case <-ctx.Done():
		return deleted, 0, 0, ctx.Err()
	case <-time.After(s.ResetPause):
	}

	created, failed = s.Create(ctx, guildID, alertChannel)
	return deleted, created, failed, nil
}
