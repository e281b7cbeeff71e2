package clanwarden

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const applicationChannelTopic = "application"

// ApplicationQuestions is the questionnaire sent to prospective members,
// one message per question, answered in the application channel.
var ApplicationQuestions = []string{
	"What is your OSRS username?",
	"What is your total level?",
	"How did you hear about the clan?",
	"What are your favorite activities in game (PvM, skilling, etc)?",
	"Do you know anyone already in the clan?",
	"What timezone are you in?",
}

var nonWordRe = regexp.MustCompile(`[\W_]`)

// sanitizeUsername strips non-word characters so a username can be
// embedded in a channel name and compared back against one.
func sanitizeUsername(username string) string {
	return strings.ToLower(nonWordRe.ReplaceAllString(username, ""))
}

// applicationSession tracks a questionnaire in progress in a single
// application channel.
type applicationSession struct {
	userID  string
	answers []string
}

// handleIntroReaction provisions an application channel when a prospective
// member reacts with ✅ in the intro channel. Members already holding any
// role can't apply again; either way the triggering reaction is removed so
// the intro message stays clean.
func (c *ClanWarden) handleIntroReaction(
	ctx context.Context,
	reaction *discordgo.MessageReaction,
) {
	ctx, logger := c.getLogger(ctx)

	if reaction.Emoji.Name != emojiCheck {
		return
	}

	defer func() {
		if err := c.discord.session.MessageReactionRemove(
			reaction.ChannelID,
			reaction.MessageID,
			emojiCheck,
			reaction.UserID,
		); err != nil {
			logger.WarnContext(ctx, "error removing intro reaction", tint.Err(err))
		}
	}()

	member, err := c.discord.session.GuildMember(
		c.config.Discord.GuildID,
		reaction.UserID,
	)
	if err != nil {
		logger.ErrorContext(ctx, "error fetching member", tint.Err(err))
		return
	}
	if len(member.Roles) > 0 {
		logger.InfoContext(
			ctx,
			"member already has roles, not creating application channel",
			"discord_id", reaction.UserID,
		)
		return
	}

	if err = c.createApplicationChannel(ctx, member.User); err != nil {
		logger.ErrorContext(
			ctx,
			"error creating application channel",
			tint.Err(err),
			"discord_id", reaction.UserID,
		)
	}
}

// createApplicationChannel creates a private text channel visible only to
// the applicant and the bot, and posts instructions for starting the
// questionnaire.
func (c *ClanWarden) createApplicationChannel(
	ctx context.Context,
	user *discordgo.User,
) error {
	guildID := c.config.Discord.GuildID
	overwrites := []*discordgo.PermissionOverwrite{
		{
			// @everyone shares its ID with the guild
			ID:   guildID,
			Type: discordgo.PermissionOverwriteTypeRole,
			Deny: discordgo.PermissionViewChannel,
		},
		{
			ID:    user.ID,
			Type:  discordgo.PermissionOverwriteTypeMember,
			Allow: discordgo.PermissionViewChannel | discordgo.PermissionSendMessages,
		},
	}
	if c.config.Discord.ApplicationID != "" {
		overwrites = append(
			overwrites, &discordgo.PermissionOverwrite{
				ID:    c.config.Discord.ApplicationID,
				Type:  discordgo.PermissionOverwriteTypeMember,
				Allow: discordgo.PermissionViewChannel | discordgo.PermissionSendMessages,
			},
		)
	}

	channel, err := c.discord.session.GuildChannelCreateComplex(
		guildID,
		discordgo.GuildChannelCreateData{
			Name:                 fmt.Sprintf("application-%s", sanitizeUsername(user.Username)),
			Type:                 discordgo.ChannelTypeGuildText,
			Topic:                applicationChannelTopic,
			PermissionOverwrites: overwrites,
		},
	)
	if err != nil {
		return fmt.Errorf("error creating application channel: %w", err)
	}

	return c.discord.channelMessageSend(
		channel.ID,
		fmt.Sprintf(
			"Welcome <@%s>! Send `!apply` here when you're ready to start your application.",
			user.ID,
		),
	)
}

// applicationChannelForAuthor reports whether the given channel is an
// application channel belonging to the message author.
func applicationChannelForAuthor(
	channel *discordgo.Channel,
	author *discordgo.User,
) bool {
	if channel == nil || channel.Topic != applicationChannelTopic {
		return false
	}
	_, suffix, found := strings.Cut(channel.Name, "-")
	if !found {
		return false
	}
	return strings.ReplaceAll(suffix, "-", "") == sanitizeUsername(author.Username)
}

// handleApplicationMessage advances the questionnaire in an application
// channel: `!apply` starts it, and each subsequent message is recorded as
// the answer to the current question. When the last question is answered,
// the completed application is posted to the awaiting-approval channel.
func (c *ClanWarden) handleApplicationMessage(
	ctx context.Context,
	m *discordgo.MessageCreate,
	channel *discordgo.Channel,
) {
	ctx, logger := c.getLogger(ctx)

	if !applicationChannelForAuthor(channel, m.Author) {
		return
	}

	c.applicationMu.Lock()
	defer c.applicationMu.Unlock()

	session, inProgress := c.applications[m.ChannelID]

	if strings.TrimSpace(m.Content) == "!apply" {
		if inProgress {
			return
		}
		c.applications[m.ChannelID] = &applicationSession{userID: m.Author.ID}
		intro := fmt.Sprintf(
			"Great! I will now send you a series of %d questions. "+
				"Please respond to each one in a single message.",
			len(ApplicationQuestions),
		)
		if err := c.discord.channelMessageSend(m.ChannelID, intro); err != nil {
			logger.ErrorContext(ctx, "error sending application intro", tint.Err(err))
			delete(c.applications, m.ChannelID)
			return
		}
		if err := c.discord.channelMessageSend(
			m.ChannelID,
			ApplicationQuestions[0],
		); err != nil {
			logger.ErrorContext(ctx, "error sending first question", tint.Err(err))
		}
		return
	}

	if !inProgress || session.userID != m.Author.ID {
		return
	}

	session.answers = append(session.answers, m.Content)
	if len(session.answers) < len(ApplicationQuestions) {
		if err := c.discord.channelMessageSend(
			m.ChannelID,
			ApplicationQuestions[len(session.answers)],
		); err != nil {
			logger.ErrorContext(ctx, "error sending next question", tint.Err(err))
		}
		return
	}

	delete(c.applications, m.ChannelID)

	if err := c.discord.channelMessageSend(
		m.ChannelID,
		"That's everything! Your application has been submitted for review.",
	); err != nil {
		logger.ErrorContext(ctx, "error sending application outro", tint.Err(err))
	}

	approvalChannelID := c.config.Discord.Channels.AwaitingApproval
	if approvalChannelID == "" {
		return
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Application from <@%s>:", m.Author.ID))
	for i, question := range ApplicationQuestions {
		sb.WriteString(fmt.Sprintf("\n**%s**\n%s", question, session.answers[i]))
	}
	for _, chunk := range splitMessage(sb.String(), discordMaxMessageLength) {
		if err := c.discord.channelMessageSend(approvalChannelID, chunk); err != nil {
			logger.ErrorContext(ctx, "error forwarding application", tint.Err(err))
			return
		}
	}
}
