package clanwarden

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// Keycap emojis are a digit followed by U+FE0F U+20E3, which is how
// discord reports them in reaction events.
const (
	emojiTwo   = "2️⃣"
	emojiThree = "3️⃣"
	emojiFive  = "5️⃣"
	emojiSeven = "7️⃣"
	emojiTen   = "\U0001f51f"
	emojiCheck = "✅"
)

// emojiPointValues maps the scoring reaction emojis to point values.
// Any other emoji is ignored entirely.
var emojiPointValues = map[string]int{
	emojiTwo:   2,
	emojiThree: 3,
	emojiFive:  5,
	emojiSeven: 7,
	emojiTen:   10,
}

// basePointEmojis are pre-added to each forwarded submission so staff can
// score it with a single click.
var basePointEmojis = []string{
	emojiTwo,
	emojiThree,
	emojiFive,
	emojiSeven,
	emojiTen,
}

// mentionRe matches the user mention the bot writes into forwarded
// submission messages.
var mentionRe = regexp.MustCompile(`<@!?(\d+)>`)

// parseMentionID extracts the mentioned user ID from a forwarded
// submission's body. Returns an empty string if no mention is present.
func parseMentionID(content string) string {
	m := mentionRe.FindStringSubmatch(content)
	if m == nil {
		return ""
	}
	return m[1]
}

// processSubmissionReaction translates a reaction on a forwarded submission
// into a point mutation, then sends a confirmation message to the private
// submissions channel.
//
// Unparseable mentions, unrecognized emojis, and unknown users are all
// silent no-ops, not errors. A failed nickname annotation doesn't abort the
// balance update - by the time the nickname is touched, the new balance has
// already been persisted.
func (c *ClanWarden) processSubmissionReaction(
	ctx context.Context,
	reaction *discordgo.MessageReaction,
	action PointsAction,
) {
	ctx, logger := c.getLogger(ctx)

	msg, err := c.discord.session.ChannelMessage(
		reaction.ChannelID,
		reaction.MessageID,
	)
	if err != nil {
		logger.ErrorContext(
			ctx,
			"error fetching reacted-to message",
			tint.Err(err),
			"channel_id", reaction.ChannelID,
			"message_id", reaction.MessageID,
		)
		return
	}

	userID := parseMentionID(msg.Content)
	if userID == "" {
		logger.DebugContext(
			ctx,
			"no user mention in submission message",
			"message_id", reaction.MessageID,
		)
		return
	}

	pointValue, ok := emojiPointValues[reaction.Emoji.Name]
	if !ok {
		logger.DebugContext(
			ctx,
			"unrecognized scoring emoji",
			"emoji", reaction.Emoji.Name,
		)
		return
	}

	db := c.store()
	rec, err := db.GetUserRecord(ctx, userID)
	if err != nil {
		logger.ErrorContext(ctx, "error looking up user record", tint.Err(err))
		return
	}
	if rec == nil {
		// unknown users earn nothing, and that's not an error
		logger.DebugContext(ctx, "no user record for mention", "discord_id", userID)
		return
	}

	newPoints, err := ModifyPoints(ctx, db, rec, pointValue, action)
	if err != nil {
		logger.ErrorContext(ctx, "error modifying points", tint.Err(err), "user", rec)
		return
	}
	if newPoints == nil {
		return
	}
	logger.InfoContext(
		ctx,
		"points modified",
		"user", rec,
		"action", string(action),
		"delta", pointValue,
	)

	member, memberErr := c.discord.session.GuildMember(
		c.config.Discord.GuildID,
		userID,
	)
	if memberErr != nil {
		logger.WarnContext(
			ctx,
			"could not resolve guild member for nickname update",
			tint.Err(memberErr),
			"discord_id", userID,
		)
	} else if err = ModifyNicknamePoints(
		c.discord.session,
		c.config.Discord.GuildID,
		member,
		*newPoints,
	); err != nil {
		logger.ErrorContext(
			ctx,
			"error updating nickname points",
			tint.Err(err),
			"discord_id", userID,
		)
	}

	confirmation := fmt.Sprintf("<@%s> now has %d points", userID, *newPoints)
	if err = c.discord.channelMessageSend(
		c.config.Discord.Channels.PrivateSubmissions,
		confirmation,
	); err != nil {
		logger.ErrorContext(ctx, "error sending confirmation", tint.Err(err))
	}
}

// forwardSubmission re-posts a public drop submission to the private
// submissions channel, mentioning the author and linking the attachments,
// then pre-reacts with the scoring emojis.
func (c *ClanWarden) forwardSubmission(
	ctx context.Context,
	m *discordgo.MessageCreate,
) {
	ctx, logger := c.getLogger(ctx)

	if len(m.Attachments) == 0 {
		return
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("<@%s>", m.Author.ID))
	for _, attachment := range m.Attachments {
		sb.WriteString("\n")
		sb.WriteString(attachment.URL)
	}

	privateChannelID := c.config.Discord.Channels.PrivateSubmissions
	forwarded, err := c.discord.session.ChannelMessageSend(
		privateChannelID,
		sb.String(),
	)
	if err != nil {
		logger.ErrorContext(ctx, "error forwarding submission", tint.Err(err))
		return
	}

	if err = c.reactWithBasePoints(privateChannelID, forwarded.ID); err != nil {
		logger.ErrorContext(
			ctx,
			"error adding base point reactions",
			tint.Err(err),
			"message_id", forwarded.ID,
		)
	}
}

// reactWithBasePoints adds each scoring emoji to the given message.
func (c *ClanWarden) reactWithBasePoints(channelID string, messageID string) error {
	for _, emoji := range basePointEmojis {
		if err := c.discord.session.MessageReactionAdd(
			channelID,
			messageID,
			emoji,
		); err != nil {
			return err
		}
	}
	return nil
}
