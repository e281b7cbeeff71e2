package clanwarden

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	DiscordSlashCommandPoints = "points"
)

// commandHandler executes a single slash command.
type commandHandler func(
	ctx context.Context,
	cw *ClanWarden,
	i *discordgo.InteractionCreate,
)

// commandHandlers is the static slash-command registration table. Commands
// are registered by bulk overwrite at startup and dispatched by name; no
// runtime discovery.
var commandHandlers = map[string]commandHandler{
	DiscordSlashCommandPoints: commandPoints,
}

// appCommandPoints creates the ApplicationCommand definition for the
// "points" command.
func appCommandPoints() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandPoints,
		Type:        discordgo.ChatApplicationCommand,
		Description: "Check your current clan point balance",
	}
}

// registerCommands sends the bot's commands to the discord bulk overwrite
// endpoint
func (d *Discord) registerCommands(
	options ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	commands := []*discordgo.ApplicationCommand{
		appCommandPoints(),
	}

	created, err := d.session.ApplicationCommandBulkOverwrite(
		d.config.ApplicationID,
		d.config.GuildID,
		commands,
		options...,
	)
	if err != nil {
		d.logger.Error("error overwriting discord commands", tint.Err(err))
		return created, err
	}
	for _, c := range created {
		d.logger.Info("Created command", "command_name", c.Name)
	}
	return created, nil
}

// handleInteractionCreate dispatches a slash command to its registered
// handler. Unknown commands are logged and dropped.
func (c *ClanWarden) handleInteractionCreate(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) {
	ctx, logger := c.getLogger(ctx)

	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	name := i.ApplicationCommandData().Name
	handler, ok := commandHandlers[name]
	if !ok {
		logger.WarnContext(ctx, "no handler for command", "command_name", name)
		return
	}
	handler(ctx, c, i)
}

// respondEphemeral sends a plain-text interaction response only the
// invoking user can see.
func (c *ClanWarden) respondEphemeral(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	content string,
) {
	_, logger := c.getLogger(ctx)
	err := c.discord.session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: content,
				Flags:   discordgo.MessageFlagsEphemeral,
			},
		},
	)
	if err != nil {
		logger.ErrorContext(ctx, "error responding to interaction", tint.Err(err))
	}
}

// commandPoints reports the invoking member's current point balance.
func commandPoints(
	ctx context.Context,
	cw *ClanWarden,
	i *discordgo.InteractionCreate,
) {
	ctx, logger := cw.getLogger(ctx)

	user := getDiscordUser(i)
	if user == nil {
		logger.WarnContext(ctx, "couldn't find user in interaction")
		return
	}
	rec, err := cw.store().GetUserRecord(ctx, user.ID)
	if err != nil {
		logger.ErrorContext(ctx, "error looking up user record", tint.Err(err))
		cw.respondEphemeral(ctx, i, "Sorry, something went wrong!")
		return
	}
	if rec == nil {
		cw.respondEphemeral(ctx, i, "You don't have a points record yet.")
		return
	}
	cw.respondEphemeral(
		ctx,
		i,
		fmt.Sprintf("You have %d points.", rec.Points),
	)
}
