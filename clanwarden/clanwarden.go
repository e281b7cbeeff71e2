package clanwarden

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

var (
	// When building, set these like:
	// -ldflags "-X github.com/Nallieheai/clanwarden/clanwarden.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

var (
	defaultLogWriter io.Writer = os.Stdout
)

func tintHandler(level slog.Leveler) slog.Handler {
	return tint.NewHandler(
		defaultLogWriter,
		&tint.Options{
			Level:     level,
			AddSource: true,
		},
	)
}

// ClanWarden is the main application struct: all core components are
// constructed once in New and passed by handle into every handler and
// job - no package-level client state.
type ClanWarden struct {
	config *Config

	// gorm.DB wrapper for database operations. When using sqlite, writes
	// are serialized behind a mutex.
	writeDB DBI

	// protects writeDB during a lazy reconnect
	dbMu sync.Mutex

	// Standard logger. Missing loggers will try to use this,
	// and fall back to slog.Default()
	logger *slog.Logger

	// Handler to use for the above
	logHandler slog.Handler

	// Handles discord integration, sessions
	discord *Discord

	// Runs the daily reporting jobs
	reporter *Reporter

	// Provides the read-only status API
	api *API

	// Tenure and points tier tables, built once from config
	timeTiers   []TimeTier
	pointsTiers []PointsTier

	// In-flight application questionnaires, keyed by channel ID
	applications  map[string]*applicationSession
	applicationMu sync.Mutex

	// signalStop enables an explicit stop signal to be sent to the bot
	signalStop chan struct{}

	// signalReady has a value sent on it once startup completes
	signalReady chan struct{}

	// A signal is sent on this channel when shutdown has finished
	eventShutdown chan struct{}

	// prevents Run from executing concurrently
	runMu sync.Mutex

	// The time Run was called
	startedAt time.Time

	wg sync.WaitGroup
}

// New creates a ClanWarden instance from the given config. The instance
// isn't live until Run is called.
func New(config *Config) (*ClanWarden, error) {
	if config == nil {
		return nil, errors.New("nil config")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	logHandler := tintHandler(config.LogLevel)
	logger := slog.New(logHandler).With(loggerNameKey, "clanwarden")

	c := &ClanWarden{
		config:        config,
		logger:        logger,
		logHandler:    logHandler,
		timeTiers:     NewTimeTiers(config.Discord.Roles),
		pointsTiers:   NewPointsTiers(config.Discord.Roles),
		applications:  map[string]*applicationSession{},
		signalStop:    make(chan struct{}, 1),
		signalReady:   make(chan struct{}, 1),
		eventShutdown: make(chan struct{}, 1),
	}

	discord, err := newDiscord(config.Discord)
	if err != nil {
		return nil, err
	}
	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     config.Discord.DiscordGoLogLevel,
				AddSource: true,
			},
		).WithAttrs([]slog.Attr{slog.String(loggerNameKey, "discordgo")}),
	)
	discord.logger = slog.New(
		tintHandler(config.Discord.LogLevel),
	).With(loggerNameKey, "discord")
	discord.cw = c
	c.discord = discord

	c.reporter = newReporter(c)
	c.api = newAPI(c, config.API)

	return c, nil
}

func (c *ClanWarden) getLogger(ctx context.Context) (
	context.Context,
	*slog.Logger,
) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = c.logger
		ctx = WithLogger(ctx, logger)
	}
	return ctx, logger
}

// initDB opens and migrates the database, replacing the current handles.
func (c *ClanWarden) initDB(ctx context.Context) error {
	db, err := CreateDB(ctx, c.config.DatabaseType, c.config.Database)
	if err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}
	c.dbMu.Lock()
	defer c.dbMu.Unlock()
	c.writeDB = NewDatabase(
		db,
		c.logger,
		c.config.DatabaseType != dbTypeSQLite,
	)
	return nil
}

// store returns the current database handle. Reads go through here so a
// concurrent reconnect can't swap the handle mid-read.
func (c *ClanWarden) store() DBI {
	c.dbMu.Lock()
	defer c.dbMu.Unlock()
	return c.writeDB
}

// ensureDB verifies the store is reachable, lazily reconnecting when the
// connection has gone away since the last use.
func (c *ClanWarden) ensureDB(ctx context.Context) error {
	db := c.store()
	if db == nil {
		return c.initDB(ctx)
	}
	if err := db.Ping(ctx); err != nil {
		c.logger.WarnContext(
			ctx,
			"store connection lost, reconnecting",
			tint.Err(err),
		)
		return c.initDB(ctx)
	}
	return nil
}

// Run starts the bot and blocks until the given context is cancelled or an
// explicit stop signal is received. Gateway handlers are each registered
// exactly once, here, and routed by event type.
func (c *ClanWarden) Run(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	c.startedAt = time.Now()
	logger := c.logger
	logger.Info(
		"starting",
		"version", Version,
		"config", c.config,
	)

	startupCtx, startupCancel := context.WithTimeout(ctx, c.config.StartupTimeout)
	defer startupCancel()

	if err := c.initDB(startupCtx); err != nil {
		return err
	}

	session, err := c.discord.newSession()
	if err != nil {
		return err
	}
	c.discord.session = session

	handlerCtx := WithLogger(context.Background(), logger)
	c.discord.discordgoRemoveHandlerFuncs = []func(){
		session.AddHandler(c.discord.handlerReady()),
		session.AddHandler(c.discord.handlerConnect()),
		session.AddHandler(c.discord.handlerDisconnect()),
		session.AddHandler(
			func(_ *discordgo.Session, m *discordgo.MessageCreate) {
				go c.handleMessageCreate(handlerCtx, m)
			},
		),
		session.AddHandler(
			func(_ *discordgo.Session, r *discordgo.MessageReactionAdd) {
				go c.handleReactionAdd(handlerCtx, r)
			},
		),
		session.AddHandler(
			func(_ *discordgo.Session, r *discordgo.MessageReactionRemove) {
				go c.handleReactionRemove(handlerCtx, r)
			},
		),
		session.AddHandler(
			func(_ *discordgo.Session, m *discordgo.GuildMemberAdd) {
				go c.handleMemberAdd(handlerCtx, m)
			},
		),
		session.AddHandler(
			func(_ *discordgo.Session, m *discordgo.GuildMemberRemove) {
				go c.handleMemberRemove(handlerCtx, m)
			},
		),
		session.AddHandler(
			func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
				go c.handleInteractionCreate(handlerCtx, i)
			},
		),
	}

	if err = session.Open(); err != nil {
		return fmt.Errorf("error opening discord session: %w", err)
	}

	if c.config.Discord.ApplicationID != "" {
		if _, err = c.discord.registerCommands(); err != nil {
			logger.Error("error registering commands", tint.Err(err))
		}
	}

	if c.config.API != nil && c.config.API.Enabled {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			if apiErr := c.api.Serve(ctx); apiErr != nil {
				logger.Error("api server stopped", tint.Err(apiErr))
			}
		}()
	}

	err = c.startScheduler(
		ctx,
		[]scheduledJob{
			{
				name: "time_rank_report",
				at:   c.config.Reports.TimeRankAt,
				run:  c.reporter.ReportTimeRankUps,
			},
			{
				name: "points_rank_report",
				at:   c.config.Reports.PointsRankAt,
				run:  c.reporter.ReportPointsRankUps,
			},
			{
				name: "not_in_clan_report",
				at:   c.config.Reports.NotInClanAt,
				run:  c.reporter.ReportNotInClan,
			},
			{
				name: "user_csv_extract",
				at:   c.config.Reports.UserExtractAt,
				run:  c.reporter.ExtractUserCSV,
			},
			{
				name: "nickname_csv_extract",
				at:   c.config.Reports.NicknameExtractAt,
				run:  c.reporter.ExtractNicknameCSV,
			},
		},
	)
	if err != nil {
		_ = session.Close()
		return err
	}

	logger.Info("ready")
	select {
	case c.signalReady <- struct{}{}:
	default:
	}

	select {
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	case <-c.signalStop:
		logger.Info("stop signal received, shutting down")
	}

	c.shutdown()
	return nil
}

// Stop signals a running bot to shut down.
func (c *ClanWarden) Stop() {
	select {
	case c.signalStop <- struct{}{}:
	default:
	}
}

func (c *ClanWarden) shutdown() {
	logger := c.logger

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		c.config.ShutdownTimeout,
	)
	defer cancel()

	for _, removeHandler := range c.discord.discordgoRemoveHandlerFuncs {
		removeHandler()
	}
	if err := c.discord.session.Close(); err != nil {
		logger.Error("error closing discord session", tint.Err(err))
	}
	c.api.Shutdown(shutdownCtx)

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out")
	}

	select {
	case c.eventShutdown <- struct{}{}:
	default:
	}
}

// handleMessageCreate routes inbound guild messages: public submission
// channels are forwarded for scoring, application channels advance the
// questionnaire, everything else is ignored.
func (c *ClanWarden) handleMessageCreate(
	ctx context.Context,
	m *discordgo.MessageCreate,
) {
	ctx, logger := c.getLogger(ctx)

	if m.Author == nil || m.Author.Bot {
		return
	}
	if m.GuildID != "" && m.GuildID != c.config.Discord.GuildID {
		return
	}

	channels := c.config.Discord.Channels
	switch m.ChannelID {
	case channels.PublicSubmissions, channels.HighValuePublicSubmissions:
		c.forwardSubmission(ctx, m)
	default:
		channel, err := c.discord.session.Channel(m.ChannelID)
		if err != nil {
			logger.DebugContext(
				ctx,
				"error fetching channel",
				tint.Err(err),
				"channel_id", m.ChannelID,
			)
			return
		}
		if channel.Topic == applicationChannelTopic {
			c.handleApplicationMessage(ctx, m, channel)
		}
	}
}

// handleReactionAdd routes added reactions: scoring reactions in the
// private submissions channel add points, a ✅ in the intro channel starts
// an application.
func (c *ClanWarden) handleReactionAdd(
	ctx context.Context,
	r *discordgo.MessageReactionAdd,
) {
	if c.isSelf(r.UserID) {
		return
	}
	switch r.ChannelID {
	case c.config.Discord.Channels.PrivateSubmissions:
		c.processSubmissionReaction(ctx, r.MessageReaction, PointsActionAdd)
	case c.config.Discord.Channels.Intro:
		c.handleIntroReaction(ctx, r.MessageReaction)
	}
}

// handleReactionRemove reverses a scoring reaction in the private
// submissions channel.
func (c *ClanWarden) handleReactionRemove(
	ctx context.Context,
	r *discordgo.MessageReactionRemove,
) {
	if c.isSelf(r.UserID) {
		return
	}
	if r.ChannelID == c.config.Discord.Channels.PrivateSubmissions {
		c.processSubmissionReaction(ctx, r.MessageReaction, PointsActionSubtract)
	}
}

// handleMemberAdd creates a user record the first time a member is seen.
// Creation is not idempotent: a duplicate is surfaced, not ignored.
func (c *ClanWarden) handleMemberAdd(
	ctx context.Context,
	m *discordgo.GuildMemberAdd,
) {
	ctx, logger := c.getLogger(ctx)

	if m.User == nil || m.User.Bot {
		return
	}
	joined := m.JoinedAt
	if joined.IsZero() {
		joined = time.Now()
	}
	rec, err := c.store().CreateUserRecord(ctx, m.User.ID, joined)
	if err != nil {
		if errors.Is(err, ErrUserExists) {
			logger.WarnContext(
				ctx,
				"member rejoined, record already exists",
				"discord_id", m.User.ID,
			)
			return
		}
		logger.ErrorContext(ctx, "error creating user record", tint.Err(err))
		return
	}
	logger.InfoContext(ctx, "created user record", "user", rec)
}

// handleMemberRemove posts a leave notice to the reporting channel.
func (c *ClanWarden) handleMemberRemove(
	ctx context.Context,
	m *discordgo.GuildMemberRemove,
) {
	ctx, logger := c.getLogger(ctx)

	if m.User == nil {
		return
	}
	message := fmt.Sprintf("%s has left the server.", m.User.Username)
	if m.Nick != "" {
		message += fmt.Sprintf(
			" OSRS name was %s.\nCheck the in game clan to see if they are still there.",
			m.Nick,
		)
	}
	if err := c.discord.channelMessageSend(
		c.config.Discord.Channels.Reporting,
		message,
	); err != nil {
		logger.ErrorContext(ctx, "unable to send server leave message", tint.Err(err))
	}
}

// isSelf reports whether the given user ID is the bot's own user, as
// identified by the gateway Ready event. The configured application ID is
// checked as a fallback for events arriving before Ready.
func (c *ClanWarden) isSelf(userID string) bool {
	if userID == "" {
		return false
	}
	if selfID := c.discord.selfUserID(); selfID != "" {
		return userID == selfID
	}
	appID := c.config.Discord.ApplicationID
	return appID != "" && userID == appID
}
