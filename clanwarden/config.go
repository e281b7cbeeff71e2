//nolint:lll // struct tags can't be split
package clanwarden

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
)

const (
	DefaultDatabaseType = "sqlite"
	DefaultDatabase     = "clanwarden.sqlite3"
	DefaultLogLevel     = slog.LevelInfo

	DefaultStartupTimeout  = 30 * time.Second
	DefaultShutdownTimeout = 60 * time.Second

	DefaultDatabaseSlowThreshold = 200 * time.Millisecond
	DefaultDatabaseLogLevel      = slog.LevelInfo
	DefaultDiscordLogLevel       = slog.LevelWarn
	DefaultDiscordgoLogLevel     = slog.LevelWarn
	DefaultAPILogLevel           = slog.LevelInfo

	DefaultReadTimeout       = 5 * time.Second
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 30 * time.Second

	DefaultAPIListen     = "127.0.0.1:5000"
	defaultListenNetwork = "tcp"

	// Default wall-clock times for the daily reporting jobs. Offset from
	// each other so the jobs don't overlap.
	DefaultTimeRankReportAt   = "20:00"
	DefaultNotInClanReportAt  = "21:05"
	DefaultPointsRankReportAt = "22:00"
	DefaultUserExtractAt      = "23:00"
	DefaultNicknameExtractAt  = "23:30"

	DefaultDiscordCustomStatus   = "Watching the clan"
	DefaultDiscordStartupMessage = "I'm here!"

	// discordMaxMessageLength is the transport's single-message size limit.
	// Reports longer than this are split across multiple messages.
	discordMaxMessageLength = 2000

	// discordMaxNicknameLength is Discord's limit on guild nicknames.
	discordMaxNicknameLength = 32

	DefaultDiscordGatewayIntent = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsMessageContent |
		discordgo.IntentsDirectMessages
)

// Config is the full static configuration for the bot. It's populated by
// viper in cmd/root.go and treated as read-only after startup.
type Config struct {
	// Database connection string, or SQLite file path
	Database string `yaml:"database" mapstructure:"database" json:"database"`

	// DatabaseType specifies the type of database, either 'sqlite' or 'postgres'
	DatabaseType string `yaml:"database_type" mapstructure:"database_type" json:"database_type" binding:"oneof=sqlite postgres"`

	// DatabaseLogLevel sets the log level for database operations
	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration threshold for identifying slow database queries
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout sets a limit on the amount of time the bot has to
	// initialize. If this is passed, the bot will abort startup.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time to allow for a graceful shutdown. After this
	// elapses, the bot will force close all connections and exit.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	// Discord configures the discord bot itself, including the clan's
	// channel and role IDs
	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord"`

	// Reports configures the daily reporting job schedule
	Reports *ReportConfig `yaml:"reports" mapstructure:"reports" json:"reports"`

	// API configures the read-only status API server
	API *APIConfig `yaml:"api" mapstructure:"api" json:"api"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// Validate checks that the identifiers the core can't run without are
// present. IDs are opaque strings - there's no validation beyond presence.
func (c Config) Validate() error {
	if c.Discord == nil {
		return fmt.Errorf("missing discord config")
	}
	if c.Discord.Token == "" {
		return fmt.Errorf("missing discord token")
	}
	if c.Discord.GuildID == "" {
		return fmt.Errorf("missing discord guild_id")
	}
	if c.Discord.Channels.Reporting == "" {
		return fmt.Errorf("missing reporting channel ID")
	}
	if c.Discord.Channels.PrivateSubmissions == "" {
		return fmt.Errorf("missing private submissions channel ID")
	}
	return nil
}

// DiscordConfig configures the discord connection and the guild-specific
// channel/role identifiers the bot operates on.
//
//nolint:lll // can't break tags
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// Discord application ID (from the 'General Information' tab in the discord dev portal)
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id"`

	// GuildID is the clan's server ID. The bot manages exactly one guild.
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id" binding:"required"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	// Message sent to the reporting channel when the bot connects to the
	// discord gateway, if set
	StartupMessage string `yaml:"startup_message" mapstructure:"startup_message" json:"startup_message"`

	// CustomStatus is set as the bot user's status on connect
	CustomStatus string `yaml:"custom_status" mapstructure:"custom_status" json:"custom_status"`

	// Discord gateway intents. See: https://discord.com/developers/docs/topics/gateway#gateway-intents
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`

	// Channels holds the clan's channel IDs
	Channels ChannelConfig `yaml:"channels" mapstructure:"channels" json:"channels"`

	// Roles holds the clan's role IDs
	Roles RoleConfig `yaml:"roles" mapstructure:"roles" json:"roles"`
}

// ChannelConfig holds the channel IDs the bot reads from and writes to.
// All are opaque snowflake strings from the environment.
type ChannelConfig struct {
	// Reporting receives the daily reports and member join/leave notices
	Reporting string `yaml:"reporting" mapstructure:"reporting" json:"reporting"`

	// PublicSubmissions is where members post drop screenshots
	PublicSubmissions string `yaml:"public_submissions" mapstructure:"public_submissions" json:"public_submissions"`

	// HighValuePublicSubmissions is a second public drop channel,
	// forwarded identically
	HighValuePublicSubmissions string `yaml:"high_value_public_submissions" mapstructure:"high_value_public_submissions" json:"high_value_public_submissions"`

	// PrivateSubmissions is the staff channel where forwarded submissions
	// are scored by reaction
	PrivateSubmissions string `yaml:"private_submissions" mapstructure:"private_submissions" json:"private_submissions"`

	// Intro is the channel where prospective members react to start an
	// application
	Intro string `yaml:"intro" mapstructure:"intro" json:"intro"`

	// AwaitingApproval receives completed applications
	AwaitingApproval string `yaml:"awaiting_approval" mapstructure:"awaiting_approval" json:"awaiting_approval"`
}

// RoleConfig holds the clan's role IDs: one per rank tier, plus the
// 'verified' and 'not in clan' roles.
type RoleConfig struct {
	Verified  string `yaml:"verified" mapstructure:"verified" json:"verified"`
	NotInClan string `yaml:"not_in_clan" mapstructure:"not_in_clan" json:"not_in_clan"`

	// Tenure-based rank roles, lowest to highest
	TimeRankOne   string `yaml:"time_rank_one" mapstructure:"time_rank_one" json:"time_rank_one"`
	TimeRankTwo   string `yaml:"time_rank_two" mapstructure:"time_rank_two" json:"time_rank_two"`
	TimeRankThree string `yaml:"time_rank_three" mapstructure:"time_rank_three" json:"time_rank_three"`
	TimeRankFour  string `yaml:"time_rank_four" mapstructure:"time_rank_four" json:"time_rank_four"`

	// Points-based rank roles, lowest to highest
	PointsRankOne   string `yaml:"points_rank_one" mapstructure:"points_rank_one" json:"points_rank_one"`
	PointsRankTwo   string `yaml:"points_rank_two" mapstructure:"points_rank_two" json:"points_rank_two"`
	PointsRankThree string `yaml:"points_rank_three" mapstructure:"points_rank_three" json:"points_rank_three"`
	PointsRankFour  string `yaml:"points_rank_four" mapstructure:"points_rank_four" json:"points_rank_four"`
	PointsRankFive  string `yaml:"points_rank_five" mapstructure:"points_rank_five" json:"points_rank_five"`
}

// ReportConfig sets the daily wall-clock trigger time ("15:04", local time)
// for each reporting job.
type ReportConfig struct {
	TimeRankAt        string `yaml:"time_rank_at" mapstructure:"time_rank_at" json:"time_rank_at"`
	PointsRankAt      string `yaml:"points_rank_at" mapstructure:"points_rank_at" json:"points_rank_at"`
	NotInClanAt       string `yaml:"not_in_clan_at" mapstructure:"not_in_clan_at" json:"not_in_clan_at"`
	UserExtractAt     string `yaml:"user_extract_at" mapstructure:"user_extract_at" json:"user_extract_at"`
	NicknameExtractAt string `yaml:"nickname_extract_at" mapstructure:"nickname_extract_at" json:"nickname_extract_at"`
}

// APIConfig configures the read-only status API server
type APIConfig struct {
	// Enabled determines whether the status API is started at all
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// The address and port on which the server should listen (e.g., "127.0.0.1:5000").
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix").
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network"`

	// The logging level for the API server.
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Maximum duration for reading the entire request, including the body.
	ReadTimeout time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout"`

	// Amount of time allowed to read request headers.
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout"`

	// Maximum duration before timing out writes of the response.
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout"`

	// Maximum amount of time to wait for the next request when keep-alives are enabled.
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout"`
}

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	dbLogLevel := &slog.LevelVar{}
	discordLogLevel := &slog.LevelVar{}
	discordgoLogLevel := &slog.LevelVar{}
	apiLogLevel := &slog.LevelVar{}

	mainLogLevel.Set(DefaultLogLevel)
	dbLogLevel.Set(DefaultDatabaseLogLevel)
	discordLogLevel.Set(DefaultDiscordLogLevel)
	discordgoLogLevel.Set(DefaultDiscordgoLogLevel)
	apiLogLevel.Set(DefaultAPILogLevel)

	return &Config{
		DatabaseType:          DefaultDatabaseType,
		Database:              DefaultDatabase,
		DatabaseLogLevel:      dbLogLevel,
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		LogLevel:              mainLogLevel,
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		Discord: &DiscordConfig{
			LogLevel:          discordLogLevel,
			DiscordGoLogLevel: discordgoLogLevel,
			GatewayIntents:    DefaultDiscordGatewayIntent,
			StartupMessage:    DefaultDiscordStartupMessage,
			CustomStatus:      DefaultDiscordCustomStatus,
		},
		Reports: &ReportConfig{
			TimeRankAt:        DefaultTimeRankReportAt,
			PointsRankAt:      DefaultPointsRankReportAt,
			NotInClanAt:       DefaultNotInClanReportAt,
			UserExtractAt:     DefaultUserExtractAt,
			NicknameExtractAt: DefaultNicknameExtractAt,
		},
		API: &APIConfig{
			Listen:            DefaultAPIListen,
			ListenNetwork:     defaultListenNetwork,
			LogLevel:          apiLogLevel,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			ReadTimeout:       DefaultReadTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
		},
	}
}
