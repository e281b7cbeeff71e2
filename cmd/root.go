package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"

	"github.com/Nallieheai/clanwarden/clanwarden"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfg        = clanwarden.DefaultConfig()
	configFile string
)

var rootCmd = &cobra.Command{
	Use: "clanwarden [flags]",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		err := viper.Unmarshal(
			cfg,
			viper.DecodeHook(
				mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					LevelToStringHookFunc(),
				),
			),
		)
		if err != nil {
			log.Fatalln(err)
		}
	},
}

func getLogLevel(level string) (slog.Level, error) {
	switch level {
	case slog.LevelDebug.String():
		return slog.LevelDebug, nil
	case slog.LevelInfo.String():
		return slog.LevelInfo, nil
	case slog.LevelWarn.String():
		return slog.LevelWarn, nil
	case slog.LevelError.String():
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

// LevelToStringHookFunc decodes a log level string into a slog.LevelVar.
// The target type is *slog.LevelVar when the destination field is nil, but
// plain slog.LevelVar when mapstructure has dereferenced an already
// populated pointer, so both shapes are matched. The returned pointer
// decodes into either.
func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	levelVarType := reflect.TypeOf(slog.LevelVar{})
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() == reflect.Ptr {
			t = t.Elem()
		}
		if t != levelVarType {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s", data)
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func initConfig() {
	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		if err := godotenv.Load(configFile); err != nil {
			log.Println("No .env file found")
		}
	}

	viper.SetEnvPrefix("CLANWARDEN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("database", clanwarden.DefaultDatabase)
	viper.SetDefault("database_type", clanwarden.DefaultDatabaseType)
	viper.SetDefault(
		"database_slow_threshold",
		clanwarden.DefaultDatabaseSlowThreshold,
	)
	viper.SetDefault(
		"database_log_level",
		clanwarden.DefaultDatabaseLogLevel.String(),
	)

	viper.SetDefault("log_level", clanwarden.DefaultLogLevel.String())

	viper.SetDefault("startup_timeout", clanwarden.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", clanwarden.DefaultShutdownTimeout)

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault(
		"discord.log_level",
		clanwarden.DefaultDiscordLogLevel.String(),
	)
	viper.SetDefault(
		"discord.discordgo_log_level",
		clanwarden.DefaultDiscordgoLogLevel.String(),
	)
	viper.SetDefault(
		"discord.gateway_intents",
		clanwarden.DefaultDiscordGatewayIntent,
	)
	viper.SetDefault(
		"discord.startup_message",
		clanwarden.DefaultDiscordStartupMessage,
	)
	viper.SetDefault(
		"discord.custom_status",
		clanwarden.DefaultDiscordCustomStatus,
	)

	// Discord: channel IDs
	viper.SetDefault("discord.channels.reporting", "")
	viper.SetDefault("discord.channels.public_submissions", "")
	viper.SetDefault("discord.channels.high_value_public_submissions", "")
	viper.SetDefault("discord.channels.private_submissions", "")
	viper.SetDefault("discord.channels.intro", "")
	viper.SetDefault("discord.channels.awaiting_approval", "")

	// Discord: role IDs
	viper.SetDefault("discord.roles.verified", "")
	viper.SetDefault("discord.roles.not_in_clan", "")
	viper.SetDefault("discord.roles.time_rank_one", "")
	viper.SetDefault("discord.roles.time_rank_two", "")
	viper.SetDefault("discord.roles.time_rank_three", "")
	viper.SetDefault("discord.roles.time_rank_four", "")
	viper.SetDefault("discord.roles.points_rank_one", "")
	viper.SetDefault("discord.roles.points_rank_two", "")
	viper.SetDefault("discord.roles.points_rank_three", "")
	viper.SetDefault("discord.roles.points_rank_four", "")
	viper.SetDefault("discord.roles.points_rank_five", "")

	// Reporting schedule
	viper.SetDefault("reports.time_rank_at", clanwarden.DefaultTimeRankReportAt)
	viper.SetDefault("reports.points_rank_at", clanwarden.DefaultPointsRankReportAt)
	viper.SetDefault("reports.not_in_clan_at", clanwarden.DefaultNotInClanReportAt)
	viper.SetDefault("reports.user_extract_at", clanwarden.DefaultUserExtractAt)
	viper.SetDefault(
		"reports.nickname_extract_at",
		clanwarden.DefaultNicknameExtractAt,
	)

	// Status API
	viper.SetDefault("api.enabled", false)
	viper.SetDefault("api.listen", clanwarden.DefaultAPIListen)
	viper.SetDefault("api.log_level", clanwarden.DefaultAPILogLevel.String())
	viper.SetDefault("api.read_timeout", clanwarden.DefaultReadTimeout)
	viper.SetDefault("api.read_header_timeout", clanwarden.DefaultReadHeaderTimeout)
	viper.SetDefault("api.write_timeout", clanwarden.DefaultWriteTimeout)
	viper.SetDefault("api.idle_timeout", clanwarden.DefaultIdleTimeout)
}

//goland:noinspection GoLinter
func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"env-file",
		"",
		"Path to a .env file to load",
	)
}
