package clanwarden

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// Reporter runs the daily reporting jobs: tenure rank-ups, points rank
// mismatches, 'not in clan' flags, and the user and nickname CSV extracts.
//
// Every job snapshots membership fresh from the API (never from cache),
// derives target state, and posts a human-readable diff to the reporting
// channel. Delivery is best-effort telemetry: failures are logged and
// dropped, never retried, and nothing suppresses a duplicate report on the
// next run.
type Reporter struct {
	cw     *ClanWarden
	logger *slog.Logger
}

func newReporter(cw *ClanWarden) *Reporter {
	return &Reporter{
		cw:     cw,
		logger: cw.logger.With(loggerNameKey, "reporter"),
	}
}

func formatRankUpMessage(candidates []RankUpCandidate) string {
	var sb strings.Builder
	sb.WriteString("We have some users ready to rank up!")
	for _, candidate := range candidates {
		sb.WriteString(
			fmt.Sprintf("\n<@%s> -> %s", candidate.UserID, candidate.RankName),
		)
	}
	return sb.String()
}

func formatNotInClanMessage(members []*discordgo.Member) string {
	var sb strings.Builder
	sb.WriteString(`The following members have the "Not In Clan" Role:`)
	for _, member := range members {
		sb.WriteString(fmt.Sprintf("\n<@%s>", member.User.ID))
	}
	sb.WriteString("\nOnce they are in the clan, please remove this role")
	return sb.String()
}

// send posts the given report to the reporting channel, splitting it when
// it exceeds the transport's single-message limit.
func (r *Reporter) send(ctx context.Context, message string) {
	channelID := r.cw.config.Discord.Channels.Reporting
	for _, chunk := range splitMessage(message, discordMaxMessageLength) {
		if err := r.cw.discord.channelMessageSend(channelID, chunk); err != nil {
			r.logger.ErrorContext(
				ctx,
				"error sending report to channel",
				tint.Err(err),
			)
			return
		}
	}
}

// ReportTimeRankUps finds members whose tenure has outgrown their highest
// held tenure tier, and posts one promotion line per member.
func (r *Reporter) ReportTimeRankUps(ctx context.Context) error {
	r.logger.InfoContext(ctx, "kicking off member rank up report")

	members, err := r.cw.discord.guildMembersAll(r.cw.config.Discord.GuildID)
	if err != nil {
		return fmt.Errorf("error fetching members: %w", err)
	}

	now := time.Now()
	var candidates []RankUpCandidate
	for _, member := range members {
		if member.User == nil || member.JoinedAt.IsZero() {
			continue
		}
		candidate := DeriveTimeRank(
			r.cw.timeTiers,
			member.JoinedAt,
			member.Roles,
			now,
		)
		if candidate != nil {
			candidate.UserID = member.User.ID
			candidates = append(candidates, *candidate)
		}
	}
	r.logger.InfoContext(
		ctx,
		"time rank derivation complete",
		"members", len(members),
		"candidates", len(candidates),
	)
	if len(candidates) == 0 {
		return nil
	}
	r.send(ctx, formatRankUpMessage(candidates))
	return nil
}

// ReportPointsRankUps joins the verified membership against stored user
// records and posts a line for every member whose held roles don't match
// the tier their balance puts them in.
func (r *Reporter) ReportPointsRankUps(ctx context.Context) error {
	r.logger.InfoContext(ctx, "kicking off points rank up report")

	// the store may have gone away since the last run
	if err := r.cw.ensureDB(ctx); err != nil {
		return fmt.Errorf("store unavailable: %w", err)
	}

	members, err := r.cw.discord.guildMembersAll(r.cw.config.Discord.GuildID)
	if err != nil {
		return fmt.Errorf("error fetching members: %w", err)
	}
	records, err := r.cw.store().AllUserRecords(ctx)
	if err != nil {
		return fmt.Errorf("error loading user records: %w", err)
	}
	recordsByID := make(map[string]*UserRecord, len(records))
	for i := range records {
		recordsByID[records[i].DiscordID] = &records[i]
	}

	verifiedRoleID := r.cw.config.Discord.Roles.Verified
	var candidates []RankUpCandidate
	for _, member := range members {
		if member.User == nil || member.User.Bot {
			continue
		}
		verified := false
		for _, roleID := range member.Roles {
			if roleID == verifiedRoleID {
				verified = true
				break
			}
		}
		if !verified {
			continue
		}
		rec, ok := recordsByID[member.User.ID]
		if !ok {
			continue
		}
		candidate := DerivePointsRank(r.cw.pointsTiers, rec.Points, member.Roles)
		if candidate != nil {
			candidate.UserID = member.User.ID
			candidates = append(candidates, *candidate)
		}
	}
	r.logger.InfoContext(
		ctx,
		"points rank derivation complete",
		"members", len(members),
		"candidates", len(candidates),
	)
	if len(candidates) == 0 {
		return nil
	}
	r.send(ctx, formatRankUpMessage(candidates))
	return nil
}

// ReportNotInClan posts a flat list of members holding the 'not in clan'
// role, if any.
func (r *Reporter) ReportNotInClan(ctx context.Context) error {
	r.logger.InfoContext(ctx, "kicking off not in clan report")

	notInClanRoleID := r.cw.config.Discord.Roles.NotInClan
	if notInClanRoleID == "" {
		return nil
	}

	members, err := r.cw.discord.guildMembersAll(r.cw.config.Discord.GuildID)
	if err != nil {
		return fmt.Errorf("error fetching members: %w", err)
	}

	var flagged []*discordgo.Member
	for _, member := range members {
		if member.User == nil {
			continue
		}
		for _, roleID := range member.Roles {
			if roleID == notInClanRoleID {
				flagged = append(flagged, member)
				break
			}
		}
	}
	if len(flagged) == 0 {
		return nil
	}
	r.send(ctx, formatNotInClanMessage(flagged))
	return nil
}

// ExtractUserCSV uploads a CSV of all stored user records to the
// reporting channel.
func (r *Reporter) ExtractUserCSV(ctx context.Context) error {
	r.logger.InfoContext(ctx, "kicking off user csv extract")

	if err := r.cw.ensureDB(ctx); err != nil {
		return fmt.Errorf("store unavailable: %w", err)
	}
	records, err := r.cw.store().AllUserRecords(ctx)
	if err != nil {
		return fmt.Errorf("error loading user records: %w", err)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err = w.Write([]string{"discord_id", "points", "joined"}); err != nil {
		return err
	}
	for _, rec := range records {
		err = w.Write(
			[]string{
				rec.DiscordID,
				strconv.Itoa(rec.Points),
				rec.Joined.UTC().Format(time.RFC3339),
			},
		)
		if err != nil {
			return err
		}
	}
	w.Flush()
	if err = w.Error(); err != nil {
		return err
	}

	filename := fmt.Sprintf("clan-users-%s.csv", time.Now().Format("2006-01-02"))
	_, err = r.cw.discord.session.ChannelFileSend(
		r.cw.config.Discord.Channels.Reporting,
		filename,
		&buf,
	)
	if err != nil {
		return fmt.Errorf("error uploading user csv: %w", err)
	}
	return nil
}

// ExtractNicknameCSV uploads a CSV mapping guild member IDs to their
// usernames and server nicknames. The in game clan roster only knows
// nicknames, so this is what ties it back to Discord accounts.
func (r *Reporter) ExtractNicknameCSV(ctx context.Context) error {
	r.logger.InfoContext(ctx, "kicking off nickname csv extract")

	members, err := r.cw.discord.guildMembersAll(r.cw.config.Discord.GuildID)
	if err != nil {
		return fmt.Errorf("error fetching members: %w", err)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err = w.Write([]string{"discord_id", "username", "nickname"}); err != nil {
		return err
	}
	for _, member := range members {
		if member.User == nil || member.User.Bot {
			continue
		}
		err = w.Write(
			[]string{member.User.ID, member.User.Username, member.Nick},
		)
		if err != nil {
			return err
		}
	}
	w.Flush()
	if err = w.Error(); err != nil {
		return err
	}

	filename := fmt.Sprintf(
		"clan-nicknames-%s.csv",
		time.Now().Format("2006-01-02"),
	)
	_, err = r.cw.discord.session.ChannelFileSend(
		r.cw.config.Discord.Channels.Reporting,
		filename,
		&buf,
	)
	if err != nil {
		return fmt.Errorf("error uploading nickname csv: %w", err)
	}
	return nil
}
