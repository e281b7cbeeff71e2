package clanwarden

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/bwmarrin/discordgo"
)

var (
	// ErrNicknameTooLong is returned when a nickname points annotation is
	// attempted against a nickname over the discord length limit. A prior
	// balance mutation is NOT rolled back - the two effects are independent.
	ErrNicknameTooLong = errors.New("nickname is more than 32 characters")
)

// PointsAction indicates the direction of a point balance mutation.
type PointsAction string

const (
	PointsActionAdd      PointsAction = "add"
	PointsActionSubtract PointsAction = "subtract"
)

var (
	containsBracketsRe = regexp.MustCompile(`.*\[.*\].*`)
	bracketSegmentRe   = regexp.MustCompile(`\[(.+?)\]`)
)

// ModifyPoints applies delta to the record's balance and persists the new
// balance synchronously before returning it.
//
// ADD is unbounded above; SUBTRACT clamps at zero, so a balance is never
// negative. A nil record is a no-op returning nil - unknown users earn
// nothing. Store failures propagate to the caller.
func ModifyPoints(
	ctx context.Context,
	db DBI,
	rec *UserRecord,
	delta int,
	action PointsAction,
) (*int, error) {
	if rec == nil {
		return nil, nil
	}
	newPoints := rec.Points + delta
	if action == PointsActionSubtract {
		newPoints = rec.Points - delta
		if newPoints < 0 {
			newPoints = 0
		}
	}
	rec.Points = newPoints
	if err := db.SaveUserRecordPoints(ctx, rec); err != nil {
		return nil, err
	}
	return &rec.Points, nil
}

// annotateNickname returns the nickname with its bracketed points
// annotation set to newPoints. Every existing `[...]` segment is replaced;
// if none exists, a ` [N]` suffix is appended. Replacement is a fixed
// point: applying it twice with the same balance yields the same name.
func annotateNickname(nickname string, newPoints int) string {
	if containsBracketsRe.MatchString(nickname) {
		return bracketSegmentRe.ReplaceAllString(
			nickname,
			fmt.Sprintf("[%d]", newPoints),
		)
	}
	return fmt.Sprintf("%s [%d]", nickname, newPoints)
}

// ModifyNicknamePoints reflects the new balance into the member's guild
// nickname annotation.
//
// Members without a nickname are skipped - there's nothing to annotate.
//
// Note: the length check is made against the member's *current* nickname,
// not the newly computed one, matching long-standing bot behavior. That
// means a 30-character name can still grow past the limit, and a name
// already over it fails even if replacement would shrink it. Kept as-is
// so operators see the same rejections they always have.
func ModifyNicknamePoints(
	session DiscordSessionHandler,
	guildID string,
	member *discordgo.Member,
	newPoints int,
) error {
	if member == nil || member.Nick == "" {
		return nil
	}
	if len(member.Nick) > discordMaxNicknameLength {
		return ErrNicknameTooLong
	}
	newNickname := annotateNickname(member.Nick, newPoints)
	return session.GuildMemberNickname(guildID, member.User.ID, newNickname)
}
