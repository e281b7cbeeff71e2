package clanwarden

import (
	"math"
	"time"
)

// TimeTier is a tenure-based rank level. Tiers form an ordered, gapless
// table: Order is unique and strictly increasing, and the next tier is
// always Order+1. Range contiguity is a configuration responsibility,
// not enforced at runtime.
type TimeTier struct {
	Name      string
	ID        string
	MinMonths int
	MaxMonths int
	Order     int
}

// PointsTier is a points-based rank level. The tier table must partition
// the non-negative integers: a balance belongs to the unique tier where
// MinPoints <= balance < MaxPoints.
type PointsTier struct {
	Name      string
	ID        string
	MinPoints int
	MaxPoints int
}

// RankUpCandidate signals that a member's role assignment should change.
// It's a transient value consumed by report formatting, never persisted,
// and never applied automatically.
type RankUpCandidate struct {
	UserID   string
	RankID   string
	RankName string
}

// NewTimeTiers builds the tenure tier table from the configured role IDs.
func NewTimeTiers(roles RoleConfig) []TimeTier {
	return []TimeTier{
		{
			Name:      "Short Green Guy Rank",
			ID:        roles.TimeRankOne,
			MinMonths: 0,
			MaxMonths: 1,
			Order:     0,
		},
		{
			Name:      "Goblin Rank",
			ID:        roles.TimeRankTwo,
			MinMonths: 1,
			MaxMonths: 3,
			Order:     1,
		},
		{
			Name:      "Bob Rank",
			ID:        roles.TimeRankThree,
			MinMonths: 3,
			MaxMonths: 6,
			Order:     2,
		},
		{
			Name:      "Imp Rank",
			ID:        roles.TimeRankFour,
			MinMonths: 6,
			MaxMonths: 10000,
			Order:     3,
		},
	}
}

// NewPointsTiers builds the points tier table from the configured role IDs.
func NewPointsTiers(roles RoleConfig) []PointsTier {
	return []PointsTier{
		{
			Name:      "Opal Rank",
			ID:        roles.PointsRankOne,
			MinPoints: 0,
			MaxPoints: 50,
		},
		{
			Name:      "Sapphire Rank",
			ID:        roles.PointsRankTwo,
			MinPoints: 50,
			MaxPoints: 150,
		},
		{
			Name:      "Emerald Rank",
			ID:        roles.PointsRankThree,
			MinPoints: 150,
			MaxPoints: 300,
		},
		{
			Name:      "Ruby Rank",
			ID:        roles.PointsRankFour,
			MinPoints: 300,
			MaxPoints: 600,
		},
		{
			Name:      "Diamond Rank",
			ID:        roles.PointsRankFive,
			MinPoints: 600,
			MaxPoints: math.MaxInt,
		},
	}
}

// wholeMonths returns the number of whole calendar months elapsed between
// from and to. A partial month only counts once the same day-of-month (and
// time) has passed.
func wholeMonths(from, to time.Time) int {
	if to.Before(from) {
		return 0
	}
	months := (to.Year()-from.Year())*12 + int(to.Month()) - int(from.Month())
	anniversary := from.AddDate(0, months, 0)
	if anniversary.After(to) {
		months--
	}
	return months
}

// DeriveTimeRank determines whether a member is due for a tenure-based
// promotion. Pure function of the inputs - no external state.
//
// The member's tenure is tested against the highest tier they currently
// hold, not directly against the table: a candidate is produced iff tenure
// has reached that tier's max bound AND a tier with Order+1 exists. Members
// holding no configured tier role are invisible to this check - the bot
// only promotes existing members, it never grants the first tier. Members
// at the top tier never produce a candidate.
func DeriveTimeRank(
	tiers []TimeTier,
	joinedAt time.Time,
	roleIDs []string,
	now time.Time,
) *RankUpCandidate {
	held := make(map[string]bool, len(roleIDs))
	for _, id := range roleIDs {
		held[id] = true
	}

	var highest *TimeTier
	for i := range tiers {
		tier := tiers[i]
		if !held[tier.ID] {
			continue
		}
		if highest == nil || tier.Order > highest.Order {
			highest = &tier
		}
	}
	if highest == nil {
		return nil
	}

	if wholeMonths(joinedAt, now) < highest.MaxMonths {
		return nil
	}
	for _, tier := range tiers {
		if tier.Order == highest.Order+1 {
			return &RankUpCandidate{
				RankID:   tier.ID,
				RankName: tier.Name,
			}
		}
	}
	return nil
}

// DerivePointsRank determines whether a member's held roles match the tier
// their balance puts them in. Pure function of the inputs.
//
// This is a correction signal rather than strictly a "rank up": a candidate
// is produced for ANY mismatch, in either direction, whenever the target
// tier's role isn't among the member's current roles. Boundaries are
// half-open - a balance exactly at MinPoints belongs to that tier.
func DerivePointsRank(
	tiers []PointsTier,
	points int,
	roleIDs []string,
) *RankUpCandidate {
	var target *PointsTier
	for i := range tiers {
		tier := tiers[i]
		if points >= tier.MinPoints && points < tier.MaxPoints {
			target = &tier
			break
		}
	}
	if target == nil {
		return nil
	}
	for _, id := range roleIDs {
		if id == target.ID {
			return nil
		}
	}
	return &RankUpCandidate{
		RankID:   target.ID,
		RankName: target.Name,
	}
}
