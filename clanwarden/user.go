package clanwarden

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
)

var (
	// ErrUserExists is returned when creating a user record for a discord ID
	// that already has one. Creation is not idempotent - callers must handle
	// this explicitly.
	ErrUserExists = errors.New("user record already exists")
)

// UserRecord is the persisted per-member state: an opaque discord ID, a
// point balance, and the member's join timestamp.
//
// Points never go negative (subtraction clamps at zero), and Joined is set
// once at creation and never updated. Records are only mutated through the
// points engine and are never deleted by the bot itself.
type UserRecord struct {
	ModelUintID
	ModelUnixTime

	// DiscordID is the platform-assigned user ID, the unique join key
	// against guild membership
	DiscordID string `json:"discord_id" gorm:"uniqueIndex;type:string"`

	// Points is the member's current drop-submission point balance
	Points int `json:"points" gorm:"default:0"`

	// Joined is when the member joined the server, immutable after creation
	Joined time.Time `json:"joined"`
}

func (u *UserRecord) String() string {
	return fmt.Sprintf("%s [%d]", u.DiscordID, u.Points)
}

func (u *UserRecord) LogValue() slog.Value {
	if u == nil {
		return slog.Value{}
	}
	return slog.GroupValue(
		slog.String("discord_id", u.DiscordID),
		slog.Int("points", u.Points),
		slog.Time("joined", u.Joined),
	)
}

func (d *database) GetUserRecord(
	ctx context.Context,
	discordID string,
) (*UserRecord, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var rec UserRecord
	err := d.db.WithContext(ctx).Where(
		"discord_id = ?",
		discordID,
	).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (d *database) CreateUserRecord(
	ctx context.Context,
	discordID string,
	joinedAt time.Time,
) (*UserRecord, error) {
	existing, err := d.GetUserRecord(ctx, discordID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		d.logger.InfoContext(
			ctx,
			"member already exists in database",
			"discord_id", discordID,
		)
		return nil, ErrUserExists
	}

	if !d.enableConcurrentWrites {
		d.mu.Lock()
		defer d.mu.Unlock()
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rec := &UserRecord{
		DiscordID: discordID,
		Points:    0,
		Joined:    joinedAt.UTC(),
	}
	if err = d.db.WithContext(ctx).Create(rec).Error; err != nil {
		return nil, err
	}
	return rec, nil
}

func (d *database) SaveUserRecordPoints(
	ctx context.Context,
	rec *UserRecord,
) error {
	if !d.enableConcurrentWrites {
		d.mu.Lock()
		defer d.mu.Unlock()
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	return d.db.WithContext(ctx).Model(rec).Update("points", rec.Points).Error
}

func (d *database) AllUserRecords(ctx context.Context) ([]UserRecord, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var recs []UserRecord
	err := d.db.WithContext(ctx).Find(&recs).Error
	return recs, err
}
