package clanwarden

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDatabase(t testing.TB) DBI {
	t.Helper()
	db, err := CreateDB(
		context.Background(),
		dbTypeSQLite,
		filepath.Join(t.TempDir(), "users_test.sqlite3"),
	)
	require.NoError(t, err)
	return NewDatabase(db, nil, false)
}

func TestCreateUserRecord(t *testing.T) {
	store := newTestDatabase(t)
	ctx := context.Background()

	joined := time.Date(2024, 2, 10, 8, 30, 0, 0, time.UTC)
	rec, err := store.CreateUserRecord(ctx, "member-1", joined)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "member-1", rec.DiscordID)
	assert.Equal(t, 0, rec.Points)
	assert.Equal(t, joined, rec.Joined.UTC())

	// creation is not idempotent
	_, err = store.CreateUserRecord(ctx, "member-1", time.Now())
	require.ErrorIs(t, err, ErrUserExists)
}

func TestGetUserRecord_NotFound(t *testing.T) {
	store := newTestDatabase(t)

	rec, err := store.GetUserRecord(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestSaveUserRecordPoints(t *testing.T) {
	store := newTestDatabase(t)
	ctx := context.Background()

	rec, err := store.CreateUserRecord(ctx, "member-1", time.Now())
	require.NoError(t, err)

	rec.Points = 17
	require.NoError(t, store.SaveUserRecordPoints(ctx, rec))

	stored, err := store.GetUserRecord(ctx, "member-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 17, stored.Points)
}

func TestAllUserRecords(t *testing.T) {
	store := newTestDatabase(t)
	ctx := context.Background()

	records, err := store.AllUserRecords(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)

	for _, id := range []string{"member-1", "member-2", "member-3"} {
		_, err = store.CreateUserRecord(ctx, id, time.Now())
		require.NoError(t, err)
	}

	records, err = store.AllUserRecords(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestUserRecordString(t *testing.T) {
	t.Parallel()
	rec := &UserRecord{DiscordID: "member-1", Points: 42}
	assert.Equal(t, "member-1 [42]", rec.String())
}

func TestDatabasePing(t *testing.T) {
	store := newTestDatabase(t)
	require.NoError(t, store.Ping(context.Background()))
}
