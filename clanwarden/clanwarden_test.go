package clanwarden

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testJoinTime = time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

func newTestConfig(t testing.TB) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Database = filepath.Join(t.TempDir(), "clanwarden_test.sqlite3")
	cfg.Discord.Token = "test-token"
	cfg.Discord.ApplicationID = "bot-app-id"
	cfg.Discord.GuildID = "guild-id"
	cfg.Discord.Channels = ChannelConfig{
		Reporting:                  "channel-reporting",
		PublicSubmissions:          "channel-public",
		HighValuePublicSubmissions: "channel-high-value",
		PrivateSubmissions:         "channel-private",
		Intro:                      "channel-intro",
		AwaitingApproval:           "channel-approval",
	}
	cfg.Discord.Roles = RoleConfig{
		Verified:        "role-verified",
		NotInClan:       "role-not-in-clan",
		TimeRankOne:     "role-time-one",
		TimeRankTwo:     "role-time-two",
		TimeRankThree:   "role-time-three",
		TimeRankFour:    "role-time-four",
		PointsRankOne:   "role-points-one",
		PointsRankTwo:   "role-points-two",
		PointsRankThree: "role-points-three",
		PointsRankFour:  "role-points-four",
		PointsRankFive:  "role-points-five",
	}
	return cfg
}

// newTestClanWarden creates a ClanWarden backed by a temp SQLite store and
// a mock discord session, without opening a gateway connection.
func newTestClanWarden(t testing.TB) (*ClanWarden, *mockDiscordSession) {
	t.Helper()
	cfg := newTestConfig(t)
	cw, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, cw.initDB(context.Background()))

	mockSession := newMockDiscordSession()
	cw.discord.session = mockSession
	return cw, mockSession
}

func TestNew_ValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(nil)
	require.Error(t, err)

	cfg := DefaultConfig()
	_, err = New(cfg)
	require.Error(t, err)
}

func TestHandleMemberAdd(t *testing.T) {
	cw, _ := newTestClanWarden(t)
	ctx := context.Background()

	joined := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	cw.handleMemberAdd(
		ctx, &discordgo.GuildMemberAdd{
			Member: &discordgo.Member{
				User:     &discordgo.User{ID: "new-member"},
				JoinedAt: joined,
			},
		},
	)

	rec, err := cw.writeDB.GetUserRecord(ctx, "new-member")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 0, rec.Points)
	assert.Equal(t, joined, rec.Joined.UTC())
}

func TestHandleMemberAdd_Rejoin(t *testing.T) {
	cw, _ := newTestClanWarden(t)
	ctx := context.Background()

	member := &discordgo.Member{
		User:     &discordgo.User{ID: "rejoiner"},
		JoinedAt: time.Now(),
	}
	cw.handleMemberAdd(ctx, &discordgo.GuildMemberAdd{Member: member})

	rec, err := cw.writeDB.GetUserRecord(ctx, "rejoiner")
	require.NoError(t, err)
	require.NotNil(t, rec)
	rec.Points = 25
	require.NoError(t, cw.writeDB.SaveUserRecordPoints(ctx, rec))

	// a rejoin must not reset the existing balance
	cw.handleMemberAdd(ctx, &discordgo.GuildMemberAdd{Member: member})

	rec, err = cw.writeDB.GetUserRecord(ctx, "rejoiner")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 25, rec.Points)
}

func TestHandleMemberAdd_IgnoresBots(t *testing.T) {
	cw, _ := newTestClanWarden(t)
	ctx := context.Background()

	cw.handleMemberAdd(
		ctx, &discordgo.GuildMemberAdd{
			Member: &discordgo.Member{
				User: &discordgo.User{ID: "some-bot", Bot: true},
			},
		},
	)

	rec, err := cw.writeDB.GetUserRecord(ctx, "some-bot")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestHandleMemberRemove(t *testing.T) {
	t.Parallel()
	cw, mockSession := newTestClanWarden(t)
	ctx := context.Background()

	cw.handleMemberRemove(
		ctx, &discordgo.GuildMemberRemove{
			Member: &discordgo.Member{
				User: &discordgo.User{ID: "leaver", Username: "Leaver"},
				Nick: "LeaverOSRS [10]",
			},
		},
	)

	messages := mockSession.messagesTo("channel-reporting")
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0], "Leaver has left the server.")
	assert.Contains(t, messages[0], "OSRS name was LeaverOSRS [10].")
}

func TestHandleMemberRemove_NoNickname(t *testing.T) {
	t.Parallel()
	cw, mockSession := newTestClanWarden(t)
	ctx := context.Background()

	cw.handleMemberRemove(
		ctx, &discordgo.GuildMemberRemove{
			Member: &discordgo.Member{
				User: &discordgo.User{ID: "leaver", Username: "Leaver"},
			},
		},
	)

	messages := mockSession.messagesTo("channel-reporting")
	require.Len(t, messages, 1)
	assert.Equal(t, "Leaver has left the server.", messages[0])
}

func TestHandleReactionAdd_IgnoresSelf(t *testing.T) {
	t.Parallel()
	cw, mockSession := newTestClanWarden(t)
	ctx := context.Background()

	cw.handleReactionAdd(
		ctx, &discordgo.MessageReactionAdd{
			MessageReaction: &discordgo.MessageReaction{
				UserID:    "bot-app-id",
				ChannelID: "channel-private",
				MessageID: "msg-1",
				Emoji:     discordgo.Emoji{Name: emojiFive},
			},
		},
	)
	assert.Empty(t, mockSession.messagesTo("channel-private"))
}

func TestHandleMessageCreate_ForwardsSubmission(t *testing.T) {
	t.Parallel()
	cw, mockSession := newTestClanWarden(t)
	ctx := context.Background()

	cw.handleMessageCreate(
		ctx, &discordgo.MessageCreate{
			Message: &discordgo.Message{
				ID:        "drop-msg",
				ChannelID: "channel-public",
				GuildID:   "guild-id",
				Author:    &discordgo.User{ID: "submitter"},
				Attachments: []*discordgo.MessageAttachment{
					{URL: "https://cdn.example/drop.png"},
				},
			},
		},
	)

	forwarded := mockSession.messagesTo("channel-private")
	require.Len(t, forwarded, 1)
	assert.Contains(t, forwarded[0], "<@submitter>")
	assert.Contains(t, forwarded[0], "https://cdn.example/drop.png")
	assert.Len(t, mockSession.reactionsAdded(), len(basePointEmojis))
}

func TestHandleMessageCreate_IgnoresBots(t *testing.T) {
	t.Parallel()
	cw, mockSession := newTestClanWarden(t)
	ctx := context.Background()

	cw.handleMessageCreate(
		ctx, &discordgo.MessageCreate{
			Message: &discordgo.Message{
				ID:        "bot-msg",
				ChannelID: "channel-public",
				GuildID:   "guild-id",
				Author:    &discordgo.User{ID: "other-bot", Bot: true},
				Attachments: []*discordgo.MessageAttachment{
					{URL: "https://cdn.example/drop.png"},
				},
			},
		},
	)
	assert.Empty(t, mockSession.messagesTo("channel-private"))
}

func TestIsSelf(t *testing.T) {
	t.Parallel()
	cw, _ := newTestClanWarden(t)

	// before Ready, the configured application ID is all we have
	assert.True(t, cw.isSelf("bot-app-id"))
	assert.False(t, cw.isSelf("someone-else"))
	assert.False(t, cw.isSelf(""))

	// once the gateway identifies the bot user, that wins
	ready := cw.discord.handlerReady()
	ready(nil, &discordgo.Ready{User: &discordgo.User{ID: "bot-user-id"}})
	assert.True(t, cw.isSelf("bot-user-id"))
	assert.False(t, cw.isSelf("bot-app-id"))
}

func TestEnsureDB_Reconnects(t *testing.T) {
	cw, _ := newTestClanWarden(t)
	ctx := context.Background()

	sqlDB, err := cw.store().DB().DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())
	require.Error(t, cw.store().Ping(ctx))

	require.NoError(t, cw.ensureDB(ctx))
	require.NoError(t, cw.store().Ping(ctx))
}

// TestStore_ConcurrentReconnect hammers store reads against handle swaps.
// The race detector fails this if either side skips the mutex.
func TestStore_ConcurrentReconnect(t *testing.T) {
	cw, _ := newTestClanWarden(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				_ = cw.store().Ping(ctx)
			}
		}()
	}
	for i := 0; i < 5; i++ {
		require.NoError(t, cw.initDB(ctx))
	}
	wg.Wait()
	require.NoError(t, cw.store().Ping(ctx))
}

// mockDiscordSession is a mock implementation of the DiscordSessionHandler
// interface. It records outbound calls instead of performing them, and
// serves channel/member/message fixtures set up by individual tests.
type mockDiscordSession struct {
	logger   *slog.Logger
	logLevel *slog.LevelVar

	mu                   sync.Mutex
	messageCounter       int
	channelCounter       int
	sentMessages         map[string][]string
	channelMessages      map[string]*discordgo.Message
	channels             map[string]*discordgo.Channel
	members              map[string]*discordgo.Member
	guildMembers         []*discordgo.Member
	nicknames            map[string]string
	addedReactions       []string
	removedReactions     []string
	sentFiles            map[string][]byte
	interactionResponses []*discordgo.InteractionResponse
}

var _ DiscordSessionHandler = (*mockDiscordSession)(nil)

func newMockDiscordSession() *mockDiscordSession {
	m := &mockDiscordSession{
		logLevel:        &slog.LevelVar{},
		sentMessages:    map[string][]string{},
		channelMessages: map[string]*discordgo.Message{},
		channels:        map[string]*discordgo.Channel{},
		members:         map[string]*discordgo.Member{},
		nicknames:       map[string]string{},
		sentFiles:       map[string][]byte{},
	}
	m.logLevel.Set(slog.LevelDebug)
	m.logger = slog.New(
		tintHandler(m.logLevel),
	).With(loggerNameKey, "mock_discord_session")
	return m
}

func messageKey(channelID string, messageID string) string {
	return channelID + "/" + messageID
}

func (d *mockDiscordSession) setChannelMessage(msg *discordgo.Message) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channelMessages[messageKey(msg.ChannelID, msg.ID)] = msg
}

func (d *mockDiscordSession) setChannel(channel *discordgo.Channel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channels[channel.ID] = channel
}

func (d *mockDiscordSession) setMember(member *discordgo.Member) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.members[member.User.ID] = member
}

func (d *mockDiscordSession) setGuildMembers(members []*discordgo.Member) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.guildMembers = members
}

func (d *mockDiscordSession) messagesTo(channelID string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string{}, d.sentMessages[channelID]...)
}

func (d *mockDiscordSession) reactionsAdded() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string{}, d.addedReactions...)
}

func (d *mockDiscordSession) reactionsRemoved() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string{}, d.removedReactions...)
}

func (d *mockDiscordSession) nicknameFor(userID string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.nicknames[userID]
}

func (d *mockDiscordSession) filesSent() map[string][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	files := map[string][]byte{}
	for name, content := range d.sentFiles {
		files[name] = content
	}
	return files
}

func (d *mockDiscordSession) responses() []*discordgo.InteractionResponse {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*discordgo.InteractionResponse{}, d.interactionResponses...)
}

func (d *mockDiscordSession) Open() error {
	d.logger.Info("mock: Open")
	return nil
}

func (d *mockDiscordSession) Close() error {
	d.logger.Info("mock: Close")
	return nil
}

func (d *mockDiscordSession) AddHandler(_ any) func() {
	return func() {}
}

func (d *mockDiscordSession) ChannelMessageSend(
	channelID string,
	message string,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messageCounter++
	msg := &discordgo.Message{
		ID:        fmt.Sprintf("mock-msg-%d", d.messageCounter),
		ChannelID: channelID,
		Content:   message,
	}
	d.sentMessages[channelID] = append(d.sentMessages[channelID], message)
	d.channelMessages[messageKey(channelID, msg.ID)] = msg
	return msg, nil
}

func (d *mockDiscordSession) ChannelFileSend(
	channelID string,
	name string,
	r io.Reader,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messageCounter++
	d.sentFiles[name] = content
	return &discordgo.Message{
		ID:        fmt.Sprintf("mock-msg-%d", d.messageCounter),
		ChannelID: channelID,
	}, nil
}

func (d *mockDiscordSession) ChannelMessage(
	channelID string,
	messageID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	msg, ok := d.channelMessages[messageKey(channelID, messageID)]
	if !ok {
		return nil, fmt.Errorf("mock: no message %s in channel %s", messageID, channelID)
	}
	return msg, nil
}

func (d *mockDiscordSession) Channel(
	channelID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	channel, ok := d.channels[channelID]
	if !ok {
		return nil, fmt.Errorf("mock: no channel %s", channelID)
	}
	return channel, nil
}

func (d *mockDiscordSession) GuildMembers(
	_ string,
	after string,
	limit int,
	_ ...discordgo.RequestOption,
) ([]*discordgo.Member, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	start := 0
	if after != "" {
		for i, member := range d.guildMembers {
			if member.User != nil && member.User.ID == after {
				start = i + 1
				break
			}
		}
	}
	end := start + limit
	if end > len(d.guildMembers) {
		end = len(d.guildMembers)
	}
	return d.guildMembers[start:end], nil
}

func (d *mockDiscordSession) GuildMember(
	_ string,
	userID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Member, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	member, ok := d.members[userID]
	if !ok {
		return nil, fmt.Errorf("mock: no member %s", userID)
	}
	return member, nil
}

func (d *mockDiscordSession) GuildMemberNickname(
	_ string,
	userID string,
	nickname string,
	_ ...discordgo.RequestOption,
) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nicknames[userID] = nickname
	return nil
}

func (d *mockDiscordSession) GuildChannelCreateComplex(
	_ string,
	data discordgo.GuildChannelCreateData,
	_ ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channelCounter++
	channel := &discordgo.Channel{
		ID:                   fmt.Sprintf("mock-channel-%d", d.channelCounter),
		Name:                 data.Name,
		Topic:                data.Topic,
		Type:                 data.Type,
		PermissionOverwrites: data.PermissionOverwrites,
	}
	d.channels[channel.ID] = channel
	return channel, nil
}

func (d *mockDiscordSession) MessageReactionAdd(
	channelID string,
	messageID string,
	emojiID string,
	_ ...discordgo.RequestOption,
) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.addedReactions = append(
		d.addedReactions,
		fmt.Sprintf("%s/%s/%s", channelID, messageID, emojiID),
	)
	return nil
}

func (d *mockDiscordSession) MessageReactionRemove(
	channelID string,
	messageID string,
	emojiID string,
	userID string,
	_ ...discordgo.RequestOption,
) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.removedReactions = append(
		d.removedReactions,
		fmt.Sprintf("%s/%s/%s/%s", channelID, messageID, emojiID, userID),
	)
	return nil
}

func (d *mockDiscordSession) ApplicationCommandBulkOverwrite(
	_ string,
	_ string,
	commands []*discordgo.ApplicationCommand,
	_ ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	return commands, nil
}

func (d *mockDiscordSession) InteractionRespond(
	_ *discordgo.Interaction,
	resp *discordgo.InteractionResponse,
	_ ...discordgo.RequestOption,
) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.interactionResponses = append(d.interactionResponses, resp)
	return nil
}

func (d *mockDiscordSession) UpdateCustomStatus(status string) error {
	d.logger.Info("mock: UpdateCustomStatus", "status", status)
	return nil
}

func (d *mockDiscordSession) SetLogLevel(lvl slog.Level) error {
	d.logLevel.Set(lvl)
	return nil
}

func TestMain(m *testing.M) {
	os.Exit(m.Run())
}
