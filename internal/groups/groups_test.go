package groups

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tgmcp/internal/ratelimit"
	"tgmcp/internal/statestore"
)

// fakeCaller substitutes the Telegram API with function fields. Calls
// without a configured handler fail loudly so tests notice unexpected
// traffic.
type fakeCaller struct {
	resolveUsername    func(ctx context.Context, username string) (*tg.ContactsResolvedPeer, error)
	getDialogs         func(ctx context.Context, limit int) (tg.MessagesDialogsClass, error)
	getFullChannel     func(ctx context.Context, ch *tg.InputChannel) (*tg.MessagesChatFull, error)
	getFullChat        func(ctx context.Context, chatID int64) (*tg.MessagesChatFull, error)
	getParticipants    func(ctx context.Context, ch *tg.InputChannel, filter tg.ChannelParticipantsFilterClass, offset, limit int) (*tg.ChannelsChannelParticipants, error)
	getParticipant     func(ctx context.Context, ch *tg.InputChannel, participant tg.InputPeerClass) (*tg.ChannelsChannelParticipant, error)
	getHistory         func(ctx context.Context, req *tg.MessagesGetHistoryRequest) (tg.MessagesMessagesClass, error)
	getChannelMessages func(ctx context.Context, ch *tg.InputChannel, ids []int) (tg.MessagesMessagesClass, error)
	getChatMessages    func(ctx context.Context, ids []int) (tg.MessagesMessagesClass, error)
	inviteToChannel    func(ctx context.Context, ch *tg.InputChannel, users []tg.InputUserClass) error
	addChatUser        func(ctx context.Context, chatID int64, user tg.InputUserClass) error
	editBanned         func(ctx context.Context, ch *tg.InputChannel, participant tg.InputPeerClass, rights tg.ChatBannedRights) error
	deleteChatUser     func(ctx context.Context, chatID int64, user tg.InputUserClass) error
	sendText           func(ctx context.Context, peer tg.InputPeerClass, text string) error
	sendDocument       func(ctx context.Context, peer tg.InputPeerClass, path, caption string) error
	download           func(ctx context.Context, loc tg.InputFileLocationClass, path string) error
}

func (f *fakeCaller) ResolveUsername(ctx context.Context, username string) (*tg.ContactsResolvedPeer, error) {
	if f.resolveUsername == nil {
		return nil, errors.New("unexpected ResolveUsername call")
	}
	return f.resolveUsername(ctx, username)
}

func (f *fakeCaller) GetDialogs(ctx context.Context, limit int) (tg.MessagesDialogsClass, error) {
	if f.getDialogs == nil {
		return nil, errors.New("unexpected GetDialogs call")
	}
	return f.getDialogs(ctx, limit)
}

func (f *fakeCaller) GetFullChannel(ctx context.Context, ch *tg.InputChannel) (*tg.MessagesChatFull, error) {
	if f.getFullChannel == nil {
		return nil, errors.New("unexpected GetFullChannel call")
	}
	return f.getFullChannel(ctx, ch)
}

func (f *fakeCaller) GetFullChat(ctx context.Context, chatID int64) (*tg.MessagesChatFull, error) {
	if f.getFullChat == nil {
		return nil, errors.New("unexpected GetFullChat call")
	}
	return f.getFullChat(ctx, chatID)
}

func (f *fakeCaller) GetParticipants(ctx context.Context, ch *tg.InputChannel, filter tg.ChannelParticipantsFilterClass, offset, limit int) (*tg.ChannelsChannelParticipants, error) {
	if f.getParticipants == nil {
		return nil, errors.New("unexpected GetParticipants call")
	}
	return f.getParticipants(ctx, ch, filter, offset, limit)
}

func (f *fakeCaller) GetParticipant(ctx context.Context, ch *tg.InputChannel, participant tg.InputPeerClass) (*tg.ChannelsChannelParticipant, error) {
	if f.getParticipant == nil {
		return nil, errors.New("unexpected GetParticipant call")
	}
	return f.getParticipant(ctx, ch, participant)
}

func (f *fakeCaller) GetHistory(ctx context.Context, req *tg.MessagesGetHistoryRequest) (tg.MessagesMessagesClass, error) {
	if f.getHistory == nil {
		return nil, errors.New("unexpected GetHistory call")
	}
	return f.getHistory(ctx, req)
}

func (f *fakeCaller) GetChannelMessages(ctx context.Context, ch *tg.InputChannel, ids []int) (tg.MessagesMessagesClass, error) {
	if f.getChannelMessages == nil {
		return nil, errors.New("unexpected GetChannelMessages call")
	}
	return f.getChannelMessages(ctx, ch, ids)
}

func (f *fakeCaller) GetChatMessages(ctx context.Context, ids []int) (tg.MessagesMessagesClass, error) {
	if f.getChatMessages == nil {
		return nil, errors.New("unexpected GetChatMessages call")
	}
	return f.getChatMessages(ctx, ids)
}

func (f *fakeCaller) InviteToChannel(ctx context.Context, ch *tg.InputChannel, users []tg.InputUserClass) error {
	if f.inviteToChannel == nil {
		return errors.New("unexpected InviteToChannel call")
	}
	return f.inviteToChannel(ctx, ch, users)
}

func (f *fakeCaller) AddChatUser(ctx context.Context, chatID int64, user tg.InputUserClass) error {
	if f.addChatUser == nil {
		return errors.New("unexpected AddChatUser call")
	}
	return f.addChatUser(ctx, chatID, user)
}

func (f *fakeCaller) EditBanned(ctx context.Context, ch *tg.InputChannel, participant tg.InputPeerClass, rights tg.ChatBannedRights) error {
	if f.editBanned == nil {
		return errors.New("unexpected EditBanned call")
	}
	return f.editBanned(ctx, ch, participant, rights)
}

func (f *fakeCaller) DeleteChatUser(ctx context.Context, chatID int64, user tg.InputUserClass) error {
	if f.deleteChatUser == nil {
		return errors.New("unexpected DeleteChatUser call")
	}
	return f.deleteChatUser(ctx, chatID, user)
}

func (f *fakeCaller) SendText(ctx context.Context, peer tg.InputPeerClass, text string) error {
	if f.sendText == nil {
		return errors.New("unexpected SendText call")
	}
	return f.sendText(ctx, peer, text)
}

func (f *fakeCaller) SendDocument(ctx context.Context, peer tg.InputPeerClass, path, caption string) error {
	if f.sendDocument == nil {
		return errors.New("unexpected SendDocument call")
	}
	return f.sendDocument(ctx, peer, path, caption)
}

func (f *fakeCaller) Download(ctx context.Context, loc tg.InputFileLocationClass, path string) error {
	if f.download == nil {
		return errors.New("unexpected Download call")
	}
	return f.download(ctx, loc, path)
}

func newTestManager(t *testing.T, api Caller, mutate func(*Config)) (*Manager, *ratelimit.Limiter) {
	t.Helper()
	dir := t.TempDir()
	lim := ratelimit.New(statestore.Open(zap.NewNop()), ratelimit.Config{
		RPS:            100,
		DMCap:          20,
		JoinCap:        20,
		GroupMsgCap:    30,
		GlobalMode:     "off",
		FloodThreshold: time.Minute,
		FloodCooldown:  15 * time.Minute,
		BucketFile:     filepath.Join(dir, "bucket.json"),
		CountersFile:   filepath.Join(dir, "counters.txt"),
		CircuitFile:    filepath.Join(dir, "circuit.json"),
	}, nil, zap.NewNop())

	cfg := Config{}
	if mutate != nil {
		mutate(&cfg)
	}
	m := NewManager(api, lim, cfg, zap.NewNop())
	m.sleep = func(context.Context, time.Duration) error { return nil }
	return m, lim
}

// dialogFixture bundles a megagroup, a broadcast channel, a small chat
// and one user dialog.
func dialogFixture() tg.MessagesDialogsClass {
	return &tg.MessagesDialogs{
		Dialogs: []tg.DialogClass{
			&tg.Dialog{Peer: &tg.PeerChannel{ChannelID: 1234567890}, UnreadCount: 3},
			&tg.Dialog{Peer: &tg.PeerChat{ChatID: 300}},
			&tg.Dialog{Peer: &tg.PeerUser{UserID: 101}, UnreadCount: 1},
			&tg.Dialog{Peer: &tg.PeerChannel{ChannelID: 1987654321}},
		},
		Chats: []tg.ChatClass{
			&tg.Channel{ID: 1234567890, AccessHash: 111, Title: "Ops Team", Username: "ops_team", ParticipantsCount: 42},
			&tg.Chat{ID: 300, Title: "Project Chat", ParticipantsCount: 5},
			&tg.Channel{ID: 1987654321, AccessHash: 112, Title: "Announcements", Username: "ann_feed", Broadcast: true, ParticipantsCount: 1200},
		},
		Users: []tg.UserClass{
			&tg.User{ID: 101, AccessHash: 113, Username: "alice_w", FirstName: "Alice", LastName: "W"},
		},
	}
}

func TestValidateIdentifier(t *testing.T) {
	cases := []struct {
		in string
		ok bool
	}{
		{"ops_team", true},
		{"@ops_team", true},
		{"-100123456", true},
		{"123456", true},
		{"", false},
		{"abc", false},                      // too short
		{"name with spaces", false},         // titles only resolve, not validate
		{"1invalid", false},                 // must start with a letter
		{"way_too_long_username_over_32_chars_x", false},
		{"bad-charwithdash", false},
	}
	for _, tc := range cases {
		err := ValidateIdentifier(tc.in)
		if tc.ok {
			assert.NoError(t, err, "identifier %q", tc.in)
		} else {
			assert.Error(t, err, "identifier %q", tc.in)
		}
	}
}

func TestResolveNumericForms(t *testing.T) {
	calls := 0
	api := &fakeCaller{
		getDialogs: func(ctx context.Context, limit int) (tg.MessagesDialogsClass, error) {
			calls++
			return dialogFixture(), nil
		},
	}
	m, _ := newTestManager(t, api, nil)
	ctx := context.Background()

	ent, err := m.Resolve(ctx, "-1001234567890")
	require.NoError(t, err)
	assert.Equal(t, KindChannel, ent.Kind)
	assert.Equal(t, int64(1234567890), ent.ID)

	ent, err = m.Resolve(ctx, "-300")
	require.NoError(t, err)
	assert.Equal(t, KindChat, ent.Kind)

	ent, err = m.Resolve(ctx, "1234567890")
	require.NoError(t, err)
	assert.Equal(t, KindChannel, ent.Kind)

	_, err = m.Resolve(ctx, "-1009999999999")
	assert.Error(t, err, "unknown peer must not resolve")

	// Cache hit: the marked channel id was already resolved.
	before := calls
	_, err = m.Resolve(ctx, "-1001234567890")
	require.NoError(t, err)
	assert.Equal(t, before, calls, "cached resolution must not rescan dialogs")
}

func TestResolveByExactTitle(t *testing.T) {
	api := &fakeCaller{
		getDialogs: func(ctx context.Context, limit int) (tg.MessagesDialogsClass, error) {
			return dialogFixture(), nil
		},
	}
	m, _ := newTestManager(t, api, nil)

	ent, err := m.Resolve(context.Background(), "ops team")
	require.NoError(t, err)
	assert.Equal(t, int64(1234567890), ent.ID)

	_, err = m.Resolve(context.Background(), "No Such Group")
	assert.Error(t, err)
}

func TestResolveUsernameTypedPayloads(t *testing.T) {
	api := &fakeCaller{
		resolveUsername: func(ctx context.Context, username string) (*tg.ContactsResolvedPeer, error) {
			switch username {
			case "ann_feed":
				return &tg.ContactsResolvedPeer{
					Peer:  &tg.PeerChannel{ChannelID: 1987654321},
					Chats: []tg.ChatClass{&tg.Channel{ID: 1987654321, AccessHash: 112, Title: "Announcements", Username: "ann_feed", Broadcast: true, ParticipantsCount: 1200}},
				}, nil
			case "ops_team":
				return &tg.ContactsResolvedPeer{
					Peer:  &tg.PeerChannel{ChannelID: 1234567890},
					Chats: []tg.ChatClass{&tg.Channel{ID: 1234567890, AccessHash: 111, Title: "Ops Team", Username: "ops_team", ParticipantsCount: 42}},
				}, nil
			case "alice_w":
				return &tg.ContactsResolvedPeer{
					Peer:  &tg.PeerUser{UserID: 101},
					Users: []tg.UserClass{&tg.User{ID: 101, AccessHash: 113, Username: "alice_w", FirstName: "Alice", Premium: true}},
				}, nil
			}
			return nil, tgerr.New(400, "USERNAME_NOT_OCCUPIED")
		},
	}
	m, _ := newTestManager(t, api, nil)
	ctx := context.Background()

	peer, err := m.ResolveUsername(ctx, "@ann_feed")
	require.NoError(t, err)
	assert.Equal(t, "channel", peer.Type)
	assert.Equal(t, 1200, peer.ParticipantsCount)

	peer, err = m.ResolveUsername(ctx, "ops_team")
	require.NoError(t, err)
	assert.Equal(t, "supergroup", peer.Type)

	peer, err = m.ResolveUsername(ctx, "alice_w")
	require.NoError(t, err)
	assert.Equal(t, "user", peer.Type)
	assert.True(t, peer.IsPremium)
	assert.Empty(t, peer.Title)

	_, err = m.ResolveUsername(ctx, "@gone_user")
	assert.Error(t, err)
}

func TestGroupInfoBackfillsParticipantsCount(t *testing.T) {
	api := &fakeCaller{
		resolveUsername: func(ctx context.Context, username string) (*tg.ContactsResolvedPeer, error) {
			// The short peer lacks the count; full info must fill it.
			return &tg.ContactsResolvedPeer{
				Peer:  &tg.PeerChannel{ChannelID: 1234567890},
				Chats: []tg.ChatClass{&tg.Channel{ID: 1234567890, AccessHash: 111, Title: "Ops Team", Username: "ops_team"}},
			}, nil
		},
		getFullChannel: func(ctx context.Context, ch *tg.InputChannel) (*tg.MessagesChatFull, error) {
			require.Equal(t, int64(1234567890), ch.ChannelID)
			full := &tg.ChannelFull{}
			full.SetParticipantsCount(321)
			return &tg.MessagesChatFull{FullChat: full}, nil
		},
	}
	m, _ := newTestManager(t, api, nil)

	info, err := m.GroupInfo(context.Background(), "ops_team")
	require.NoError(t, err)
	assert.Equal(t, 321, info.ParticipantsCount)
	assert.Equal(t, "channel", info.Type)
	assert.Equal(t, int64(1234567890), info.ID)
}

func TestGroupInfoRejectsUsers(t *testing.T) {
	api := &fakeCaller{
		resolveUsername: func(ctx context.Context, username string) (*tg.ContactsResolvedPeer, error) {
			return &tg.ContactsResolvedPeer{
				Peer:  &tg.PeerUser{UserID: 101},
				Users: []tg.UserClass{&tg.User{ID: 101, Username: "alice_w"}},
			}, nil
		},
	}
	m, _ := newTestManager(t, api, nil)

	_, err := m.GroupInfo(context.Background(), "alice_w")
	assert.ErrorContains(t, err, "not a group")
}

func channelResolver(id int64, hash int64, username string) func(context.Context, string) (*tg.ContactsResolvedPeer, error) {
	return func(ctx context.Context, name string) (*tg.ContactsResolvedPeer, error) {
		return &tg.ContactsResolvedPeer{
			Peer:  &tg.PeerChannel{ChannelID: id},
			Chats: []tg.ChatClass{&tg.Channel{ID: id, AccessHash: hash, Title: "Ops Team", Username: username, ParticipantsCount: 42}},
		}, nil
	}
}

func TestParticipantsSkipsBots(t *testing.T) {
	var gotFilter tg.ChannelParticipantsFilterClass
	api := &fakeCaller{
		resolveUsername: channelResolver(1234567890, 111, "ops_team"),
		getParticipants: func(ctx context.Context, ch *tg.InputChannel, filter tg.ChannelParticipantsFilterClass, offset, limit int) (*tg.ChannelsChannelParticipants, error) {
			gotFilter = filter
			return &tg.ChannelsChannelParticipants{
				Count: 3,
				Participants: []tg.ChannelParticipantClass{
					&tg.ChannelParticipant{UserID: 101},
					&tg.ChannelParticipant{UserID: 102},
					&tg.ChannelParticipant{UserID: 103},
				},
				Users: []tg.UserClass{
					&tg.User{ID: 101, Username: "alice_w", FirstName: "Alice", Premium: true},
					&tg.User{ID: 102, Username: "helper_bot", Bot: true},
					&tg.User{ID: 103, FirstName: "Bob", Verified: true},
				},
			}, nil
		},
	}
	m, _ := newTestManager(t, api, nil)

	parts, err := m.Participants(context.Background(), "ops_team", 50)
	require.NoError(t, err)
	require.Len(t, parts, 2, "bots are excluded")
	assert.Equal(t, "alice_w", parts[0].Username)
	assert.True(t, parts[0].IsPremium)
	assert.True(t, parts[1].IsVerified)
	assert.IsType(t, &tg.ChannelParticipantsRecent{}, gotFilter)
}

func TestSearchParticipantsUsesServerFilter(t *testing.T) {
	api := &fakeCaller{
		resolveUsername: channelResolver(1234567890, 111, "ops_team"),
		getParticipants: func(ctx context.Context, ch *tg.InputChannel, filter tg.ChannelParticipantsFilterClass, offset, limit int) (*tg.ChannelsChannelParticipants, error) {
			search, ok := filter.(*tg.ChannelParticipantsSearch)
			require.True(t, ok, "search must use the server-side filter")
			assert.Equal(t, "alice", search.Q)
			return &tg.ChannelsChannelParticipants{
				Count:        1,
				Participants: []tg.ChannelParticipantClass{&tg.ChannelParticipant{UserID: 101}},
				Users:        []tg.UserClass{&tg.User{ID: 101, Username: "alice_w"}},
			}, nil
		},
	}
	m, _ := newTestManager(t, api, nil)

	parts, err := m.SearchParticipants(context.Background(), "ops_team", "alice", 10)
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, int64(101), parts[0].ID)
}

func TestChatParticipantsLocalSearch(t *testing.T) {
	api := &fakeCaller{
		getDialogs: func(ctx context.Context, limit int) (tg.MessagesDialogsClass, error) {
			return dialogFixture(), nil
		},
		getFullChat: func(ctx context.Context, chatID int64) (*tg.MessagesChatFull, error) {
			require.Equal(t, int64(300), chatID)
			return &tg.MessagesChatFull{
				FullChat: &tg.ChatFull{
					ID: 300,
					Participants: &tg.ChatParticipants{
						ChatID: 300,
						Participants: []tg.ChatParticipantClass{
							&tg.ChatParticipantCreator{UserID: 101},
							&tg.ChatParticipant{UserID: 104},
						},
					},
				},
				Users: []tg.UserClass{
					&tg.User{ID: 101, Username: "alice_w", FirstName: "Alice"},
					&tg.User{ID: 104, FirstName: "Carol"},
				},
			}, nil
		},
	}
	m, _ := newTestManager(t, api, nil)

	parts, err := m.SearchParticipants(context.Background(), "-300", "carol", 10)
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, int64(104), parts[0].ID)
}

func TestExportParticipantsCSV(t *testing.T) {
	api := &fakeCaller{
		resolveUsername: channelResolver(1234567890, 111, "ops_team"),
		getParticipants: func(ctx context.Context, ch *tg.InputChannel, filter tg.ChannelParticipantsFilterClass, offset, limit int) (*tg.ChannelsChannelParticipants, error) {
			return &tg.ChannelsChannelParticipants{
				Count:        1,
				Participants: []tg.ChannelParticipantClass{&tg.ChannelParticipant{UserID: 101}},
				Users:        []tg.UserClass{&tg.User{ID: 101, Username: "alice_w", FirstName: "Alice", Premium: true}},
			}, nil
		},
	}
	m, _ := newTestManager(t, api, nil)
	path := filepath.Join(t.TempDir(), "export", "members.csv")

	n, err := m.ExportParticipantsCSV(context.Background(), "ops_team", path, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, "101", rows[1][0])
	assert.Equal(t, "alice_w", rows[1][1])
	assert.Equal(t, "true", rows[1][6])
}

func TestExportParticipantsCSVEmptyWritesNothing(t *testing.T) {
	api := &fakeCaller{
		resolveUsername: channelResolver(1234567890, 111, "ops_team"),
		getParticipants: func(ctx context.Context, ch *tg.InputChannel, filter tg.ChannelParticipantsFilterClass, offset, limit int) (*tg.ChannelsChannelParticipants, error) {
			return &tg.ChannelsChannelParticipants{}, nil
		},
	}
	m, _ := newTestManager(t, api, nil)
	path := filepath.Join(t.TempDir(), "members.csv")

	n, err := m.ExportParticipantsCSV(context.Background(), "ops_team", path, 100)
	require.NoError(t, err)
	assert.Zero(t, n)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "empty export must not create a file")
}

func TestMessagesSkipsServiceAndEmpty(t *testing.T) {
	text := &tg.Message{ID: 30, Date: 1700000300, Message: "deploy done"}
	text.SetFromID(&tg.PeerUser{UserID: 101})
	text.SetViews(7)

	reply := &tg.Message{ID: 29, Date: 1700000200, Message: "ack"}
	hdr := &tg.MessageReplyHeader{}
	hdr.SetReplyToMsgID(28)
	reply.SetReplyTo(hdr)

	forwarded := &tg.Message{ID: 28, Date: 1700000100, Message: "heads up"}
	fwd := tg.MessageFwdHeader{Date: 1699990000}
	fwd.SetFromID(&tg.PeerChannel{ChannelID: 1987654321})
	fwd.SetChannelPost(9)
	forwarded.SetFwdFrom(fwd)

	photoMsg := &tg.Message{ID: 27, Date: 1700000000}
	photoMedia := &tg.MessageMediaPhoto{}
	photoMedia.SetPhoto(&tg.Photo{ID: 1})
	photoMsg.SetMedia(photoMedia)

	service := &tg.MessageService{ID: 26, Date: 1699999000}
	empty := &tg.Message{ID: 25, Date: 1699998000}

	api := &fakeCaller{
		resolveUsername: channelResolver(1234567890, 111, "ops_team"),
		getHistory: func(ctx context.Context, req *tg.MessagesGetHistoryRequest) (tg.MessagesMessagesClass, error) {
			return &tg.MessagesChannelMessages{
				Count:    6,
				Messages: []tg.MessageClass{text, reply, forwarded, photoMsg, service, empty},
				Chats:    []tg.ChatClass{&tg.Channel{ID: 1987654321, Title: "Announcements", Username: "ann_feed", Broadcast: true}},
			}, nil
		},
	}
	m, _ := newTestManager(t, api, nil)

	msgs, err := m.Messages(context.Background(), "ops_team", 50, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 4, "service and empty messages are dropped")

	assert.Equal(t, 30, msgs[0].ID)
	assert.Equal(t, int64(101), msgs[0].FromID)
	assert.Equal(t, 7, msgs[0].Views)

	assert.True(t, msgs[1].IsReply)
	assert.Equal(t, 28, msgs[1].ReplyToMsgID)

	require.NotNil(t, msgs[2].FwdFrom)
	assert.Equal(t, int64(1987654321), msgs[2].FwdFrom.FromID)
	assert.Equal(t, "channel", msgs[2].FwdFrom.FromType)
	assert.Equal(t, "ann_feed", msgs[2].FwdFrom.FromUsername)
	assert.Equal(t, "Announcements", msgs[2].FwdFrom.FromName)
	assert.Equal(t, 9, msgs[2].FwdFrom.ChannelPost)

	assert.True(t, msgs[3].HasMedia)
	assert.Equal(t, "photo", msgs[3].MediaType)
}

func TestMessagesHonorsMinID(t *testing.T) {
	api := &fakeCaller{
		resolveUsername: channelResolver(1234567890, 111, "ops_team"),
		getHistory: func(ctx context.Context, req *tg.MessagesGetHistoryRequest) (tg.MessagesMessagesClass, error) {
			assert.Equal(t, 25, req.MinID)
			msg := &tg.Message{ID: 30, Date: 1700000300, Message: "after checkpoint"}
			return &tg.MessagesChannelMessages{Count: 1, Messages: []tg.MessageClass{msg}}, nil
		},
	}
	m, _ := newTestManager(t, api, nil)

	msgs, err := m.Messages(context.Background(), "ops_team", 10, 25)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}

func TestMessageCount(t *testing.T) {
	api := &fakeCaller{
		resolveUsername: channelResolver(1234567890, 111, "ops_team"),
		getHistory: func(ctx context.Context, req *tg.MessagesGetHistoryRequest) (tg.MessagesMessagesClass, error) {
			assert.Equal(t, 1, req.Limit)
			return &tg.MessagesChannelMessages{Count: 52341}, nil
		},
	}
	m, _ := newTestManager(t, api, nil)

	count, err := m.MessageCount(context.Background(), "ops_team")
	require.NoError(t, err)
	assert.Equal(t, 52341, count)
}

func TestCreationDateUsesOldestMessage(t *testing.T) {
	created := time.Date(2021, 3, 14, 9, 26, 53, 0, time.UTC)
	api := &fakeCaller{
		resolveUsername: channelResolver(1234567890, 111, "ops_team"),
		getHistory: func(ctx context.Context, req *tg.MessagesGetHistoryRequest) (tg.MessagesMessagesClass, error) {
			assert.Equal(t, 1, req.OffsetID)
			assert.Equal(t, -1, req.AddOffset)
			assert.Equal(t, 1, req.Limit)
			svc := &tg.MessageService{ID: 1, Date: int(created.Unix())}
			return &tg.MessagesChannelMessages{Count: 1, Messages: []tg.MessageClass{svc}}, nil
		},
	}
	m, _ := newTestManager(t, api, nil)

	got, err := m.CreationDate(context.Background(), "ops_team")
	require.NoError(t, err)
	assert.Equal(t, created, got)
}

func TestDialogsFilterAndMarkedIDs(t *testing.T) {
	api := &fakeCaller{
		getDialogs: func(ctx context.Context, limit int) (tg.MessagesDialogsClass, error) {
			return dialogFixture(), nil
		},
	}
	m, _ := newTestManager(t, api, nil)
	ctx := context.Background()

	all, err := m.Dialogs(ctx, 100, "all")
	require.NoError(t, err)
	assert.Len(t, all, 4)

	groupsOnly, err := m.Dialogs(ctx, 100, "group")
	require.NoError(t, err)
	require.Len(t, groupsOnly, 2, "megagroup and small chat count as groups")
	assert.Equal(t, int64(-1001234567890), groupsOnly[0].ID)
	assert.Equal(t, int64(-300), groupsOnly[1].ID)

	channels, err := m.Dialogs(ctx, 100, "channel")
	require.NoError(t, err)
	require.Len(t, channels, 1, "only broadcast channels count as channels")
	assert.Equal(t, "Announcements", channels[0].Title)

	users, err := m.Dialogs(ctx, 100, "user")
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, int64(101), users[0].ID)
	assert.Equal(t, 1, users[0].UnreadCount)
}

func TestUserByIDScansDialogs(t *testing.T) {
	api := &fakeCaller{
		getDialogs: func(ctx context.Context, limit int) (tg.MessagesDialogsClass, error) {
			return dialogFixture(), nil
		},
	}
	m, _ := newTestManager(t, api, nil)

	user, err := m.UserByID(context.Background(), 101)
	require.NoError(t, err)
	assert.Equal(t, "alice_w", user.Username)
	assert.Equal(t, "Alice", user.FirstName)

	_, err = m.UserByID(context.Background(), 999)
	assert.ErrorContains(t, err, "not found in recent dialogs")
}

func notParticipant() error { return tgerr.New(400, "USER_NOT_PARTICIPANT") }

func memberTestCaller(t *testing.T) *fakeCaller {
	t.Helper()
	return &fakeCaller{
		resolveUsername: func(ctx context.Context, name string) (*tg.ContactsResolvedPeer, error) {
			switch name {
			case "ops_team":
				return &tg.ContactsResolvedPeer{
					Peer:  &tg.PeerChannel{ChannelID: 1234567890},
					Chats: []tg.ChatClass{&tg.Channel{ID: 1234567890, AccessHash: 111, Title: "Ops Team", Username: "ops_team"}},
				}, nil
			case "alice_w":
				return &tg.ContactsResolvedPeer{
					Peer:  &tg.PeerUser{UserID: 101},
					Users: []tg.UserClass{&tg.User{ID: 101, AccessHash: 113, Username: "alice_w"}},
				}, nil
			case "bob_m":
				return &tg.ContactsResolvedPeer{
					Peer:  &tg.PeerUser{UserID: 102},
					Users: []tg.UserClass{&tg.User{ID: 102, AccessHash: 114, Username: "bob_m"}},
				}, nil
			}
			return nil, tgerr.New(400, "USERNAME_NOT_OCCUPIED")
		},
	}
}

func TestAddMemberDryRunResolvesOnly(t *testing.T) {
	api := memberTestCaller(t)
	m, lim := newTestManager(t, api, nil)

	res, err := m.AddMember(context.Background(), "ops_team", "alice_w", true)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.DryRun)
	assert.Equal(t, int64(1234567890), res.GroupID)
	assert.Equal(t, "channel", res.GroupType)
	assert.Equal(t, int64(101), res.UserID)

	u, err := lim.Counters().Snapshot()
	require.NoError(t, err)
	assert.Zero(t, u.Joins, "dry run must not spend join quota")
}

func TestAddMemberAlreadyMemberSkipsInvite(t *testing.T) {
	api := memberTestCaller(t)
	api.getParticipant = func(ctx context.Context, ch *tg.InputChannel, participant tg.InputPeerClass) (*tg.ChannelsChannelParticipant, error) {
		return &tg.ChannelsChannelParticipant{
			Participant: &tg.ChannelParticipant{UserID: 101},
		}, nil
	}
	m, lim := newTestManager(t, api, nil)

	res, err := m.AddMember(context.Background(), "ops_team", "alice_w", false)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.AlreadyMember)

	u, err := lim.Counters().Snapshot()
	require.NoError(t, err)
	assert.Zero(t, u.Joins, "existing membership must not spend join quota")
}

func TestAddMemberInvitesAndCountsJoin(t *testing.T) {
	invited := false
	api := memberTestCaller(t)
	api.getParticipant = func(ctx context.Context, ch *tg.InputChannel, participant tg.InputPeerClass) (*tg.ChannelsChannelParticipant, error) {
		return nil, notParticipant()
	}
	api.inviteToChannel = func(ctx context.Context, ch *tg.InputChannel, users []tg.InputUserClass) error {
		invited = true
		require.Len(t, users, 1)
		input, ok := users[0].(*tg.InputUser)
		require.True(t, ok)
		assert.Equal(t, int64(101), input.UserID)
		return nil
	}
	m, lim := newTestManager(t, api, nil)

	res, err := m.AddMember(context.Background(), "ops_team", "alice_w", false)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.False(t, res.AlreadyMember)
	assert.True(t, invited)

	u, err := lim.Counters().Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 1, u.Joins)
}

func TestRemoveMemberNotParticipantSkipsKick(t *testing.T) {
	api := memberTestCaller(t)
	api.getParticipant = func(ctx context.Context, ch *tg.InputChannel, participant tg.InputPeerClass) (*tg.ChannelsChannelParticipant, error) {
		return nil, notParticipant()
	}
	m, lim := newTestManager(t, api, nil)

	res, err := m.RemoveMember(context.Background(), "ops_team", "alice_w", false)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.NotParticipant)

	u, err := lim.Counters().Snapshot()
	require.NoError(t, err)
	assert.Zero(t, u.Joins)
}

func TestRemoveMemberChannelBanThenUnban(t *testing.T) {
	var rights []tg.ChatBannedRights
	api := memberTestCaller(t)
	api.getParticipant = func(ctx context.Context, ch *tg.InputChannel, participant tg.InputPeerClass) (*tg.ChannelsChannelParticipant, error) {
		return &tg.ChannelsChannelParticipant{Participant: &tg.ChannelParticipant{UserID: 101}}, nil
	}
	api.editBanned = func(ctx context.Context, ch *tg.InputChannel, participant tg.InputPeerClass, r tg.ChatBannedRights) error {
		rights = append(rights, r)
		return nil
	}
	m, lim := newTestManager(t, api, nil)

	res, err := m.RemoveMember(context.Background(), "ops_team", "alice_w", false)
	require.NoError(t, err)
	assert.True(t, res.Success)
	require.Len(t, rights, 2, "kick needs the ban+unban pair")
	assert.True(t, rights[0].ViewMessages)
	assert.False(t, rights[1].ViewMessages)

	u, err := lim.Counters().Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 2, u.Joins)
}

func TestMigrateMemberRejectsSameUser(t *testing.T) {
	m, _ := newTestManager(t, &fakeCaller{}, nil)

	res, err := m.MigrateMember(context.Background(), "ops_team", "alice_w", "@Alice_W", false)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "same")
}

func TestMigrateMemberAddFailureAborts(t *testing.T) {
	removed := false
	api := memberTestCaller(t)
	api.getParticipant = func(ctx context.Context, ch *tg.InputChannel, participant tg.InputPeerClass) (*tg.ChannelsChannelParticipant, error) {
		return nil, notParticipant()
	}
	api.inviteToChannel = func(ctx context.Context, ch *tg.InputChannel, users []tg.InputUserClass) error {
		return tgerr.New(403, "CHAT_WRITE_FORBIDDEN")
	}
	api.editBanned = func(ctx context.Context, ch *tg.InputChannel, participant tg.InputPeerClass, r tg.ChatBannedRights) error {
		removed = true
		return nil
	}
	m, _ := newTestManager(t, api, nil)

	res, err := m.MigrateMember(context.Background(), "ops_team", "alice_w", "bob_m", false)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "old user was not removed")
	require.NotNil(t, res.AddNewUser)
	assert.Contains(t, res.AddNewUser.Error, "CHAT_WRITE_FORBIDDEN")
	assert.Nil(t, res.RemoveOldUser)
	assert.False(t, removed, "the old account must stay when the add fails")
}

func TestMigrateMemberSwapsAccounts(t *testing.T) {
	api := memberTestCaller(t)
	membership := map[int64]bool{101: true} // alice in, bob out
	api.getParticipant = func(ctx context.Context, ch *tg.InputChannel, participant tg.InputPeerClass) (*tg.ChannelsChannelParticipant, error) {
		peer, ok := participant.(*tg.InputPeerUser)
		require.True(t, ok)
		if membership[peer.UserID] {
			return &tg.ChannelsChannelParticipant{Participant: &tg.ChannelParticipant{UserID: peer.UserID}}, nil
		}
		return nil, notParticipant()
	}
	api.inviteToChannel = func(ctx context.Context, ch *tg.InputChannel, users []tg.InputUserClass) error {
		membership[102] = true
		return nil
	}
	api.editBanned = func(ctx context.Context, ch *tg.InputChannel, participant tg.InputPeerClass, r tg.ChatBannedRights) error {
		return nil
	}
	m, _ := newTestManager(t, api, nil)

	res, err := m.MigrateMember(context.Background(), "ops_team", "alice_w", "bob_m", false)
	require.NoError(t, err)
	assert.True(t, res.Success)
	require.NotNil(t, res.AddNewUser)
	require.NotNil(t, res.RemoveOldUser)
	assert.True(t, res.AddNewUser.Success)
	assert.True(t, res.RemoveOldUser.Success)
}

func TestSendMessageBoundsAndQuota(t *testing.T) {
	sent := ""
	api := memberTestCaller(t)
	api.sendText = func(ctx context.Context, peer tg.InputPeerClass, text string) error {
		sent = text
		return nil
	}
	m, lim := newTestManager(t, api, func(cfg *Config) { cfg.MaxMessageLen = 10 })
	ctx := context.Background()

	require.NoError(t, m.SendMessage(ctx, "ops_team", "short one"))
	assert.Equal(t, "short one", sent)

	u, err := lim.Counters().Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 1, u.GroupMsgs)

	assert.ErrorContains(t, m.SendMessage(ctx, "ops_team", "this is far too long"), "too long")
	assert.ErrorContains(t, m.SendMessage(ctx, "ops_team", "   "), "empty")
}

func TestSendFileBounds(t *testing.T) {
	api := memberTestCaller(t)
	api.sendDocument = func(ctx context.Context, peer tg.InputPeerClass, path, caption string) error {
		return nil
	}
	m, _ := newTestManager(t, api, func(cfg *Config) { cfg.MaxFileBytes = 8 })
	ctx := context.Background()
	dir := t.TempDir()

	small := filepath.Join(dir, "small.txt")
	require.NoError(t, os.WriteFile(small, []byte("tiny"), 0o600))
	require.NoError(t, m.SendFile(ctx, "ops_team", small, "cap"))

	big := filepath.Join(dir, "big.bin")
	require.NoError(t, os.WriteFile(big, []byte("way over the limit"), 0o600))
	assert.ErrorContains(t, m.SendFile(ctx, "ops_team", big, ""), "too large")

	assert.Error(t, m.SendFile(ctx, "ops_team", filepath.Join(dir, "missing.bin"), ""))
}

func TestDownloadMediaDocument(t *testing.T) {
	msg := &tg.Message{ID: 42, Date: 1700000000}
	media := &tg.MessageMediaDocument{}
	media.SetDocument(&tg.Document{
		ID:            9,
		AccessHash:    10,
		FileReference: []byte{1},
		Attributes:    []tg.DocumentAttributeClass{&tg.DocumentAttributeFilename{FileName: "../report.pdf"}},
	})
	msg.SetMedia(media)

	var gotLoc tg.InputFileLocationClass
	api := memberTestCaller(t)
	api.getChannelMessages = func(ctx context.Context, ch *tg.InputChannel, ids []int) (tg.MessagesMessagesClass, error) {
		require.Equal(t, []int{42}, ids)
		return &tg.MessagesChannelMessages{Count: 1, Messages: []tg.MessageClass{msg}}, nil
	}
	api.download = func(ctx context.Context, loc tg.InputFileLocationClass, path string) error {
		gotLoc = loc
		return os.WriteFile(path, []byte("content"), 0o600)
	}
	m, _ := newTestManager(t, api, nil)
	dir := t.TempDir()

	path, err := m.DownloadMedia(context.Background(), "ops_team", 42, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "report.pdf"), path, "filename attribute is sanitized")

	doc, ok := gotLoc.(*tg.InputDocumentFileLocation)
	require.True(t, ok)
	assert.Equal(t, int64(9), doc.ID)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "content", string(data))
}

func TestDownloadMediaNoMedia(t *testing.T) {
	api := memberTestCaller(t)
	api.getChannelMessages = func(ctx context.Context, ch *tg.InputChannel, ids []int) (tg.MessagesMessagesClass, error) {
		return &tg.MessagesChannelMessages{
			Count:    1,
			Messages: []tg.MessageClass{&tg.Message{ID: 42, Message: "plain text"}},
		}, nil
	}
	m, _ := newTestManager(t, api, nil)

	_, err := m.DownloadMedia(context.Background(), "ops_team", 42, t.TempDir())
	assert.ErrorContains(t, err, "no media")
}
