package groups

import (
	"context"
	"path/filepath"

	"github.com/go-faster/errors"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/telegram/message/styling"
	"github.com/gotd/td/telegram/uploader"
	"github.com/gotd/td/tg"
)

// Caller is the Telegram API surface the manager needs. Production
// wraps *tg.Client plus the uploader, downloader and message sender
// helpers; tests substitute a fake.
type Caller interface {
	ResolveUsername(ctx context.Context, username string) (*tg.ContactsResolvedPeer, error)
	GetDialogs(ctx context.Context, limit int) (tg.MessagesDialogsClass, error)
	GetFullChannel(ctx context.Context, ch *tg.InputChannel) (*tg.MessagesChatFull, error)
	GetFullChat(ctx context.Context, chatID int64) (*tg.MessagesChatFull, error)
	GetParticipants(ctx context.Context, ch *tg.InputChannel, filter tg.ChannelParticipantsFilterClass, offset, limit int) (*tg.ChannelsChannelParticipants, error)
	GetParticipant(ctx context.Context, ch *tg.InputChannel, participant tg.InputPeerClass) (*tg.ChannelsChannelParticipant, error)
	GetHistory(ctx context.Context, req *tg.MessagesGetHistoryRequest) (tg.MessagesMessagesClass, error)
	GetChannelMessages(ctx context.Context, ch *tg.InputChannel, ids []int) (tg.MessagesMessagesClass, error)
	GetChatMessages(ctx context.Context, ids []int) (tg.MessagesMessagesClass, error)
	InviteToChannel(ctx context.Context, ch *tg.InputChannel, users []tg.InputUserClass) error
	AddChatUser(ctx context.Context, chatID int64, user tg.InputUserClass) error
	EditBanned(ctx context.Context, ch *tg.InputChannel, participant tg.InputPeerClass, rights tg.ChatBannedRights) error
	DeleteChatUser(ctx context.Context, chatID int64, user tg.InputUserClass) error
	SendText(ctx context.Context, peer tg.InputPeerClass, text string) error
	SendDocument(ctx context.Context, peer tg.InputPeerClass, path, caption string) error
	Download(ctx context.Context, loc tg.InputFileLocationClass, path string) error
}

type gotdCaller struct {
	api      *tg.Client
	sender   *message.Sender
	upload   *uploader.Uploader
	download *downloader.Downloader
}

// NewCaller wraps a gotd RPC client with the helper stack.
func NewCaller(api *tg.Client) Caller {
	up := uploader.NewUploader(api)
	return &gotdCaller{
		api:      api,
		sender:   message.NewSender(api).WithUploader(up),
		upload:   up,
		download: downloader.NewDownloader(),
	}
}

func (c *gotdCaller) ResolveUsername(ctx context.Context, username string) (*tg.ContactsResolvedPeer, error) {
	return c.api.ContactsResolveUsername(ctx, username)
}

func (c *gotdCaller) GetDialogs(ctx context.Context, limit int) (tg.MessagesDialogsClass, error) {
	return c.api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
		OffsetPeer: &tg.InputPeerEmpty{},
		Limit:      limit,
	})
}

func (c *gotdCaller) GetFullChannel(ctx context.Context, ch *tg.InputChannel) (*tg.MessagesChatFull, error) {
	return c.api.ChannelsGetFullChannel(ctx, ch)
}

func (c *gotdCaller) GetFullChat(ctx context.Context, chatID int64) (*tg.MessagesChatFull, error) {
	return c.api.MessagesGetFullChat(ctx, chatID)
}

func (c *gotdCaller) GetParticipants(ctx context.Context, ch *tg.InputChannel, filter tg.ChannelParticipantsFilterClass, offset, limit int) (*tg.ChannelsChannelParticipants, error) {
	res, err := c.api.ChannelsGetParticipants(ctx, &tg.ChannelsGetParticipantsRequest{
		Channel: ch,
		Filter:  filter,
		Offset:  offset,
		Limit:   limit,
	})
	if err != nil {
		return nil, err
	}
	page, ok := res.(*tg.ChannelsChannelParticipants)
	if !ok {
		return nil, errors.Errorf("unexpected participants response %T", res)
	}
	return page, nil
}

func (c *gotdCaller) GetParticipant(ctx context.Context, ch *tg.InputChannel, participant tg.InputPeerClass) (*tg.ChannelsChannelParticipant, error) {
	return c.api.ChannelsGetParticipant(ctx, &tg.ChannelsGetParticipantRequest{
		Channel:     ch,
		Participant: participant,
	})
}

func (c *gotdCaller) GetHistory(ctx context.Context, req *tg.MessagesGetHistoryRequest) (tg.MessagesMessagesClass, error) {
	return c.api.MessagesGetHistory(ctx, req)
}

func (c *gotdCaller) GetChannelMessages(ctx context.Context, ch *tg.InputChannel, ids []int) (tg.MessagesMessagesClass, error) {
	return c.api.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
		Channel: ch,
		ID:      inputMessageIDs(ids),
	})
}

func (c *gotdCaller) GetChatMessages(ctx context.Context, ids []int) (tg.MessagesMessagesClass, error) {
	return c.api.MessagesGetMessages(ctx, inputMessageIDs(ids))
}

func inputMessageIDs(ids []int) []tg.InputMessageClass {
	out := make([]tg.InputMessageClass, len(ids))
	for i, id := range ids {
		out[i] = &tg.InputMessageID{ID: id}
	}
	return out
}

func (c *gotdCaller) InviteToChannel(ctx context.Context, ch *tg.InputChannel, users []tg.InputUserClass) error {
	_, err := c.api.ChannelsInviteToChannel(ctx, &tg.ChannelsInviteToChannelRequest{
		Channel: ch,
		Users:   users,
	})
	return err
}

func (c *gotdCaller) AddChatUser(ctx context.Context, chatID int64, user tg.InputUserClass) error {
	_, err := c.api.MessagesAddChatUser(ctx, &tg.MessagesAddChatUserRequest{
		ChatID:   chatID,
		UserID:   user,
		FwdLimit: 0,
	})
	return err
}

func (c *gotdCaller) EditBanned(ctx context.Context, ch *tg.InputChannel, participant tg.InputPeerClass, rights tg.ChatBannedRights) error {
	_, err := c.api.ChannelsEditBanned(ctx, &tg.ChannelsEditBannedRequest{
		Channel:      ch,
		Participant:  participant,
		BannedRights: rights,
	})
	return err
}

func (c *gotdCaller) DeleteChatUser(ctx context.Context, chatID int64, user tg.InputUserClass) error {
	_, err := c.api.MessagesDeleteChatUser(ctx, &tg.MessagesDeleteChatUserRequest{
		ChatID: chatID,
		UserID: user,
	})
	return err
}

func (c *gotdCaller) SendText(ctx context.Context, peer tg.InputPeerClass, text string) error {
	_, err := c.sender.To(peer).Text(ctx, text)
	return err
}

func (c *gotdCaller) SendDocument(ctx context.Context, peer tg.InputPeerClass, path, caption string) error {
	file, err := c.upload.FromPath(ctx, path)
	if err != nil {
		return errors.Wrap(err, "upload file")
	}
	var opts []message.StyledTextOption
	if caption != "" {
		opts = append(opts, styling.Plain(caption))
	}
	doc := message.UploadedDocument(file, opts...).
		Filename(filepath.Base(path)).
		ForceFile(true)
	_, err = c.sender.To(peer).Media(ctx, doc)
	return err
}

func (c *gotdCaller) Download(ctx context.Context, loc tg.InputFileLocationClass, path string) error {
	_, err := c.download.Download(c.api, loc).ToPath(ctx, path)
	return err
}
