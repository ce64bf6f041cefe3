package groups

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/gotd/td/tg"

	"tgmcp/internal/ratelimit"
)

// historyPage is the messages.getHistory page size cap.
const historyPage = 100

// Messages fetches up to limit history entries newest first, skipping
// service messages and empty placeholders. minID bounds the scan so
// incremental exports can resume where they left off.
func (m *Manager) Messages(ctx context.Context, identifier string, limit, minID int) ([]Message, error) {
	if limit <= 0 {
		limit = 100
	}
	ent, err := m.Resolve(ctx, identifier)
	if err != nil {
		return nil, err
	}
	peer := ent.InputPeer()

	out := make([]Message, 0, limit)
	offsetID := 0
	for len(out) < limit {
		page := historyPage
		if rest := limit - len(out); rest < page {
			page = rest
		}
		req := &tg.MessagesGetHistoryRequest{
			Peer:     peer,
			OffsetID: offsetID,
			MinID:    minID,
			Limit:    page,
		}
		res, err := ratelimit.Do(ctx, m.lim, ratelimit.OpAPI, func(ctx context.Context) (tg.MessagesMessagesClass, error) {
			return m.api.GetHistory(ctx, req)
		})
		if err != nil {
			return nil, err
		}
		msgs, users, chats := messageList(res)
		if len(msgs) == 0 {
			break
		}
		idx := indexPeers(users, chats)
		for _, mc := range msgs {
			// Advance past service messages too, or a page full of
			// them would loop forever.
			offsetID = mc.GetID()
			msg, ok := mc.(*tg.Message)
			if !ok {
				continue
			}
			if msg.Message == "" && msg.Media == nil {
				continue
			}
			out = append(out, buildMessage(msg, idx))
			if len(out) >= limit {
				break
			}
			if err := m.maybePause(ctx, len(out), m.cfg.MessagePauseEvery); err != nil {
				return nil, err
			}
		}
		if len(msgs) < page {
			break
		}
	}
	return out, nil
}

// MessageCount returns the total history size as reported by the API.
func (m *Manager) MessageCount(ctx context.Context, identifier string) (int, error) {
	ent, err := m.Resolve(ctx, identifier)
	if err != nil {
		return 0, err
	}
	req := &tg.MessagesGetHistoryRequest{Peer: ent.InputPeer(), Limit: 1}
	res, err := ratelimit.Do(ctx, m.lim, ratelimit.OpAPI, func(ctx context.Context) (tg.MessagesMessagesClass, error) {
		return m.api.GetHistory(ctx, req)
	})
	if err != nil {
		return 0, err
	}
	switch v := res.(type) {
	case *tg.MessagesMessages:
		return len(v.Messages), nil
	case *tg.MessagesMessagesSlice:
		return v.Count, nil
	case *tg.MessagesChannelMessages:
		return v.Count, nil
	}
	return 0, errors.Errorf("history count unavailable for %q", identifier)
}

// CreationDate approximates when a group was created from its oldest
// message, fetched with the offset trick instead of a full scan.
func (m *Manager) CreationDate(ctx context.Context, identifier string) (time.Time, error) {
	ent, err := m.Resolve(ctx, identifier)
	if err != nil {
		return time.Time{}, err
	}
	req := &tg.MessagesGetHistoryRequest{
		Peer:      ent.InputPeer(),
		OffsetID:  1,
		AddOffset: -1,
		Limit:     1,
	}
	res, err := ratelimit.Do(ctx, m.lim, ratelimit.OpAPI, func(ctx context.Context) (tg.MessagesMessagesClass, error) {
		return m.api.GetHistory(ctx, req)
	})
	if err != nil {
		return time.Time{}, err
	}
	msgs, _, _ := messageList(res)
	for _, mc := range msgs {
		switch v := mc.(type) {
		case *tg.Message:
			return time.Unix(int64(v.Date), 0).UTC(), nil
		case *tg.MessageService:
			return time.Unix(int64(v.Date), 0).UTC(), nil
		}
	}
	return time.Time{}, errors.Errorf("no messages found in %q", identifier)
}

func messageList(res tg.MessagesMessagesClass) ([]tg.MessageClass, []tg.UserClass, []tg.ChatClass) {
	switch v := res.(type) {
	case *tg.MessagesMessages:
		return v.Messages, v.Users, v.Chats
	case *tg.MessagesMessagesSlice:
		return v.Messages, v.Users, v.Chats
	case *tg.MessagesChannelMessages:
		return v.Messages, v.Users, v.Chats
	}
	return nil, nil, nil
}

func buildMessage(msg *tg.Message, idx peerIndex) Message {
	out := Message{
		ID:       msg.ID,
		Date:     formatTime(msg.Date),
		Text:     msg.Message,
		IsPinned: msg.Pinned,
	}
	if from, ok := msg.GetFromID(); ok {
		out.FromID = peerMarkedID(from)
	}
	if reply, ok := msg.GetReplyTo(); ok {
		out.IsReply = true
		if hdr, ok := reply.(*tg.MessageReplyHeader); ok {
			out.ReplyToMsgID, _ = hdr.GetReplyToMsgID()
		}
	}
	if v, ok := msg.GetViews(); ok {
		out.Views = v
	}
	if v, ok := msg.GetForwards(); ok {
		out.Forwards = v
	}
	if media, ok := msg.GetMedia(); ok {
		out.HasMedia = true
		out.MediaType = mediaType(media)
	}
	if fwd, ok := msg.GetFwdFrom(); ok {
		out.FwdFrom = forwardInfo(fwd, idx)
	}
	return out
}

// forwardInfo extracts the forward origin, resolving names from the
// peers bundled with the history page so no extra calls are spent.
func forwardInfo(fwd tg.MessageFwdHeader, idx peerIndex) *ForwardInfo {
	info := &ForwardInfo{Date: formatTime(fwd.Date)}
	if name, ok := fwd.GetFromName(); ok {
		info.FromName = name
	}
	if post, ok := fwd.GetChannelPost(); ok {
		info.ChannelPost = post
	}
	if from, ok := fwd.GetFromID(); ok {
		id, kind := peerKey(from)
		info.FromID = id
		info.FromType = string(kind)
		if ent, ok := idx.find(from); ok {
			info.FromUsername = ent.Username
			if info.FromName == "" {
				info.FromName = ent.DisplayTitle()
			}
		}
	}
	return info
}

// peerMarkedID renders a peer id the way chat exports do: users keep
// the raw id, small chats go negative, channels get the -100 prefix.
func peerMarkedID(p tg.PeerClass) int64 {
	id, kind := peerKey(p)
	return markedID(Entity{Kind: kind, ID: id})
}

func mediaType(media tg.MessageMediaClass) string {
	switch media.(type) {
	case *tg.MessageMediaPhoto:
		return "photo"
	case *tg.MessageMediaDocument:
		return "document"
	case *tg.MessageMediaWebPage:
		return "webpage"
	case *tg.MessageMediaGeo, *tg.MessageMediaGeoLive:
		return "geo"
	case *tg.MessageMediaContact:
		return "contact"
	case *tg.MessageMediaPoll:
		return "poll"
	case *tg.MessageMediaVenue:
		return "venue"
	case *tg.MessageMediaGame:
		return "game"
	case *tg.MessageMediaInvoice:
		return "invoice"
	case *tg.MessageMediaDice:
		return "dice"
	case *tg.MessageMediaStory:
		return "story"
	default:
		return "other"
	}
}
