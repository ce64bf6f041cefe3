package groups

import (
	"strings"
	"time"

	"github.com/gotd/td/tg"
)

// Kind separates the three peer families the manager works with.
type Kind string

const (
	KindUser    Kind = "user"
	KindChat    Kind = "chat"
	KindChannel Kind = "channel"
)

// Entity is a resolved Telegram peer carrying the handles needed for
// follow-up API calls.
type Entity struct {
	Kind              Kind
	ID                int64
	AccessHash        int64
	Title             string
	Username          string
	FirstName         string
	LastName          string
	Phone             string
	Broadcast         bool
	Bot               bool
	Verified          bool
	Premium           bool
	ParticipantsCount int
	Status            string
}

// IsGroupLike reports whether the entity can host members.
func (e Entity) IsGroupLike() bool {
	return e.Kind == KindChat || e.Kind == KindChannel
}

// InputPeer converts the entity for request building.
func (e Entity) InputPeer() tg.InputPeerClass {
	switch e.Kind {
	case KindUser:
		return &tg.InputPeerUser{UserID: e.ID, AccessHash: e.AccessHash}
	case KindChannel:
		return &tg.InputPeerChannel{ChannelID: e.ID, AccessHash: e.AccessHash}
	default:
		return &tg.InputPeerChat{ChatID: e.ID}
	}
}

// InputChannel converts a channel entity for channels.* requests.
func (e Entity) InputChannel() (*tg.InputChannel, bool) {
	if e.Kind != KindChannel {
		return nil, false
	}
	return &tg.InputChannel{ChannelID: e.ID, AccessHash: e.AccessHash}, true
}

// InputUser converts a user entity for user-targeted requests.
func (e Entity) InputUser() (*tg.InputUser, bool) {
	if e.Kind != KindUser {
		return nil, false
	}
	return &tg.InputUser{UserID: e.ID, AccessHash: e.AccessHash}, true
}

// DisplayTitle is the human name of the peer.
func (e Entity) DisplayTitle() string {
	if e.Title != "" {
		return e.Title
	}
	name := strings.TrimSpace(e.FirstName + " " + e.LastName)
	if name != "" {
		return name
	}
	return e.Username
}

func entityFromUser(u *tg.User) Entity {
	return Entity{
		Kind:       KindUser,
		ID:         u.ID,
		AccessHash: u.AccessHash,
		Username:   u.Username,
		FirstName:  u.FirstName,
		LastName:   u.LastName,
		Phone:      u.Phone,
		Bot:        u.Bot,
		Verified:   u.Verified,
		Premium:    u.Premium,
		Status:     userStatus(u.Status),
	}
}

func entityFromChat(c *tg.Chat) Entity {
	return Entity{
		Kind:              KindChat,
		ID:                c.ID,
		Title:             c.Title,
		ParticipantsCount: c.ParticipantsCount,
	}
}

func entityFromChannel(c *tg.Channel) Entity {
	return Entity{
		Kind:              KindChannel,
		ID:                c.ID,
		AccessHash:        c.AccessHash,
		Title:             c.Title,
		Username:          c.Username,
		Broadcast:         c.Broadcast,
		ParticipantsCount: c.ParticipantsCount,
	}
}

// entityFromAny converts any user or chat TL object; zero Entity and
// false for forbidden and empty variants.
func entityFromAny(obj any) (Entity, bool) {
	switch v := obj.(type) {
	case *tg.User:
		return entityFromUser(v), true
	case *tg.Chat:
		return entityFromChat(v), true
	case *tg.Channel:
		return entityFromChannel(v), true
	default:
		return Entity{}, false
	}
}

// peerKey identifies a peer across the users/chats slices of a reply.
func peerKey(p tg.PeerClass) (int64, Kind) {
	switch v := p.(type) {
	case *tg.PeerUser:
		return v.UserID, KindUser
	case *tg.PeerChat:
		return v.ChatID, KindChat
	case *tg.PeerChannel:
		return v.ChannelID, KindChannel
	}
	return 0, ""
}

// peerIndex maps the entities bundled with an API reply.
type peerIndex struct {
	users    map[int64]*tg.User
	chats    map[int64]*tg.Chat
	channels map[int64]*tg.Channel
}

func indexPeers(users []tg.UserClass, chats []tg.ChatClass) peerIndex {
	idx := peerIndex{
		users:    make(map[int64]*tg.User),
		chats:    make(map[int64]*tg.Chat),
		channels: make(map[int64]*tg.Channel),
	}
	for _, u := range users {
		if user, ok := u.(*tg.User); ok {
			idx.users[user.ID] = user
		}
	}
	for _, c := range chats {
		switch chat := c.(type) {
		case *tg.Chat:
			idx.chats[chat.ID] = chat
		case *tg.Channel:
			idx.channels[chat.ID] = chat
		}
	}
	return idx
}

func (idx peerIndex) find(p tg.PeerClass) (Entity, bool) {
	id, kind := peerKey(p)
	switch kind {
	case KindUser:
		if u, ok := idx.users[id]; ok {
			return entityFromUser(u), true
		}
	case KindChat:
		if c, ok := idx.chats[id]; ok {
			return entityFromChat(c), true
		}
	case KindChannel:
		if c, ok := idx.channels[id]; ok {
			return entityFromChannel(c), true
		}
	}
	return Entity{}, false
}

func userStatus(s tg.UserStatusClass) string {
	switch s.(type) {
	case *tg.UserStatusOnline:
		return "online"
	case *tg.UserStatusOffline:
		return "offline"
	case *tg.UserStatusRecently:
		return "recently"
	case *tg.UserStatusLastWeek:
		return "last_week"
	case *tg.UserStatusLastMonth:
		return "last_month"
	default:
		return ""
	}
}

// markedID renders the bot-API style negative id: channels carry the
// -100… offset, small chats are negated, users keep the raw id.
// resolveByID undoes the same mapping.
func markedID(e Entity) int64 {
	switch e.Kind {
	case KindChannel:
		return -(channelIDMark + e.ID)
	case KindChat:
		return -e.ID
	default:
		return e.ID
	}
}

func formatTime(unix int) string {
	if unix == 0 {
		return ""
	}
	return time.Unix(int64(unix), 0).UTC().Format(time.RFC3339)
}
