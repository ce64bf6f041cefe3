package groups

import (
	"context"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/gotd/td/tg"

	"tgmcp/internal/ratelimit"
)

// Dialogs lists the account's dialogs, optionally filtered by type:
// all, user, group or channel. Megagroups count as groups; only
// broadcast channels count as channels.
func (m *Manager) Dialogs(ctx context.Context, limit int, dialogType string) ([]Dialog, error) {
	if limit <= 0 {
		limit = 100
	}
	res, err := ratelimit.Do(ctx, m.lim, ratelimit.OpAPI, func(ctx context.Context) (tg.MessagesDialogsClass, error) {
		return m.api.GetDialogs(ctx, limit)
	})
	if err != nil {
		return nil, err
	}
	dialogs, users, chats := dialogList(res)
	idx := indexPeers(users, chats)

	out := make([]Dialog, 0, len(dialogs))
	for _, dc := range dialogs {
		d, ok := dc.(*tg.Dialog)
		if !ok {
			continue
		}
		ent, ok := idx.find(d.Peer)
		if !ok {
			continue
		}
		dtype := dialogKind(ent)
		if dialogType != "" && dialogType != "all" && dtype != dialogType {
			continue
		}
		title := ent.DisplayTitle()
		if title == "" {
			title = "Untitled"
		}
		out = append(out, Dialog{
			ID:                markedID(ent),
			Title:             title,
			Type:              dtype,
			Username:          ent.Username,
			ParticipantsCount: ent.ParticipantsCount,
			UnreadCount:       d.UnreadCount,
		})
	}
	return out, nil
}

func dialogKind(e Entity) string {
	switch e.Kind {
	case KindUser:
		return "user"
	case KindChat:
		return "group"
	case KindChannel:
		if e.Broadcast {
			return "channel"
		}
		return "group"
	}
	return "other"
}

// ResolveUsername maps a public @username to its typed peer summary.
func (m *Manager) ResolveUsername(ctx context.Context, username string) (ResolvedPeer, error) {
	username = strings.TrimSpace(username)
	if err := ValidateIdentifier(username); err != nil {
		return ResolvedPeer{}, err
	}
	ent, err := m.resolveUsernameEntity(ctx, username)
	if err != nil {
		return ResolvedPeer{}, err
	}
	m.cache.Add(cacheKey(username), ent)
	return resolvedPeer(ent), nil
}

func resolvedPeer(e Entity) ResolvedPeer {
	switch e.Kind {
	case KindUser:
		return ResolvedPeer{
			ID:        e.ID,
			Type:      "user",
			Username:  e.Username,
			FirstName: e.FirstName,
			LastName:  e.LastName,
			IsBot:     e.Bot,
			IsPremium: e.Premium,
		}
	case KindChannel:
		kind := "supergroup"
		if e.Broadcast {
			kind = "channel"
		}
		return ResolvedPeer{
			ID:                e.ID,
			Type:              kind,
			Username:          e.Username,
			Title:             e.Title,
			ParticipantsCount: e.ParticipantsCount,
		}
	default:
		return ResolvedPeer{
			ID:                e.ID,
			Type:              "chat",
			Title:             e.Title,
			ParticipantsCount: e.ParticipantsCount,
		}
	}
}

// UserByID finds a user by numeric id among recent dialogs. Accounts
// this session never talked to are not reachable by bare id; callers
// should fall back to @username resolution for those.
func (m *Manager) UserByID(ctx context.Context, userID int64) (Participant, error) {
	if userID <= 0 {
		return Participant{}, errors.New("user id must be positive")
	}
	key := cacheKey(strconv.FormatInt(userID, 10))
	if ent, ok := m.cache.Get(key); ok && ent.Kind == KindUser {
		return participantFromEntity(ent), nil
	}
	ent, found, err := m.scanDialogs(ctx, func(e Entity) bool {
		return e.Kind == KindUser && e.ID == userID
	})
	if err != nil {
		return Participant{}, err
	}
	if !found {
		return Participant{}, errors.Errorf("user %d not found in recent dialogs; resolve by @username instead", userID)
	}
	m.cache.Add(key, ent)
	return participantFromEntity(ent), nil
}

func participantFromEntity(e Entity) Participant {
	return Participant{
		ID:         e.ID,
		Username:   e.Username,
		FirstName:  e.FirstName,
		LastName:   e.LastName,
		Phone:      e.Phone,
		IsBot:      e.Bot,
		IsVerified: e.Verified,
		IsPremium:  e.Premium,
		Status:     e.Status,
	}
}
