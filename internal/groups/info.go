package groups

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"

	"tgmcp/internal/ratelimit"
)

// GroupInfo resolves a group or channel and returns its normalized
// summary. A missing participants count is backfilled with a full-info
// call; failures there degrade to zero instead of failing the lookup.
func (m *Manager) GroupInfo(ctx context.Context, identifier string) (GroupInfo, error) {
	ent, err := m.Resolve(ctx, identifier)
	if err != nil {
		return GroupInfo{}, err
	}
	if !ent.IsGroupLike() {
		return GroupInfo{}, errors.Errorf("%q is not a group or channel", identifier)
	}
	count := ent.ParticipantsCount
	if count == 0 {
		n, err := m.fullParticipantsCount(ctx, ent)
		if err != nil {
			m.log.Debug("full info unavailable",
				zap.Int64("peer", ent.ID), zap.Error(err))
		} else {
			count = n
		}
	}
	return GroupInfo{
		ID:                ent.ID,
		Title:             ent.Title,
		Username:          ent.Username,
		ParticipantsCount: count,
		Type:              groupType(ent),
	}, nil
}

func groupType(e Entity) string {
	if e.Kind == KindChannel {
		return "channel"
	}
	return "group"
}

func (m *Manager) fullParticipantsCount(ctx context.Context, ent Entity) (int, error) {
	if ch, ok := ent.InputChannel(); ok {
		full, err := ratelimit.Do(ctx, m.lim, ratelimit.OpAPI, func(ctx context.Context) (*tg.MessagesChatFull, error) {
			return m.api.GetFullChannel(ctx, ch)
		})
		if err != nil {
			return 0, err
		}
		cf, ok := full.FullChat.(*tg.ChannelFull)
		if !ok {
			return 0, errors.Errorf("unexpected full chat %T", full.FullChat)
		}
		count, _ := cf.GetParticipantsCount()
		return count, nil
	}

	full, err := ratelimit.Do(ctx, m.lim, ratelimit.OpAPI, func(ctx context.Context) (*tg.MessagesChatFull, error) {
		return m.api.GetFullChat(ctx, ent.ID)
	})
	if err != nil {
		return 0, err
	}
	cf, ok := full.FullChat.(*tg.ChatFull)
	if !ok {
		return 0, errors.Errorf("unexpected full chat %T", full.FullChat)
	}
	if parts, ok := cf.Participants.(*tg.ChatParticipants); ok {
		return len(parts.Participants), nil
	}
	return 0, nil
}
