package groups

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"

	"tgmcp/internal/ratelimit"
)

// Participants lists up to limit non-bot members. Channels page
// through the recent-participants filter; small chats come from the
// full-chat snapshot in a single call.
func (m *Manager) Participants(ctx context.Context, identifier string, limit int) ([]Participant, error) {
	return m.listParticipants(ctx, identifier, "", limit)
}

// SearchParticipants filters members by name or username. Channels get
// the server-side search filter; small chats are matched locally.
func (m *Manager) SearchParticipants(ctx context.Context, identifier, query string, limit int) ([]Participant, error) {
	return m.listParticipants(ctx, identifier, query, limit)
}

func (m *Manager) listParticipants(ctx context.Context, identifier, query string, limit int) ([]Participant, error) {
	if limit <= 0 {
		limit = 100
	}
	ent, err := m.Resolve(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if !ent.IsGroupLike() {
		return nil, errors.Errorf("%q is not a group or channel", identifier)
	}
	if ch, ok := ent.InputChannel(); ok {
		return m.channelParticipants(ctx, ch, query, limit)
	}
	return m.chatParticipants(ctx, ent.ID, query, limit)
}

func (m *Manager) channelParticipants(ctx context.Context, ch *tg.InputChannel, query string, limit int) ([]Participant, error) {
	var filter tg.ChannelParticipantsFilterClass = &tg.ChannelParticipantsRecent{}
	if query != "" {
		filter = &tg.ChannelParticipantsSearch{Q: query}
	}

	out := make([]Participant, 0, limit)
	offset := 0
	for len(out) < limit {
		page := m.cfg.ParticipantPage
		if rest := limit - len(out); rest < page {
			page = rest
		}
		res, err := ratelimit.Do(ctx, m.lim, ratelimit.OpAPI, func(ctx context.Context) (*tg.ChannelsChannelParticipants, error) {
			return m.api.GetParticipants(ctx, ch, filter, offset, page)
		})
		if err != nil {
			return nil, err
		}
		if len(res.Participants) == 0 {
			break
		}
		offset += len(res.Participants)

		for _, uc := range res.Users {
			user, ok := uc.(*tg.User)
			if !ok || user.Bot {
				continue
			}
			out = append(out, participantFromUser(user))
			if len(out) >= limit {
				break
			}
			if err := m.maybePause(ctx, len(out), m.cfg.PauseEvery); err != nil {
				return nil, err
			}
		}
		if len(res.Participants) < page {
			break
		}
	}
	return out, nil
}

func (m *Manager) chatParticipants(ctx context.Context, chatID int64, query string, limit int) ([]Participant, error) {
	full, err := ratelimit.Do(ctx, m.lim, ratelimit.OpAPI, func(ctx context.Context) (*tg.MessagesChatFull, error) {
		return m.api.GetFullChat(ctx, chatID)
	})
	if err != nil {
		return nil, err
	}
	cf, ok := full.FullChat.(*tg.ChatFull)
	if !ok {
		return nil, errors.Errorf("unexpected full chat %T", full.FullChat)
	}
	parts, ok := cf.Participants.(*tg.ChatParticipants)
	if !ok {
		return nil, nil
	}

	users := make(map[int64]*tg.User, len(full.Users))
	for _, uc := range full.Users {
		if u, ok := uc.(*tg.User); ok {
			users[u.ID] = u
		}
	}

	out := make([]Participant, 0, len(parts.Participants))
	for _, p := range parts.Participants {
		user, ok := users[p.GetUserID()]
		if !ok || user.Bot || !matchesQuery(user, query) {
			continue
		}
		out = append(out, participantFromUser(user))
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func participantFromUser(u *tg.User) Participant {
	return Participant{
		ID:         u.ID,
		Username:   u.Username,
		FirstName:  u.FirstName,
		LastName:   u.LastName,
		Phone:      u.Phone,
		IsBot:      u.Bot,
		IsVerified: u.Verified,
		IsPremium:  u.Premium,
		Status:     userStatus(u.Status),
	}
}

func matchesQuery(u *tg.User, query string) bool {
	if query == "" {
		return true
	}
	q := strings.ToLower(query)
	for _, s := range []string{u.Username, u.FirstName, u.LastName} {
		if s != "" && strings.Contains(strings.ToLower(s), q) {
			return true
		}
	}
	return false
}

// csvHeader is the stable column order of participant exports.
var csvHeader = []string{"id", "username", "first_name", "last_name", "phone", "is_verified", "is_premium", "status"}

// ExportParticipantsCSV writes up to limit members to path and returns
// how many rows were written. A group with no visible participants
// produces no file.
func (m *Manager) ExportParticipantsCSV(ctx context.Context, identifier, path string, limit int) (int, error) {
	parts, err := m.Participants(ctx, identifier, limit)
	if err != nil {
		return 0, err
	}
	if len(parts) == 0 {
		m.log.Warn("no participants to export", zap.String("group", identifier))
		return 0, nil
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, errors.Wrap(err, "create export dir")
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return 0, errors.Wrap(err, "create export file")
	}

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		f.Close()
		return 0, errors.Wrap(err, "write header")
	}
	for _, p := range parts {
		rec := []string{
			strconv.FormatInt(p.ID, 10),
			p.Username,
			p.FirstName,
			p.LastName,
			p.Phone,
			strconv.FormatBool(p.IsVerified),
			strconv.FormatBool(p.IsPremium),
			p.Status,
		}
		if err := w.Write(rec); err != nil {
			f.Close()
			return 0, errors.Wrap(err, "write row")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return 0, errors.Wrap(err, "flush export")
	}
	if err := f.Close(); err != nil {
		return 0, errors.Wrap(err, "close export file")
	}
	m.log.Info("participants exported",
		zap.String("group", identifier), zap.Int("count", len(parts)), zap.String("path", path))
	return len(parts), nil
}
