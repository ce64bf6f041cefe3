package groups

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"go.uber.org/zap"

	"tgmcp/internal/ratelimit"
)

// AddMember invites a user into a group or channel. Membership is
// checked first so adding an existing member reports already_member
// without spending a join-quota call.
func (m *Manager) AddMember(ctx context.Context, group, user string, dryRun bool) (MemberResult, error) {
	grp, usr, err := m.resolveMemberPair(ctx, group, user)
	if err != nil {
		return MemberResult{}, err
	}
	result := MemberResult{
		Success:      true,
		Action:       "add_member",
		DryRun:       dryRun,
		GroupID:      grp.ID,
		GroupType:    groupType(grp),
		UserID:       usr.ID,
		UserUsername: usr.Username,
	}
	if dryRun {
		return result, nil
	}

	member, err := m.isMember(ctx, grp, usr)
	if err != nil {
		return MemberResult{}, err
	}
	if member {
		result.AlreadyMember = true
		return result, nil
	}

	inputUser, ok := usr.InputUser()
	if !ok {
		return MemberResult{}, errors.Errorf("target %q is not a user", user)
	}
	if ch, isChannel := grp.InputChannel(); isChannel {
		err = m.doErr(ctx, ratelimit.OpJoin, func(ctx context.Context) error {
			return m.api.InviteToChannel(ctx, ch, []tg.InputUserClass{inputUser})
		})
	} else {
		err = m.doErr(ctx, ratelimit.OpJoin, func(ctx context.Context) error {
			return m.api.AddChatUser(ctx, grp.ID, inputUser)
		})
	}
	if tgerr.Is(err, "USER_ALREADY_PARTICIPANT") {
		result.AlreadyMember = true
		return result, nil
	}
	if err != nil {
		return MemberResult{}, errors.Wrapf(err, "add %q to %q", user, group)
	}
	m.log.Info("member added",
		zap.Int64("group", grp.ID), zap.Int64("user", usr.ID))
	return result, nil
}

// RemoveMember kicks a user. Channels get the ban+unban pair so the
// account can rejoin later; small chats use the plain delete. Removing
// a non-member reports not_participant without spending join calls.
func (m *Manager) RemoveMember(ctx context.Context, group, user string, dryRun bool) (MemberResult, error) {
	grp, usr, err := m.resolveMemberPair(ctx, group, user)
	if err != nil {
		return MemberResult{}, err
	}
	result := MemberResult{
		Success:      true,
		Action:       "remove_member",
		DryRun:       dryRun,
		GroupID:      grp.ID,
		GroupType:    groupType(grp),
		UserID:       usr.ID,
		UserUsername: usr.Username,
	}
	if dryRun {
		return result, nil
	}

	member, err := m.isMember(ctx, grp, usr)
	if err != nil {
		return MemberResult{}, err
	}
	if !member {
		result.NotParticipant = true
		return result, nil
	}

	if ch, isChannel := grp.InputChannel(); isChannel {
		peer := usr.InputPeer()
		err = m.doErr(ctx, ratelimit.OpJoin, func(ctx context.Context) error {
			return m.api.EditBanned(ctx, ch, peer, banRights(true))
		})
		if err == nil {
			err = m.doErr(ctx, ratelimit.OpJoin, func(ctx context.Context) error {
				return m.api.EditBanned(ctx, ch, peer, banRights(false))
			})
		}
	} else {
		inputUser, ok := usr.InputUser()
		if !ok {
			return MemberResult{}, errors.Errorf("target %q is not a user", user)
		}
		err = m.doErr(ctx, ratelimit.OpJoin, func(ctx context.Context) error {
			return m.api.DeleteChatUser(ctx, grp.ID, inputUser)
		})
	}
	if tgerr.Is(err, "USER_NOT_PARTICIPANT") {
		result.NotParticipant = true
		return result, nil
	}
	if err != nil {
		return MemberResult{}, errors.Wrapf(err, "remove %q from %q", user, group)
	}
	m.log.Info("member removed",
		zap.Int64("group", grp.ID), zap.Int64("user", usr.ID))
	return result, nil
}

// MigrateMember swaps accounts in a group: the new user is added first
// and the old one removed only after the add succeeds.
func (m *Manager) MigrateMember(ctx context.Context, group, oldUser, newUser string, dryRun bool) (MigrateResult, error) {
	result := MigrateResult{Action: "migrate_member", DryRun: dryRun, Group: group}
	if strings.EqualFold(bareUserRef(oldUser), bareUserRef(newUser)) {
		result.Error = "old_user and new_user are the same"
		return result, nil
	}

	if dryRun {
		addPrev, err := m.AddMember(ctx, group, newUser, true)
		if err != nil {
			result.Error = err.Error()
			return result, nil
		}
		removePrev, err := m.RemoveMember(ctx, group, oldUser, true)
		if err != nil {
			result.AddNewUser = &addPrev
			result.Error = err.Error()
			return result, nil
		}
		result.Success = addPrev.Success && removePrev.Success
		result.AddNewUser = &addPrev
		result.RemoveOldUser = &removePrev
		return result, nil
	}

	addRes, err := m.AddMember(ctx, group, newUser, false)
	if err != nil {
		failed := MemberResult{Action: "add_member", Error: err.Error()}
		result.AddNewUser = &failed
		result.Error = "failed to add new user; old user was not removed"
		return result, nil
	}
	result.AddNewUser = &addRes

	removeRes, err := m.RemoveMember(ctx, group, oldUser, false)
	if err != nil {
		failed := MemberResult{Action: "remove_member", Error: err.Error()}
		result.RemoveOldUser = &failed
		result.Error = err.Error()
		return result, nil
	}
	result.RemoveOldUser = &removeRes
	result.Success = removeRes.Success
	return result, nil
}

func (m *Manager) resolveMemberPair(ctx context.Context, group, user string) (Entity, Entity, error) {
	grp, err := m.Resolve(ctx, group)
	if err != nil {
		return Entity{}, Entity{}, err
	}
	if !grp.IsGroupLike() {
		return Entity{}, Entity{}, errors.Errorf("target %q is not a group or channel", group)
	}
	usr, err := m.ResolveUser(ctx, user)
	if err != nil {
		return Entity{}, Entity{}, err
	}
	return grp, usr, nil
}

// isMember reports current membership. Channels answer through
// channels.getParticipant; small chats through the full list.
func (m *Manager) isMember(ctx context.Context, grp, usr Entity) (bool, error) {
	if ch, ok := grp.InputChannel(); ok {
		_, err := ratelimit.Do(ctx, m.lim, ratelimit.OpAPI, func(ctx context.Context) (*tg.ChannelsChannelParticipant, error) {
			return m.api.GetParticipant(ctx, ch, usr.InputPeer())
		})
		if tgerr.Is(err, "USER_NOT_PARTICIPANT", "PARTICIPANT_ID_INVALID") {
			return false, nil
		}
		if err != nil {
			return false, errors.Wrap(err, "check membership")
		}
		return true, nil
	}

	full, err := ratelimit.Do(ctx, m.lim, ratelimit.OpAPI, func(ctx context.Context) (*tg.MessagesChatFull, error) {
		return m.api.GetFullChat(ctx, grp.ID)
	})
	if err != nil {
		return false, errors.Wrap(err, "check membership")
	}
	cf, ok := full.FullChat.(*tg.ChatFull)
	if !ok {
		return false, nil
	}
	parts, ok := cf.Participants.(*tg.ChatParticipants)
	if !ok {
		return false, nil
	}
	for _, p := range parts.Participants {
		if p.GetUserID() == usr.ID {
			return true, nil
		}
	}
	return false, nil
}

// banRights toggles the view_messages restriction used by the
// kick+unban sequence.
func banRights(banned bool) tg.ChatBannedRights {
	return tg.ChatBannedRights{ViewMessages: banned}
}

// bareUserRef normalizes a user identifier for comparison; "@name" and
// "name" refer to the same account.
func bareUserRef(s string) string {
	return strings.TrimPrefix(strings.TrimSpace(s), "@")
}
