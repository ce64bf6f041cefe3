package groups

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"tgmcp/internal/ratelimit"
)

// SendMessage posts text into a group, channel or user dialog under
// the group-message quota.
func (m *Manager) SendMessage(ctx context.Context, identifier, text string) error {
	if strings.TrimSpace(text) == "" {
		return errors.New("message text is empty")
	}
	if n := utf8.RuneCountInString(text); n > m.cfg.MaxMessageLen {
		return errors.Errorf("message too long: %d > %d characters", n, m.cfg.MaxMessageLen)
	}
	ent, err := m.Resolve(ctx, identifier)
	if err != nil {
		return err
	}
	peer := ent.InputPeer()
	if err := m.doErr(ctx, ratelimit.OpGroupMsg, func(ctx context.Context) error {
		return m.api.SendText(ctx, peer, text)
	}); err != nil {
		return errors.Wrapf(err, "send message to %q", identifier)
	}
	m.log.Info("message sent",
		zap.Int64("peer", ent.ID), zap.Int("chars", utf8.RuneCountInString(text)))
	return nil
}

// SendFile uploads a document with an optional caption. The size and
// caption bounds mirror the action policy limits.
func (m *Manager) SendFile(ctx context.Context, identifier, path, caption string) error {
	info, err := os.Stat(path)
	if err != nil {
		return errors.Wrap(err, "stat file")
	}
	if !info.Mode().IsRegular() {
		return errors.Errorf("%q is not a regular file", path)
	}
	if info.Size() > m.cfg.MaxFileBytes {
		return errors.Errorf("file too large: %d bytes over the %d byte limit", info.Size(), m.cfg.MaxFileBytes)
	}
	if n := utf8.RuneCountInString(caption); n > m.cfg.MaxMessageLen {
		return errors.Errorf("caption too long: %d > %d characters", n, m.cfg.MaxMessageLen)
	}
	ent, err := m.Resolve(ctx, identifier)
	if err != nil {
		return err
	}
	peer := ent.InputPeer()
	if err := m.doErr(ctx, ratelimit.OpGroupMsg, func(ctx context.Context) error {
		return m.api.SendDocument(ctx, peer, path, caption)
	}); err != nil {
		return errors.Wrapf(err, "send file to %q", identifier)
	}
	m.log.Info("file sent",
		zap.Int64("peer", ent.ID), zap.String("file", filepath.Base(path)))
	return nil
}
