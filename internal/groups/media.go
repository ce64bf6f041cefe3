package groups

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-faster/errors"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"

	"tgmcp/internal/ratelimit"
)

// DownloadMedia saves the photo or document attached to a message into
// outputDir and returns the written path.
func (m *Manager) DownloadMedia(ctx context.Context, identifier string, messageID int, outputDir string) (string, error) {
	ent, err := m.Resolve(ctx, identifier)
	if err != nil {
		return "", err
	}
	msg, err := m.messageByID(ctx, ent, messageID)
	if err != nil {
		return "", err
	}
	media, ok := msg.GetMedia()
	if !ok {
		return "", errors.Errorf("message %d has no media", messageID)
	}
	loc, name, err := mediaLocation(media, messageID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", errors.Wrap(err, "create output dir")
	}
	path := filepath.Join(outputDir, name)
	if err := m.doErr(ctx, ratelimit.OpAPI, func(ctx context.Context) error {
		return m.api.Download(ctx, loc, path)
	}); err != nil {
		return "", errors.Wrap(err, "download media")
	}
	m.log.Info("media downloaded",
		zap.Int("message_id", messageID), zap.String("path", path))
	return path, nil
}

func (m *Manager) messageByID(ctx context.Context, ent Entity, id int) (*tg.Message, error) {
	var (
		res tg.MessagesMessagesClass
		err error
	)
	if ch, ok := ent.InputChannel(); ok {
		res, err = ratelimit.Do(ctx, m.lim, ratelimit.OpAPI, func(ctx context.Context) (tg.MessagesMessagesClass, error) {
			return m.api.GetChannelMessages(ctx, ch, []int{id})
		})
	} else {
		res, err = ratelimit.Do(ctx, m.lim, ratelimit.OpAPI, func(ctx context.Context) (tg.MessagesMessagesClass, error) {
			return m.api.GetChatMessages(ctx, []int{id})
		})
	}
	if err != nil {
		return nil, err
	}
	msgs, _, _ := messageList(res)
	for _, mc := range msgs {
		if msg, ok := mc.(*tg.Message); ok && msg.ID == id {
			return msg, nil
		}
	}
	return nil, errors.Errorf("message %d not found", id)
}

// mediaLocation builds the download location and a local filename for
// the supported media classes.
func mediaLocation(media tg.MessageMediaClass, messageID int) (tg.InputFileLocationClass, string, error) {
	switch v := media.(type) {
	case *tg.MessageMediaPhoto:
		photo, ok := v.Photo.(*tg.Photo)
		if !ok {
			return nil, "", errors.New("photo is unavailable")
		}
		return &tg.InputPhotoFileLocation{
			ID:            photo.ID,
			AccessHash:    photo.AccessHash,
			FileReference: photo.FileReference,
			ThumbSize:     largestPhotoSize(photo.Sizes),
		}, fmt.Sprintf("photo_%d.jpg", messageID), nil
	case *tg.MessageMediaDocument:
		doc, ok := v.Document.(*tg.Document)
		if !ok {
			return nil, "", errors.New("document is unavailable")
		}
		name := documentFilename(doc)
		if name == "" {
			name = fmt.Sprintf("doc_%d", messageID)
		}
		return &tg.InputDocumentFileLocation{
			ID:            doc.ID,
			AccessHash:    doc.AccessHash,
			FileReference: doc.FileReference,
		}, name, nil
	default:
		return nil, "", errors.Errorf("unsupported media type %q", mediaType(media))
	}
}

func largestPhotoSize(sizes []tg.PhotoSizeClass) string {
	best, area := "", -1
	for _, sc := range sizes {
		switch s := sc.(type) {
		case *tg.PhotoSize:
			if a := s.W * s.H; a > area {
				best, area = s.Type, a
			}
		case *tg.PhotoSizeProgressive:
			if a := s.W * s.H; a > area {
				best, area = s.Type, a
			}
		}
	}
	return best
}

// documentFilename extracts the original filename attribute, stripped
// of any path components a malicious sender could embed.
func documentFilename(doc *tg.Document) string {
	for _, attr := range doc.Attributes {
		if fn, ok := attr.(*tg.DocumentAttributeFilename); ok {
			return filepath.Base(fn.FileName)
		}
	}
	return ""
}
