// Package groups implements the typed Telegram group operations behind
// the MCP tools. Every API call goes through the rate-limit kernel with
// the operation type that matches its daily quota, and peer resolution
// results are cached in a small LRU.
package groups

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/gotd/td/tg"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"tgmcp/internal/ratelimit"
)

// channelIDMark offsets channel ids in the "-100…" marked form used by
// chat exports and bot APIs.
const channelIDMark = int64(1000000000000)

// Config bounds the manager's scans and writes.
type Config struct {
	// DialogScanLimit caps the dialogs inspected when resolving a peer
	// by numeric id or by title.
	DialogScanLimit int
	// ParticipantPage is the channels.getParticipants page size.
	ParticipantPage int
	// PauseEvery inserts a cooperative pause after that many collected
	// participants; MessagePauseEvery does the same for history scans.
	PauseEvery        int
	MessagePauseEvery int
	PauseFor          time.Duration
	// MaxMessageLen bounds outgoing text and captions in runes.
	MaxMessageLen int
	// MaxFileBytes bounds outgoing files.
	MaxFileBytes int64
	// CacheSize is the resolution LRU capacity.
	CacheSize int
}

func (c Config) withDefaults() Config {
	if c.DialogScanLimit <= 0 {
		c.DialogScanLimit = 300
	}
	if c.ParticipantPage <= 0 {
		c.ParticipantPage = 200
	}
	if c.PauseEvery <= 0 {
		c.PauseEvery = 5000
	}
	if c.MessagePauseEvery <= 0 {
		c.MessagePauseEvery = 1000
	}
	if c.PauseFor <= 0 {
		c.PauseFor = time.Second
	}
	if c.MaxMessageLen <= 0 {
		c.MaxMessageLen = 2000
	}
	if c.MaxFileBytes <= 0 {
		c.MaxFileBytes = 20 << 20
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 256
	}
	return c
}

// Manager executes group operations against the Caller under rate
// limiting.
type Manager struct {
	api   Caller
	lim   *ratelimit.Limiter
	cfg   Config
	log   *zap.Logger
	cache *lru.Cache[string, Entity]
	sleep func(ctx context.Context, d time.Duration) error
}

// NewManager builds a manager over the given API surface.
func NewManager(api Caller, lim *ratelimit.Limiter, cfg Config, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	cache, _ := lru.New[string, Entity](cfg.CacheSize)
	return &Manager{
		api:   api,
		lim:   lim,
		cfg:   cfg,
		log:   log.Named("groups"),
		cache: cache,
		sleep: sleepContext,
	}
}

var usernameRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// ValidateIdentifier checks a group identifier without resolving it.
// Numeric ids always pass; identifiers with whitespace are rejected
// here and only usable where dialog-title resolution applies.
func ValidateIdentifier(identifier string) error {
	if strings.TrimSpace(identifier) == "" {
		return errors.New("group identifier is empty")
	}
	if isNumericID(identifier) {
		return nil
	}
	if strings.ContainsAny(identifier, " \t") {
		return errors.Errorf("invalid group identifier %q: contains spaces, use a numeric id or username", identifier)
	}
	username := strings.TrimPrefix(identifier, "@")
	if len(username) < 5 {
		return errors.Errorf("invalid username %q: too short (min 5 characters)", identifier)
	}
	if len(username) > 32 {
		return errors.Errorf("invalid username %q: too long (max 32 characters)", identifier)
	}
	if !usernameRe.MatchString(username) {
		return errors.Errorf("invalid username %q: must start with a letter and contain only a-z, 0-9 and _", identifier)
	}
	return nil
}

func isNumericID(s string) bool {
	digits := strings.TrimPrefix(s, "-")
	if digits == "" {
		return false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Resolve maps a group identifier to an entity. Numeric ids, including
// the marked "-100…" form, are matched against the dialog list;
// usernames go through contacts.resolveUsername; identifiers with
// spaces are treated as exact dialog titles.
func (m *Manager) Resolve(ctx context.Context, identifier string) (Entity, error) {
	identifier = strings.TrimSpace(identifier)
	key := cacheKey(identifier)
	if ent, ok := m.cache.Get(key); ok {
		return ent, nil
	}

	var (
		ent Entity
		err error
	)
	switch {
	case isNumericID(identifier):
		var id int64
		id, err = strconv.ParseInt(identifier, 10, 64)
		if err == nil {
			ent, err = m.resolveByID(ctx, id)
		}
	case strings.ContainsAny(identifier, " \t"):
		ent, err = m.resolveByTitle(ctx, identifier)
	default:
		if err = ValidateIdentifier(identifier); err == nil {
			ent, err = m.resolveUsernameEntity(ctx, identifier)
		}
	}
	if err != nil {
		return Entity{}, err
	}
	m.cache.Add(key, ent)
	return ent, nil
}

// ResolveUser maps a user identifier (numeric id or @username) to a
// user entity.
func (m *Manager) ResolveUser(ctx context.Context, identifier string) (Entity, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return Entity{}, errors.New("user identifier is empty")
	}
	ent, err := m.Resolve(ctx, identifier)
	if err != nil {
		return Entity{}, err
	}
	if ent.Kind != KindUser {
		return Entity{}, errors.Errorf("target %q is not a user", identifier)
	}
	return ent, nil
}

func cacheKey(identifier string) string {
	return strings.ToLower(strings.TrimPrefix(identifier, "@"))
}

func (m *Manager) resolveByID(ctx context.Context, raw int64) (Entity, error) {
	targetID := raw
	var wantKind Kind
	switch {
	case raw < -channelIDMark:
		targetID = -raw - channelIDMark
		wantKind = KindChannel
	case raw < 0:
		targetID = -raw
		wantKind = KindChat
	}
	ent, found, err := m.scanDialogs(ctx, func(e Entity) bool {
		if e.ID != targetID {
			return false
		}
		return wantKind == "" || e.Kind == wantKind
	})
	if err != nil {
		return Entity{}, err
	}
	if !found {
		return Entity{}, errors.Errorf("peer %d not found in recent dialogs", raw)
	}
	return ent, nil
}

func (m *Manager) resolveByTitle(ctx context.Context, title string) (Entity, error) {
	want := strings.ToLower(strings.TrimSpace(title))
	ent, found, err := m.scanDialogs(ctx, func(e Entity) bool {
		return e.IsGroupLike() && strings.ToLower(strings.TrimSpace(e.Title)) == want
	})
	if err != nil {
		return Entity{}, err
	}
	if !found {
		return Entity{}, errors.Errorf("no dialog titled %q", title)
	}
	m.log.Debug("resolved group by title",
		zap.String("title", title),
		zap.Int64("peer", ent.ID))
	return ent, nil
}

func (m *Manager) resolveUsernameEntity(ctx context.Context, username string) (Entity, error) {
	name := strings.TrimPrefix(username, "@")
	res, err := ratelimit.Do(ctx, m.lim, ratelimit.OpAPI, func(ctx context.Context) (*tg.ContactsResolvedPeer, error) {
		return m.api.ResolveUsername(ctx, name)
	})
	if err != nil {
		return Entity{}, errors.Wrapf(err, "resolve %q", username)
	}
	idx := indexPeers(res.Users, res.Chats)
	if ent, ok := idx.find(res.Peer); ok {
		return ent, nil
	}
	return Entity{}, errors.Errorf("username %q resolved to no known peer", username)
}

// scanDialogs fetches one bounded page of dialogs and returns the
// first bundled peer matching the predicate, chats before users.
func (m *Manager) scanDialogs(ctx context.Context, match func(Entity) bool) (Entity, bool, error) {
	res, err := ratelimit.Do(ctx, m.lim, ratelimit.OpAPI, func(ctx context.Context) (tg.MessagesDialogsClass, error) {
		return m.api.GetDialogs(ctx, m.cfg.DialogScanLimit)
	})
	if err != nil {
		return Entity{}, false, err
	}
	_, users, chats := dialogList(res)
	for _, c := range chats {
		if ent, ok := entityFromAny(c); ok && match(ent) {
			return ent, true, nil
		}
	}
	for _, u := range users {
		if ent, ok := entityFromAny(u); ok && match(ent) {
			return ent, true, nil
		}
	}
	return Entity{}, false, nil
}

func dialogList(res tg.MessagesDialogsClass) ([]tg.DialogClass, []tg.UserClass, []tg.ChatClass) {
	switch d := res.(type) {
	case *tg.MessagesDialogs:
		return d.Dialogs, d.Users, d.Chats
	case *tg.MessagesDialogsSlice:
		return d.Dialogs, d.Users, d.Chats
	}
	return nil, nil, nil
}

// doErr routes an error-only API call through the retry kernel.
func (m *Manager) doErr(ctx context.Context, op ratelimit.Operation, fn func(ctx context.Context) error) error {
	_, err := ratelimit.Do(ctx, m.lim, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// maybePause sleeps briefly every threshold items so long scans do not
// hammer the API between rate-limited pages.
func (m *Manager) maybePause(ctx context.Context, count, every int) error {
	if every <= 0 || count == 0 || count%every != 0 {
		return nil
	}
	m.log.Debug("cooperative pause", zap.Int("count", count))
	return m.sleep(ctx, m.cfg.PauseFor)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
