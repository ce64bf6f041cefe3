package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"tgmcp/internal/mcp"
)

// RegisterReadTools adds the read-only tool set shared by both profiles.
// Lookup failures that the caller can act on (unknown group, unresolvable
// username) come back as error payloads; transport and RPC failures become
// tool errors.
func RegisterReadTools(reg *mcp.Registry, c *Context) {
	reg.Register(mcp.Tool{
		Name:        "tg_list_sessions",
		Description: "List available Telegram sessions in the sessions directory.",
		Run: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			return c.ListSessions()
		},
	})

	reg.Register(mcp.Tool{
		Name:        "tg_use_session",
		Description: "Switch to a different Telegram session by name.",
		InputSchema: mcp.ObjectSchema(map[string]any{
			"session_name": schemaString(),
		}, []string{"session_name"}),
		Run: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			name, err := mcp.RequiredStringArg(args, "session_name")
			if err != nil {
				return nil, err
			}
			return c.UseSession(ctx, name), nil
		},
	})

	reg.Register(mcp.Tool{
		Name:        "tg_auth_status",
		Description: "Check whether the current session is authorized and which account it belongs to.",
		Run: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			return c.AuthStatus(ctx), nil
		},
	})

	reg.Register(mcp.Tool{
		Name:        "tg_get_group_info",
		Description: "Get info about a Telegram group/channel (id, title, participants_count, type).",
		InputSchema: mcp.ObjectSchema(map[string]any{
			"group": schemaString(),
		}, []string{"group"}),
		Run: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			group, err := mcp.RequiredStringArg(args, "group")
			if err != nil {
				return nil, err
			}
			manager, err := c.Manager(ctx)
			if err != nil {
				return nil, err
			}
			info, err := manager.GroupInfo(ctx, group)
			if err != nil {
				c.log.Warn("group info failed", zap.String("group", group), zap.Error(err))
				return map[string]any{"error": "Group not found"}, nil
			}
			return structMap(info), nil
		},
	})

	reg.Register(mcp.Tool{
		Name:        "tg_get_participants",
		Description: "Get participants of a Telegram group (id, username, first_name, is_premium, ...).",
		InputSchema: mcp.ObjectSchema(map[string]any{
			"group": schemaString(),
			"limit": schemaIntDefault(100),
		}, []string{"group"}),
		Run: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			group, err := mcp.RequiredStringArg(args, "group")
			if err != nil {
				return nil, err
			}
			manager, err := c.Manager(ctx)
			if err != nil {
				return nil, err
			}
			parts, err := manager.Participants(ctx, group, mcp.IntArg(args, "limit", 100))
			if err != nil {
				return nil, err
			}
			return map[string]any{"count": len(parts), "participants": parts}, nil
		},
	})

	reg.Register(mcp.Tool{
		Name:        "tg_search_participants",
		Description: "Search group participants by name or username.",
		InputSchema: mcp.ObjectSchema(map[string]any{
			"group": schemaString(),
			"query": schemaString(),
			"limit": schemaIntDefault(50),
		}, []string{"group", "query"}),
		Run: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			group, err := mcp.RequiredStringArg(args, "group")
			if err != nil {
				return nil, err
			}
			query, err := mcp.RequiredStringArg(args, "query")
			if err != nil {
				return nil, err
			}
			manager, err := c.Manager(ctx)
			if err != nil {
				return nil, err
			}
			parts, err := manager.SearchParticipants(ctx, group, query, mcp.IntArg(args, "limit", 50))
			if err != nil {
				return nil, err
			}
			return map[string]any{"count": len(parts), "participants": parts}, nil
		},
	})

	reg.Register(mcp.Tool{
		Name:        "tg_export_participants_csv",
		Description: "Export group participants to a local CSV file.",
		InputSchema: mcp.ObjectSchema(map[string]any{
			"group":    schemaString(),
			"filename": schemaString(),
			"limit":    schemaIntDefault(1000),
		}, []string{"group", "filename"}),
		Run: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			group, err := mcp.RequiredStringArg(args, "group")
			if err != nil {
				return nil, err
			}
			filename, err := mcp.RequiredStringArg(args, "filename")
			if err != nil {
				return nil, err
			}
			manager, err := c.Manager(ctx)
			if err != nil {
				return nil, err
			}
			n, err := manager.ExportParticipantsCSV(ctx, group, filename, mcp.IntArg(args, "limit", 1000))
			if err != nil {
				return nil, err
			}
			if n == 0 {
				return map[string]any{"success": false, "error": "no participants to export"}, nil
			}
			return map[string]any{"success": true, "exported": n, "path": filename}, nil
		},
	})

	reg.Register(mcp.Tool{
		Name:        "tg_get_messages",
		Description: "Get messages from a Telegram group (id, date, text, from_id, views, ...).",
		InputSchema: mcp.ObjectSchema(map[string]any{
			"group":  schemaString(),
			"limit":  schemaIntDefault(100),
			"min_id": schemaIntDefault(0),
		}, []string{"group"}),
		Run: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			group, err := mcp.RequiredStringArg(args, "group")
			if err != nil {
				return nil, err
			}
			manager, err := c.Manager(ctx)
			if err != nil {
				return nil, err
			}
			msgs, err := manager.Messages(ctx, group, mcp.IntArg(args, "limit", 100), mcp.IntArg(args, "min_id", 0))
			if err != nil {
				return nil, err
			}
			return map[string]any{"count": len(msgs), "messages": msgs}, nil
		},
	})

	reg.Register(mcp.Tool{
		Name:        "tg_get_message_count",
		Description: "Get total number of messages in a Telegram group.",
		InputSchema: mcp.ObjectSchema(map[string]any{
			"group": schemaString(),
		}, []string{"group"}),
		Run: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			group, err := mcp.RequiredStringArg(args, "group")
			if err != nil {
				return nil, err
			}
			manager, err := c.Manager(ctx)
			if err != nil {
				return nil, err
			}
			count, err := manager.MessageCount(ctx, group)
			if err != nil {
				c.log.Warn("message count failed", zap.String("group", group), zap.Error(err))
				return map[string]any{"group": group, "error": "Could not retrieve message count"}, nil
			}
			return map[string]any{"group": group, "message_count": count}, nil
		},
	})

	reg.Register(mcp.Tool{
		Name:        "tg_get_group_creation_date",
		Description: "Get approximate creation date of a Telegram group (via first message).",
		InputSchema: mcp.ObjectSchema(map[string]any{
			"group": schemaString(),
		}, []string{"group"}),
		Run: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			group, err := mcp.RequiredStringArg(args, "group")
			if err != nil {
				return nil, err
			}
			manager, err := c.Manager(ctx)
			if err != nil {
				return nil, err
			}
			dt, err := manager.CreationDate(ctx, group)
			if err != nil {
				c.log.Warn("creation date failed", zap.String("group", group), zap.Error(err))
				return map[string]any{"group": group, "error": "Could not determine creation date"}, nil
			}
			return map[string]any{"group": group, "creation_date": dt.Format(time.RFC3339)}, nil
		},
	})

	reg.Register(mcp.Tool{
		Name:        "tg_get_my_dialogs",
		Description: "List groups, channels and chats the current account is a member of.",
		InputSchema: mcp.ObjectSchema(map[string]any{
			"limit":       schemaIntDefault(100),
			"dialog_type": schemaStringDefault("all"),
		}, nil),
		Run: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			manager, err := c.Manager(ctx)
			if err != nil {
				return nil, err
			}
			dialogs, err := manager.Dialogs(ctx, mcp.IntArg(args, "limit", 100), mcp.StringArg(args, "dialog_type", "all"))
			if err != nil {
				return nil, err
			}
			return map[string]any{"count": len(dialogs), "dialogs": dialogs}, nil
		},
	})

	reg.Register(mcp.Tool{
		Name:        "tg_resolve_username",
		Description: "Resolve a Telegram @username to user/channel/chat info (id, type, name).",
		InputSchema: mcp.ObjectSchema(map[string]any{
			"username": schemaString(),
		}, []string{"username"}),
		Run: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			username, err := mcp.RequiredStringArg(args, "username")
			if err != nil {
				return nil, err
			}
			manager, err := c.Manager(ctx)
			if err != nil {
				return nil, err
			}
			peer, err := manager.ResolveUsername(ctx, username)
			if err != nil {
				c.log.Warn("resolve username failed", zap.String("username", username), zap.Error(err))
				return map[string]any{"error": fmt.Sprintf("Could not resolve username '%s'", username)}, nil
			}
			return structMap(peer), nil
		},
	})

	reg.Register(mcp.Tool{
		Name:        "tg_get_user_by_id",
		Description: "Get user info by numeric Telegram ID.",
		InputSchema: mcp.ObjectSchema(map[string]any{
			"user_id": schemaInt(),
		}, []string{"user_id"}),
		Run: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			userID := mcp.Int64Arg(args, "user_id", 0)
			if userID == 0 {
				return nil, errors.New("missing required argument: user_id")
			}
			manager, err := c.Manager(ctx)
			if err != nil {
				return nil, err
			}
			user, err := manager.UserByID(ctx, userID)
			if err != nil {
				return map[string]any{"error": err.Error()}, nil
			}
			return map[string]any{
				"id":         user.ID,
				"username":   nullableString(user.Username),
				"first_name": nullableString(user.FirstName),
				"last_name":  nullableString(user.LastName),
				"phone":      nullableString(user.Phone),
				"is_bot":     user.IsBot,
				"is_premium": user.IsPremium,
			}, nil
		},
	})

	reg.Register(mcp.Tool{
		Name:        "tg_download_media",
		Description: "Download a file/media from a Telegram message to a local directory.",
		InputSchema: mcp.ObjectSchema(map[string]any{
			"group":      schemaString(),
			"message_id": schemaInt(),
			"output_dir": schemaStringDefault(c.cfg.DownloadsDir),
		}, []string{"group", "message_id"}),
		Run: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			group, err := mcp.RequiredStringArg(args, "group")
			if err != nil {
				return nil, err
			}
			messageID := mcp.IntArg(args, "message_id", 0)
			if messageID == 0 {
				return nil, errors.New("missing required argument: message_id")
			}
			manager, err := c.Manager(ctx)
			if err != nil {
				return nil, err
			}
			outputDir := mcp.StringArg(args, "output_dir", c.cfg.DownloadsDir)
			path, err := manager.DownloadMedia(ctx, group, messageID, outputDir)
			if err != nil || path == "" {
				if err != nil {
					c.log.Warn("download failed", zap.String("group", group), zap.Int("message_id", messageID), zap.Error(err))
				}
				return map[string]any{"success": false, "error": "Download failed or message has no media"}, nil
			}
			return map[string]any{"success": true, "path": path}, nil
		},
	})

	reg.Register(mcp.Tool{
		Name:        "tg_get_stats",
		Description: "Get anti-spam statistics (API calls, flood waits, quotas, latency histogram).",
		Run: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			return c.Stats(), nil
		},
	})
}

// structMap renders a typed payload through its JSON tags so tool results
// keep one shape regardless of which layer produced them.
func structMap(v any) map[string]any {
	raw, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{}
	}
	return out
}

func schemaString() map[string]any {
	return map[string]any{"type": "string"}
}

func schemaStringDefault(def string) map[string]any {
	return map[string]any{"type": "string", "default": def}
}

func schemaInt() map[string]any {
	return map[string]any{"type": "integer"}
}

func schemaIntDefault(def int) map[string]any {
	return map[string]any{"type": "integer", "default": def}
}

func schemaBool(def bool) map[string]any {
	return map[string]any{"type": "boolean", "default": def}
}
