package server

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"tgmcp/internal/actions"
	"tgmcp/internal/config"
	"tgmcp/internal/groups"
	"tgmcp/internal/mcp"
	"tgmcp/internal/ratelimit"
)

// writeFlags are the policy arguments every write tool accepts.
type writeFlags struct {
	dryRun           bool
	confirm          bool
	confirmationText string
	approvalCode     string
	forceResend      bool
}

func parseWriteFlags(args map[string]any, dryRunDefault bool) writeFlags {
	return writeFlags{
		dryRun:           mcp.BoolArg(args, "dry_run", dryRunDefault),
		confirm:          mcp.BoolArg(args, "confirm", false),
		confirmationText: mcp.StringArg(args, "confirmation_text", ""),
		approvalCode:     mcp.StringArg(args, "approval_code", ""),
		forceResend:      mcp.BoolArg(args, "force_resend", false),
	}
}

func writeProps(extra map[string]any, dryRunDefault bool) map[string]any {
	props := map[string]any{
		"dry_run":           schemaBool(dryRunDefault),
		"confirm":           schemaBool(false),
		"confirmation_text": schemaStringDefault(""),
		"approval_code":     schemaStringDefault(""),
		"force_resend":      schemaBool(false),
	}
	for k, v := range extra {
		props[k] = v
	}
	return props
}

// RegisterActionTools adds the write tool set. Every tool runs the full
// gate pipeline; refusals come back as blocked payloads with a next_step
// hint, transport and storage failures as tool errors.
func RegisterActionTools(reg *mcp.Registry, c *Context, gate *actions.Gate, engine *actions.Engine) {
	reg.Register(mcp.Tool{
		Name:        "tg_send_message",
		Description: "Send message with policy gates (confirm + confirmation_text + idempotency).",
		InputSchema: mcp.ObjectSchema(writeProps(map[string]any{
			"group":        schemaString(),
			"message_text": schemaString(),
		}, false), []string{"group", "message_text"}),
		Run: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			group, err := mcp.RequiredStringArg(args, "group")
			if err != nil {
				return nil, err
			}
			flags := parseWriteFlags(args, false)

			if err := gate.Preconditions(group, flags.dryRun, flags.confirm, flags.confirmationText); err != nil {
				return gate.Blocked(err.Error(), nil), nil
			}

			text := strings.TrimSpace(mcp.StringArg(args, "message_text", ""))
			if text == "" {
				return gate.Blocked("message_text is empty", nil), nil
			}
			textLen := utf8.RuneCountInString(text)
			if textLen > c.cfg.MaxMessageLen {
				return map[string]any{
					"success": false,
					"error":   fmt.Sprintf("message_text is too long (%d > %d)", textLen, c.cfg.MaxMessageLen),
				}, nil
			}

			hash := actions.HashPayload(map[string]any{
				"action": "send_message",
				"target": actions.NormalizeTarget(group),
				"text":   text,
			})
			approval, err := gate.ApprovalGate(hash, flags.dryRun, flags.approvalCode)
			if err != nil {
				if actions.IsRefusal(err) {
					return gate.Blocked(err.Error(), nil), nil
				}
				return nil, err
			}

			if flags.dryRun {
				result := map[string]any{
					"success":                    true,
					"dry_run":                    true,
					"target":                     group,
					"message_len":                textLen,
					"action_hash":                hash,
					"confirmation_text_required": nullableString(gate.ConfirmationPhraseRequired()),
				}
				mergeApproval(result, approval)
				return result, nil
			}

			if !flags.forceResend {
				payload, err := duplicatePayload(gate, hash)
				if err != nil {
					return nil, err
				}
				if payload != nil {
					return payload, nil
				}
			}

			manager, err := c.Manager(ctx)
			if err != nil {
				return nil, err
			}
			if err := manager.SendMessage(ctx, group, text); err != nil {
				c.log.Error("send message failed", zap.String("group", group), zap.Error(err))
				return map[string]any{
					"success":     false,
					"target":      group,
					"action_hash": hash,
					"error":       "send_message failed (see server logs for details)",
				}, nil
			}
			markExecuted(c, gate, hash)
			return map[string]any{
				"success":     true,
				"target":      group,
				"message_len": textLen,
				"action_hash": hash,
			}, nil
		},
	})

	reg.Register(mcp.Tool{
		Name:        "tg_send_file",
		Description: "Send local file with policy gates (confirm + confirmation_text + idempotency).",
		InputSchema: mcp.ObjectSchema(writeProps(map[string]any{
			"group":     schemaString(),
			"file_path": schemaString(),
			"caption":   schemaStringDefault(""),
		}, false), []string{"group", "file_path"}),
		Run: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			group, err := mcp.RequiredStringArg(args, "group")
			if err != nil {
				return nil, err
			}
			flags := parseWriteFlags(args, false)

			if err := gate.Preconditions(group, flags.dryRun, flags.confirm, flags.confirmationText); err != nil {
				return gate.Blocked(err.Error(), nil), nil
			}

			path := strings.TrimSpace(mcp.StringArg(args, "file_path", ""))
			if path == "" {
				return gate.Blocked("file_path is empty", nil), nil
			}
			info, err := os.Stat(path)
			if err != nil {
				return gate.Blocked(fmt.Sprintf("file_path does not exist: %s", path), nil), nil
			}
			if info.IsDir() {
				return gate.Blocked(fmt.Sprintf("file_path is not a file: %s", path), nil), nil
			}

			fileSizeMB := float64(info.Size()) / (1 << 20)
			if fileSizeMB > float64(c.cfg.MaxFileMB) {
				return map[string]any{
					"success": false,
					"error":   fmt.Sprintf("file is too large (%.2f MB > %d MB)", fileSizeMB, c.cfg.MaxFileMB),
				}, nil
			}

			caption := strings.TrimSpace(mcp.StringArg(args, "caption", ""))
			captionLen := utf8.RuneCountInString(caption)
			if captionLen > c.cfg.MaxMessageLen {
				return map[string]any{
					"success": false,
					"error":   fmt.Sprintf("caption is too long (%d > %d)", captionLen, c.cfg.MaxMessageLen),
				}, nil
			}

			abs, err := filepath.Abs(path)
			if err != nil {
				abs = path
			}
			hash := actions.HashPayload(map[string]any{
				"action":        "send_file",
				"target":        actions.NormalizeTarget(group),
				"file_path":     abs,
				"file_size":     info.Size(),
				"file_mtime_ns": info.ModTime().UnixNano(),
				"caption":       caption,
			})
			approval, err := gate.ApprovalGate(hash, flags.dryRun, flags.approvalCode)
			if err != nil {
				if actions.IsRefusal(err) {
					return gate.Blocked(err.Error(), nil), nil
				}
				return nil, err
			}

			if flags.dryRun {
				result := map[string]any{
					"success":                    true,
					"dry_run":                    true,
					"target":                     group,
					"file_path":                  path,
					"file_size_mb":               round3(fileSizeMB),
					"caption_len":                captionLen,
					"action_hash":                hash,
					"confirmation_text_required": nullableString(gate.ConfirmationPhraseRequired()),
				}
				mergeApproval(result, approval)
				return result, nil
			}

			if !flags.forceResend {
				payload, err := duplicatePayload(gate, hash)
				if err != nil {
					return nil, err
				}
				if payload != nil {
					return payload, nil
				}
			}

			manager, err := c.Manager(ctx)
			if err != nil {
				return nil, err
			}
			if err := manager.SendFile(ctx, group, path, caption); err != nil {
				c.log.Error("send file failed", zap.String("group", group), zap.String("path", path), zap.Error(err))
				return map[string]any{
					"success":     false,
					"target":      group,
					"action_hash": hash,
					"error":       "send_file failed (see server logs for details)",
				}, nil
			}
			markExecuted(c, gate, hash)
			return map[string]any{
				"success":      true,
				"target":       group,
				"file_path":    path,
				"file_size_mb": round3(fileSizeMB),
				"caption_len":  captionLen,
				"action_hash":  hash,
			}, nil
		},
	})

	reg.Register(mcp.Tool{
		Name:        "tg_add_member_to_group",
		Description: "Add user to group/channel with confirmation and idempotency gates.",
		InputSchema: mcp.ObjectSchema(writeProps(map[string]any{
			"group": schemaString(),
			"user":  schemaString(),
		}, true), []string{"group", "user"}),
		Run: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			group, err := mcp.RequiredStringArg(args, "group")
			if err != nil {
				return nil, err
			}
			user, err := mcp.RequiredStringArg(args, "user")
			if err != nil {
				return nil, err
			}
			flags := parseWriteFlags(args, true)

			hash := actions.HashPayload(map[string]any{
				"action": "add_member",
				"target": actions.NormalizeTarget(group),
				"user":   strings.ToLower(strings.TrimSpace(user)),
			})
			return runMemberTool(ctx, c, gate, flags, group, hash, func(ctx context.Context, manager *groups.Manager) (map[string]any, bool, error) {
				res, err := manager.AddMember(ctx, group, user, flags.dryRun)
				if err != nil {
					c.log.Error("add member failed", zap.String("group", group), zap.String("user", user), zap.Error(err))
					return memberFailure("add_member", group, user, flags.dryRun, err), false, nil
				}
				return structMap(res), res.Success, nil
			})
		},
	})

	reg.Register(mcp.Tool{
		Name:        "tg_remove_member_from_group",
		Description: "Remove user from group/channel with confirmation and idempotency gates.",
		InputSchema: mcp.ObjectSchema(writeProps(map[string]any{
			"group": schemaString(),
			"user":  schemaString(),
		}, true), []string{"group", "user"}),
		Run: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			group, err := mcp.RequiredStringArg(args, "group")
			if err != nil {
				return nil, err
			}
			user, err := mcp.RequiredStringArg(args, "user")
			if err != nil {
				return nil, err
			}
			flags := parseWriteFlags(args, true)

			hash := actions.HashPayload(map[string]any{
				"action": "remove_member",
				"target": actions.NormalizeTarget(group),
				"user":   strings.ToLower(strings.TrimSpace(user)),
			})
			return runMemberTool(ctx, c, gate, flags, group, hash, func(ctx context.Context, manager *groups.Manager) (map[string]any, bool, error) {
				res, err := manager.RemoveMember(ctx, group, user, flags.dryRun)
				if err != nil {
					c.log.Error("remove member failed", zap.String("group", group), zap.String("user", user), zap.Error(err))
					return memberFailure("remove_member", group, user, flags.dryRun, err), false, nil
				}
				return structMap(res), res.Success, nil
			})
		},
	})

	reg.Register(mcp.Tool{
		Name:        "tg_migrate_member",
		Description: "Migrate member (add new, remove old) with confirmation and idempotency gates.",
		InputSchema: mcp.ObjectSchema(writeProps(map[string]any{
			"group":    schemaString(),
			"old_user": schemaString(),
			"new_user": schemaString(),
		}, true), []string{"group", "old_user", "new_user"}),
		Run: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			group, err := mcp.RequiredStringArg(args, "group")
			if err != nil {
				return nil, err
			}
			oldUser, err := mcp.RequiredStringArg(args, "old_user")
			if err != nil {
				return nil, err
			}
			newUser, err := mcp.RequiredStringArg(args, "new_user")
			if err != nil {
				return nil, err
			}
			flags := parseWriteFlags(args, true)

			hash := actions.HashPayload(map[string]any{
				"action":   "migrate_member",
				"target":   actions.NormalizeTarget(group),
				"old_user": strings.ToLower(strings.TrimSpace(oldUser)),
				"new_user": strings.ToLower(strings.TrimSpace(newUser)),
			})
			return runMemberTool(ctx, c, gate, flags, group, hash, func(ctx context.Context, manager *groups.Manager) (map[string]any, bool, error) {
				res, err := manager.MigrateMember(ctx, group, oldUser, newUser, flags.dryRun)
				if err != nil {
					return nil, false, err
				}
				return structMap(res), res.Success, nil
			})
		},
	})

	reg.Register(mcp.Tool{
		Name:        "tg_create_add_member_batch",
		Description: "Create batch for adding one user to many groups with one-time approval.",
		InputSchema: mcp.ObjectSchema(map[string]any{
			"user":      schemaString(),
			"groups":    map[string]any{"type": "array", "items": schemaString()},
			"note":      schemaStringDefault(""),
			"ttl_hours": schemaIntDefault(c.cfg.BatchTTLHours),
		}, []string{"user", "groups"}),
		Run: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			if err := gate.CheckEnabled(); err != nil {
				return gate.Blocked(err.Error(), nil), nil
			}
			user := mcp.StringArg(args, "user", "")
			if strings.TrimSpace(user) == "" {
				return gate.Blocked("user is empty", nil), nil
			}
			groupList := stringListArg(args, "groups")
			if len(groupList) == 0 {
				return gate.Blocked("groups list is empty", nil), nil
			}

			summary, blockedTargets, err := engine.Create(
				user,
				groupList,
				mcp.StringArg(args, "note", ""),
				mcp.IntArg(args, "ttl_hours", 0),
			)
			if err != nil {
				return blockedOrError(gate, err)
			}
			payload := structMap(summary)
			payload["success"] = true
			payload["blocked_targets"] = blockedTargets
			payload["next_step"] = "Call tg_approve_batch(batch_id, confirmation_text), then tg_run_add_member_batch(batch_id)."
			return payload, nil
		},
	})

	reg.Register(mcp.Tool{
		Name:        "tg_create_add_member_batch_from_report",
		Description: "Create add-member batch from JSON report (e.g. previous migration run).",
		InputSchema: mcp.ObjectSchema(map[string]any{
			"report_path":    schemaString(),
			"user":           schemaString(),
			"note":           schemaStringDefault(""),
			"error_contains": schemaStringDefault("join quota exceeded"),
			"ttl_hours":      schemaIntDefault(c.cfg.BatchTTLHours),
		}, []string{"report_path", "user"}),
		Run: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			if err := gate.CheckEnabled(); err != nil {
				return gate.Blocked(err.Error(), nil), nil
			}
			reportPath, err := mcp.RequiredStringArg(args, "report_path")
			if err != nil {
				return nil, err
			}
			user := mcp.StringArg(args, "user", "")
			if strings.TrimSpace(user) == "" {
				return gate.Blocked("user is empty", nil), nil
			}

			summary, blockedTargets, err := engine.CreateFromReport(
				reportPath,
				user,
				mcp.StringArg(args, "note", ""),
				mcp.StringArg(args, "error_contains", "join quota exceeded"),
				mcp.IntArg(args, "ttl_hours", 0),
			)
			if err != nil {
				return blockedOrError(gate, err)
			}
			payload := structMap(summary)
			payload["success"] = true
			payload["blocked_targets"] = blockedTargets
			payload["next_step"] = "Call tg_approve_batch(batch_id, confirmation_text), then tg_run_add_member_batch(batch_id)."
			return payload, nil
		},
	})

	reg.Register(mcp.Tool{
		Name:        "tg_approve_batch",
		Description: "Approve previously created batch once; after that runs don't need per-action approval.",
		InputSchema: mcp.ObjectSchema(map[string]any{
			"batch_id":          schemaString(),
			"confirmation_text": schemaString(),
		}, []string{"batch_id", "confirmation_text"}),
		Run: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			batchID, err := mcp.RequiredStringArg(args, "batch_id")
			if err != nil {
				return nil, err
			}
			summary, err := engine.Approve(batchID, mcp.StringArg(args, "confirmation_text", ""))
			if err != nil {
				return blockedOrError(gate, err)
			}
			payload := structMap(summary)
			payload["success"] = true
			payload["approval_lease_sec"] = engine.ApprovalLeaseSec()
			return payload, nil
		},
	})

	reg.Register(mcp.Tool{
		Name:        "tg_get_batch_status",
		Description: "Get status and counters for action batch.",
		InputSchema: mcp.ObjectSchema(map[string]any{
			"batch_id": schemaString(),
		}, []string{"batch_id"}),
		Run: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			batchID, err := mcp.RequiredStringArg(args, "batch_id")
			if err != nil {
				return nil, err
			}
			report, err := engine.Status(batchID)
			if err != nil {
				return blockedOrError(gate, err)
			}
			payload := structMap(report.Summary)
			payload["success"] = true
			payload["pending_groups_preview"] = report.PendingGroupsPreview
			payload["last_error"] = nullableString(report.LastError)
			return payload, nil
		},
	})

	reg.Register(mcp.Tool{
		Name:        "tg_run_add_member_batch",
		Description: "Execute approved add-member batch without per-action confirmations.",
		InputSchema: mcp.ObjectSchema(map[string]any{
			"batch_id":    schemaString(),
			"max_actions": schemaIntDefault(100),
		}, []string{"batch_id"}),
		Run: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			if err := gate.CheckEnabled(); err != nil {
				return gate.Blocked(err.Error(), nil), nil
			}
			batchID, err := mcp.RequiredStringArg(args, "batch_id")
			if err != nil {
				return nil, err
			}
			manager, err := c.Manager(ctx)
			if err != nil {
				return nil, err
			}
			res, err := engine.Run(ctx, batchID, mcp.IntArg(args, "max_actions", 100),
				func(ctx context.Context, group, user string) (groups.MemberResult, error) {
					return manager.AddMember(ctx, group, user, false)
				})
			if err != nil {
				return blockedOrError(gate, err)
			}
			payload := structMap(res.Summary)
			payload["success"] = true
			if res.Message != "" {
				payload["message"] = res.Message
			} else {
				payload["processed_now"] = res.ProcessedNow
				payload["stopped_reason"] = nullableString(res.StoppedReason)
			}
			return payload, nil
		},
	})

	reg.Register(mcp.Tool{
		Name:        "tg_get_actions_policy",
		Description: "Return active action policy gates and limits.",
		Run: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			stats, err := c.limiter.Stats()
			if err != nil {
				return nil, err
			}
			return PolicySnapshot(c.cfg, gate, stats), nil
		},
	})
}

// PolicySnapshot assembles the effective action policy. The actions server
// exposes it through tg_get_actions_policy and the CLI prints it directly.
func PolicySnapshot(cfg config.Config, gate *actions.Gate, stats ratelimit.Stats) map[string]any {
	var approvalTTL any
	if cfg.RequireApprovalCode {
		approvalTTL = cfg.ApprovalTTLSec
	}
	issues := gate.UnsafeIssues()
	if issues == nil {
		issues = []string{}
	}
	return map[string]any{
		"server_profile":            "actions",
		"actions_enabled":           gate.Enabled(),
		"require_allowlist":         cfg.RequireAllowlist,
		"allowed_targets":           gate.AllowedTargets(),
		"max_message_len":           cfg.MaxMessageLen,
		"max_file_mb":               cfg.MaxFileMB,
		"idempotency_enabled":       cfg.IdempotencyEnabled,
		"idempotency_window_sec":    cfg.IdempotencyWindowSec,
		"require_confirmation_text": cfg.RequireConfirmationText,
		"confirmation_phrase":       nullableString(gate.ConfirmationPhraseRequired()),
		"min_confirmation_text_len": cfg.MinConfirmationTextLen,
		"require_approval_code":     cfg.RequireApprovalCode,
		"approval_ttl_sec":          approvalTTL,

		"batch_file":               cfg.BatchFile,
		"batch_default_ttl_hours":  cfg.BatchTTLHours,
		"batch_approval_lease_sec": cfg.BatchApprovalLeaseSec,
		"batch_run_lease_sec":      cfg.BatchRunLeaseSec,

		"unsafe_override":           cfg.AllowUnsafeDefaults,
		"unsafe_policy_issues":      issues,
		"safe_startup_block_reason": nullableString(gate.StartupBlockReason()),
		"write_context":             cfg.WriteContext,
		"direct_write_guard":        cfg.BlockDirectWrite,
		"enforce_action_process":    cfg.EnforceActionProcess,

		"group_msg_usage": stats.GroupMsgUsage,
		"circuit_breaker": map[string]any{"open_remaining_sec": stats.CircuitOpenSec},

		"destructive_actions_require_confirm": true,
		"default_dry_run_for_member_actions":  true,
		"allow_session_switch":                cfg.AllowSessionSwitch,

		"recommended_write_flow": []string{
			"1) Call write tool with dry_run=true to preview and get approval_code.",
			"2) Ask user for exact confirmation_text phrase in this thread.",
			"3) Execute same payload with confirm=true + confirmation_text + approval_code.",
			"4) Handle duplicate_blocked by waiting or using force_resend=true intentionally.",
		},
		"recommended_batch_flow": []string{
			"1) tg_create_add_member_batch(user, groups).",
			"2) tg_approve_batch(batch_id, confirmation_text).",
			"3) Repeat tg_run_add_member_batch(batch_id, max_actions) until completed.",
			"4) If lease expires, re-run tg_approve_batch and continue.",
		},
	}
}

// runMemberTool runs the shared gate pipeline around one member write.
// invoke returns the tool payload and whether the operation succeeded.
func runMemberTool(
	ctx context.Context,
	c *Context,
	gate *actions.Gate,
	flags writeFlags,
	group, hash string,
	invoke func(ctx context.Context, manager *groups.Manager) (map[string]any, bool, error),
) (map[string]any, error) {
	if err := gate.Preconditions(group, flags.dryRun, flags.confirm, flags.confirmationText); err != nil {
		return gate.Blocked(err.Error(), nil), nil
	}
	approval, err := gate.ApprovalGate(hash, flags.dryRun, flags.approvalCode)
	if err != nil {
		if actions.IsRefusal(err) {
			return gate.Blocked(err.Error(), nil), nil
		}
		return nil, err
	}
	if !flags.dryRun && !flags.forceResend {
		payload, err := duplicatePayload(gate, hash)
		if err != nil {
			return nil, err
		}
		if payload != nil {
			return payload, nil
		}
	}

	manager, err := c.Manager(ctx)
	if err != nil {
		return nil, err
	}
	result, success, err := invoke(ctx, manager)
	if err != nil {
		return nil, err
	}
	if !flags.dryRun && success {
		markExecuted(c, gate, hash)
	}
	if flags.dryRun {
		mergeApproval(result, approval)
	}
	result["action_hash"] = hash
	result["confirmation_text_required"] = nullableString(gate.ConfirmationPhraseRequired())
	return result, nil
}

// memberFailure mirrors the failed member-op payload with the raw
// identifiers the caller passed in.
func memberFailure(action, group, user string, dryRun bool, err error) map[string]any {
	return map[string]any{
		"success": false,
		"action":  action,
		"dry_run": dryRun,
		"group":   group,
		"user":    user,
		"error":   err.Error(),
	}
}

// duplicatePayload consults the idempotency window; a non-nil payload is
// the duplicate-blocked response.
func duplicatePayload(gate *actions.Gate, hash string) (map[string]any, error) {
	duplicate, retryAfter, err := gate.CheckDuplicate(hash)
	if err != nil {
		return nil, err
	}
	if !duplicate {
		return nil, nil
	}
	return map[string]any{
		"success":           false,
		"duplicate_blocked": true,
		"retry_after_sec":   retryAfter,
		"action_hash":       hash,
		"error":             "Duplicate action blocked by idempotency window. Set force_resend=true to override.",
	}, nil
}

func mergeApproval(result map[string]any, approval *actions.Approval) {
	if approval == nil {
		return
	}
	result["approval_code"] = approval.Code
	result["approval_expires_in_sec"] = approval.ExpiresInSec
	result["approval_expires_at_ts"] = approval.ExpiresAtTS
}

func markExecuted(c *Context, gate *actions.Gate, hash string) {
	if err := gate.MarkExecuted(hash); err != nil {
		c.log.Warn("mark executed", zap.String("action_hash", hash), zap.Error(err))
	}
}

// blockedOrError renders engine refusals as blocked payloads, attaching
// the batch summary when the refusal carries one.
func blockedOrError(gate *actions.Gate, err error) (map[string]any, error) {
	var blocked *actions.BlockedError
	if errors.As(err, &blocked) {
		var extra map[string]any
		if blocked.Summary != nil {
			extra = structMap(*blocked.Summary)
		}
		return gate.Blocked(blocked.Reason, extra), nil
	}
	return nil, err
}

func stringListArg(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		switch s := v.(type) {
		case string:
			out = append(out, s)
		case float64:
			out = append(out, fmt.Sprintf("%.0f", s))
		}
	}
	return out
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
