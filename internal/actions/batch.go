package actions

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/gotd/td/tgerr"
	"go.uber.org/zap"

	"tgmcp/internal/config"
	"tgmcp/internal/groups"
	"tgmcp/internal/ratelimit"
	"tgmcp/internal/statestore"
)

// Batch lifecycle statuses.
const (
	BatchPendingApproval = "pending_approval"
	BatchApproved        = "approved"
	BatchRunning         = "running"
	BatchPausedQuota     = "paused_quota"
	BatchCompleted       = "completed"
	BatchExpired         = "expired"
)

// Per-action statuses inside a batch.
const (
	ActionPending       = "pending"
	ActionSuccess       = "success"
	ActionAlreadyMember = "already_member"
	ActionBlockedRights = "blocked_rights"
	ActionBlockedPolicy = "blocked_policy"
	ActionFailed        = "failed"
)

const batchRootKey = "batches"

// BatchAction is one target inside a batch.
type BatchAction struct {
	Group      string `json:"group"`
	ActionHash string `json:"action_hash"`
	Status     string `json:"status"`
	Attempts   int    `json:"attempts"`
	LastError  string `json:"last_error,omitempty"`
	LastRunTS  int64  `json:"last_run_ts,omitempty"`
}

// Batch is the persisted add-member batch record.
type Batch struct {
	ID              string        `json:"id"`
	Type            string        `json:"type"`
	Status          string        `json:"status"`
	Approved        bool          `json:"approved"`
	ApprovedUntilTS int64         `json:"approved_until_ts,omitempty"`
	RunLockOwner    string        `json:"run_lock_owner,omitempty"`
	RunLockUntilTS  int64         `json:"run_lock_until_ts,omitempty"`
	Note            string        `json:"note,omitempty"`
	User            string        `json:"user"`
	CreatedAtTS     int64         `json:"created_at_ts"`
	ApprovedAtTS    int64         `json:"approved_at_ts,omitempty"`
	ExpiresAtTS     int64         `json:"expires_at_ts"`
	CompletedAtTS   int64         `json:"completed_at_ts,omitempty"`
	LastRunTS       int64         `json:"last_run_ts,omitempty"`
	LastError       string        `json:"last_error,omitempty"`
	Actions         []BatchAction `json:"actions"`
}

// Summary is the compact progress view every batch tool returns.
type Summary struct {
	BatchID            string `json:"batch_id"`
	BatchType          string `json:"batch_type"`
	Status             string `json:"status"`
	Approved           bool   `json:"approved"`
	ApprovalValidUntil int64  `json:"approval_valid_until_ts,omitempty"`
	RunLockOwner       string `json:"run_lock_owner,omitempty"`
	RunLockUntil       int64  `json:"run_lock_until_ts,omitempty"`
	User               string `json:"user"`
	CreatedAtTS        int64  `json:"created_at_ts"`
	ApprovedAtTS       int64  `json:"approved_at_ts,omitempty"`
	ExpiresAtTS        int64  `json:"expires_at_ts"`
	Total              int    `json:"total"`
	PendingCount       int    `json:"pending_count"`
	SuccessCount       int    `json:"success_count"`
	AlreadyMemberCount int    `json:"already_member_count"`
	FailedCount        int    `json:"failed_count"`
	BlockedRightsCount int    `json:"blocked_rights_count"`
	BlockedPolicyCount int    `json:"blocked_policy_count"`
}

// BlockedTarget records a group the allowlist excluded at creation time.
type BlockedTarget struct {
	Group string `json:"group"`
	Error string `json:"error"`
}

// StatusReport is the batch status payload with a pending-targets preview.
type StatusReport struct {
	Summary
	PendingGroupsPreview []string `json:"pending_groups_preview"`
	LastError            string   `json:"last_error,omitempty"`
}

// RunResult is the outcome of one run slice.
type RunResult struct {
	Summary
	ProcessedNow  int    `json:"processed_now"`
	StoppedReason string `json:"stopped_reason,omitempty"`
	Message       string `json:"message,omitempty"`
}

// BlockedError carries the batch summary alongside the refusal reason so
// blocked responses still show progress counters.
type BlockedError struct {
	Reason  string
	Summary *Summary
}

func (e *BlockedError) Error() string { return e.Reason }

// AddMemberFunc executes one add-member action. The engine maps its
// result and error onto per-action statuses.
type AddMemberFunc func(ctx context.Context, group, user string) (groups.MemberResult, error)

// Engine persists and executes add-member batches. Batches live in one
// locked JSON file, so several worker processes can share the queue; a
// leased run lock keeps them from interleaving the same batch.
type Engine struct {
	store *statestore.Store
	gate  *Gate
	path  string
	owner string

	defaultTTLHours int
	approvalLease   time.Duration
	runLease        time.Duration

	log   *zap.Logger
	now   func() time.Time
	newID func() string
}

// NewEngine builds the batch engine from configuration.
func NewEngine(store *statestore.Store, gate *Gate, cfg config.Config, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	ttl := cfg.BatchTTLHours
	if ttl <= 0 {
		ttl = 168
	}
	approvalLease := time.Duration(cfg.BatchApprovalLeaseSec) * time.Second
	if approvalLease <= 0 {
		approvalLease = 24 * time.Hour
	}
	runLease := time.Duration(cfg.BatchRunLeaseSec) * time.Second
	if runLease <= 0 {
		runLease = 30 * time.Minute
	}
	return &Engine{
		store:           store,
		gate:            gate,
		path:            cfg.BatchFile,
		owner:           fmt.Sprintf("%s:%d", cfg.ServerName, os.Getpid()),
		defaultTTLHours: ttl,
		approvalLease:   approvalLease,
		runLease:        runLease,
		log:             log.Named("batch"),
		now:             time.Now,
		newID:           newBatchID,
	}
}

func newBatchID() string {
	raw := make([]byte, 7)
	_, _ = rand.Read(raw)
	return "batch_" + base64.RawURLEncoding.EncodeToString(raw)
}

// ApprovalLeaseSec reports how long an approval stays valid, in seconds.
func (e *Engine) ApprovalLeaseSec() int { return int(e.approvalLease / time.Second) }

// Create assembles a batch adding user to each group, deduplicating
// targets in order. Groups outside the allowlist become blocked_policy
// actions so the record keeps the full request.
func (e *Engine) Create(user string, groupList []string, note string, ttlHours int) (Summary, []BlockedTarget, error) {
	user = strings.TrimSpace(user)
	userKey := strings.ToLower(user)

	seen := make(map[string]bool)
	blocked := []BlockedTarget{}
	var batchActions []BatchAction
	for _, g := range groupList {
		g = strings.TrimSpace(g)
		if g == "" || seen[g] {
			continue
		}
		seen[g] = true
		action := BatchAction{
			Group: g,
			ActionHash: HashPayload(map[string]any{
				"action": "add_member",
				"target": NormalizeTarget(g),
				"user":   userKey,
			}),
			Status: ActionPending,
		}
		if err := e.gate.TargetAllowed(g); err != nil {
			action.Status = ActionBlockedPolicy
			action.LastError = err.Error()
			blocked = append(blocked, BlockedTarget{Group: g, Error: err.Error()})
		}
		batchActions = append(batchActions, action)
	}

	if ttlHours <= 0 {
		ttlHours = e.defaultTTLHours
	}
	if ttlHours < 1 {
		ttlHours = 1
	}
	now := e.now().Unix()
	batch := Batch{
		ID:          e.newID(),
		Type:        "add_member",
		Status:      BatchPendingApproval,
		Note:        strings.TrimSpace(note),
		User:        user,
		CreatedAtTS: now,
		ExpiresAtTS: now + int64(ttlHours)*3600,
		Actions:     batchActions,
	}
	if err := e.put(batch); err != nil {
		return Summary{}, nil, err
	}
	e.log.Info("batch created",
		zap.String("batch", batch.ID),
		zap.Int("targets", len(batchActions)),
		zap.Int("blocked", len(blocked)))
	return Summarize(batch), blocked, nil
}

// CreateFromReport builds a batch from a saved run report, picking the
// failed items whose error contains the needle. Report shape:
// {"items": [{"chat_id": ..., "result": {"success": ..., "error": ...}}]}.
func (e *Engine) CreateFromReport(reportPath, user, note, errorContains string, ttlHours int) (Summary, []BlockedTarget, error) {
	path := strings.TrimSpace(reportPath)
	info, err := os.Stat(path)
	if err != nil {
		return Summary{}, nil, &BlockedError{Reason: fmt.Sprintf("report_path does not exist: %s", path)}
	}
	if info.IsDir() {
		return Summary{}, nil, &BlockedError{Reason: fmt.Sprintf("report_path is not a file: %s", path)}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Summary{}, nil, errors.Wrap(err, "read report")
	}
	var report struct {
		Items []struct {
			ChatID json.RawMessage `json:"chat_id"`
			Result map[string]any  `json:"result"`
		} `json:"items"`
	}
	if err := json.Unmarshal(data, &report); err != nil {
		return Summary{}, nil, &BlockedError{Reason: fmt.Sprintf("failed to parse report: %s", err)}
	}
	if report.Items == nil {
		return Summary{}, nil, &BlockedError{Reason: "report has no valid 'items' array"}
	}

	needle := strings.ToLower(strings.TrimSpace(errorContains))
	var groupList []string
	for _, item := range report.Items {
		if item.Result == nil {
			continue
		}
		if ok, _ := item.Result["success"].(bool); ok {
			continue
		}
		errText, _ := item.Result["error"].(string)
		if needle != "" && !strings.Contains(strings.ToLower(errText), needle) {
			continue
		}
		if id := rawID(item.ChatID); id != "" {
			groupList = append(groupList, id)
		}
	}
	if len(groupList) == 0 {
		return Summary{}, nil, &BlockedError{Reason: fmt.Sprintf("No failed groups matched error_contains='%s' in report.", errorContains)}
	}

	fullNote := strings.TrimSpace("from_report:" + filepath.Base(path) + " " + note)
	return e.Create(user, groupList, fullNote, ttlHours)
}

// rawID renders a report chat_id without float mangling: numbers keep
// their literal digits, strings lose their quotes.
func rawID(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	return strings.Trim(s, `"`)
}

// Approve validates the confirmation phrase and opens the approval lease.
func (e *Engine) Approve(batchID, confirmationText string) (Summary, error) {
	batch, ok, err := e.Get(batchID)
	if err != nil {
		return Summary{}, err
	}
	if !ok {
		return Summary{}, &BlockedError{Reason: fmt.Sprintf("batch '%s' not found", strings.TrimSpace(batchID))}
	}
	now := e.now().Unix()
	if batch.ExpiresAtTS <= now {
		return Summary{}, e.blocked(batch, "batch is expired")
	}
	if err := e.gate.CheckConfirmation(confirmationText, false); err != nil {
		return Summary{}, &BlockedError{Reason: err.Error()}
	}
	batch.Approved = true
	batch.ApprovedAtTS = now
	batch.ApprovedUntilTS = now + int64(e.approvalLease/time.Second)
	if batch.Status == BatchPendingApproval {
		batch.Status = BatchApproved
	}
	if err := e.put(batch); err != nil {
		return Summary{}, err
	}
	e.log.Info("batch approved", zap.String("batch", batch.ID))
	return Summarize(batch), nil
}

// Status reports progress counters and up to 20 pending targets.
func (e *Engine) Status(batchID string) (StatusReport, error) {
	batch, ok, err := e.Get(batchID)
	if err != nil {
		return StatusReport{}, err
	}
	if !ok {
		return StatusReport{}, &BlockedError{Reason: fmt.Sprintf("batch '%s' not found", strings.TrimSpace(batchID))}
	}
	pending := []string{}
	for _, a := range batch.Actions {
		if a.Status == ActionPending {
			pending = append(pending, a.Group)
		}
		if len(pending) == 20 {
			break
		}
	}
	return StatusReport{
		Summary:              Summarize(batch),
		PendingGroupsPreview: pending,
		LastError:            batch.LastError,
	}, nil
}

// Run executes up to maxActions pending actions of an approved batch. The
// leased run lock keeps two workers off the same batch; an exhausted join
// quota pauses the batch so a later run can resume it.
func (e *Engine) Run(ctx context.Context, batchID string, maxActions int, add AddMemberFunc) (RunResult, error) {
	if maxActions <= 0 {
		return RunResult{}, &BlockedError{Reason: "max_actions must be > 0"}
	}
	bid := strings.TrimSpace(batchID)
	now := e.now().Unix()

	if err := e.acquireRunLock(bid, now); err != nil {
		return RunResult{}, err
	}
	defer e.releaseRunLock(bid)

	batch, ok, err := e.Get(bid)
	if err != nil {
		return RunResult{}, err
	}
	if !ok {
		return RunResult{}, &BlockedError{Reason: fmt.Sprintf("batch '%s' not found", bid)}
	}

	if batch.ExpiresAtTS <= now {
		batch.Status = BatchExpired
		if perr := e.put(batch); perr != nil {
			return RunResult{}, perr
		}
		return RunResult{}, e.blocked(batch, "batch is expired")
	}
	if !batch.Approved {
		return RunResult{}, e.blocked(batch, "batch is not approved; call tg_approve_batch first")
	}
	if batch.ApprovedUntilTS <= now {
		batch.Approved = false
		batch.Status = BatchPendingApproval
		if perr := e.put(batch); perr != nil {
			return RunResult{}, perr
		}
		return RunResult{}, e.blocked(batch, "batch approval expired; call tg_approve_batch again")
	}
	if batch.Status == BatchCompleted {
		return RunResult{Summary: Summarize(batch), Message: "batch already completed"}, nil
	}

	batch.Status = BatchRunning
	batch.LastError = ""

	processed := 0
	stopped := ""
	for i := range batch.Actions {
		if processed >= maxActions || ctx.Err() != nil {
			break
		}
		action := &batch.Actions[i]
		if action.Status != ActionPending {
			continue
		}

		// The allowlist may have shrunk since creation.
		if err := e.gate.TargetAllowed(action.Group); err != nil {
			action.Status = ActionBlockedPolicy
			action.LastError = err.Error()
			action.LastRunTS = now
			processed++
			continue
		}

		res, runErr := add(ctx, action.Group, batch.User)
		action.Attempts++
		action.LastRunTS = e.now().Unix()

		if runErr == nil && res.Success {
			if res.AlreadyMember {
				action.Status = ActionAlreadyMember
			} else {
				action.Status = ActionSuccess
				if merr := e.gate.MarkExecuted(action.ActionHash); merr != nil {
					e.log.Warn("mark executed", zap.Error(merr))
				}
			}
			action.LastError = ""
			processed++
			continue
		}

		errText := "unknown error"
		if runErr != nil {
			errText = runErr.Error()
		} else if res.Error != "" {
			errText = res.Error
		}
		action.LastError = errText

		status, pause := classifyAddError(runErr, errText)
		if pause {
			// Leave the action pending so the next run retries it.
			batch.Status = BatchPausedQuota
			batch.LastError = errText
			stopped = "join_quota_exceeded"
			e.log.Warn("batch paused on join quota", zap.String("batch", batch.ID))
			break
		}
		action.Status = status
		processed++
	}

	pendingLeft := false
	for _, a := range batch.Actions {
		if a.Status == ActionPending {
			pendingLeft = true
			break
		}
	}
	if batch.Status == BatchRunning {
		if pendingLeft {
			batch.Status = BatchApproved
		} else {
			batch.Status = BatchCompleted
			batch.CompletedAtTS = e.now().Unix()
		}
	}
	batch.LastRunTS = e.now().Unix()

	if err := e.put(batch); err != nil {
		return RunResult{}, err
	}
	e.log.Info("batch run slice done",
		zap.String("batch", batch.ID),
		zap.Int("processed", processed),
		zap.String("status", batch.Status))
	return RunResult{
		Summary:       Summarize(batch),
		ProcessedNow:  processed,
		StoppedReason: stopped,
	}, nil
}

// classifyAddError maps an add failure to the action status. pause means
// the daily join quota ran out and the whole batch must stop.
func classifyAddError(err error, text string) (status string, pause bool) {
	var quota *ratelimit.QuotaError
	if errors.As(err, &quota) && quota.Op == ratelimit.OpJoin {
		return "", true
	}
	lower := strings.ToLower(text)
	if strings.Contains(lower, "join quota exceeded") {
		return "", true
	}
	if tgerr.Is(err, "CHAT_WRITE_FORBIDDEN") || strings.Contains(lower, "chat_write_forbidden") {
		return ActionBlockedRights, false
	}
	return ActionFailed, false
}

// Summarize folds per-action statuses into the progress counters.
func Summarize(b Batch) Summary {
	s := Summary{
		BatchID:            b.ID,
		BatchType:          b.Type,
		Status:             b.Status,
		Approved:           b.Approved,
		ApprovalValidUntil: b.ApprovedUntilTS,
		RunLockOwner:       b.RunLockOwner,
		RunLockUntil:       b.RunLockUntilTS,
		User:               b.User,
		CreatedAtTS:        b.CreatedAtTS,
		ApprovedAtTS:       b.ApprovedAtTS,
		ExpiresAtTS:        b.ExpiresAtTS,
		Total:              len(b.Actions),
	}
	for _, a := range b.Actions {
		switch a.Status {
		case ActionPending:
			s.PendingCount++
		case ActionSuccess:
			s.SuccessCount++
		case ActionAlreadyMember:
			s.AlreadyMemberCount++
		case ActionBlockedRights:
			s.BlockedRightsCount++
		case ActionBlockedPolicy:
			s.BlockedPolicyCount++
		default:
			s.FailedCount++
		}
	}
	return s
}

// Get loads one batch by id.
func (e *Engine) Get(batchID string) (Batch, bool, error) {
	state, err := e.store.LoadJSON(e.path, batchRootKey)
	if err != nil {
		return Batch{}, false, errors.Wrap(err, "load batches")
	}
	raw, ok := state[strings.TrimSpace(batchID)]
	if !ok {
		return Batch{}, false, nil
	}
	batch, ok := decodeBatch(raw)
	return batch, ok, nil
}

func (e *Engine) put(b Batch) error {
	_, err := e.store.UpdateJSON(e.path, batchRootKey, func(state map[string]any) (any, error) {
		state[b.ID] = encodeBatch(b)
		return nil, nil
	})
	if err != nil {
		return errors.Wrap(err, "persist batch")
	}
	return nil
}

func (e *Engine) blocked(b Batch, reason string) error {
	s := Summarize(b)
	return &BlockedError{Reason: reason, Summary: &s}
}

// acquireRunLock leases the batch to this worker. A live lease held by
// another worker blocks the run.
func (e *Engine) acquireRunLock(bid string, now int64) error {
	res, err := e.store.UpdateJSON(e.path, batchRootKey, func(state map[string]any) (any, error) {
		raw, ok := state[bid]
		if !ok {
			return &BlockedError{Reason: fmt.Sprintf("batch '%s' not found", bid)}, nil
		}
		batch, ok := decodeBatch(raw)
		if !ok {
			return &BlockedError{Reason: fmt.Sprintf("batch '%s' not found", bid)}, nil
		}
		if batch.RunLockOwner != "" && batch.RunLockOwner != e.owner && batch.RunLockUntilTS > now {
			summary := Summarize(batch)
			return &BlockedError{
				Reason: fmt.Sprintf(
					"batch is already running by another worker until %d; retry later or after lock lease expires",
					batch.RunLockUntilTS),
				Summary: &summary,
			}, nil
		}
		batch.RunLockOwner = e.owner
		batch.RunLockUntilTS = now + int64(e.runLease/time.Second)
		state[bid] = encodeBatch(batch)
		return nil, nil
	})
	if err != nil {
		return errors.Wrap(err, "acquire run lock")
	}
	if res != nil {
		return res.(error)
	}
	return nil
}

// releaseRunLock clears the lease if this worker still owns it.
func (e *Engine) releaseRunLock(bid string) {
	_, err := e.store.UpdateJSON(e.path, batchRootKey, func(state map[string]any) (any, error) {
		raw, ok := state[bid]
		if !ok {
			return nil, nil
		}
		batch, ok := decodeBatch(raw)
		if !ok {
			return nil, nil
		}
		if batch.RunLockOwner != "" && batch.RunLockOwner != e.owner {
			return nil, nil
		}
		batch.RunLockOwner = ""
		batch.RunLockUntilTS = e.now().Unix()
		state[bid] = encodeBatch(batch)
		return nil, nil
	})
	if err != nil {
		e.log.Warn("release run lock", zap.String("batch", bid), zap.Error(err))
	}
}

func encodeBatch(b Batch) map[string]any {
	data, _ := json.Marshal(b)
	var m map[string]any
	_ = json.Unmarshal(data, &m)
	return m
}

func decodeBatch(v any) (Batch, bool) {
	data, err := json.Marshal(v)
	if err != nil {
		return Batch{}, false
	}
	var b Batch
	if err := json.Unmarshal(data, &b); err != nil {
		return Batch{}, false
	}
	return b, true
}
