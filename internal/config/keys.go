package config

// Environment keys recognized by Load. The doctor command checks .env files
// against this catalog, so every documented option must appear here.
const (
	KeyAPIID   = "TG_API_ID"
	KeyAPIHash = "TG_API_HASH"

	KeySecretProvider         = "TG_SECRET_PROVIDER"
	KeyKeychainService        = "TG_KEYCHAIN_SERVICE"
	KeyKeychainAccountAPIID   = "TG_KEYCHAIN_ACCOUNT_API_ID"
	KeyKeychainAccountAPIHash = "TG_KEYCHAIN_ACCOUNT_API_HASH"
	KeySecretCmdAPIID         = "TG_SECRET_CMD_API_ID"
	KeySecretCmdAPIHash       = "TG_SECRET_CMD_API_HASH"

	KeyDataDir         = "TG_DATA_DIR"
	KeySessionsDir     = "TG_SESSIONS_DIR"
	KeySessionName     = "SESSION_NAME"
	KeySessionPath     = "TG_SESSION_PATH"
	KeyDownloadsDir    = "TG_DOWNLOADS_DIR"
	KeyCountersFile    = "TG_COUNTERS_FILE"
	KeyBucketFile      = "TG_RATE_BUCKET_FILE"
	KeyCircuitFile     = "TG_CIRCUIT_FILE"
	KeyApprovalFile    = "TG_ACTIONS_APPROVAL_FILE"
	KeyIdempotencyFile = "TG_ACTIONS_IDEMPOTENCY_FILE"
	KeyBatchFile       = "TG_ACTIONS_BATCH_FILE"

	KeySessionLockMode    = "TG_SESSION_LOCK_MODE"
	KeyExpectedUsername   = "TG_EXPECTED_USERNAME"
	KeyAllowSessionSwitch = "TG_ALLOW_SESSION_SWITCH"

	KeyRPS               = "RATE_RPS"
	KeyDMCap             = "MAX_DM_PER_DAY"
	KeyJoinCap           = "MAX_JOINS_PER_DAY"
	KeyGroupMsgCap       = "MAX_GROUP_MSGS_PER_DAY"
	KeyGlobalRPSMode     = "TG_GLOBAL_RPS_MODE"
	KeyFloodThresholdSec = "TG_FLOOD_WAIT_THRESHOLD_SEC"
	KeyFloodCooldownSec  = "TG_FLOOD_COOLDOWN_SEC"

	KeyBlockDirectWrite     = "TG_BLOCK_DIRECT_WRITE"
	KeyAllowDirectWrite     = "TG_ALLOW_DIRECT_WRITE"
	KeyEnforceActionProcess = "TG_ENFORCE_ACTION_PROCESS"
	KeyWriteContext         = "TG_WRITE_CONTEXT"
	KeyAllowedWriteContexts = "TG_DIRECT_WRITE_ALLOWED_CONTEXTS"
	KeyActionProcessMarker  = "TG_ACTION_PROCESS"
	KeyAllowAuthBootstrap   = "TG_ALLOW_AUTH_BOOTSTRAP"

	KeyActionsEnabled          = "TG_ACTIONS_ENABLED"
	KeyRequireAllowlist        = "TG_ACTIONS_REQUIRE_ALLOWLIST"
	KeyAllowedGroups           = "TG_ACTIONS_ALLOWED_GROUPS"
	KeyRequireConfirmationText = "TG_ACTIONS_REQUIRE_CONFIRMATION_TEXT"
	KeyConfirmationPhrase      = "TG_ACTIONS_CONFIRMATION_PHRASE"
	KeyMinConfirmationTextLen  = "TG_ACTIONS_MIN_CONFIRMATION_TEXT_LEN"
	KeyRequireApprovalCode     = "TG_ACTIONS_REQUIRE_APPROVAL_CODE"
	KeyApprovalTTLSec          = "TG_ACTIONS_APPROVAL_TTL_SEC"
	KeyIdempotencyEnabled      = "TG_ACTIONS_IDEMPOTENCY_ENABLED"
	KeyIdempotencyWindowSec    = "TG_ACTIONS_IDEMPOTENCY_WINDOW_SEC"
	KeyMaxMessageLen           = "TG_ACTIONS_MAX_MESSAGE_LEN"
	KeyMaxFileMB               = "TG_ACTIONS_MAX_FILE_MB"
	KeyAllowUnsafeDefaults     = "TG_ACTIONS_ALLOW_UNSAFE_DEFAULTS"

	KeyBatchTTLHours         = "TG_ACTIONS_BATCH_TTL_HOURS"
	KeyBatchApprovalLeaseSec = "TG_ACTIONS_BATCH_APPROVAL_LEASE_SEC"
	KeyBatchRunLeaseSec      = "TG_ACTIONS_BATCH_RUN_LEASE_SEC"

	KeyServerName = "TG_MCP_SERVER_NAME"
	KeyLogLevel   = "TG_LOG_LEVEL"
	KeyLogFile    = "TG_LOG_FILE"
)

// EnvKeys lists every recognized environment key in catalog order.
var EnvKeys = []string{
	KeyAPIID, KeyAPIHash,
	KeySecretProvider, KeyKeychainService, KeyKeychainAccountAPIID,
	KeyKeychainAccountAPIHash, KeySecretCmdAPIID, KeySecretCmdAPIHash,
	KeyDataDir, KeySessionsDir, KeySessionName, KeySessionPath, KeyDownloadsDir,
	KeyCountersFile, KeyBucketFile, KeyCircuitFile,
	KeyApprovalFile, KeyIdempotencyFile, KeyBatchFile,
	KeySessionLockMode, KeyExpectedUsername, KeyAllowSessionSwitch,
	KeyRPS, KeyDMCap, KeyJoinCap, KeyGroupMsgCap,
	KeyGlobalRPSMode, KeyFloodThresholdSec, KeyFloodCooldownSec,
	KeyBlockDirectWrite, KeyAllowDirectWrite, KeyEnforceActionProcess,
	KeyWriteContext, KeyAllowedWriteContexts, KeyActionProcessMarker,
	KeyAllowAuthBootstrap,
	KeyActionsEnabled, KeyRequireAllowlist, KeyAllowedGroups,
	KeyRequireConfirmationText, KeyConfirmationPhrase, KeyMinConfirmationTextLen,
	KeyRequireApprovalCode, KeyApprovalTTLSec,
	KeyIdempotencyEnabled, KeyIdempotencyWindowSec,
	KeyMaxMessageLen, KeyMaxFileMB, KeyAllowUnsafeDefaults,
	KeyBatchTTLHours, KeyBatchApprovalLeaseSec, KeyBatchRunLeaseSec,
	KeyServerName, KeyLogLevel, KeyLogFile,
}

// PlaceholderValues are sample values that the doctor command treats as
// "not actually configured".
var PlaceholderValues = []string{
	"", "your_api_id_here", "your_api_hash_here", "+1234567890",
}
