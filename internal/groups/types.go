package groups

// GroupInfo is the normalized group payload.
type GroupInfo struct {
	ID                int64  `json:"id"`
	Title             string `json:"title"`
	Username          string `json:"username,omitempty"`
	ParticipantsCount int    `json:"participants_count"`
	Type              string `json:"type"`
}

// Participant is one non-bot group member.
type Participant struct {
	ID         int64  `json:"id"`
	Username   string `json:"username,omitempty"`
	FirstName  string `json:"first_name,omitempty"`
	LastName   string `json:"last_name,omitempty"`
	Phone      string `json:"phone,omitempty"`
	IsBot      bool   `json:"is_bot"`
	IsVerified bool   `json:"is_verified"`
	IsPremium  bool   `json:"is_premium"`
	Status     string `json:"status,omitempty"`
}

// ForwardInfo describes the origin of a forwarded message.
type ForwardInfo struct {
	FromID       int64  `json:"from_id,omitempty"`
	FromType     string `json:"from_type,omitempty"`
	FromName     string `json:"from_name,omitempty"`
	FromUsername string `json:"from_username,omitempty"`
	Date         string `json:"date,omitempty"`
	ChannelPost  int    `json:"channel_post,omitempty"`
}

// Message is one history entry. Empty service messages are skipped
// before this shape is built.
type Message struct {
	ID           int          `json:"id"`
	Date         string       `json:"date,omitempty"`
	FromID       int64        `json:"from_id,omitempty"`
	Text         string       `json:"text"`
	FwdFrom      *ForwardInfo `json:"fwd_from,omitempty"`
	IsReply      bool         `json:"is_reply"`
	ReplyToMsgID int          `json:"reply_to_msg_id,omitempty"`
	Views        int          `json:"views,omitempty"`
	Forwards     int          `json:"forwards,omitempty"`
	IsPinned     bool         `json:"is_pinned"`
	HasMedia     bool         `json:"has_media"`
	MediaType    string       `json:"media_type,omitempty"`
}

// Dialog is one entry of the account's dialog list.
type Dialog struct {
	ID                int64  `json:"id"`
	Title             string `json:"title"`
	Type              string `json:"type"`
	Username          string `json:"username,omitempty"`
	ParticipantsCount int    `json:"participants_count,omitempty"`
	UnreadCount       int    `json:"unread_count"`
}

// ResolvedPeer is the typed payload of a username resolution.
type ResolvedPeer struct {
	ID                int64  `json:"id"`
	Type              string `json:"type"`
	Username          string `json:"username,omitempty"`
	Title             string `json:"title,omitempty"`
	FirstName         string `json:"first_name,omitempty"`
	LastName          string `json:"last_name,omitempty"`
	IsBot             bool   `json:"is_bot,omitempty"`
	IsPremium         bool   `json:"is_premium,omitempty"`
	ParticipantsCount int    `json:"participants_count,omitempty"`
}

// MemberResult is the outcome of an add or remove member operation.
type MemberResult struct {
	Success        bool   `json:"success"`
	Action         string `json:"action"`
	DryRun         bool   `json:"dry_run"`
	GroupID        int64  `json:"group_id,omitempty"`
	GroupType      string `json:"group_type,omitempty"`
	UserID         int64  `json:"user_id,omitempty"`
	UserUsername   string `json:"user_username,omitempty"`
	AlreadyMember  bool   `json:"already_member,omitempty"`
	NotParticipant bool   `json:"not_participant,omitempty"`
	Error          string `json:"error,omitempty"`
}

// MigrateResult is the outcome of the two-step account migration.
type MigrateResult struct {
	Success       bool          `json:"success"`
	Action        string        `json:"action"`
	DryRun        bool          `json:"dry_run"`
	Group         string        `json:"group"`
	Error         string        `json:"error,omitempty"`
	AddNewUser    *MemberResult `json:"add_new_user,omitempty"`
	RemoveOldUser *MemberResult `json:"remove_old_user,omitempty"`
}
