package model

import "time"

// Session status constants for lifecycle tracking.
const (
	SessionActive   = "active"
	SessionInactive = "inactive"
	SessionFrozen   = "frozen"
	SessionBanned   = "banned"
	SessionDeleted  = "deleted"
)

// Ad status constants.
const (
	AdDraft    = "draft"
	AdActive   = "active"
	AdPaused   = "paused"
	AdClosed   = "closed"
	AdSoldOut  = "sold_out"
	AdArchived = "archived"
)

// Post status constants.
const (
	PostPending    = "pending"
	PostInProgress = "in_progress"
	PostPaused     = "paused"
	PostCompleted  = "completed"
	PostFailed     = "failed"
	PostCancelled  = "cancelled"
)

// PostHistory delivery status constants.
const (
	DeliverySent     = "sent"
	DeliveryFailed   = "failed"
	DeliverySkipped  = "skipped"
	DeliveryRetrying = "retrying"
)

// Subscription status constants.
const (
	SubscriptionActive  = "active"
	SubscriptionExpired = "expired"
)

// Payment status constants.
const (
	PaymentPending  = "pending"
	PaymentApproved = "approved"
	PaymentRejected = "rejected"
	PaymentExpired  = "expired"
)

// Group kind constants (platform chat flavours).
const (
	GroupKindGroup      = "group"
	GroupKindSupergroup = "supergroup"
	GroupKindChannel    = "channel"
)

// Tenant owns sessions and ads. BrandAdText, when enabled, is appended to every
// outgoing ad body.
type Tenant struct {
	ID             int64     `json:"id" db:"id"`
	Name           string    `json:"name" db:"name"`
	BrandAdEnabled bool      `json:"brand_ad_enabled" db:"brand_ad_enabled"`
	BrandAdText    string    `json:"brand_ad_text,omitempty" db:"brand_ad_text"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// Session is one impersonated platform account owned by a tenant.
//
// A session may be used for sending iff Status == SessionActive, it is not
// frozen, and SessionString is non-empty.
type Session struct {
	ID            int64      `json:"id" db:"id"`
	TenantID      int64      `json:"tenant_id" db:"tenant_id"`
	Name          string     `json:"name" db:"name"`
	Phone         string     `json:"phone" db:"phone"`
	SessionString string     `json:"-" db:"session_string"`
	Status        string     `json:"status" db:"status"`
	IsFrozen      bool       `json:"is_frozen" db:"is_frozen"`
	FrozenAt      *time.Time `json:"frozen_at,omitempty" db:"frozen_at"`
	UnfreezeAt    *time.Time `json:"unfreeze_at,omitempty" db:"unfreeze_at"`
	FreezeCount   int        `json:"freeze_count" db:"freeze_count"`
	LastSyncAt    *time.Time `json:"last_sync_at,omitempty" db:"last_sync_at"`
	TotalGroups   int        `json:"total_groups" db:"total_groups"`
	ActiveGroups  int        `json:"active_groups" db:"active_groups"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}

// Usable reports whether the session passes the static half of the send
// invariant (the dynamic half, "its client is connected", lives in the
// platform registry).
func (s *Session) Usable() bool {
	return s.Status == SessionActive && !s.IsFrozen && s.SessionString != ""
}

// Group is one platform chat a session has joined. Created by group sync,
// mutated by the engine on delivery outcomes.
type Group struct {
	ID               int64      `json:"id" db:"id"`
	SessionID        int64      `json:"session_id" db:"session_id"`
	PlatformID       string     `json:"platform_id" db:"platform_id"`
	Title            string     `json:"title" db:"title"`
	Kind             string     `json:"kind" db:"kind"`
	Username         string     `json:"username,omitempty" db:"username"`
	MemberCount      int        `json:"member_count" db:"member_count"`
	IsActive         bool       `json:"is_active" db:"is_active"`
	IsSkipped        bool       `json:"is_skipped" db:"is_skipped"`
	SkipReason       string     `json:"skip_reason,omitempty" db:"skip_reason"`
	HasRestrictions  bool       `json:"has_restrictions" db:"has_restrictions"`
	RestrictionUntil *time.Time `json:"restriction_until,omitempty" db:"restriction_until"`
	IsPriority       bool       `json:"is_priority" db:"is_priority"`
	PriorityOrder    int        `json:"priority_order" db:"priority_order"`
	ActivityScore    float64    `json:"activity_score" db:"activity_score"`
	LastPostAt       *time.Time `json:"last_post_at,omitempty" db:"last_post_at"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
}

// Deliverable reports whether the group itself accepts posts at now.
// Session usability is checked separately.
func (g *Group) Deliverable(now time.Time) bool {
	if !g.IsActive || g.IsSkipped {
		return false
	}
	if g.HasRestrictions {
		if g.RestrictionUntil == nil || !g.RestrictionUntil.Before(now) {
			return false
		}
	}
	return true
}

// Ad is the broadcast payload. The interval knobs are stored with the ad; the
// posting engine does not read them and takes its delays from its own Options.
type Ad struct {
	ID              int64      `json:"id" db:"id"`
	TenantID        int64      `json:"tenant_id" db:"tenant_id"`
	Content         string     `json:"content" db:"content"`
	MediaRefs       string     `json:"media_refs,omitempty" db:"media_refs"`
	Status          string     `json:"status" db:"status"`
	IsScheduled     bool       `json:"is_scheduled" db:"is_scheduled"`
	ScheduledFor    *time.Time `json:"scheduled_for,omitempty" db:"scheduled_for"`
	LastScheduledAt *time.Time `json:"last_scheduled_at,omitempty" db:"last_scheduled_at"`
	LastError       string     `json:"last_error,omitempty" db:"last_error"`
	IntervalMin     int        `json:"interval_min" db:"interval_min"`
	IntervalMax     int        `json:"interval_max" db:"interval_max"`
	GroupInterval   int        `json:"group_interval" db:"group_interval"`
	SelectedGroups  []int64    `json:"selected_groups,omitempty" db:"-"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// Post is the persisted job envelope. The in-memory Job carries the runtime
// state; Post survives restarts.
type Post struct {
	ID              string     `json:"id" db:"id"`
	AdID            int64      `json:"ad_id" db:"ad_id"`
	SessionID       int64      `json:"session_id" db:"session_id"`
	Status          string     `json:"status" db:"status"`
	TotalGroups     int        `json:"total_groups" db:"total_groups"`
	CompletedGroups int        `json:"completed_groups" db:"completed_groups"`
	FailedGroups    int        `json:"failed_groups" db:"failed_groups"`
	SkippedGroups   int        `json:"skipped_groups" db:"skipped_groups"`
	StartedAt       *time.Time `json:"started_at,omitempty" db:"started_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty" db:"finished_at"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
}

// PostHistory is one delivery attempt for a (post, group) pair.
type PostHistory struct {
	ID        int64      `json:"id" db:"id"`
	PostID    string     `json:"post_id" db:"post_id"`
	GroupID   int64      `json:"group_id" db:"group_id"`
	SessionID int64      `json:"session_id" db:"session_id"`
	Status    string     `json:"status" db:"status"`
	MessageID string     `json:"message_id,omitempty" db:"message_id"`
	Error     string     `json:"error,omitempty" db:"error"`
	SentAt    *time.Time `json:"sent_at,omitempty" db:"sent_at"`
	FailedAt  *time.Time `json:"failed_at,omitempty" db:"failed_at"`
}

// Subscription caps what a tenant may run.
type Subscription struct {
	ID            int64     `json:"id" db:"id"`
	TenantID      int64     `json:"tenant_id" db:"tenant_id"`
	Status        string    `json:"status" db:"status"`
	MaxSessions   int       `json:"max_sessions" db:"max_sessions"`
	MaxGroups     int       `json:"max_groups" db:"max_groups"`
	MaxAds        int       `json:"max_ads" db:"max_ads"`
	GroupInterval int       `json:"group_interval" db:"group_interval"`
	StartDate     time.Time `json:"start_date" db:"start_date"`
	EndDate       time.Time `json:"end_date" db:"end_date"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// Payment is an uploaded payment receipt awaiting review.
type Payment struct {
	ID        int64     `json:"id" db:"id"`
	TenantID  int64     `json:"tenant_id" db:"tenant_id"`
	Amount    float64   `json:"amount" db:"amount"`
	Status    string    `json:"status" db:"status"`
	Receipt   string    `json:"receipt,omitempty" db:"receipt"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// SystemStatistics is one daily rollup row keyed by date (midnight, UTC).
type SystemStatistics struct {
	Date           time.Time `json:"date" db:"date"`
	TotalTenants   int       `json:"total_tenants" db:"total_tenants"`
	TotalSessions  int       `json:"total_sessions" db:"total_sessions"`
	ActiveSessions int       `json:"active_sessions" db:"active_sessions"`
	TotalGroups    int       `json:"total_groups" db:"total_groups"`
	TotalAds       int       `json:"total_ads" db:"total_ads"`
	PostsSent      int       `json:"posts_sent" db:"posts_sent"`
	PostsFailed    int       `json:"posts_failed" db:"posts_failed"`
	Revenue        float64   `json:"revenue" db:"revenue"`
}
