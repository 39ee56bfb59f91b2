package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"adcast/internal/model"
	"adcast/internal/platform"
	logx "adcast/pkg/logx"
)

var (
	ErrNotFound = errors.New("not found")
	ErrDisabled = errors.New("storage disabled")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file
//   - "memory": in-process store (tests, ephemeral runs)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence boundary. Writes are atomic per row; the engine is
// the single writer for the rows its job references, so no cross-row
// transactions are needed here.
type Store interface {
	// Tenants / subscriptions / payments
	GetTenant(ctx context.Context, id int64) (model.Tenant, error)
	GetActiveSubscription(ctx context.Context, tenantID int64) (model.Subscription, error)
	ExpireSubscriptions(ctx context.Context, now time.Time) (int, error)
	ExpirePayments(ctx context.Context, createdBefore time.Time) (int, error)

	// Sessions
	GetSession(ctx context.Context, id int64) (model.Session, error)
	ListSessionIDs(ctx context.Context) ([]int64, error)
	ListSendableSessions(ctx context.Context, tenantID int64) ([]model.Session, error)
	UpdateSessionStatus(ctx context.Context, id int64, status string) error
	FreezeSession(ctx context.Context, id int64, at time.Time, status string) error
	ThawSessions(ctx context.Context, frozenBefore time.Time) (int, error)
	UpdateSessionSync(ctx context.Context, id int64, at time.Time, total, active int) error

	// Groups
	BatchAddGroups(ctx context.Context, sessionID int64, snaps []platform.GroupSnapshot) (added int, err error)
	ListActiveGroups(ctx context.Context, sessionID int64) ([]model.Group, error)
	ListSessionGroupIDs(ctx context.Context, sessionID int64) ([]int64, error)
	RestrictGroup(ctx context.Context, id int64, reason string, until *time.Time, skip bool) error
	TouchGroupPosted(ctx context.Context, id int64, at time.Time) error
	RecomputePriorityGroups(ctx context.Context, sessionID int64, topN int) error

	// Ads
	GetAd(ctx context.Context, id int64) (model.Ad, error)
	ListDueScheduledAds(ctx context.Context, now time.Time) ([]model.Ad, error)
	UpdateAdStatus(ctx context.Context, id int64, status, lastError string) error
	MarkAdScheduled(ctx context.Context, id int64, at time.Time) error

	// Posts / history
	CreatePost(ctx context.Context, p model.Post) error
	UpdatePostStatus(ctx context.Context, id, status string, finishedAt *time.Time) error
	UpdatePostCounts(ctx context.Context, id string, completed, failed, skipped int) error
	GetPost(ctx context.Context, id string) (model.Post, error)
	AddPostHistory(ctx context.Context, h model.PostHistory) error
	ListFailedGroupIDs(ctx context.Context, postID string) ([]int64, error)

	// Statistics
	UpsertDailyStats(ctx context.Context, s model.SystemStatistics) error
	CollectDailyStats(ctx context.Context, day time.Time) (model.SystemStatistics, error)

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
