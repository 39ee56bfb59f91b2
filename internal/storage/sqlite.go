package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"adcast/internal/model"
	"adcast/internal/platform"
	logx "adcast/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- tenants / subscriptions / payments ----

func (s *sqliteStore) GetTenant(ctx context.Context, id int64) (model.Tenant, error) {
	var t model.Tenant
	var created string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, brand_ad_enabled, brand_ad_text, created_at FROM tenants WHERE id = ?`, id).
		Scan(&t.ID, &t.Name, &t.BrandAdEnabled, &t.BrandAdText, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.CreatedAt = parseTime(created)
	return t, nil
}

func (s *sqliteStore) GetActiveSubscription(ctx context.Context, tenantID int64) (model.Subscription, error) {
	var sub model.Subscription
	var start, end, created string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, status, max_sessions, max_groups, max_ads, group_interval, start_date, end_date, created_at
		 FROM subscriptions WHERE tenant_id = ? AND status = ? ORDER BY end_date DESC LIMIT 1`,
		tenantID, model.SubscriptionActive).
		Scan(&sub.ID, &sub.TenantID, &sub.Status, &sub.MaxSessions, &sub.MaxGroups, &sub.MaxAds,
			&sub.GroupInterval, &start, &end, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return sub, ErrNotFound
	}
	if err != nil {
		return sub, err
	}
	sub.StartDate, sub.EndDate, sub.CreatedAt = parseTime(start), parseTime(end), parseTime(created)
	return sub, nil
}

func (s *sqliteStore) ExpireSubscriptions(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET status = ? WHERE status = ? AND end_date <= ?`,
		model.SubscriptionExpired, model.SubscriptionActive, fmtTime(now))
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *sqliteStore) ExpirePayments(ctx context.Context, createdBefore time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE payments SET status = ?, updated_at = ? WHERE status = ? AND created_at <= ?`,
		model.PaymentExpired, fmtTime(time.Now()), model.PaymentPending, fmtTime(createdBefore))
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ---- sessions ----

const sessionCols = `id, tenant_id, name, phone, session_string, status, is_frozen,
	frozen_at, unfreeze_at, freeze_count, last_sync_at, total_groups, active_groups, created_at`

func scanSession(row interface{ Scan(...any) error }) (model.Session, error) {
	var sess model.Session
	var frozenAt, unfreezeAt, lastSyncAt sql.NullString
	var created string
	err := row.Scan(&sess.ID, &sess.TenantID, &sess.Name, &sess.Phone, &sess.SessionString,
		&sess.Status, &sess.IsFrozen, &frozenAt, &unfreezeAt, &sess.FreezeCount,
		&lastSyncAt, &sess.TotalGroups, &sess.ActiveGroups, &created)
	if err != nil {
		return sess, err
	}
	sess.FrozenAt = parseTimePtr(frozenAt)
	sess.UnfreezeAt = parseTimePtr(unfreezeAt)
	sess.LastSyncAt = parseTimePtr(lastSyncAt)
	sess.CreatedAt = parseTime(created)
	return sess, nil
}

func (s *sqliteStore) GetSession(ctx context.Context, id int64) (model.Session, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx,
		`SELECT `+sessionCols+` FROM sessions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return sess, ErrNotFound
	}
	return sess, err
}

func (s *sqliteStore) ListSessionIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM sessions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ListSendableSessions(ctx context.Context, tenantID int64) ([]model.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionCols+` FROM sessions
		 WHERE tenant_id = ? AND status = ? AND is_frozen = 0 AND session_string != ''`,
		tenantID, model.SessionActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpdateSessionStatus(ctx context.Context, id int64, status string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET status = ? WHERE id = ?`, status, id)
	return err
}

func (s *sqliteStore) FreezeSession(ctx context.Context, id int64, at time.Time, status string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, is_frozen = 1, frozen_at = ?, freeze_count = freeze_count + 1 WHERE id = ?`,
		status, fmtTime(at), id)
	return err
}

func (s *sqliteStore) ThawSessions(ctx context.Context, frozenBefore time.Time) (int, error) {
	// Banned sessions stay banned: thaw must never resurrect a dead credential.
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET is_frozen = 0, frozen_at = NULL, unfreeze_at = NULL
		 WHERE is_frozen = 1 AND status != ? AND frozen_at <= ?`,
		model.SessionBanned, fmtTime(frozenBefore))
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *sqliteStore) UpdateSessionSync(ctx context.Context, id int64, at time.Time, total, active int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_sync_at = ?, total_groups = ?, active_groups = ? WHERE id = ?`,
		fmtTime(at), total, active, id)
	return err
}

// ---- groups ----

const groupCols = `id, session_id, platform_id, title, kind, username, member_count,
	is_active, is_skipped, skip_reason, has_restrictions, restriction_until,
	is_priority, priority_order, activity_score, last_post_at, created_at`

func scanGroup(row interface{ Scan(...any) error }) (model.Group, error) {
	var g model.Group
	var restrictionUntil, lastPostAt sql.NullString
	var created string
	err := row.Scan(&g.ID, &g.SessionID, &g.PlatformID, &g.Title, &g.Kind, &g.Username,
		&g.MemberCount, &g.IsActive, &g.IsSkipped, &g.SkipReason, &g.HasRestrictions,
		&restrictionUntil, &g.IsPriority, &g.PriorityOrder, &g.ActivityScore, &lastPostAt, &created)
	if err != nil {
		return g, err
	}
	g.RestrictionUntil = parseTimePtr(restrictionUntil)
	g.LastPostAt = parseTimePtr(lastPostAt)
	g.CreatedAt = parseTime(created)
	return g, nil
}

func (s *sqliteStore) BatchAddGroups(ctx context.Context, sessionID int64, snaps []platform.GroupSnapshot) (int, error) {
	if len(snaps) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var before int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM groups WHERE session_id = ?`, sessionID).Scan(&before); err != nil {
		return 0, err
	}
	for _, snap := range snaps {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO groups (session_id, platform_id, title, kind, username, member_count)
			 VALUES (?,?,?,?,?,?)
			 ON CONFLICT(session_id, platform_id) DO UPDATE SET
				title = excluded.title, kind = excluded.kind,
				username = excluded.username, member_count = excluded.member_count`,
			sessionID, snap.PlatformID, snap.Title, snap.Kind, snap.Username, snap.MemberCount)
		if err != nil {
			return 0, err
		}
	}
	var after int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM groups WHERE session_id = ?`, sessionID).Scan(&after); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return after - before, nil
}

func (s *sqliteStore) ListActiveGroups(ctx context.Context, sessionID int64) ([]model.Group, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+groupCols+` FROM groups WHERE session_id = ? AND is_active = 1`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ListSessionGroupIDs(ctx context.Context, sessionID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM groups WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *sqliteStore) RestrictGroup(ctx context.Context, id int64, reason string, until *time.Time, skip bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE groups SET has_restrictions = 1, skip_reason = ?, restriction_until = ?, is_skipped = ? WHERE id = ?`,
		reason, fmtTimePtr(until), skip, id)
	return err
}

func (s *sqliteStore) TouchGroupPosted(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE groups SET last_post_at = ? WHERE id = ?`, fmtTime(at), id)
	return err
}

func (s *sqliteStore) RecomputePriorityGroups(ctx context.Context, sessionID int64, topN int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`UPDATE groups SET is_priority = 0, priority_order = 0 WHERE session_id = ?`, sessionID); err != nil {
		return err
	}
	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM groups WHERE session_id = ? AND is_active = 1
		 ORDER BY activity_score DESC, member_count DESC LIMIT ?`, sessionID, topN)
	if err != nil {
		return err
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	for i, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`UPDATE groups SET is_priority = 1, priority_order = ? WHERE id = ?`, i+1, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ---- ads ----

const adCols = `id, tenant_id, content, media_refs, status, is_scheduled, scheduled_for,
	last_scheduled_at, last_error, interval_min, interval_max, group_interval,
	selected_groups, created_at, updated_at`

func scanAd(row interface{ Scan(...any) error }) (model.Ad, error) {
	var a model.Ad
	var scheduledFor, lastScheduledAt sql.NullString
	var selected, created, updated string
	err := row.Scan(&a.ID, &a.TenantID, &a.Content, &a.MediaRefs, &a.Status, &a.IsScheduled,
		&scheduledFor, &lastScheduledAt, &a.LastError, &a.IntervalMin, &a.IntervalMax,
		&a.GroupInterval, &selected, &created, &updated)
	if err != nil {
		return a, err
	}
	a.ScheduledFor = parseTimePtr(scheduledFor)
	a.LastScheduledAt = parseTimePtr(lastScheduledAt)
	if selected != "" {
		_ = json.Unmarshal([]byte(selected), &a.SelectedGroups)
	}
	a.CreatedAt, a.UpdatedAt = parseTime(created), parseTime(updated)
	return a, nil
}

func (s *sqliteStore) GetAd(ctx context.Context, id int64) (model.Ad, error) {
	a, err := scanAd(s.db.QueryRowContext(ctx, `SELECT `+adCols+` FROM ads WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return a, ErrNotFound
	}
	return a, err
}

func (s *sqliteStore) ListDueScheduledAds(ctx context.Context, now time.Time) ([]model.Ad, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+adCols+` FROM ads
		 WHERE is_scheduled = 1 AND scheduled_for IS NOT NULL AND scheduled_for <= ?
		   AND status IN (?, ?)`,
		fmtTime(now), model.AdActive, model.AdPaused)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Ad
	for rows.Next() {
		a, err := scanAd(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpdateAdStatus(ctx context.Context, id int64, status, lastError string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE ads SET status = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		status, lastError, fmtTime(time.Now()), id)
	return err
}

func (s *sqliteStore) MarkAdScheduled(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE ads SET last_scheduled_at = ?, updated_at = ? WHERE id = ?`,
		fmtTime(at), fmtTime(time.Now()), id)
	return err
}

// ---- posts / history ----

func (s *sqliteStore) CreatePost(ctx context.Context, p model.Post) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO posts (id, ad_id, session_id, status, total_groups, completed_groups, failed_groups, skipped_groups, started_at, created_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.AdID, p.SessionID, p.Status, p.TotalGroups, p.CompletedGroups, p.FailedGroups,
		p.SkippedGroups, fmtTimePtr(p.StartedAt), fmtTime(orNow(p.CreatedAt)))
	return err
}

func (s *sqliteStore) UpdatePostStatus(ctx context.Context, id, status string, finishedAt *time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE posts SET status = ?, finished_at = COALESCE(?, finished_at) WHERE id = ?`,
		status, fmtTimePtr(finishedAt), id)
	return err
}

func (s *sqliteStore) UpdatePostCounts(ctx context.Context, id string, completed, failed, skipped int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE posts SET completed_groups = ?, failed_groups = ?, skipped_groups = ? WHERE id = ?`,
		completed, failed, skipped, id)
	return err
}

func (s *sqliteStore) GetPost(ctx context.Context, id string) (model.Post, error) {
	var p model.Post
	var started, finished sql.NullString
	var created string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, ad_id, session_id, status, total_groups, completed_groups, failed_groups, skipped_groups, started_at, finished_at, created_at
		 FROM posts WHERE id = ?`, id).
		Scan(&p.ID, &p.AdID, &p.SessionID, &p.Status, &p.TotalGroups, &p.CompletedGroups,
			&p.FailedGroups, &p.SkippedGroups, &started, &finished, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.StartedAt = parseTimePtr(started)
	p.FinishedAt = parseTimePtr(finished)
	p.CreatedAt = parseTime(created)
	return p, nil
}

func (s *sqliteStore) AddPostHistory(ctx context.Context, h model.PostHistory) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO post_history (post_id, group_id, session_id, status, message_id, error, sent_at, failed_at)
		 VALUES (?,?,?,?,?,?,?,?)`,
		h.PostID, h.GroupID, h.SessionID, h.Status, h.MessageID, h.Error,
		fmtTimePtr(h.SentAt), fmtTimePtr(h.FailedAt))
	return err
}

func (s *sqliteStore) ListFailedGroupIDs(ctx context.Context, postID string) ([]int64, error) {
	// Last attempt per group decides; a later Sent clears an earlier Failed.
	rows, err := s.db.QueryContext(ctx,
		`SELECT group_id FROM post_history h1
		 WHERE post_id = ? AND id = (SELECT MAX(id) FROM post_history h2 WHERE h2.post_id = h1.post_id AND h2.group_id = h1.group_id)
		   AND status = ?`,
		postID, model.DeliveryFailed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ---- statistics ----

func (s *sqliteStore) UpsertDailyStats(ctx context.Context, st model.SystemStatistics) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO system_statistics (date, total_tenants, total_sessions, active_sessions, total_groups, total_ads, posts_sent, posts_failed, revenue)
		 VALUES (?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(date) DO UPDATE SET
			total_tenants = excluded.total_tenants, total_sessions = excluded.total_sessions,
			active_sessions = excluded.active_sessions, total_groups = excluded.total_groups,
			total_ads = excluded.total_ads, posts_sent = excluded.posts_sent,
			posts_failed = excluded.posts_failed, revenue = excluded.revenue`,
		st.Date.Format("2006-01-02"), st.TotalTenants, st.TotalSessions, st.ActiveSessions,
		st.TotalGroups, st.TotalAds, st.PostsSent, st.PostsFailed, st.Revenue)
	return err
}

func (s *sqliteStore) CollectDailyStats(ctx context.Context, day time.Time) (model.SystemStatistics, error) {
	st := model.SystemStatistics{Date: day}
	dayStart := fmtTime(day)
	dayEnd := fmtTime(day.Add(24 * time.Hour))

	row := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM tenants),
			(SELECT COUNT(*) FROM sessions),
			(SELECT COUNT(*) FROM sessions WHERE status = ? AND is_frozen = 0),
			(SELECT COUNT(*) FROM groups),
			(SELECT COUNT(*) FROM ads),
			(SELECT COUNT(*) FROM post_history WHERE status = ? AND sent_at >= ? AND sent_at < ?),
			(SELECT COUNT(*) FROM post_history WHERE status = ? AND failed_at >= ? AND failed_at < ?),
			(SELECT COALESCE(SUM(amount), 0) FROM payments WHERE status = ? AND updated_at >= ? AND updated_at < ?)`,
		model.SessionActive,
		model.DeliverySent, dayStart, dayEnd,
		model.DeliveryFailed, dayStart, dayEnd,
		model.PaymentApproved, dayStart, dayEnd)
	err := row.Scan(&st.TotalTenants, &st.TotalSessions, &st.ActiveSessions, &st.TotalGroups,
		&st.TotalAds, &st.PostsSent, &st.PostsFailed, &st.Revenue)
	return st, err
}

// ---- helpers ----

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
