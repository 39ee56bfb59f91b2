// Package maintenance runs the periodic housekeeping loops: subscription and
// payment expiry, frozen-session thaw, the daily statistics rollup, and the
// priority-group recompute. Each loop logs and continues; independent timers
// mean no loop can block another.
package maintenance

import (
	"context"
	"time"

	"adcast/internal/clock"
	"adcast/internal/storage"
	logx "adcast/pkg/logx"
)

const (
	paymentTTL  = 48 * time.Hour
	freezeTTL   = 7 * 24 * time.Hour
	priorityTop = 50
)

type Config struct {
	// PriorityTopN overrides the priority-group cut (default 50).
	PriorityTopN int
}

type Service struct {
	store storage.Store
	clk   clock.Clock
	log   logx.Logger
	cfg   Config
}

func New(store storage.Store, clk clock.Clock, cfg Config, log logx.Logger) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.PriorityTopN <= 0 {
		cfg.PriorityTopN = priorityTop
	}
	return &Service{store: store, clk: clk, log: log, cfg: cfg}
}

// Register attaches every loop to the cron runner.
func (s *Service) Register(cr *clock.Cron) error {
	jobs := []struct {
		spec string
		name string
		fn   func(ctx context.Context) error
	}{
		{clock.EveryHour, "subscription_expiry", s.ExpireSubscriptions},
		{"every 6h", "payment_expiry", s.ExpirePayments},
		{"daily 03:00", "session_thaw", s.ThawFrozenSessions},
		{"daily 00:00", "daily_stats", s.RollupDailyStats},
		{"daily 04:00", "priority_recompute", s.RecomputePriorityGroups},
	}
	for _, j := range jobs {
		if _, err := cr.Register(j.spec, j.name, j.fn); err != nil {
			return err
		}
	}
	return nil
}

// ExpireSubscriptions flips active subscriptions past their end date.
func (s *Service) ExpireSubscriptions(ctx context.Context) error {
	n, err := s.store.ExpireSubscriptions(ctx, s.clk.Now())
	if err != nil {
		return err
	}
	if n > 0 {
		s.log.Info("subscriptions expired", logx.Int("count", n))
	}
	return nil
}

// ExpirePayments times out receipts that sat pending for 48 hours.
func (s *Service) ExpirePayments(ctx context.Context) error {
	n, err := s.store.ExpirePayments(ctx, s.clk.Now().Add(-paymentTTL))
	if err != nil {
		return err
	}
	if n > 0 {
		s.log.Info("payments expired", logx.Int("count", n))
	}
	return nil
}

// ThawFrozenSessions clears week-old freezes. Banned sessions are excluded in
// the store query: a revoked credential must stay dead.
func (s *Service) ThawFrozenSessions(ctx context.Context) error {
	n, err := s.store.ThawSessions(ctx, s.clk.Now().Add(-freezeTTL))
	if err != nil {
		return err
	}
	if n > 0 {
		s.log.Info("sessions thawed", logx.Int("count", n))
	}
	return nil
}

// RollupDailyStats upserts yesterday's statistics row.
func (s *Service) RollupDailyStats(ctx context.Context) error {
	now := s.clk.Now().UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(-24 * time.Hour)
	st, err := s.store.CollectDailyStats(ctx, day)
	if err != nil {
		return err
	}
	if err := s.store.UpsertDailyStats(ctx, st); err != nil {
		return err
	}
	s.log.Info("daily stats rolled up",
		logx.Time("day", day), logx.Int("sent", st.PostsSent), logx.Int("failed", st.PostsFailed))
	return nil
}

// RecomputePriorityGroups re-ranks every session's top groups by activity
// then member count. Only tenants that opt into priority posting are
// affected by the result.
func (s *Service) RecomputePriorityGroups(ctx context.Context) error {
	ids, err := s.store.ListSessionIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := s.store.RecomputePriorityGroups(ctx, id, s.cfg.PriorityTopN); err != nil {
			s.log.Warn("priority recompute failed", logx.Int64("session", id), logx.Err(err))
		}
	}
	return nil
}
