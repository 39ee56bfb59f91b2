// Package publisher scans for scheduled ads that have come due and hands
// them to the posting engine.
package publisher

import (
	"context"

	"adcast/internal/broadcast"
	"adcast/internal/clock"
	"adcast/internal/model"
	"adcast/internal/storage"
	logx "adcast/pkg/logx"
)

type Service struct {
	store  storage.Store
	engine *broadcast.Service
	clk    clock.Clock
	log    logx.Logger
}

func New(store storage.Store, engine *broadcast.Service, clk clock.Clock, log logx.Logger) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: store, engine: engine, clk: clk, log: log}
}

// Register attaches the due-scan to the cron runner (fires every minute).
func (s *Service) Register(cr *clock.Cron) error {
	_, err := cr.Register(clock.EveryMinute, "scheduled_ads", s.PublishDue)
	return err
}

// PublishDue starts a job for every due scheduled ad. A failure pauses the
// ad and records the error; a success activates it and stamps the fire time.
func (s *Service) PublishDue(ctx context.Context) error {
	now := s.clk.Now()
	due, err := s.store.ListDueScheduledAds(ctx, now)
	if err != nil {
		return err
	}
	for _, ad := range due {
		if s.engine.IsAdRunning(ad.TenantID, ad.ID) {
			continue
		}
		job, err := s.engine.StartPosting(ctx, broadcast.StartRequest{TenantID: ad.TenantID, AdID: ad.ID})
		if err != nil {
			s.log.Warn("scheduled ad failed to start",
				logx.Int64("ad", ad.ID), logx.Int64("tenant", ad.TenantID), logx.Err(err))
			if uerr := s.store.UpdateAdStatus(ctx, ad.ID, model.AdPaused, err.Error()); uerr != nil {
				s.log.Warn("ad status update failed", logx.Int64("ad", ad.ID), logx.Err(uerr))
			}
			continue
		}
		if err := s.store.UpdateAdStatus(ctx, ad.ID, model.AdActive, ""); err != nil {
			s.log.Warn("ad status update failed", logx.Int64("ad", ad.ID), logx.Err(err))
		}
		if err := s.store.MarkAdScheduled(ctx, ad.ID, now); err != nil {
			s.log.Warn("ad schedule stamp failed", logx.Int64("ad", ad.ID), logx.Err(err))
		}
		s.log.Info("scheduled ad published",
			logx.Int64("ad", ad.ID), logx.Int64("tenant", ad.TenantID), logx.String("job", job.ID))
	}
	return nil
}
