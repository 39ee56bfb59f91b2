package broadcast

import (
	"context"
	"fmt"
	"time"

	"adcast/internal/model"
	logx "adcast/pkg/logx"
)

// runDriver walks one session's shuffled group sublist, strictly serial,
// classifying every outcome. No error aborts the round: the driver records
// and moves on, subject to cooldown gating. Returns the number of sends.
func (s *Service) runDriver(ctx context.Context, job *Job, tgt *target, opts Options) int {
	log := s.log.With(logx.String("job", job.ID), logx.Int64("session", tgt.session.ID))
	sent := 0

	for i := range tgt.groups {
		if job.StopRequested() || ctx.Err() != nil {
			return sent
		}
		for job.PauseRequested() && !job.StopRequested() && ctx.Err() == nil {
			_ = s.clk.Sleep(ctx, opts.StopPoll)
		}
		if job.StopRequested() || ctx.Err() != nil {
			return sent
		}

		g := &tgt.groups[i]
		now := s.clk.Now()

		// Skipped-in-flight: a slowmode or write-forbidden earlier this job
		// already parked the group.
		if !g.Deliverable(now) {
			s.recordSkip(ctx, job, tgt, g, g.SkipReason)
			continue
		}
		if g.LastPostAt != nil && now.Sub(*g.LastPostAt) < opts.GroupCooldown {
			s.recordSkip(ctx, job, tgt, g, "group cooldown")
			continue
		}
		if _, cooling := tgt.rate.CooldownRemaining(now); cooling {
			s.recordSkip(ctx, job, tgt, g, "session cooldown")
			continue
		}

		res, err := tgt.client.Send(ctx, g.PlatformID, job.Content)
		now = s.clk.Now()
		if err == nil {
			sent++
			g.LastPostAt = &now
			if armed := tgt.rate.OnSuccess(now, opts.SessionMessageLimit, opts.SessionCooldown); armed {
				log.Debug("session cooldown armed", logx.Duration("for", opts.SessionCooldown))
			}
			s.recordSent(ctx, job, tgt, g, res.MessageID, now)
		} else {
			s.handleSendError(ctx, job, tgt, g, err, now, opts, log)
			if tgt.dead {
				continue
			}
		}

		if i == len(tgt.groups)-1 {
			break
		}
		var delay time.Duration
		if sent >= opts.LongPauseInterval && sent%opts.LongPauseInterval == 0 {
			delay = uniformDuration(opts.LongPauseMin, opts.LongPauseMax)
		} else {
			delay = uniformDuration(opts.MinGroupDelay, opts.MaxGroupDelay)
		}
		_ = s.clk.Sleep(ctx, delay)
	}
	return sent
}

// handleSendError applies the anti-throttle state machine's error arm.
func (s *Service) handleSendError(ctx context.Context, job *Job, tgt *target, g *model.Group, err error, now time.Time, opts Options, log logx.Logger) {
	kind, seconds := Classify(err)
	switch kind {
	case KindFloodWait:
		sleep, armed := tgt.rate.OnFlood(now, seconds, opts.MaxFloodPerSession, opts.FloodFreeze)
		s.recordFailed(ctx, job, tgt, g, fmt.Sprintf("FLOOD_WAIT %d", seconds), now)
		log.Warn("flood signal", logx.Int("wait_s", seconds),
			logx.Int("flood_count", tgt.rate.FloodCount()), logx.Bool("cooldown_armed", armed))
		if sleep > 0 {
			// Small waits are absorbed inline; only this driver stalls.
			_ = s.clk.Sleep(ctx, sleep)
		}

	case KindSlowmode:
		until := now.Add(time.Duration(seconds) * time.Second)
		reason := fmt.Sprintf("slowmode %d", seconds)
		s.restrictGroup(ctx, g, reason, &until, false)
		s.recordSkip(ctx, job, tgt, g, reason)

	case KindWriteForbidden:
		s.restrictGroup(ctx, g, "write forbidden", nil, true)
		s.recordSkip(ctx, job, tgt, g, "write forbidden")

	case KindChatRestricted:
		s.restrictGroup(ctx, g, "chat restricted", nil, true)
		s.recordSkip(ctx, job, tgt, g, "chat restricted")

	case KindAuthRevoked:
		tgt.dead = true
		tgt.rate.ArmPermanent(now)
		s.registry.Remove(tgt.session.ID)
		if err := s.store.FreezeSession(ctx, tgt.session.ID, now, model.SessionBanned); err != nil {
			log.Warn("session freeze persist failed", logx.Err(err))
		}
		s.recordFailed(ctx, job, tgt, g, "session dead", now)
		log.Error("session auth revoked, banned")

	default:
		if tripped := tgt.rate.OnTransient(now, opts.MaxConsecutiveErrors, opts.ErrorCooldown); tripped {
			log.Warn("error streak cooldown armed",
				logx.Duration("for", opts.ErrorCooldown), logx.Err(err))
		}
		s.recordFailed(ctx, job, tgt, g, err.Error(), now)
	}
}

// restrictGroup mutates both the persisted row and the in-flight copy so
// later rounds of this job skip without a repository read.
func (s *Service) restrictGroup(ctx context.Context, g *model.Group, reason string, until *time.Time, skip bool) {
	g.HasRestrictions = true
	g.SkipReason = reason
	g.RestrictionUntil = until
	if skip {
		g.IsSkipped = true
	}
	if err := s.store.RestrictGroup(ctx, g.ID, reason, until, skip); err != nil {
		s.log.Warn("group restriction persist failed", logx.Int64("group", g.ID), logx.Err(err))
	}
}

func (s *Service) recordSent(ctx context.Context, job *Job, tgt *target, g *model.Group, messageID string, now time.Time) {
	job.record(LogEntry{Time: now, SessionID: tgt.session.ID, GroupID: g.ID, Group: g.Title, Status: model.DeliverySent})
	if err := s.store.TouchGroupPosted(ctx, g.ID, now); err != nil {
		s.log.Warn("group last_post update failed", logx.Int64("group", g.ID), logx.Err(err))
	}
	s.addHistory(ctx, model.PostHistory{
		PostID: job.PostID, GroupID: g.ID, SessionID: tgt.session.ID,
		Status: model.DeliverySent, MessageID: messageID, SentAt: &now,
	})
}

func (s *Service) recordFailed(ctx context.Context, job *Job, tgt *target, g *model.Group, reason string, now time.Time) {
	job.record(LogEntry{Time: now, SessionID: tgt.session.ID, GroupID: g.ID, Group: g.Title, Status: model.DeliveryFailed, Reason: reason})
	s.addHistory(ctx, model.PostHistory{
		PostID: job.PostID, GroupID: g.ID, SessionID: tgt.session.ID,
		Status: model.DeliveryFailed, Error: reason, FailedAt: &now,
	})
}

func (s *Service) recordSkip(ctx context.Context, job *Job, tgt *target, g *model.Group, reason string) {
	now := s.clk.Now()
	job.record(LogEntry{Time: now, SessionID: tgt.session.ID, GroupID: g.ID, Group: g.Title, Status: model.DeliverySkipped, Reason: reason})
	s.addHistory(ctx, model.PostHistory{
		PostID: job.PostID, GroupID: g.ID, SessionID: tgt.session.ID,
		Status: model.DeliverySkipped, Error: reason,
	})
}

func (s *Service) addHistory(ctx context.Context, h model.PostHistory) {
	if err := s.store.AddPostHistory(ctx, h); err != nil {
		s.log.Warn("post history append failed", logx.String("post", h.PostID), logx.Err(err))
	}
}
