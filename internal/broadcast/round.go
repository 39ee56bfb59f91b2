package broadcast

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"adcast/internal/model"
	logx "adcast/pkg/logx"
)

// runJob is the round loop: round, inter-round pause, round, ... until the
// job is stopped or every group is permanently out of reach. Broadcasting is
// continuous by design; only the tenant ends it.
func (s *Service) runJob(ctx context.Context, job *Job, targets []target) {
	log := s.log.With(logx.String("job", job.ID))
	completed := false

	defer func() {
		if r := recover(); r != nil {
			log.Error("round loop panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			job.record(LogEntry{Time: s.clk.Now(), Status: model.DeliveryFailed, Reason: fmt.Sprintf("internal: %v", r)})
			completed = false
		}
		s.finishJob(job, completed, log)
	}()

	paused := false
	for {
		if job.StopRequested() || ctx.Err() != nil {
			return
		}
		opts := s.options()

		if job.PauseRequested() {
			if !paused {
				paused = true
				job.setStatus(JobPaused)
				s.persistPostStatus(job.PostID, model.PostPaused, nil)
				log.Info("job paused")
			}
			_ = s.clk.Sleep(ctx, opts.PausePoll)
			continue
		}
		if paused {
			paused = false
			job.setStatus(JobRunning)
			s.persistPostStatus(job.PostID, model.PostInProgress, nil)
			log.Info("job resumed")
		}

		// One round: each session drives its own shuffled sublist, all
		// drivers concurrently, the round ends when the slowest returns.
		start := s.clk.Now()
		var wg sync.WaitGroup
		for i := range targets {
			tgt := &targets[i]
			if tgt.dead {
				continue
			}
			shuffleGroups(tgt.groups)
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() {
					if r := recover(); r != nil {
						log.Error("driver panicked",
							logx.Int64("session", tgt.session.ID),
							logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
					}
				}()
				s.runDriver(ctx, job, tgt, opts)
			}()
		}
		wg.Wait()
		job.roundDone()
		s.persistCounts(job)

		posted, failed, skipped := job.Counts()
		log.Info("round finished",
			logx.Int("round", job.Stats().RoundsComplete),
			logx.Int("posted", posted), logx.Int("failed", failed), logx.Int("skipped", skipped),
			logx.Duration("took", s.clk.Now().Sub(start)))

		if job.StopRequested() || ctx.Err() != nil {
			return
		}
		if allExhausted(targets) {
			completed = true
			return
		}

		if !s.interRoundPause(ctx, job, opts) {
			return
		}
	}
}

// interRoundPause waits the jittered round pause in StopPoll slices so a stop
// request never waits longer than one slice. Returns false when the job
// should terminate.
func (s *Service) interRoundPause(ctx context.Context, job *Job, opts Options) bool {
	min := opts.RoundPause - opts.RoundPauseJitter
	if min < 0 {
		min = 0
	}
	remaining := uniformDuration(min, opts.RoundPause+opts.RoundPauseJitter)
	for remaining > 0 {
		if job.StopRequested() || ctx.Err() != nil {
			return false
		}
		slice := opts.StopPoll
		if slice > remaining {
			slice = remaining
		}
		if err := s.clk.Sleep(ctx, slice); err != nil {
			return false
		}
		remaining -= slice
	}
	return true
}

// allExhausted reports whether no target can ever deliver again: every
// session dead or every one of its groups permanently skipped.
func allExhausted(targets []target) bool {
	for i := range targets {
		if targets[i].dead {
			continue
		}
		for _, g := range targets[i].groups {
			if !g.IsSkipped {
				return false
			}
		}
	}
	return true
}

func (s *Service) finishJob(job *Job, completed bool, log logx.Logger) {
	now := s.clk.Now()
	status := JobStopped
	postStatus := model.PostCancelled
	if completed {
		status = JobCompleted
		postStatus = model.PostCompleted
	}
	job.finish(status, now)
	s.persistCounts(job)
	s.persistPostStatus(job.PostID, postStatus, &now)

	st := job.Stats()
	log.Info("job finished",
		logx.String("status", status),
		logx.Int("rounds", st.RoundsComplete),
		logx.Int("posted", st.PostedGroups), logx.Int("failed", st.FailedGroups),
		logx.Int("skipped", st.SkippedGroups),
		logx.Duration("dur", now.Sub(job.StartedAt)))
}

// persistCounts and persistPostStatus use a detached context: they must land
// even while the service is shutting down.
func (s *Service) persistCounts(job *Job) {
	posted, failed, skipped := job.Counts()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.UpdatePostCounts(ctx, job.PostID, posted, failed, skipped); err != nil {
		s.log.Warn("post counts update failed", logx.String("post", job.PostID), logx.Err(err))
	}
}

func (s *Service) persistPostStatus(postID, status string, finishedAt *time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.UpdatePostStatus(ctx, postID, status, finishedAt); err != nil {
		s.log.Warn("post status update failed", logx.String("post", postID), logx.Err(err))
	}
}
