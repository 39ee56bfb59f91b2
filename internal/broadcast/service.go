package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"adcast/internal/clock"
	"adcast/internal/model"
	"adcast/internal/platform"
	"adcast/internal/storage"
	logx "adcast/pkg/logx"
)

var (
	ErrNoUsableSession    = errors.New("no usable session")
	ErrNoDeliverableGroup = errors.New("no deliverable group")
	ErrEmptyContent       = errors.New("ad content is empty")
	ErrNotOwner           = errors.New("ad does not belong to tenant")
	ErrAlreadyRunning     = errors.New("a job for this ad is already running")
	ErrJobNotFound        = errors.New("job not found")
	ErrJobActive          = errors.New("job is still active")
	ErrNotStarted         = errors.New("broadcast service not started")
)

// StartRequest asks for one ad to be broadcast across a tenant's sessions.
type StartRequest struct {
	TenantID int64
	AdID     int64

	// UsePriorityGroups narrows the deliverable set to priority groups.
	UsePriorityGroups bool

	// GroupIDs, when non-empty, restricts the job to these groups in place
	// of the ad's own selection (used by RetryFailed).
	GroupIDs []int64

	// PostID reuses an existing post envelope instead of creating one
	// (used by RetryFailed).
	PostID string
}

// target is one session's share of a job: its connected client and its
// deliverable groups.
type target struct {
	session model.Session
	client  platform.Client
	groups  []model.Group
	rate    *RateState

	// dead is set by the target's own driver (auth revoked) and read by the
	// round loop after the round barrier.
	dead bool
}

// Service is the broadcast orchestrator and posting engine. All jobs, their
// ring logs, and the per-session rate states are owned here; repository rows
// are reached only through the Store.
type Service struct {
	store    storage.Store
	registry *platform.Registry
	clk      clock.Clock
	log      logx.Logger

	optsMu sync.RWMutex
	opts   Options

	rates *RateRegistry

	mu     sync.Mutex
	jobs   map[string]*Job
	byAd   map[adKey]string
	runCtx context.Context
	cancel context.CancelFunc
	jobWG  sync.WaitGroup
}

type adKey struct {
	tenant int64
	ad     int64
}

func New(store storage.Store, registry *platform.Registry, clk clock.Clock, opts Options, log logx.Logger) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		store:    store,
		registry: registry,
		clk:      clk,
		log:      log,
		opts:     opts.withDefaults(),
		rates:    NewRateRegistry(),
		jobs:     map[string]*Job{},
		byAd:     map[adKey]string{},
	}
}

// Apply swaps the anti-throttle options. Running jobs pick the new values up
// at the next round boundary.
func (s *Service) Apply(opts Options) {
	s.optsMu.Lock()
	s.opts = opts.withDefaults()
	s.optsMu.Unlock()
}

func (s *Service) options() Options {
	s.optsMu.RLock()
	defer s.optsMu.RUnlock()
	return s.opts
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runCtx != nil {
		return
	}
	s.runCtx, s.cancel = context.WithCancel(ctx)
	s.log.Info("service started")
}

// Stop requests every job to stop and waits for the round loops to exit
// (bounded by ctx).
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	cancel := s.cancel
	s.runCtx = nil
	s.cancel = nil
	for _, j := range s.jobs {
		j.RequestStop()
	}
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()

	done := make(chan struct{})
	go func() {
		s.jobWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
	case <-ctx.Done():
		s.log.Warn("service stop timed out", logx.Duration("took", time.Since(start)))
	}
}

// StartPosting resolves the tenant's usable sessions and deliverable groups,
// persists the post envelope, and spawns the round loop.
func (s *Service) StartPosting(ctx context.Context, req StartRequest) (*Job, error) {
	s.mu.Lock()
	runCtx := s.runCtx
	s.mu.Unlock()
	if runCtx == nil {
		return nil, ErrNotStarted
	}

	ad, err := s.store.GetAd(ctx, req.AdID)
	if err != nil {
		return nil, fmt.Errorf("load ad: %w", err)
	}
	if ad.TenantID != req.TenantID {
		return nil, ErrNotOwner
	}
	if ad.Content == "" {
		return nil, ErrEmptyContent
	}

	key := adKey{tenant: req.TenantID, ad: req.AdID}
	s.mu.Lock()
	if id, ok := s.byAd[key]; ok {
		if j := s.jobs[id]; j != nil && !j.Finished() {
			s.mu.Unlock()
			return nil, ErrAlreadyRunning
		}
	}
	s.mu.Unlock()

	content := ad.Content
	if tenant, err := s.store.GetTenant(ctx, req.TenantID); err == nil {
		if tenant.BrandAdEnabled && tenant.BrandAdText != "" {
			content += "\n\n" + tenant.BrandAdText
		}
	}

	targets, total, err := s.resolveTargets(ctx, req, ad)
	if err != nil {
		return nil, err
	}

	now := s.clk.Now()
	opts := s.options()
	jobID := uuid.NewString()
	postID := req.PostID
	if postID == "" {
		postID = jobID
		post := model.Post{
			ID:          postID,
			AdID:        ad.ID,
			SessionID:   targets[0].session.ID,
			Status:      model.PostPending,
			TotalGroups: total,
			StartedAt:   &now,
			CreatedAt:   now,
		}
		if err := s.store.CreatePost(ctx, post); err != nil {
			return nil, fmt.Errorf("persist post: %w", err)
		}
	}
	if err := s.store.UpdatePostStatus(ctx, postID, model.PostInProgress, nil); err != nil {
		s.log.Warn("post status update failed", logx.String("post", postID), logx.Err(err))
	}

	job := newJob(jobID, postID, req.TenantID, ad.ID, content, total, now, opts.MaxLogEntries, opts.LogTrimTo)

	s.mu.Lock()
	if s.runCtx == nil {
		s.mu.Unlock()
		return nil, ErrNotStarted
	}
	s.jobs[jobID] = job
	s.byAd[key] = jobID
	s.jobWG.Add(1)
	runCtx = s.runCtx
	s.mu.Unlock()

	s.log.Info("job started",
		logx.String("job", jobID), logx.Int64("tenant", req.TenantID),
		logx.Int64("ad", ad.ID), logx.Int("sessions", len(targets)), logx.Int("groups", total))

	go func() {
		defer s.jobWG.Done()
		s.runJob(runCtx, job, targets)
	}()
	return job, nil
}

// resolveTargets connects the tenant's sendable sessions and collects each
// one's deliverable groups. Sessions that fail to connect are excluded, not
// fatal.
func (s *Service) resolveTargets(ctx context.Context, req StartRequest, ad model.Ad) ([]target, int, error) {
	sessions, err := s.store.ListSendableSessions(ctx, req.TenantID)
	if err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}

	selected := ad.SelectedGroups
	if len(req.GroupIDs) > 0 {
		selected = req.GroupIDs
	}

	now := s.clk.Now()
	var targets []target
	total := 0
	connected := 0
	for _, sess := range sessions {
		client, err := s.registry.Connect(ctx, sess)
		if err != nil {
			s.log.Warn("session excluded from job",
				logx.Int64("session", sess.ID), logx.Err(err))
			continue
		}
		connected++
		groups, err := s.store.ListActiveGroups(ctx, sess.ID)
		if err != nil {
			s.log.Warn("group list failed", logx.Int64("session", sess.ID), logx.Err(err))
			continue
		}
		eligible := selectGroups(groups, now, selected, req.UsePriorityGroups)
		if len(eligible) == 0 {
			continue
		}
		targets = append(targets, target{
			session: sess,
			client:  client,
			groups:  eligible,
			rate:    s.rates.Get(sess.ID),
		})
		total += len(eligible)
	}
	if connected == 0 {
		return nil, 0, ErrNoUsableSession
	}
	if total == 0 {
		return nil, 0, ErrNoDeliverableGroup
	}
	return targets, total, nil
}

// ---- control operations (idempotent) ----

func (s *Service) StopJob(jobID string) error {
	j, ok := s.GetJob(jobID)
	if !ok {
		return ErrJobNotFound
	}
	j.RequestStop()
	return nil
}

func (s *Service) PauseJob(jobID string) error {
	j, ok := s.GetJob(jobID)
	if !ok {
		return ErrJobNotFound
	}
	j.RequestPause()
	return nil
}

func (s *Service) ResumeJob(jobID string) error {
	j, ok := s.GetJob(jobID)
	if !ok {
		return ErrJobNotFound
	}
	j.RequestResume()
	return nil
}

// CleanupJob removes a finished job from the registry.
func (s *Service) CleanupJob(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	if !j.Finished() {
		return ErrJobActive
	}
	delete(s.jobs, jobID)
	key := adKey{tenant: j.TenantID, ad: j.AdID}
	if s.byAd[key] == jobID {
		delete(s.byAd, key)
	}
	return nil
}

// ---- read-only views ----

func (s *Service) GetJob(jobID string) (*Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	return j, ok
}

func (s *Service) GetUserJobs(tenantID int64) []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Job
	for _, j := range s.jobs {
		if j.TenantID == tenantID {
			out = append(out, j)
		}
	}
	return out
}

func (s *Service) GetJobStats(jobID string) (JobStats, error) {
	j, ok := s.GetJob(jobID)
	if !ok {
		return JobStats{}, ErrJobNotFound
	}
	return j.Stats(), nil
}

func (s *Service) GetJobLogs(jobID string, n int) ([]LogEntry, error) {
	j, ok := s.GetJob(jobID)
	if !ok {
		return nil, ErrJobNotFound
	}
	return j.Logs(n), nil
}

// IsAdRunning reports whether a live job exists for (tenant, ad).
func (s *Service) IsAdRunning(tenantID, adID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byAd[adKey{tenant: tenantID, ad: adID}]
	if !ok {
		return false
	}
	j := s.jobs[id]
	return j != nil && !j.Finished()
}

// ---- group sync ----

// SyncSessionGroups refreshes one session's joined-group set from the
// platform and the denormalised counters on the session row.
func (s *Service) SyncSessionGroups(ctx context.Context, sessionID int64) (int, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	if !sess.Usable() {
		return 0, ErrNoUsableSession
	}
	client, err := s.registry.Connect(ctx, sess)
	if err != nil {
		return 0, err
	}
	snaps, err := client.SyncGroups(ctx)
	if err != nil {
		return 0, err
	}
	added, err := s.store.BatchAddGroups(ctx, sessionID, snaps)
	if err != nil {
		return 0, err
	}
	groups, err := s.store.ListActiveGroups(ctx, sessionID)
	if err != nil {
		return added, err
	}
	all, err := s.store.ListSessionGroupIDs(ctx, sessionID)
	if err != nil {
		return added, err
	}
	if err := s.store.UpdateSessionSync(ctx, sessionID, s.clk.Now(), len(all), len(groups)); err != nil {
		return added, err
	}
	s.log.Info("groups synced",
		logx.Int64("session", sessionID), logx.Int("total", len(all)), logx.Int("added", added))
	return added, nil
}

// RetryFailed starts a new job targeting only the groups whose last attempt
// for the post failed.
func (s *Service) RetryFailed(ctx context.Context, tenantID int64, postID string) (*Job, error) {
	post, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	failed, err := s.store.ListFailedGroupIDs(ctx, postID)
	if err != nil {
		return nil, err
	}
	if len(failed) == 0 {
		return nil, ErrNoDeliverableGroup
	}
	return s.StartPosting(ctx, StartRequest{
		TenantID: tenantID,
		AdID:     post.AdID,
		GroupIDs: failed,
		PostID:   postID,
	})
}
