package broadcast

import (
	"sync"
	"sync/atomic"
	"time"

	"adcast/internal/model"
)

// Job status values. A Job never enters a "failed" state: a crashed round
// loop marks the job Stopped with an error log entry.
const (
	JobRunning   = "running"
	JobPaused    = "paused"
	JobStopped   = "stopped"
	JobCompleted = "completed"
)

// LogEntry is one line in a job's ring log.
type LogEntry struct {
	Time      time.Time `json:"time"`
	SessionID int64     `json:"session_id"`
	GroupID   int64     `json:"group_id"`
	Group     string    `json:"group"`
	Status    string    `json:"status"` // sent|failed|skipped
	Reason    string    `json:"reason,omitempty"`
}

// JobStats is a read-only counters snapshot.
type JobStats struct {
	JobID          string    `json:"job_id"`
	PostID         string    `json:"post_id"`
	Status         string    `json:"status"`
	TotalGroups    int       `json:"total_groups"`
	PostedGroups   int       `json:"posted_groups"`
	FailedGroups   int       `json:"failed_groups"`
	SkippedGroups  int       `json:"skipped_groups"`
	RoundsComplete int       `json:"rounds_complete"`
	SuccessRate    float64   `json:"success_rate"`
	StartedAt      time.Time `json:"started_at"`
	EndedAt        time.Time `json:"ended_at,omitempty"`
}

// Job is the in-memory runtime state of one broadcast. Counters and the ring
// log are owned by the engine's goroutines; control flags are monotonic bits
// flipped by controllers and polled by the round loop and drivers.
type Job struct {
	ID       string
	PostID   string
	TenantID int64
	AdID     int64

	// Content is the fully rendered ad body (brand text already appended).
	Content string

	StartedAt time.Time

	maxLog int
	trimTo int

	stopRequested  atomic.Bool
	pauseRequested atomic.Bool

	mu       sync.Mutex
	status   string
	total    int
	posted   int
	failed   int
	skipped  int
	rounds   int
	endedAt  time.Time
	logs     []LogEntry
	doneCh   chan struct{}
	doneOnce sync.Once
}

func newJob(id, postID string, tenantID, adID int64, content string, totalGroups int, startedAt time.Time, maxLog, trimTo int) *Job {
	return &Job{
		ID:        id,
		PostID:    postID,
		TenantID:  tenantID,
		AdID:      adID,
		Content:   content,
		StartedAt: startedAt,
		maxLog:    maxLog,
		trimTo:    trimTo,
		status:    JobRunning,
		total:     totalGroups,
		doneCh:    make(chan struct{}),
	}
}

// RequestStop is sticky: once set it is never cleared.
func (j *Job) RequestStop() { j.stopRequested.Store(true) }

func (j *Job) RequestPause()  { j.pauseRequested.Store(true) }
func (j *Job) RequestResume() { j.pauseRequested.Store(false) }

func (j *Job) StopRequested() bool  { return j.stopRequested.Load() }
func (j *Job) PauseRequested() bool { return j.pauseRequested.Load() }

// Done is closed when the round loop has fully exited.
func (j *Job) Done() <-chan struct{} { return j.doneCh }

func (j *Job) finish(status string, at time.Time) {
	j.mu.Lock()
	j.status = status
	j.endedAt = at
	j.mu.Unlock()
	j.doneOnce.Do(func() { close(j.doneCh) })
}

func (j *Job) setStatus(status string) {
	j.mu.Lock()
	j.status = status
	j.mu.Unlock()
}

func (j *Job) Status() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Finished reports whether the job may be cleaned up.
func (j *Job) Finished() bool {
	s := j.Status()
	return s == JobStopped || s == JobCompleted
}

func (j *Job) roundDone() {
	j.mu.Lock()
	j.rounds++
	j.mu.Unlock()
}

// record appends a log entry and bumps the matching counter. Appends are
// serialised with the trim so the ring length never observably exceeds the
// configured maximum.
func (j *Job) record(e LogEntry) {
	j.mu.Lock()
	switch e.Status {
	case model.DeliverySent:
		j.posted++
	case model.DeliveryFailed:
		j.failed++
	case model.DeliverySkipped:
		j.skipped++
	}
	j.logs = append(j.logs, e)
	if len(j.logs) > j.maxLog {
		j.logs = append(j.logs[:0:0], j.logs[len(j.logs)-j.trimTo:]...)
	}
	j.mu.Unlock()
}

// Counts returns (posted, failed, skipped).
func (j *Job) Counts() (int, int, int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.posted, j.failed, j.skipped
}

// Stats returns a counters snapshot.
func (j *Job) Stats() JobStats {
	j.mu.Lock()
	defer j.mu.Unlock()
	st := JobStats{
		JobID:          j.ID,
		PostID:         j.PostID,
		Status:         j.status,
		TotalGroups:    j.total,
		PostedGroups:   j.posted,
		FailedGroups:   j.failed,
		SkippedGroups:  j.skipped,
		RoundsComplete: j.rounds,
		StartedAt:      j.StartedAt,
		EndedAt:        j.endedAt,
	}
	if attempts := j.posted + j.failed; attempts > 0 {
		st.SuccessRate = float64(j.posted) / float64(attempts)
	}
	return st
}

// Logs returns up to n tail entries (all when n <= 0). Readers see a prefix
// ending at a real append.
func (j *Job) Logs(n int) []LogEntry {
	j.mu.Lock()
	defer j.mu.Unlock()
	logs := j.logs
	if n > 0 && len(logs) > n {
		logs = logs[len(logs)-n:]
	}
	out := make([]LogEntry, len(logs))
	copy(out, logs)
	return out
}
