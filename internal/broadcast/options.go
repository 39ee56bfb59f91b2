package broadcast

import "time"

// Options is the anti-throttle tuning set. Zero values fall back to the
// conservative defaults below; every knob is overridable from config.
type Options struct {
	// Inter-group delay drawn uniformly per send.
	MinGroupDelay time.Duration
	MaxGroupDelay time.Duration

	// Pause between rounds, jittered by ±RoundPauseJitter.
	RoundPause       time.Duration
	RoundPauseJitter time.Duration

	// Session cooldown arms after this many sends.
	SessionMessageLimit int
	SessionCooldown     time.Duration

	// Flood handling.
	MaxFloodPerSession int
	FloodFreeze        time.Duration

	// Transient error handling.
	MaxConsecutiveErrors int
	ErrorCooldown        time.Duration

	// Per-group cooldown between posts.
	GroupCooldown time.Duration

	// Every LongPauseInterval-th send takes a longer breather.
	LongPauseInterval int
	LongPauseMin      time.Duration
	LongPauseMax      time.Duration

	// Ring log sizing: trim to LogTrimTo once the ring exceeds MaxLogEntries.
	MaxLogEntries int
	LogTrimTo     int

	// Priority recompute keeps the top N groups per session.
	PriorityTopN int

	// Poll cadences for control flags.
	PausePoll time.Duration
	StopPoll  time.Duration
}

func (o Options) withDefaults() Options {
	if o.MinGroupDelay <= 0 {
		o.MinGroupDelay = 5 * time.Second
	}
	if o.MaxGroupDelay <= 0 {
		o.MaxGroupDelay = 20 * time.Second
	}
	if o.MaxGroupDelay < o.MinGroupDelay {
		o.MaxGroupDelay = o.MinGroupDelay
	}
	if o.RoundPause <= 0 {
		o.RoundPause = 15 * time.Minute
	}
	if o.RoundPauseJitter <= 0 {
		o.RoundPauseJitter = 3 * time.Minute
	}
	if o.SessionMessageLimit <= 0 {
		o.SessionMessageLimit = 30
	}
	if o.SessionCooldown <= 0 {
		o.SessionCooldown = 5 * time.Minute
	}
	if o.MaxFloodPerSession <= 0 {
		o.MaxFloodPerSession = 3
	}
	if o.FloodFreeze <= 0 {
		o.FloodFreeze = 30 * time.Minute
	}
	if o.MaxConsecutiveErrors <= 0 {
		o.MaxConsecutiveErrors = 5
	}
	if o.ErrorCooldown <= 0 {
		o.ErrorCooldown = 5 * time.Minute
	}
	if o.GroupCooldown <= 0 {
		o.GroupCooldown = 10 * time.Minute
	}
	if o.LongPauseInterval <= 0 {
		o.LongPauseInterval = 10
	}
	if o.LongPauseMin <= 0 {
		o.LongPauseMin = 30 * time.Second
	}
	if o.LongPauseMax <= 0 {
		o.LongPauseMax = 90 * time.Second
	}
	if o.LongPauseMax < o.LongPauseMin {
		o.LongPauseMax = o.LongPauseMin
	}
	if o.MaxLogEntries < 300 {
		o.MaxLogEntries = 500
	}
	if o.LogTrimTo <= 0 || o.LogTrimTo > o.MaxLogEntries {
		o.LogTrimTo = 300
	}
	if o.PriorityTopN <= 0 {
		o.PriorityTopN = 50
	}
	if o.PausePoll <= 0 {
		o.PausePoll = 5 * time.Second
	}
	if o.StopPoll <= 0 {
		o.StopPoll = 2 * time.Second
	}
	return o
}
