package broadcast

import (
	"sync"
	"time"
)

// permanentCooldown is far enough out to outlive any job. Used when a
// session's credential dies mid-round.
const permanentCooldown = 100 * 365 * 24 * time.Hour

// RateState tracks one session's anti-throttle counters. Only one driver
// touches a session's entry at a time; the mutex covers the diagnostic
// cross-driver reader.
type RateState struct {
	mu                sync.Mutex
	messagesSent      int
	floodCount        int
	consecutiveErrors int
	cooldownUntil     time.Time
}

// CooldownRemaining reports how long the session must still wait. An elapsed
// cooldown is lazily cleared here, zeroing messagesSent for the fresh window.
func (r *RateState) CooldownRemaining(now time.Time) (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cooldownUntil.IsZero() {
		return 0, false
	}
	if !r.cooldownUntil.After(now) {
		r.cooldownUntil = time.Time{}
		r.messagesSent = 0
		return 0, false
	}
	return r.cooldownUntil.Sub(now), true
}

// OnSuccess counts a delivered message. Returns true when the send budget is
// exhausted and a cooldown was armed.
func (r *RateState) OnSuccess(now time.Time, limit int, cooldown time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messagesSent++
	r.consecutiveErrors = 0
	if r.messagesSent >= limit {
		r.cooldownUntil = now.Add(cooldown)
		r.messagesSent = 0
		return true
	}
	return false
}

// OnFlood applies a platform flood signal of n seconds. When n is small the
// driver absorbs it inline (returned as sleep); a large n arms the session
// cooldown instead so the rest of the round is skipped. Crossing the flood
// ceiling arms the long freeze regardless.
func (r *RateState) OnFlood(now time.Time, n int, maxFlood int, freeze time.Duration) (sleep time.Duration, armed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.floodCount++
	r.consecutiveErrors++
	wait := time.Duration(n) * time.Second
	if n <= 60 {
		sleep = wait
	} else {
		r.cooldownUntil = laterOf(r.cooldownUntil, now.Add(wait))
		armed = true
	}
	if r.floodCount >= maxFlood {
		r.cooldownUntil = laterOf(r.cooldownUntil, now.Add(freeze))
		armed = true
	}
	return sleep, armed
}

// OnTransient counts an unclassified failure. Returns true when the error
// streak tripped a cooldown (streak resets with it).
func (r *RateState) OnTransient(now time.Time, maxConsecutive int, cooldown time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.consecutiveErrors++
	if r.consecutiveErrors >= maxConsecutive {
		r.cooldownUntil = laterOf(r.cooldownUntil, now.Add(cooldown))
		r.consecutiveErrors = 0
		return true
	}
	return false
}

// ArmPermanent parks the session for good (dead credential).
func (r *RateState) ArmPermanent(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cooldownUntil = now.Add(permanentCooldown)
}

// FloodCount is a diagnostic read.
func (r *RateState) FloodCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.floodCount
}

// ConsecutiveErrors is a diagnostic read.
func (r *RateState) ConsecutiveErrors() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.consecutiveErrors
}

// MessagesSent is a diagnostic read.
func (r *RateState) MessagesSent() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.messagesSent
}

func laterOf(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

// RateRegistry holds one RateState per session id.
type RateRegistry struct {
	mu sync.Mutex
	m  map[int64]*RateState
}

func NewRateRegistry() *RateRegistry {
	return &RateRegistry{m: map[int64]*RateState{}}
}

func (rr *RateRegistry) Get(sessionID int64) *RateState {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	st, ok := rr.m[sessionID]
	if !ok {
		st = &RateState{}
		rr.m[sessionID] = st
	}
	return st
}
