// Package broadcast is the posting engine and its orchestrator facade.
//
// One Job per running broadcast, one round-loop goroutine per Job, one driver
// goroutine per participating session per round. Platform rate limits are
// enforced per account, so sessions send in parallel while each session's
// sends stay strictly serial and spaced.
//
// Control flags (stop/pause) are single bits polled at documented points;
// stop is sticky. Jobs are in-memory only: a process restart cancels them,
// while their Post envelopes survive in storage and can be re-driven with
// RetryFailed.
package broadcast
