package broadcast

import (
	"testing"
	"time"
)

func TestRateStateSuccessArmsCooldown(t *testing.T) {
	t.Parallel()
	now := time.Now()
	r := &RateState{}

	for i := 0; i < 29; i++ {
		if armed := r.OnSuccess(now, 30, 5*time.Minute); armed {
			t.Fatalf("cooldown armed after %d sends", i+1)
		}
	}
	if armed := r.OnSuccess(now, 30, 5*time.Minute); !armed {
		t.Fatal("cooldown not armed at the limit")
	}
	if r.MessagesSent() != 0 {
		t.Fatalf("messagesSent = %d, want 0 after arming", r.MessagesSent())
	}
	if _, cooling := r.CooldownRemaining(now); !cooling {
		t.Fatal("expected active cooldown")
	}
}

func TestRateStateLazyClear(t *testing.T) {
	t.Parallel()
	now := time.Now()
	r := &RateState{}
	r.OnSuccess(now, 1, time.Minute) // arms immediately

	if _, cooling := r.CooldownRemaining(now.Add(30 * time.Second)); !cooling {
		t.Fatal("cooldown cleared too early")
	}
	if _, cooling := r.CooldownRemaining(now.Add(2 * time.Minute)); cooling {
		t.Fatal("elapsed cooldown not cleared")
	}
	if r.MessagesSent() != 0 {
		t.Fatalf("messagesSent = %d, want 0 after lazy clear", r.MessagesSent())
	}
}

func TestRateStateFlood(t *testing.T) {
	t.Parallel()
	now := time.Now()

	t.Run("small wait sleeps inline", func(t *testing.T) {
		t.Parallel()
		r := &RateState{}
		sleep, armed := r.OnFlood(now, 10, 3, 30*time.Minute)
		if sleep != 10*time.Second || armed {
			t.Fatalf("sleep=%v armed=%v, want 10s inline", sleep, armed)
		}
	})

	t.Run("large wait arms cooldown", func(t *testing.T) {
		t.Parallel()
		r := &RateState{}
		sleep, armed := r.OnFlood(now, 300, 3, 30*time.Minute)
		if sleep != 0 || !armed {
			t.Fatalf("sleep=%v armed=%v, want armed cooldown", sleep, armed)
		}
		if left, cooling := r.CooldownRemaining(now); !cooling || left < 299*time.Second {
			t.Fatalf("cooldown remaining %v, want ~300s", left)
		}
	})

	t.Run("flood ceiling arms the freeze", func(t *testing.T) {
		t.Parallel()
		r := &RateState{}
		r.OnFlood(now, 5, 3, 30*time.Minute)
		r.OnFlood(now, 5, 3, 30*time.Minute)
		_, armed := r.OnFlood(now, 5, 3, 30*time.Minute)
		if !armed {
			t.Fatal("freeze not armed at the flood ceiling")
		}
		// Invariant: cooldownUntil >= lastFlood + freeze.
		left, cooling := r.CooldownRemaining(now)
		if !cooling || left < 30*time.Minute {
			t.Fatalf("freeze remaining %v, want >= 30m", left)
		}
	})
}

func TestRateStateTransientStreak(t *testing.T) {
	t.Parallel()
	now := time.Now()
	r := &RateState{}

	for i := 0; i < 4; i++ {
		if tripped := r.OnTransient(now, 5, 5*time.Minute); tripped {
			t.Fatalf("cooldown tripped after %d errors", i+1)
		}
	}
	if tripped := r.OnTransient(now, 5, 5*time.Minute); !tripped {
		t.Fatal("cooldown not tripped at the streak limit")
	}
	if r.ConsecutiveErrors() != 0 {
		t.Fatalf("streak = %d, want 0 after trip", r.ConsecutiveErrors())
	}

	// Success resets the streak.
	r2 := &RateState{}
	r2.OnTransient(now, 5, time.Minute)
	r2.OnTransient(now, 5, time.Minute)
	r2.OnSuccess(now, 100, time.Minute)
	if r2.ConsecutiveErrors() != 0 {
		t.Fatalf("streak = %d, want 0 after success", r2.ConsecutiveErrors())
	}
}

func TestRateStatePermanent(t *testing.T) {
	t.Parallel()
	now := time.Now()
	r := &RateState{}
	r.ArmPermanent(now)
	if left, cooling := r.CooldownRemaining(now.Add(24 * time.Hour)); !cooling || left < time.Hour {
		t.Fatalf("permanent cooldown not holding: left=%v cooling=%v", left, cooling)
	}
}
