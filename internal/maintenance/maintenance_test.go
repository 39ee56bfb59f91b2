package maintenance

import (
	"context"
	"testing"
	"time"

	"adcast/internal/clock"
	"adcast/internal/model"
	"adcast/internal/storage"
	logx "adcast/pkg/logx"
)

func TestLoops(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	now := time.Now()
	old := now.Add(-8 * 24 * time.Hour)

	store.PutTenant(model.Tenant{ID: 1})
	store.PutSubscription(model.Subscription{ID: 1, TenantID: 1, Status: model.SubscriptionActive, EndDate: now.Add(-time.Minute)})
	store.PutPayment(model.Payment{ID: 1, TenantID: 1, Status: model.PaymentPending, CreatedAt: now.Add(-49 * time.Hour)})
	store.PutSession(model.Session{ID: 1, Status: model.SessionFrozen, IsFrozen: true, FrozenAt: &old})
	store.PutSession(model.Session{ID: 2, Status: model.SessionBanned, IsFrozen: true, FrozenAt: &old})
	store.PutGroup(model.Group{ID: 1, SessionID: 1, PlatformID: "1", IsActive: true, ActivityScore: 5})
	store.PutGroup(model.Group{ID: 2, SessionID: 1, PlatformID: "2", IsActive: true, ActivityScore: 9})

	svc := New(store, clock.System{}, Config{PriorityTopN: 1}, logx.Nop())
	ctx := context.Background()

	if err := svc.ExpireSubscriptions(ctx); err != nil {
		t.Fatalf("ExpireSubscriptions: %v", err)
	}
	if _, err := store.GetActiveSubscription(ctx, 1); err != storage.ErrNotFound {
		t.Fatalf("subscription still active: %v", err)
	}

	if err := svc.ExpirePayments(ctx); err != nil {
		t.Fatalf("ExpirePayments: %v", err)
	}

	if err := svc.ThawFrozenSessions(ctx); err != nil {
		t.Fatalf("ThawFrozenSessions: %v", err)
	}
	s1, _ := store.GetSession(ctx, 1)
	if s1.IsFrozen {
		t.Fatal("week-old freeze not cleared")
	}
	s2, _ := store.GetSession(ctx, 2)
	if !s2.IsFrozen {
		t.Fatal("banned session thawed")
	}

	if err := svc.RecomputePriorityGroups(ctx); err != nil {
		t.Fatalf("RecomputePriorityGroups: %v", err)
	}
	g2, _ := store.GetGroup(2)
	if !g2.IsPriority || g2.PriorityOrder != 1 {
		t.Fatalf("group 2 = %+v, want top priority", g2)
	}
	g1, _ := store.GetGroup(1)
	if g1.IsPriority {
		t.Fatal("group 1 should be demoted with top-1 cut")
	}

	if err := svc.RollupDailyStats(ctx); err != nil {
		t.Fatalf("RollupDailyStats: %v", err)
	}
}

func TestRegisterSpecs(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	svc := New(store, clock.System{}, Config{}, logx.Nop())
	cr := clock.NewCron(logx.Nop())
	if err := svc.Register(cr); err != nil {
		t.Fatalf("Register: %v", err)
	}
}
