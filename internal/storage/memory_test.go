package storage

import (
	"context"
	"testing"
	"time"

	"adcast/internal/model"
	"adcast/internal/platform"
)

func TestBatchAddGroupsIdempotent(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()
	snaps := []platform.GroupSnapshot{
		{PlatformID: "100", Title: "alpha", Kind: model.GroupKindGroup, MemberCount: 10},
		{PlatformID: "200", Title: "beta", Kind: model.GroupKindSupergroup, MemberCount: 20},
	}

	added, err := m.BatchAddGroups(ctx, 1, snaps)
	if err != nil {
		t.Fatalf("BatchAddGroups: %v", err)
	}
	if added != 2 {
		t.Fatalf("added = %d, want 2", added)
	}

	// Second run with the same platform ids must not duplicate.
	snaps[0].Title = "alpha renamed"
	added, err = m.BatchAddGroups(ctx, 1, snaps)
	if err != nil {
		t.Fatalf("BatchAddGroups (repeat): %v", err)
	}
	if added != 0 {
		t.Fatalf("added on repeat = %d, want 0", added)
	}
	groups, err := m.ListActiveGroups(ctx, 1)
	if err != nil {
		t.Fatalf("ListActiveGroups: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("groups = %d, want 2", len(groups))
	}
	if groups[0].Title != "alpha renamed" {
		t.Fatalf("title not refreshed: %q", groups[0].Title)
	}

	// Same platform id on another session is a distinct group.
	if _, err := m.BatchAddGroups(ctx, 2, snaps[:1]); err != nil {
		t.Fatalf("BatchAddGroups (other session): %v", err)
	}
	other, _ := m.ListActiveGroups(ctx, 2)
	if len(other) != 1 {
		t.Fatalf("session 2 groups = %d, want 1", len(other))
	}
}

func TestThawSessionsExcludesBanned(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()
	old := time.Now().Add(-8 * 24 * time.Hour)
	recent := time.Now().Add(-time.Hour)

	m.PutSession(model.Session{ID: 1, Status: model.SessionFrozen, IsFrozen: true, FrozenAt: &old})
	m.PutSession(model.Session{ID: 2, Status: model.SessionBanned, IsFrozen: true, FrozenAt: &old})
	m.PutSession(model.Session{ID: 3, Status: model.SessionFrozen, IsFrozen: true, FrozenAt: &recent})

	n, err := m.ThawSessions(ctx, time.Now().Add(-7*24*time.Hour))
	if err != nil {
		t.Fatalf("ThawSessions: %v", err)
	}
	if n != 1 {
		t.Fatalf("thawed = %d, want 1", n)
	}
	s1, _ := m.GetSession(ctx, 1)
	if s1.IsFrozen {
		t.Fatal("old frozen session not thawed")
	}
	s2, _ := m.GetSession(ctx, 2)
	if !s2.IsFrozen || s2.Status != model.SessionBanned {
		t.Fatal("banned session must stay frozen and banned")
	}
	s3, _ := m.GetSession(ctx, 3)
	if !s3.IsFrozen {
		t.Fatal("recent freeze must not thaw")
	}
}

func TestListFailedGroupIDsLastAttemptWins(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()
	now := time.Now()

	add := func(group int64, status string) {
		_ = m.AddPostHistory(ctx, model.PostHistory{
			PostID: "p1", GroupID: group, SessionID: 1, Status: status, SentAt: &now,
		})
	}
	add(1, model.DeliveryFailed)
	add(2, model.DeliveryFailed)
	add(2, model.DeliverySent) // retried and delivered
	add(3, model.DeliverySkipped)

	failed, err := m.ListFailedGroupIDs(ctx, "p1")
	if err != nil {
		t.Fatalf("ListFailedGroupIDs: %v", err)
	}
	if len(failed) != 1 || failed[0] != 1 {
		t.Fatalf("failed = %v, want [1]", failed)
	}
}

func TestExpireSubscriptionsAndPayments(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()
	now := time.Now()

	m.PutSubscription(model.Subscription{ID: 1, TenantID: 1, Status: model.SubscriptionActive, EndDate: now.Add(-time.Hour)})
	m.PutSubscription(model.Subscription{ID: 2, TenantID: 1, Status: model.SubscriptionActive, EndDate: now.Add(time.Hour)})
	m.PutPayment(model.Payment{ID: 1, TenantID: 1, Status: model.PaymentPending, CreatedAt: now.Add(-72 * time.Hour)})
	m.PutPayment(model.Payment{ID: 2, TenantID: 1, Status: model.PaymentPending, CreatedAt: now.Add(-time.Hour)})

	if n, _ := m.ExpireSubscriptions(ctx, now); n != 1 {
		t.Fatalf("expired subscriptions = %d, want 1", n)
	}
	if _, err := m.GetActiveSubscription(ctx, 1); err != nil {
		t.Fatalf("remaining active subscription should exist: %v", err)
	}
	if n, _ := m.ExpirePayments(ctx, now.Add(-48*time.Hour)); n != 1 {
		t.Fatalf("expired payments = %d, want 1", n)
	}
}

func TestRecomputePriorityGroups(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		m.PutGroup(model.Group{
			ID: i, SessionID: 1, PlatformID: "p", IsActive: true,
			ActivityScore: float64(i), MemberCount: int(i * 10),
		})
	}
	if err := m.RecomputePriorityGroups(ctx, 1, 2); err != nil {
		t.Fatalf("RecomputePriorityGroups: %v", err)
	}
	g5, _ := m.GetGroup(5)
	g4, _ := m.GetGroup(4)
	g3, _ := m.GetGroup(3)
	if !g5.IsPriority || g5.PriorityOrder != 1 {
		t.Fatalf("top group = %+v, want priority order 1", g5)
	}
	if !g4.IsPriority || g4.PriorityOrder != 2 {
		t.Fatalf("second group = %+v, want priority order 2", g4)
	}
	if g3.IsPriority {
		t.Fatal("third group must be demoted")
	}
}
