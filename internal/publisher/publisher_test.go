package publisher

import (
	"context"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"adcast/internal/broadcast"
	"adcast/internal/clock"
	"adcast/internal/model"
	"adcast/internal/platform"
	"adcast/internal/storage"
	logx "adcast/pkg/logx"
)

type okClient struct{}

func (okClient) Connect(context.Context) error { return nil }
func (okClient) Disconnect() error             { return nil }
func (okClient) IsConnected() bool             { return true }
func (okClient) SyncGroups(context.Context) ([]platform.GroupSnapshot, error) {
	return nil, nil
}
func (okClient) Send(context.Context, string, string) (platform.SendResult, error) {
	return platform.SendResult{MessageID: "1"}, nil
}

func newEngine(t *testing.T, store *storage.Memory) *broadcast.Service {
	t.Helper()
	dialer := platform.DialerFunc(func(context.Context, model.Session) (platform.Client, error) {
		return okClient{}, nil
	})
	reg := platform.NewRegistry(dialer, platform.RegistryConfig{Retries: 1, SendFloor: rate.Inf}, logx.Nop())
	opts := broadcast.Options{
		MinGroupDelay: time.Millisecond, MaxGroupDelay: time.Millisecond,
		RoundPause: time.Second, RoundPauseJitter: time.Millisecond,
		PausePoll: 10 * time.Millisecond, StopPoll: 10 * time.Millisecond,
	}
	svc := broadcast.New(store, reg, clock.System{}, opts, logx.Nop())
	svc.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		svc.Stop(ctx)
	})
	return svc
}

func TestPublishDueStartsJobOnce(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	past := time.Now().Add(-time.Minute)
	store.PutTenant(model.Tenant{ID: 1})
	store.PutSession(model.Session{ID: 10, TenantID: 1, SessionString: "cred", Status: model.SessionActive})
	store.PutGroup(model.Group{ID: 100, SessionID: 10, PlatformID: "100", IsActive: true})
	store.PutAd(model.Ad{
		ID: 5, TenantID: 1, Content: "scheduled ad",
		Status: model.AdPaused, IsScheduled: true, ScheduledFor: &past,
	})

	engine := newEngine(t, store)
	pub := New(store, engine, clock.System{}, logx.Nop())

	ctx := context.Background()
	if err := pub.PublishDue(ctx); err != nil {
		t.Fatalf("PublishDue: %v", err)
	}
	if !engine.IsAdRunning(1, 5) {
		t.Fatal("job not started for due ad")
	}
	ad, _ := store.GetAd(ctx, 5)
	if ad.Status != model.AdActive {
		t.Fatalf("ad status = %s, want active", ad.Status)
	}
	if ad.LastScheduledAt == nil {
		t.Fatal("last scheduled time not stamped")
	}

	// A second scan while the job is alive must not start a duplicate or
	// flip the ad back to paused.
	if err := pub.PublishDue(ctx); err != nil {
		t.Fatalf("PublishDue (repeat): %v", err)
	}
	ad, _ = store.GetAd(ctx, 5)
	if ad.Status != model.AdActive {
		t.Fatalf("ad status after repeat = %s, want active", ad.Status)
	}
}

func TestPublishDuePausesAdOnFailure(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	past := time.Now().Add(-time.Minute)
	store.PutTenant(model.Tenant{ID: 1})
	// No sessions: StartPosting will fail with no usable session.
	store.PutAd(model.Ad{
		ID: 5, TenantID: 1, Content: "scheduled ad",
		Status: model.AdActive, IsScheduled: true, ScheduledFor: &past,
	})

	engine := newEngine(t, store)
	pub := New(store, engine, clock.System{}, logx.Nop())

	if err := pub.PublishDue(context.Background()); err != nil {
		t.Fatalf("PublishDue: %v", err)
	}
	ad, _ := store.GetAd(context.Background(), 5)
	if ad.Status != model.AdPaused {
		t.Fatalf("ad status = %s, want paused after failure", ad.Status)
	}
	if ad.LastError == "" {
		t.Fatal("last error not recorded")
	}
}
