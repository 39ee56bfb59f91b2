package platform

import (
	"context"
	"errors"
	"sync"
	"testing"

	"golang.org/x/time/rate"

	"adcast/internal/model"
	logx "adcast/pkg/logx"
)

type stubClient struct {
	mu          sync.Mutex
	connected   bool
	failsBefore int // Connect fails this many times before succeeding
	attempts    int
}

func (c *stubClient) Connect(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts++
	if c.attempts <= c.failsBefore {
		return errors.New("dial refused")
	}
	c.connected = true
	return nil
}

func (c *stubClient) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	return nil
}

func (c *stubClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *stubClient) SyncGroups(context.Context) ([]GroupSnapshot, error) { return nil, nil }

func (c *stubClient) Send(context.Context, string, string) (SendResult, error) {
	return SendResult{}, nil
}

func newTestRegistry(c Client) *Registry {
	dialer := DialerFunc(func(context.Context, model.Session) (Client, error) { return c, nil })
	return NewRegistry(dialer, RegistryConfig{Retries: 2, SendFloor: rate.Inf}, logx.Nop())
}

func TestRegistryConnectAndGet(t *testing.T) {
	t.Parallel()
	stub := &stubClient{}
	r := newTestRegistry(stub)
	sess := model.Session{ID: 1, SessionString: "cred", Status: model.SessionActive}

	if _, ok := r.Get(1); ok {
		t.Fatal("Get before Connect should miss")
	}
	c, err := r.Connect(context.Background(), sess)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !c.IsConnected() {
		t.Fatal("client not connected")
	}
	if _, ok := r.Get(1); !ok {
		t.Fatal("Get after Connect should hit")
	}
	if r.ConnectedCount() != 1 {
		t.Fatalf("connected count = %d, want 1", r.ConnectedCount())
	}

	// Connect is idempotent: the live client is reused.
	if _, err := r.Connect(context.Background(), sess); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	if stub.attempts != 1 {
		t.Fatalf("connect attempts = %d, want 1", stub.attempts)
	}
}

func TestRegistryConnectRetries(t *testing.T) {
	t.Parallel()
	stub := &stubClient{failsBefore: 2}
	r := newTestRegistry(stub)
	sess := model.Session{ID: 1, SessionString: "cred", Status: model.SessionActive}

	if _, err := r.Connect(context.Background(), sess); err != nil {
		t.Fatalf("Connect should succeed within retry budget: %v", err)
	}
	if stub.attempts != 3 {
		t.Fatalf("attempts = %d, want 3", stub.attempts)
	}
}

func TestRegistryRemove(t *testing.T) {
	t.Parallel()
	stub := &stubClient{}
	r := newTestRegistry(stub)
	sess := model.Session{ID: 1, SessionString: "cred", Status: model.SessionActive}

	if _, err := r.Connect(context.Background(), sess); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	r.Remove(1)
	if _, ok := r.Get(1); ok {
		t.Fatal("client still registered after Remove")
	}
	if stub.IsConnected() {
		t.Fatal("client not disconnected by Remove")
	}
}
