package platform

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"adcast/internal/model"
	logx "adcast/pkg/logx"
)

const (
	connectTimeout = 60 * time.Second
	sendTimeout    = 30 * time.Second
)

// RegistryConfig tunes the connected-client registry.
type RegistryConfig struct {
	// Retries is the connect retry count (default 2).
	Retries int
	// SendFloor caps each session's raw send rate regardless of engine
	// delays. Zero means the default of 1 msg/s; rate.Inf disables it.
	SendFloor rate.Limit
}

// Registry keeps the connected Client per session id. Lookups (every Connect
// call, ConnectedCount) outnumber writes (a new connection, Remove, Close), so
// access is guarded by a RWMutex.
//
// Every client is wrapped with a per-session rate floor so no code path can
// burst a session faster than the platform tolerates even if the engine's
// own delays are misconfigured.
type Registry struct {
	dialer Dialer
	log    logx.Logger
	cfg    RegistryConfig

	mu      sync.RWMutex
	clients map[int64]*guardedClient
}

func NewRegistry(dialer Dialer, cfg RegistryConfig, log logx.Logger) *Registry {
	if cfg.Retries <= 0 {
		cfg.Retries = 2
	}
	if cfg.SendFloor == 0 {
		cfg.SendFloor = rate.Limit(1)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{
		dialer:  dialer,
		log:     log,
		cfg:     cfg,
		clients: map[int64]*guardedClient{},
	}
}

// Get returns the connected client for the session, or false.
func (r *Registry) Get(sessionID int64) (Client, bool) {
	r.mu.RLock()
	c, ok := r.clients[sessionID]
	r.mu.RUnlock()
	if !ok || !c.IsConnected() {
		return nil, false
	}
	return c, true
}

// Connect dials and connects a client for the session if none is live yet.
// Connect failures are retried with a short backoff up to the configured
// retry count.
func (r *Registry) Connect(ctx context.Context, session model.Session) (Client, error) {
	if c, ok := r.Get(session.ID); ok {
		return c, nil
	}

	raw, err := r.dialer.Dial(ctx, session)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= r.cfg.Retries; attempt++ {
		cctx, cancel := context.WithTimeout(ctx, connectTimeout)
		err := raw.Connect(cctx)
		cancel()
		if err == nil {
			lastErr = nil
			break
		}
		lastErr = err
		r.log.Warn("session connect failed",
			logx.Int64("session", session.ID), logx.Int("attempt", attempt+1), logx.Err(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 250 * time.Millisecond):
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}

	g := &guardedClient{
		Client: raw,
		lim:    rate.NewLimiter(r.cfg.SendFloor, 1),
	}
	r.mu.Lock()
	r.clients[session.ID] = g
	r.mu.Unlock()
	r.log.Info("session connected", logx.Int64("session", session.ID), logx.String("name", session.Name))
	return g, nil
}

// Remove drops the session's client from the connected set and disconnects it.
func (r *Registry) Remove(sessionID int64) {
	r.mu.Lock()
	c, ok := r.clients[sessionID]
	delete(r.clients, sessionID)
	r.mu.Unlock()
	if ok {
		_ = c.Disconnect()
		r.log.Info("session disconnected", logx.Int64("session", sessionID))
	}
}

// Close disconnects everything. Used on daemon shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	clients := r.clients
	r.clients = map[int64]*guardedClient{}
	r.mu.Unlock()
	for _, c := range clients {
		_ = c.Disconnect()
	}
}

// ConnectedCount reports how many sessions currently hold a live client.
func (r *Registry) ConnectedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, c := range r.clients {
		if c.IsConnected() {
			n++
		}
	}
	return n
}

// guardedClient enforces the per-session rate floor and operation timeouts.
type guardedClient struct {
	Client
	lim *rate.Limiter
}

func (g *guardedClient) Send(ctx context.Context, platformGroupID, text string) (SendResult, error) {
	if err := g.lim.Wait(ctx); err != nil {
		return SendResult{}, err
	}
	sctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	return g.Client.Send(sctx, platformGroupID, text)
}

func (g *guardedClient) SyncGroups(ctx context.Context) ([]GroupSnapshot, error) {
	sctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	return g.Client.SyncGroups(sctx)
}
