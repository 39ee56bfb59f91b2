package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"adcast/internal/model"
	"adcast/internal/platform"
)

// Memory is an in-process Store. It backs tests and ephemeral runs; the
// locking discipline mirrors the sqlite store's row-atomic writes.
type Memory struct {
	mu sync.RWMutex

	tenants       map[int64]model.Tenant
	sessions      map[int64]model.Session
	groups        map[int64]model.Group
	ads           map[int64]model.Ad
	posts         map[string]model.Post
	history       []model.PostHistory
	subscriptions map[int64]model.Subscription
	payments      map[int64]model.Payment
	stats         map[string]model.SystemStatistics

	nextGroupID   int64
	nextHistoryID int64
}

func NewMemory() *Memory {
	return &Memory{
		tenants:       map[int64]model.Tenant{},
		sessions:      map[int64]model.Session{},
		groups:        map[int64]model.Group{},
		ads:           map[int64]model.Ad{},
		posts:         map[string]model.Post{},
		subscriptions: map[int64]model.Subscription{},
		payments:      map[int64]model.Payment{},
		stats:         map[string]model.SystemStatistics{},
		nextGroupID:   1,
		nextHistoryID: 1,
	}
}

func (m *Memory) Close() error { return nil }

// ---- seeding (tests and bootstrap) ----

func (m *Memory) PutTenant(t model.Tenant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenants[t.ID] = t
}

func (m *Memory) PutSession(s model.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
}

func (m *Memory) PutGroup(g model.Group) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g.ID == 0 {
		g.ID = m.nextGroupID
	}
	if g.ID >= m.nextGroupID {
		m.nextGroupID = g.ID + 1
	}
	m.groups[g.ID] = g
}

func (m *Memory) PutAd(a model.Ad) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ads[a.ID] = a
}

func (m *Memory) PutSubscription(s model.Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions[s.ID] = s
}

func (m *Memory) PutPayment(p model.Payment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[p.ID] = p
}

// History returns a copy of all history rows (test inspection).
func (m *Memory) History() []model.PostHistory {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.PostHistory, len(m.history))
	copy(out, m.history)
	return out
}

// GetGroup returns a group row by id (test inspection).
func (m *Memory) GetGroup(id int64) (model.Group, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[id]
	return g, ok
}

// ---- tenants / subscriptions / payments ----

func (m *Memory) GetTenant(_ context.Context, id int64) (model.Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tenants[id]
	if !ok {
		return model.Tenant{}, ErrNotFound
	}
	return t, nil
}

func (m *Memory) GetActiveSubscription(_ context.Context, tenantID int64) (model.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best model.Subscription
	found := false
	for _, s := range m.subscriptions {
		if s.TenantID == tenantID && s.Status == model.SubscriptionActive {
			if !found || s.EndDate.After(best.EndDate) {
				best = s
				found = true
			}
		}
	}
	if !found {
		return model.Subscription{}, ErrNotFound
	}
	return best, nil
}

func (m *Memory) ExpireSubscriptions(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.subscriptions {
		if s.Status == model.SubscriptionActive && !s.EndDate.After(now) {
			s.Status = model.SubscriptionExpired
			m.subscriptions[id] = s
			n++
		}
	}
	return n, nil
}

func (m *Memory) ExpirePayments(_ context.Context, createdBefore time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, p := range m.payments {
		if p.Status == model.PaymentPending && !p.CreatedAt.After(createdBefore) {
			p.Status = model.PaymentExpired
			p.UpdatedAt = time.Now()
			m.payments[id] = p
			n++
		}
	}
	return n, nil
}

// ---- sessions ----

func (m *Memory) GetSession(_ context.Context, id int64) (model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return model.Session{}, ErrNotFound
	}
	return s, nil
}

func (m *Memory) ListSessionIDs(_ context.Context) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]int64, 0, len(m.sessions))
	for id := range m.sessions {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (m *Memory) ListSendableSessions(_ context.Context, tenantID int64) ([]model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Session
	for _, s := range m.sessions {
		if s.TenantID == tenantID && s.Usable() {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpdateSessionStatus(_ context.Context, id int64, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.Status = status
	m.sessions[id] = s
	return nil
}

func (m *Memory) FreezeSession(_ context.Context, id int64, at time.Time, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.Status = status
	s.IsFrozen = true
	s.FrozenAt = &at
	s.FreezeCount++
	m.sessions[id] = s
	return nil
}

func (m *Memory) ThawSessions(_ context.Context, frozenBefore time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.sessions {
		if s.IsFrozen && s.Status != model.SessionBanned &&
			s.FrozenAt != nil && !s.FrozenAt.After(frozenBefore) {
			s.IsFrozen = false
			s.FrozenAt = nil
			s.UnfreezeAt = nil
			m.sessions[id] = s
			n++
		}
	}
	return n, nil
}

func (m *Memory) UpdateSessionSync(_ context.Context, id int64, at time.Time, total, active int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.LastSyncAt = &at
	s.TotalGroups = total
	s.ActiveGroups = active
	m.sessions[id] = s
	return nil
}

// ---- groups ----

func (m *Memory) BatchAddGroups(_ context.Context, sessionID int64, snaps []platform.GroupSnapshot) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	added := 0
	for _, snap := range snaps {
		var existing *model.Group
		for id, g := range m.groups {
			if g.SessionID == sessionID && g.PlatformID == snap.PlatformID {
				gg := m.groups[id]
				existing = &gg
				break
			}
		}
		if existing != nil {
			existing.Title = snap.Title
			existing.Kind = snap.Kind
			existing.Username = snap.Username
			existing.MemberCount = snap.MemberCount
			m.groups[existing.ID] = *existing
			continue
		}
		g := model.Group{
			ID:          m.nextGroupID,
			SessionID:   sessionID,
			PlatformID:  snap.PlatformID,
			Title:       snap.Title,
			Kind:        snap.Kind,
			Username:    snap.Username,
			MemberCount: snap.MemberCount,
			IsActive:    true,
			CreatedAt:   time.Now(),
		}
		m.nextGroupID++
		m.groups[g.ID] = g
		added++
	}
	return added, nil
}

func (m *Memory) ListActiveGroups(_ context.Context, sessionID int64) ([]model.Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Group
	for _, g := range m.groups {
		if g.SessionID == sessionID && g.IsActive {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ListSessionGroupIDs(_ context.Context, sessionID int64) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []int64
	for _, g := range m.groups {
		if g.SessionID == sessionID {
			out = append(out, g.ID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (m *Memory) RestrictGroup(_ context.Context, id int64, reason string, until *time.Time, skip bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[id]
	if !ok {
		return ErrNotFound
	}
	g.HasRestrictions = true
	g.SkipReason = reason
	g.RestrictionUntil = until
	g.IsSkipped = skip
	m.groups[id] = g
	return nil
}

func (m *Memory) TouchGroupPosted(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[id]
	if !ok {
		return ErrNotFound
	}
	g.LastPostAt = &at
	m.groups[id] = g
	return nil
}

func (m *Memory) RecomputePriorityGroups(_ context.Context, sessionID int64, topN int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var active []model.Group
	for _, g := range m.groups {
		if g.SessionID != sessionID {
			continue
		}
		g.IsPriority = false
		g.PriorityOrder = 0
		m.groups[g.ID] = g
		if g.IsActive {
			active = append(active, g)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		if active[i].ActivityScore != active[j].ActivityScore {
			return active[i].ActivityScore > active[j].ActivityScore
		}
		return active[i].MemberCount > active[j].MemberCount
	})
	if topN > len(active) {
		topN = len(active)
	}
	for i := 0; i < topN; i++ {
		g := m.groups[active[i].ID]
		g.IsPriority = true
		g.PriorityOrder = i + 1
		m.groups[g.ID] = g
	}
	return nil
}

// ---- ads ----

func (m *Memory) GetAd(_ context.Context, id int64) (model.Ad, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.ads[id]
	if !ok {
		return model.Ad{}, ErrNotFound
	}
	return a, nil
}

func (m *Memory) ListDueScheduledAds(_ context.Context, now time.Time) ([]model.Ad, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Ad
	for _, a := range m.ads {
		if !a.IsScheduled || a.ScheduledFor == nil || a.ScheduledFor.After(now) {
			continue
		}
		if a.Status != model.AdActive && a.Status != model.AdPaused {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpdateAdStatus(_ context.Context, id int64, status, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.ads[id]
	if !ok {
		return ErrNotFound
	}
	a.Status = status
	a.LastError = lastError
	a.UpdatedAt = time.Now()
	m.ads[id] = a
	return nil
}

func (m *Memory) MarkAdScheduled(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.ads[id]
	if !ok {
		return ErrNotFound
	}
	a.LastScheduledAt = &at
	a.UpdatedAt = time.Now()
	m.ads[id] = a
	return nil
}

// ---- posts / history ----

func (m *Memory) CreatePost(_ context.Context, p model.Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	m.posts[p.ID] = p
	return nil
}

func (m *Memory) UpdatePostStatus(_ context.Context, id, status string, finishedAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok {
		return ErrNotFound
	}
	p.Status = status
	if finishedAt != nil {
		p.FinishedAt = finishedAt
	}
	m.posts[id] = p
	return nil
}

func (m *Memory) UpdatePostCounts(_ context.Context, id string, completed, failed, skipped int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok {
		return ErrNotFound
	}
	p.CompletedGroups = completed
	p.FailedGroups = failed
	p.SkippedGroups = skipped
	m.posts[id] = p
	return nil
}

func (m *Memory) GetPost(_ context.Context, id string) (model.Post, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.posts[id]
	if !ok {
		return model.Post{}, ErrNotFound
	}
	return p, nil
}

func (m *Memory) AddPostHistory(_ context.Context, h model.PostHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h.ID = m.nextHistoryID
	m.nextHistoryID++
	m.history = append(m.history, h)
	return nil
}

func (m *Memory) ListFailedGroupIDs(_ context.Context, postID string) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	last := map[int64]string{}
	for _, h := range m.history {
		if h.PostID == postID {
			last[h.GroupID] = h.Status
		}
	}
	var out []int64
	for id, status := range last {
		if status == model.DeliveryFailed {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// ---- statistics ----

func (m *Memory) UpsertDailyStats(_ context.Context, s model.SystemStatistics) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats[s.Date.Format("2006-01-02")] = s
	return nil
}

func (m *Memory) CollectDailyStats(_ context.Context, day time.Time) (model.SystemStatistics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := model.SystemStatistics{Date: day}
	st.TotalTenants = len(m.tenants)
	st.TotalSessions = len(m.sessions)
	for _, s := range m.sessions {
		if s.Status == model.SessionActive && !s.IsFrozen {
			st.ActiveSessions++
		}
	}
	st.TotalGroups = len(m.groups)
	st.TotalAds = len(m.ads)
	end := day.Add(24 * time.Hour)
	for _, h := range m.history {
		switch h.Status {
		case model.DeliverySent:
			if h.SentAt != nil && !h.SentAt.Before(day) && h.SentAt.Before(end) {
				st.PostsSent++
			}
		case model.DeliveryFailed:
			if h.FailedAt != nil && !h.FailedAt.Before(day) && h.FailedAt.Before(end) {
				st.PostsFailed++
			}
		}
	}
	for _, p := range m.payments {
		if p.Status == model.PaymentApproved && !p.UpdatedAt.Before(day) && p.UpdatedAt.Before(end) {
			st.Revenue += p.Amount
		}
	}
	return st, nil
}
