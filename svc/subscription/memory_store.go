package subscription

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store for tests and local runs.
type MemoryStore struct {
	mu       sync.RWMutex
	subs     map[uuid.UUID]*Subscription
	payments map[string]*Payment
	seq      int64
	order    map[uuid.UUID]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subs:     make(map[uuid.UUID]*Subscription),
		payments: make(map[string]*Payment),
		order:    make(map[uuid.UUID]int64),
	}
}

func (s *MemoryStore) Current(_ context.Context, tenantID uuid.UUID) (*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var current *Subscription
	for _, sub := range s.subs {
		if sub.TenantID != tenantID {
			continue
		}
		if current == nil || s.newer(sub, current) {
			current = sub
		}
	}
	if current == nil {
		return nil, ErrSubscriptionNotFound
	}
	return current.clone(), nil
}

// newer orders by CreatedAt, then by insertion for equal timestamps.
func (s *MemoryStore) newer(a, b *Subscription) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return s.order[a.ID] > s.order[b.ID]
}

func (s *MemoryStore) GetByExternalID(_ context.Context, externalID string) (*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sub := s.byExternalID(externalID); sub != nil {
		return sub.clone(), nil
	}
	return nil, ErrSubscriptionNotFound
}

func (s *MemoryStore) Upsert(_ context.Context, sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing := s.byExternalID(sub.ExternalID); existing != nil {
		sub.ID = existing.ID
		sub.TenantID = existing.TenantID
		sub.CreatedAt = existing.CreatedAt
		s.subs[sub.ID] = sub.clone()
		return nil
	}

	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	s.seq++
	s.order[sub.ID] = s.seq
	s.subs[sub.ID] = sub.clone()
	return nil
}

func (s *MemoryStore) Update(_ context.Context, sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.subs[sub.ID]
	if !ok {
		return ErrSubscriptionNotFound
	}
	sub.CreatedAt = existing.CreatedAt
	s.subs[sub.ID] = sub.clone()
	return nil
}

func (s *MemoryStore) DeleteLocalTrials(_ context.Context, tenantID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, sub := range s.subs {
		if sub.TenantID == tenantID && sub.IsLocalTrial() {
			delete(s.subs, id)
			delete(s.order, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ListExpiredTrials(_ context.Context, now time.Time) ([]*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Subscription
	for _, sub := range s.subs {
		if sub.Status == StatusTrialing && sub.IsLocalTrial() && sub.PeriodEnd.Before(now) {
			out = append(out, sub.clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) ExpireTrial(_ context.Context, id uuid.UUID, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok {
		return false, ErrSubscriptionNotFound
	}
	if sub.Status != StatusTrialing {
		return false, nil
	}
	sub.Status = StatusExpired
	sub.UpdatedAt = now
	return true, nil
}

func (s *MemoryStore) UpsertPayment(_ context.Context, p *Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.payments[p.ExternalPaymentID]; ok {
		p.ID = existing.ID
		p.CreatedAt = existing.CreatedAt
	} else if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	c := *p
	s.payments[p.ExternalPaymentID] = &c
	return nil
}

// Payment returns the stored payment with the given processor id.
func (s *MemoryStore) Payment(externalID string) (*Payment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payments[externalID]
	if !ok {
		return nil, false
	}
	c := *p
	return &c, true
}

// All returns every stored subscription of tenantID.
func (s *MemoryStore) All(tenantID uuid.UUID) []*Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Subscription
	for _, sub := range s.subs {
		if sub.TenantID == tenantID {
			out = append(out, sub.clone())
		}
	}
	return out
}

func (s *MemoryStore) byExternalID(externalID string) *Subscription {
	for _, sub := range s.subs {
		if sub.ExternalID == externalID {
			return sub
		}
	}
	return nil
}
