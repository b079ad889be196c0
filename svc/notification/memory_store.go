package notification

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store for tests and local runs.
// It keeps insertion order so claims and status lists are deterministic.
type MemoryStore struct {
	mu      sync.Mutex
	order   []uuid.UUID
	msgs    map[uuid.UUID]*Message
	letters []DeadLetter
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{msgs: make(map[uuid.UUID]*Message)}
}

func (s *MemoryStore) Insert(_ context.Context, msgs ...*Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range msgs {
		if _, exists := s.msgs[m.ID]; exists {
			return fmt.Errorf("%w: duplicate id %s", ErrInvalidMessage, m.ID)
		}
	}
	for _, m := range msgs {
		s.msgs[m.ID] = m.clone()
		s.order = append(s.order, m.ID)
	}
	return nil
}

func (s *MemoryStore) Statuses(_ context.Context, tenantID uuid.UUID, template string) ([]Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Status
	for _, id := range s.order {
		m := s.msgs[id]
		if m.TenantID == tenantID && m.Template == template {
			out = append(out, m.Status)
		}
	}
	return out, nil
}

func (s *MemoryStore) ClaimDue(_ context.Context, now time.Time, limit int, lockFor time.Duration) ([]*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*Message
	for _, id := range s.order {
		m := s.msgs[id]
		if m.Status != StatusPending || m.ScheduledFor.After(now) {
			continue
		}
		if m.LockedUntil != nil && m.LockedUntil.After(now) {
			continue
		}
		due = append(due, m)
	}
	slices.SortStableFunc(due, func(a, b *Message) int { return a.ScheduledFor.Compare(b.ScheduledFor) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	until := now.Add(lockFor)
	out := make([]*Message, 0, len(due))
	for _, m := range due {
		m.LockedUntil = &until
		m.UpdatedAt = now
		out = append(out, m.clone())
	}
	return out, nil
}

func (s *MemoryStore) MarkSent(_ context.Context, id uuid.UUID, at time.Time) error {
	return s.update(id, func(m *Message) {
		m.Status = StatusSent
		m.SentAt = &at
		m.LockedUntil = nil
		m.UpdatedAt = at
	})
}

func (s *MemoryStore) MarkRetry(_ context.Context, id uuid.UUID, lastErr string, next time.Time) error {
	return s.update(id, func(m *Message) {
		m.Attempts++
		m.LastError = lastErr
		m.ScheduledFor = next
		m.LockedUntil = nil
		m.UpdatedAt = time.Now().UTC()
	})
}

func (s *MemoryStore) MarkDead(_ context.Context, id uuid.UUID, lastErr string, at time.Time) error {
	return s.update(id, func(m *Message) {
		m.Attempts++
		m.LastError = lastErr
		m.Status = StatusFailed
		m.LockedUntil = nil
		m.UpdatedAt = at
		s.letters = append(s.letters, DeadLetter{
			ID:        uuid.New(),
			Message:   *m.clone(),
			LastError: lastErr,
			FailedAt:  at,
		})
	})
}

func (s *MemoryStore) DiscardPending(_ context.Context, tenantID uuid.UUID, template string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	kept := s.order[:0]
	for _, id := range s.order {
		m := s.msgs[id]
		if m.TenantID == tenantID && m.Template == template && m.Status == StatusPending {
			delete(s.msgs, id)
			n++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return n, nil
}

// Messages returns copies of all rows in insertion order.
func (s *MemoryStore) Messages() []*Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Message, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.msgs[id].clone())
	}
	return out
}

// DeadLetters returns the dead-letter rows.
func (s *MemoryStore) DeadLetters() []DeadLetter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]DeadLetter(nil), s.letters...)
}

func (s *MemoryStore) update(id uuid.UUID, fn func(*Message)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.msgs[id]
	if !ok {
		return ErrMessageNotFound
	}
	fn(m)
	return nil
}
