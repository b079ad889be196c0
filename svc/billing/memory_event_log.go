package billing

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryEventLog is an in-process EventLog.
type MemoryEventLog struct {
	mu    sync.Mutex
	byID  map[uuid.UUID]*EventRecord
	byKey map[string]uuid.UUID
}

func NewMemoryEventLog() *MemoryEventLog {
	return &MemoryEventLog{
		byID:  make(map[uuid.UUID]*EventRecord),
		byKey: make(map[string]uuid.UUID),
	}
}

func (l *MemoryEventLog) Record(_ context.Context, rec *EventRecord) (*EventRecord, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := rec.Source + "\x00" + rec.ExternalEventID
	if id, ok := l.byKey[key]; ok {
		stored := *l.byID[id]
		return &stored, false, nil
	}

	stored := *rec
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	l.byID[stored.ID] = &stored
	l.byKey[key] = stored.ID

	out := stored
	return &out, true, nil
}

func (l *MemoryEventLog) Get(_ context.Context, source, externalEventID string) (*EventRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.byKey[source+"\x00"+externalEventID]
	if !ok {
		return nil, ErrEventNotFound
	}
	out := *l.byID[id]
	return &out, nil
}

func (l *MemoryEventLog) MarkProcessed(_ context.Context, id uuid.UUID, at time.Time) error {
	return l.update(id, func(r *EventRecord) {
		r.Processed = true
		r.ProcessedAt = &at
		r.Error = ""
	})
}

func (l *MemoryEventLog) MarkFailed(_ context.Context, id uuid.UUID, reason string, at time.Time) error {
	return l.update(id, func(r *EventRecord) {
		r.ProcessedAt = &at
		r.Error = reason
	})
}

func (l *MemoryEventLog) update(id uuid.UUID, fn func(*EventRecord)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.byID[id]
	if !ok {
		return ErrEventNotFound
	}
	fn(r)
	return nil
}
