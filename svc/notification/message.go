package notification

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the delivery state of a queued message.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Message is one row of the notification queue.
type Message struct {
	ID           uuid.UUID      `json:"id"`
	TenantID     uuid.UUID      `json:"tenant_id"`
	Destination  string         `json:"destination"`
	Template     string         `json:"template"`
	Data         map[string]any `json:"data"`
	ScheduledFor time.Time      `json:"scheduled_for"`
	Status       Status         `json:"status"`
	Attempts     int            `json:"attempts"`
	LastError    string         `json:"last_error,omitempty"`
	LockedUntil  *time.Time     `json:"locked_until,omitempty"`
	SentAt       *time.Time     `json:"sent_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// DeadLetter is a message that exhausted its delivery attempts.
type DeadLetter struct {
	ID        uuid.UUID `json:"id"`
	Message   Message   `json:"message"`
	LastError string    `json:"last_error"`
	FailedAt  time.Time `json:"failed_at"`
}

// normalize fills defaults and validates a message before insert.
func (m *Message) normalize(now time.Time) error {
	if m.TenantID == uuid.Nil {
		return fmt.Errorf("%w: tenant id is required", ErrInvalidMessage)
	}
	if strings.TrimSpace(m.Destination) == "" {
		return fmt.Errorf("%w: destination is required", ErrInvalidMessage)
	}
	if !IsKnownTemplate(m.Template) {
		return fmt.Errorf("%w: %q", ErrUnknownTemplate, m.Template)
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.Data == nil {
		m.Data = map[string]any{}
	}
	if m.ScheduledFor.IsZero() {
		m.ScheduledFor = now
	}
	if m.Status == "" {
		m.Status = StatusPending
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	return nil
}

func (m Message) clone() *Message {
	data := make(map[string]any, len(m.Data))
	for k, v := range m.Data {
		data[k] = v
	}
	m.Data = data
	if m.LockedUntil != nil {
		t := *m.LockedUntil
		m.LockedUntil = &t
	}
	if m.SentAt != nil {
		t := *m.SentAt
		m.SentAt = &t
	}
	return &m
}
