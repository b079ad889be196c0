package notification_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/competitorwatch/svc/notification"
)

func TestRender(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tests := []struct {
		name        string
		template    string
		data        map[string]any
		subject     string
		contains    []string
		notContains []string
	}{
		{
			name:     "trial reminder counts days",
			template: notification.TemplateTrialReminder,
			data:     map[string]any{"name": "Ann", "daysRemaining": float64(3)},
			subject:  "Your free trial ends in 3 days",
			contains: []string{"Hi Ann,", "ends in 3 days", "https://app.test/pricing"},
		},
		{
			name:     "trial reminder last day",
			template: notification.TemplateTrialReminder,
			data:     map[string]any{"daysRemaining": 0},
			subject:  "Your free trial ends today",
			contains: []string{"Hi there,", "ends today"},
		},
		{
			name:        "trial ended",
			template:    notification.TemplateTrialEnded,
			data:        map[string]any{"name": "<b>Ann</b>"},
			subject:     "Your free trial has ended",
			contains:    []string{"&lt;b&gt;Ann&lt;/b&gt;", "Upgrade now"},
			notContains: []string{"<b>Ann</b>"},
		},
		{
			name:     "payment failed with invoice",
			template: notification.TemplatePaymentFailed,
			data:     map[string]any{"amountDue": float64(2900), "currency": "usd", "invoiceUrl": "https://pay.test/inv_1"},
			subject:  "We couldn't process your payment",
			contains: []string{"29.00 USD", "https://pay.test/inv_1"},
		},
		{
			name:     "payment recovered",
			template: notification.TemplatePaymentRecovered,
			data:     map[string]any{"planName": "Professional"},
			subject:  "Your subscription is active again",
			contains: []string{"Professional plan is active again"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			msg := &notification.Message{
				ID:          uuid.New(),
				TenantID:    uuid.New(),
				Destination: "owner@acme.test",
				Template:    tt.template,
				Data:        tt.data,
			}
			params, err := notification.Render(ctx, msg, "https://app.test/")
			require.NoError(t, err)
			assert.Equal(t, tt.subject, params.Subject)
			assert.Equal(t, "owner@acme.test", params.SendTo)
			assert.Equal(t, tt.template, params.Tag)
			for _, s := range tt.contains {
				assert.Contains(t, params.BodyHTML, s)
			}
			for _, s := range tt.notContains {
				assert.NotContains(t, params.BodyHTML, s)
			}
		})
	}

	t.Run("unknown template", func(t *testing.T) {
		t.Parallel()
		_, err := notification.Render(ctx, &notification.Message{Template: "welcome"}, "")
		assert.ErrorIs(t, err, notification.ErrUnknownTemplate)
	})
}
