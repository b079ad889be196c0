package notification

import (
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/a-h/templ"

	"github.com/dmitrymomot/competitorwatch/pkg/email"
)

// Template names.
const (
	TemplateTrialReminder    = "trial_reminder"
	TemplateTrialEnded       = "trial_ended"
	TemplatePaymentFailed    = "payment_failed"
	TemplatePaymentRecovered = "payment_recovered"
)

// Data keys understood by the templates.
const (
	DataName          = "name"
	DataDaysRemaining = "daysRemaining"
	DataAmountDue     = "amountDue"
	DataCurrency      = "currency"
	DataInvoiceURL    = "invoiceUrl"
	DataPlanName      = "planName"
)

type template struct {
	subject func(data map[string]any) string
	body    func(data map[string]any, appURL string) templ.Component
}

var templates = map[string]template{
	TemplateTrialReminder: {
		subject: func(data map[string]any) string {
			switch days := intValue(data, DataDaysRemaining); days {
			case 0:
				return "Your free trial ends today"
			case 1:
				return "Your free trial ends tomorrow"
			default:
				return fmt.Sprintf("Your free trial ends in %d days", days)
			}
		},
		body: trialReminderBody,
	},
	TemplateTrialEnded: {
		subject: func(map[string]any) string { return "Your free trial has ended" },
		body:    trialEndedBody,
	},
	TemplatePaymentFailed: {
		subject: func(map[string]any) string { return "We couldn't process your payment" },
		body:    paymentFailedBody,
	},
	TemplatePaymentRecovered: {
		subject: func(map[string]any) string { return "Your subscription is active again" },
		body:    paymentRecoveredBody,
	},
}

// IsKnownTemplate reports whether name has a registered template.
func IsKnownTemplate(name string) bool {
	_, ok := templates[name]
	return ok
}

// Render builds the email for msg. Links point into appURL.
func Render(ctx context.Context, msg *Message, appURL string) (email.SendEmailParams, error) {
	tpl, ok := templates[msg.Template]
	if !ok {
		return email.SendEmailParams{}, fmt.Errorf("%w: %q", ErrUnknownTemplate, msg.Template)
	}

	html, err := email.Render(ctx, tpl.body(msg.Data, strings.TrimRight(appURL, "/")))
	if err != nil {
		return email.SendEmailParams{}, fmt.Errorf("%w: %v", ErrRenderFailed, err)
	}

	return email.SendEmailParams{
		SendTo:   msg.Destination,
		Subject:  tpl.subject(msg.Data),
		BodyHTML: html,
		Tag:      msg.Template,
	}, nil
}

func trialReminderBody(data map[string]any, appURL string) templ.Component {
	days := intValue(data, DataDaysRemaining)
	left := "today"
	if days > 0 {
		left = "in " + strconv.Itoa(days) + " day" + plural(days)
	}
	return layout(
		paragraph("Hi "+name(data)+","),
		paragraph("Your free trial ends "+left+". Upgrade now to keep monitoring your competitors without interruption."),
		button("Choose a plan", appURL+"/pricing"),
	)
}

func trialEndedBody(data map[string]any, appURL string) templ.Component {
	return layout(
		paragraph("Hi "+name(data)+","),
		paragraph("Your free trial has ended and competitor monitoring is paused. Your competitors and alerts are saved."),
		paragraph("Pick a plan to resume tracking right where you left off."),
		button("Upgrade now", appURL+"/pricing"),
	)
}

func paymentFailedBody(data map[string]any, appURL string) templ.Component {
	amount := ""
	if cents := intValue(data, DataAmountDue); cents > 0 {
		amount = " of " + formatAmount(cents, stringValue(data, DataCurrency))
	}
	link := stringValue(data, DataInvoiceURL)
	if link == "" {
		link = appURL + "/settings/billing"
	}
	return layout(
		paragraph("Hi "+name(data)+","),
		paragraph("We couldn't process your latest payment"+amount+". Please update your payment method to keep your subscription active."),
		button("Update payment method", link),
	)
}

func paymentRecoveredBody(data map[string]any, appURL string) templ.Component {
	plan := stringValue(data, DataPlanName)
	if plan == "" {
		plan = "subscription"
	} else {
		plan += " plan"
	}
	return layout(
		paragraph("Hi "+name(data)+","),
		paragraph("Thanks, your payment went through and your "+plan+" is active again."),
		button("Open dashboard", appURL+"/dashboard"),
	)
}

func layout(children ...templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, `<!DOCTYPE html><html><body style="font-family:sans-serif;color:#111827">`); err != nil {
			return err
		}
		for _, c := range children {
			if err := c.Render(ctx, w); err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, `</body></html>`)
		return err
	})
}

func paragraph(text string) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		_, err := io.WriteString(w, "<p>"+templ.EscapeString(text)+"</p>")
		return err
	})
}

func button(label, href string) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		_, err := io.WriteString(w, `<p><a href="`+templ.EscapeString(href)+
			`" style="background:#2563eb;color:#fff;padding:10px 16px;border-radius:6px;text-decoration:none">`+
			templ.EscapeString(label)+`</a></p>`)
		return err
	})
}

func name(data map[string]any) string {
	if n := stringValue(data, DataName); n != "" {
		return n
	}
	return "there"
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

func formatAmount(cents int, currency string) string {
	value := strconv.FormatFloat(float64(cents)/100, 'f', 2, 64)
	if currency == "" {
		return value
	}
	return value + " " + strings.ToUpper(currency)
}

func stringValue(data map[string]any, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

// intValue reads numeric data that may have passed through JSON.
func intValue(data map[string]any, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(math.Round(v))
	case string:
		n, _ := strconv.Atoi(v)
		return n
	}
	return 0
}
