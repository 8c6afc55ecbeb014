package email

import (
	"bytes"
	"context"
	"fmt"
	"text/template"
	"time"

	"github.com/getconvive/convive/internal/telemetry"
)

// Service composes and sends billing lifecycle emails.
type Service struct {
	sender      Sender
	fromAddress string
	fromName    string
}

// NewService creates a new email service.
func NewService(sender Sender, fromAddress, fromName string) *Service {
	return &Service{
		sender:      sender,
		fromAddress: fromAddress,
		fromName:    fromName,
	}
}

// SubscriptionWelcomeData carries the fields for the welcome notice.
type SubscriptionWelcomeData struct {
	Name     string
	PlanName string
}

// PaymentFailedData carries the fields for the dunning notice.
type PaymentFailedData struct {
	Name      string
	PlanName  string
	FailedAt  time.Time
	PortalURL string
}

// SubscriptionCanceledData carries the fields for the cancellation notice.
type SubscriptionCanceledData struct {
	Name       string
	PlanName   string
	CanceledAt time.Time
}

var welcomeTmpl = template.Must(template.New("subscription_welcome").Parse(
	`Hi {{.Name}},

Your {{.PlanName}} membership is now active. Welcome aboard!

You can manage your plan and payment details any time from your account's
billing page.

- The Convive team
`))

var paymentFailedTmpl = template.Must(template.New("payment_failed").Parse(
	`Hi {{.Name}},

We couldn't collect the latest payment for your {{.PlanName}} membership
(attempted {{.FailedAt.Format "January 2, 2006"}}). We'll retry automatically,
but to avoid any interruption please check your payment method:

{{.PortalURL}}

- The Convive team
`))

var canceledTmpl = template.Must(template.New("subscription_canceled").Parse(
	`Hi {{.Name}},

Your {{.PlanName}} membership was canceled on {{.CanceledAt.Format "January 2, 2006"}}.
We're sorry to see you go - you can rejoin any time.

- The Convive team
`))

// SendSubscriptionWelcome sends the activation welcome notice.
func (s *Service) SendSubscriptionWelcome(ctx context.Context, to string, data SubscriptionWelcomeData) error {
	body, err := render(welcomeTmpl, data)
	if err != nil {
		return err
	}
	return s.send(ctx, "subscription_welcome", to, "Welcome to "+data.PlanName, body)
}

// SendPaymentFailedNotice sends the dunning notice after a failed payment.
func (s *Service) SendPaymentFailedNotice(ctx context.Context, to string, data PaymentFailedData) error {
	body, err := render(paymentFailedTmpl, data)
	if err != nil {
		return err
	}
	return s.send(ctx, "payment_failed", to, "Action needed: payment failed", body)
}

// SendSubscriptionCanceledNotice sends the cancellation notice.
func (s *Service) SendSubscriptionCanceledNotice(ctx context.Context, to string, data SubscriptionCanceledData) error {
	body, err := render(canceledTmpl, data)
	if err != nil {
		return err
	}
	return s.send(ctx, "subscription_canceled", to, "Your membership has been canceled", body)
}

func (s *Service) send(ctx context.Context, emailType, to, subject, body string) error {
	msg := &Email{
		To:       []string{to},
		From:     fmt.Sprintf("%s <%s>", s.fromName, s.fromAddress),
		Subject:  subject,
		TextBody: body,
	}
	if _, err := s.sender.Send(ctx, msg); err != nil {
		if telemetry.Billing != nil {
			telemetry.Billing.EmailFailed.WithLabelValues(emailType).Inc()
		}
		return fmt.Errorf("failed to send %q email: %w", subject, err)
	}
	if telemetry.Billing != nil {
		telemetry.Billing.EmailSent.WithLabelValues(emailType).Inc()
	}
	return nil
}

func render(tmpl *template.Template, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render email template: %w", err)
	}
	return buf.String(), nil
}
