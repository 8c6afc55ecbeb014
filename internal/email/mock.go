package email

import (
	"context"
	"fmt"
)

// MockSender is an in-memory Sender for tests.
type MockSender struct {
	// SendFunc allows customizing send behavior
	SendFunc func(ctx context.Context, email *Email) (string, error)

	// Sent collects every delivered message
	Sent []*Email
}

// NewMockSender creates a mock sender.
func NewMockSender() *MockSender {
	return &MockSender{}
}

// Send records the message and returns a fake id.
func (m *MockSender) Send(ctx context.Context, email *Email) (string, error) {
	if m.SendFunc != nil {
		return m.SendFunc(ctx, email)
	}
	m.Sent = append(m.Sent, email)
	return fmt.Sprintf("mock-%d", len(m.Sent)), nil
}
