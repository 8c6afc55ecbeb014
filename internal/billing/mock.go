package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MockProvider is a mock billing provider for testing.
// Simulates successful processor flows without calling the Stripe API.
type MockProvider struct {
	// CreateCustomerFunc allows customizing customer creation behavior
	CreateCustomerFunc func(ctx context.Context, params CreateCustomerParams) (*Customer, error)

	// CreateCheckoutSessionFunc allows customizing checkout creation behavior
	CreateCheckoutSessionFunc func(ctx context.Context, params CreateCheckoutSessionParams) (*CheckoutSession, error)

	// GetSubscriptionFunc allows customizing subscription lookup behavior
	GetSubscriptionFunc func(ctx context.Context, subscriptionID string) (*Subscription, error)

	// CreatePortalSessionFunc allows customizing portal creation behavior
	CreatePortalSessionFunc func(ctx context.Context, params CreatePortalSessionParams) (*PortalSession, error)

	// VerifyWebhookSignatureFunc allows customizing webhook verification behavior
	VerifyWebhookSignatureFunc func(payload []byte, signature string, secret string) error

	// Customers stores created customers for retrieval
	Customers map[string]*Customer

	// Subscriptions stores subscriptions returned by GetSubscription
	Subscriptions map[string]*Subscription

	// CallLog tracks method calls for test assertions
	CallLog []string
}

// NewMockProvider creates a new mock billing provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Customers:     make(map[string]*Customer),
		Subscriptions: make(map[string]*Subscription),
		CallLog:       []string{},
	}
}

// CreateCustomer creates a mock customer.
func (m *MockProvider) CreateCustomer(ctx context.Context, params CreateCustomerParams) (*Customer, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("CreateCustomer(%s)", params.Email))

	if m.CreateCustomerFunc != nil {
		return m.CreateCustomerFunc(ctx, params)
	}

	customer := &Customer{
		ID:        "cus_" + uuid.New().String()[:8],
		Email:     params.Email,
		Name:      params.Name,
		Metadata:  params.Metadata,
		CreatedAt: time.Now(),
	}

	m.Customers[customer.ID] = customer
	return customer, nil
}

// GetCustomer retrieves a mock customer.
func (m *MockProvider) GetCustomer(ctx context.Context, customerID string) (*Customer, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("GetCustomer(%s)", customerID))

	customer, exists := m.Customers[customerID]
	if !exists {
		return nil, ErrCustomerNotFound
	}
	return customer, nil
}

// CreateCheckoutSession creates a mock checkout session.
func (m *MockProvider) CreateCheckoutSession(ctx context.Context, params CreateCheckoutSessionParams) (*CheckoutSession, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("CreateCheckoutSession(%s, %s)", params.CustomerID, params.PriceID))

	if m.CreateCheckoutSessionFunc != nil {
		return m.CreateCheckoutSessionFunc(ctx, params)
	}

	id := "cs_test_" + uuid.New().String()[:8]
	return &CheckoutSession{
		ID:         id,
		URL:        "https://checkout.stripe.com/c/pay/" + id,
		CustomerID: params.CustomerID,
		Metadata:   params.Metadata,
		CreatedAt:  time.Now(),
	}, nil
}

// GetSubscription retrieves a mock subscription.
func (m *MockProvider) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("GetSubscription(%s)", subscriptionID))

	if m.GetSubscriptionFunc != nil {
		return m.GetSubscriptionFunc(ctx, subscriptionID)
	}

	sub, exists := m.Subscriptions[subscriptionID]
	if !exists {
		return nil, ErrSubscriptionNotFound
	}
	return sub, nil
}

// CreatePortalSession creates a mock portal session.
func (m *MockProvider) CreatePortalSession(ctx context.Context, params CreatePortalSessionParams) (*PortalSession, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("CreatePortalSession(%s)", params.CustomerID))

	if m.CreatePortalSessionFunc != nil {
		return m.CreatePortalSessionFunc(ctx, params)
	}

	id := "bps_" + uuid.New().String()[:8]
	return &PortalSession{
		ID:        id,
		URL:       "https://billing.stripe.com/p/session/" + id,
		CreatedAt: time.Now(),
	}, nil
}

// VerifyWebhookSignature verifies a mock webhook signature.
func (m *MockProvider) VerifyWebhookSignature(payload []byte, signature string, secret string) error {
	m.CallLog = append(m.CallLog, "VerifyWebhookSignature")

	if m.VerifyWebhookSignatureFunc != nil {
		return m.VerifyWebhookSignatureFunc(payload, signature, secret)
	}

	return nil
}
