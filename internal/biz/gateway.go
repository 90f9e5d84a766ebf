package biz

import (
	"context"
	"time"

	"xinyuan_tech/billing-engine/internal/constants"
)

// GatewayPayment mirrors a payment on the gateway side.
type GatewayPayment struct {
	ID          string
	Status      string
	CheckoutURL string
	MandateID   string
	Amount      Money
	Metadata    map[string]string
}

// Mandate is a gateway-side authorization permitting mandated charges.
type Mandate struct {
	ID     string
	Status string
	Method string
}

// Valid reports whether the mandate can be charged against.
func (m *Mandate) Valid() bool {
	return m != nil && (m.Status == constants.MandateStatusValid || m.Status == constants.MandateStatusPending)
}

// Refund mirrors a refund on the gateway side.
type Refund struct {
	ID        string
	PaymentID string
	Amount    Money
	Status    string
}

// CreatePaymentParams is the payload for a gateway payment creation.
type CreatePaymentParams struct {
	CustomerID  string
	MandateID   string
	Amount      Money
	Description string
	// Metadata carries idempotency data (order id and number) so a crashed
	// run can be reconciled against the gateway.
	Metadata map[string]string
	// RedirectURL for checkout-style first payments
	RedirectURL string
	WebhookURL  string
}

// Gateway is the payment gateway client contract (anti-corruption layer).
// The gateway's own API semantics are out of scope; this is the narrow
// surface the engine consumes.
type Gateway interface {
	CreatePayment(ctx context.Context, p CreatePaymentParams) (*GatewayPayment, error)
	GetPayment(ctx context.Context, id string) (*GatewayPayment, error)
	GetMandate(ctx context.Context, customerID, mandateID string) (*Mandate, error)
	GetMethodMinimumAmount(ctx context.Context, method, currency string) (Money, error)
	CreateRefund(ctx context.Context, paymentID string, amount Money, description string) (*Refund, error)
	UpdatePayment(ctx context.Context, p *GatewayPayment) (*GatewayPayment, error)
}

// Payment is the local mirror of a gateway payment, reconciled through
// webhook-driven status transitions.
type Payment struct {
	ID        string // gateway payment id
	OrderID   string
	Owner     Ref
	Amount    Money
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PaymentRepo persists local payment mirrors.
type PaymentRepo interface {
	SavePayment(ctx context.Context, p *Payment) error
	GetPayment(ctx context.Context, id string) (*Payment, error)
}

// BillingEvent is a history row recording a billing signal. The engine
// records events instead of dispatching in-process listeners; consumers read
// the table or tail the log.
type BillingEvent struct {
	ID             uint64
	Owner          Ref
	Kind           string
	OrderID        string
	SubscriptionID string
	Detail         string
	CreatedAt      time.Time
}

// EventRepo persists billing events.
type EventRepo interface {
	RecordEvent(ctx context.Context, ev *BillingEvent) error
	ListEvents(ctx context.Context, owner Ref, page, pageSize int) ([]*BillingEvent, int, error)
}

// Transaction runs fn inside one storage transaction; repo calls made with
// the inner context join it.
type Transaction interface {
	Exec(ctx context.Context, fn func(ctx context.Context) error) error
}
