package constants

import "time"

// Pagination
const (
	// DefaultPageSize default page size
	DefaultPageSize = 10
	// MaxPageSize maximum page size
	MaxPageSize = 100
)

// Distributed locks
const (
	// ChargeLockExpiration charge sweep lock expiry per owner/currency group
	ChargeLockExpiration = 10 * time.Minute
	// ChargeLockRetries lock acquisition attempts; one try only, a busy lock
	// means another worker is processing the group
	ChargeLockRetries = 1
	// WebhookLockExpiration payment webhook lock expiry
	WebhookLockExpiration = 2 * time.Minute
)

// Gateway payment statuses (aligned with the gateway contract)
const (
	PaymentStatusOpen     = "open"
	PaymentStatusPaid     = "paid"
	PaymentStatusFailed   = "failed"
	PaymentStatusCanceled = "canceled"
	PaymentStatusExpired  = "expired"
	// PaymentStatusSettled no gateway payment was needed: the order was
	// covered by credit or recorded as a balance debit
	PaymentStatusSettled = "settled"
)

// Mandate statuses
const (
	MandateStatusValid   = "valid"
	MandateStatusPending = "pending"
	MandateStatusInvalid = "invalid"
)

// Billing event kinds
const (
	EventOrderCreated            = "order_created"
	EventOrderProcessed          = "order_processed"
	EventOrderPaymentPaid        = "order_payment_paid"
	EventOrderPaymentFailed      = "order_payment_failed"
	EventBalanceTurnedStale      = "balance_turned_stale"
	EventMandateCleared          = "mandate_cleared"
	EventSubscriptionStarted     = "subscription_started"
	EventSubscriptionCancelled   = "subscription_cancelled"
	EventSubscriptionResumed     = "subscription_resumed"
	EventSubscriptionPlanSwapped = "subscription_plan_swapped"
	EventTabClosed               = "tab_closed"
)

// Subscription cancellation reasons
const (
	CancellationReasonRequested     = "requested"
	CancellationReasonPaymentFailed = "payment_failed"
)

// Orderable type tags
const (
	OrderableSubscription  = "subscription"
	OrderableAppliedCoupon = "applied_coupon"
	OrderableTab           = "tab"
)

// Preprocessor names
const (
	PreprocessorCoupon  = "coupon"
	PreprocessorPersist = "persist"
)

// Coupon handler names
const (
	CouponHandlerFixed      = "fixed_discount"
	CouponHandlerPercentage = "percentage_discount"
)

// First payment action kinds, executed once the mandate-establishing first
// payment confirms
const (
	FirstActionStartSubscription = "start_subscription"
	FirstActionCharge            = "charge"
	FirstActionTopUpBalance      = "top_up_balance"
)

// Tab statuses
const (
	TabStatusOpen   = "open"
	TabStatusClosed = "closed"
)

// TabItemHorizon is the process_at sentinel for open tab items; closing the
// tab rewrites it to the close time so the next sweep picks the items up.
var TabItemHorizon = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
