package errs

import (
	kerrors "github.com/go-kratos/kratos/v2/errors"
)

// Error code format: SSMMEE (6 digits), where SS=14 identifies billing-engine.
// Module ranges:
//   01: plan / interval configuration
//   02: subscription lifecycle
//   03: order / order item processing
//   04: payment / mandate / gateway
//   05: coupon
//   06: owner / credit / tab

// Plan module (140100-140199)
const (
	// ErrCodePlanNotFound unknown plan name
	ErrCodePlanNotFound = 140101
	// ErrCodePlanInvalid plan configuration rejected at load time
	ErrCodePlanInvalid = 140102
)

// Subscription lifecycle module (140200-140299)
const (
	// ErrCodeSubscriptionNotFound subscription does not exist
	ErrCodeSubscriptionNotFound = 140201
	// ErrCodeItemAlreadyScheduled a scheduled order item already exists
	ErrCodeItemAlreadyScheduled = 140202
	// ErrCodeCannotResume subscription is not in its grace period
	ErrCodeCannotResume = 140203
	// ErrCodeInvalidQuantity quantity below 1
	ErrCodeInvalidQuantity = 140204
)

// Order module (140300-140399)
const (
	// ErrCodeOrderNotFound order does not exist
	ErrCodeOrderNotFound = 140301
	// ErrCodeOrderEmpty order built from an empty item set
	ErrCodeOrderEmpty = 140302
	// ErrCodeCurrencyMismatch mixed currencies in one operation
	ErrCodeCurrencyMismatch = 140303
	// ErrCodeOwnerMismatch mixed owners in one order
	ErrCodeOwnerMismatch = 140304
	// ErrCodeOrderableUnknown no orderable registered for a type tag
	ErrCodeOrderableUnknown = 140305
)

// Payment module (140400-140499)
const (
	// ErrCodeInvalidMandate owner has no valid payment mandate
	ErrCodeInvalidMandate = 140401
	// ErrCodeGatewayError payment gateway call failed
	ErrCodeGatewayError = 140402
)

// Coupon module (140500-140599)
const (
	// ErrCodeCouponNotFound unknown coupon name
	ErrCodeCouponNotFound = 140501
	// ErrCodeCouponAlreadyRedeemed coupon was already redeemed by this owner
	ErrCodeCouponAlreadyRedeemed = 140502
	// ErrCodeCouponExhausted redeemed coupon has no applications left
	ErrCodeCouponExhausted = 140503
)

// Owner module (140600-140699)
const (
	// ErrCodeOwnerNotFound owner does not exist
	ErrCodeOwnerNotFound = 140601
	// ErrCodeTabNotFound no open tab for the owner
	ErrCodeTabNotFound = 140602
)

// Reasons used for programmatic error matching.
const (
	ReasonPlanNotFound          = "PLAN_NOT_FOUND"
	ReasonPlanInvalid           = "PLAN_INVALID"
	ReasonSubscriptionNotFound  = "SUBSCRIPTION_NOT_FOUND"
	ReasonItemAlreadyScheduled  = "ITEM_ALREADY_SCHEDULED"
	ReasonCannotResume          = "CANNOT_RESUME"
	ReasonInvalidQuantity       = "INVALID_QUANTITY"
	ReasonOrderNotFound         = "ORDER_NOT_FOUND"
	ReasonOrderEmpty            = "ORDER_EMPTY"
	ReasonCurrencyMismatch      = "CURRENCY_MISMATCH"
	ReasonOwnerMismatch         = "OWNER_MISMATCH"
	ReasonOrderableUnknown      = "ORDERABLE_UNKNOWN"
	ReasonInvalidMandate        = "INVALID_MANDATE"
	ReasonGatewayError          = "GATEWAY_ERROR"
	ReasonCouponNotFound        = "COUPON_NOT_FOUND"
	ReasonCouponAlreadyRedeemed = "COUPON_ALREADY_REDEEMED"
	ReasonCouponExhausted       = "COUPON_EXHAUSTED"
	ReasonOwnerNotFound         = "OWNER_NOT_FOUND"
	ReasonTabNotFound           = "TAB_NOT_FOUND"
)

// New creates a coded billing error.
func New(code int, reason, format string, args ...interface{}) *kerrors.Error {
	return kerrors.Newf(code, reason, format, args...)
}

// Is reports whether err carries the given reason.
func Is(err error, reason string) bool {
	return kerrors.Reason(err) == reason
}
