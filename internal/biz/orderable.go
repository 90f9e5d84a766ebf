package biz

import (
	"context"
	"fmt"

	"xinyuan_tech/billing-engine/internal/errs"
)

// Orderable is the capability of an entity that originates order items: a
// subscription cycle, an applied coupon, a tab. Hooks fire as the item moves
// through the billing pipeline.
type Orderable interface {
	// PreprocessOrderItem expands a freshly due item into the final set of
	// items to bill (for subscriptions this runs the plan's preprocessor
	// chain, which may append discount items).
	PreprocessOrderItem(ctx context.Context, item *OrderItem) (ItemCollection, error)
	// ProcessOrderItem fires when the item is rolled into an order.
	ProcessOrderItem(ctx context.Context, item *OrderItem) error
	// HandlePaymentPaid fires when the order's payment is confirmed.
	HandlePaymentPaid(ctx context.Context, item *OrderItem) error
	// HandlePaymentFailed fires when the order's payment fails.
	HandlePaymentFailed(ctx context.Context, item *OrderItem) error
}

// OrderableResolver loads the Orderable behind a reference id.
type OrderableResolver func(ctx context.Context, id string) (Orderable, error)

// OrderableRegistry dispatches polymorphic orderable references by type tag.
// Resolvers are registered at startup; registering the same tag twice is a
// wiring bug and panics.
type OrderableRegistry struct {
	resolvers map[string]OrderableResolver
}

// NewOrderableRegistry creates an empty registry.
func NewOrderableRegistry() *OrderableRegistry {
	return &OrderableRegistry{resolvers: make(map[string]OrderableResolver)}
}

// Register binds a type tag to a resolver.
func (r *OrderableRegistry) Register(kind string, resolver OrderableResolver) {
	if _, ok := r.resolvers[kind]; ok {
		panic(fmt.Sprintf("orderable kind %q registered twice", kind))
	}
	r.resolvers[kind] = resolver
}

// Resolve loads the orderable behind ref. An unset ref resolves to nil
// without error: plain charges have no originating entity.
func (r *OrderableRegistry) Resolve(ctx context.Context, ref Ref) (Orderable, error) {
	if ref.IsZero() {
		return nil, nil
	}
	resolver, ok := r.resolvers[ref.Kind]
	if !ok {
		return nil, errs.New(errs.ErrCodeOrderableUnknown, errs.ReasonOrderableUnknown,
			"no orderable registered for kind %q", ref.Kind)
	}
	return resolver(ctx, ref.ID)
}
