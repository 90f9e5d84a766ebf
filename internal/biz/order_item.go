package biz

import (
	"context"
	"fmt"
	"strings"
	"time"

	"xinyuan_tech/billing-engine/internal/errs"

	"github.com/shopspring/decimal"
)

// Ref is a polymorphic reference to an entity: a stable type tag plus an id.
// It replaces class-name based resolution with registry dispatch.
type Ref struct {
	Kind string
	ID   string
}

// IsZero reports whether the reference is unset.
func (r Ref) IsZero() bool { return r.Kind == "" && r.ID == "" }

func (r Ref) String() string { return r.Kind + ":" + r.ID }

// ParseRef parses a "kind:id" string back into a Ref.
func ParseRef(s string) Ref {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return Ref{}
	}
	return Ref{Kind: parts[0], ID: parts[1]}
}

// OrderItem is a single billable line: a unit price, a quantity and a tax
// rate, scheduled for processing at some instant. Items with a nil OrderID
// are unprocessed; linking to an order freezes them.
type OrderItem struct {
	ID        string
	Owner     Ref
	Orderable Ref // entity that produced this item; may be unset
	OrderID   *string

	Currency      string
	UnitPrice     int64 // minor units, negative for discounts and credits
	Quantity      int
	TaxPercentage decimal.Decimal

	Description           string
	DescriptionExtraLines []string

	ProcessAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Processed reports whether the item has been rolled into an order.
func (i *OrderItem) Processed() bool { return i.OrderID != nil }

// Subtotal is unit price times quantity.
func (i *OrderItem) Subtotal() Money {
	return NewMoney(i.UnitPrice*int64(i.Quantity), i.Currency)
}

// Tax is the subtotal times the tax rate, rounded half away from zero.
func (i *OrderItem) Tax() Money {
	return i.Subtotal().ApplyPercentage(i.TaxPercentage)
}

// Total is subtotal plus tax.
func (i *OrderItem) Total() Money {
	return NewMoney(i.Subtotal().Amount+i.Tax().Amount, i.Currency)
}

// AddDescriptionLine appends an extra human-readable description line.
func (i *OrderItem) AddDescriptionLine(line string) {
	i.DescriptionExtraLines = append(i.DescriptionExtraLines, line)
}

// ItemCollection is an ordered set of order items.
type ItemCollection []*OrderItem

// Currencies returns the distinct currencies in the collection, in order of
// first appearance.
func (c ItemCollection) Currencies() []string {
	seen := make(map[string]bool)
	var out []string
	for _, i := range c {
		if !seen[i.Currency] {
			seen[i.Currency] = true
			out = append(out, i.Currency)
		}
	}
	return out
}

// Owners returns the distinct owner references in the collection.
func (c ItemCollection) Owners() []Ref {
	seen := make(map[Ref]bool)
	var out []Ref
	for _, i := range c {
		if !seen[i.Owner] {
			seen[i.Owner] = true
			out = append(out, i.Owner)
		}
	}
	return out
}

// ownerCurrencyKey groups items billed together.
type ownerCurrencyKey struct {
	Owner    Ref
	Currency string
}

// GroupByOwnerAndCurrency splits the collection into per-owner-per-currency
// subcollections, the unit of order creation.
func (c ItemCollection) GroupByOwnerAndCurrency() map[ownerCurrencyKey]ItemCollection {
	groups := make(map[ownerCurrencyKey]ItemCollection)
	for _, i := range c {
		k := ownerCurrencyKey{Owner: i.Owner, Currency: i.Currency}
		groups[k] = append(groups[k], i)
	}
	return groups
}

// Validate checks the single-owner single-currency invariant required before
// the collection can become an order.
func (c ItemCollection) Validate() error {
	if len(c) == 0 {
		return errs.New(errs.ErrCodeOrderEmpty, errs.ReasonOrderEmpty,
			"cannot build an order from an empty item set")
	}
	if currencies := c.Currencies(); len(currencies) > 1 {
		return errs.New(errs.ErrCodeCurrencyMismatch, errs.ReasonCurrencyMismatch,
			"order items span multiple currencies: %s", strings.Join(currencies, ", "))
	}
	if owners := c.Owners(); len(owners) > 1 {
		return errs.New(errs.ErrCodeOwnerMismatch, errs.ReasonOwnerMismatch,
			"order items span multiple owners: %v", owners)
	}
	return nil
}

// Subtotal sums the item subtotals. Call Validate first; totals over a
// mixed-currency collection are meaningless.
func (c ItemCollection) Subtotal() int64 {
	var sum int64
	for _, i := range c {
		sum += i.Subtotal().Amount
	}
	return sum
}

// Tax sums the item tax amounts.
func (c ItemCollection) Tax() int64 {
	var sum int64
	for _, i := range c {
		sum += i.Tax().Amount
	}
	return sum
}

// Total sums the item totals.
func (c ItemCollection) Total() int64 {
	var sum int64
	for _, i := range c {
		sum += i.Total().Amount
	}
	return sum
}

// OrderItemRepo persists order items.
type OrderItemRepo interface {
	GetOrderItem(ctx context.Context, id string) (*OrderItem, error)
	SaveOrderItem(ctx context.Context, item *OrderItem) error
	SaveOrderItems(ctx context.Context, items ItemCollection) error
	DeleteOrderItem(ctx context.Context, id string) error
	// ListDueOrderItems returns unprocessed items with process_at <= now.
	ListDueOrderItems(ctx context.Context, now time.Time) (ItemCollection, error)
	// ListDueOrderItemsForOwner narrows the due set to one owner+currency;
	// the sweep re-reads under its lock through this.
	ListDueOrderItemsForOwner(ctx context.Context, owner Ref, currency string, now time.Time) (ItemCollection, error)
	ListOrderItemsByOrder(ctx context.Context, orderID string) (ItemCollection, error)
	ListOrderItemsByOrderable(ctx context.Context, orderable Ref) (ItemCollection, error)
}

// describeCyclePeriod renders the "from X to Y" annotation for a cycle item.
func describeCyclePeriod(from, to time.Time) string {
	return fmt.Sprintf("From %s to %s", from.Format("2006-01-02"), to.Format("2006-01-02"))
}
