package biz

import (
	"context"
	"time"

	"xinyuan_tech/billing-engine/internal/errs"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/shopspring/decimal"
)

// Owner is the billable entity orders, items, subscriptions and credit
// belong to.
type Owner struct {
	ID                string
	GatewayCustomerID string
	// MandateID is the gateway-side authorization for mandated charges;
	// empty means no mandate.
	MandateID     string
	TaxPercentage decimal.Decimal
	// ExtraBillingInformation free-text block rendered on invoices
	ExtraBillingInformation string
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// Ref returns the owner's polymorphic reference.
func (o *Owner) Ref() Ref { return Ref{Kind: "owner", ID: o.ID} }

// HasMandate reports whether a mandate id is on file. Whether it is still
// valid is the gateway's call, see OrderUsecase.validMandate.
func (o *Owner) HasMandate() bool { return o.MandateID != "" }

// OwnerRepo persists owners.
type OwnerRepo interface {
	GetOwner(ctx context.Context, id string) (*Owner, error)
	SaveOwner(ctx context.Context, owner *Owner) error
	// ClearMandate removes the owner's mandate id.
	ClearMandate(ctx context.Context, id string) error
}

// OwnerUsecase manages billable owners and their balances.
type OwnerUsecase struct {
	ownerRepo  OwnerRepo
	creditRepo CreditRepo
	log        *log.Helper
}

// NewOwnerUsecase creates the owner usecase.
func NewOwnerUsecase(ownerRepo OwnerRepo, creditRepo CreditRepo, logger log.Logger) *OwnerUsecase {
	return &OwnerUsecase{
		ownerRepo:  ownerRepo,
		creditRepo: creditRepo,
		log:        log.NewHelper(logger),
	}
}

// UpsertOwner creates or updates an owner record.
func (uc *OwnerUsecase) UpsertOwner(ctx context.Context, owner *Owner) error {
	now := time.Now().UTC()
	existing, err := uc.ownerRepo.GetOwner(ctx, owner.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		owner.CreatedAt = now
	} else {
		owner.CreatedAt = existing.CreatedAt
	}
	owner.UpdatedAt = now
	if err := uc.ownerRepo.SaveOwner(ctx, owner); err != nil {
		return err
	}
	uc.log.Infof("Saved owner %s", owner.ID)
	return nil
}

// GetOwner loads an owner.
func (uc *OwnerUsecase) GetOwner(ctx context.Context, id string) (*Owner, error) {
	owner, err := uc.ownerRepo.GetOwner(ctx, id)
	if err != nil {
		return nil, err
	}
	if owner == nil {
		return nil, errs.New(errs.ErrCodeOwnerNotFound, errs.ReasonOwnerNotFound,
			"owner %s not found", id)
	}
	return owner, nil
}

// GetBalance returns the owner's credit balance in a currency; zero when no
// row exists yet.
func (uc *OwnerUsecase) GetBalance(ctx context.Context, owner Ref, currency string) (Money, error) {
	credit, err := uc.creditRepo.GetCredit(ctx, owner, currency)
	if err != nil {
		return Money{}, err
	}
	if credit == nil {
		return NewMoney(0, currency), nil
	}
	return NewMoney(credit.Value, currency), nil
}

// TopUpBalance adds spendable credit to the owner's balance.
func (uc *OwnerUsecase) TopUpBalance(ctx context.Context, owner Ref, amount Money) error {
	return uc.creditRepo.AddAmount(ctx, owner, amount.Currency, amount.Amount)
}
