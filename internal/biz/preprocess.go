package biz

import (
	"context"

	"xinyuan_tech/billing-engine/internal/constants"
	"xinyuan_tech/billing-engine/internal/errs"
)

// Preprocessor transforms an item set before it becomes an order. Each stage
// receives the output of the previous one and may grow the set.
type Preprocessor interface {
	Handle(ctx context.Context, items ItemCollection) (ItemCollection, error)
}

// CouponPreprocessor folds the active redeemed coupons of every item's
// orderable into the set. Coupons apply as a left fold: each coupon sees the
// set as discounted by the coupons before it.
type CouponPreprocessor struct {
	coupons *CouponUsecase
}

// Handle implements Preprocessor.
func (p *CouponPreprocessor) Handle(ctx context.Context, items ItemCollection) (ItemCollection, error) {
	var out ItemCollection
	for _, item := range items {
		if item.Orderable.IsZero() {
			out = append(out, item)
			continue
		}
		redemptions, err := p.coupons.ActiveRedemptionsFor(ctx, item.Orderable)
		if err != nil {
			return nil, err
		}
		cur := ItemCollection{item}
		for _, rc := range redemptions {
			if cur, err = p.coupons.ApplyTo(ctx, rc, cur); err != nil {
				return nil, err
			}
		}
		out = append(out, cur...)
	}
	return out, nil
}

// PersistPreprocessor saves every item in the set.
type PersistPreprocessor struct {
	items OrderItemRepo
}

// Handle implements Preprocessor.
func (p *PersistPreprocessor) Handle(ctx context.Context, items ItemCollection) (ItemCollection, error) {
	if err := p.items.SaveOrderItems(ctx, items); err != nil {
		return nil, err
	}
	return items, nil
}

// PreprocessorSet resolves preprocessor names, as configured per plan, to the
// built-in stages.
type PreprocessorSet struct {
	stages map[string]Preprocessor
}

// NewPreprocessorSet wires the built-in preprocessors.
func NewPreprocessorSet(coupons *CouponUsecase, items OrderItemRepo) *PreprocessorSet {
	return &PreprocessorSet{stages: map[string]Preprocessor{
		constants.PreprocessorCoupon:  &CouponPreprocessor{coupons: coupons},
		constants.PreprocessorPersist: &PersistPreprocessor{items: items},
	}}
}

// Run applies the named stages in order, each stage feeding the next.
func (s *PreprocessorSet) Run(ctx context.Context, names []string, items ItemCollection) (ItemCollection, error) {
	var err error
	for _, name := range names {
		stage, ok := s.stages[name]
		if !ok {
			return nil, errs.New(errs.ErrCodePlanInvalid, errs.ReasonPlanInvalid,
				"unknown preprocessor %q", name)
		}
		if items, err = stage.Handle(ctx, items); err != nil {
			return nil, err
		}
	}
	return items, nil
}
