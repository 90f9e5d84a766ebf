package biz

import "github.com/google/wire"

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewOrderableRegistry,
	NewOwnerUsecase,
	NewPlanRegistry,
	NewCouponRegistry,
	NewCouponUsecase,
	NewPreprocessorSet,
	NewOrderUsecase,
	NewSubscriptionUsecase,
	NewTabUsecase,
	NewSchedulerUsecase,
	NewWebhookUsecase,
)
