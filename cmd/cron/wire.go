//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package main

import (
	"xinyuan_tech/billing-engine/internal/biz"
	"xinyuan_tech/billing-engine/internal/conf"
	"xinyuan_tech/billing-engine/internal/data"

	"github.com/google/wire"
)

// wireApp init cron application.
func wireApp(*conf.Bootstrap) (*CronApp, func(), error) {
	panic(wire.Build(
		newLogger,

		data.ProviderSet,
		biz.ProviderSet,

		wire.Struct(new(CronApp), "*"),
	))
}
