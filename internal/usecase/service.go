package usecase

import (
	"element-indexer/internal/config"
	"element-indexer/internal/index"
	"element-indexer/internal/ports"
	"element-indexer/internal/resolve"
	"element-indexer/internal/usecase/adapters"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Service struct {
	Engine       adapters.EngineService
	Interactions adapters.InteractionService
	Driver       adapters.DriverService
}

type Params struct {
	fx.In

	Logger      *zap.Logger
	Config      *config.Config
	Driver      ports.Driver
	Builder     *index.Builder
	Holder      *index.Holder
	Cache       *resolve.Cache
	Resolver    *resolve.Resolver
	Diagnostics *resolve.Diagnostics
}

func NewUsecase(params Params) *Service {
	factory := newServiceFactory(params)
	engine := factory.CreateEngineService()

	return &Service{
		Engine:       engine,
		Interactions: engine,
		Driver:       factory.CreateDriverService(),
	}
}
