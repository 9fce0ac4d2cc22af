package usecase

import (
	"element-indexer/internal/usecase/adapters"
)

type serviceFactory struct {
	deps Params
}

func newServiceFactory(deps Params) *serviceFactory {
	return &serviceFactory{
		deps: deps,
	}
}

func (f *serviceFactory) CreateEngineService() *EngineService {
	return NewEngineService(EngineServiceParams{
		Config:      f.deps.Config,
		Logger:      f.deps.Logger,
		Driver:      f.deps.Driver,
		Builder:     f.deps.Builder,
		Holder:      f.deps.Holder,
		Cache:       f.deps.Cache,
		Resolver:    f.deps.Resolver,
		Diagnostics: f.deps.Diagnostics,
	})
}

func (f *serviceFactory) CreateDriverService() adapters.DriverService {
	return f.deps.Driver
}
