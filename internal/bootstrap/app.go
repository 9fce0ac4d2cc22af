package bootstrap

import (
	"time"

	"element-indexer/internal/browser"
	"element-indexer/internal/config"
	"element-indexer/internal/console"
	"element-indexer/internal/index"
	"element-indexer/internal/ports"
	"element-indexer/internal/resolve"
	"element-indexer/internal/selector"
	"element-indexer/internal/usecase"

	"go.uber.org/fx"
)

func NewApp() *fx.App {
	return fx.New(
		fx.Provide(
			config.GetConfig,
			newLogger,
			newTraceProvider,

			fx.Annotate(browser.NewDriver, fx.As(new(ports.Driver))),

			newGenerator,
			index.NewBuilder,
			index.NewHolder,
			resolve.NewCache,
			resolve.NewResolver,
			resolve.NewDiagnostics,

			usecase.NewUsecase,

			console.NewInterface,
		),

		fx.Invoke(
			runConsole,
		),

		fx.StartTimeout(10*time.Second),
	)
}

func newGenerator(cfg *config.Config) *selector.Generator {
	return selector.NewGenerator(cfg.ResolverConfig.MaxTextLen)
}
