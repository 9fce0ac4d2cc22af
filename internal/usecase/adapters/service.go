package adapters

import (
	"context"
	"time"

	"element-indexer/internal/entity"

	"github.com/google/uuid"
)

type DriverService interface {
	Launch(ctx context.Context) error
	Close(ctx context.Context) error
	Navigate(ctx context.Context, url string) error
	TakeSnapshot(ctx context.Context) (*entity.Node, error)
	QueryLive(ctx context.Context, kind entity.SelectorKind, value string, timeout time.Duration) ([]entity.LiveElement, error)
	Interact(ctx context.Context, ref entity.LiveElement, kind entity.InteractionKind, payload string) error
	FingerprintInputs(ctx context.Context) (entity.FingerprintInputs, error)
	IsReady() bool
}

type EngineService interface {
	BuildIndex(ctx context.Context) (uuid.UUID, error)
	Resolve(ctx context.Context, handle int) (*entity.ResolutionResult, error)
	ResolveByDescription(ctx context.Context, query entity.Query) (*entity.ResolutionResult, error)
	Diagnose(ctx context.Context, handle int, selector string) (*entity.DiagnosticReport, error)
	Invalidate()
	CurrentGeneration() *entity.Generation
}

type InteractionService interface {
	Open(ctx context.Context, url string) (uuid.UUID, error)
	Click(ctx context.Context, handle int) (*entity.ResolutionResult, error)
	Type(ctx context.Context, handle int, text string) (*entity.ResolutionResult, error)
}
