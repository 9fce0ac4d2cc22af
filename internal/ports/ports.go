package ports

import (
	"context"
	"time"

	"element-indexer/internal/entity"

	"github.com/google/uuid"
)

// Driver is the minimal browser primitive surface the engine consumes.
// QueryLive and TakeSnapshot are read-only; Interact is the only
// mutating primitive and holds the page exclusively while it runs.
type Driver interface {
	Launch(ctx context.Context) error
	Close(ctx context.Context) error
	Navigate(ctx context.Context, url string) error
	TakeSnapshot(ctx context.Context) (*entity.Node, error)
	QueryLive(ctx context.Context, kind entity.SelectorKind, value string, timeout time.Duration) ([]entity.LiveElement, error)
	Interact(ctx context.Context, ref entity.LiveElement, kind entity.InteractionKind, payload string) error
	FingerprintInputs(ctx context.Context) (entity.FingerprintInputs, error)
	IsReady() bool
}

type Engine interface {
	BuildIndex(ctx context.Context) (uuid.UUID, error)
	Resolve(ctx context.Context, handle int) (*entity.ResolutionResult, error)
	ResolveByDescription(ctx context.Context, query entity.Query) (*entity.ResolutionResult, error)
	Diagnose(ctx context.Context, handle int, selector string) (*entity.DiagnosticReport, error)
	Invalidate()
	CurrentGeneration() *entity.Generation
}
