package index

import (
	"strings"

	"element-indexer/internal/entity"
	"element-indexer/internal/selector"
	"element-indexer/pkg/logg"

	"go.uber.org/zap"
)

const builderName = "IndexBuilder"

type Builder struct {
	logger    *zap.Logger
	generator *selector.Generator
}

func NewBuilder(logger *zap.Logger, generator *selector.Generator) *Builder {
	return &Builder{
		logger:    logger.With(zap.String(logg.Layer, builderName)),
		generator: generator,
	}
}

// Build runs ingest, interactivity filtering, handle assignment and
// selector generation over one snapshot, producing a fresh generation.
// Handles start at 1 in pre-order; the same snapshot always yields the
// same assignment and the same selector lists.
func (b *Builder) Build(root *entity.Node, fingerprint entity.PageFingerprint) *entity.Generation {
	flat := Ingest(root)
	interactable := Filter(flat)

	handleByNode := make(map[*entity.Node]int, len(interactable))
	for i, n := range interactable {
		handleByNode[n] = i + 1
	}

	records := make([]entity.ElementRecord, 0, len(interactable))

	for _, n := range interactable {
		clickable, input := Classify(n)

		records = append(records, entity.ElementRecord{
			Handle:       handleByNode[n],
			Tag:          strings.ToLower(n.Tag),
			Text:         entity.NormalizeText(n.Text),
			Attributes:   copyAttributes(n.Attributes),
			Box:          n.Box,
			Clickable:    clickable,
			Input:        input,
			Selectors:    b.generator.Generate(root, n),
			ParentHandle: nearestIndexedAncestor(n, handleByNode),
		})
	}

	gen := entity.NewGeneration(fingerprint, records)

	b.logger.Debug("Index built",
		zap.String(logg.Generation, gen.ID.String()),
		zap.String(logg.Fingerprint, string(fingerprint)),
		zap.Int("nodes", len(flat)),
		zap.Int("elements", len(records)))

	return gen
}

func nearestIndexedAncestor(n *entity.Node, handleByNode map[*entity.Node]int) int {
	for cur := n.Parent; cur != nil; cur = cur.Parent {
		if handle, ok := handleByNode[cur]; ok {
			return handle
		}
	}

	return 0
}

func copyAttributes(attrs map[string]string) map[string]string {
	copied := make(map[string]string, len(attrs))

	for k, v := range attrs {
		copied[k] = v
	}

	return copied
}
