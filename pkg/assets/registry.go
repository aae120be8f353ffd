package assets

import (
	"fmt"
	"sort"

	"github.com/appforge-labs/marketplace-engine/pkg/apperrors"
	"github.com/appforge-labs/marketplace-engine/pkg/models"
)

// installOrder is the fixed topological preference for cloning: leaf asset
// types before the composite types that reference them, so every id a
// composite needs is in the mapping before its own remap runs.
var installOrder = []models.AssetType{
	models.AssetTypeWorkflow,
	models.AssetTypeWorkflowAssociation,
}

// Registry maps asset type tags to their handlers. Populated once at
// startup; lookups of unregistered types fail explicitly rather than
// panicking on a nil handler.
type Registry struct {
	handlers map[models.AssetType]Handler
}

// NewRegistry creates a registry holding the given handlers.
func NewRegistry(handlers ...Handler) *Registry {
	r := &Registry{handlers: make(map[models.AssetType]Handler, len(handlers))}
	for _, h := range handlers {
		r.handlers[h.Type()] = h
	}
	return r
}

// Get returns the handler for the given asset type.
func (r *Registry) Get(assetType models.AssetType) (Handler, error) {
	h, ok := r.handlers[assetType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrUnsupportedAssetType, assetType)
	}
	return h, nil
}

// InstallOrder returns the registered asset types in clone order. Types
// outside the known preference list sort last, alphabetically, so the order
// is deterministic regardless of registration order.
func (r *Registry) InstallOrder() []models.AssetType {
	ordered := make([]models.AssetType, 0, len(r.handlers))
	seen := make(map[models.AssetType]bool, len(r.handlers))
	for _, t := range installOrder {
		if _, ok := r.handlers[t]; ok {
			ordered = append(ordered, t)
			seen[t] = true
		}
	}

	var rest []models.AssetType
	for t := range r.handlers {
		if !seen[t] {
			rest = append(rest, t)
		}
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i] < rest[j] })
	return append(ordered, rest...)
}
