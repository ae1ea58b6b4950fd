package driven

import (
	"context"

	"github.com/ericfisherdev/fitsync/internal/domain/model"
)

// SnapshotStore holds advisory record sets for sources the hub cannot call
// (imported exports, manual entries). It makes no freshness promise.
type SnapshotStore interface {
	// Put replaces what is stored for source across snap's Span: every
	// record dated inside it, in any category, is dropped and snap's records
	// are written in its place. The swap is atomic. An empty snap is a no-op.
	Put(ctx context.Context, source model.Provider, snap model.Snapshot) error

	// Load returns the records for source whose dates fall inside r.
	Load(ctx context.Context, source model.Provider, r model.DateRange) (model.Snapshot, error)

	// Clear drops everything stored for source.
	Clear(ctx context.Context, source model.Provider) error
}
