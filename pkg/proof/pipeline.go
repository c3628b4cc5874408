package proof

import (
	"context"

	"github.com/0xredeth/Quittance/pkg/store"
)

// Pipeline turns ApiCallProved events into persisted api call entities.
// Each Process call is one atomic unit against the store: the event lands
// fully or not at all, and processing the same event again changes
// nothing.
type Pipeline struct {
	store Store
}

// NewPipeline returns a Pipeline writing through s.
func NewPipeline(s Store) *Pipeline {
	return &Pipeline{store: s}
}

// Process validates ev, derives its entity ID and upserts the entity,
// returning the ID. A malformed event aborts only itself and surfaces
// ErrMalformedEvent; store failures propagate untouched with no retry.
func (p *Pipeline) Process(ctx context.Context, ev *CallEvent) (string, error) {
	if err := ev.Validate(); err != nil {
		return "", err
	}

	id := ev.ID()

	call := &store.ApiCall{
		ID:           id,
		CallID:       ev.CallID,
		RequestHash:  ev.RequestHash,
		ResponseHash: ev.ResponseHash,
		Emitter:      ev.Emitter.Hex(),
		TxHash:       ev.TxHash.Hex(),
		LogIndex:     ev.LogIndex,
		BlockNumber:  ev.BlockNumber,
		Timestamp:    ev.Timestamp,
	}

	if err := p.store.Upsert(ctx, call); err != nil {
		return "", err
	}
	return id, nil
}
