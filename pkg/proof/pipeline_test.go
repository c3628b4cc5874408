package proof

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/0xredeth/Quittance/pkg/store"
)

// failingStore fails every write, standing in for an unreachable backend.
// Reads pass through to the wrapped MemStore.
type failingStore struct {
	*MemStore
}

func (s *failingStore) Upsert(ctx context.Context, call *store.ApiCall) error {
	return errors.New("store unavailable: connection refused")
}

func TestProcess(t *testing.T) {
	s := NewMemStore()
	p := NewPipeline(s)
	ctx := context.Background()

	ev := makeEvent()

	id, err := p.Process(ctx, ev)
	require.NoError(t, err)
	require.Equal(t, "0xaa0000000000000000000000000000000000000000000000000000000000000100000000", id)

	// Every field survives verbatim
	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, id, got.ID)
	require.Equal(t, "call-1", got.CallID)
	require.Equal(t, "req-1", got.RequestHash)
	require.Equal(t, "res-1", got.ResponseHash)
	require.Equal(t, ev.Emitter.Hex(), got.Emitter)
	require.Equal(t, ev.TxHash.Hex(), got.TxHash)
	require.Equal(t, uint(0), got.LogIndex)
	require.Equal(t, uint64(100), got.BlockNumber)
	require.Equal(t, uint64(1700000000), got.Timestamp)

	count, err := s.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestProcessIdempotence(t *testing.T) {
	s := NewMemStore()
	p := NewPipeline(s)
	ctx := context.Background()

	first, err := p.Process(ctx, makeEvent())
	require.NoError(t, err)

	// Replaying the identical event yields the same ID and no new row
	second, err := p.Process(ctx, makeEvent())
	require.NoError(t, err)
	require.Equal(t, first, second)

	count, err := s.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestProcessDistinctEvents(t *testing.T) {
	s := NewMemStore()
	p := NewPipeline(s)
	ctx := context.Background()

	// Two events from the same transaction at different log positions
	id0, err := p.Process(ctx, makeEvent())
	require.NoError(t, err)

	id1, err := p.Process(ctx, makeEvent(func(e *CallEvent) {
		e.LogIndex = 1
		e.CallID = "call-2"
	}))
	require.NoError(t, err)

	require.NotEqual(t, id0, id1)

	count, err := s.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), count)
}

func TestProcessMalformedEvent(t *testing.T) {
	s := NewMemStore()
	p := NewPipeline(s)
	ctx := context.Background()

	// A malformed event aborts itself and leaves the store untouched
	id, err := p.Process(ctx, makeEvent(func(e *CallEvent) {
		e.Emitter = common.Address{}
	}))
	require.Error(t, err)
	require.ErrorIs(t, err, ErrMalformedEvent)
	require.Empty(t, id)

	count, err := s.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(0), count)

	// Previously committed entities are unaffected
	committed, err := p.Process(ctx, makeEvent())
	require.NoError(t, err)

	_, err = p.Process(ctx, makeEvent(func(e *CallEvent) {
		e.TxHash = common.Hash{}
		e.LogIndex = 7
	}))
	require.ErrorIs(t, err, ErrMalformedEvent)

	got, err := s.Get(ctx, committed)
	require.NoError(t, err)
	require.Equal(t, "call-1", got.CallID)
}

func TestProcessStoreFailure(t *testing.T) {
	backing := NewMemStore()
	p := NewPipeline(&failingStore{MemStore: backing})
	ctx := context.Background()

	ev := makeEvent()

	id, err := p.Process(ctx, ev)
	require.Error(t, err)
	require.Contains(t, err.Error(), "store unavailable")
	require.NotErrorIs(t, err, ErrMalformedEvent)
	require.Empty(t, id)

	// Nothing partial is visible after a failed write
	_, err = backing.Get(ctx, ev.ID())
	require.ErrorIs(t, err, ErrNotFound)

	count, err := backing.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(0), count)
}
