package proof

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/0xredeth/Quittance/pkg/store"
)

func TestMemStoreUpsertAndGet(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	ev := makeEvent()
	call := &store.ApiCall{
		ID:           ev.ID(),
		CallID:       ev.CallID,
		RequestHash:  ev.RequestHash,
		ResponseHash: ev.ResponseHash,
		Emitter:      ev.Emitter.Hex(),
		TxHash:       ev.TxHash.Hex(),
		LogIndex:     ev.LogIndex,
		BlockNumber:  ev.BlockNumber,
		Timestamp:    ev.Timestamp,
	}

	require.NoError(t, s.Upsert(ctx, call))

	got, err := s.Get(ctx, call.ID)
	require.NoError(t, err)
	require.Equal(t, call.ID, got.ID)
	require.Equal(t, "call-1", got.CallID)
	require.Equal(t, "req-1", got.RequestHash)
	require.Equal(t, "res-1", got.ResponseHash)

	count, err := s.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestMemStoreGetMiss(t *testing.T) {
	s := NewMemStore()

	got, err := s.Get(context.Background(), "0xmissing")
	require.Error(t, err)
	require.ErrorIs(t, err, ErrNotFound)
	require.Nil(t, got)
}

func TestMemStoreReplayIsNoOp(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	first := &store.ApiCall{ID: "0x01", CallID: "call-1", Emitter: "0xa"}
	require.NoError(t, s.Upsert(ctx, first))

	// A second write for the same ID changes nothing, even with different
	// payload fields
	second := &store.ApiCall{ID: "0x01", CallID: "call-other", Emitter: "0xb"}
	require.NoError(t, s.Upsert(ctx, second))

	count, err := s.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	got, err := s.Get(ctx, "0x01")
	require.NoError(t, err)
	require.Equal(t, "call-1", got.CallID)
	require.Equal(t, "0xa", got.Emitter)
}

func TestMemStoreValueIsolation(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	call := &store.ApiCall{ID: "0x01", CallID: "call-1"}
	require.NoError(t, s.Upsert(ctx, call))

	// Mutating the caller's record after the write must not leak in
	call.CallID = "mutated"
	got, err := s.Get(ctx, "0x01")
	require.NoError(t, err)
	require.Equal(t, "call-1", got.CallID)

	// Mutating a record handed out by Get must not leak in either
	got.CallID = "mutated again"
	again, err := s.Get(ctx, "0x01")
	require.NoError(t, err)
	require.Equal(t, "call-1", again.CallID)
}

func TestMemStoreReset(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, &store.ApiCall{ID: "0x01"}))
	require.NoError(t, s.Upsert(ctx, &store.ApiCall{ID: "0x02"}))

	s.Reset()

	count, err := s.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(0), count)

	_, err = s.Get(ctx, "0x01")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemStoreConcurrentUpserts(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	var wg sync.WaitGroup

	// Concurrent replays of the same event must collapse to one row
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Upsert(ctx, &store.ApiCall{ID: "0x01", CallID: "call-1"})
		}()
	}

	// Concurrent reads race the writes
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Get(ctx, "0x01")
			_, _ = s.Count(ctx)
		}()
	}

	wg.Wait()

	count, err := s.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}
