// Package proof implements the ApiCallProved indexing core: the canonical
// event record, deterministic entity IDs, an idempotent upsert store and
// the pipeline that ties them together.
//
// The pipeline is replay-safe by construction. Every event maps to the
// same entity ID on every delivery, and the store treats a second write
// for an existing ID as a no-op, so at-least-once delivery from the chain
// feed never produces duplicates.
package proof

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0xredeth/Quittance/pkg/handler"
)

// ErrMalformedEvent marks an event missing a required field or carrying
// one of the wrong shape. It aborts only the event it was raised for.
var ErrMalformedEvent = errors.New("malformed event")

// CallEvent is one ApiCallProved occurrence, decoded and positioned in
// the chain. The (TxHash, LogIndex) pair is its identity; everything else
// is payload copied into the persisted entity.
type CallEvent struct {
	TxHash      common.Hash
	LogIndex    uint
	BlockNumber uint64
	// Timestamp is the block timestamp in Unix seconds.
	Timestamp    uint64
	Emitter      common.Address
	CallID       string
	RequestHash  string
	ResponseHash string
}

// Validate checks the fields that anchor the event's identity. A zero
// transaction hash or zero emitter cannot come from a real log. A log
// index of zero and empty payload strings are well-formed.
func (e *CallEvent) Validate() error {
	if e.TxHash == (common.Hash{}) {
		return fmt.Errorf("%w: zero transaction hash", ErrMalformedEvent)
	}
	if e.Emitter == (common.Address{}) {
		return fmt.Errorf("%w: zero emitter address", ErrMalformedEvent)
	}
	return nil
}

// FromContext builds a CallEvent from a dispatched ApiCallProved handler
// context. Decoded arguments are read with their exact Go types; a missing
// or mistyped argument is ErrMalformedEvent, never a silent zero value.
func FromContext(hctx *handler.Context) (*CallEvent, error) {
	if hctx.Event == nil {
		return nil, fmt.Errorf("%w: no decoded event", ErrMalformedEvent)
	}

	caller, ok := hctx.Event.Data["caller"].(common.Address)
	if !ok {
		return nil, fmt.Errorf("%w: missing caller address", ErrMalformedEvent)
	}
	callID, ok := hctx.Event.Data["callId"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: missing callId", ErrMalformedEvent)
	}
	requestHash, ok := hctx.Event.Data["requestHash"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: missing requestHash", ErrMalformedEvent)
	}
	responseHash, ok := hctx.Event.Data["responseHash"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: missing responseHash", ErrMalformedEvent)
	}

	var ts uint64
	if !hctx.Block.Time.IsZero() {
		ts = uint64(hctx.Block.Time.Unix())
	}

	ev := &CallEvent{
		TxHash:       hctx.Log.TxHash,
		LogIndex:     hctx.Log.Index,
		BlockNumber:  hctx.Block.Number,
		Timestamp:    ts,
		Emitter:      caller,
		CallID:       callID,
		RequestHash:  requestHash,
		ResponseHash: responseHash,
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return ev, nil
}
