// Package decoder turns raw EVM logs into named, typed events using
// contract ABIs registered at startup.
package decoder

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// DecodedEvent is a log decoded against a registered ABI. Data maps
// argument names to the Go values go-ethereum unpacks them to
// (common.Address, *big.Int, bool, []byte, string).
type DecodedEvent struct {
	ContractName string
	EventName    string
	// EventID is "<contract>:<event>", the key handlers register under.
	EventID string
	Data    map[string]interface{}
}

// registeredEvent ties an ABI event to the contract it was registered for.
type registeredEvent struct {
	contractName string
	event        abi.Event
	eventID      string
}

// Decoder decodes logs for a set of registered contracts. Register every
// contract before decoding starts; registration is not safe to run
// concurrently with Decode.
type Decoder struct {
	abis    map[common.Address]abi.ABI
	events  map[common.Hash]registeredEvent
	sigToID map[common.Hash]string
}

// New returns an empty Decoder.
func New() *Decoder {
	return &Decoder{
		abis:    make(map[common.Address]abi.ABI),
		events:  make(map[common.Hash]registeredEvent),
		sigToID: make(map[common.Hash]string),
	}
}

// RegisterContract parses abiJSON and registers the contract's events for
// decoding. A nil or empty eventNames registers every event in the ABI,
// otherwise only the named ones. Contracts may share an event signature;
// the last registration wins for that signature.
func (d *Decoder) RegisterContract(name string, address common.Address, abiJSON string, eventNames []string) error {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return fmt.Errorf("parsing ABI for %s: %w", name, err)
	}

	d.abis[address] = parsed

	wanted := make(map[string]bool, len(eventNames))
	for _, n := range eventNames {
		wanted[n] = true
	}

	for evName, ev := range parsed.Events {
		if len(eventNames) > 0 && !wanted[evName] {
			continue
		}
		id := name + ":" + evName
		d.events[ev.ID] = registeredEvent{
			contractName: name,
			event:        ev,
			eventID:      id,
		}
		d.sigToID[ev.ID] = id
	}

	return nil
}

// Decode unpacks a log into a DecodedEvent. Indexed arguments are parsed
// from topics, non-indexed arguments from the data blob. A log with an
// empty data blob decodes to just its indexed arguments.
func (d *Decoder) Decode(log types.Log) (*DecodedEvent, error) {
	if len(log.Topics) == 0 {
		return nil, fmt.Errorf("log has no topics")
	}

	reg, ok := d.events[log.Topics[0]]
	if !ok {
		return nil, fmt.Errorf("unknown event signature %s", log.Topics[0].Hex())
	}

	data := make(map[string]interface{})

	var indexed abi.Arguments
	for _, arg := range reg.event.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if err := abi.ParseTopicsIntoMap(data, indexed, log.Topics[1:]); err != nil {
		return nil, fmt.Errorf("parsing topics for %s: %w", reg.eventID, err)
	}

	if len(log.Data) > 0 {
		if err := reg.event.Inputs.UnpackIntoMap(data, log.Data); err != nil {
			return nil, fmt.Errorf("unpacking data for %s: %w", reg.eventID, err)
		}
	}

	return &DecodedEvent{
		ContractName: reg.contractName,
		EventName:    reg.event.Name,
		EventID:      reg.eventID,
		Data:         data,
	}, nil
}

// CanDecode reports whether the log's signature matches a registered event.
func (d *Decoder) CanDecode(log types.Log) bool {
	if len(log.Topics) == 0 {
		return false
	}
	_, ok := d.sigToID[log.Topics[0]]
	return ok
}

// GetEventID returns the "<contract>:<event>" ID the log would decode to.
func (d *Decoder) GetEventID(log types.Log) (string, bool) {
	if len(log.Topics) == 0 {
		return "", false
	}
	id, ok := d.sigToID[log.Topics[0]]
	return id, ok
}

// GetEventSignatures returns the topic-0 hash of every registered event,
// for log filter queries.
func (d *Decoder) GetEventSignatures() []common.Hash {
	sigs := make([]common.Hash, 0, len(d.events))
	for sig := range d.events {
		sigs = append(sigs, sig)
	}
	return sigs
}

// GetAddresses returns the address of every registered contract, for log
// filter queries.
func (d *Decoder) GetAddresses() []common.Address {
	addrs := make([]common.Address, 0, len(d.abis))
	for addr := range d.abis {
		addrs = append(addrs, addr)
	}
	return addrs
}

// Clear drops every registered contract and event.
func (d *Decoder) Clear() {
	d.abis = make(map[common.Address]abi.ABI)
	d.events = make(map[common.Hash]registeredEvent)
	d.sigToID = make(map[common.Hash]string)
}
