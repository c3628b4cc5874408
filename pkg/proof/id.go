package proof

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/ethereum/go-ethereum/common"
)

// IDLength is the length of an entity ID string: "0x" plus 36 hex-encoded
// bytes (32 transaction hash bytes and a 4-byte log index).
const IDLength = 2 + 2*36

// AssignID derives the entity ID for an ApiCallProved occurrence: the raw
// transaction hash bytes followed by the log index as a big-endian 4-byte
// word, hex-encoded with a 0x prefix. A transaction hash alone is not
// unique when one transaction proves several calls, and a row counter
// would not survive replays, so the (hash, index) pair is the only stable
// key basis. The function is total: the same pair always yields the same
// ID, and no input fails.
func AssignID(txHash common.Hash, logIndex uint) string {
	var key [36]byte
	copy(key[:32], txHash[:])
	binary.BigEndian.PutUint32(key[32:], uint32(logIndex))
	return "0x" + hex.EncodeToString(key[:])
}

// ID returns the entity ID this event maps to.
func (e *CallEvent) ID() string {
	return AssignID(e.TxHash, e.LogIndex)
}
