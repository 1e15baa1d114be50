package swap

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"

	"github.com/uhyunpark/hyperswap/pkg/app/core/transaction"
)

// computeStateHash chains the previous app hash with this block's outcome.
//
// Hashed (in order):
//  1. previous app hash (32 bytes)
//  2. block height (8 bytes, big-endian)
//  3. block timestamp (8 bytes, big-endian)
//  4. every receipt in block order: tx hash, then its JSON encoding
//
// Receipts determine every ledger change (closed digests, proxies,
// transfers), so equal chains of receipts imply equal state.
func computeStateHash(prev [32]byte, height uint64, timestamp int64, receipts []*transaction.Receipt) [32]byte {
	h := sha256.New()
	h.Write(prev[:])

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], height)
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(timestamp))
	h.Write(buf[:])

	for _, r := range receipts {
		h.Write(r.TxHash[:])
		data, err := json.Marshal(r)
		if err != nil {
			// Receipts hold only JSON-safe types.
			panic(err)
		}
		h.Write(data)
	}

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
