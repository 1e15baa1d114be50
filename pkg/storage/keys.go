package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperswap/pkg/sequencer"
)

// Key schema for Pebble storage
//
// Chain keys:
//   bh:<8-byte height>  → Block
//   cm                  → last committed block height
//
// Ledger keys:
//   ap                  → app height + app hash
//   cl:<digest>         → closed order digest (empty value)
//   px:<owner>          → Proxy
//   an:<address>        → account nonce (8-byte BE)
//   rc:<txhash>         → Receipt
//   ct:<address>        → contract state snapshot

// Key prefixes
const (
	prefixBlock    = "bh:"
	prefixClosed   = "cl:"
	prefixProxy    = "px:"
	prefixNonce    = "an:"
	prefixReceipt  = "rc:"
	prefixContract = "ct:"

	keyCommitted = "cm"
	keyAppState  = "ap"
)

// blockKey returns the key for a block
// Heights are big-endian so blocks iterate in order
func blockKey(h sequencer.Height) []byte {
	return append([]byte(prefixBlock), encodeUint64(uint64(h))...)
}

// closedKey returns the key for a closed digest
// Format: "cl:{digest bytes}"
func closedKey(digest common.Hash) []byte {
	return append([]byte(prefixClosed), digest[:]...)
}

// proxyKey returns the key for a proxy
// Format: "px:{owner}"
func proxyKey(owner common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixProxy, owner.Hex()))
}

// nonceKey returns the key for account nonce
// Format: "an:{address}"
func nonceKey(addr common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixNonce, addr.Hex()))
}

// receiptKey returns the key for a transaction receipt
func receiptKey(txHash common.Hash) []byte {
	return append([]byte(prefixReceipt), txHash[:]...)
}

// contractKey returns the key for a contract state snapshot
func contractKey(addr common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixContract, addr.Hex()))
}

// addressFromKey parses the address suffix of a px: / an: key
func addressFromKey(prefix string, key []byte) (common.Address, error) {
	s := string(key[len(prefix):])
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address key %q", key)
	}
	return common.HexToAddress(s), nil
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
