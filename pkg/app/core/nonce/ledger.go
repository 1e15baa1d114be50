// Package nonce records which order digests are closed. A digest closes
// when its order settles or is cancelled and never reopens.
package nonce

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethCrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/uhyunpark/hyperswap/pkg/app/core/order"
	"github.com/uhyunpark/hyperswap/pkg/app/core/state"
	"github.com/uhyunpark/hyperswap/pkg/crypto"
)

var (
	ErrOrderClosed  = errors.New("order closed")
	ErrOrderExpired = errors.New("order expired")
)

// Ledger is the append-only set of closed digests.
type Ledger struct {
	mu     sync.RWMutex
	scheme *crypto.DigestScheme
	closed map[common.Hash]struct{}
	dirty  map[common.Hash]struct{}
}

// NewLedger creates an empty ledger. scheme hashes orders and verifies
// cancellation signatures.
func NewLedger(scheme *crypto.DigestScheme) *Ledger {
	return &Ledger{
		scheme: scheme,
		closed: make(map[common.Hash]struct{}),
		dirty:  make(map[common.Hash]struct{}),
	}
}

// IsClosed reports whether digest has settled or been cancelled
func (l *Ledger) IsClosed(digest common.Hash) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.closed[digest]
	return ok
}

// CheckOpen returns ErrOrderClosed for a closed digest
func (l *Ledger) CheckOpen(digest common.Hash) error {
	if l.IsClosed(digest) {
		return fmt.Errorf("%w: %s", ErrOrderClosed, digest.Hex())
	}
	return nil
}

// Close marks digest closed. Closing a closed digest is a no-op.
func (l *Ledger) Close(j *state.Journal, digest common.Hash) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.closed[digest]; ok {
		return
	}
	l.closed[digest] = struct{}{}
	l.dirty[digest] = struct{}{}
	j.Append(func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.closed, digest)
		delete(l.dirty, digest)
	})
}

// CancelDigest is the digest a signer personal-signs to cancel the order
// with digest orderDigest
func CancelDigest(orderDigest common.Hash) common.Hash {
	return ethCrypto.Keccak256Hash([]byte("CANCEL:"), orderDigest.Bytes())
}

// Cancel closes o's digest on behalf of its signer. orderSig is the
// signature the order was placed with. Counterparties hold that one too,
// so cancelSig must be the signer's own signature over CancelDigest.
func (l *Ledger) Cancel(j *state.Journal, o *order.Order, orderSig, cancelSig []byte) (common.Hash, error) {
	digest, err := l.scheme.Hash(o)
	if err != nil {
		return common.Hash{}, err
	}
	if err := l.scheme.Verify(o.Signer, digest, orderSig); err != nil {
		return common.Hash{}, fmt.Errorf("cancel %s: %w", digest.Hex(), err)
	}
	if !crypto.VerifyPersonal(o.Signer, CancelDigest(digest), cancelSig) {
		return common.Hash{}, fmt.Errorf("cancel %s: %w: not signed by %s", digest.Hex(), crypto.ErrInvalidSignature, o.Signer.Hex())
	}
	l.Close(j, digest)
	return digest, nil
}

// Len returns the number of closed digests
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.closed)
}

// Load installs digests restored from storage
func (l *Ledger) Load(digests []common.Hash) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, d := range digests {
		l.closed[d] = struct{}{}
	}
}

// Dirty returns digests closed since the last ResetDirty, sorted
func (l *Ledger) Dirty() []common.Hash {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return sortedHashes(l.dirty)
}

// ResetDirty forgets the dirty set once it has been persisted
func (l *Ledger) ResetDirty() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dirty = make(map[common.Hash]struct{})
}

func sortedHashes(set map[common.Hash]struct{}) []common.Hash {
	out := make([]common.Hash, 0, len(set))
	for h := range set {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

// Expired reports whether an order with the given expiration height is
// expired at height. Zero means the order never expires.
func Expired(expirationHeight, height uint64) bool {
	return expirationHeight != 0 && height > expirationHeight
}

// CheckExpiry returns ErrOrderExpired when Expired holds
func CheckExpiry(expirationHeight, height uint64) error {
	if Expired(expirationHeight, height) {
		return fmt.Errorf("%w: expired at height %d, now %d", ErrOrderExpired, expirationHeight, height)
	}
	return nil
}
