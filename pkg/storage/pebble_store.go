package storage

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperswap/pkg/app/core/proxy"
	"github.com/uhyunpark/hyperswap/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperswap/pkg/sequencer"
)

type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

// get returns (nil, false, nil) when key is absent
func (s *PebbleStore) get(key []byte) ([]byte, bool, error) {
	val, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer closer.Close()
	return append([]byte(nil), val...), true, nil
}

// ============================================================================
// Block Store
// ============================================================================

// SaveBlock persists b and marks it committed in one batch
func (s *PebbleStore) SaveBlock(b sequencer.Block) error {
	val, err := encodeGob(b)
	if err != nil {
		return fmt.Errorf("encode block: %w", err)
	}
	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(blockKey(b.Height), val, nil); err != nil {
		return err
	}
	if err := batch.Set([]byte(keyCommitted), encodeUint64(uint64(b.Height)), nil); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

func (s *PebbleStore) GetBlock(h sequencer.Height) (sequencer.Block, bool, error) {
	val, ok, err := s.get(blockKey(h))
	if err != nil || !ok {
		return sequencer.Block{}, false, err
	}
	var out sequencer.Block
	if err := decodeGob(val, &out); err != nil {
		return sequencer.Block{}, false, fmt.Errorf("decode block %d: %w", h, err)
	}
	return out, true, nil
}

func (s *PebbleStore) LastBlock() (sequencer.Block, bool, error) {
	val, ok, err := s.get([]byte(keyCommitted))
	if err != nil || !ok {
		return sequencer.Block{}, false, err
	}
	h, err := decodeUint64(val)
	if err != nil {
		return sequencer.Block{}, false, fmt.Errorf("decode committed height: %w", err)
	}
	return s.GetBlock(sequencer.Height(h))
}

var _ sequencer.BlockStore = (*PebbleStore)(nil)

// ============================================================================
// Ledger State
// ============================================================================

// StateDelta is everything one block changed in the ledger
type StateDelta struct {
	Height    uint64
	AppHash   [32]byte
	Closed    []common.Hash
	Proxies   []proxy.Proxy
	Nonces    map[common.Address]uint64
	Receipts  []*transaction.Receipt
	Contracts map[common.Address][]byte
}

type appState struct {
	Height  uint64      `json:"height"`
	AppHash common.Hash `json:"appHash"`
}

// CommitState writes a block's ledger changes in a single batch
func (s *PebbleStore) CommitState(d *StateDelta) error {
	batch := s.db.NewBatch()
	defer batch.Close()

	for _, digest := range d.Closed {
		if err := batch.Set(closedKey(digest), nil, nil); err != nil {
			return err
		}
	}
	for _, p := range d.Proxies {
		data, err := encodeJSON("proxy", p)
		if err != nil {
			return err
		}
		if err := batch.Set(proxyKey(p.Owner), data, nil); err != nil {
			return err
		}
	}
	for addr, n := range d.Nonces {
		if err := batch.Set(nonceKey(addr), encodeUint64(n), nil); err != nil {
			return err
		}
	}
	for _, r := range d.Receipts {
		data, err := encodeJSON("receipt", r)
		if err != nil {
			return err
		}
		if err := batch.Set(receiptKey(r.TxHash), data, nil); err != nil {
			return err
		}
	}
	for addr, st := range d.Contracts {
		if err := batch.Set(contractKey(addr), st, nil); err != nil {
			return err
		}
	}

	data, err := encodeJSON("app state", appState{Height: d.Height, AppHash: d.AppHash})
	if err != nil {
		return err
	}
	if err := batch.Set([]byte(keyAppState), data, nil); err != nil {
		return err
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit state batch: %w", err)
	}
	return nil
}

// LoadAppState returns the last committed app height and hash
func (s *PebbleStore) LoadAppState() (uint64, [32]byte, bool, error) {
	val, ok, err := s.get([]byte(keyAppState))
	if err != nil || !ok {
		return 0, [32]byte{}, false, err
	}
	var st appState
	if err := decodeJSON("app state", val, &st); err != nil {
		return 0, [32]byte{}, false, err
	}
	return st.Height, st.AppHash, true, nil
}

// LoadClosedDigests returns every closed order digest
func (s *PebbleStore) LoadClosedDigests() ([]common.Hash, error) {
	prefix := []byte(prefixClosed)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []common.Hash
	for iter.First(); iter.Valid(); iter.Next() {
		out = append(out, common.BytesToHash(iter.Key()[len(prefix):]))
	}
	return out, iter.Error()
}

// LoadProxies returns every registered proxy
func (s *PebbleStore) LoadProxies() ([]proxy.Proxy, error) {
	prefix := []byte(prefixProxy)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []proxy.Proxy
	for iter.First(); iter.Valid(); iter.Next() {
		var p proxy.Proxy
		if err := decodeJSON(fmt.Sprintf("proxy %q", iter.Key()), iter.Value(), &p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, iter.Error()
}

// LoadAccountNonces returns the last used nonce of every account
func (s *PebbleStore) LoadAccountNonces() (map[common.Address]uint64, error) {
	prefix := []byte(prefixNonce)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	out := make(map[common.Address]uint64)
	for iter.First(); iter.Valid(); iter.Next() {
		addr, err := addressFromKey(prefixNonce, iter.Key())
		if err != nil {
			return nil, err
		}
		n, err := decodeUint64(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("nonce of %s: %w", addr.Hex(), err)
		}
		out[addr] = n
	}
	return out, iter.Error()
}

// LoadContractState returns the stored snapshot of a contract
func (s *PebbleStore) LoadContractState(addr common.Address) ([]byte, bool, error) {
	return s.get(contractKey(addr))
}

// GetReceipt loads a transaction receipt
func (s *PebbleStore) GetReceipt(txHash common.Hash) (*transaction.Receipt, bool, error) {
	val, ok, err := s.get(receiptKey(txHash))
	if err != nil || !ok {
		return nil, false, err
	}
	var r transaction.Receipt
	if err := decodeJSON("receipt", val, &r); err != nil {
		return nil, false, err
	}
	return &r, true, nil
}
