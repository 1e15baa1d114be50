package mempool

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethCrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrDuplicateTx = errors.New("transaction already pending")
	ErrMempoolFull = errors.New("mempool full")
)

// TxClass buckets transactions for block ordering.
type TxClass int

const (
	ClassNonOrder TxClass = iota // create_proxy, call
	ClassCancel
	ClassSettle
)

// ClassifyRaw classifies a raw transaction by its JSON envelope type:
//
//	{"type": "create_proxy" | "call", ...} -> ClassNonOrder
//	{"type": "cancel", ...}                -> ClassCancel
//	{"type": "settle" | "exchange", ...}   -> ClassSettle
//
// Malformed transactions land in ClassSettle; they fail when applied.
func ClassifyRaw(b []byte) TxClass {
	if len(b) == 0 || b[0] != '{' {
		return ClassSettle
	}

	var txEnvelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(b, &txEnvelope); err != nil {
		return ClassSettle
	}

	switch txEnvelope.Type {
	case "create_proxy", "call":
		return ClassNonOrder
	case "cancel":
		return ClassCancel
	default:
		return ClassSettle
	}
}

// Mempool keeps three FIFO queues and drains them in the order
// non-order -> cancel -> settle, so a cancel always lands before a
// settlement of the same order proposed in the same block.
type Mempool struct {
	mu       sync.Mutex
	maxTxs   int
	nonOrder [][]byte
	cancel   [][]byte
	settle   [][]byte
	pending  map[common.Hash]struct{}
}

// NewMempool creates a mempool holding at most maxTxs transactions (0 = unbounded)
func NewMempool(maxTxs int) *Mempool {
	return &Mempool{
		maxTxs:  maxTxs,
		pending: make(map[common.Hash]struct{}),
	}
}

// Push classifies and enqueues a tx, returning its hash
func (m *Mempool) Push(b []byte) (common.Hash, error) {
	cp := append([]byte(nil), b...)
	h := ethCrypto.Keccak256Hash(cp)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pending[h]; ok {
		return h, ErrDuplicateTx
	}
	if m.maxTxs > 0 && len(m.pending) >= m.maxTxs {
		return h, ErrMempoolFull
	}
	m.pending[h] = struct{}{}

	switch ClassifyRaw(cp) {
	case ClassNonOrder:
		m.nonOrder = append(m.nonOrder, cp)
	case ClassCancel:
		m.cancel = append(m.cancel, cp)
	default:
		m.settle = append(m.settle, cp)
	}
	return h, nil
}

// SelectForProposal returns up to maxBytes worth of txs in bucket order,
// removing selected txs from the mempool.
func (m *Mempool) SelectForProposal(maxBytes int64) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out [][]byte
	var used int64
	full := false

	pull := func(q *[][]byte) {
		for len(*q) > 0 && !full {
			tx := (*q)[0]
			n := int64(len(tx))
			if maxBytes > 0 && used+n > maxBytes {
				full = true
				return
			}
			out = append(out, tx)
			used += n
			*q = (*q)[1:]
			delete(m.pending, ethCrypto.Keccak256Hash(tx))
		}
	}

	pull(&m.nonOrder)
	pull(&m.cancel)
	pull(&m.settle)

	return out
}

// Len returns total pending txs
func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.nonOrder) + len(m.cancel) + len(m.settle)
}
