package swap

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperswap/pkg/app/core/transaction"
)

// Event types
const (
	EventSettlement = "settlement"
	EventCancel     = "cancel"
	EventProxy      = "proxy"
	EventCall       = "call"
	EventFailed     = "failed"
	EventBlock      = "block"
)

// Event is published after the block carrying it commits
type Event struct {
	Type    string               `json:"type"`
	Height  uint64               `json:"height"`
	Receipt *transaction.Receipt `json:"receipt,omitempty"`
	Block   *BlockSummary        `json:"block,omitempty"`
}

type BlockSummary struct {
	Height    uint64      `json:"height"`
	AppHash   common.Hash `json:"appHash"`
	Txs       int         `json:"txs"`
	Succeeded int         `json:"succeeded"`
	Timestamp int64       `json:"timestamp"`
}

// Accounts returns the addresses an event concerns
func (e Event) Accounts() []common.Address {
	if e.Receipt == nil {
		return nil
	}
	return e.Receipt.Accounts
}

func eventForReceipt(r *transaction.Receipt) (Event, bool) {
	ev := Event{Height: r.Height, Receipt: r}
	if r.Status != transaction.StatusSuccess {
		ev.Type = EventFailed
		return ev, len(r.Accounts) > 0
	}
	switch r.Type {
	case transaction.TxTypeSettle, transaction.TxTypeExchange:
		ev.Type = EventSettlement
	case transaction.TxTypeCancel:
		ev.Type = EventCancel
	case transaction.TxTypeCreateProxy:
		ev.Type = EventProxy
	case transaction.TxTypeCall:
		ev.Type = EventCall
	default:
		return ev, false
	}
	return ev, true
}
