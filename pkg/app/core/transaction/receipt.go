package transaction

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperswap/pkg/app/core/proxy"
	"github.com/uhyunpark/hyperswap/pkg/app/core/settlement"
)

// ReceiptStatus is the outcome of an applied transaction
type ReceiptStatus string

const (
	StatusSuccess ReceiptStatus = "success"
	StatusFailed  ReceiptStatus = "failed"
)

// Receipt records how a transaction was applied. Failed transactions are
// still included in the block and leave no state change.
type Receipt struct {
	TxHash     common.Hash        `json:"txHash"`
	Type       TxType             `json:"type"`
	Height     uint64             `json:"height"`
	Index      int                `json:"index"`
	Status     ReceiptStatus      `json:"status"`
	ErrorKind  string             `json:"errorKind,omitempty"`
	Error      string             `json:"error,omitempty"`
	Settlement *settlement.Result `json:"settlement,omitempty"`
	Digest     *common.Hash       `json:"digest,omitempty"` // cancelled order digest
	Proxy      *proxy.Proxy       `json:"proxy,omitempty"`
	Accounts   []common.Address   `json:"accounts,omitempty"` // parties the tx concerns
}

// Failed marks r as failed with err
func (r *Receipt) Failed(err error) {
	r.Status = StatusFailed
	r.ErrorKind = Kind(err)
	r.Error = err.Error()
}
