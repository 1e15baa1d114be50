package transaction

import (
	"errors"

	"github.com/uhyunpark/hyperswap/pkg/app/core/settlement"
)

var (
	ErrMalformedTx = errors.New("malformed transaction")
	ErrStaleNonce  = errors.New("account nonce already used")
	ErrCallFailed  = errors.New("contract call failed")
)

const (
	KindMalformedTx = "MalformedTransaction"
	KindStaleNonce  = "StaleNonce"
	KindCallFailed  = "CallFailed"
)

// Kind extends settlement.Kind with the transaction-level failures
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMalformedTx):
		return KindMalformedTx
	case errors.Is(err, ErrStaleNonce):
		return KindStaleNonce
	case errors.Is(err, ErrCallFailed):
		return KindCallFailed
	}
	return settlement.Kind(err)
}
