package swap

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperswap/pkg/app/core/state"
	"github.com/uhyunpark/hyperswap/pkg/app/core/transaction"
)

// applyTx executes one transaction at height. It never aborts the block: a
// failing transaction leaves no state change and yields a failed receipt.
// Caller holds a.mu.
func (a *App) applyTx(raw []byte, height uint64, index int) *transaction.Receipt {
	r := &transaction.Receipt{
		TxHash: transaction.Hash(raw),
		Height: height,
		Index:  index,
		Status: transaction.StatusSuccess,
	}

	tx, err := transaction.ParseTransaction(raw)
	if err != nil {
		r.Failed(err)
		return a.logFailure(r)
	}
	r.Type = tx.Type

	switch tx.Type {
	case transaction.TxTypeCreateProxy:
		err = a.applyCreateProxy(tx, height, r)
	case transaction.TxTypeCall:
		err = a.applyCall(tx, r)
	case transaction.TxTypeCancel:
		err = a.applyCancel(tx, r)
	case transaction.TxTypeSettle, transaction.TxTypeExchange:
		err = a.applySettle(tx, height, r)
	default:
		err = fmt.Errorf("%w: unsupported type %s", transaction.ErrMalformedTx, tx.Type)
	}
	if err != nil {
		r.Failed(err)
		return a.logFailure(r)
	}
	return r
}

func (a *App) logFailure(r *transaction.Receipt) *transaction.Receipt {
	a.logger.Debug("tx_failed",
		zap.Uint64("height", r.Height),
		zap.String("tx", r.TxHash.Hex()),
		zap.String("type", string(r.Type)),
		zap.String("kind", r.ErrorKind),
		zap.String("error", r.Error))
	return r
}

// useNonce enforces strictly increasing account nonces. Caller holds a.mu.
func (a *App) useNonce(addr common.Address, n uint64) error {
	if last := a.accountNonces[addr]; n <= last {
		return fmt.Errorf("%w: nonce %d, last used %d", transaction.ErrStaleNonce, n, last)
	}
	a.accountNonces[addr] = n
	a.dirtyNonces[addr] = struct{}{}
	return nil
}

func (a *App) applyCreateProxy(tx *transaction.SignedTransaction, height uint64, r *transaction.Receipt) error {
	owner, n, err := a.verifier.VerifyCreateProxy(tx)
	if err != nil {
		return err
	}
	r.Accounts = []common.Address{owner}
	if err := a.useNonce(owner, n); err != nil {
		return err
	}
	p, _ := a.engine.CreateProxy(owner, height)
	r.Proxy = &p
	return nil
}

// applyCall runs a direct contract call as the signer. The nonce is spent
// even when the call itself fails.
func (a *App) applyCall(tx *transaction.SignedTransaction, r *transaction.Receipt) error {
	from, err := a.verifier.VerifyCall(tx)
	if err != nil {
		return err
	}
	r.Accounts = []common.Address{from}
	if err := a.useNonce(from, tx.Call.Nonce); err != nil {
		return err
	}

	j := state.NewJournal()
	if err := a.host.Call(j, from, common.HexToAddress(tx.Call.Target), tx.Call.Data); err != nil {
		j.RevertToSnapshot(0)
		return fmt.Errorf("%w: %w", transaction.ErrCallFailed, err)
	}
	j.Commit()
	return nil
}

func (a *App) applyCancel(tx *transaction.SignedTransaction, r *transaction.Receipt) error {
	req, err := a.verifier.DecodeCancel(tx)
	if err != nil {
		return err
	}
	r.Accounts = []common.Address{req.Order.Signer}
	digest, err := a.engine.CancelOrder(req)
	if err != nil {
		return err
	}
	r.Digest = &digest
	return nil
}

func (a *App) applySettle(tx *transaction.SignedTransaction, height uint64, r *transaction.Receipt) error {
	req, err := a.verifier.DecodeSettle(tx)
	if err != nil {
		return err
	}
	r.Accounts = []common.Address{req.Sell.Signer, req.Buy.Signer}
	res, err := a.engine.Settle(req, height)
	if err != nil {
		return err
	}
	r.Settlement = res
	return nil
}
