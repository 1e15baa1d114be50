package transaction

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/uhyunpark/hyperswap/pkg/app/core/nonce"
	"github.com/uhyunpark/hyperswap/pkg/app/core/order"
	"github.com/uhyunpark/hyperswap/pkg/crypto"
)

// NewCreateProxy builds a create_proxy transaction signed by signer
func NewCreateProxy(signer *crypto.Signer, nonce uint64) (*SignedTransaction, error) {
	sig, err := signer.SignPersonal(CreateProxyDigest(signer.Address(), nonce))
	if err != nil {
		return nil, fmt.Errorf("failed to sign create_proxy: %w", err)
	}
	return &SignedTransaction{
		Type:        TxTypeCreateProxy,
		CreateProxy: &CreateProxyPayload{Owner: signer.Address().Hex(), Nonce: nonce},
		Signature:   EncodeSignature(sig),
	}, nil
}

// NewCall builds a call transaction signed by signer
func NewCall(signer *crypto.Signer, target common.Address, data []byte, nonce uint64) (*SignedTransaction, error) {
	sig, err := signer.SignPersonal(CallDigest(signer.Address(), target, data, nonce))
	if err != nil {
		return nil, fmt.Errorf("failed to sign call: %w", err)
	}
	return &SignedTransaction{
		Type: TxTypeCall,
		Call: &CallPayload{
			From:   signer.Address().Hex(),
			Target: target.Hex(),
			Data:   common.CopyBytes(data),
			Nonce:  nonce,
		},
		Signature: EncodeSignature(sig),
	}, nil
}

// NewCancel builds a cancel transaction for o signed by signer. orderSig
// is the signature o was placed with under scheme.
func NewCancel(signer *crypto.Signer, scheme *crypto.DigestScheme, o *order.Order, orderSig []byte) (*SignedTransaction, error) {
	digest, err := scheme.Hash(o)
	if err != nil {
		return nil, err
	}
	sig, err := signer.SignPersonal(nonce.CancelDigest(digest))
	if err != nil {
		return nil, fmt.Errorf("failed to sign cancel: %w", err)
	}
	return &SignedTransaction{
		Type:      TxTypeCancel,
		Cancel:    &CancelPayload{Order: FromOrder(o), Signature: EncodeSignature(orderSig)},
		Signature: EncodeSignature(sig),
	}, nil
}

// NewSettle builds a settle transaction from two signed orders
func NewSettle(sell, buy *order.Order, sigs [2][]byte, runtime [][]byte) *SignedTransaction {
	p := &SettlePayload{
		Sell:       FromOrder(sell),
		Buy:        FromOrder(buy),
		Signatures: [2]string{EncodeSignature(sigs[0]), EncodeSignature(sigs[1])},
	}
	for _, rp := range runtime {
		p.RuntimePayloads = append(p.RuntimePayloads, hexutil.Bytes(common.CopyBytes(rp)))
	}
	return &SignedTransaction{Type: TxTypeSettle, Settle: p}
}
