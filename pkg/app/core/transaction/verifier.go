package transaction

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperswap/pkg/app/core/settlement"
	"github.com/uhyunpark/hyperswap/pkg/crypto"
)

// Verifier checks account signatures and decodes order-bearing payloads
type Verifier struct{}

// NewVerifier creates a new transaction verifier
func NewVerifier() *Verifier {
	return &Verifier{}
}

// VerifyCreateProxy checks the owner's signature over CreateProxyDigest
// Returns (owner address, account nonce, error)
func (v *Verifier) VerifyCreateProxy(tx *SignedTransaction) (common.Address, uint64, error) {
	if tx.Type != TxTypeCreateProxy || tx.CreateProxy == nil {
		return common.Address{}, 0, fmt.Errorf("not a create_proxy transaction")
	}

	owner := common.HexToAddress(tx.CreateProxy.Owner)
	sigBytes, err := decodeSignature(tx.Signature)
	if err != nil {
		return common.Address{}, 0, err
	}

	digest := CreateProxyDigest(owner, tx.CreateProxy.Nonce)
	if !crypto.VerifyPersonal(owner, digest, sigBytes) {
		return common.Address{}, 0, fmt.Errorf("%w: create_proxy not signed by %s", crypto.ErrInvalidSignature, owner.Hex())
	}
	return owner, tx.CreateProxy.Nonce, nil
}

// VerifyCall checks the sender's signature over CallDigest
func (v *Verifier) VerifyCall(tx *SignedTransaction) (common.Address, error) {
	if tx.Type != TxTypeCall || tx.Call == nil {
		return common.Address{}, fmt.Errorf("not a call transaction")
	}

	from := common.HexToAddress(tx.Call.From)
	target := common.HexToAddress(tx.Call.Target)
	sigBytes, err := decodeSignature(tx.Signature)
	if err != nil {
		return common.Address{}, err
	}

	digest := CallDigest(from, target, tx.Call.Data, tx.Call.Nonce)
	if !crypto.VerifyPersonal(from, digest, sigBytes) {
		return common.Address{}, fmt.Errorf("%w: call not signed by %s", crypto.ErrInvalidSignature, from.Hex())
	}
	return from, nil
}

// DecodeCancel converts a cancel transaction into an engine request. Both
// signatures are verified by the nonce ledger, which knows the digest scheme.
func (v *Verifier) DecodeCancel(tx *SignedTransaction) (settlement.CancelRequest, error) {
	if tx.Type != TxTypeCancel || tx.Cancel == nil {
		return settlement.CancelRequest{}, fmt.Errorf("not a cancel transaction")
	}
	o, err := tx.Cancel.Order.ToOrder()
	if err != nil {
		return settlement.CancelRequest{}, err
	}
	orderSig, err := decodeSignature(tx.Cancel.Signature)
	if err != nil {
		return settlement.CancelRequest{}, fmt.Errorf("order signature: %w", err)
	}
	sig, err := decodeSignature(tx.Signature)
	if err != nil {
		return settlement.CancelRequest{}, err
	}
	return settlement.CancelRequest{Order: o, OrderSignature: orderSig, Signature: sig}, nil
}

// DecodeSettle converts a settle or exchange transaction into an engine request
func (v *Verifier) DecodeSettle(tx *SignedTransaction) (settlement.Request, error) {
	p := tx.SettlePayload()
	if p == nil {
		return settlement.Request{}, fmt.Errorf("not a settle transaction")
	}

	sell, err := p.Sell.ToOrder()
	if err != nil {
		return settlement.Request{}, fmt.Errorf("sell order: %w", err)
	}
	buy, err := p.Buy.ToOrder()
	if err != nil {
		return settlement.Request{}, fmt.Errorf("buy order: %w", err)
	}

	req := settlement.Request{Sell: sell, Buy: buy}
	for i, s := range p.Signatures {
		sig, err := decodeSignature(s)
		if err != nil {
			return settlement.Request{}, fmt.Errorf("signature %d: %w", i, err)
		}
		req.Signatures[i] = sig
	}
	for _, rp := range p.RuntimePayloads {
		req.RuntimePayloads = append(req.RuntimePayloads, common.CopyBytes(rp))
	}
	return req, nil
}

// decodeSignature decodes hex-encoded signature (with or without 0x prefix)
func decodeSignature(sig string) ([]byte, error) {
	sig = strings.TrimPrefix(sig, "0x")

	sigBytes, err := hex.DecodeString(sig)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid hex signature: %v", crypto.ErrInvalidSignature, err)
	}

	if len(sigBytes) != 65 {
		return nil, fmt.Errorf("%w: signature must be 65 bytes, got %d", crypto.ErrInvalidSignature, len(sigBytes))
	}

	return sigBytes, nil
}

// EncodeSignature renders a signature the way decodeSignature reads it
func EncodeSignature(sig []byte) string {
	return "0x" + hex.EncodeToString(sig)
}
